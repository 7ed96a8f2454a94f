package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/requestid"
)

// DefaultMaxUploadSize caps the request body of an upload.
const DefaultMaxUploadSize = 10 << 20

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	MaxUploadSize int64
	// MaxImagePixels bounds width*height of an accepted upload.
	MaxImagePixels int64
	// CORSOrigins lists allowed origins; empty allows any origin.
	CORSOrigins []string
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = DefaultMaxUploadSize
	}
	if o.MaxImagePixels <= 0 {
		o.MaxImagePixels = imaging.DefaultMaxPixels
	}
	return o
}

// NewRouter builds a gin engine with the service middleware and routes.
func NewRouter(opts RouterOptions, verifier Verifier, deps Dependencies, logger *zap.Logger) *gin.Engine {
	opts = opts.withDefaults()

	router := gin.New()
	router.MaxMultipartMemory = opts.MaxUploadSize
	router.Use(
		requestid.Middleware(),
		AccessLog(logger),
		gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
			logger.Error("panic while handling request", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		}),
		cors.New(corsConfig(opts.CORSOrigins)),
	)

	RegisterRoutes(router, verifier, opts, deps)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", requestid.Header},
		ExposeHeaders: []string{requestid.Header},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		id, _ := requestid.Get(c.Request.Context())
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", id),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}
