package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/identity"
	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/requestid"
	"github.com/example/face-verify/internal/usecase"
)

// Response messages.
const (
	MessageMatch        = "This is YOU!"
	MessageMismatch     = "Not You!"
	MessageNoImage      = "No image provided"
	MessageDecodeFailed = "Failed to decode image"
	MessageNoFace       = "No face detected"
	MessageFailed       = "Face recognition failed"
	MessageTooLarge     = "Image too large"
	MessageNotFound     = "Resource not found"
)

// Verifier decides whether a decoded candidate is the reference person.
type Verifier interface {
	Verify(ctx context.Context, requestID string, candidate *imaging.Frame, ref *identity.Reference) (*usecase.Outcome, error)
}

// Dependencies are the request-independent values handlers need.
type Dependencies struct {
	Reference *identity.Reference
	Logger    *zap.Logger
}

// EndpointInfo describes one registered path.
type EndpointInfo struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
	URL     string   `json:"url"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, verifier Verifier, opts RouterOptions, deps Dependencies) {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/facerecognition", faceRecognition(verifier, opts, deps))

	router.GET("/endpoints", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"endpoints": listEndpoints(router, c.Request)})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": MessageNotFound})
	})
}

func faceRecognition(verifier Verifier, opts RouterOptions, deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID, _ := requestid.Get(c.Request.Context())
		opLogger := logging.WithOperation(deps.Logger, "handlers.face_recognition", reqID)

		if c.Request.ContentLength > opts.MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": MessageTooLarge})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxUploadSize)

		file, err := c.FormFile("image")
		if err != nil {
			if isBodyTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": MessageTooLarge})
				return
			}
			opLogger.Debug("request without image field", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"message": MessageNoImage})
			return
		}

		src, err := file.Open()
		if err != nil {
			opLogger.Warn("unable to open uploaded image", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"message": MessageDecodeFailed})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			opLogger.Warn("unable to read uploaded image", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"message": MessageDecodeFailed})
			return
		}

		frame, err := imaging.DecodeLimited(data, opts.MaxImagePixels)
		if err != nil {
			opLogger.Info("rejected undecodable upload", zap.Error(err), zap.Int("bytes", len(data)))
			c.JSON(http.StatusBadRequest, gin.H{"message": MessageDecodeFailed})
			return
		}

		outcome, err := verifier.Verify(c.Request.Context(), reqID, frame, deps.Reference)
		switch {
		case errors.Is(err, facematch.ErrNoFaceDetected):
			opLogger.Debug("responding no face", logging.ErrorFields(err)...)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": MessageNoFace})
			return
		case err != nil:
			// The caller only gets the generic text.
			opLogger.Debug("responding failure", logging.ErrorFields(err)...)
			c.JSON(http.StatusInternalServerError, gin.H{"message": MessageFailed})
			return
		}

		message := MessageMismatch
		if outcome.Verified {
			message = MessageMatch
		}
		c.JSON(http.StatusOK, gin.H{
			"face_recognition_result": outcome.Verified,
			"message":                 message,
		})
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func listEndpoints(router *gin.Engine, r *http.Request) []EndpointInfo {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	byPath := map[string][]string{}
	for _, route := range router.Routes() {
		byPath[route.Path] = append(byPath[route.Path], route.Method)
	}

	endpoints := make([]EndpointInfo, 0, len(byPath))
	for path, methods := range byPath {
		sort.Strings(methods)
		endpoints = append(endpoints, EndpointInfo{
			Path:    path,
			Methods: methods,
			URL:     scheme + "://" + r.Host + path,
		})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Path < endpoints[j].Path })
	return endpoints
}
