package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/audit"
	"github.com/example/face-verify/internal/config"
	"github.com/example/face-verify/internal/deepface"
	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/grpcclient"
	"github.com/example/face-verify/internal/handlers"
	"github.com/example/face-verify/internal/identity"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/usecase"
)

func main() {
	cfg, err := config.Load(getEnv("FACEVERIFY_CONFIG", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.NewLogger(logging.Options{
		Level:        cfg.Log.Level,
		File:         cfg.Log.File,
		MaxAge:       cfg.Log.MaxAge,
		RotationTime: cfg.Log.RotationTime,
	})
	if err != nil {
		panic(err)
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck

	ref, err := identity.LoadReference(cfg.ReferenceImage)
	if err != nil {
		logger.Fatal("failed to load reference image", zap.Error(err), zap.String("path", cfg.ReferenceImage))
	}
	logger.Info("reference identity loaded",
		zap.String("path", ref.Path),
		zap.Int("width", ref.Frame.Width()),
		zap.Int("height", ref.Frame.Height()),
	)

	store, err := audit.NewStore(audit.Options{
		Dir:         cfg.Audit.Dir,
		Prefix:      cfg.Audit.Prefix,
		TimeLayout:  cfg.Audit.TimeLayout,
		JPEGQuality: cfg.Audit.JPEGQuality,
		Collision:   cfg.Audit.Collision,
	}, logger)
	if err != nil {
		logger.Fatal("failed to prepare audit directory", zap.Error(err))
	}

	matcher, closeMatcher, err := initMatcher(context.Background(), cfg.Matcher, logger)
	if err != nil {
		logger.Fatal("failed to connect to face matcher", zap.Error(err))
	}
	defer closeMatcher.Close()

	uc := usecase.NewVerificationUseCase(matcher, store, facematch.Options{
		ModelName:       cfg.Matcher.ModelName,
		DetectorBackend: cfg.Matcher.DetectorBackend,
	}, cfg.Matcher.Timeout, logger)

	gin.SetMode(gin.ReleaseMode)
	r := handlers.NewRouter(handlers.RouterOptions{
		MaxUploadSize:  cfg.MaxUploadBytes,
		MaxImagePixels: cfg.MaxImagePixels,
		CORSOrigins:    cfg.CORSOrigins,
	}, uc, handlers.Dependencies{Reference: ref, Logger: logger}, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face verification API listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("matcher_backend", cfg.Matcher.Backend),
		zap.String("model", cfg.Matcher.ModelName),
		zap.String("detector", cfg.Matcher.DetectorBackend),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func initMatcher(ctx context.Context, cfg config.MatcherConfig, logger *zap.Logger) (facematch.Matcher, io.Closer, error) {
	switch cfg.Backend {
	case "grpc":
		client, conn, err := grpcclient.DialFaceMatcher(ctx, cfg.Addr, cfg.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, conn, nil
	case "deepface":
		return deepface.NewClient(cfg.Addr, cfg.Timeout, logger), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown matcher backend %q", cfg.Backend)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
