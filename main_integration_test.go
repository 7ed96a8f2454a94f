package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/audit"
	"github.com/example/face-verify/internal/config"
	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/handlers"
	"github.com/example/face-verify/internal/identity"
	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/usecase"
)

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	matcher := facematch.MatcherFunc(func(ctx context.Context, req facematch.Request) (*facematch.Result, error) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		return &facematch.Result{Verified: bytes.Equal(req.Candidate, req.Reference)}, nil
	})

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := imaging.Decode(img.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	store, err := audit.NewStore(audit.Options{Dir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("audit store: %v", err)
	}
	uc := usecase.NewVerificationUseCase(matcher, store, facematch.Options{ModelName: "VGG-Face", DetectorBackend: "mtcnn"}, 0, logger)
	router := handlers.NewRouter(handlers.RouterOptions{}, uc, handlers.Dependencies{
		Reference: &identity.Reference{Path: "reference.png", Frame: frame},
		Logger:    logger,
	}, logger)

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(img.Bytes()); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Post("http://"+addr+"/facerecognition", writer.FormDataContentType(), &body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(raw))
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload["face_recognition_result"] != true || payload["message"] != handlers.MessageMatch {
			t.Fatalf("unexpected payload %v", payload)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestInitMatcherSelectsBackend(t *testing.T) {
	cfg := config.Default().Matcher

	matcher, closer, err := initMatcher(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("expected deepface client, got %v", err)
	}
	if matcher == nil || closer.Close() != nil {
		t.Fatal("expected usable matcher and closer")
	}

	cfg.Backend = "carrier-pigeon"
	if _, _, err := initMatcher(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
