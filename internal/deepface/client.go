// Package deepface talks to a DeepFace REST server.
package deepface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/logging"
)

const maxErrorBody = 64 << 10

type verifyRequest struct {
	Img1            string `json:"img1"`
	Img1Path        string `json:"img1_path"`
	Img2            string `json:"img2"`
	Img2Path        string `json:"img2_path"`
	ModelName       string `json:"model_name,omitempty"`
	DetectorBackend string `json:"detector_backend,omitempty"`
}

type verifyResponse struct {
	Verified         *bool   `json:"verified"`
	Distance         float64 `json:"distance"`
	Threshold        float64 `json:"threshold"`
	Model            string  `json:"model"`
	DetectorBackend  string  `json:"detector_backend"`
	SimilarityMetric string  `json:"similarity_metric"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client calls POST /verify on a DeepFace server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for baseURL. A zero timeout leaves the request
// without a deadline.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("deepface"),
	}
}

// Verify implements facematch.Matcher.
func (c *Client) Verify(ctx context.Context, req facematch.Request) (*facematch.Result, error) {
	candidate := facematch.DataURL(req.Candidate)
	reference := facematch.DataURL(req.Reference)
	body, err := json.Marshal(verifyRequest{
		Img1:            candidate,
		Img1Path:        candidate,
		Img2:            reference,
		Img2Path:        reference,
		ModelName:       req.ModelName,
		DetectorBackend: req.DetectorBackend,
	})
	if err != nil {
		return nil, logging.NewOperationError("deepface.encode_request", "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, logging.NewOperationError("deepface.build_request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		wrapped := logging.NewOperationError("deepface.verify", "", err)
		c.logger.Error("deepface call failed", zap.Error(wrapped), zap.String("url", c.baseURL))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, logging.NewOperationError("deepface.decode_response", "", err)
	}
	if payload.Verified == nil {
		return nil, logging.NewOperationError("deepface.decode_response", "", fmt.Errorf("response has no verified field"))
	}

	return &facematch.Result{
		Verified:         *payload.Verified,
		Distance:         payload.Distance,
		Threshold:        payload.Threshold,
		Model:            payload.Model,
		DetectorBackend:  payload.DetectorBackend,
		SimilarityMetric: payload.SimilarityMetric,
	}, nil
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Error != "" {
			msg = parsed.Error
		} else if parsed.Message != "" {
			msg = parsed.Message
		}
	}

	if facematch.IsNoFaceMessage(msg) {
		c.logger.Info("deepface found no face", zap.Int("status", resp.StatusCode), zap.String("detail", msg))
		return logging.NewOperationError("deepface.verify", "", fmt.Errorf("%w: %s", facematch.ErrNoFaceDetected, msg))
	}

	err := fmt.Errorf("deepface returned %d: %s", resp.StatusCode, msg)
	c.logger.Error("deepface rejected request", zap.Error(err))
	return logging.NewOperationError("deepface.verify", "", err)
}
