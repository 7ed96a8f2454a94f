package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/logging"
)

// DialFaceMatcher returns a ready-to-use gRPC face matcher client.
func DialFaceMatcher(ctx context.Context, addr string, dialTimeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (facematch.Matcher, *grpc.ClientConn, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_matcher", "", err)
		logger.Error("failed to dial face matcher", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewFaceMatcher(conn, logger), conn, nil
}

// NewFaceMatcher wraps an existing connection.
func NewFaceMatcher(conn grpc.ClientConnInterface, logger *zap.Logger) facematch.Matcher {
	return &grpcFaceMatcher{conn: conn, logger: logger.Named("grpc_face_matcher")}
}

type grpcFaceMatcher struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcFaceMatcher) Verify(ctx context.Context, req facematch.Request) (*facematch.Result, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_request", "", err)
	}

	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, VerifyMethod, in, out); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			g.logger.Info("face matcher found no face", zap.String("detail", status.Convert(err).Message()))
			return nil, logging.NewOperationError("grpcclient.verify", "", fmt.Errorf("%w: %s", facematch.ErrNoFaceDetected, status.Convert(err).Message()))
		}
		wrapped := logging.NewOperationError("grpcclient.verify", "", err)
		g.logger.Error("face matcher call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	result, err := DecodeResult(out)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_result", "", err)
	}
	return result, nil
}

// EncodeRequest converts a match request into its wire form.
func EncodeRequest(req facematch.Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"candidate":        base64.StdEncoding.EncodeToString(req.Candidate),
		"reference":        base64.StdEncoding.EncodeToString(req.Reference),
		"model_name":       req.ModelName,
		"detector_backend": req.DetectorBackend,
	})
}

// DecodeRequest is the server side inverse of EncodeRequest.
func DecodeRequest(in *structpb.Struct) (facematch.Request, error) {
	fields := in.GetFields()
	candidate, err := base64.StdEncoding.DecodeString(fields["candidate"].GetStringValue())
	if err != nil {
		return facematch.Request{}, fmt.Errorf("candidate: %w", err)
	}
	reference, err := base64.StdEncoding.DecodeString(fields["reference"].GetStringValue())
	if err != nil {
		return facematch.Request{}, fmt.Errorf("reference: %w", err)
	}
	return facematch.Request{
		Candidate: candidate,
		Reference: reference,
		Options: facematch.Options{
			ModelName:       fields["model_name"].GetStringValue(),
			DetectorBackend: fields["detector_backend"].GetStringValue(),
		},
	}, nil
}

// EncodeResult converts a match result into its wire form.
func EncodeResult(res *facematch.Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"verified":          res.Verified,
		"distance":          res.Distance,
		"threshold":         res.Threshold,
		"model":             res.Model,
		"detector_backend":  res.DetectorBackend,
		"similarity_metric": res.SimilarityMetric,
	})
}

// DecodeResult reads a result, rejecting payloads without a verdict.
func DecodeResult(out *structpb.Struct) (*facematch.Result, error) {
	fields := out.GetFields()
	verified, ok := fields["verified"].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, fmt.Errorf("result has no verified field")
	}
	return &facematch.Result{
		Verified:         verified.BoolValue,
		Distance:         fields["distance"].GetNumberValue(),
		Threshold:        fields["threshold"].GetNumberValue(),
		Model:            fields["model"].GetStringValue(),
		DetectorBackend:  fields["detector_backend"].GetStringValue(),
		SimilarityMetric: fields["similarity_metric"].GetStringValue(),
	}, nil
}
