package usecase

import (
	"context"
	"errors"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/audit"
	"github.com/example/face-verify/internal/facematch"
	"github.com/example/face-verify/internal/identity"
	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/logging"
)

var (
	// ErrMatcherFailure wraps any failure of the face matcher other than a
	// missing face, including a missing result.
	ErrMatcherFailure = errors.New("face matcher failed")
	// ErrAuditFailure wraps a failed audit snapshot write.
	ErrAuditFailure = errors.New("audit snapshot failed")
)

// AuditWriter persists snapshots of rejected candidates.
type AuditWriter interface {
	Save(ctx context.Context, img image.Image) (*audit.Record, error)
}

// Outcome is the verdict for one candidate.
type Outcome struct {
	RequestID        string
	Verified         bool
	Distance         float64
	Threshold        float64
	Model            string
	DetectorBackend  string
	SimilarityMetric string
	Reference        *identity.Reference
	// Audit is set only when the candidate was rejected.
	Audit *audit.Record
}

// VerificationUseCase decides whether a candidate is the reference person.
type VerificationUseCase struct {
	matcher facematch.Matcher
	audit   AuditWriter
	options facematch.Options
	timeout time.Duration
	logger  *zap.Logger
}

// NewVerificationUseCase constructs a new use case instance. A zero timeout
// leaves the matcher call without a deadline.
func NewVerificationUseCase(matcher facematch.Matcher, auditWriter AuditWriter, options facematch.Options, timeout time.Duration, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		matcher: matcher,
		audit:   auditWriter,
		options: options,
		timeout: timeout,
		logger:  logger.Named("verification_usecase"),
	}
}

// Verify compares candidate against ref once. Both images reach the matcher as
// lossless PNG encodings of their decoded frames. A rejected candidate is
// written to the audit store before Verify returns; nothing is written on
// error.
func (uc *VerificationUseCase) Verify(ctx context.Context, requestID string, candidate *imaging.Frame, ref *identity.Reference) (*Outcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", requestID)

	matchCtx := ctx
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		matchCtx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	candidateImage, err := candidate.PNG()
	if err != nil {
		wrapped := logging.NewOperationError("usecase.encode_candidate", requestID, errors.Join(ErrMatcherFailure, err))
		opLogger.Error("failed to encode candidate", zap.Error(wrapped))
		return nil, wrapped
	}
	referenceImage, err := ref.MatchImage()
	if err != nil {
		wrapped := logging.NewOperationError("usecase.encode_reference", requestID, errors.Join(ErrMatcherFailure, err))
		opLogger.Error("failed to encode reference", zap.Error(wrapped))
		return nil, wrapped
	}

	started := time.Now()
	result, err := uc.matcher.Verify(matchCtx, facematch.Request{
		Candidate: candidateImage,
		Reference: referenceImage,
		Options:   uc.options,
	})
	latency := time.Since(started)

	if errors.Is(err, facematch.ErrNoFaceDetected) {
		opLogger.Info("no face detected", zap.Error(err), zap.Duration("latency", latency))
		return nil, logging.NewOperationError("usecase.match", requestID, err)
	}
	if err != nil {
		wrapped := logging.NewOperationError("usecase.match", requestID, errors.Join(ErrMatcherFailure, err))
		opLogger.Error("face matching failed", zap.Error(wrapped), zap.Duration("latency", latency))
		return nil, wrapped
	}
	if result == nil {
		wrapped := logging.NewOperationError("usecase.match", requestID, errors.Join(ErrMatcherFailure, errors.New("matcher returned no result")))
		opLogger.Error("face matching failed", zap.Error(wrapped))
		return nil, wrapped
	}

	outcome := &Outcome{
		RequestID:        requestID,
		Verified:         result.Verified,
		Distance:         result.Distance,
		Threshold:        result.Threshold,
		Model:            result.Model,
		DetectorBackend:  result.DetectorBackend,
		SimilarityMetric: result.SimilarityMetric,
		Reference:        ref,
	}
	fields := []zap.Field{
		zap.Bool("verified", outcome.Verified),
		zap.Float64("distance", outcome.Distance),
		zap.Float64("threshold", outcome.Threshold),
		zap.Duration("latency", latency),
	}

	if outcome.Verified {
		opLogger.Info("candidate matches reference", fields...)
		return outcome, nil
	}

	// Once rejected, the snapshot is written even if the caller has gone away.
	record, err := uc.audit.Save(context.WithoutCancel(ctx), candidate.Image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.audit", requestID, errors.Join(ErrAuditFailure, err))
		opLogger.Error("failed to persist audit snapshot", zap.Error(wrapped))
		return nil, wrapped
	}
	outcome.Audit = record
	opLogger.Warn("candidate rejected", append(fields, zap.String("audit_path", record.Path))...)
	return outcome, nil
}
