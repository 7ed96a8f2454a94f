// Package facematch describes the contract of the external face matching
// capability. Detection, embedding, distance and the match threshold all live
// behind Matcher; callers only see the verdict.
package facematch

import (
	"context"
	"errors"
)

// ErrNoFaceDetected reports that the matcher could not find a face in one of
// the images. Backends return it only when they can tell this apart from other
// failures.
var ErrNoFaceDetected = errors.New("facematch: no face detected")

// Options selects the comparison model and face localization method.
type Options struct {
	ModelName       string
	DetectorBackend string
}

// Request carries the two encoded images to compare.
type Request struct {
	Candidate []byte
	Reference []byte
	Options
}

// Result contains the outcome returned by the matcher.
type Result struct {
	Verified         bool
	Distance         float64
	Threshold        float64
	Model            string
	DetectorBackend  string
	SimilarityMetric string
}

// Matcher compares a candidate image against a reference image.
type Matcher interface {
	Verify(ctx context.Context, req Request) (*Result, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, req Request) (*Result, error)

// Verify calls f.
func (f MatcherFunc) Verify(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
