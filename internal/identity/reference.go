// Package identity holds the single enrolled reference person.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/face-verify/internal/imaging"
)

// Reference is the one identity the service recognizes. It is loaded once and
// never mutated; replace the file and restart to change it.
//
// Encoded is the PNG form of Frame sent to the matcher, computed at load.
type Reference struct {
	Path    string
	Frame   *imaging.Frame
	Encoded []byte
}

// Raw returns the encoded reference image as read from disk.
func (r *Reference) Raw() []byte {
	return r.Frame.Raw
}

// MatchImage returns the lossless encoding of the decoded reference.
func (r *Reference) MatchImage() ([]byte, error) {
	if r.Encoded != nil {
		return r.Encoded, nil
	}
	return r.Frame.PNG()
}

// LoadReference reads and decodes the reference image at path.
func LoadReference(path string) (*Reference, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve reference path %q: %w", path, err)
	}
	// #nosec G304 -- path comes from operator configuration.
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read reference image: %w", err)
	}
	frame, err := imaging.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("reference image %s: %w", abs, err)
	}
	encoded, err := frame.PNG()
	if err != nil {
		return nil, fmt.Errorf("encode reference image: %w", err)
	}
	return &Reference{Path: abs, Frame: frame, Encoded: encoded}, nil
}
