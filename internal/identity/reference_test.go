package identity

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/face-verify/internal/imaging"
)

func TestLoadReference(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "reference.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ref, err := LoadReference(path)
	if err != nil {
		t.Fatalf("expected reference, got error: %v", err)
	}
	if ref.Path != path {
		t.Fatalf("unexpected path %s", ref.Path)
	}
	if !bytes.Equal(ref.Raw(), buf.Bytes()) {
		t.Fatal("expected raw bytes to match file contents")
	}
	matchImage, err := ref.MatchImage()
	if err != nil {
		t.Fatalf("match image: %v", err)
	}
	built, err := ref.Frame.PNG()
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if !bytes.Equal(matchImage, built) {
		t.Fatal("expected the precomputed encoding to equal the frame encoding")
	}
	if ref.Frame.Width() != 3 || ref.Frame.Height() != 2 {
		t.Fatalf("unexpected size %dx%d", ref.Frame.Width(), ref.Frame.Height())
	}
}

func TestLoadReferenceMissingFile(t *testing.T) {
	_, err := LoadReference(filepath.Join(t.TempDir(), "missing.jpg"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadReferenceUndecodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadReference(path)
	if !errors.Is(err, imaging.ErrDecodeFailure) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}
