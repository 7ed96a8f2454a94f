// Package audit persists snapshots of candidates that failed verification.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/logging"
)

// Collision policies for records captured within the same second.
const (
	CollisionOverwrite = "overwrite"
	CollisionUnique    = "unique"
)

const maxUniqueSuffix = 1000

// Options configures a Store.
type Options struct {
	Dir         string
	Prefix      string
	TimeLayout  string
	JPEGQuality int
	Collision   string
}

// Record describes one written snapshot.
type Record struct {
	Path       string
	CapturedAt time.Time
}

// Store writes audit snapshots. Records are never updated or removed by it.
type Store struct {
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// NewStore validates opts and makes sure the directory exists.
func NewStore(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Prefix == "" {
		opts.Prefix = "intrus_"
	}
	if opts.TimeLayout == "" {
		opts.TimeLayout = "2006-01-02_15-04-05"
	}
	switch opts.Collision {
	case "":
		opts.Collision = CollisionOverwrite
	case CollisionOverwrite, CollisionUnique:
	default:
		return nil, fmt.Errorf("unknown audit collision policy %q", opts.Collision)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, logging.NewOperationError("audit.init", "", err)
	}
	return &Store{opts: opts, now: time.Now, logger: logger.Named("audit")}, nil
}

// WithClock replaces the capture clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Dir returns the directory records are written to.
func (s *Store) Dir() string { return s.opts.Dir }

// FileName returns the base name used for a capture at t.
func (s *Store) FileName(t time.Time) string {
	return s.opts.Prefix + t.Format(s.opts.TimeLayout) + ".jpg"
}

// Save encodes img as JPEG and writes it under a name derived from the
// current local time, truncated to the second.
func (s *Store) Save(ctx context.Context, img image.Image) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("audit.save", "", err)
	}
	capturedAt := s.now().Local().Truncate(time.Second)

	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, img, s.opts.JPEGQuality); err != nil {
		return nil, logging.NewOperationError("audit.encode", "", err)
	}

	var (
		path string
		err  error
	)
	if s.opts.Collision == CollisionUnique {
		path, err = s.writeUnique(capturedAt, buf.Bytes())
	} else {
		path = filepath.Join(s.opts.Dir, s.FileName(capturedAt))
		err = writeReplace(path, buf.Bytes())
	}
	if err != nil {
		wrapped := logging.NewOperationError("audit.save", "", err)
		s.logger.Error("failed to write audit record", zap.Error(wrapped))
		return nil, wrapped
	}

	s.logger.Info("audit record written", zap.String("path", path), zap.Time("captured_at", capturedAt))
	return &Record{Path: path, CapturedAt: capturedAt}, nil
}

// writeReplace swaps the file in with a rename so a concurrent writer to the
// same name never leaves a torn image; the last rename wins.
func writeReplace(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audit-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) writeUnique(capturedAt time.Time, data []byte) (string, error) {
	base := s.opts.Prefix + capturedAt.Format(s.opts.TimeLayout)
	for n := 0; n < maxUniqueSuffix; n++ {
		name := base + ".jpg"
		if n > 0 {
			name = base + "_" + strconv.Itoa(n) + ".jpg"
		}
		path := filepath.Join(s.opts.Dir, name)
		// #nosec G304 -- name is derived from the configured directory and a timestamp.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free audit name for %s after %d attempts", base, maxUniqueSuffix)
}
