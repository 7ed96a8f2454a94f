// Package imaging turns uploaded bytes into pixel frames and back.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"

	_ "github.com/spakin/netpbm"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality mirrors the quality OpenCV uses when writing JPEG files.
const DefaultJPEGQuality = 95

// DefaultMaxPixels bounds width*height of an image Decode will allocate.
const DefaultMaxPixels = 1 << 26

// ErrDecodeFailure is returned when bytes are not a decodable image.
var ErrDecodeFailure = errors.New("imaging: failed to decode image")

// Frame is a decoded image together with the bytes it was decoded from.
type Frame struct {
	// Image is an opaque 8-bit RGB image. Any alpha channel in the source is
	// composited onto black.
	Image  *image.RGBA
	Format string
	Raw    []byte
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Decode interprets raw as an encoded image of at most DefaultMaxPixels
// pixels. The result depends only on the bytes given.
func Decode(raw []byte) (*Frame, error) {
	return DecodeLimited(raw, DefaultMaxPixels)
}

// DecodeLimited is Decode with an explicit pixel budget. The header is read
// first so oversized images are rejected before any pixel buffer exists.
func DecodeLimited(raw []byte, maxPixels int64) (*Frame, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecodeFailure)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecodeFailure)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecodeFailure, cfg.Width, cfg.Height, maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecodeFailure)
	}

	return &Frame{Image: toRGB(src), Format: format, Raw: raw}, nil
}

func toRGB(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}

// PNG encodes the decoded pixels losslessly. Equal frames give equal bytes.
func (f *Frame) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG writes img to w as a baseline JPEG.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}
