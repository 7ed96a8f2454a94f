package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 13), G: uint8(y * 29), B: uint8((x + y) * 7), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeReencodeIsStable(t *testing.T) {
	raw := samplePNG(t, 17, 9)

	first, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Format != "png" || first.Width() != 17 || first.Height() != 9 {
		t.Fatalf("unexpected frame: format=%s %dx%d", first.Format, first.Width(), first.Height())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, first.Image); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	second, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if !bytes.Equal(first.Image.Pix, second.Image.Pix) {
		t.Fatal("expected identical pixels after re-encode")
	}
}

func TestDecodeIsDeterministicForJPEG(t *testing.T) {
	src, err := Decode(samplePNG(t, 8, 8))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, src.Image, 0); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	a, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	b, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}
	if a.Format != "jpeg" || !bytes.Equal(a.Image.Pix, b.Image.Pix) {
		t.Fatal("expected deterministic jpeg decode")
	}
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"text":      []byte("hello, this is a plain text file\n"),
		"truncated": samplePNG(t, 4, 4)[:20],
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			if !errors.Is(err, ErrDecodeFailure) {
				t.Fatalf("expected ErrDecodeFailure, got %v", err)
			}
		})
	}
}

func TestDecodeDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	frame, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := frame.Image.RGBAAt(0, 0)
	if got != (color.RGBA{A: 255}) {
		t.Fatalf("expected transparent pixel to become opaque black, got %+v", got)
	}
}

func TestDecodeNetpbm(t *testing.T) {
	raw := append([]byte("P6\n2 1\n255\n"), 255, 0, 0, 0, 0, 255)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode ppm: %v", err)
	}
	if frame.Width() != 2 || frame.Height() != 1 {
		t.Fatalf("unexpected size %dx%d", frame.Width(), frame.Height())
	}
	if got := frame.Image.RGBAAt(1, 0); got != (color.RGBA{B: 255, A: 255}) {
		t.Fatalf("unexpected pixel %+v", got)
	}
}

// forgePNGSize rewrites the IHDR dimensions of a valid PNG and fixes its CRC,
// leaving the tiny pixel payload untouched.
func forgePNGSize(t *testing.T, width, height uint32) []byte {
	t.Helper()
	raw := samplePNG(t, 1, 1)
	if string(raw[12:16]) != "IHDR" {
		t.Fatalf("unexpected chunk layout %q", raw[12:16])
	}
	binary.BigEndian.PutUint32(raw[16:20], width)
	binary.BigEndian.PutUint32(raw[20:24], height)
	binary.BigEndian.PutUint32(raw[29:33], crc32.ChecksumIEEE(raw[12:29]))
	return raw
}

func TestDecodeRejectsOversizedHeaderBeforeAllocating(t *testing.T) {
	raw := forgePNGSize(t, 60000, 60000)

	_, err := Decode(raw)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected pixel budget error, got %v", err)
	}
}

func TestDecodeLimitedHonorsBudget(t *testing.T) {
	raw := samplePNG(t, 10, 10)

	if _, err := DecodeLimited(raw, 99); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected rejection over budget, got %v", err)
	}
	if _, err := DecodeLimited(raw, 100); err != nil {
		t.Fatalf("expected image at budget to decode, got %v", err)
	}
}

func TestFramePNGIsLosslessAndStable(t *testing.T) {
	frame, err := Decode(samplePNG(t, 5, 3))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	first, err := frame.PNG()
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	second, err := frame.PNG()
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected identical encodings of the same frame")
	}

	back, err := Decode(first)
	if err != nil {
		t.Fatalf("decode encoded frame: %v", err)
	}
	if back.Format != "png" || !bytes.Equal(back.Image.Pix, frame.Image.Pix) {
		t.Fatal("expected PNG encoding to preserve pixels")
	}
}
