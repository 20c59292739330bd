package encoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/capture"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

func newTestEncoder(t *testing.T, cfg Config) *Encoder {
	t.Helper()
	enc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return enc
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Quality: 0, MaxBytes: 1024}); err == nil {
		t.Fatalf("expected error for quality 0")
	}
	if _, err := New(Config{Quality: 101, MaxBytes: 1024}); err == nil {
		t.Fatalf("expected error for quality 101")
	}
	if _, err := New(Config{Quality: 80, MaxBytes: 0}); err == nil {
		t.Fatalf("expected error for zero ceiling")
	}
}

func TestEncodeSolidColorRoundTrip(t *testing.T) {
	enc := newTestEncoder(t, DefaultConfig())

	// A saturated red-ish color with clearly distinct chroma values so a
	// Cb/Cr swap would be caught.
	const yv, cb, cr = 81, 90, 240
	frame := capture.SolidFrame(64, 48, yv, cb, cr)

	out, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out.Size() == 0 {
		t.Fatalf("empty payload")
	}

	img, err := jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	wantR, wantG, wantB := color.YCbCrToRGB(yv, cb, cr)
	r, g, b, _ := img.At(32, 24).RGBA()
	gotR, gotG, gotB := uint8(r>>8), uint8(g>>8), uint8(b>>8)

	const tol = 12
	if absDiff(gotR, wantR) > tol || absDiff(gotG, wantG) > tol || absDiff(gotB, wantB) > tol {
		t.Fatalf("dominant color drifted: got (%d,%d,%d) want (%d,%d,%d)",
			gotR, gotG, gotB, wantR, wantG, wantB)
	}
}

func TestEncodePackedAndInterleavedAgree(t *testing.T) {
	enc := newTestEncoder(t, DefaultConfig())

	const w, h = 32, 32
	const yv, cb, cr = 120, 60, 180

	interleaved := capture.SolidFrame(w, h, yv, cb, cr)

	// Same color as packed I420: three separate planes, pixel step 1.
	cw, ch := w/2, h/2
	yBuf := make([]byte, w*h)
	cbBuf := make([]byte, cw*ch)
	crBuf := make([]byte, cw*ch)
	for i := range yBuf {
		yBuf[i] = yv
	}
	for i := range cbBuf {
		cbBuf[i] = cb
		crBuf[i] = cr
	}
	packed := types.NewRawFrame(types.FormatYUV420, w, h,
		types.Plane{Data: yBuf, RowStride: w, PixelStride: 1},
		types.Plane{Data: cbBuf, RowStride: cw, PixelStride: 1},
		types.Plane{Data: crBuf, RowStride: cw, PixelStride: 1},
		time.Now(), nil)

	a, err := enc.Encode(interleaved)
	if err != nil {
		t.Fatalf("encode interleaved: %v", err)
	}
	b, err := enc.Encode(packed)
	if err != nil {
		t.Fatalf("encode packed: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatalf("packed and interleaved layouts produced different payloads")
	}
}

func TestEncodeRespectsSizeCeiling(t *testing.T) {
	enc := newTestEncoder(t, Config{Quality: 80, MaxBytes: 128})

	frame := capture.SolidFrame(320, 240, 128, 128, 128)
	if _, err := enc.Encode(frame); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncodeJPEGPassthrough(t *testing.T) {
	enc := newTestEncoder(t, DefaultConfig())

	var buf bytes.Buffer
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("prep jpeg: %v", err)
	}
	payload := buf.Bytes()

	frame := types.NewRawFrame(types.FormatJPEG, 8, 8,
		types.Plane{Data: payload, RowStride: 1, PixelStride: 1},
		types.Plane{}, types.Plane{}, time.Now(), nil)

	out, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(out.Data, payload) {
		t.Fatalf("passthrough altered payload")
	}

	// The source buffer may be reused after encode returns; the output must
	// not alias it.
	payload[0] = 0
	if out.Data[0] == 0 {
		t.Fatalf("passthrough retained a reference into the input buffer")
	}
}

func TestEncodePassthroughCeiling(t *testing.T) {
	enc := newTestEncoder(t, Config{Quality: 80, MaxBytes: 1 << 20})

	// 2 MiB payload against a 1 MiB ceiling.
	frame := types.NewRawFrame(types.FormatJPEG, 1920, 1080,
		types.Plane{Data: make([]byte, 2<<20), RowStride: 1, PixelStride: 1},
		types.Plane{}, types.Plane{}, time.Now(), nil)

	if _, err := enc.Encode(frame); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncodeRejectsTruncatedPlanes(t *testing.T) {
	enc := newTestEncoder(t, DefaultConfig())

	frame := capture.SolidFrame(64, 64, 128, 128, 128)
	frame.Y.Data = frame.Y.Data[:16]
	if _, err := enc.Encode(frame); err == nil {
		t.Fatalf("expected error for truncated luma plane")
	}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
