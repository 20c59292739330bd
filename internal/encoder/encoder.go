package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

// ErrFrameTooLarge marks a frame whose compressed payload exceeds the
// configured ceiling. The frame is skipped, never truncated.
var ErrFrameTooLarge = errors.New("encoded frame exceeds size ceiling")

// Config defines encoder behavior.
type Config struct {
	Quality  int // JPEG quality factor, 1-100
	MaxBytes int // payload size ceiling in bytes
}

// DefaultConfig returns the encoder defaults (quality 80, 1 MiB ceiling).
func DefaultConfig() Config {
	return Config{
		Quality:  80,
		MaxBytes: 1 << 20,
	}
}

// Encoder converts raw sensor frames into JPEG payloads.
type Encoder struct {
	cfg Config
}

// New creates an Encoder. Malformed configuration is a startup fault.
func New(cfg Config) (*Encoder, error) {
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return nil, fmt.Errorf("quality must be in [1,100], got %d", cfg.Quality)
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", cfg.MaxBytes)
	}
	return &Encoder{cfg: cfg}, nil
}

// Encode converts a raw frame into a compressed payload. Already-compressed
// frames pass through unchanged (copied, so the source buffer can be reused).
// The encoder finishes reading the input planes before returning and keeps no
// references into them.
func (e *Encoder) Encode(frame *types.RawFrame) (*types.EncodedFrame, error) {
	if frame == nil {
		return nil, errors.New("nil frame")
	}

	switch frame.Format {
	case types.FormatJPEG:
		return e.passthrough(frame)
	case types.FormatYUV420:
		return e.encodePlanar(frame)
	default:
		logger.Warn("Encoder", "Unsupported pixel format %v, attempting planar conversion", frame.Format)
		return e.encodePlanar(frame)
	}
}

func (e *Encoder) passthrough(frame *types.RawFrame) (*types.EncodedFrame, error) {
	if len(frame.Y.Data) == 0 {
		return nil, errors.New("empty compressed payload")
	}
	if len(frame.Y.Data) > e.cfg.MaxBytes {
		return nil, ErrFrameTooLarge
	}

	data := make([]byte, len(frame.Y.Data))
	copy(data, frame.Y.Data)

	return &types.EncodedFrame{
		Data:      data,
		Timestamp: frame.Timestamp,
	}, nil
}

func (e *Encoder) encodePlanar(frame *types.RawFrame) (*types.EncodedFrame, error) {
	img, err := planarToYCbCr(frame)
	if err != nil {
		return nil, fmt.Errorf("plane conversion: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	if buf.Len() > e.cfg.MaxBytes {
		return nil, ErrFrameTooLarge
	}

	return &types.EncodedFrame{
		Data:      buf.Bytes(),
		Timestamp: frame.Timestamp,
	}, nil
}

// planarToYCbCr repacks sensor planes into a 4:2:0 YCbCr image. Chroma
// elements are walked at each plane's pixel step: a step of 1 means the plane
// is already packed and rows are copied directly; a larger step means the
// samples are interleaved (NV12/NV21) and are re-packed one by one. Reading
// Cb and Cr through their own plane descriptors is what restores the chroma
// pair order the sensor reports reversed.
func planarToYCbCr(frame *types.RawFrame) (*image.YCbCr, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}

	cw, ch := (w+1)/2, (h+1)/2
	if err := checkPlane(frame.Y, w, h, "Y"); err != nil {
		return nil, err
	}
	if err := checkPlane(frame.Cb, cw, ch, "Cb"); err != nil {
		return nil, err
	}
	if err := checkPlane(frame.Cr, cw, ch, "Cr"); err != nil {
		return nil, err
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)

	copyPlane(img.Y, img.YStride, frame.Y, w, h)
	copyPlane(img.Cb, img.CStride, frame.Cb, cw, ch)
	copyPlane(img.Cr, img.CStride, frame.Cr, cw, ch)

	return img, nil
}

func copyPlane(dst []byte, dstStride int, src types.Plane, w, h int) {
	if src.PixelStride == 1 {
		for row := 0; row < h; row++ {
			copy(dst[row*dstStride:row*dstStride+w], src.Data[row*src.RowStride:])
		}
		return
	}
	for row := 0; row < h; row++ {
		srcRow := row * src.RowStride
		dstRow := row * dstStride
		for col := 0; col < w; col++ {
			dst[dstRow+col] = src.Data[srcRow+col*src.PixelStride]
		}
	}
}

func checkPlane(p types.Plane, w, h int, name string) error {
	if p.PixelStride <= 0 || p.RowStride <= 0 {
		return fmt.Errorf("%s plane: invalid strides (row=%d pixel=%d)", name, p.RowStride, p.PixelStride)
	}
	need := (h-1)*p.RowStride + (w-1)*p.PixelStride + 1
	if len(p.Data) < need {
		return fmt.Errorf("%s plane: %d bytes, need %d", name, len(p.Data), need)
	}
	return nil
}
