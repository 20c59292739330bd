package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

// FrameHandler receives each generated frame. The handler owns the frame
// until it calls Release; the source's buffer is not rewritten before that.
type FrameHandler func(*types.RawFrame)

// Config defines the synthetic source.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// DefaultConfig returns a 640x480 source at 30fps.
func DefaultConfig() Config {
	return Config{Width: 640, Height: 480, FPS: 30}
}

// Source generates color-bar test frames at a fixed cadence, standing in for
// the camera hardware. It owns a single frame buffer: if the previous frame
// has not been released by the pipeline when the next tick fires, that tick
// is skipped and counted as a stall.
type Source struct {
	cfg     Config
	handler FrameHandler

	bufFree atomic.Bool
	yBuf    []byte
	cBuf    []byte // interleaved chroma, sensor (reverse) pair order

	stalls atomic.Uint64
	frames atomic.Uint64

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

// NewSource creates a synthetic source delivering frames to handler.
func NewSource(cfg Config, handler FrameHandler) *Source {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = DefaultConfig().Width, DefaultConfig().Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultConfig().FPS
	}

	cw, ch := (cfg.Width+1)/2, (cfg.Height+1)/2
	s := &Source{
		cfg:     cfg,
		handler: handler,
		yBuf:    make([]byte, cfg.Width*cfg.Height),
		cBuf:    make([]byte, cw*ch*2),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.bufFree.Store(true)
	return s
}

// Start begins frame generation.
func (s *Source) Start() {
	go s.run()
}

// Stop halts frame generation and waits for the loop to exit.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.stopped {
		close(s.stop)
		s.stopped = true
	}
	s.mu.Unlock()
	<-s.done
}

// Stalls reports how many ticks were skipped because the previous frame was
// still held by the pipeline.
func (s *Source) Stalls() uint64 {
	return s.stalls.Load()
}

func (s *Source) run() {
	defer close(s.done)

	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Capture", "Synthetic source running (%dx%d @ %dfps)",
		s.cfg.Width, s.cfg.Height, s.cfg.FPS)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.bufFree.CompareAndSwap(true, false) {
				// Previous frame still out; the camera cannot wait.
				s.stalls.Add(1)
				continue
			}
			n := s.frames.Add(1)
			s.renderBars(n)
			s.handler(s.frame())
		}
	}
}

// frame wraps the current buffers in a RawFrame. The chroma buffer holds
// interleaved samples in the sensor's reverse pair order (Cr first), so the
// Cb descriptor starts one byte in; both walk the buffer at step 2.
func (s *Source) frame() *types.RawFrame {
	w, h := s.cfg.Width, s.cfg.Height
	cw := (w + 1) / 2

	y := types.Plane{Data: s.yBuf, RowStride: w, PixelStride: 1}
	cr := types.Plane{Data: s.cBuf, RowStride: cw * 2, PixelStride: 2}
	cb := types.Plane{Data: s.cBuf[1:], RowStride: cw * 2, PixelStride: 2}

	return types.NewRawFrame(types.FormatYUV420, w, h, y, cb, cr, time.Now(), func() {
		s.bufFree.Store(true)
	})
}

// barColors holds the SMPTE-ish bar colors as Y/Cb/Cr triplets:
// white, yellow, cyan, green, magenta, red, blue, black.
var barColors = [8][3]byte{
	{235, 128, 128},
	{210, 16, 146},
	{170, 166, 16},
	{145, 54, 34},
	{106, 202, 222},
	{81, 90, 240},
	{41, 240, 110},
	{16, 128, 128},
}

// renderBars draws vertical color bars with a moving seam so consecutive
// frames differ (lets the receiver's FPS math see real motion).
func (s *Source) renderBars(frameNum uint64) {
	w, h := s.cfg.Width, s.cfg.Height
	cw, ch := (w+1)/2, (h+1)/2
	barWidth := w / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := int(frameNum) % w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bar := ((x + shift) / barWidth) % len(barColors)
			s.yBuf[y*w+x] = barColors[bar][0]
		}
	}
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			bar := ((x*2 + shift) / barWidth) % len(barColors)
			// Sensor order: Cr sample first, Cb second.
			s.cBuf[y*cw*2+x*2] = barColors[bar][2]
			s.cBuf[y*cw*2+x*2+1] = barColors[bar][1]
		}
	}
}

// SolidFrame builds a one-off frame of a single YCbCr color in the same
// sensor layout the synthetic source uses. Intended for tests and warm-up.
func SolidFrame(w, h int, yv, cb, cr byte) *types.RawFrame {
	cw, ch := (w+1)/2, (h+1)/2
	yBuf := make([]byte, w*h)
	cBuf := make([]byte, cw*ch*2)
	for i := range yBuf {
		yBuf[i] = yv
	}
	for i := 0; i < len(cBuf); i += 2 {
		cBuf[i] = cr
		cBuf[i+1] = cb
	}

	yp := types.Plane{Data: yBuf, RowStride: w, PixelStride: 1}
	crp := types.Plane{Data: cBuf, RowStride: cw * 2, PixelStride: 2}
	cbp := types.Plane{Data: cBuf[1:], RowStride: cw * 2, PixelStride: 2}
	return types.NewRawFrame(types.FormatYUV420, w, h, yp, cbp, crp, time.Now(), nil)
}
