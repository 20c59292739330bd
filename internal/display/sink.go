package display

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
)

// Frame is one decoded frame as exposed by the receiver's current-frame slot.
type Frame struct {
	Image     image.Image
	Number    uint64
	Timestamp time.Time
}

// Source provides the most recent decoded frame. Reads are cheap and never
// block the ingest path.
type Source interface {
	CurrentFrame() (Frame, bool)
}

// Config defines the display sink cadence and output quality.
type Config struct {
	Interval time.Duration // poll/render cadence
	Quality  int           // JPEG quality for the rendered view
}

// DefaultConfig returns a 30fps display cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 33 * time.Millisecond,
		Quality:  75,
	}
}

// Sink consumes the receiver's current frame at display cadence and reports
// throughput. It only ever reads the most recent frame; missed frames are
// simply never observed.
type Sink struct {
	cfg Config
	src Source
	m   *metrics.Metrics

	mu         sync.Mutex
	lastNumber uint64
	window     []time.Time // observation times inside the FPS window
	fps        float64

	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

const fpsWindow = 2 * time.Second

// NewSink creates a display sink over the given frame source.
func NewSink(cfg Config, src Source, m *metrics.Metrics) *Sink {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultConfig().Quality
	}
	if m == nil {
		m = metrics.New()
	}
	return &Sink{
		cfg:  cfg,
		src:  src,
		m:    m,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start begins the observation loop.
func (s *Sink) Start() {
	go s.run()
}

// Stop halts the observation loop.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.stopped {
		close(s.stop)
		s.stopped = true
	}
	s.mu.Unlock()
	<-s.done
}

// FPS returns the observed display throughput.
func (s *Sink) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

func (s *Sink) run() {
	defer close(s.done)

	logger.Info("Display", "Sink running (interval=%v)", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Observe()
		}
	}
}

// Observe samples the current-frame slot once, counting a frame only when
// the frame number advanced since the last sample.
func (s *Sink) Observe() {
	frame, ok := s.src.CurrentFrame()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.Number == s.lastNumber {
		return
	}
	s.lastNumber = frame.Number
	s.m.DisplayFrames.Add(1)

	now := time.Now()
	s.window = append(s.window, now)
	cutoff := now.Add(-fpsWindow)
	for len(s.window) > 0 && s.window[0].Before(cutoff) {
		s.window = s.window[1:]
	}
	if len(s.window) > 1 {
		span := s.window[len(s.window)-1].Sub(s.window[0]).Seconds()
		if span > 0 {
			s.fps = float64(len(s.window)-1) / span
		}
	}
	s.m.UpdateDisplayFPS(s.fps)
}

func (s *Sink) statusLine(frame Frame) string {
	b := frame.Image.Bounds()
	return fmt.Sprintf("Frame: %d  FPS: %.1f  Size: %dx%d", frame.Number, s.FPS(), b.Dx(), b.Dy())
}
