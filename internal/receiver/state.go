package receiver

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/display"
)

// staleAfter is how long without a frame before is_receiving decays.
const staleAfter = 5 * time.Second

// State is the receiver's single current-frame slot plus diagnostics. The
// slot is overwrite-on-arrival: there is no queue, only the most recently
// decoded frame. Decode happens outside the lock; the write lock guards only
// the pointer swap so readers never observe a torn frame.
type State struct {
	frameCount     atomic.Uint64
	decodeFailures atomic.Uint64
	startTime      time.Time

	mu            sync.RWMutex
	current       *display.Frame
	lastFrameTime time.Time
	lastPingTime  time.Time
}

// NewState creates an empty receiver state.
func NewState() *State {
	return &State{startTime: time.Now()}
}

// Swap installs a newly decoded frame as the current one and returns the
// cumulative frame count. Called by the ingest handler after a successful
// decode.
func (s *State) Swap(img image.Image, captureTS time.Time) uint64 {
	n := s.frameCount.Add(1)
	frame := &display.Frame{
		Image:     img,
		Number:    n,
		Timestamp: captureTS,
	}

	s.mu.Lock()
	s.current = frame
	s.lastFrameTime = time.Now()
	s.mu.Unlock()
	return n
}

// CurrentFrame returns the most recent decoded frame. Shared-read only; the
// display sink calls this at its own cadence.
func (s *State) CurrentFrame() (display.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return display.Frame{}, false
	}
	return *s.current, true
}

// RecordDecodeFailure counts a payload that failed to decode.
func (s *State) RecordDecodeFailure() uint64 {
	return s.decodeFailures.Add(1)
}

// RecordPing notes a liveness probe.
func (s *State) RecordPing() {
	s.mu.Lock()
	s.lastPingTime = time.Now()
	s.mu.Unlock()
}

// FrameCount returns the cumulative count of successfully ingested frames.
func (s *State) FrameCount() uint64 {
	return s.frameCount.Load()
}

// DecodeFailures returns the count of discarded undecodable payloads.
func (s *State) DecodeFailures() uint64 {
	return s.decodeFailures.Load()
}

// Stats is the /status payload, shaped like the original receiver's.
type Stats struct {
	FrameCount       uint64  `json:"frame_count"`
	DecodeFailures   uint64  `json:"decode_failures"`
	ElapsedTime      float64 `json:"elapsed_time"`
	FPS              float64 `json:"fps"`
	IsReceiving      bool    `json:"is_receiving"`
	LatestFrameShape []int   `json:"latest_frame_shape"`
}

// Snapshot returns current receiver statistics.
func (s *State) Snapshot() Stats {
	elapsed := time.Since(s.startTime).Seconds()
	count := s.frameCount.Load()

	stats := Stats{
		FrameCount:     count,
		DecodeFailures: s.decodeFailures.Load(),
		ElapsedTime:    elapsed,
	}
	if elapsed > 0 {
		stats.FPS = float64(count) / elapsed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.lastFrameTime.IsZero() && time.Since(s.lastFrameTime) < staleAfter {
		stats.IsReceiving = true
	}
	if s.current != nil {
		b := s.current.Image.Bounds()
		stats.LatestFrameShape = []int{b.Dy(), b.Dx()}
	}
	return stats
}
