package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/encoder"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

// ErrConnectFailed is reported when the liveness probe fails during Start.
var ErrConnectFailed = errors.New("receiver not reachable")

// ErrNotIdle is returned when Start is called on an active session.
var ErrNotIdle = errors.New("session already active")

// Encoder converts raw frames to transport payloads.
type Encoder interface {
	Encode(*types.RawFrame) (*types.EncodedFrame, error)
}

// Transport probes and pushes frames to the receiver.
type Transport interface {
	Probe(ctx context.Context) bool
	Send(ctx context.Context, frame *types.EncodedFrame) types.TransportResult
}

// Session owns the start/stop/streaming state machine and coordinates the
// encoder and transport. At most one encode+send unit is in flight; frames
// arriving while the slot is taken are dropped immediately so the capture
// source never waits on the network.
type Session struct {
	enc Encoder
	tr  Transport
	m   *metrics.Metrics

	busy atomic.Bool
	seq  atomic.Uint64

	mu         sync.Mutex
	state      types.SessionState
	gen        uint64 // bumped on every cycle boundary; stale units see a mismatch
	cycleCtx   context.Context
	cancel     context.CancelFunc
	lastErr    error
	lastStatus int
}

// New creates an idle session.
func New(enc Encoder, tr Transport, m *metrics.Metrics) *Session {
	if m == nil {
		m = metrics.New()
	}
	return &Session{
		enc:   enc,
		tr:    tr,
		m:     m,
		state: types.StateIdle,
	}
}

// Start probes the receiver and, on success, enters the streaming state with
// a fresh sequence counter and cleared error. On probe failure the session
// returns to idle and reports a connectivity error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != types.StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = types.StateProbing
	s.mu.Unlock()

	ok := s.tr.Probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.StateProbing {
		// Stopped while probing.
		return context.Canceled
	}

	if !ok {
		s.state = types.StateIdle
		s.lastErr = ErrConnectFailed
		logger.Warn("Session", "Probe failed, staying idle")
		return ErrConnectFailed
	}

	cycleCtx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.cycleCtx = cycleCtx
	s.cancel = cancel
	s.seq.Store(0)
	s.lastErr = nil
	s.lastStatus = 0
	s.state = types.StateStreaming
	s.m.SessionRestarts.Add(1)
	logger.Info("Session", "Streaming started")
	return nil
}

// Offer hands one captured frame to the pipeline. It never blocks: if the
// single work slot is taken the frame is released and dropped on the spot.
// Returns true when the frame entered the pipeline.
func (s *Session) Offer(frame *types.RawFrame) bool {
	if s.State() != types.StateStreaming {
		frame.Release()
		return false
	}
	s.m.FramesOffered.Add(1)

	if !s.busy.CompareAndSwap(false, true) {
		frame.Release()
		s.m.FramesDropped.Add(1)
		return false
	}

	s.mu.Lock()
	ctx, gen := s.cycleCtx, s.gen
	s.mu.Unlock()
	if ctx == nil {
		s.busy.Store(false)
		frame.Release()
		return false
	}

	go s.process(ctx, gen, frame)
	return true
}

// process runs one encode+send unit of work. Cancellation is checked after
// the encode and around the send so Stop composes with in-flight work: a
// request already on the wire finishes, but its outcome no longer touches
// session state.
func (s *Session) process(ctx context.Context, gen uint64, frame *types.RawFrame) {
	defer s.busy.Store(false)

	encStart := time.Now()
	encoded, err := s.enc.Encode(frame)
	frame.Release()
	s.m.UpdateEncodeLatency(time.Since(encStart))

	if err != nil {
		if errors.Is(err, encoder.ErrFrameTooLarge) {
			// Policy event, not a failure: skip and keep streaming.
			s.m.FramesOversize.Add(1)
			logger.Info("Session", "Frame over size ceiling, skipped")
			return
		}
		s.m.EncodeErrors.Add(1)
		s.fail(gen, err, 0)
		return
	}
	s.m.FramesEncoded.Add(1)

	if ctx.Err() != nil {
		return
	}

	encoded.Seq = s.seq.Add(1)

	sendStart := time.Now()
	result := s.tr.Send(ctx, encoded)
	s.m.UpdateSendLatency(time.Since(sendStart))

	if ctx.Err() != nil {
		return
	}

	if result.OK {
		s.m.FramesSent.Add(1)
		s.setLastStatus(result.StatusCode)
		return
	}

	s.m.SendErrors.Add(1)
	s.fail(gen, result.Err, result.StatusCode)
}

// fail records a session-ending error. Stale units (from a cycle that was
// stopped or already failed) are ignored.
func (s *Session) fail(gen uint64, err error, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.StateStreaming || gen != s.gen {
		return
	}
	s.lastErr = err
	s.lastStatus = status
	s.state = types.StateIdle
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	logger.Error("Session", "Streaming ended: %v", err)
}

// Stop cancels any in-flight work and returns the session to idle. Calling
// Stop on an idle session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case types.StateIdle:
		return
	case types.StateProbing, types.StateStreaming:
		s.state = types.StateStopping
		s.gen++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	s.state = types.StateIdle
	logger.Info("Session", "Stopped")
}

// State returns the current session state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent session-ending error, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) setLastStatus(status int) {
	s.mu.Lock()
	s.lastStatus = status
	s.mu.Unlock()
}

// Status is a snapshot of session-visible counters for UI text.
type Status struct {
	State      types.SessionState `json:"state"`
	FramesSent uint64             `json:"frames_sent"`
	Dropped    uint64             `json:"frames_dropped"`
	Oversize   uint64             `json:"frames_oversize"`
	LastStatus int                `json:"last_status"`
	LastError  string             `json:"last_error,omitempty"`
}

// GetStatus returns a snapshot of the session.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	state, status, lastErr := s.state, s.lastStatus, s.lastErr
	s.mu.Unlock()

	st := Status{
		State:      state,
		FramesSent: s.m.FramesSent.Load(),
		Dropped:    s.m.FramesDropped.Load(),
		Oversize:   s.m.FramesOversize.Load(),
		LastStatus: status,
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}
