package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/encoder"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

type fakeEncoder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEncoder) Encode(frame *types.RawFrame) (*types.EncodedFrame, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &types.EncodedFrame{Data: []byte{0xFF, 0xD8}, Timestamp: frame.Timestamp}, nil
}

type fakeTransport struct {
	probeOK bool
	result  types.TransportResult
	block   chan struct{} // when non-nil, Send waits until it is closed

	mu    sync.Mutex
	sends int
}

func (f *fakeTransport) Probe(ctx context.Context) bool { return f.probeOK }

func (f *fakeTransport) Send(ctx context.Context, frame *types.EncodedFrame) types.TransportResult {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.result
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func testFrame(released *atomic.Bool) *types.RawFrame {
	return types.NewRawFrame(types.FormatYUV420, 2, 2,
		types.Plane{Data: make([]byte, 4), RowStride: 2, PixelStride: 1},
		types.Plane{Data: make([]byte, 1), RowStride: 1, PixelStride: 1},
		types.Plane{Data: make([]byte, 1), RowStride: 1, PixelStride: 1},
		time.Now(), func() {
			if released != nil {
				released.Store(true)
			}
		})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartProbeFailureStaysIdle(t *testing.T) {
	enc := &fakeEncoder{}
	tr := &fakeTransport{probeOK: false}
	s := New(enc, tr, metrics.New())

	err := s.Start(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Start = %v, want ErrConnectFailed", err)
	}
	if s.State() != types.StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
	if enc.calls.Load() != 0 {
		t.Fatalf("encoder invoked despite failed probe")
	}
	if s.LastError() == nil {
		t.Fatalf("connectivity error not recorded")
	}
}

func TestStartEntersStreamingAndResetsErrorState(t *testing.T) {
	tr := &fakeTransport{probeOK: true, result: types.TransportResult{OK: true, StatusCode: 200}}
	s := New(&fakeEncoder{}, tr, metrics.New())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != types.StateStreaming {
		t.Fatalf("state = %v, want streaming", s.State())
	}
	if s.LastError() != nil {
		t.Fatalf("error state not cleared on start")
	}
}

func TestDropWhenBusy(t *testing.T) {
	block := make(chan struct{})
	tr := &fakeTransport{probeOK: true, result: types.TransportResult{OK: true, StatusCode: 200}, block: block}
	m := metrics.New()
	s := New(&fakeEncoder{}, tr, m)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var firstReleased, secondReleased atomic.Bool
	if !s.Offer(testFrame(&firstReleased)) {
		t.Fatalf("first frame should enter the pipeline")
	}
	waitFor(t, "first send to start", func() bool { return tr.sendCount() == 1 })

	// Second frame arrives while the first unit is still in flight: it must
	// be dropped and its buffer released promptly, without blocking.
	done := make(chan bool, 1)
	go func() { done <- s.Offer(testFrame(&secondReleased)) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Fatalf("second frame should have been dropped")
		}
	case <-time.After(time.Second):
		t.Fatalf("Offer blocked while slot was busy")
	}
	if !secondReleased.Load() {
		t.Fatalf("dropped frame's buffer not released")
	}
	if m.FramesDropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1", m.FramesDropped.Load())
	}

	close(block)
	waitFor(t, "first unit to finish", func() bool { return m.FramesSent.Load() == 1 })
	if tr.sendCount() != 1 {
		t.Fatalf("sends = %d, want exactly 1", tr.sendCount())
	}
	if !firstReleased.Load() {
		t.Fatalf("processed frame's buffer not released")
	}
	if s.State() != types.StateStreaming {
		t.Fatalf("state = %v, want streaming", s.State())
	}
}

func TestOversizeFrameIsSkippedNotFatal(t *testing.T) {
	tr := &fakeTransport{probeOK: true, result: types.TransportResult{OK: true, StatusCode: 200}}
	m := metrics.New()
	s := New(&fakeEncoder{err: encoder.ErrFrameTooLarge}, tr, m)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Offer(testFrame(nil))
	waitFor(t, "oversize skip", func() bool { return m.FramesOversize.Load() == 1 })

	if s.State() != types.StateStreaming {
		t.Fatalf("oversize frame ended the session")
	}
	if tr.sendCount() != 0 {
		t.Fatalf("oversize frame reached the transport")
	}
	if m.FramesSent.Load() != 0 {
		t.Fatalf("frame counter changed on skip")
	}
}

func TestEncodeErrorEndsSession(t *testing.T) {
	tr := &fakeTransport{probeOK: true}
	s := New(&fakeEncoder{err: errors.New("compressor failure")}, tr, metrics.New())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Offer(testFrame(nil))
	waitFor(t, "session to end", func() bool { return s.State() == types.StateIdle })

	if s.LastError() == nil {
		t.Fatalf("encode error not recorded")
	}
}

func TestTransportFailureEndsSession(t *testing.T) {
	tr := &fakeTransport{
		probeOK: true,
		result:  types.TransportResult{Err: errors.New("connection refused")},
	}
	s := New(&fakeEncoder{}, tr, metrics.New())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Offer(testFrame(nil))
	waitFor(t, "session to end", func() bool { return s.State() == types.StateIdle })

	if s.LastError() == nil {
		t.Fatalf("transport error not recorded")
	}

	// Frames offered after the failure are released and ignored.
	var released atomic.Bool
	if s.Offer(testFrame(&released)) {
		t.Fatalf("idle session accepted a frame")
	}
	if !released.Load() {
		t.Fatalf("frame offered to idle session was not released")
	}
}

func TestStopIdempotentFromIdle(t *testing.T) {
	s := New(&fakeEncoder{}, &fakeTransport{}, metrics.New())
	s.Stop()
	s.Stop()
	if s.State() != types.StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
	if s.LastError() != nil {
		t.Fatalf("stop recorded an error")
	}
}

func TestStopInvalidatesInFlightUnit(t *testing.T) {
	block := make(chan struct{})
	tr := &fakeTransport{probeOK: true, result: types.TransportResult{OK: true, StatusCode: 200}, block: block}
	m := metrics.New()
	s := New(&fakeEncoder{}, tr, m)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Offer(testFrame(nil))
	waitFor(t, "send to start", func() bool { return tr.sendCount() == 1 })

	s.Stop()
	if s.State() != types.StateIdle {
		t.Fatalf("state = %v after stop, want idle", s.State())
	}

	// The in-flight unit completes but must not touch counters or state.
	close(block)
	waitFor(t, "slot to free", func() bool { return s.busy.Load() == false })
	if m.FramesSent.Load() != 0 {
		t.Fatalf("cancelled unit incremented the sent counter")
	}
}

func TestSessionRestartsAfterFailure(t *testing.T) {
	tr := &fakeTransport{
		probeOK: true,
		result:  types.TransportResult{Err: errors.New("timeout")},
	}
	s := New(&fakeEncoder{}, tr, metrics.New())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Offer(testFrame(nil))
	waitFor(t, "session to end", func() bool { return s.State() == types.StateIdle })

	tr.result = types.TransportResult{OK: true, StatusCode: 200}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if s.State() != types.StateStreaming {
		t.Fatalf("state = %v after restart, want streaming", s.State())
	}
	if s.LastError() != nil {
		t.Fatalf("restart did not clear the error")
	}
}
