package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

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

func TestSourceDeliversFrames(t *testing.T) {
	var mu sync.Mutex
	var count int
	var last *types.RawFrame

	src := NewSource(Config{Width: 32, Height: 24, FPS: 200}, func(frame *types.RawFrame) {
		mu.Lock()
		count++
		last = frame
		mu.Unlock()
		frame.Release()
	})
	src.Start()
	defer src.Stop()

	waitFor(t, "frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	})

	mu.Lock()
	frame := last
	mu.Unlock()
	if frame.Width != 32 || frame.Height != 24 {
		t.Fatalf("frame size = %dx%d", frame.Width, frame.Height)
	}
	if frame.Format != types.FormatYUV420 {
		t.Fatalf("format = %v", frame.Format)
	}
	if frame.Cb.PixelStride != 2 || frame.Cr.PixelStride != 2 {
		t.Fatalf("chroma planes should be interleaved, got steps %d/%d",
			frame.Cb.PixelStride, frame.Cr.PixelStride)
	}
}

func TestSourceStallsWhileFrameHeld(t *testing.T) {
	held := make(chan *types.RawFrame, 1)
	src := NewSource(Config{Width: 16, Height: 16, FPS: 500}, func(frame *types.RawFrame) {
		select {
		case held <- frame:
			// Keep the first frame; the source's buffer stays occupied.
		default:
			frame.Release()
		}
	})
	src.Start()
	defer src.Stop()

	frame := <-held
	waitFor(t, "stalls while buffer is held", func() bool { return src.Stalls() > 0 })

	stalled := src.Stalls()
	frame.Release()
	waitFor(t, "delivery to resume", func() bool {
		select {
		case f := <-held:
			f.Release()
			return true
		default:
			return false
		}
	})
	if src.Stalls() < stalled {
		t.Fatalf("stall counter went backwards")
	}
}

func TestSolidFrameSensorLayout(t *testing.T) {
	frame := SolidFrame(8, 8, 100, 90, 240)

	if frame.Y.Data[0] != 100 {
		t.Fatalf("Y sample = %d, want 100", frame.Y.Data[0])
	}
	// Interleaved chroma in sensor order: Cr sample precedes Cb.
	if frame.Cr.Data[0] != 240 {
		t.Fatalf("first Cr sample = %d, want 240", frame.Cr.Data[0])
	}
	if frame.Cb.Data[0] != 90 {
		t.Fatalf("first Cb sample = %d, want 90", frame.Cb.Data[0])
	}
	if frame.Cb.PixelStride != 2 || frame.Cr.PixelStride != 2 {
		t.Fatalf("chroma step = %d/%d, want 2/2", frame.Cb.PixelStride, frame.Cr.PixelStride)
	}
	frame.Release()
}
