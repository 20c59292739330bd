package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
)

// Recorder appends received JPEG frames to an MJPEG file. Writes happen on a
// dedicated goroutine fed through a bounded channel so the ingest path never
// blocks on disk.
type Recorder struct {
	m *metrics.Metrics

	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time

	frameChan chan []byte
	wg        sync.WaitGroup
}

// RecordingStatus is a snapshot of the recorder state.
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"duration"`
	StartTime    time.Time     `json:"start_time"`
}

// NewRecorder creates a recorder writing under basePath.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	if m == nil {
		m = metrics.New()
	}
	return &Recorder{
		m:         m,
		basePath:  basePath,
		frameChan: make(chan []byte, 60), // Buffer 2 seconds
	}
}

// Start begins recording to a new timestamped file.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("recording_%s.mjpeg", timestamp)
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = filename
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()

	r.wg.Add(1)
	go r.writeFrames()

	logger.Info("Recorder", "Recording to %s", path)
	return nil
}

// Stop ends recording and closes the output file.
func (r *Recorder) Stop() error {
	r.mu.Lock()

	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}

	r.recording = false
	r.mu.Unlock()

	// Wait for the write goroutine to drain and finish.
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}

	logger.Info("Recorder", "Recording stopped (%d frames)", r.frameCount)
	return nil
}

// SendFrame hands one JPEG payload to the recorder. Non-blocking: when the
// channel is full the frame is dropped. Returns true when the frame was
// queued.
func (r *Recorder) SendFrame(data []byte) bool {
	r.mu.RLock()
	recording := r.recording
	r.mu.RUnlock()

	if !recording {
		return false
	}

	select {
	case r.frameChan <- data:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeFrames() {
	defer r.wg.Done()

	for {
		r.mu.RLock()
		recording := r.recording
		r.mu.RUnlock()

		if !recording {
			// Drain remaining frames
			for len(r.frameChan) > 0 {
				r.writeFrame(<-r.frameChan)
			}
			return
		}

		select {
		case data := <-r.frameChan:
			r.writeFrame(data)
		case <-time.After(100 * time.Millisecond):
			// Check recording state periodically
		}
	}
}

func (r *Recorder) writeFrame(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	n, err := r.file.Write(data)
	if err != nil {
		logger.Error("Recorder", "Write failed: %v", err)
		return
	}

	r.bytesWritten += uint64(n)
	r.frameCount++
	r.m.FramesRecorded.Add(1)
}

// IsRecording returns true while a recording is active.
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status.
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops any active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}
