package types

import "time"

// PixelFormat identifies the layout of a RawFrame's payload.
type PixelFormat int

const (
	// FormatJPEG means the frame is already a compressed still image.
	FormatJPEG PixelFormat = iota
	// FormatYUV420 is a planar frame with one luma and two chroma planes,
	// subsampled 4:2:0. Plane strides and pixel steps describe the exact
	// memory layout (packed I420 and interleaved NV12/NV21 both map here).
	FormatYUV420
)

// String returns the string representation of a pixel format.
func (f PixelFormat) String() string {
	switch f {
	case FormatJPEG:
		return "JPEG"
	case FormatYUV420:
		return "YUV420"
	default:
		return "UNKNOWN"
	}
}

// Plane is one memory region of a planar image.
type Plane struct {
	Data        []byte
	RowStride   int // bytes between vertically adjacent samples
	PixelStride int // bytes between horizontally adjacent samples
}

// RawFrame is a single capture-source frame. It is owned by the pipeline for
// the duration of one encode call; Release returns the backing buffer to the
// source, after which the planes must not be touched.
type RawFrame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Y         Plane // luma plane (or the full payload when Format == FormatJPEG)
	Cb        Plane // first chroma plane as reported by the sensor
	Cr        Plane // second chroma plane as reported by the sensor
	Timestamp time.Time

	release func()
}

// NewRawFrame wraps planes into a frame. release may be nil; when set it is
// invoked exactly once from Release.
func NewRawFrame(format PixelFormat, width, height int, y, cb, cr Plane, ts time.Time, release func()) *RawFrame {
	return &RawFrame{
		Format:    format,
		Width:     width,
		Height:    height,
		Y:         y,
		Cb:        cb,
		Cr:        cr,
		Timestamp: ts,
		release:   release,
	}
}

// Release hands the backing buffer back to the capture source. Safe to call
// more than once; only the first call has an effect.
func (f *RawFrame) Release() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// EncodedFrame is a compressed frame ready for transport. It exists only for
// the duration of one send call.
type EncodedFrame struct {
	Data      []byte
	Timestamp time.Time
	Seq       uint64 // assigned by the session, monotonic per streaming cycle
}

// Size returns the payload length in bytes.
func (f *EncodedFrame) Size() int {
	return len(f.Data)
}

// SessionState is the streaming session's lifecycle state.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateProbing
	StateStreaming
	StateStopping
)

// String returns the string representation of a session state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// TransportResult reports the outcome of a single frame push. A failed
// result is never escalated as a fault by the transport itself; the session
// decides what repeated failures mean.
type TransportResult struct {
	OK         bool
	StatusCode int // HTTP status, 0 when the request never completed
	Err        error
}
