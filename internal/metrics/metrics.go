package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics. Sender and receiver processes share
// the struct; each only touches the counters for its side.
type Metrics struct {
	// Sender side
	FramesOffered   atomic.Uint64 // frames delivered by the capture source
	FramesDropped   atomic.Uint64 // dropped by the busy-slot policy
	FramesEncoded   atomic.Uint64
	FramesOversize  atomic.Uint64 // skipped because payload exceeded the ceiling
	FramesSent      atomic.Uint64
	EncodeErrors    atomic.Uint64
	SendErrors      atomic.Uint64
	SessionRestarts atomic.Uint64

	// Receiver side
	FramesReceived atomic.Uint64
	FramesDecoded  atomic.Uint64
	DecodeErrors   atomic.Uint64
	FramesRecorded atomic.Uint64
	DisplayFrames  atomic.Uint64

	// Latency tracking
	EncodeLatencyMs atomic.Uint64
	SendLatencyMs   atomic.Uint64

	// Display throughput (FPS x 100, stored as integer)
	DisplayFPSx100 atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"videotrans_frames_offered_total", "Frames delivered by the capture source", m.FramesOffered.Load},
		{"videotrans_frames_dropped_total", "Frames dropped by the busy-slot policy", m.FramesDropped.Load},
		{"videotrans_frames_encoded_total", "Frames encoded to JPEG", m.FramesEncoded.Load},
		{"videotrans_frames_oversize_total", "Frames skipped for exceeding the size ceiling", m.FramesOversize.Load},
		{"videotrans_frames_sent_total", "Frames accepted by the receiver", m.FramesSent.Load},
		{"videotrans_encode_errors_total", "Encoder failures", m.EncodeErrors.Load},
		{"videotrans_send_errors_total", "Transport failures", m.SendErrors.Load},
		{"videotrans_session_restarts_total", "Streaming sessions started", m.SessionRestarts.Load},
		{"videotrans_frames_received_total", "Frames arriving at the ingest endpoint", m.FramesReceived.Load},
		{"videotrans_frames_decoded_total", "Frames decoded successfully", m.FramesDecoded.Load},
		{"videotrans_decode_errors_total", "Ingest payloads that failed to decode", m.DecodeErrors.Load},
		{"videotrans_frames_recorded_total", "Frames written by the recorder", m.FramesRecorded.Load},
		{"videotrans_display_frames_total", "Frames observed by the display sink", m.DisplayFrames.Load},
		{"videotrans_encode_latency_ms", "Last encode duration in milliseconds", m.EncodeLatencyMs.Load},
		{"videotrans_send_latency_ms", "Last send duration in milliseconds", m.SendLatencyMs.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "videotrans_display_fps",
			Help: "Frames per second observed by the display sink",
		},
		func() float64 { return float64(m.DisplayFPSx100.Load()) / 100 },
	))
}

// UpdateEncodeLatency records the duration of the last encode.
func (m *Metrics) UpdateEncodeLatency(d time.Duration) {
	m.EncodeLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateSendLatency records the duration of the last send.
func (m *Metrics) UpdateSendLatency(d time.Duration) {
	m.SendLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateDisplayFPS records the display sink's observed throughput.
func (m *Metrics) UpdateDisplayFPS(fps float64) {
	m.DisplayFPSx100.Store(uint64(fps * 100))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
