package receiver

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/display"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/recorder"
)

// Config defines the receiver HTTP server.
type Config struct {
	ListenAddr   string        // address the frame ingest listens on
	MaxBodyBytes int64         // upload size ceiling
	ReadTimeout  time.Duration // per-request header read timeout
}

// DefaultConfig returns the receiver defaults. The sender targets port 9001
// on the device; the adb reverse tunnel forwards that to port 9000 here.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":9000",
		MaxBodyBytes: 4 << 20,
		ReadTimeout:  10 * time.Second,
	}
}

// Server is the PC-side frame receiver. It ingests JPEG frames pushed by the
// device, keeps the current-frame slot fresh, and serves status, recording
// control, the MJPEG view, and metrics.
type Server struct {
	cfg   Config
	state *State
	sink  *display.Sink
	rec   *recorder.Recorder
	m     *metrics.Metrics

	engine *gin.Engine
	srv    *http.Server
}

// NewServer wires the receiver together. sink and rec are optional.
func NewServer(cfg Config, state *State, sink *display.Sink, rec *recorder.Recorder, m *metrics.Metrics) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if state == nil {
		state = NewState()
	}
	if m == nil {
		m = metrics.New()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		state:  state,
		sink:   sink,
		rec:    rec,
		m:      m,
		engine: engine,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/ping", s.handlePing)
	s.engine.POST("/upload_frame", s.handleUploadFrame)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/metrics", gin.WrapH(s.m.Handler()))

	if s.sink != nil {
		s.engine.GET("/stream", gin.WrapH(s.sink))
	}

	if s.rec != nil {
		s.engine.POST("/recording/start", s.handleRecordingStart)
		s.engine.POST("/recording/stop", s.handleRecordingStop)
		s.engine.GET("/recording/status", s.handleRecordingStatus)
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}
	logger.Info("Receiver", "Listening on %s", s.cfg.ListenAddr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePing(c *gin.Context) {
	s.state.RecordPing()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UnixMilli()})
}

// handleUploadFrame ingests one JPEG frame. The decode runs outside any lock;
// only the pointer swap into the current-frame slot takes the write lock. A
// payload that fails to decode is discarded but still acknowledged with 200
// so one corrupt frame cannot take the whole stream down.
func (s *Server) handleUploadFrame(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no frame data"})
		return
	}

	s.m.FramesReceived.Add(1)
	captureTS := parseFrameTimestamp(c.GetHeader("Frame-Timestamp"))

	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		s.m.DecodeErrors.Add(1)
		failures := s.state.RecordDecodeFailure()
		logger.Warn("Receiver", "Discarded undecodable frame (%d total): %v", failures, err)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "decoded": false})
		return
	}
	s.m.FramesDecoded.Add(1)

	n := s.state.Swap(img, captureTS)

	if s.rec != nil {
		s.rec.SendFrame(body)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"decoded":     true,
		"frame_count": n,
		"timestamp":   captureTS.UnixMilli(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleRecordingStart(c *gin.Context) {
	if err := s.rec.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.rec.GetStatus())
}

func (s *Server) handleRecordingStop(c *gin.Context) {
	if err := s.rec.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.rec.GetStatus())
}

func (s *Server) handleRecordingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.rec.GetStatus())
}

// parseFrameTimestamp reads the sender's capture timestamp header
// (milliseconds since epoch). Missing or malformed values fall back to the
// arrival time.
func parseFrameTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
