package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

// Config defines the transport endpoint and timeouts. The default base URL
// is the device-local port that an external tunnel (adb reverse or similar)
// forwards to the receiving host; Probe succeeding is the precondition that
// the tunnel is up.
type Config struct {
	BaseURL        string
	PingPath       string
	UploadPath     string
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration // total budget for a liveness round trip
	SendTimeout    time.Duration // total budget for one frame push
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:9001",
		PingPath:       "/ping",
		UploadPath:     "/upload_frame",
		ConnectTimeout: 5 * time.Second,
		ProbeTimeout:   5 * time.Second,
		SendTimeout:    10 * time.Second,
	}
}

// Client pushes encoded frames to the receiver endpoint.
type Client struct {
	cfg         Config
	probeClient *http.Client
	sendClient  *http.Client
}

// NewClient creates a transport client. Malformed configuration is a
// startup fault.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if cfg.PingPath == "" {
		cfg.PingPath = DefaultConfig().PingPath
	}
	if cfg.UploadPath == "" {
		cfg.UploadPath = DefaultConfig().UploadPath
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}

	rt := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:    2,
		IdleConnTimeout: 30 * time.Second,
	}

	return &Client{
		cfg:         cfg,
		probeClient: &http.Client{Transport: rt, Timeout: cfg.ProbeTimeout},
		sendClient:  &http.Client{Transport: rt, Timeout: cfg.SendTimeout},
	}, nil
}

// Probe issues a liveness request to the receiver. All errors and timeouts
// fold to false; only a 2xx response counts as reachable.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.PingPath, nil)
	if err != nil {
		return false
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		logger.Debug("Transport", "Probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Send pushes one encoded frame. Failures are reported in the result and
// never raised as faults; the session owns the failure policy.
func (c *Client) Send(ctx context.Context, frame *types.EncodedFrame) types.TransportResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+c.cfg.UploadPath, bytes.NewReader(frame.Data))
	if err != nil {
		return types.TransportResult{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Frame-Timestamp", strconv.FormatInt(frame.Timestamp.UnixMilli(), 10))
	req.ContentLength = int64(len(frame.Data))

	resp, err := c.sendClient.Do(req)
	if err != nil {
		return types.TransportResult{Err: fmt.Errorf("push frame %d: %w", frame.Seq, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.TransportResult{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("receiver rejected frame %d: status %d", frame.Seq, resp.StatusCode),
		}
	}

	return types.TransportResult{OK: true, StatusCode: resp.StatusCode}
}
