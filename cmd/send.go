package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/capture"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/encoder"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/session"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/transport"
	"github.com/XiDee233/AndroidVideoTransToPC/pkg/types"
)

var sendOpts struct {
	target         string
	fps            int
	width          int
	height         int
	quality        int
	maxBytes       int
	connectTimeout time.Duration
	sendTimeout    time.Duration
	statusEvery    time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Capture frames and push them to the receiver",
	Long: `Runs the device-side pipeline: a frame source, the JPEG encoder and
the HTTP push transport. Frames that arrive while the previous one is still
being sent are dropped so capture never waits on the network.

The default target assumes the usual adb reverse forward:

  adb reverse tcp:9001 tcp:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd)
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendOpts.target, "target", "t", "http://127.0.0.1:9001", "Receiver base URL")
	sendCmd.Flags().IntVar(&sendOpts.fps, "fps", 30, "Capture frame rate")
	sendCmd.Flags().IntVar(&sendOpts.width, "width", 640, "Capture width")
	sendCmd.Flags().IntVar(&sendOpts.height, "height", 480, "Capture height")
	sendCmd.Flags().IntVarP(&sendOpts.quality, "quality", "q", 80, "JPEG quality (1-100)")
	sendCmd.Flags().IntVar(&sendOpts.maxBytes, "max-bytes", 1<<20, "Per-frame size ceiling in bytes")
	sendCmd.Flags().DurationVar(&sendOpts.connectTimeout, "connect-timeout", 5*time.Second, "Connection timeout")
	sendCmd.Flags().DurationVar(&sendOpts.sendTimeout, "send-timeout", 10*time.Second, "Per-frame send timeout")
	sendCmd.Flags().DurationVar(&sendOpts.statusEvery, "status-interval", 5*time.Second, "How often to log pipeline status")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command) error {
	ctx := cmd.Context()

	encCfg := encoder.Config{Quality: sendOpts.quality, MaxBytes: sendOpts.maxBytes}
	enc, err := encoder.New(encCfg)
	if err != nil {
		return err
	}

	trCfg := transport.DefaultConfig()
	trCfg.BaseURL = sendOpts.target
	trCfg.ConnectTimeout = sendOpts.connectTimeout
	trCfg.SendTimeout = sendOpts.sendTimeout
	client, err := transport.NewClient(trCfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	sess := session.New(enc, client, m)

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("cannot reach receiver at %s: %w", sendOpts.target, err)
	}

	src := capture.NewSource(capture.Config{
		Width:  sendOpts.width,
		Height: sendOpts.height,
		FPS:    sendOpts.fps,
	}, func(frame *types.RawFrame) {
		sess.Offer(frame)
	})
	src.Start()
	defer src.Stop()
	defer sess.Stop()

	ticker := time.NewTicker(sendOpts.statusEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Send", "Shutting down")
			return nil
		case <-ticker.C:
			st := sess.GetStatus()
			if st.State == types.StateIdle {
				if st.LastError != "" {
					return fmt.Errorf("streaming ended: %s", st.LastError)
				}
				return nil
			}
			logger.Info("Send", "sent=%d dropped=%d oversize=%d stalls=%d",
				st.FramesSent, st.Dropped, st.Oversize, src.Stalls())
		}
	}
}
