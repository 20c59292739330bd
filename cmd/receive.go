package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/display"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/metrics"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/receiver"
	"github.com/XiDee233/AndroidVideoTransToPC/internal/recorder"
)

var receiveOpts struct {
	listenAddr      string
	recordDir       string
	displayInterval time.Duration
	displayQuality  int
}

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run the PC-side frame receiver",
	Long: `Starts the HTTP receiver the device pushes frames to, along with the
MJPEG display view at /stream, receiver statistics at /status, recording
control under /recording and Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReceive(cmd)
	},
}

func init() {
	receiveCmd.Flags().StringVarP(&receiveOpts.listenAddr, "listen", "l", ":9000", "Address to listen on")
	receiveCmd.Flags().StringVar(&receiveOpts.recordDir, "record-dir", "./recordings", "Directory for recorded streams")
	receiveCmd.Flags().DurationVar(&receiveOpts.displayInterval, "display-interval", 33*time.Millisecond, "Display refresh cadence")
	receiveCmd.Flags().IntVar(&receiveOpts.displayQuality, "display-quality", 75, "JPEG quality of the display view")

	rootCmd.AddCommand(receiveCmd)
}

func runReceive(cmd *cobra.Command) error {
	ctx := cmd.Context()

	m := metrics.New()
	state := receiver.NewState()

	sink := display.NewSink(display.Config{
		Interval: receiveOpts.displayInterval,
		Quality:  receiveOpts.displayQuality,
	}, state, m)
	sink.Start()
	defer sink.Stop()

	rec := recorder.NewRecorder(receiveOpts.recordDir, m)
	defer rec.Close()

	cfg := receiver.DefaultConfig()
	cfg.ListenAddr = receiveOpts.listenAddr
	srv := receiver.NewServer(cfg, state, sink, rec, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Receive", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
