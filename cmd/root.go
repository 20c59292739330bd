package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
)

// Version is the application version.
const Version = "0.1.0"

var (
	logLevel string
	logColor bool
)

var rootCmd = &cobra.Command{
	Use:     "videotrans",
	Short:   "Push live camera frames from an Android device to a PC over USB",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logger.Init(level, os.Stderr, logColor)
		return nil
	},
}

// Execute runs the CLI. It installs a signal-aware context so Ctrl+C tears
// the pipeline down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logColor, "log-color", true, "Colorize log output")
}
