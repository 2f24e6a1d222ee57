package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/supervisor"
)

func newSuperviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the daemon under a crash supervisor",
		Long: `Launches "meridian run" as a child process and restarts it whenever it
exits, after a configurable delay (MERIDIAN_SUPERVISOR_DELAY, with
optional backoff via MERIDIAN_SUPERVISOR_BACKOFF_FACTOR). SIGINT and
SIGTERM are forwarded to the child and stop the supervisor cleanly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			slog.SetDefault(logger)

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			sup := supervisor.New(supervisor.Config{
				Args:     []string{"run"},
				Delay:    cfg.SupervisorDelay,
				Backoff:  cfg.SupervisorBackoff,
				MaxDelay: cfg.SupervisorMaxDelay,
			}, logger)

			return sup.Run(ctx)
		},
	}
}
