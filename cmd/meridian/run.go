package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/meridian"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine daemon in the foreground",
		Long: `Starts the cycle engine and the HTTP/MCP control surface, blocking
until SIGINT/SIGTERM or a stop request through the control surface.

Configuration is read from environment variables (and an optional .env
file); see the README for the full list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := meridian.New(
				meridian.WithLogger(logger),
				meridian.WithVersion(version),
			)
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("MERIDIAN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
