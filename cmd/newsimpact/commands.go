package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"newsimpact/internal/app"
	"newsimpact/internal/config"
	"newsimpact/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd, (*app.Application).Serve)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume process_news and notify_backend tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd, (*app.Application).Work)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the HTTP API and consume tasks in one process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd, (*app.Application).Run)
	},
}

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and ping Redis and the backend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd, func(a *app.Application, ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := a.Check(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		})
	},
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "deadline for the dependency checks")
}

func withApplication(cmd *cobra.Command, run func(*app.Application, context.Context) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("close application", "error", err)
		}
	}()

	if err := run(application, ctx); err != nil {
		logger.Error("application stopped", "command", cmd.Name(), "error", err)
		return err
	}
	return nil
}
