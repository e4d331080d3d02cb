package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/app"
	"github.com/cory-johannsen/prism/internal/config"
	"github.com/cory-johannsen/prism/internal/observability"
	"github.com/cory-johannsen/prism/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the table server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting table server",
		zap.String("backend", cfg.Realtime.Backend),
		zap.String("http", cfg.HTTP.Addr()),
		zap.String("admin", cfg.Admin.Addr()),
	)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	lc := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	a.Register(lc)
	logger.Info("initialised", zap.Duration("elapsed", time.Since(start)))
	return lc.Run(ctx)
}
