package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpworld/harness/internal/env"
	"github.com/mcpworld/harness/internal/observability"
	"github.com/mcpworld/harness/internal/web"
)

// runServe starts the supervised in-environment services and blocks
// until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	supervisor := env.NewSupervisor(logger, metrics)

	if cfg.Services.Static.Enabled {
		static := cfg.Services.Static
		if err := web.EnsureCertificate(static.CertFile, static.KeyFile); err != nil {
			return fmt.Errorf("tls certificate: %w", err)
		}
		server := web.NewStaticServer(static.Port, static.Dir, static.CertFile, static.KeyFile, logger)
		if err := supervisor.Add(server); err != nil {
			return err
		}
	}

	if cfg.Services.NoVNC.Enabled {
		bridge := env.NewNoVNCBridge(cfg.Services.NoVNC.Port, "localhost", cfg.Display.VNCPort, logger)
		if err := supervisor.Add(bridge); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Start(ctx); err != nil {
		return err
	}
	logger.Info(ctx, "services started",
		"static", cfg.Services.Static.Enabled,
		"novnc", cfg.Services.NoVNC.Enabled)

	<-ctx.Done()
	logger.Info(context.WithoutCancel(ctx), "shutting down")
	supervisor.Stop()
	return nil
}
