package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/config"
	"github.com/opsguide/opsguide-ai/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
}

func (a *app) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, cfg, err := loadConfig(ctx, a.configPath)
	if err != nil {
		return err
	}

	logger, err := newAuditLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	log := logger.App()

	_ = logger.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithDescription(a.configPath).
		WithResult(audit.ResultSuccess).
		WithMetadata("llm_provider", cfg.LLM.Provider).
		WithMetadata("fail_open", cfg.Execution.FailOpen).
		WithMetadata("database", cfg.Database.Enabled))

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	// The approvals endpoint only makes sense with a persistent trail.
	var approvals server.ApprovalLister
	if comps.store != nil {
		approvals = comps.approvals
	}

	srv, err := server.NewServer(server.Config{
		Port:              cfg.Server.Port,
		GRPCPort:          cfg.Server.GRPCPort,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
	}, comps.orchestrator, comps.engine, approvals, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Info("opsguide-ai started",
		zap.Int("port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.String("llm_provider", string(comps.llm.GetProvider())),
		zap.String("downstream", cfg.Downstream.BaseURL),
	)

	if _, err := os.Stat(a.configPath); err == nil {
		go watchConfig(ctx, mgr, logger)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	return srv.Stop()
}

// watchConfig reports config file changes. Components are built once, so
// changed settings take effect on the next restart.
func watchConfig(ctx context.Context, mgr config.ConfigManager, logger audit.Logger) {
	updates := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			event := audit.NewEvent(audit.EventConfigReload).WithResult(audit.ResultSuccess)
			if errs := cfg.Validate(); len(errs) > 0 {
				event = event.WithResult(audit.ResultFailure).WithError(errs[0], "invalid_config")
				logger.App().Warn("changed configuration is invalid", zap.Errors("errors", errs))
			} else {
				logger.App().Info("configuration file changed; restart to apply")
			}
			_ = logger.Log(ctx, event)
		}
	}
}
