package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsguide/opsguide-ai/internal/approval"
	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/classifier"
	"github.com/opsguide/opsguide-ai/internal/config"
	"github.com/opsguide/opsguide-ai/internal/db"
	"github.com/opsguide/opsguide-ai/internal/execution"
	"github.com/opsguide/opsguide-ai/internal/llm/adapter"
	"github.com/opsguide/opsguide-ai/internal/memory/vector"
	"github.com/opsguide/opsguide-ai/internal/orchestrator"
	"github.com/opsguide/opsguide-ai/internal/reasoning/embedding"
)

// components holds everything built from one configuration.
type components struct {
	store        db.Store // nil when the database is disabled
	approvals    *approval.Recorder
	engine       *execution.Engine
	orchestrator *orchestrator.Orchestrator
	llm          adapter.LLMAdapter
}

func (c *components) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func newAuditLogger(cfg *config.Config) (audit.Logger, error) {
	ac := audit.DefaultConfig()
	ac.AppLogPath = cfg.Logging.FilePath
	ac.AuditLogPath = cfg.Logging.AuditFilePath
	ac.Format = cfg.Logging.Format
	ac.LogLevel = cfg.Logging.Level
	return audit.NewLogger(ac)
}

// buildComponents wires storage, execution and the decision pipeline.
func buildComponents(ctx context.Context, cfg *config.Config, logger audit.Logger) (*components, error) {
	c := &components{}
	log := logger.App()

	// Typed nils must not reach the recorder or engine as non-nil interfaces.
	var approvalStore db.ApprovalStore
	if cfg.Database.Enabled {
		store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		c.store = store
		approvalStore = store
		log.Info("approval trail persisted", zap.String("path", cfg.Database.SQLitePath))
	}

	c.approvals = approval.NewRecorder(approvalStore, logger)

	engineOpts := []execution.Option{
		execution.WithFailOpen(cfg.Execution.FailOpen),
		execution.WithApprovals(c.approvals),
		execution.WithLogger(logger),
	}
	if c.store != nil {
		engineOpts = append(engineOpts, execution.WithExecutionStore(c.store))
	}
	client := execution.NewHTTPClient(cfg.Downstream.BaseURL, time.Duration(cfg.Downstream.TimeoutSeconds)*time.Second)
	c.engine = execution.NewEngine(client, engineOpts...)

	embedder, err := embedding.NewHashEmbedder(cfg.Embedding.Dimensions, cfg.Embedding.CacheSize)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	knowledge, err := vector.NewSeededVectorStore(ctx, embedder, cfg.Knowledge.SeedFile)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load knowledge: %w", err)
	}

	c.llm, err = adapter.NewLLMAdapter(adapter.ConfigFromMap(cfg.LLM.Provider, cfg.LLM.OpenAI))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create LLM adapter: %w", err)
	}
	if c.llm.GetProvider() == adapter.ProviderNone {
		log.Warn("no LLM provider configured; rag requests will fall back to the core path",
			zap.String("provider", cfg.LLM.Provider))
	}

	c.orchestrator = orchestrator.New(orchestrator.Config{
		WorkerPoolSize:  cfg.Orchestrator.WorkerPoolSize,
		RetrievalTopK:   cfg.Orchestrator.RetrievalTopK,
		PipelineTimeout: time.Duration(cfg.Orchestrator.PipelineTimeoutSeconds) * time.Second,
	}, classifier.NewPatternClassifier(), embedder, knowledge, c.llm, orchestrator.WithLogger(logger))

	return c, nil
}

// loadConfig loads and validates the configuration at path.
func loadConfig(ctx context.Context, path string) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}
