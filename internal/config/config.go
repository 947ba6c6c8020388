package config

import "context"

// Package config provides configuration management for opsguide-ai.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (OPSGUIDE_* prefix, "." replaced by "_")
//   2. YAML config file (default: /etc/opsguide/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8081)
//      - grpc_port: gRPC health port (0 disables)
//      - allowed_origins: CORS / WebSocket origins
//
//   2. Downstream
//      - base_url: operational API base URL (default http://localhost:8094)
//      - timeout_seconds: per-call timeout
//
//   3. Execution
//      - fail_open: substitute a success result when a downstream call fails
//
//   4. Orchestrator
//      - worker_pool_size: concurrent pipeline units (default 10)
//      - retrieval_top_k: knowledge chunks per query (default 5)
//      - pipeline_timeout_seconds: augmented pipeline deadline before fallback
//
//   5. LLM / Embedding / Knowledge
//      - llm.provider: "mock" | "openai"
//      - embedding.dimensions, embedding.cache_size
//      - knowledge.seed_file: YAML file with knowledge chunks
//
//   6. Database
//      - enabled: persist the approval and execution trail
//      - sqlite_path: path to SQLite file
//
//   7. Logging
//      - level, format, file_path, audit_file_path
//
//   8. Rate limit
//      - requests_per_minute: per-user budget on the decision endpoints
//
// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Port           int
		GRPCPort       int
		AllowedOrigins []string
	}

	// Downstream operational API
	Downstream struct {
		BaseURL        string
		TimeoutSeconds int
	}

	Execution struct {
		FailOpen bool
	}

	Orchestrator struct {
		WorkerPoolSize         int
		RetrievalTopK          int
		PipelineTimeoutSeconds int
	}

	LLM struct {
		Provider string
		OpenAI   map[string]interface{}
	}

	Embedding struct {
		Dimensions int
		CacheSize  int
	}

	Knowledge struct {
		SeedFile string
	}

	Database struct {
		Enabled    bool
		SQLitePath string
	}

	Logging struct {
		Level         string
		Format        string
		FilePath      string
		AuditFilePath string
	}

	RateLimit struct {
		RequestsPerMinute int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads the config file and environment.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/opsguide/config.yaml")
}
