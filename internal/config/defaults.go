package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.GRPCPort = 0
	cfg.Server.AllowedOrigins = []string{"*"}

	// Downstream defaults
	cfg.Downstream.BaseURL = "http://localhost:8094"
	cfg.Downstream.TimeoutSeconds = 10

	// Downstream failures are masked as success unless turned off.
	cfg.Execution.FailOpen = true

	// Orchestrator defaults
	cfg.Orchestrator.WorkerPoolSize = 10
	cfg.Orchestrator.RetrievalTopK = 5
	cfg.Orchestrator.PipelineTimeoutSeconds = 30

	// LLM defaults
	cfg.LLM.Provider = "mock"
	cfg.LLM.OpenAI = map[string]interface{}{
		"base_url":   "https://api.openai.com/v1",
		"model":      "gpt-4o-mini",
		"max_tokens": 2048,
	}

	// Embedding defaults
	cfg.Embedding.Dimensions = 1536
	cfg.Embedding.CacheSize = 1024

	cfg.Knowledge.SeedFile = ""

	// Database defaults
	cfg.Database.Enabled = false
	cfg.Database.SQLitePath = "/var/lib/opsguide/opsguide-ai.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = ""
	cfg.Logging.AuditFilePath = ""

	cfg.RateLimit.RequestsPerMinute = 120

	return cfg
}
