package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	// 0 disables the gRPC health listener.
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort),
		})
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: "grpc_port must differ from port",
		})
	}

	if c.Downstream.BaseURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "downstream.base_url",
			Message: "downstream base URL is required",
		})
	} else if u, err := url.Parse(c.Downstream.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "downstream.base_url",
			Message: fmt.Sprintf("invalid base URL '%s', expected http(s)://host[:port]", c.Downstream.BaseURL),
		})
	}

	if c.Downstream.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "downstream.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Downstream.TimeoutSeconds),
		})
	}

	if c.Orchestrator.WorkerPoolSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.worker_pool_size",
			Message: fmt.Sprintf("worker_pool_size must be at least 1, got %d", c.Orchestrator.WorkerPoolSize),
		})
	}

	if c.Orchestrator.RetrievalTopK < 1 {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.retrieval_top_k",
			Message: fmt.Sprintf("retrieval_top_k must be at least 1, got %d", c.Orchestrator.RetrievalTopK),
		})
	}

	if c.Orchestrator.PipelineTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.pipeline_timeout_seconds",
			Message: fmt.Sprintf("pipeline_timeout_seconds must be at least 1, got %d", c.Orchestrator.PipelineTimeoutSeconds),
		})
	}

	switch c.LLM.Provider {
	case "mock":
	case "openai":
		hasKey := false
		if apiKey, ok := c.LLM.OpenAI["api_key"].(string); ok && apiKey != "" {
			hasKey = true
		} else if os.Getenv("OPENAI_API_KEY") != "" {
			hasKey = true
		}
		if !hasKey {
			errs = append(errs, &ValidationError{
				Field:   "llm.openai.api_key",
				Message: "OpenAI API key is required",
			})
		}
		if model, ok := c.LLM.OpenAI["model"].(string); !ok || model == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.openai.model",
				Message: "OpenAI model is required",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: mock, openai", c.LLM.Provider),
		})
	}

	if c.Embedding.Dimensions < 1 {
		errs = append(errs, &ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("dimensions must be at least 1, got %d", c.Embedding.Dimensions),
		})
	}

	if c.Embedding.CacheSize < 0 {
		errs = append(errs, &ValidationError{
			Field:   "embedding.cache_size",
			Message: fmt.Sprintf("cache_size cannot be negative, got %d", c.Embedding.CacheSize),
		})
	}

	if c.Knowledge.SeedFile != "" {
		if _, err := os.Stat(c.Knowledge.SeedFile); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "knowledge.seed_file",
				Message: fmt.Sprintf("seed file does not exist: %s", c.Knowledge.SeedFile),
			})
		}
	}

	if c.Database.Enabled && c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required when the database is enabled",
		})
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "rate_limit.requests_per_minute",
			Message: fmt.Sprintf("requests_per_minute cannot be negative, got %d", c.RateLimit.RequestsPerMinute),
		})
	}

	return errs
}
