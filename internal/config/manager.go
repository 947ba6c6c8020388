package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("OPSGUIDE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults + env vars are enough to run.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.Get(ctx):
		default:
			// Channel full, the consumer still has a pending update.
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	m.viper.SetDefault("downstream.base_url", defaults.Downstream.BaseURL)
	m.viper.SetDefault("downstream.timeout_seconds", defaults.Downstream.TimeoutSeconds)

	m.viper.SetDefault("execution.fail_open", defaults.Execution.FailOpen)

	m.viper.SetDefault("orchestrator.worker_pool_size", defaults.Orchestrator.WorkerPoolSize)
	m.viper.SetDefault("orchestrator.retrieval_top_k", defaults.Orchestrator.RetrievalTopK)
	m.viper.SetDefault("orchestrator.pipeline_timeout_seconds", defaults.Orchestrator.PipelineTimeoutSeconds)

	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.openai", defaults.LLM.OpenAI)

	m.viper.SetDefault("embedding.dimensions", defaults.Embedding.Dimensions)
	m.viper.SetDefault("embedding.cache_size", defaults.Embedding.CacheSize)

	m.viper.SetDefault("knowledge.seed_file", defaults.Knowledge.SeedFile)

	m.viper.SetDefault("database.enabled", defaults.Database.Enabled)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.audit_file_path", defaults.Logging.AuditFilePath)

	m.viper.SetDefault("rate_limit.requests_per_minute", defaults.RateLimit.RequestsPerMinute)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.Downstream.BaseURL = m.viper.GetString("downstream.base_url")
	cfg.Downstream.TimeoutSeconds = m.viper.GetInt("downstream.timeout_seconds")

	cfg.Execution.FailOpen = m.viper.GetBool("execution.fail_open")

	cfg.Orchestrator.WorkerPoolSize = m.viper.GetInt("orchestrator.worker_pool_size")
	cfg.Orchestrator.RetrievalTopK = m.viper.GetInt("orchestrator.retrieval_top_k")
	cfg.Orchestrator.PipelineTimeoutSeconds = m.viper.GetInt("orchestrator.pipeline_timeout_seconds")

	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.OpenAI = m.viper.GetStringMap("llm.openai")

	cfg.Embedding.Dimensions = m.viper.GetInt("embedding.dimensions")
	cfg.Embedding.CacheSize = m.viper.GetInt("embedding.cache_size")

	cfg.Knowledge.SeedFile = m.viper.GetString("knowledge.seed_file")

	cfg.Database.Enabled = m.viper.GetBool("database.enabled")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.AuditFilePath = m.viper.GetString("logging.audit_file_path")

	cfg.RateLimit.RequestsPerMinute = m.viper.GetInt("rate_limit.requests_per_minute")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data
// and the short aliases used by container deployments.
func (m *viperConfigManager) applyEnvOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if m.config.LLM.OpenAI == nil {
			m.config.LLM.OpenAI = make(map[string]interface{})
		}
		m.config.LLM.OpenAI["api_key"] = apiKey
	}

	if baseURL := os.Getenv("OPSGUIDE_DOWNSTREAM_URL"); baseURL != "" {
		m.config.Downstream.BaseURL = baseURL
	}

	if portEnv := os.Getenv("OPSGUIDE_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}

	if failOpen := os.Getenv("OPSGUIDE_FAIL_OPEN"); failOpen != "" {
		m.config.Execution.FailOpen = m.viper.GetBool("fail_open")
	}
}
