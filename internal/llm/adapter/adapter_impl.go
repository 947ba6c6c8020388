package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsguide/opsguide-ai/internal/llm/provider/mock"
	"github.com/opsguide/opsguide-ai/internal/llm/provider/openai"
	"github.com/opsguide/opsguide-ai/internal/llm/types"
	"github.com/opsguide/opsguide-ai/internal/metrics"
)

// ProviderType identifies which LLM provider is configured
type ProviderType string

const (
	ProviderMock   ProviderType = "mock"
	ProviderOpenAI ProviderType = "openai"
	ProviderNone   ProviderType = "none" // No LLM configured
)

// ErrProviderNotConfigured is returned when an LLM operation is attempted without a configured provider
var ErrProviderNotConfigured = errors.New("LLM provider not configured")

// Config holds LLM provider configuration
type Config struct {
	Provider  ProviderType `json:"provider"`
	APIKey    string       `json:"api_key"`
	BaseURL   string       `json:"base_url"`
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
}

// ConfigFromMap builds a Config from the provider name and its settings
// map as stored in the service configuration.
func ConfigFromMap(provider string, settings map[string]interface{}) *Config {
	cfg := &Config{Provider: ProviderType(provider)}
	if v, ok := settings["api_key"].(string); ok {
		cfg.APIKey = v
	}
	if v, ok := settings["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := settings["model"].(string); ok {
		cfg.Model = v
	}
	switch v := settings["max_tokens"].(type) {
	case int:
		cfg.MaxTokens = v
	case int64:
		cfg.MaxTokens = int(v)
	case float64:
		cfg.MaxTokens = int(v)
	}
	return cfg
}

// completer is what every provider client implements.
type completer interface {
	Complete(ctx context.Context, messages []types.Message) (*types.CompletionResponse, error)
}

// llmAdapterImpl is the unified adapter implementation
type llmAdapterImpl struct {
	provider ProviderType
	model    string // Model name for metrics
	client   completer
}

var _ LLMAdapter = (*llmAdapterImpl)(nil)

// NewLLMAdapter creates the adapter for cfg. An empty provider or missing
// OpenAI credentials yield an unconfigured adapter, not an error.
func NewLLMAdapter(cfg *Config) (LLMAdapter, error) {
	if cfg == nil || cfg.Provider == "" || cfg.Provider == ProviderNone {
		return &llmAdapterImpl{provider: ProviderNone}, nil
	}

	switch cfg.Provider {
	case ProviderMock:
		return &llmAdapterImpl{
			provider: ProviderMock,
			model:    mock.ModelName,
			client:   mock.NewClient(),
		}, nil

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return &llmAdapterImpl{provider: ProviderNone}, nil
		}
		client, err := openai.NewOpenAIClient(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		if cfg.BaseURL != "" {
			client.SetBaseURL(cfg.BaseURL)
		}
		client.SetMaxTokens(cfg.MaxTokens)
		return &llmAdapterImpl{
			provider: ProviderOpenAI,
			model:    client.Model(),
			client:   client,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Complete delegates to the provider client
func (a *llmAdapterImpl) Complete(ctx context.Context, messages []types.Message) (*types.CompletionResponse, error) {
	if a.provider == ProviderNone {
		return nil, ErrProviderNotConfigured
	}

	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.LLMRequestDuration.WithLabelValues(string(a.provider), a.model).Observe(duration)
	}()

	resp, err := a.client.Complete(ctx, messages)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(string(a.provider), a.model, status).Inc()

	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(string(a.provider), a.model, "input").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(string(a.provider), a.model, "output").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// GetProvider returns the configured provider type
func (a *llmAdapterImpl) GetProvider() ProviderType {
	return a.provider
}
