package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/llm/types"
)

func TestNewLLMAdapterProviders(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want ProviderType
	}{
		{"nil config", nil, ProviderNone},
		{"empty provider", &Config{}, ProviderNone},
		{"mock", &Config{Provider: ProviderMock}, ProviderMock},
		{"openai without key", &Config{Provider: ProviderOpenAI}, ProviderNone},
		{"openai with key", &Config{Provider: ProviderOpenAI, APIKey: "sk-test"}, ProviderOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewLLMAdapter(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.GetProvider())
		})
	}

	_, err := NewLLMAdapter(&Config{Provider: "bedrock"})
	assert.Error(t, err)
}

func TestUnconfiguredAdapterFails(t *testing.T) {
	a, err := NewLLMAdapter(nil)
	require.NoError(t, err)

	_, err = a.Complete(context.Background(), types.UserPrompt("hi"))
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestMockAnswers(t *testing.T) {
	a, err := NewLLMAdapter(&Config{Provider: ProviderMock})
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := a.Complete(ctx, types.UserPrompt("User Query: cancel case CASE-2024-001"))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "to cancel a case")
	assert.Contains(t, resp.Content, "3. Execute cancellation via POST /api/v2/cases/{case_id}/cancel")
	assert.Positive(t, resp.Usage.TotalTokens)

	resp, err = a.Complete(ctx, types.UserPrompt("update case status"))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "to update case status")

	resp, err = a.Complete(ctx, types.UserPrompt("restart the printer"))
	require.NoError(t, err)
	assert.NotContains(t, resp.Content, "1.")
}

func TestOpenAIAdapterUsesBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	cfg := ConfigFromMap("openai", map[string]interface{}{
		"api_key":    "sk-test",
		"base_url":   srv.URL,
		"model":      "gpt-test",
		"max_tokens": 128,
	})
	assert.Equal(t, 128, cfg.MaxTokens)

	a, err := NewLLMAdapter(cfg)
	require.NoError(t, err)

	resp, err := a.Complete(context.Background(), types.UserPrompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "gpt-test", resp.Model)
}
