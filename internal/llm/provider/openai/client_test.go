package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/llm/types"
)

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		model     string
		wantModel string
		wantError bool
	}{
		{name: "valid configuration", apiKey: "sk-test123", model: "gpt-4o", wantModel: "gpt-4o"},
		{name: "empty API key", apiKey: "", model: "gpt-4o", wantError: true},
		{name: "default model", apiKey: "sk-test123", model: "", wantModel: DefaultModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenAIClient(tt.apiKey, tt.model)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, client.Model())
		})
	}
}

func TestCompleteParsesFirstChoice(t *testing.T) {
	var gotAuth string
	var gotBody openAIChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini-2024",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "1. Validate case\n2. Cancel it"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("sk-test", "")
	require.NoError(t, err)
	client.SetBaseURL(srv.URL + "/")
	client.SetMaxTokens(256)

	resp, err := client.Complete(context.Background(), types.UserPrompt("cancel case 1"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, DefaultModel, gotBody.Model)
	assert.Equal(t, 256, gotBody.MaxTokens)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "cancel case 1", gotBody.Messages[0].Content)

	assert.Equal(t, "1. Validate case\n2. Cancel it", resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, "bad key"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"invalid json", http.StatusOK, `not json`, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewOpenAIClient("sk-test", "")
			require.NoError(t, err)
			client.SetBaseURL(srv.URL)

			_, err = client.Complete(context.Background(), types.UserPrompt("x"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompleteRequiresMessages(t *testing.T) {
	client, err := NewOpenAIClient("sk-test", "")
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), nil)
	assert.Error(t, err)
}
