package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opsguide/opsguide-ai/internal/llm/types"
)

// Package openai provides the OpenAI-compatible chat completions provider.
//
// Any endpoint speaking the /chat/completions protocol works (OpenAI,
// vLLM, LocalAI, LM Studio); set base_url accordingly. Only non-streaming
// completions are used by the decision pipeline.

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 60 * time.Second
)

// OpenAIClientImpl talks to an OpenAI-compatible API.
type OpenAIClientImpl struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

type openAIChatRequest struct {
	Model     string          `json:"model"`
	Messages  []types.Message `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

// NewOpenAIClient creates a new OpenAI client with configuration.
func NewOpenAIClient(apiKey, model string) (*OpenAIClientImpl, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if model == "" {
		model = DefaultModel
	}

	return &OpenAIClientImpl{
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		baseURL:   DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Complete sends the conversation and returns the first choice.
func (c *OpenAIClientImpl) Complete(ctx context.Context, messages []types.Message) (*types.CompletionResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	request := openAIChatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	}

	body, err := c.makeRequest(ctx, "/chat/completions", request)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API request failed: %w", err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse OpenAI response: invalid JSON")
	}
	parsed := gjson.ParseBytes(body)

	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return nil, fmt.Errorf("no choices in OpenAI response")
	}

	model := parsed.Get("model").String()
	if model == "" {
		model = c.model
	}

	return &types.CompletionResponse{
		Content: content.String(),
		Model:   model,
		Usage: types.TokenUsage{
			PromptTokens:     int(parsed.Get("usage.prompt_tokens").Int()),
			CompletionTokens: int(parsed.Get("usage.completion_tokens").Int()),
			TotalTokens:      int(parsed.Get("usage.total_tokens").Int()),
		},
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClientImpl) Model() string { return c.model }

// makeRequest makes an HTTP request to the API
func (c *OpenAIClientImpl) makeRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(responseBody, "error.message").String()
		if msg == "" {
			msg = string(responseBody)
		}
		return nil, fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, msg)
	}

	return responseBody, nil
}

// SetBaseURL points the client at another OpenAI-compatible endpoint.
func (c *OpenAIClientImpl) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }

// SetMaxTokens overrides the completion token limit. Non-positive values
// are ignored.
func (c *OpenAIClientImpl) SetMaxTokens(n int) {
	if n > 0 {
		c.maxTokens = n
	}
}
