package adapter

import (
	"context"

	"github.com/opsguide/opsguide-ai/internal/llm/types"
)

// Package adapter provides a unified interface over the reasoning providers.
//
// Responsibilities:
//   - Hide provider differences behind one Complete call
//   - Record request counts, durations and token usage per provider/model
//   - Report ErrProviderNotConfigured instead of failing at startup
//
// Supported Providers:
//   1. mock: deterministic canned answers, no network (default)
//   2. openai: any OpenAI-compatible chat completions endpoint
//
// Integration Points:
//   - Orchestrator: the "reason" node of the augmented pipeline
//   - Metrics: opsguide_ai_llm_* series

// LLMAdapter defines the unified interface for LLM providers.
type LLMAdapter interface {
	// Complete sends the conversation and returns the completion.
	Complete(ctx context.Context, messages []types.Message) (*types.CompletionResponse, error)

	// GetProvider returns the active provider.
	GetProvider() ProviderType
}
