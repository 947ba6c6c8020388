// Package mock provides a deterministic offline LLM provider. It answers
// from canned case-management responses and never makes network calls.
package mock

import (
	"context"
	"strings"

	"github.com/opsguide/opsguide-ai/internal/llm/types"
)

const ModelName = "mock-case-management"

const (
	cancelCaseAnswer = "Based on the knowledge base, to cancel a case:\n\n" +
		"1. Verify the case exists and is in a cancellable state (pending, in_progress, under_review, on_hold)\n" +
		"2. Check for active dependencies using GET /api/v2/cases/{case_id}/dependencies\n" +
		"3. Execute cancellation via POST /api/v2/cases/{case_id}/cancel with proper authorization\n" +
		"4. Monitor the cancellation status using GET /api/v2/cases/{case_id}/cancel/status\n\n" +
		"Risk Level: Medium - Related orders may be affected and customer notifications will be triggered."

	caseStatusAnswer = "Based on the knowledge base, to update case status:\n\n" +
		"1. Verify the case exists using GET /api/v2/cases/{case_id}\n" +
		"2. Check that the status transition is valid (accessioning → grossing → embedding → cutting → staining → microscopy → under_review → completed)\n" +
		"3. Update status via PATCH /api/v2/cases/{case_id}/status with required artifacts\n" +
		"4. Verify the status change was applied successfully\n\n" +
		"Valid statuses: accessioning, grossing, embedding, cutting, staining, microscopy, under_review, on_hold, completed, cancelled, archived, closed."

	helpAnswer = "I can help you with case management operations. Please specify whether you want to cancel a case or update case status, and provide the case ID."
)

// Client is the mock provider.
type Client struct{}

// NewClient creates a mock client.
func NewClient() *Client { return &Client{} }

// Complete picks a canned answer from keywords in the whole conversation.
func (c *Client) Complete(ctx context.Context, messages []types.Message) (*types.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(strings.ToLower(m.Content))
		sb.WriteByte('\n')
	}
	prompt := sb.String()

	answer := helpAnswer
	switch {
	case strings.Contains(prompt, "cancel") && strings.Contains(prompt, "case"):
		answer = cancelCaseAnswer
	case strings.Contains(prompt, "status") && strings.Contains(prompt, "case"):
		answer = caseStatusAnswer
	}

	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(answer))
	return &types.CompletionResponse{
		Content: answer,
		Model:   ModelName,
		Usage: types.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}
