package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface for the step approval and execution trail.
// It never holds state needed to answer a decision request.
type Store interface {
	ApprovalStore
	ExecutionStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Approval store ───────────────────────────────────────────────────────────

// ApprovalRecord is one approval decision on a step.
type ApprovalRecord struct {
	ID        string    `json:"id"`
	StepID    string    `json:"stepId"`
	RequestID string    `json:"requestId"`
	StepName  string    `json:"stepName"`
	Actor     string    `json:"actor"`
	Decision  string    `json:"decision"` // pending | approved
	CreatedAt time.Time `json:"createdAt"`
}

// ApprovalQuery filters approval queries. Empty fields match everything.
type ApprovalQuery struct {
	RequestID string
	StepID    string
	Decision  string
	Limit     int
	Offset    int
}

// ApprovalStore persists the append-only approval trail.
type ApprovalStore interface {
	// AppendApproval writes an immutable approval record.
	AppendApproval(ctx context.Context, rec *ApprovalRecord) error

	// ListApprovals returns matching records, oldest first.
	ListApprovals(ctx context.Context, q ApprovalQuery) ([]*ApprovalRecord, error)
}

// ─── Execution store ──────────────────────────────────────────────────────────

// ExecutionRecord is the persisted outcome of one step execution.
type ExecutionRecord struct {
	StepID       string    `json:"stepId"`
	RequestID    string    `json:"requestId"`
	StepName     string    `json:"stepName"`
	StepType     string    `json:"stepType"`
	Status       string    `json:"status"`
	UserID       string    `json:"userId"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	ErrorMessage string    `json:"errorMessage"`
	Result       string    `json:"result"` // JSON blob
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt"`
}

// ExecutionStore persists step execution history.
type ExecutionStore interface {
	// SaveExecution creates or updates an execution record.
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error

	// GetExecution retrieves an execution by step id.
	GetExecution(ctx context.Context, stepID string) (*ExecutionRecord, error)

	// ListExecutions returns executions for a request, newest first.
	ListExecutions(ctx context.Context, requestID string, limit int) ([]*ExecutionRecord, error)
}
