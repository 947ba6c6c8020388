// Package approval models step approval as an audited entity: who decided,
// when, and what. Records go to the audit log always and to the SQLite trail
// when a store is configured.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/db"
	"github.com/opsguide/opsguide-ai/internal/metrics"
)

// Decision is the outcome recorded for a step.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
)

// ErrNoStore is returned by List when no persistent trail is configured.
var ErrNoStore = errors.New("approval store not configured")

// Record is one approval decision.
type Record struct {
	ID        string    `json:"id"`
	StepID    string    `json:"stepId"`
	RequestID string    `json:"requestId"`
	StepName  string    `json:"stepName"`
	Actor     string    `json:"actor"`
	Decision  Decision  `json:"decision"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recorder writes approval records.
type Recorder struct {
	store  db.ApprovalStore
	logger audit.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. store may be nil; logger nil means no audit output.
func NewRecorder(store db.ApprovalStore, logger audit.Logger) *Recorder {
	if logger == nil {
		logger = audit.NewNopLogger()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// RequireApproval records that a step was held at the approval gate.
func (r *Recorder) RequireApproval(ctx context.Context, requestID, stepID, stepName, actor string) (*Record, error) {
	rec := r.newRecord(requestID, stepID, stepName, actor, DecisionPending)
	if err := r.logger.LogStepApprovalRequired(ctx, requestID, stepID, stepName); err != nil {
		return rec, fmt.Errorf("audit approval required: %w", err)
	}
	return rec, r.persist(ctx, rec)
}

// Approve records that actor explicitly released a step past the gate.
func (r *Recorder) Approve(ctx context.Context, requestID, stepID, stepName, actor string) (*Record, error) {
	rec := r.newRecord(requestID, stepID, stepName, actor, DecisionApproved)
	if err := r.logger.LogStepApproved(ctx, requestID, stepID, stepName, actor); err != nil {
		return rec, fmt.Errorf("audit approval: %w", err)
	}
	return rec, r.persist(ctx, rec)
}

// List returns the recorded trail for a request, oldest first.
func (r *Recorder) List(ctx context.Context, requestID string) ([]*Record, error) {
	if r.store == nil {
		return nil, ErrNoStore
	}
	rows, err := r.store.ListApprovals(ctx, db.ApprovalQuery{RequestID: requestID})
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &Record{
			ID:        row.ID,
			StepID:    row.StepID,
			RequestID: row.RequestID,
			StepName:  row.StepName,
			Actor:     row.Actor,
			Decision:  Decision(row.Decision),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (r *Recorder) newRecord(requestID, stepID, stepName, actor string, d Decision) *Record {
	metrics.ApprovalsTotal.WithLabelValues(string(d)).Inc()
	return &Record{
		ID:        uuid.NewString(),
		StepID:    stepID,
		RequestID: requestID,
		StepName:  stepName,
		Actor:     actor,
		Decision:  d,
		CreatedAt: r.now().UTC(),
	}
}

func (r *Recorder) persist(ctx context.Context, rec *Record) error {
	if r.store == nil {
		return nil
	}
	err := r.store.AppendApproval(ctx, &db.ApprovalRecord{
		ID:        rec.ID,
		StepID:    rec.StepID,
		RequestID: rec.RequestID,
		StepName:  rec.StepName,
		Actor:     rec.Actor,
		Decision:  string(rec.Decision),
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("persist approval: %w", err)
	}
	return nil
}
