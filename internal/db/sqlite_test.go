package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Approvals ────────────────────────────────────────────────────────────────

func TestApprovalTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	recs := []*ApprovalRecord{
		{ID: "a-1", StepID: "step-1", RequestID: "req-1", StepName: "Execute cancellation via API", Actor: "alice", Decision: "pending", CreatedAt: now},
		{ID: "a-2", StepID: "step-2", RequestID: "req-1", StepName: "Execute cancellation via API", Actor: "alice", Decision: "approved", CreatedAt: now.Add(time.Second)},
		{ID: "a-3", StepID: "step-9", RequestID: "req-2", StepName: "Run update", Actor: "bob", Decision: "pending", CreatedAt: now},
	}
	for _, r := range recs {
		if err := s.AppendApproval(ctx, r); err != nil {
			t.Fatalf("AppendApproval %s: %v", r.ID, err)
		}
	}

	got, err := s.ListApprovals(ctx, ApprovalQuery{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("ListApprovals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 approvals for req-1, got %d", len(got))
	}
	if got[0].ID != "a-1" || got[1].ID != "a-2" {
		t.Errorf("expected oldest first, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Decision != "approved" || got[1].Actor != "alice" {
		t.Errorf("unexpected record %+v", got[1])
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Errorf("expected created_at %v, got %v", now, got[0].CreatedAt)
	}

	pending, err := s.ListApprovals(ctx, ApprovalQuery{Decision: "pending"})
	if err != nil {
		t.Fatalf("ListApprovals pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending approvals, got %d", len(pending))
	}

	limited, err := s.ListApprovals(ctx, ApprovalQuery{Limit: 1})
	if err != nil {
		t.Fatalf("ListApprovals limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 approval with limit, got %d", len(limited))
	}
}

func TestApprovalRejectsUnknownDecision(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendApproval(context.Background(), &ApprovalRecord{
		ID: "a-x", StepID: "s", Decision: "maybe", CreatedAt: time.Now(),
	})
	if err == nil {
		t.Fatal("expected CHECK constraint violation")
	}
}

// ─── Executions ───────────────────────────────────────────────────────────────

func TestExecutionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Round(time.Second)

	rec := &ExecutionRecord{
		StepID:    "step-1",
		RequestID: "req-1",
		StepName:  "Validate case exists and is cancellable",
		StepType:  "VALIDATION",
		Status:    "RUNNING",
		UserID:    "alice",
		StartedAt: started,
	}
	if err := s.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}

	rec.Status = "COMPLETED"
	rec.Success = true
	rec.Message = "Entity exists and is in valid state"
	rec.Result = `{"entity_id":"2024-001"}`
	rec.CompletedAt = started.Add(2 * time.Second)
	if err := s.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution update: %v", err)
	}

	got, err := s.GetExecution(ctx, "step-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != "COMPLETED" || !got.Success {
		t.Errorf("expected completed success, got %s %v", got.Status, got.Success)
	}
	if got.Result != rec.Result {
		t.Errorf("expected result %s, got %s", rec.Result, got.Result)
	}
	if !got.CompletedAt.Equal(rec.CompletedAt) {
		t.Errorf("expected completed_at %v, got %v", rec.CompletedAt, got.CompletedAt)
	}

	list, err := s.ListExecutions(ctx, "req-1", 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 execution, got %d", len(list))
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExecution(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.AppendApproval(context.Background(), &ApprovalRecord{
		ID: "a-1", StepID: "s", Decision: "pending", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AppendApproval: %v", err)
	}
	_ = s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.ListApprovals(context.Background(), ApprovalQuery{})
	if err != nil {
		t.Fatalf("ListApprovals: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected record to survive reopen, got %d", len(got))
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
