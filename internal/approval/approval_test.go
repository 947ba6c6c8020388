package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsguide/opsguide-ai/internal/db"
)

func TestRecorderWithStore(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := NewRecorder(store, nil)
	ctx := context.Background()

	pending, err := r.RequireApproval(ctx, "req-1", "step-1", "Execute cancellation via API", "alice")
	require.NoError(t, err)
	assert.Equal(t, DecisionPending, pending.Decision)
	assert.NotEmpty(t, pending.ID)

	approved, err := r.Approve(ctx, "req-1", "step-2", "Execute cancellation via API", "alice")
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, approved.Decision)

	_, err = r.Approve(ctx, "req-other", "step-3", "Run update", "bob")
	require.NoError(t, err)

	trail, err := r.List(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, pending.ID, trail[0].ID)
	assert.Equal(t, DecisionApproved, trail[1].Decision)
	assert.Equal(t, "alice", trail[1].Actor)
}

func TestRecorderWithoutStore(t *testing.T) {
	r := NewRecorder(nil, nil)
	ctx := context.Background()

	rec, err := r.Approve(ctx, "req-1", "step-1", "Run", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", rec.Actor)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = r.List(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNoStore)
}
