package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
)

var base = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	store.SetClock(func() time.Time { return base })
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"decisions", "dead_letters", "cycles", "meta"} {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var version string
	require.NoError(t, store.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "2", version)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s1, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()
}

func TestDecisions_RecordAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordDecision(ctx, &DecisionRecord{
		CycleID: "c1", ItemID: "1", ItemKey: "OPS-1", Urgency: "overdue", DaysLate: 2,
		Signal: "blocked", ShouldEmit: true, Probability: 0.7, Draw: 0.2,
		Reason: "overdue_2d", Outcome: OutcomeEmitted, Message: "hello", CreatedAt: base.UnixMilli(),
	}))
	require.NoError(t, store.RecordDecision(ctx, &DecisionRecord{
		CycleID: "c1", ItemID: "2", Urgency: "normal", Signal: "unknown",
		Reason: "cooldown_active", Outcome: OutcomeSkipped, CreatedAt: base.Add(time.Second).UnixMilli(),
	}))

	all, err := store.ListDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2", all[0].ItemID, "newest first")
	assert.NotEmpty(t, all[0].ID)

	emitted, err := store.ListDecisions(ctx, DecisionFilter{Outcome: OutcomeEmitted})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	d := emitted[0]
	assert.True(t, d.ShouldEmit)
	assert.Equal(t, "OPS-1", d.ItemKey)
	assert.InDelta(t, 0.7, d.Probability, 1e-9)
	assert.InDelta(t, 0.2, d.Draw, 1e-9)
	assert.Equal(t, "hello", d.Message)

	limited, err := store.ListDecisions(ctx, DecisionFilter{CycleID: "c1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeadLetters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dl := &DeadLetter{CycleID: "c1", ItemID: "1", ItemKey: "OPS-1", Message: "hi", Error: "timeout"}
	require.NoError(t, store.SaveDeadLetter(ctx, dl))
	require.NotEmpty(t, dl.ID)
	require.NoError(t, store.SaveDeadLetter(ctx, &DeadLetter{CycleID: "c1", ItemID: "2", Message: "hi", Error: "500"}))

	open, err := store.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	require.NoError(t, store.ResolveDeadLetter(ctx, dl.ID))
	assert.ErrorIs(t, store.ResolveDeadLetter(ctx, dl.ID), perrors.ErrNotFound)

	n, err := store.ResolveItem(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	open, err = store.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCycles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	last, err := store.LastCycle(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, store.RecordCycle(ctx, &CycleRecord{ID: "a", StartedAt: base.UnixMilli(), Candidates: 3, Processed: 3, Emitted: 1, Skipped: 2}))
	require.NoError(t, store.RecordCycle(ctx, &CycleRecord{ID: "b", StartedAt: base.Add(time.Minute).UnixMilli(), Stopped: true}))

	last, err = store.LastCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "b", last.ID)
	assert.True(t, last.Stopped)
}

func TestRunRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := base.Add(-40 * 24 * time.Hour).UnixMilli()

	require.NoError(t, store.RecordDecision(ctx, &DecisionRecord{CycleID: "old", ItemID: "1", Urgency: "normal", Reason: "x", Outcome: OutcomeSkipped, CreatedAt: old}))
	require.NoError(t, store.RecordDecision(ctx, &DecisionRecord{CycleID: "new", ItemID: "1", Urgency: "normal", Reason: "x", Outcome: OutcomeSkipped}))
	require.NoError(t, store.RecordCycle(ctx, &CycleRecord{ID: "old", StartedAt: old}))
	require.NoError(t, store.SaveDeadLetter(ctx, &DeadLetter{ID: "gone", ItemID: "1", Message: "m", Error: "e", CreatedAt: old, ResolvedAt: old}))
	require.NoError(t, store.SaveDeadLetter(ctx, &DeadLetter{ID: "kept", ItemID: "1", Message: "m", Error: "e", CreatedAt: old}))

	res, err := store.RunRetention(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Decisions)
	assert.Equal(t, int64(1), res.Cycles)
	assert.Equal(t, int64(1), res.DeadLetters)

	left, err := store.ListDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].CycleID)

	open, err := store.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "kept", open[0].ID)
}

func TestDBSizeBytes(t *testing.T) {
	store := newTestStore(t)
	size, err := store.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
