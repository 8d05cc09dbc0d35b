package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

var now = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return &t
}

func item(due, completed *time.Time) tracker.WorkItem {
	return tracker.WorkItem{Assignee: &tracker.Assignee{ID: "ana"}, DueDate: due, CompletedAt: completed}
}

func since() time.Time { return now.AddDate(0, 0, -30) }

func TestCompute_NoHistoryIsNew(t *testing.T) {
	p := Compute("ana", nil, since(), now, time.UTC)
	assert.Equal(t, TierNew, p.Tier)
	assert.Zero(t, p.CompletionRate)
	assert.Zero(t, p.OnTimeRate)
	assert.Zero(t, p.Score)
}

func TestCompute_IgnoresItemsOutsideWindow(t *testing.T) {
	items := []tracker.WorkItem{
		item(at(-45), at(-45)), // before window
		item(at(3), nil),       // not yet due
		item(nil, nil),         // undated
	}
	p := Compute("ana", items, since(), now, time.UTC)
	assert.Equal(t, 0, p.TotalCount)
	assert.Equal(t, TierNew, p.Tier)
}

func TestCompute_Consistent(t *testing.T) {
	// Nine on time, one a day late: 90% on-time history.
	var items []tracker.WorkItem
	for i := 1; i <= 9; i++ {
		items = append(items, item(at(-i), at(-i-1)))
	}
	items = append(items, item(at(-10), at(-9)))

	p := Compute("ana", items, since(), now, time.UTC)
	assert.Equal(t, 10, p.TotalCount)
	assert.Equal(t, 1.0, p.CompletionRate)
	assert.InDelta(t, 0.9, p.OnTimeRate, 1e-9)
	assert.InDelta(t, 0.1, p.AverageDelayDays, 1e-9)
	// 0.4 + 0.36 + 0.2*0.99
	assert.InDelta(t, 0.958, p.Score, 1e-9)
	assert.Equal(t, TierConsistent, p.Tier)
}

func TestCompute_Improving(t *testing.T) {
	items := []tracker.WorkItem{
		item(at(-5), at(-6)),
		item(at(-6), at(-7)),
		item(at(-7), at(-4)),
		item(at(-8), nil),
	}
	p := Compute("ana", items, since(), now, time.UTC)
	assert.InDelta(t, 0.75, p.CompletionRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, p.OnTimeRate, 1e-9)
	assert.InDelta(t, 1.0, p.AverageDelayDays, 1e-9)
	// 0.3 + 0.2667 + 0.18
	assert.InDelta(t, 0.74667, p.Score, 1e-4)
	assert.Equal(t, TierImproving, p.Tier)
}

func TestCompute_Struggling(t *testing.T) {
	items := []tracker.WorkItem{
		item(at(-20), at(-5)),
		item(at(-10), nil),
		item(at(-9), nil),
	}
	p := Compute("ana", items, since(), now, time.UTC)
	assert.InDelta(t, 1.0/3.0, p.CompletionRate, 1e-9)
	assert.Zero(t, p.OnTimeRate)
	assert.InDelta(t, 15.0, p.AverageDelayDays, 1e-9)
	assert.Equal(t, TierStruggling, p.Tier)
}

func TestCompute_RatesAlwaysInUnitInterval(t *testing.T) {
	cases := [][]tracker.WorkItem{
		nil,
		{item(at(-1), nil)},
		{item(at(-1), at(-30)), item(at(-2), at(-2))},
		{item(at(-29), at(0)), item(at(-28), nil), item(at(-3), at(-1))},
	}
	for _, items := range cases {
		p := Compute("ana", items, since(), now, time.UTC)
		assert.GreaterOrEqual(t, p.CompletionRate, 0.0)
		assert.LessOrEqual(t, p.CompletionRate, 1.0)
		assert.GreaterOrEqual(t, p.OnTimeRate, 0.0)
		assert.LessOrEqual(t, p.OnTimeRate, 1.0)
		assert.GreaterOrEqual(t, p.Score, 0.0)
		assert.LessOrEqual(t, p.Score, 1.0)
	}
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierConsistent, TierFor(0.8))
	assert.Equal(t, TierImproving, TierFor(0.79))
	assert.Equal(t, TierImproving, TierFor(0.6))
	assert.Equal(t, TierStruggling, TierFor(0.59))
}

type fakeHistory struct {
	items []tracker.WorkItem
	err   error
	since time.Time
}

func (f *fakeHistory) GetAssigneeHistory(_ context.Context, _ string, since time.Time) ([]tracker.WorkItem, error) {
	f.since = since
	return f.items, f.err
}

func TestProfiler_Profile(t *testing.T) {
	h := &fakeHistory{items: []tracker.WorkItem{item(at(-2), at(-3))}}
	p := NewProfiler(h, 30*24*time.Hour, time.Second, time.UTC, zerolog.Nop())
	p.SetClock(func() time.Time { return now })

	prof, err := p.Profile(context.Background(), "ana")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*24*time.Hour), h.since)
	assert.Equal(t, TierConsistent, prof.Tier)
	assert.Equal(t, "ana", prof.AssigneeID)
}

func TestProfiler_FetchErrorDegradesToNew(t *testing.T) {
	h := &fakeHistory{err: errors.New("jira down")}
	p := NewProfiler(h, 30*24*time.Hour, time.Second, time.UTC, zerolog.Nop())

	prof, err := p.Profile(context.Background(), "ana")
	assert.Error(t, err)
	assert.Equal(t, TierNew, prof.Tier)
}
