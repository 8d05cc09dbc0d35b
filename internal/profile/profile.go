// Package profile computes a rolling delivery score per assignee from the
// items they had due inside a lookback window.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// Tier is a qualitative summary of an assignee's recent delivery history.
type Tier string

const (
	TierConsistent Tier = "consistent"
	TierImproving  Tier = "improving"
	TierStruggling Tier = "struggling"
	TierNew        Tier = "new"
)

const (
	consistentScore = 0.8
	improvingScore  = 0.6
	// delayHorizonDays is the average delay at which the delay term hits zero.
	delayHorizonDays = 10.0
)

// Profile is a snapshot re-derived every cycle. Nothing is persisted.
type Profile struct {
	AssigneeID       string  `json:"assignee_id"`
	TotalCount       int     `json:"total_count"`
	CompletedCount   int     `json:"completed_count"`
	OnTimeCount      int     `json:"on_time_count"`
	CompletionRate   float64 `json:"completion_rate"`
	OnTimeRate       float64 `json:"on_time_rate"`
	AverageDelayDays float64 `json:"average_delay_days"`
	Score            float64 `json:"score"`
	Tier             Tier    `json:"tier"`
}

// History is the slice of tracker.Store the profiler needs.
type History interface {
	GetAssigneeHistory(ctx context.Context, assigneeID string, since time.Time) ([]tracker.WorkItem, error)
}

// Profiler computes profiles against a History.
type Profiler struct {
	history  History
	lookback time.Duration
	timeout  time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// NewProfiler creates a profiler with the given lookback window.
func NewProfiler(history History, lookback, timeout time.Duration, loc *time.Location, logger zerolog.Logger) *Profiler {
	if loc == nil {
		loc = time.UTC
	}
	return &Profiler{
		history:  history,
		lookback: lookback,
		timeout:  timeout,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "profile").Logger(),
	}
}

// SetClock overrides the wall clock (for testing).
func (p *Profiler) SetClock(now func() time.Time) { p.now = now }

// Profile fetches the assignee's recent history and scores it. On a fetch
// failure it returns a new-tier profile alongside the error so callers can
// keep going without tier-specific phrasing.
func (p *Profiler) Profile(ctx context.Context, assigneeID string) (Profile, error) {
	now := p.now()
	since := now.Add(-p.lookback)

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	items, err := p.history.GetAssigneeHistory(callCtx, assigneeID, since)
	if err != nil {
		return Profile{AssigneeID: assigneeID, Tier: TierNew}, fmt.Errorf("profiling %s: %w", assigneeID, err)
	}

	prof := Compute(assigneeID, items, since, now, p.loc)
	p.logger.Debug().
		Str("assignee", assigneeID).
		Int("items", prof.TotalCount).
		Float64("score", prof.Score).
		Str("tier", string(prof.Tier)).
		Msg("profile computed")
	return prof, nil
}

// Compute scores the items whose due date lies in [since, now].
func Compute(assigneeID string, items []tracker.WorkItem, since, now time.Time, loc *time.Location) Profile {
	prof := Profile{AssigneeID: assigneeID, Tier: TierNew}

	var delaySum float64
	for _, it := range items {
		if it.DueDate == nil || it.DueDate.Before(since) || it.DueDate.After(now) {
			continue
		}
		prof.TotalCount++
		if it.CompletedAt == nil {
			continue
		}
		prof.CompletedCount++
		delay := delayDays(*it.DueDate, *it.CompletedAt, loc)
		if delay == 0 {
			prof.OnTimeCount++
		}
		delaySum += float64(delay)
	}

	if prof.TotalCount == 0 {
		return prof
	}

	prof.CompletionRate = clamp01(float64(prof.CompletedCount) / float64(prof.TotalCount))
	if prof.CompletedCount > 0 {
		prof.OnTimeRate = clamp01(float64(prof.OnTimeCount) / float64(prof.CompletedCount))
		prof.AverageDelayDays = delaySum / float64(prof.CompletedCount)
	}
	prof.Score = Score(prof.CompletionRate, prof.OnTimeRate, prof.AverageDelayDays)
	prof.Tier = TierFor(prof.Score)
	return prof
}

// Score combines the three terms, each in [0,1], into a [0,1] score.
func Score(completionRate, onTimeRate, averageDelayDays float64) float64 {
	delayTerm := clamp01(1 - averageDelayDays/delayHorizonDays)
	return 0.4*clamp01(completionRate) + 0.4*clamp01(onTimeRate) + 0.2*delayTerm
}

// TierFor buckets a score. Callers with no history must use TierNew instead.
func TierFor(score float64) Tier {
	switch {
	case score >= consistentScore:
		return TierConsistent
	case score >= improvingScore:
		return TierImproving
	default:
		return TierStruggling
	}
}

// delayDays is max(0, completion - due) in whole calendar days.
func delayDays(due, completed time.Time, loc *time.Location) int {
	d := tracker.DaysLate(tracker.WorkItem{DueDate: &due}, completed, loc)
	if d < 0 {
		return 0
	}
	return d
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
