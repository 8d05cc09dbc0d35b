// Package cooldown answers whether the agent has already commented on a work
// item inside the rate window. The item's own thread is the only source of
// truth, so the ledger can never drift from what was actually written.
package cooldown

import (
	"context"
	"time"

	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// DefaultWindow is the minimum spacing between two agent comments on one item.
const DefaultWindow = 24 * time.Hour

// ThreadSource reads a thread and reports failures.
type ThreadSource interface {
	FetchThreadStrict(ctx context.Context, itemID string) ([]tracker.ThreadEntry, error)
}

// Ledger checks the cooldown by re-reading the thread.
type Ledger struct {
	threads ThreadSource
	now     func() time.Time
}

// NewLedger creates a ledger backed by threads.
func NewLedger(threads ThreadSource) *Ledger {
	return &Ledger{threads: threads, now: time.Now}
}

// SetClock overrides the wall clock (for testing).
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// RecentlyCommented reports whether an agent-authored entry on itemID is
// newer than now - window. A read error is returned as-is; callers must treat
// it as "cooling down" to preserve at-most-once delivery.
func (l *Ledger) RecentlyCommented(ctx context.Context, itemID string, window time.Duration) (bool, error) {
	entries, err := l.threads.FetchThreadStrict(ctx, itemID)
	if err != nil {
		return false, err
	}
	return Within(entries, l.now(), window), nil
}

// Within is the pure form of RecentlyCommented. Entries stamped in the
// future (clock skew between us and the tracker) count as recent.
func Within(entries []tracker.ThreadEntry, now time.Time, window time.Duration) bool {
	cutoff := now.Add(-window)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.AgentAuthored && !e.Timestamp.Before(cutoff) {
			return true
		}
	}
	return false
}

// LastAgentEntry returns the newest agent-authored entry, if any.
func LastAgentEntry(entries []tracker.ThreadEntry) (tracker.ThreadEntry, bool) {
	var (
		last  tracker.ThreadEntry
		found bool
	)
	for _, e := range entries {
		if e.AgentAuthored && (!found || e.Timestamp.After(last.Timestamp)) {
			last, found = e, true
		}
	}
	return last, found
}
