package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
	"github.com/p-blackswan/nudge-agent/internal/retry"
)

// ReadOptions are shared by the read adapters.
type ReadOptions struct {
	// Timeout bounds each individual store call.
	Timeout time.Duration
	// Retry is applied to transient read failures inside the timeout.
	Retry retry.Config
}

// DefaultReadOptions returns a 10s per-call timeout with default retries.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{Timeout: 10 * time.Second, Retry: retry.DefaultConfig()}
}

func (o ReadOptions) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// timeoutErr maps a blown per-call deadline onto the package sentinel while
// keeping the original error in the chain.
func timeoutErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %w", perrors.ErrTimeout, err)
	}
	return err
}

// Source fetches candidate work items, ordered most urgent first.
type Source struct {
	store   Store
	opts    ReadOptions
	urgency UrgencyOptions
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSource creates a candidate source over store.
func NewSource(store Store, opts ReadOptions, urgency UrgencyOptions, logger zerolog.Logger) *Source {
	return &Source{
		store:   store,
		opts:    opts,
		urgency: urgency,
		now:     time.Now,
		logger:  logger.With().Str("component", "tracker.source").Logger(),
	}
}

// SetClock overrides the wall clock (for testing).
func (s *Source) SetClock(now func() time.Time) { s.now = now }

// FetchCandidateItems returns up to limit non-cancelled items sorted by
// urgency. The store is read without a bound so the cut happens after the
// sort and an urgent item is never dropped for a normal one. On failure it returns an empty list and a recoverable error; the
// caller is expected to log it and try again next cycle.
func (s *Source) FetchCandidateItems(ctx context.Context, limit int) ([]WorkItem, error) {
	callCtx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	items, err := retry.Value(callCtx, s.opts.Retry, func(ctx context.Context) ([]WorkItem, error) {
		return s.store.ListOpenItems(ctx, 0)
	})
	if err != nil {
		err = timeoutErr(callCtx, err)
		s.logger.Warn().Err(err).Int("limit", limit).Msg("candidate fetch failed")
		return []WorkItem{}, fmt.Errorf("fetching candidate items: %w", err)
	}

	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if it.State == StateCancelled {
			continue
		}
		out = append(out, it)
	}
	SortByUrgency(out, s.now(), s.urgency)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	s.logger.Debug().Int("fetched", len(items)).Int("candidates", len(out)).Msg("candidates fetched")
	return out, nil
}

// ThreadReader fetches a work item's discussion thread in ascending order.
type ThreadReader struct {
	store  Store
	opts   ReadOptions
	logger zerolog.Logger
}

// NewThreadReader creates a thread reader over store.
func NewThreadReader(store Store, opts ReadOptions, logger zerolog.Logger) *ThreadReader {
	return &ThreadReader{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "tracker.thread").Logger(),
	}
}

// FetchThread returns the thread, or an empty sequence if it cannot be read.
// Callers then proceed conservatively with an unknown signal.
func (r *ThreadReader) FetchThread(ctx context.Context, itemID string) []ThreadEntry {
	entries, err := r.FetchThreadStrict(ctx, itemID)
	if err != nil {
		r.logger.Warn().Err(err).Str("item", itemID).Msg("thread fetch failed, treating as empty")
		return []ThreadEntry{}
	}
	return entries
}

// FetchThreadStrict is FetchThread that reports failures instead of hiding them.
func (r *ThreadReader) FetchThreadStrict(ctx context.Context, itemID string) ([]ThreadEntry, error) {
	callCtx, cancel := r.opts.withTimeout(ctx)
	defer cancel()

	entries, err := retry.Value(callCtx, r.opts.Retry, func(ctx context.Context) ([]ThreadEntry, error) {
		return r.store.GetThread(ctx, itemID)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", itemID, timeoutErr(callCtx, err))
	}

	sorted := make([]ThreadEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted, nil
}
