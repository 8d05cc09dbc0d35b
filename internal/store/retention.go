package store

import (
	"context"
	"fmt"
	"time"
)

// resolvedDeadLetterTTL is how long resolved dead letters are kept.
const resolvedDeadLetterTTL = 24 * time.Hour

// RetentionResult counts rows removed by RunRetention.
type RetentionResult struct {
	Decisions   int64
	Cycles      int64
	DeadLetters int64
}

// RunRetention deletes decisions and cycles older than keep, and resolved
// dead letters older than a day. Unresolved dead letters are never removed.
func (s *Store) RunRetention(ctx context.Context, keep time.Duration) (RetentionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res RetentionResult
	now := s.now()
	cutoff := now.Add(-keep).UnixMilli()

	r, err := s.db.ExecContext(ctx, "DELETE FROM decisions WHERE created_at < ?", cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to delete old decisions: %w", err)
	}
	res.Decisions, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx, "DELETE FROM cycles WHERE started_at < ?", cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to delete old cycles: %w", err)
	}
	res.Cycles, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx,
		"DELETE FROM dead_letters WHERE resolved_at IS NOT NULL AND resolved_at < ?",
		now.Add(-resolvedDeadLetterTTL).UnixMilli(),
	)
	if err != nil {
		return res, fmt.Errorf("failed to delete old dead letters: %w", err)
	}
	res.DeadLetters, _ = r.RowsAffected()

	return res, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
