package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CycleRecord summarizes one monitor cycle.
type CycleRecord struct {
	ID         string `json:"id"`
	StartedAt  int64  `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	Candidates int    `json:"candidates"`
	Processed  int    `json:"processed"`
	Emitted    int    `json:"emitted"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Stopped    bool   `json:"stopped"`
}

// RecordCycle stores a cycle summary.
func (s *Store) RecordCycle(ctx context.Context, c *CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO cycles (
		id, started_at, duration_ms, candidates, processed, emitted, skipped, failed, stopped
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.StartedAt, c.DurationMS, c.Candidates, c.Processed, c.Emitted, c.Skipped, c.Failed, c.Stopped)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// LastCycle returns the most recent cycle, or nil when none ran yet.
func (s *Store) LastCycle(ctx context.Context) (*CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &CycleRecord{}
	err := s.db.QueryRowContext(ctx, `
	SELECT id, started_at, duration_ms, candidates, processed, emitted, skipped, failed, stopped
	FROM cycles ORDER BY started_at DESC LIMIT 1
	`).Scan(&c.ID, &c.StartedAt, &c.DurationMS, &c.Candidates, &c.Processed, &c.Emitted, &c.Skipped, &c.Failed, &c.Stopped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last cycle: %w", err)
	}
	return c, nil
}
