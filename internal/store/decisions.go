package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Decision outcomes.
const (
	OutcomeSkipped = "skipped"
	OutcomeEmitted = "emitted"
	OutcomeDryRun  = "dry_run"
	OutcomeFailed  = "failed"
)

// DecisionRecord is one journaled commentary decision.
type DecisionRecord struct {
	ID          string  `json:"id"`
	CycleID     string  `json:"cycle_id"`
	ItemID      string  `json:"item_id"`
	ItemKey     string  `json:"item_key,omitempty"`
	AssigneeID  string  `json:"assignee_id,omitempty"`
	Urgency     string  `json:"urgency_class"`
	DaysLate    int     `json:"days_late"`
	Signal      string  `json:"signal"`
	ShouldEmit  bool    `json:"should_emit"`
	Probability float64 `json:"probability"`
	Draw        float64 `json:"draw,omitempty"`
	Reason      string  `json:"reason"`
	Outcome     string  `json:"outcome"`
	Message     string  `json:"message,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// RecordDecision appends a decision to the journal.
func (s *Store) RecordDecision(ctx context.Context, d *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = s.now().UnixMilli()
	}

	query := `
	INSERT INTO decisions (
		id, cycle_id, item_id, item_key, assignee_id, urgency, days_late, signal,
		should_emit, probability, draw, reason, outcome, message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	message := sql.NullString{String: d.Message, Valid: d.Message != ""}
	draw := sql.NullFloat64{Float64: d.Draw, Valid: d.Draw != 0}

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.CycleID, d.ItemID, d.ItemKey, d.AssigneeID, d.Urgency, d.DaysLate, d.Signal,
		d.ShouldEmit, d.Probability, draw, d.Reason, d.Outcome, message, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// DecisionFilter narrows ListDecisions. Zero values match everything.
type DecisionFilter struct {
	CycleID string
	ItemID  string
	Outcome string
	Limit   int
}

// ListDecisions returns journaled decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, f DecisionFilter) ([]*DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, cycle_id, item_id, item_key, assignee_id, urgency, days_late, signal,
	       should_emit, probability, draw, reason, outcome, message, created_at
	FROM decisions
	WHERE 1 = 1
	`
	var args []interface{}
	if f.CycleID != "" {
		query += ` AND cycle_id = ?`
		args = append(args, f.CycleID)
	}
	if f.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, f.ItemID)
	}
	if f.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, f.Outcome)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		d := &DecisionRecord{}
		var draw sql.NullFloat64
		var message sql.NullString
		if err := rows.Scan(
			&d.ID, &d.CycleID, &d.ItemID, &d.ItemKey, &d.AssigneeID, &d.Urgency, &d.DaysLate, &d.Signal,
			&d.ShouldEmit, &d.Probability, &draw, &d.Reason, &d.Outcome, &message, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Draw = draw.Float64
		d.Message = message.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return out, nil
}
