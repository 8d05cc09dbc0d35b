package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
)

// DeadLetter is a composed comment that could not be appended.
type DeadLetter struct {
	ID         string `json:"id"`
	CycleID    string `json:"cycle_id"`
	ItemID     string `json:"item_id"`
	ItemKey    string `json:"item_key,omitempty"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	CreatedAt  int64  `json:"created_at"`
	ResolvedAt int64  `json:"resolved_at,omitempty"` // 0 = unresolved
}

// SaveDeadLetter saves a dead letter
func (s *Store) SaveDeadLetter(ctx context.Context, dl *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.CreatedAt == 0 {
		dl.CreatedAt = s.now().UnixMilli()
	}

	query := `
	INSERT OR REPLACE INTO dead_letters (
		id, cycle_id, item_id, item_key, message, error, created_at, resolved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	resolved := sql.NullInt64{Int64: dl.ResolvedAt, Valid: dl.ResolvedAt != 0}

	_, err := s.db.ExecContext(ctx, query,
		dl.ID, dl.CycleID, dl.ItemID, dl.ItemKey, dl.Message, dl.Error, dl.CreatedAt, resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

// ListUnresolved returns unresolved dead letters, oldest first.
func (s *Store) ListUnresolved(ctx context.Context, limit int) ([]*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, cycle_id, item_id, item_key, message, error, created_at, resolved_at
	FROM dead_letters
	WHERE resolved_at IS NULL
	ORDER BY created_at ASC
	`

	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var dls []*DeadLetter
	for rows.Next() {
		dl := &DeadLetter{}
		var resolved sql.NullInt64

		if err := rows.Scan(
			&dl.ID, &dl.CycleID, &dl.ItemID, &dl.ItemKey, &dl.Message, &dl.Error, &dl.CreatedAt, &resolved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.ResolvedAt = resolved.Int64
		dls = append(dls, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}

	return dls, nil
}

// ResolveDeadLetter marks a dead letter as resolved
func (s *Store) ResolveDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE dead_letters SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dead letter %s: %w", id, perrors.ErrNotFound)
	}

	return nil
}

// ResolveItem resolves every open dead letter for an item, typically after
// a later comment on it succeeded.
func (s *Store) ResolveItem(ctx context.Context, itemID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE dead_letters SET resolved_at = ? WHERE item_id = ? AND resolved_at IS NULL`,
		s.now().UnixMilli(), itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve dead letters for %s: %w", itemID, err)
	}
	return result.RowsAffected()
}
