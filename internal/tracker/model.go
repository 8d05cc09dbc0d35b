// Package tracker holds the work-item model the engine reads from the
// external task tracker, the Store contract it consumes, and the two read
// adapters (candidate source and thread reader) built on top of it.
package tracker

import (
	"context"
	"time"
)

// LifecycleState is the tracker-owned state of a work item.
type LifecycleState string

const (
	StateNotStarted LifecycleState = "not_started"
	StateInProgress LifecycleState = "in_progress"
	StateReview     LifecycleState = "review"
	StateDone       LifecycleState = "done"
	StateCancelled  LifecycleState = "cancelled"
)

// Assignee is the person a work item is assigned to.
type Assignee struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// WorkItem is a trackable unit of work. The engine only reads it.
type WorkItem struct {
	ID          string         `json:"id" yaml:"id"`
	Key         string         `json:"key,omitempty" yaml:"key"`
	Title       string         `json:"title" yaml:"title"`
	Assignee    *Assignee      `json:"assignee,omitempty" yaml:"assignee"`
	DueDate     *time.Time     `json:"due_date,omitempty" yaml:"due_date"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at"`
	State       LifecycleState `json:"state" yaml:"state"`
}

// Ref returns the human-facing identifier: the tracker key when present.
func (w WorkItem) Ref() string {
	if w.Key != "" {
		return w.Key
	}
	return w.ID
}

// IsDone reports whether the tracker considers the item finished.
func (w WorkItem) IsDone() bool {
	return w.State == StateDone || w.CompletedAt != nil
}

// ThreadEntry is one message in a work item's append-only discussion log.
type ThreadEntry struct {
	ItemID        string    `json:"item_id" yaml:"item_id"`
	AuthorID      string    `json:"author_id" yaml:"author_id"`
	AuthorName    string    `json:"author_name,omitempty" yaml:"author_name"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Text          string    `json:"text" yaml:"text"`
	AgentAuthored bool      `json:"agent_authored" yaml:"agent_authored"`
}

// Store is the engine's view of the external task tracker.
type Store interface {
	// ListOpenItems returns up to limit items that are not closed out. A
	// limit <= 0 asks for every open item.
	ListOpenItems(ctx context.Context, limit int) ([]WorkItem, error)

	// GetThread returns the discussion thread of an item.
	GetThread(ctx context.Context, itemID string) ([]ThreadEntry, error)

	// AppendThreadEntry appends an agent-authored entry to an item's thread.
	AppendThreadEntry(ctx context.Context, itemID, text string, at time.Time) error

	// GetAssigneeHistory returns the assignee's items due on or after since.
	GetAssigneeHistory(ctx context.Context, assigneeID string, since time.Time) ([]WorkItem, error)
}
