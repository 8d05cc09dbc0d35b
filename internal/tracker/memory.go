package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
)

// MemoryStore is an in-process Store. It backs the simulate command and tests.
// It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	agentID string
	items   map[string]WorkItem
	order   []string
	threads map[string][]ThreadEntry

	// Failure injection, consulted on every call when non-nil.
	ListErr   error
	ThreadErr func(itemID string) error
	AppendErr func(itemID string) error
	HistErr   error
}

// NewMemoryStore creates an empty store whose appends are authored by agentID.
func NewMemoryStore(agentID string) *MemoryStore {
	return &MemoryStore{
		agentID: agentID,
		items:   make(map[string]WorkItem),
		threads: make(map[string][]ThreadEntry),
	}
}

// AgentID returns the author id used for appended entries.
func (m *MemoryStore) AgentID() string { return m.agentID }

// PutItem inserts or replaces an item, remembering insertion order.
func (m *MemoryStore) PutItem(item WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		m.order = append(m.order, item.ID)
	}
	m.items[item.ID] = item
}

// AddEntry appends an entry as-is (human or agent) to an item's thread.
func (m *MemoryStore) AddEntry(e ThreadEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.AuthorID == m.agentID && m.agentID != "" {
		e.AgentAuthored = true
	}
	m.threads[e.ItemID] = append(m.threads[e.ItemID], e)
}

// Entries returns a copy of an item's thread in insertion order.
func (m *MemoryStore) Entries(itemID string) []ThreadEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ThreadEntry, len(m.threads[itemID]))
	copy(out, m.threads[itemID])
	return out
}

// AgentEntries counts agent-authored entries on an item.
func (m *MemoryStore) AgentEntries(itemID string) int {
	n := 0
	for _, e := range m.Entries(itemID) {
		if e.AgentAuthored {
			n++
		}
	}
	return n
}

func (m *MemoryStore) ListOpenItems(ctx context.Context, limit int) ([]WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WorkItem, 0, len(m.order))
	for _, id := range m.order {
		it := m.items[id]
		if it.State == StateCancelled {
			continue
		}
		out = append(out, it)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetThread(ctx context.Context, itemID string) ([]ThreadEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.ThreadErr != nil {
		if err := m.ThreadErr(itemID); err != nil {
			return nil, err
		}
	}
	return m.Entries(itemID), nil
}

func (m *MemoryStore) AppendThreadEntry(ctx context.Context, itemID, text string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.AppendErr != nil {
		if err := m.AppendErr(itemID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return fmt.Errorf("item %s: %w", itemID, perrors.ErrNotFound)
	}
	m.threads[itemID] = append(m.threads[itemID], ThreadEntry{
		ItemID:        itemID,
		AuthorID:      m.agentID,
		Timestamp:     at,
		Text:          text,
		AgentAuthored: true,
	})
	return nil
}

func (m *MemoryStore) GetAssigneeHistory(ctx context.Context, assigneeID string, since time.Time) ([]WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.HistErr != nil {
		return nil, m.HistErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WorkItem
	for _, id := range m.order {
		it := m.items[id]
		if it.Assignee == nil || it.Assignee.ID != assigneeID || it.DueDate == nil {
			continue
		}
		if it.DueDate.Before(since) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	return out, nil
}
