package tracker

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture is a YAML description of a tracker snapshot used by the simulate
// command:
//
//	agent_id: bot-1
//	items:
//	  - id: "10001"
//	    key: PLAT-1
//	    title: Wire up billing API
//	    assignee: {id: u-1, display_name: Ana}
//	    due_date: 2026-10-12T00:00:00Z
//	    state: in_progress
//	threads:
//	  - item_id: "10001"
//	    author_id: u-1
//	    timestamp: 2026-10-13T09:00:00Z
//	    text: stuck on the auth handshake
type Fixture struct {
	AgentID string        `yaml:"agent_id"`
	Items   []WorkItem    `yaml:"items"`
	Threads []ThreadEntry `yaml:"threads"`
}

// LoadFixture reads a fixture file into a fresh MemoryStore.
func LoadFixture(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fixture: %w", err)
	}
	defer f.Close()
	return ReadFixture(f)
}

// ReadFixture decodes a fixture from r into a fresh MemoryStore.
func ReadFixture(r io.Reader) (*MemoryStore, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("decoding fixture: %w", err)
	}
	if fx.AgentID == "" {
		return nil, fmt.Errorf("fixture: agent_id is required")
	}

	store := NewMemoryStore(fx.AgentID)
	for _, it := range fx.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("fixture: item %q has no id", it.Title)
		}
		if it.State == "" {
			it.State = StateNotStarted
		}
		store.PutItem(it)
	}
	for _, e := range fx.Threads {
		store.AddEntry(e)
	}
	return store, nil
}
