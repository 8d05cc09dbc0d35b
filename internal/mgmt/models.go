// Package mgmt provides the management API of the nudge agent: probes,
// metrics, loop status, journal queries and the Jira webhook.
package mgmt

import (
	"github.com/p-blackswan/nudge-agent/internal/monitor"
	"github.com/p-blackswan/nudge-agent/internal/store"
)

// ConfigSummary is the non-secret part of the running configuration.
type ConfigSummary struct {
	Environment         string `json:"environment"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	CooldownWindowHours int    `json:"cooldown_window_hours"`
	BatchSize           int    `json:"batch_size"`
	LookbackDays        int    `json:"lookback_days"`
	Timezone            string `json:"timezone"`
	DryRun              bool   `json:"dry_run"`
	Tracker             string `json:"tracker"`
	JournalEnabled      bool   `json:"journal_enabled"`
	SlackEnabled        bool   `json:"slack_enabled"`
	AuthMode            string `json:"auth_mode"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Monitor monitor.Status `json:"monitor"`
	Config  ConfigSummary  `json:"config"`
	Uptime  string         `json:"uptime"`
}

// TriggerResponse is returned by POST /api/v1/cycles.
type TriggerResponse struct {
	// Queued is false when an early cycle was already pending.
	Queued bool `json:"queued"`
}

// DecisionListResponse is returned by GET /api/v1/decisions.
type DecisionListResponse struct {
	Decisions []*store.DecisionRecord `json:"decisions"`
	Limit     int                     `json:"limit"`
}

// DeadLetterListResponse is returned by GET /api/v1/dead-letters.
type DeadLetterListResponse struct {
	DeadLetters []*store.DeadLetter `json:"dead_letters"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
