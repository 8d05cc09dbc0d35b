// Package config loads the agent configuration from the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Monitor loop
	PollIntervalSeconds  int           `envconfig:"POLL_INTERVAL_SECONDS" default:"600"`
	CooldownWindowHours  int           `envconfig:"COOLDOWN_WINDOW_HOURS" default:"24"`
	BatchSize            int           `envconfig:"BATCH_SIZE" default:"50"`
	LookbackDays         int           `envconfig:"LOOKBACK_DAYS" default:"30"`
	RandomSeed           string        `envconfig:"RANDOM_SEED"` // empty = system entropy
	DueSoonHours         int           `envconfig:"DUE_SOON_HOURS" default:"48"`
	CelebrateWindowHours int           `envconfig:"CELEBRATE_WINDOW_HOURS" default:"48"`
	StoreTimeout         time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
	Timezone             string        `envconfig:"TIMEZONE" default:"UTC"`
	TemplatesPath        string        `envconfig:"TEMPLATES_PATH"` // empty = embedded catalog
	DryRun               bool          `envconfig:"DRY_RUN" default:"false"`

	// Jira
	JiraBaseURL        string `envconfig:"JIRA_BASE_URL"`
	JiraAPIEmail       string `envconfig:"JIRA_API_EMAIL"`  // Basic auth
	JiraAPIToken       string `envconfig:"JIRA_API_TOKEN"`  // Basic auth
	JiraOAuthToken     string `envconfig:"JIRA_OAUTH_TOKEN"` // Bearer, wins over basic auth
	JiraAgentAccountID string `envconfig:"JIRA_AGENT_ACCOUNT_ID"`
	JiraJQL            string `envconfig:"JIRA_JQL"`
	JiraWebhookSecret  string `envconfig:"JIRA_WEBHOOK_SECRET"`

	// Slack escalation notices (optional)
	// Prefixed with AGENT_ so other Slack tooling on the host does not pick it up
	SlackBotToken          string `envconfig:"AGENT_SLACK_BOT_TOKEN"`
	SlackEscalationChannel string `envconfig:"SLACK_ESCALATION_CHANNEL"`

	// Journal (optional)
	JournalDBPath        string `envconfig:"JOURNAL_DB_PATH"`
	JournalRetentionDays int    `envconfig:"JOURNAL_RETENTION_DAYS" default:"30"`

	// Management API
	MgmtListenAddr   string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode     string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey       string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret    string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the monitor cannot run with.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"POLL_INTERVAL_SECONDS", c.PollIntervalSeconds},
		{"COOLDOWN_WINDOW_HOURS", c.CooldownWindowHours},
		{"BATCH_SIZE", c.BatchSize},
		{"LOOKBACK_DAYS", c.LookbackDays},
		{"DUE_SOON_HOURS", c.DueSoonHours},
		{"CELEBRATE_WINDOW_HOURS", c.CelebrateWindowHours},
		{"JOURNAL_RETENTION_DAYS", c.JournalRetentionDays},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.v)
		}
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if _, err := c.Seed(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateMgmt checks the management API settings.
func (c *Config) ValidateMgmt() error {
	switch c.MgmtAuthMode {
	case "none":
	case "api-key":
		if c.MgmtAPIKey == "" {
			return fmt.Errorf("MGMT_AUTH_MODE=api-key requires MGMT_API_KEY")
		}
	case "jwt":
		if len(c.MgmtJWTSecret) < 32 {
			return fmt.Errorf("MGMT_AUTH_MODE=jwt requires MGMT_JWT_SECRET of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unknown MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	if c.IsProduction() && c.MgmtAuthMode != "none" && c.JiraWebhookSecret == "" {
		return fmt.Errorf("JIRA_WEBHOOK_SECRET is required in production when MGMT_AUTH_MODE is %s", c.MgmtAuthMode)
	}
	if c.MgmtRateLimitRPS < 0 {
		return fmt.Errorf("MGMT_RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// JiraEnabled returns true if Jira base URL is configured.
func (c *Config) JiraEnabled() bool {
	return c.JiraBaseURL != ""
}

// SlackEnabled returns true if escalation notices can be posted.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackEscalationChannel != ""
}

// JournalEnabled returns true if a journal database is configured.
func (c *Config) JournalEnabled() bool {
	return c.JournalDBPath != ""
}

// PollInterval is the monitor cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CooldownWindow is the minimum spacing between agent comments on one item.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownWindowHours) * time.Hour
}

// Lookback is the profiling window.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// DueSoonWindow is how far ahead a due date counts as due soon.
func (c *Config) DueSoonWindow() time.Duration {
	return time.Duration(c.DueSoonHours) * time.Hour
}

// CelebrateWindow is how long after completion an on-time item is celebrated.
func (c *Config) CelebrateWindow() time.Duration {
	return time.Duration(c.CelebrateWindowHours) * time.Hour
}

// JournalRetention is how long journal rows are kept.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionDays) * 24 * time.Hour
}

// Seed returns the configured random seed, or nil for system entropy.
func (c *Config) Seed() (*int64, error) {
	raw := strings.TrimSpace(c.RandomSeed)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("RANDOM_SEED %q is not an integer: %w", raw, err)
	}
	return &v, nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
