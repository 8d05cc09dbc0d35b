package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/nudge-agent/internal/compose"
	"github.com/p-blackswan/nudge-agent/internal/config"
	"github.com/p-blackswan/nudge-agent/internal/cooldown"
	"github.com/p-blackswan/nudge-agent/internal/escalation"
	"github.com/p-blackswan/nudge-agent/internal/jira"
	"github.com/p-blackswan/nudge-agent/internal/metrics"
	"github.com/p-blackswan/nudge-agent/internal/monitor"
	"github.com/p-blackswan/nudge-agent/internal/policy"
	"github.com/p-blackswan/nudge-agent/internal/profile"
	"github.com/p-blackswan/nudge-agent/internal/retry"
	"github.com/p-blackswan/nudge-agent/internal/slack"
	"github.com/p-blackswan/nudge-agent/internal/store"
	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// newLogger builds the process logger. Development gets a console writer.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).With().Timestamp().Caller().Logger()
	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

// wiring carries the per-command choices that differ from the environment.
type wiring struct {
	tracker     tracker.Store
	journalPath string
	dryRun      bool
	seed        *int64
	now         func() time.Time // nil = wall clock
	slack       *slack.Notifier
	itemURL     string
}

// agent is a fully wired monitor with the collaborators the commands need.
type agent struct {
	monitor  *monitor.Monitor
	profiler *profile.Profiler
	journal  *store.Store // nil when disabled
	metrics  *metrics.Metrics
}

func (a *agent) Close() error {
	if a.journal == nil {
		return nil
	}
	return a.journal.Close()
}

// buildAgent wires the cycle pipeline against w.tracker.
func buildAgent(cfg *config.Config, w wiring, logger zerolog.Logger) (*agent, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}

	read := tracker.ReadOptions{Timeout: cfg.StoreTimeout, Retry: retry.DefaultConfig()}
	urgency := tracker.UrgencyOptions{
		DueSoonWindow:   cfg.DueSoonWindow(),
		CelebrateWindow: cfg.CelebrateWindow(),
		Location:        loc,
	}

	source := tracker.NewSource(w.tracker, read, urgency, logger)
	threads := tracker.NewThreadReader(w.tracker, read, logger)
	ledger := cooldown.NewLedger(threads)
	profiler := profile.NewProfiler(w.tracker, cfg.Lookback(), cfg.StoreTimeout, loc, logger)

	// Decisions and phrasing draw from separate streams so a template change
	// never shifts which items get a comment.
	pol := policy.New(policy.NewRand(w.seed))
	var composeSeed *int64
	if w.seed != nil {
		s := *w.seed + 1
		composeSeed = &s
	}
	syn, err := compose.NewSynthesizer(cat, policy.NewRand(composeSeed), loc)
	if err != nil {
		return nil, fmt.Errorf("building synthesizer: %w", err)
	}

	notifiers := []escalation.Notifier{escalation.NewLogNotifier(logger)}
	if w.slack != nil {
		notifiers = append(notifiers, w.slack)
	}

	a := &agent{profiler: profiler, metrics: metrics.New()}
	deps := monitor.Deps{
		Source:   source,
		Threads:  threads,
		Ledger:   ledger,
		Profiles: profiler,
		Policy:   pol,
		Composer: syn,
		Writer:   w.tracker,
		Notifier: escalation.NewMultiNotifier(notifiers...),
		Metrics:  a.metrics,
	}
	if w.journalPath != "" {
		a.journal, err = store.New(w.journalPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		deps.Journal = a.journal
	}

	mcfg := monitor.Config{
		PollInterval:   cfg.PollInterval(),
		BatchSize:      cfg.BatchSize,
		CooldownWindow: cfg.CooldownWindow(),
		WriteTimeout:   cfg.StoreTimeout,
		Urgency:        urgency,
		DryRun:         w.dryRun,
		ItemURLPrefix:  w.itemURL,
	}
	a.monitor, err = monitor.New(mcfg, deps, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if w.now != nil {
		source.SetClock(w.now)
		ledger.SetClock(w.now)
		profiler.SetClock(w.now)
		syn.SetClock(w.now)
		a.monitor.SetClock(w.now)
		if a.journal != nil {
			a.journal.SetClock(w.now)
		}
	}
	return a, nil
}

func loadCatalog(path string) (*compose.Catalog, error) {
	if path == "" {
		return compose.DefaultCatalog()
	}
	cat, err := compose.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return cat, nil
}

// jiraTracker connects to Jira and resolves the agent identity when
// JIRA_AGENT_ACCOUNT_ID is not set.
func jiraTracker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*jira.Store, string, error) {
	if !cfg.JiraEnabled() {
		return nil, "", fmt.Errorf("JIRA_BASE_URL is required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, "", err
	}
	auth, err := jira.NewAuthenticator(cfg.JiraAPIEmail, cfg.JiraAPIToken, cfg.JiraOAuthToken)
	if err != nil {
		return nil, "", err
	}
	client := jira.NewClient(cfg.JiraBaseURL, auth, logger)

	agentID := cfg.JiraAgentAccountID
	if agentID == "" {
		ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		me, err := client.Myself(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("resolving agent account: %w", err)
		}
		agentID = me.AccountID
		logger.Info().Str("account_id", agentID).Str("name", me.DisplayName).Msg("agent identity resolved")
	}

	jql := cfg.JiraJQL
	if jql == "" {
		jql = jira.DefaultJQL
	}
	return jira.NewStore(client, agentID, jql, loc, logger), agentID, nil
}

func browseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/browse/"
}
