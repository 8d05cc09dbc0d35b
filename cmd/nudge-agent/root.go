package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/nudge-agent/internal/config"
	"github.com/p-blackswan/nudge-agent/internal/health"
	"github.com/p-blackswan/nudge-agent/internal/jira"
	"github.com/p-blackswan/nudge-agent/internal/mgmt"
	"github.com/p-blackswan/nudge-agent/internal/monitor"
	"github.com/p-blackswan/nudge-agent/internal/slack"
	"github.com/p-blackswan/nudge-agent/internal/store"
	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout   = 15 * time.Second
	retentionInterval = time.Hour
)

// Run executes the CLI and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nudge-agent",
		Short:         "Posts deadline check-ins on tracker items",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newOnceCmd(), newSimulateCmd(), newTokenCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop and the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateMgmt(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := newLogger(cfg, out)
	logger.Info().
		Str("environment", cfg.Environment).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Int("poll_interval_seconds", cfg.PollIntervalSeconds).
		Bool("dry_run", cfg.DryRun).
		Bool("journal_enabled", cfg.JournalEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting nudge agent")

	jstore, agentID, err := jiraTracker(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var notifier *slack.Notifier
	if cfg.SlackEnabled() {
		notifier = slack.NewNotifier(cfg.SlackBotToken, cfg.SlackEscalationChannel, logger)
		if err := notifier.Check(ctx); err != nil {
			logger.Warn().Err(err).Msg("slack auth check failed")
		}
	}

	seed, _ := cfg.Seed()
	a, err := buildAgent(cfg, wiring{
		tracker:     jstore,
		journalPath: cfg.JournalDBPath,
		dryRun:      cfg.DryRun,
		seed:        seed,
		slack:       notifier,
		itemURL:     browseURL(cfg.JiraBaseURL),
	}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	started := time.Now()
	checker := health.NewChecker(logger)
	checker.Register("jira", health.ErrorCheck(logger, "jira", jstore.Check))
	checker.Register("cycle", health.CycleFreshness(a.monitor.LastFinished, started, 2*cfg.PollInterval(), time.Now))

	webhook := jira.NewWebhookHandler(agentID, logger)
	webhook.SetSecret(cfg.JiraWebhookSecret)
	if cfg.JiraWebhookSecret == "" {
		logger.Warn().Msg("JIRA_WEBHOOK_SECRET is not set, anyone reaching /webhook/jira can queue cycles")
	}
	webhook.OnActivity(func(_ context.Context, e *jira.WebhookEvent) {
		if a.monitor.Trigger() {
			logger.Debug().Str("issue", e.IssueKey()).Str("event", e.WebhookEvent).Msg("early cycle queued by webhook")
		}
	})

	var journal mgmt.JournalReader
	if a.journal != nil {
		journal = a.journal
	}
	handlers := mgmt.NewHandlers(a.monitor, journal, a.profiler, summarize(cfg), logger)
	server := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: []byte(cfg.MgmtJWTSecret),
		},
		RateLimitRPS: cfg.MgmtRateLimitRPS,
	}, handlers, checker, a.metrics, webhook, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("management API: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.monitor.Run(ctx); err != nil {
			errCh <- fmt.Errorf("monitor: %w", err)
		}
	}()

	if a.journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRetention(ctx, a.journal, cfg.JournalRetention(), logger)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	a.monitor.Stop()
	cancel()
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("shutdown timed out")
	}

	logger.Info().Msg("nudge agent stopped")
	return runErr
}

func runRetention(ctx context.Context, journal *store.Store, keep time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := journal.RunRetention(ctx, keep)
			if err != nil {
				logger.Error().Err(err).Msg("journal retention failed")
				continue
			}
			logger.Info().
				Int64("decisions", res.Decisions).
				Int64("cycles", res.Cycles).
				Int64("dead_letters", res.DeadLetters).
				Msg("journal retention done")
		}
	}
}

func summarize(cfg *config.Config) mgmt.ConfigSummary {
	return mgmt.ConfigSummary{
		Environment:         cfg.Environment,
		PollIntervalSeconds: cfg.PollIntervalSeconds,
		CooldownWindowHours: cfg.CooldownWindowHours,
		BatchSize:           cfg.BatchSize,
		LookbackDays:        cfg.LookbackDays,
		Timezone:            cfg.Timezone,
		DryRun:              cfg.DryRun,
		Tracker:             "jira",
		JournalEnabled:      cfg.JournalEnabled(),
		SlackEnabled:        cfg.SlackEnabled(),
		AuthMode:            cfg.MgmtAuthMode,
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle against Jira and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			jstore, _, err := jiraTracker(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			seed, _ := cfg.Seed()
			a, err := buildAgent(cfg, wiring{
				tracker:     jstore,
				journalPath: cfg.JournalDBPath,
				dryRun:      cfg.DryRun,
				seed:        seed,
				itemURL:     browseURL(cfg.JiraBaseURL),
			}, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.monitor.RunCycle(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if rep.Error != "" {
				return errors.New(rep.Error)
			}
			return nil
		},
	}
}

// simulateOutput is printed by the simulate command.
type simulateOutput struct {
	Report    monitor.CycleReport     `json:"report"`
	Decisions []*store.DecisionRecord `json:"decisions"`
}

func newSimulateCmd() *cobra.Command {
	var (
		write   bool
		nowFlag string
		seedArg string
	)
	cmd := &cobra.Command{
		Use:   "simulate <fixture.yaml>",
		Short: "Run one cycle against a YAML tracker snapshot",
		Long: "Run one cycle against an in-memory tracker loaded from a YAML fixture.\n" +
			"Comments are composed and journaled but not appended unless --write is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			mem, err := tracker.LoadFixture(args[0])
			if err != nil {
				return err
			}

			var now func() time.Time
			if nowFlag != "" {
				at, err := time.Parse(time.RFC3339, nowFlag)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				now = func() time.Time { return at }
			}

			seed, _ := cfg.Seed()
			if seedArg != "" {
				v, err := strconv.ParseInt(seedArg, 10, 64)
				if err != nil {
					return fmt.Errorf("--seed: %w", err)
				}
				seed = &v
			}

			dir, err := os.MkdirTemp("", "nudge-simulate-")
			if err != nil {
				return fmt.Errorf("creating journal dir: %w", err)
			}
			defer os.RemoveAll(dir)

			a, err := buildAgent(cfg, wiring{
				tracker:     mem,
				journalPath: filepath.Join(dir, "journal.db"),
				dryRun:      !write,
				seed:        seed,
				now:         now,
			}, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.monitor.RunCycle(cmd.Context())
			decisions, err := a.journal.ListDecisions(cmd.Context(), store.DecisionFilter{CycleID: rep.ID, Limit: 1000})
			if err != nil {
				return err
			}
			// Journal order is newest first; print in processing order.
			for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
				decisions[i], decisions[j] = decisions[j], decisions[i]
			}
			if decisions == nil {
				decisions = []*store.DecisionRecord{}
			}
			return writeJSON(cmd.OutOrStdout(), simulateOutput{Report: rep, Decisions: decisions})
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "append composed comments to the in-memory threads")
	cmd.Flags().StringVar(&nowFlag, "now", "", "evaluate the fixture at this RFC3339 instant")
	cmd.Flags().StringVar(&seedArg, "seed", "", "random seed, overrides RANDOM_SEED")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a management API token signed with MGMT_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.MgmtJWTSecret) < 32 {
				return fmt.Errorf("MGMT_JWT_SECRET of at least 32 bytes is required")
			}
			r := mgmt.Role(role)
			switch r {
			case mgmt.RoleAdmin, mgmt.RoleOperator, mgmt.RoleReadOnly:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := mgmt.IssueToken([]byte(cfg.MgmtJWTSecret), subject, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(mgmt.RoleReadOnly), "admin, operator or readonly")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
