// Package monitor implements the commentary loop.
// On each cycle it:
//  1. Fetches a bounded batch of candidate work items, most urgent first
//  2. Reads each item's thread and extracts the conversation signal
//  3. Asks the decision policy whether a comment is warranted
//  4. Composes the comment and re-checks the cooldown against a fresh read
//  5. Appends the comment, or records a dead letter when the write fails
//
// Items are processed one at a time. Only one instance should run against a
// given tracker; nothing here enforces that.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/nudge-agent/internal/compose"
	"github.com/p-blackswan/nudge-agent/internal/cooldown"
	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
	"github.com/p-blackswan/nudge-agent/internal/escalation"
	"github.com/p-blackswan/nudge-agent/internal/metrics"
	"github.com/p-blackswan/nudge-agent/internal/policy"
	"github.com/p-blackswan/nudge-agent/internal/profile"
	"github.com/p-blackswan/nudge-agent/internal/requestid"
	"github.com/p-blackswan/nudge-agent/internal/signal"
	"github.com/p-blackswan/nudge-agent/internal/store"
	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// Reasons recorded when a decision to emit does not end in a write.
const (
	ReasonComposeFailed      = "compose_failed"
	ReasonCooldownUnverified = "cooldown_unverified"
	ReasonAppendFailed       = "append_failed"
)

// Cycle results used as metric labels.
const (
	ResultOK          = "ok"
	ResultFetchFailed = "fetch_failed"
	ResultStopped     = "stopped"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("monitor: loop already running")

// Candidates supplies the batch for a cycle.
type Candidates interface {
	FetchCandidateItems(ctx context.Context, limit int) ([]tracker.WorkItem, error)
}

// Threads reads an item's thread, returning an empty sequence on failure.
type Threads interface {
	FetchThread(ctx context.Context, itemID string) []tracker.ThreadEntry
}

// Cooldown answers the pre-write re-check.
type Cooldown interface {
	RecentlyCommented(ctx context.Context, itemID string, window time.Duration) (bool, error)
}

// Profiles scores assignees.
type Profiles interface {
	Profile(ctx context.Context, assigneeID string) (profile.Profile, error)
}

// Decider is the commentary decision policy.
type Decider interface {
	Decide(in policy.Input) policy.Decision
}

// Composer renders comment text.
type Composer interface {
	Compose(req compose.Request) (string, error)
}

// Writer appends agent-authored entries to the tracker.
type Writer interface {
	AppendThreadEntry(ctx context.Context, itemID, text string, at time.Time) error
}

// Journal persists decisions, dead letters and cycle summaries.
// *store.Store satisfies it.
type Journal interface {
	RecordDecision(ctx context.Context, d *store.DecisionRecord) error
	SaveDeadLetter(ctx context.Context, dl *store.DeadLetter) error
	ResolveItem(ctx context.Context, itemID string) (int64, error)
	RecordCycle(ctx context.Context, c *store.CycleRecord) error
}

// Config configures the loop.
type Config struct {
	// PollInterval is the pause between cycles. Default: 10m.
	PollInterval time.Duration

	// BatchSize bounds the candidates considered per cycle. Default: 50.
	BatchSize int

	// CooldownWindow is the minimum spacing between agent comments on one item. Default: 24h.
	CooldownWindow time.Duration

	// WriteTimeout bounds each append and escalation notice. Default: 10s.
	WriteTimeout time.Duration

	// Urgency carries the due-soon and celebrate windows and the calendar.
	Urgency tracker.UrgencyOptions

	// DryRun composes and journals comments without appending them.
	DryRun bool

	// ItemURLPrefix, when set, is joined with the item key to link escalations.
	ItemURLPrefix string
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:   10 * time.Minute,
		BatchSize:      50,
		CooldownWindow: cooldown.DefaultWindow,
		WriteTimeout:   10 * time.Second,
		Urgency:        tracker.DefaultUrgencyOptions(),
	}
}

// Deps are the collaborators a Monitor drives. Journal, Notifier and
// Metrics are optional.
type Deps struct {
	Source   Candidates
	Threads  Threads
	Ledger   Cooldown
	Profiles Profiles
	Policy   Decider
	Composer Composer
	Writer   Writer
	Journal  Journal
	Notifier escalation.Notifier
	Metrics  *metrics.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Source == nil:
		return fmt.Errorf("monitor: source is required")
	case d.Threads == nil:
		return fmt.Errorf("monitor: thread reader is required")
	case d.Ledger == nil:
		return fmt.Errorf("monitor: cooldown ledger is required")
	case d.Profiles == nil:
		return fmt.Errorf("monitor: profiler is required")
	case d.Policy == nil:
		return fmt.Errorf("monitor: policy is required")
	case d.Composer == nil:
		return fmt.Errorf("monitor: composer is required")
	case d.Writer == nil:
		return fmt.Errorf("monitor: writer is required")
	}
	return nil
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Processed  int           `json:"processed"`
	Emitted    int           `json:"emitted"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Stopped    bool          `json:"stopped"`
	Error      string        `json:"error,omitempty"`
}

// Status is a point-in-time view of the loop.
type Status struct {
	Running   bool         `json:"running"`
	DryRun    bool         `json:"dry_run"`
	Cycles    int          `json:"cycles"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
}

// Monitor is the commentary loop.
type Monitor struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	running atomic.Bool
	stopReq atomic.Bool
	trigger chan struct{}
	wake    chan struct{}

	// cycleMu keeps cycles strictly sequential, including ones run by callers
	// outside the loop.
	cycleMu sync.Mutex

	mu           sync.Mutex
	cycles       int
	last         *CycleReport
	lastFinished time.Time
}

// New creates a Monitor. Zero config fields fall back to DefaultConfig.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Monitor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = def.CooldownWindow
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Urgency.Location == nil {
		cfg.Urgency.Location = time.UTC
	}
	return &Monitor{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With().Str("component", "monitor").Logger(),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
	}, nil
}

// SetClock overrides the wall clock (for testing).
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Run executes one cycle immediately and then one every PollInterval until
// ctx is done or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)
	m.stopReq.Store(false)

	m.logger.Info().
		Dur("interval", m.cfg.PollInterval).
		Int("batch_size", m.cfg.BatchSize).
		Bool("dry_run", m.cfg.DryRun).
		Msg("monitor loop starting")
	defer m.logger.Info().Msg("monitor loop stopped")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.RunCycle(ctx)

	for {
		if m.stopRequested(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
			// Stop was called; the flag check at the top returns.
		case <-m.trigger:
			m.logger.Debug().Msg("early cycle requested")
			m.RunCycle(ctx)
			ticker.Reset(m.cfg.PollInterval)
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// Trigger requests an early cycle. Requests made while one is already
// pending are coalesced; the return value reports whether this call queued one.
func (m *Monitor) Trigger() bool {
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop asks the loop to finish. It is checked between items and before
// each sleep, so an in-flight item always completes.
func (m *Monitor) Stop() {
	m.stopReq.Store(true)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// IsRunning reports whether Run is active.
func (m *Monitor) IsRunning() bool { return m.running.Load() }

// Status returns the running flag and the last cycle report.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Running: m.running.Load(), DryRun: m.cfg.DryRun, Cycles: m.cycles}
	if m.last != nil {
		last := *m.last
		st.LastCycle = &last
	}
	return st
}

// LastFinished returns when the last cycle ended, zero before the first.
func (m *Monitor) LastFinished() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFinished
}

func (m *Monitor) stopRequested(ctx context.Context) bool {
	return m.stopReq.Load() || ctx.Err() != nil
}

// RunCycle processes one batch synchronously and returns its report.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	ctx, id := requestid.New(ctx)
	c := &cycle{
		m:        m,
		id:       id,
		log:      requestid.Logger(ctx, m.logger),
		profiles: make(map[string]profile.Profile),
	}

	start := m.now()
	rep := CycleReport{ID: id, StartedAt: start}
	result := ResultOK

	c.log.Info().Int("batch_size", m.cfg.BatchSize).Msg("cycle starting")

	items, err := m.deps.Source.FetchCandidateItems(ctx, m.cfg.BatchSize)
	if err != nil {
		c.log.Warn().Err(err).Msg("candidate fetch failed, skipping cycle")
		m.recordError("source", err)
		rep.Error = err.Error()
		result = ResultFetchFailed
	}
	rep.Candidates = len(items)

	for _, item := range items {
		if m.stopRequested(ctx) {
			rep.Stopped = true
			result = ResultStopped
			break
		}
		switch c.process(ctx, item) {
		case store.OutcomeEmitted, store.OutcomeDryRun:
			rep.Emitted++
		case store.OutcomeFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
		rep.Processed++
	}

	finished := m.now()
	rep.Duration = finished.Sub(start)
	m.finish(ctx, c, rep, result, finished)
	return rep
}

func (m *Monitor) finish(ctx context.Context, c *cycle, rep CycleReport, result string, finished time.Time) {
	m.mu.Lock()
	m.cycles++
	m.last = &rep
	m.lastFinished = finished
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordCycle(result, rep.Duration.Seconds(), rep.Candidates, float64(finished.Unix()))
	}

	if m.deps.Journal != nil {
		// Use a detached context so a cancelled loop still records the summary.
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.WriteTimeout)
		defer cancel()
		err := m.deps.Journal.RecordCycle(jctx, &store.CycleRecord{
			ID:         rep.ID,
			StartedAt:  rep.StartedAt.UnixMilli(),
			DurationMS: rep.Duration.Milliseconds(),
			Candidates: rep.Candidates,
			Processed:  rep.Processed,
			Emitted:    rep.Emitted,
			Skipped:    rep.Skipped,
			Failed:     rep.Failed,
			Stopped:    rep.Stopped,
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to journal cycle")
			m.recordError("journal", err)
		}
	}

	c.log.Info().
		Str("result", result).
		Dur("duration", rep.Duration.Round(time.Millisecond)).
		Int("candidates", rep.Candidates).
		Int("processed", rep.Processed).
		Int("emitted", rep.Emitted).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Bool("stopped", rep.Stopped).
		Msg("cycle done")
}

func (m *Monitor) recordError(component string, err error) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordError(component, perrors.Classify(err))
	}
}

// cycle is the per-cycle state: its id, logger and the profile memo.
type cycle struct {
	m        *Monitor
	id       string
	log      zerolog.Logger
	profiles map[string]profile.Profile
}

// process runs one item through read, decide, compose and write, and
// returns the journaled outcome.
func (c *cycle) process(ctx context.Context, item tracker.WorkItem) string {
	m := c.m
	now := m.now()
	log := c.log.With().Str("item", item.Ref()).Logger()

	entries := m.deps.Threads.FetchThread(ctx, item.ID)
	sig := signal.Extract(item, entries, now, m.cfg.CooldownWindow)
	urgency := tracker.ClassifyUrgency(item, now, m.cfg.Urgency)
	daysLate := tracker.DaysLate(item, now, m.cfg.Urgency.Location)

	dec := m.deps.Policy.Decide(policy.Input{
		Item:     item,
		Urgency:  urgency,
		DaysLate: daysLate,
		Signal:   sig,
		Cooldown: cooldown.Within(entries, now, m.cfg.CooldownWindow),
	})

	rec := &store.DecisionRecord{
		CycleID:     c.id,
		ItemID:      item.ID,
		ItemKey:     item.Key,
		Urgency:     string(dec.Urgency),
		DaysLate:    dec.DaysLate,
		Signal:      string(sig.Status),
		ShouldEmit:  dec.ShouldEmit,
		Probability: dec.Probability,
		Draw:        dec.Draw,
		Reason:      dec.Reason,
	}
	if item.Assignee != nil {
		rec.AssigneeID = item.Assignee.ID
	}

	log.Debug().
		Str("urgency", string(urgency)).
		Int("days_late", daysLate).
		Str("signal", string(sig.Status)).
		Bool("emit", dec.ShouldEmit).
		Str("reason", dec.Reason).
		Msg("decision")

	if !dec.ShouldEmit {
		return c.journal(ctx, log, rec, store.OutcomeSkipped)
	}

	family := compose.Family(urgency, daysLate, sig)
	text, err := m.deps.Composer.Compose(compose.Request{
		Item:     item,
		Urgency:  urgency,
		DaysLate: daysLate,
		Signal:   sig,
		Profile:  c.profile(ctx, log, item),
	})
	if err != nil {
		log.Warn().Err(err).Str("family", family).Msg("compose failed")
		m.recordError("compose", err)
		rec.Reason = ReasonComposeFailed
		return c.journal(ctx, log, rec, store.OutcomeFailed)
	}
	rec.Message = text

	if m.cfg.DryRun {
		log.Info().Str("family", family).Str("text", text).Msg("dry run, not appending")
		c.recordComment(family, store.OutcomeDryRun)
		return c.journal(ctx, log, rec, store.OutcomeDryRun)
	}

	// The fetched thread may be stale by now; only a fresh read can rule out a
	// comment written since.
	recent, err := m.deps.Ledger.RecentlyCommented(ctx, item.ID, m.cfg.CooldownWindow)
	if err != nil {
		log.Warn().Err(err).Msg("cooldown re-check failed, skipping item")
		m.recordError("cooldown", err)
		rec.Reason = ReasonCooldownUnverified
		return c.journal(ctx, log, rec, store.OutcomeSkipped)
	}
	if recent {
		log.Info().Msg("comment appeared since thread read, skipping")
		rec.Reason = policy.ReasonCooldown
		return c.journal(ctx, log, rec, store.OutcomeSkipped)
	}

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	err = m.deps.Writer.AppendThreadEntry(wctx, item.ID, text, m.now())
	cancel()
	if err != nil {
		log.Error().Err(err).Str("family", family).Msg("append failed")
		m.recordError("append", err)
		c.recordComment(family, "failed")
		c.deadLetter(ctx, log, item, text, err)
		rec.Reason = ReasonAppendFailed
		return c.journal(ctx, log, rec, store.OutcomeFailed)
	}

	log.Info().
		Str("family", family).
		Str("urgency", string(urgency)).
		Int("days_late", daysLate).
		Msg("comment appended")
	c.recordComment(family, "written")
	c.resolveDeadLetters(ctx, log, item)

	if family == compose.FamilyOverdueEscalation {
		c.escalate(ctx, log, item, daysLate, text)
	}
	return c.journal(ctx, log, rec, store.OutcomeEmitted)
}

// profile returns the assignee's profile, computed at most once per cycle.
func (c *cycle) profile(ctx context.Context, log zerolog.Logger, item tracker.WorkItem) profile.Profile {
	if item.Assignee == nil || item.Assignee.ID == "" {
		return profile.Profile{Tier: profile.TierNew}
	}
	id := item.Assignee.ID
	if p, ok := c.profiles[id]; ok {
		return p
	}
	p, err := c.m.deps.Profiles.Profile(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("assignee", id).Msg("profile unavailable, using new tier")
		c.m.recordError("profile", err)
	}
	c.profiles[id] = p
	return p
}

func (c *cycle) journal(ctx context.Context, log zerolog.Logger, rec *store.DecisionRecord, outcome string) string {
	rec.Outcome = outcome
	if c.m.deps.Metrics != nil {
		c.m.deps.Metrics.RecordDecision(rec.Urgency, outcome)
	}
	if c.m.deps.Journal == nil {
		return outcome
	}
	if err := c.m.deps.Journal.RecordDecision(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to journal decision")
		c.m.recordError("journal", err)
	}
	return outcome
}

func (c *cycle) recordComment(family, result string) {
	if c.m.deps.Metrics != nil {
		c.m.deps.Metrics.RecordComment(family, result)
	}
}

func (c *cycle) deadLetter(ctx context.Context, log zerolog.Logger, item tracker.WorkItem, text string, cause error) {
	if c.m.deps.Journal == nil {
		return
	}
	err := c.m.deps.Journal.SaveDeadLetter(ctx, &store.DeadLetter{
		CycleID: c.id,
		ItemID:  item.ID,
		ItemKey: item.Key,
		Message: text,
		Error:   cause.Error(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to save dead letter")
		c.m.recordError("journal", err)
	}
}

func (c *cycle) resolveDeadLetters(ctx context.Context, log zerolog.Logger, item tracker.WorkItem) {
	if c.m.deps.Journal == nil {
		return
	}
	n, err := c.m.deps.Journal.ResolveItem(ctx, item.ID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve dead letters")
		c.m.recordError("journal", err)
		return
	}
	if n > 0 {
		log.Info().Int64("resolved", n).Msg("dead letters resolved by successful write")
	}
}

func (c *cycle) escalate(ctx context.Context, log zerolog.Logger, item tracker.WorkItem, daysLate int, text string) {
	if c.m.deps.Notifier == nil {
		return
	}
	e := escalation.Escalation{
		Level:    escalation.LevelFor(daysLate),
		Title:    fmt.Sprintf("%s is %d days overdue", item.Ref(), daysLate),
		Message:  text,
		Source:   "monitor",
		ItemKey:  item.Ref(),
		DaysLate: daysLate,
	}
	if c.m.cfg.ItemURLPrefix != "" {
		e.ItemURL = c.m.cfg.ItemURLPrefix + item.Ref()
	}
	if item.Assignee != nil {
		e.Assignee = item.Assignee.DisplayName
	}
	nctx, cancel := context.WithTimeout(ctx, c.m.cfg.WriteTimeout)
	defer cancel()
	if err := c.m.deps.Notifier.Notify(nctx, e); err != nil {
		log.Error().Err(err).Msg("escalation notify failed")
		c.m.recordError("escalation", err)
	}
}
