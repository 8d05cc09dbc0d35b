package mgmt

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
	"github.com/p-blackswan/nudge-agent/internal/monitor"
	"github.com/p-blackswan/nudge-agent/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Loop is the part of the monitor the API drives.
type Loop interface {
	Status() monitor.Status
	Trigger() bool
}

// JournalReader is the journal query surface. *store.Store satisfies it.
type JournalReader interface {
	ListDecisions(ctx context.Context, f store.DecisionFilter) ([]*store.DecisionRecord, error)
	ListUnresolved(ctx context.Context, limit int) ([]*store.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id string) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	loop      Loop
	journal   JournalReader
	profiles  monitor.Profiles
	summary   ConfigSummary
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance. journal may be nil when the
// journal is disabled.
func NewHandlers(loop Loop, journal JournalReader, profiles monitor.Profiles, summary ConfigSummary, logger zerolog.Logger) *Handlers {
	return &Handlers{
		loop:      loop,
		journal:   journal,
		profiles:  profiles,
		summary:   summary,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// Status handles GET /api/v1/status.
func (h *Handlers) Status(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Monitor: h.loop.Status(),
		Config:  h.summary,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// TriggerCycle handles POST /api/v1/cycles.
func (h *Handlers) TriggerCycle(c *fiber.Ctx) error {
	queued := h.loop.Trigger()
	h.logger.Info().
		Bool("queued", queued).
		Interface("subject", c.Locals("subject")).
		Msg("early cycle requested via API")
	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{Queued: queued})
}

// ListDecisions handles GET /api/v1/decisions.
func (h *Handlers) ListDecisions(c *fiber.Ctx) error {
	if h.journal == nil {
		return journalDisabled(c)
	}
	f := store.DecisionFilter{
		CycleID: c.Query("cycle_id"),
		ItemID:  c.Query("item_id"),
		Outcome: c.Query("outcome"),
		Limit:   clampLimit(c.QueryInt("limit", defaultListLimit)),
	}
	recs, err := h.journal.ListDecisions(c.UserContext(), f)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing decisions")
		return problemResponse(c, fiber.StatusInternalServerError,
			"journal_error", "Internal Server Error",
			"Failed to read the decision journal")
	}
	if recs == nil {
		recs = []*store.DecisionRecord{}
	}
	return c.JSON(DecisionListResponse{Decisions: recs, Limit: f.Limit})
}

// ListDeadLetters handles GET /api/v1/dead-letters.
func (h *Handlers) ListDeadLetters(c *fiber.Ctx) error {
	if h.journal == nil {
		return journalDisabled(c)
	}
	dls, err := h.journal.ListUnresolved(c.UserContext(), clampLimit(c.QueryInt("limit", defaultListLimit)))
	if err != nil {
		h.logger.Error().Err(err).Msg("listing dead letters")
		return problemResponse(c, fiber.StatusInternalServerError,
			"journal_error", "Internal Server Error",
			"Failed to read dead letters")
	}
	if dls == nil {
		dls = []*store.DeadLetter{}
	}
	return c.JSON(DeadLetterListResponse{DeadLetters: dls})
}

// ResolveDeadLetter handles POST /api/v1/dead-letters/:id/resolve.
func (h *Handlers) ResolveDeadLetter(c *fiber.Ctx) error {
	if h.journal == nil {
		return journalDisabled(c)
	}
	id := c.Params("id")
	if err := h.journal.ResolveDeadLetter(c.UserContext(), id); err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"dead_letter_not_found", "Not Found",
				"Dead letter not found: "+id)
		}
		h.logger.Error().Err(err).Str("id", id).Msg("resolving dead letter")
		return problemResponse(c, fiber.StatusInternalServerError,
			"journal_error", "Internal Server Error",
			"Failed to resolve dead letter")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// GetProfile handles GET /api/v1/profiles/:assignee.
func (h *Handlers) GetProfile(c *fiber.Ctx) error {
	id := c.Params("assignee")
	if id == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_assignee", "Bad Request",
			"Assignee id is required")
	}
	prof, err := h.profiles.Profile(c.UserContext(), id)
	if err != nil {
		h.logger.Warn().Err(err).Str("assignee", id).Msg("profile request failed")
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"tracker_unavailable", "Service Unavailable",
			"Could not read assignee history: "+perrors.Classify(err))
	}
	return c.JSON(prof)
}

func journalDisabled(c *fiber.Ctx) error {
	return problemResponse(c, fiber.StatusNotFound,
		"journal_disabled", "Not Found",
		"The decision journal is not enabled (set JOURNAL_DB_PATH)")
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}
