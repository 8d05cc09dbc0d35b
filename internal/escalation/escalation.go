// Package escalation notifies humans when a work item has been overdue long
// enough that a comment on the item alone is not enough.
package escalation

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Level describes the urgency of an escalation.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Escalation represents a notification to a human.
type Escalation struct {
	Level    Level
	Title    string
	Message  string
	Source   string // which subsystem triggered it
	ItemKey  string
	ItemURL  string
	Assignee string
	DaysLate int
	Error    error // underlying error, if any
}

// Notifier sends escalation notifications.
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// LevelFor maps lateness onto an escalation level.
func LevelFor(daysLate int) Level {
	switch {
	case daysLate > 14:
		return LevelCritical
	case daysLate > 7:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// MultiNotifier fans out to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: ns}
}

// Notify calls every notifier and joins their errors.
func (m *MultiNotifier) Notify(ctx context.Context, e Escalation) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier logs escalations.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "escalation").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, e Escalation) error {
	l.logger.Warn().
		Str("level", string(e.Level)).
		Str("title", e.Title).
		Str("message", e.Message).
		Str("source", e.Source).
		Str("item", e.ItemKey).
		Str("assignee", e.Assignee).
		Int("days_late", e.DaysLate).
		AnErr("cause", e.Error).
		Msg("escalation")
	return nil
}

// LevelEmoji returns the marker used when rendering a level.
func LevelEmoji(l Level) string {
	switch l {
	case LevelCritical:
		return "🚨"
	case LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
