package tracker

import (
	"sort"
	"time"
)

// Urgency is the derived bucket that drives both the emit decision and
// template selection.
type Urgency string

const (
	UrgencyCompletedOnTime Urgency = "completed_on_time"
	UrgencyDueSoon         Urgency = "due_soon"
	UrgencyOverdue         Urgency = "overdue"
	UrgencyNormal          Urgency = "normal"
)

// UrgencyOptions tunes urgency classification.
type UrgencyOptions struct {
	// DueSoonWindow is how far ahead a due date counts as due soon.
	DueSoonWindow time.Duration
	// CelebrateWindow bounds how long after completion an on-time item is
	// still worth celebrating.
	CelebrateWindow time.Duration
	// Location is the calendar used for whole-day arithmetic.
	Location *time.Location
}

// DefaultUrgencyOptions returns the defaults: 48h due-soon and celebrate windows, UTC.
func DefaultUrgencyOptions() UrgencyOptions {
	return UrgencyOptions{
		DueSoonWindow:   48 * time.Hour,
		CelebrateWindow: 48 * time.Hour,
		Location:        time.UTC,
	}
}

func (o UrgencyOptions) loc() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// civilDays returns the number of calendar days from a to b in loc.
func civilDays(a, b time.Time, loc *time.Location) int {
	a = a.In(loc)
	b = b.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// DaysLate is max(0, today - due date) in whole calendar days, or 0 without
// a due date.
func DaysLate(item WorkItem, now time.Time, loc *time.Location) int {
	if item.DueDate == nil {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	if d := civilDays(*item.DueDate, now, loc); d > 0 {
		return d
	}
	return 0
}

// CompletedOnTime reports whether the item was finished on or before its due date.
func CompletedOnTime(item WorkItem, loc *time.Location) bool {
	if item.CompletedAt == nil || item.DueDate == nil {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	return civilDays(*item.CompletedAt, *item.DueDate, loc) >= 0
}

// ClassifyUrgency buckets an item. Missing due dates degrade to normal.
func ClassifyUrgency(item WorkItem, now time.Time, opts UrgencyOptions) Urgency {
	loc := opts.loc()
	if item.IsDone() {
		if CompletedOnTime(item, loc) && now.Sub(*item.CompletedAt) <= opts.CelebrateWindow {
			return UrgencyCompletedOnTime
		}
		return UrgencyNormal
	}
	if item.DueDate == nil {
		return UrgencyNormal
	}
	if DaysLate(item, now, loc) >= 1 {
		return UrgencyOverdue
	}
	// Due today counts as due soon even if the timestamp has passed.
	if civilDays(now, *item.DueDate, loc) == 0 || item.DueDate.Sub(now) <= opts.DueSoonWindow {
		return UrgencyDueSoon
	}
	return UrgencyNormal
}

func urgencyRank(u Urgency) int {
	switch u {
	case UrgencyOverdue:
		return 0
	case UrgencyDueSoon:
		return 1
	case UrgencyCompletedOnTime:
		return 2
	default:
		return 3
	}
}

// SortByUrgency orders items overdue first, then due soon, then completed,
// then normal; ties break on ascending due date with undated items last.
// The sort is stable.
func SortByUrgency(items []WorkItem, now time.Time, opts UrgencyOptions) {
	ranks := make(map[string]int, len(items))
	for _, it := range items {
		ranks[it.ID] = urgencyRank(ClassifyUrgency(it, now, opts))
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := ranks[items[i].ID], ranks[items[j].ID]
		if ri != rj {
			return ri < rj
		}
		di, dj := items[i].DueDate, items[j].DueDate
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
}
