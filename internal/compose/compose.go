// Package compose renders the comment the agent appends to a work item.
//
// A base template is picked from the catalog by urgency and conversation
// status, then a time-of-day greeting and optional weekday and tier lines
// are added around it.
package compose

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
	"github.com/p-blackswan/nudge-agent/internal/profile"
	"github.com/p-blackswan/nudge-agent/internal/signal"
	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// FallbackName addresses the comment when the item has no assignee at all.
const FallbackName = "team"

// Rand is the random source used to pick variants and optional lines.
type Rand interface {
	Float64() float64
}

// Request is everything needed to compose one comment.
type Request struct {
	Item tracker.WorkItem
	// AssigneeName overrides the assignee display name when set.
	AssigneeName string
	Urgency      tracker.Urgency
	DaysLate     int
	Signal       signal.Signal
	Profile      profile.Profile
}

// templateData is what templates see.
type templateData struct {
	Name     string
	Key      string
	Title    string
	DaysLate int
	DueDate  string
	Blocker  string
	Topics   string
}

var unrendered = regexp.MustCompile(`\{\{|\}\}|<no value>`)

// Generic tokens that must never stand in for a real name.
var placeholderNames = map[string]bool{"user": true, "unknown": true, "assignee": true, "n/a": true}

// Synthesizer composes comments from a validated catalog.
type Synthesizer struct {
	cat *compiled
	loc *time.Location
	now func() time.Time

	mu  sync.Mutex
	rng Rand
}

// NewSynthesizer validates cat and returns a synthesizer using rng.
func NewSynthesizer(cat *Catalog, rng Rand, loc *time.Location) (*Synthesizer, error) {
	c, err := cat.compile()
	if err != nil {
		return nil, fmt.Errorf("template catalog: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Synthesizer{cat: c, loc: loc, now: time.Now, rng: rng}, nil
}

// SetClock overrides the wall clock used for greetings.
func (s *Synthesizer) SetClock(now func() time.Time) { s.now = now }

// Family returns the template family used for a request.
func Family(u tracker.Urgency, daysLate int, sig signal.Signal) string {
	if sig.Status == signal.StatusCompleted && u != tracker.UrgencyCompletedOnTime {
		return FamilyConfirmCompletion
	}
	switch u {
	case tracker.UrgencyCompletedOnTime:
		return FamilyCompletedOnTime
	case tracker.UrgencyDueSoon:
		return FamilyDueSoon
	case tracker.UrgencyOverdue:
		switch {
		case daysLate <= 1:
			return FamilyOverdueFirst
		case daysLate <= 3:
			return FamilyOverdueShort
		case daysLate <= 7:
			return FamilyOverdueWeek
		default:
			return FamilyOverdueEscalation
		}
	default:
		if sig.NeedsFollowup {
			return FamilyFollowup
		}
		return FamilyNormal
	}
}

// Greeting returns the greeting period for an hour of the day.
func Greeting(hour int) string {
	switch {
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// ResolveName returns the name to address. An assignee record without a
// usable display name is an error, never a generic substitute.
func ResolveName(req Request) (string, error) {
	n := strings.TrimSpace(req.AssigneeName)
	if n == "" {
		if req.Item.Assignee == nil {
			return FallbackName, nil
		}
		n = strings.TrimSpace(req.Item.Assignee.DisplayName)
	}
	if n == "" || placeholderNames[strings.ToLower(n)] {
		return "", fmt.Errorf("no usable display name for the assignee of %s: %w",
			req.Item.Ref(), perrors.ErrInvalidInput)
	}
	return n, nil
}

// Compose renders the comment for req.
func (s *Synthesizer) Compose(req Request) (string, error) {
	name, err := ResolveName(req)
	if err != nil {
		return "", err
	}
	data := templateData{
		Name:     name,
		Key:      req.Item.Ref(),
		Title:    req.Item.Title,
		DaysLate: req.DaysLate,
		Blocker:  req.Signal.BlockerPhrase,
		Topics:   strings.Join(req.Signal.TopicTags, ", "),
	}
	if req.Item.DueDate != nil {
		data.DueDate = req.Item.DueDate.In(s.loc).Format("Mon Jan 2")
	}

	now := s.now().In(s.loc)
	family := Family(req.Urgency, req.DaysLate, req.Signal)

	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, 4)
	greeting, err := render(s.pick(s.cat.greetings[Greeting(now.Hour())]), data)
	if err != nil {
		return "", err
	}
	parts = append(parts, greeting)

	body, err := render(s.pick(s.variants(family, req.Signal)), data)
	if err != nil {
		return "", err
	}
	parts = append(parts, body)

	if lines := s.weekdayLines(now.Weekday()); len(lines) > 0 && s.rng.Float64() < s.cat.weekdayProbability {
		line, err := render(s.pick(lines), data)
		if err != nil {
			return "", err
		}
		parts = append(parts, line)
	}

	if tier, ok := s.cat.tiers[string(req.Profile.Tier)]; ok && req.Profile.Tier != profile.TierNew &&
		len(tier.lines) > 0 && s.rng.Float64() < tier.probability {
		line, err := render(s.pick(tier.lines), data)
		if err != nil {
			return "", err
		}
		parts = append(parts, line)
	}

	text := strings.Join(parts, "\n\n")
	if err := check(text, data); err != nil {
		return "", fmt.Errorf("compose %s/%s: %w", req.Item.Ref(), family, err)
	}
	return text, nil
}

// variants returns the templates for the signal status, falling back to the
// family's unknown variants. Blocked variants need a blocker phrase.
func (s *Synthesizer) variants(family string, sig signal.Signal) []*template.Template {
	fam := s.cat.families[family]
	status := string(sig.Status)
	if sig.Status == signal.StatusBlocked && sig.BlockerPhrase == "" {
		status = string(signal.StatusUnknown)
	}
	if v := fam[status]; len(v) > 0 {
		return v
	}
	return fam[string(signal.StatusUnknown)]
}

func (s *Synthesizer) weekdayLines(d time.Weekday) []*template.Template {
	if d != time.Monday && d != time.Friday {
		return nil
	}
	return s.cat.weekday[strings.ToLower(d.String())]
}

func (s *Synthesizer) pick(ts []*template.Template) *template.Template {
	if len(ts) == 1 {
		return ts[0]
	}
	i := int(s.rng.Float64() * float64(len(ts)))
	if i >= len(ts) {
		i = len(ts) - 1
	}
	return ts[i]
}

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func check(text string, data templateData) error {
	if !strings.Contains(text, data.Name) {
		return fmt.Errorf("output does not address %q", data.Name)
	}
	// Tracker-supplied text may legitimately contain braces.
	for _, v := range []string{data.Title, data.Blocker} {
		if v != "" {
			text = strings.ReplaceAll(text, v, "")
		}
	}
	if unrendered.MatchString(text) {
		return fmt.Errorf("output contains unrendered template markers")
	}
	return nil
}
