// Package signal classifies a work item's discussion thread into a
// conversation signal: what the humans last said about the work, and
// whether the agent is still waiting on a reply.
package signal

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// Status is the semantic state reconstructed from the thread.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusTesting    Status = "testing"
	StatusCompleted  Status = "completed"
	StatusUnknown    Status = "unknown"
)

// RecentHumanEntries is how many of the latest human entries are classified.
const RecentHumanEntries = 3

const maxBlockerRunes = 80

// Signal is a derived, non-persisted reading of an item's thread.
type Signal struct {
	Status         Status
	NeedsFollowup  bool
	LastHumanEntry *tracker.ThreadEntry
	LastAgentEntry *tracker.ThreadEntry
	TopicTags      []string
	// BlockerPhrase is the sentence that triggered a blocked status.
	BlockerPhrase string
}

// HasTag reports whether tag was extracted.
func (s Signal) HasTag(tag string) bool {
	for _, t := range s.TopicTags {
		if t == tag {
			return true
		}
	}
	return false
}

type class struct {
	status   Status
	patterns []*regexp.Regexp
}

func words(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)\b(?:` + e + `)\b`)
	}
	return out
}

// Checked in order; the first class with a match wins.
var classes = []class{
	{StatusCompleted, words(`done`, `completed?`, `finished`, `ready for review`, `resolved`, `merged`)},
	{StatusBlocked, words(`blocked`, `blocker`, `stuck`, `issues?`, `problems?`, `can'?t`, `cannot`, `can not`, `waiting (?:on|for)`)},
	{StatusTesting, words(`test(?:s|ing|ed)?`, `qa`, `verify`, `verifying`, `verified`)},
	{StatusInProgress, words(`working on`, `in progress`, `started`, `updates?`, `updated`)},
}

// A completion word directly preceded by a negation does not count.
var negatedCompletion = regexp.MustCompile(
	`(?i)\b(?:not|never|isn'?t|aren'?t|wasn'?t|haven'?t|hasn'?t|not yet|almost|nearly)\s+(?:yet\s+|quite\s+|fully\s+)?(?:done|completed?|finished|resolved|merged|ready for review)\b`)

var topics = []struct {
	tag      string
	patterns []*regexp.Regexp
}{
	{"testing", words(`test(?:s|ing|ed)?`, `qa`, `verif(?:y|ying|ied|ication)`)},
	{"deployment", words(`deploy(?:s|ed|ing|ment)?`, `release[sd]?`, `rollout`, `roll out`, `production`, `prod`)},
	{"bugfix", words(`bugs?`, `fix(?:es|ed|ing)?`, `hotfix`, `regression`, `crash(?:es|ing)?`)},
	{"review", words(`review(?:s|ed|ing)?`, `pr`, `pull request`, `code review`)},
	{"documentation", words(`docs?`, `documentation`, `readme`, `wiki`)},
	{"api", words(`apis?`, `endpoints?`, `integration`, `webhooks?`)},
	{"database", words(`db`, `database`, `migrations?`, `schema`, `sql`)},
	{"design", words(`design`, `mockups?`, `ui`, `ux`, `figma`)},
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// Extract derives the signal for item from its ascending-ordered thread.
// window is the cooldown window used to decide whether a trailing agent
// entry has gone unanswered long enough to need a follow-up.
func Extract(item tracker.WorkItem, entries []tracker.ThreadEntry, now time.Time, window time.Duration) Signal {
	sig := Signal{Status: StatusUnknown}

	var recent []tracker.ThreadEntry // most recent first
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.AgentAuthored {
			if sig.LastAgentEntry == nil {
				entry := e
				sig.LastAgentEntry = &entry
			}
			continue
		}
		if sig.LastHumanEntry == nil {
			entry := e
			sig.LastHumanEntry = &entry
		}
		if len(recent) < RecentHumanEntries {
			recent = append(recent, e)
		}
	}

	if n := len(entries); n > 0 {
		last := entries[n-1]
		sig.NeedsFollowup = last.AgentAuthored && now.Sub(last.Timestamp) >= window
	}

	sig.Status, sig.BlockerPhrase = classify(recent)
	sig.TopicTags = extractTopics(item.Title, recent)
	return sig
}

// Classify returns the status a single piece of free text maps to.
func Classify(text string) Status {
	st, _ := classify([]tracker.ThreadEntry{{Text: text}})
	return st
}

func classify(recent []tracker.ThreadEntry) (Status, string) {
	if len(recent) == 0 {
		return StatusUnknown, ""
	}
	texts := make([]string, len(recent))
	for i, e := range recent {
		texts[i] = e.Text
	}
	joined := strings.Join(texts, "\n")

	for _, c := range classes {
		probe := joined
		if c.status == StatusCompleted {
			probe = negatedCompletion.ReplaceAllString(joined, " ")
		}
		for _, p := range c.patterns {
			if !p.MatchString(probe) {
				continue
			}
			if c.status == StatusBlocked {
				return c.status, blockerPhrase(texts, c.patterns)
			}
			return c.status, ""
		}
	}
	return StatusUnknown, ""
}

// blockerPhrase finds the first sentence, scanning the newest entry first,
// that carries a blocking match.
func blockerPhrase(texts []string, patterns []*regexp.Regexp) string {
	for _, text := range texts {
		for _, sentence := range sentenceSplit.Split(text, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			for _, p := range patterns {
				if p.MatchString(sentence) {
					return truncate(sentence, maxBlockerRunes)
				}
			}
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max])) + "…"
}

func extractTopics(title string, recent []tracker.ThreadEntry) []string {
	var sb strings.Builder
	sb.WriteString(title)
	for _, e := range recent {
		sb.WriteByte('\n')
		sb.WriteString(e.Text)
	}
	text := sb.String()

	var tags []string
	for _, t := range topics {
		for _, p := range t.patterns {
			if p.MatchString(text) {
				tags = append(tags, t.tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}
