package jira

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/nudge-agent/internal/errors"
	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// DefaultJQL selects unresolved issues plus those resolved in the last two
// days, so on-time completions can still be acknowledged.
const DefaultJQL = `resolution = Unresolved OR resolved >= -2d ORDER BY duedate ASC`

const historyLimit = 200

// maxOpenScan caps an unbounded open-item read. With the enforced due date
// order the cut only ever drops the least urgent tail.
const maxOpenScan = 1000

const dueDateOrder = "ORDER BY duedate ASC"

// Jira timestamp and date layouts.
const (
	timestampLayout = "2006-01-02T15:04:05.000-0700"
	dateLayout      = "2006-01-02"
)

var cancelledNames = []string{"cancel", "won't", "wont", "duplicate", "declined", "rejected", "obsolete"}

// Store implements tracker.Store on top of the Jira REST API. Comments
// authored by AgentAccountID are the agent's own thread entries.
type Store struct {
	client  *Client
	agentID string
	jql     string
	loc     *time.Location
	logger  zerolog.Logger
}

// NewStore creates a Jira-backed tracker store.
func NewStore(client *Client, agentAccountID, jql string, loc *time.Location, logger zerolog.Logger) *Store {
	if jql == "" {
		jql = DefaultJQL
	}
	jql = orderByDueDate(jql)
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		client:  client,
		agentID: agentAccountID,
		jql:     jql,
		loc:     loc,
		logger:  logger.With().Str("component", "jira.store").Logger(),
	}
}

var _ tracker.Store = (*Store)(nil)

// ListOpenItems implements tracker.Store.
func (s *Store) ListOpenItems(ctx context.Context, limit int) ([]tracker.WorkItem, error) {
	if limit <= 0 || limit > maxOpenScan {
		limit = maxOpenScan
	}
	issues, err := s.client.SearchAll(ctx, s.jql, limit)
	if err != nil {
		return nil, err
	}
	if len(issues) == maxOpenScan {
		s.logger.Warn().Int("limit", maxOpenScan).Msg("open item scan truncated, narrow JIRA_JQL")
	}
	return s.toItems(issues), nil
}

// orderByDueDate replaces any ORDER BY clause of jql with ascending due date,
// so overdue issues are read first and undated ones last.
func orderByDueDate(jql string) string {
	if i := strings.LastIndex(strings.ToUpper(jql), "ORDER BY"); i >= 0 {
		jql = jql[:i]
	}
	jql = strings.TrimSpace(jql)
	if jql == "" {
		return dueDateOrder
	}
	return jql + " " + dueDateOrder
}

// GetThread implements tracker.Store.
func (s *Store) GetThread(ctx context.Context, itemID string) ([]tracker.ThreadEntry, error) {
	comments, err := s.client.ListComments(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.ThreadEntry, 0, len(comments))
	for _, c := range comments {
		ts, err := time.Parse(timestampLayout, c.Created)
		if err != nil {
			// An undated entry could hide a recent agent comment, so the
			// whole thread is rejected.
			return nil, fmt.Errorf("comment %s on %s: bad created time %q: %w", c.ID, itemID, c.Created, perrors.ErrInvalidInput)
		}
		e := tracker.ThreadEntry{ItemID: itemID, Timestamp: ts, Text: c.Body}
		if c.Author != nil {
			e.AuthorID = c.Author.AccountID
			e.AuthorName = c.Author.DisplayName
			e.AgentAuthored = s.agentID != "" && c.Author.AccountID == s.agentID
		}
		out = append(out, e)
	}
	return out, nil
}

// AppendThreadEntry implements tracker.Store. Jira stamps the comment with
// its own creation time.
func (s *Store) AppendThreadEntry(ctx context.Context, itemID, text string, at time.Time) error {
	c, err := s.client.AddComment(ctx, itemID, text)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("item", itemID).Str("comment_id", c.ID).Time("at", at).Msg("thread entry appended")
	return nil
}

// GetAssigneeHistory implements tracker.Store.
func (s *Store) GetAssigneeHistory(ctx context.Context, assigneeID string, since time.Time) ([]tracker.WorkItem, error) {
	jql := fmt.Sprintf(`assignee = "%s" AND duedate >= "%s" ORDER BY duedate ASC`,
		quote(assigneeID), since.In(s.loc).Format(dateLayout))
	issues, err := s.client.SearchAll(ctx, jql, historyLimit)
	if err != nil {
		return nil, err
	}
	return s.toItems(issues), nil
}

// Check verifies credentials by asking Jira who we are.
func (s *Store) Check(ctx context.Context) error {
	_, err := s.client.Myself(ctx)
	return err
}

func (s *Store) toItems(issues []Issue) []tracker.WorkItem {
	out := make([]tracker.WorkItem, 0, len(issues))
	for _, is := range issues {
		out = append(out, s.toItem(is))
	}
	return out
}

func (s *Store) toItem(is Issue) tracker.WorkItem {
	item := tracker.WorkItem{
		ID:    is.ID,
		Key:   is.Key,
		Title: is.Fields.Summary,
		State: Lifecycle(is.Fields.Status, is.Fields.Resolution),
	}
	if item.ID == "" {
		item.ID = is.Key
	}
	if a := is.Fields.Assignee; a != nil && a.AccountID != "" {
		item.Assignee = &tracker.Assignee{ID: a.AccountID, DisplayName: a.DisplayName}
	}
	if is.Fields.DueDate != "" {
		if d, err := time.ParseInLocation(dateLayout, is.Fields.DueDate, s.loc); err == nil {
			item.DueDate = &d
		} else {
			s.logger.Warn().Str("issue", is.Key).Str("duedate", is.Fields.DueDate).Msg("unparseable due date, treating as undated")
		}
	}
	if is.Fields.ResolutionDate != "" {
		if t, err := time.Parse(timestampLayout, is.Fields.ResolutionDate); err == nil {
			item.CompletedAt = &t
		} else {
			s.logger.Warn().Str("issue", is.Key).Str("resolutiondate", is.Fields.ResolutionDate).Msg("unparseable resolution date")
		}
	}
	return item
}

// Lifecycle maps a Jira status and resolution onto the tracker lifecycle.
func Lifecycle(st *Status, res *Resolution) tracker.LifecycleState {
	name := ""
	category := ""
	if st != nil {
		name = strings.ToLower(st.Name)
		if st.StatusCategory != nil {
			category = st.StatusCategory.Key
		}
	}
	if res != nil && matchesAny(strings.ToLower(res.Name), cancelledNames) {
		return tracker.StateCancelled
	}
	if matchesAny(name, cancelledNames) {
		return tracker.StateCancelled
	}
	switch category {
	case "done":
		return tracker.StateDone
	case "indeterminate":
		if strings.Contains(name, "review") {
			return tracker.StateReview
		}
		return tracker.StateInProgress
	}
	switch {
	case name == "done" || name == "closed" || name == "resolved":
		return tracker.StateDone
	case strings.Contains(name, "review"):
		return tracker.StateReview
	case strings.Contains(name, "progress"):
		return tracker.StateInProgress
	}
	if res != nil {
		return tracker.StateDone
	}
	return tracker.StateNotStarted
}

func matchesAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
