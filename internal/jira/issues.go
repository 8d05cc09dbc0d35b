package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Issue represents a Jira issue.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self,omitempty"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the issue fields the agent reads.
type IssueFields struct {
	Summary        string      `json:"summary"`
	Status         *Status     `json:"status,omitempty"`
	Resolution     *Resolution `json:"resolution,omitempty"`
	Assignee       *User       `json:"assignee,omitempty"`
	DueDate        string      `json:"duedate,omitempty"`
	ResolutionDate string      `json:"resolutiondate,omitempty"`
}

type Status struct {
	Name           string          `json:"name"`
	ID             string          `json:"id,omitempty"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

// StatusCategory key is one of "new", "indeterminate" or "done".
type StatusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

type Resolution struct {
	Name string `json:"name"`
}

type User struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"emailAddress,omitempty"`
}

// SearchResult contains JQL search results.
type SearchResult struct {
	Total      int     `json:"total"`
	MaxResults int     `json:"maxResults"`
	StartAt    int     `json:"startAt"`
	Issues     []Issue `json:"issues"`
}

// Comment is one issue comment. API v2 bodies are plain text.
type Comment struct {
	ID      string `json:"id"`
	Author  *User  `json:"author,omitempty"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

// CommentPage is one page of an issue's comments.
type CommentPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}

var issueFields = []string{"summary", "status", "resolution", "assignee", "duedate", "resolutiondate"}

const commentPageSize = 100

// SearchIssues performs a JQL search starting at startAt.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*SearchResult, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"jql":        jql,
		"startAt":    startAt,
		"maxResults": maxResults,
		"fields":     issueFields,
	})

	resp, err := c.do(ctx, "POST", "/rest/api/2/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}

	var result SearchResult
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchAll pages through a JQL search until limit issues or the end.
func (c *Client) SearchAll(ctx context.Context, jql string, limit int) ([]Issue, error) {
	var out []Issue
	for len(out) < limit {
		page, err := c.SearchIssues(ctx, jql, len(out), limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, page.Issues...)
		if len(page.Issues) == 0 || len(out) >= page.Total {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListComments returns every comment on an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, issueKey string) ([]Comment, error) {
	var out []Comment
	for {
		q := url.Values{
			"startAt":    {strconv.Itoa(len(out))},
			"maxResults": {strconv.Itoa(commentPageSize)},
			"orderBy":    {"created"},
		}
		resp, err := c.do(ctx, "GET", fmt.Sprintf("/rest/api/2/issue/%s/comment?%s", url.PathEscape(issueKey), q.Encode()), nil)
		if err != nil {
			return nil, fmt.Errorf("listing comments on %s: %w", issueKey, err)
		}
		var page CommentPage
		if err := decodeResponse(resp, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Comments...)
		if len(page.Comments) == 0 || len(out) >= page.Total {
			return out, nil
		}
	}
}

// AddComment posts a plain-text comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueKey, body string) (*Comment, error) {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return nil, fmt.Errorf("marshaling comment: %w", err)
	}

	resp, err := c.do(ctx, "POST", fmt.Sprintf("/rest/api/2/issue/%s/comment", url.PathEscape(issueKey)), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("adding comment to %s: %w", issueKey, err)
	}

	var comment Comment
	if err := decodeResponse(resp, &comment); err != nil {
		return nil, err
	}
	c.logger.Info().Str("issue", issueKey).Str("comment_id", comment.ID).Msg("comment added")
	return &comment, nil
}

// Myself returns the user the client authenticates as.
func (c *Client) Myself(ctx context.Context) (*User, error) {
	resp, err := c.do(ctx, "GET", "/rest/api/2/myself", nil)
	if err != nil {
		return nil, fmt.Errorf("getting current user: %w", err)
	}
	var u User
	if err := decodeResponse(resp, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
