package jira

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/nudge-agent/internal/lru"
)

const maxWebhookBody = 1 << 20

// Jira retries failed deliveries with the same identifier.
const (
	deliveryHeader   = "X-Atlassian-Webhook-Identifier"
	deliveryCapacity = 1024
	deliveryTTL      = time.Hour
)

// WebhookEvent represents a Jira webhook event.
type WebhookEvent struct {
	WebhookEvent string   `json:"webhookEvent"`
	IssueEvent   string   `json:"issue_event_type_name,omitempty"`
	Issue        *Issue   `json:"issue,omitempty"`
	User         *User    `json:"user,omitempty"`
	Comment      *Comment `json:"comment,omitempty"`
	Changelog    *struct {
		Items []ChangelogItem `json:"items"`
	} `json:"changelog,omitempty"`
}

// ChangelogItem represents a field change in a Jira event.
type ChangelogItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// IssueKey returns the key of the issue the event is about, if any.
func (e *WebhookEvent) IssueKey() string {
	if e.Issue == nil {
		return ""
	}
	return e.Issue.Key
}

// WebhookHandler receives Jira webhooks and reports issue and comment
// activity. Comments written by the agent itself are ignored.
type WebhookHandler struct {
	logger     zerolog.Logger
	agentID    string
	secret     string
	onActivity func(ctx context.Context, event *WebhookEvent)
	deliveries *lru.Cache[string, struct{}]
}

// NewWebhookHandler creates a new Jira webhook handler.
func NewWebhookHandler(agentAccountID string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		agentID:    agentAccountID,
		logger:     logger.With().Str("component", "jira.webhook").Logger(),
		deliveries: lru.New[string, struct{}](deliveryCapacity, deliveryTTL),
	}
}

// SetSecret requires a matching ?token= query parameter on every delivery.
func (w *WebhookHandler) SetSecret(secret string) { w.secret = secret }

// OnActivity sets the handler for issue and comment events.
func (w *WebhookHandler) OnActivity(fn func(ctx context.Context, event *WebhookEvent)) {
	w.onActivity = fn
}

// ServeHTTP handles incoming Jira webhook requests.
func (w *WebhookHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if w.secret != "" && subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(w.secret)) != 1 {
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		w.logger.Error().Err(err).Msg("failed to parse webhook event")
		http.Error(rw, "invalid payload", http.StatusBadRequest)
		return
	}

	// Remember only deliveries that parsed.
	if id := r.Header.Get(deliveryHeader); id != "" && !w.deliveries.Add(id, struct{}{}) {
		w.logger.Debug().Str("delivery", id).Msg("ignoring redelivered webhook")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, "ok")
		return
	}

	w.logger.Info().
		Str("event", event.WebhookEvent).
		Str("issue", event.IssueKey()).
		Msg("jira webhook received")

	switch event.WebhookEvent {
	case "jira:issue_created", "jira:issue_updated":
		w.fire(ctx, &event)
	case "comment_created", "comment_updated":
		if event.Comment != nil && event.Comment.Author != nil && event.Comment.Author.AccountID == w.agentID {
			w.logger.Debug().Str("issue", event.IssueKey()).Msg("ignoring own comment")
			break
		}
		w.fire(ctx, &event)
	default:
		w.logger.Debug().Str("event", event.WebhookEvent).Msg("unhandled event")
	}

	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "ok")
}

func (w *WebhookHandler) fire(ctx context.Context, event *WebhookEvent) {
	if w.onActivity != nil {
		w.onActivity(ctx, event)
	}
}
