// Package slack posts escalation notices to a Slack channel.
package slack

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/nudge-agent/internal/escalation"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Notifier implements escalation.Notifier by posting to one channel.
type Notifier struct {
	api     BotAPI
	channel string
	logger  zerolog.Logger
}

var _ escalation.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier authenticated with a bot token.
func NewNotifier(botToken, channel string, logger zerolog.Logger) *Notifier {
	return NewNotifierWithAPI(slack.New(botToken), channel, logger)
}

// NewNotifierWithAPI creates a notifier on an existing client.
func NewNotifierWithAPI(api BotAPI, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "slack").Logger(),
	}
}

// Check verifies the bot token.
func (n *Notifier) Check(ctx context.Context) error {
	if _, err := n.api.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	return nil
}

// Notify posts the escalation to the configured channel.
func (n *Notifier) Notify(ctx context.Context, e escalation.Escalation) error {
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(Summary(e), false),
		slack.MsgOptionBlocks(EscalationBlocks(e)...),
	)
	if err != nil {
		return fmt.Errorf("posting escalation to %s: %w", n.channel, err)
	}
	n.logger.Info().
		Str("channel", n.channel).
		Str("ts", ts).
		Str("item", e.ItemKey).
		Str("level", string(e.Level)).
		Msg("escalation posted")
	return nil
}
