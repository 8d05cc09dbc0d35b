package slack

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/nudge-agent/internal/escalation"
)

// mockSlackAPI implements BotAPI for testing.
type mockSlackAPI struct {
	postedMessages []postedMessage
	postErr        error
}

type postedMessage struct {
	ChannelID string
	Options   []slack.MsgOption
}

func (m *mockSlackAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.postedMessages = append(m.postedMessages, postedMessage{ChannelID: channelID, Options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackAPI) AuthTestContext(_ context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "U123BOT"}, nil
}

func sample() escalation.Escalation {
	return escalation.Escalation{
		Level:    escalation.LevelWarning,
		Title:    "10 days overdue",
		Message:  "Good morning, Priya!\n\nOPS-7 is 10 days overdue.",
		Source:   "monitor",
		ItemKey:  "OPS-7",
		ItemURL:  "https://example.atlassian.net/browse/OPS-7",
		Assignee: "Priya Raman",
		DaysLate: 10,
	}
}

func TestNotifier_Notify(t *testing.T) {
	mock := &mockSlackAPI{}
	n := NewNotifierWithAPI(mock, "C123CHANNEL", zerolog.Nop())

	require.NoError(t, n.Notify(context.Background(), sample()))
	require.Len(t, mock.postedMessages, 1)
	assert.Equal(t, "C123CHANNEL", mock.postedMessages[0].ChannelID)
	assert.Len(t, mock.postedMessages[0].Options, 2)
}

func TestNotifier_NotifyError(t *testing.T) {
	mock := &mockSlackAPI{postErr: errors.New("channel_not_found")}
	n := NewNotifierWithAPI(mock, "C404", zerolog.Nop())
	err := n.Notify(context.Background(), sample())
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestNotifier_Check(t *testing.T) {
	n := NewNotifierWithAPI(&mockSlackAPI{}, "C1", zerolog.Nop())
	assert.NoError(t, n.Check(context.Background()))
}

func TestEscalationBlocks(t *testing.T) {
	blocks := EscalationBlocks(sample())
	require.Len(t, blocks, 3)

	header, ok := blocks[0].(*slack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, "<https://example.atlassian.net/browse/OPS-7|OPS-7>")
	require.Len(t, header.Fields, 2)
	assert.Contains(t, header.Fields[1].Text, "10 days")

	body, ok := blocks[1].(*slack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, body.Text.Text, "> OPS-7 is 10 days overdue.")

	_, ok = blocks[2].(*slack.ContextBlock)
	assert.True(t, ok)
}

func TestEscalationBlocks_Minimal(t *testing.T) {
	blocks := EscalationBlocks(escalation.Escalation{Level: escalation.LevelInfo, Title: "t"})
	require.Len(t, blocks, 2)
	header := blocks[0].(*slack.SectionBlock)
	assert.Empty(t, header.Fields)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll…", truncate("héllo", 4))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "⚠️ [warning] 10 days overdue", Summary(sample()))
}
