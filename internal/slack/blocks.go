package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/p-blackswan/nudge-agent/internal/escalation"
)

const maxMessageChars = 500

// truncate shortens s to max runes, appending "…" if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// Summary is the plain-text fallback shown in notifications.
func Summary(e escalation.Escalation) string {
	return fmt.Sprintf("%s [%s] %s", escalation.LevelEmoji(e.Level), e.Level, e.Title)
}

// EscalationBlocks renders an escalation as Block Kit blocks.
func EscalationBlocks(e escalation.Escalation) []slack.Block {
	header := fmt.Sprintf("%s *%s*", escalation.LevelEmoji(e.Level), e.Title)
	if e.ItemURL != "" && e.ItemKey != "" {
		header = fmt.Sprintf("%s *<%s|%s>* %s", escalation.LevelEmoji(e.Level), e.ItemURL, e.ItemKey, e.Title)
	}

	var fields []*slack.TextBlockObject
	if e.Assignee != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Assignee:*\n"+e.Assignee, false, false))
	}
	if e.DaysLate > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Overdue:*\n%d days", e.DaysLate), false, false))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", header, false, false), fields, nil),
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", quote(truncate(msg, maxMessageChars)), false, false),
			nil, nil,
		))
	}
	ctxText := "level: " + string(e.Level)
	if e.Source != "" {
		ctxText += " · source: " + e.Source
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", ctxText, false, false),
	))
	return blocks
}

// quote prefixes every line with a Slack blockquote marker.
func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}
