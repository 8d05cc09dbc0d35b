package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

var now = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

const window = 24 * time.Hour

func human(text string, ago time.Duration) tracker.ThreadEntry {
	return tracker.ThreadEntry{ItemID: "1", AuthorID: "ana", Timestamp: now.Add(-ago), Text: text}
}

func agent(text string, ago time.Duration) tracker.ThreadEntry {
	return tracker.ThreadEntry{ItemID: "1", AuthorID: "bot", Timestamp: now.Add(-ago), Text: text, AgentAuthored: true}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Status
	}{
		{"All done, ready for review", StatusCompleted},
		{"Finished the migration yesterday", StatusCompleted},
		{"I'm stuck on the auth handshake", StatusBlocked},
		{"Waiting on the vendor for credentials", StatusBlocked},
		{"I can't reproduce this locally", StatusBlocked},
		{"Running QA on staging now", StatusTesting},
		{"Need to verify the numbers", StatusTesting},
		{"started working on the API integration", StatusInProgress},
		{"Quick update: halfway there", StatusInProgress},
		{"Sounds good", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	assert.Equal(t, StatusBlocked, Classify("blocked while testing the payment flow"))
	assert.Equal(t, StatusCompleted, Classify("done, but there was a problem with testing"))
	assert.Equal(t, StatusTesting, Classify("working on the tests"))
}

func TestClassify_WordBoundaries(t *testing.T) {
	// "latest", "abandoned" and "tissue" must not match test/done/issue.
	assert.Equal(t, StatusUnknown, Classify("pulled the latest, abandoned the old tissue sample"))
}

func TestClassify_NegatedCompletion(t *testing.T) {
	assert.Equal(t, StatusUnknown, Classify("not done yet"))
	assert.Equal(t, StatusInProgress, Classify("it isn't finished, still working on it"))
	assert.Equal(t, StatusUnknown, Classify("not yet completed"))
	assert.Equal(t, StatusCompleted, Classify("not blocked anymore, it's done"))
}

func TestExtract_EmptyThread(t *testing.T) {
	sig := Extract(tracker.WorkItem{Title: "Ship it"}, nil, now, window)
	assert.Equal(t, StatusUnknown, sig.Status)
	assert.False(t, sig.NeedsFollowup)
	assert.Nil(t, sig.LastHumanEntry)
	assert.Nil(t, sig.LastAgentEntry)
}

func TestExtract_UsesRecentHumanEntriesOnly(t *testing.T) {
	entries := []tracker.ThreadEntry{
		human("I'm blocked on infra", 96*time.Hour),
		human("ok", 72*time.Hour),
		human("started the rewrite", 48*time.Hour),
		agent("How is it going?", 30*time.Hour),
		human("nice", 26*time.Hour),
	}
	sig := Extract(tracker.WorkItem{}, entries, now, window)
	// The blocked entry is the fourth most recent human entry and falls out.
	assert.Equal(t, StatusInProgress, sig.Status)
	require.NotNil(t, sig.LastHumanEntry)
	assert.Equal(t, "nice", sig.LastHumanEntry.Text)
	require.NotNil(t, sig.LastAgentEntry)
	assert.Equal(t, "How is it going?", sig.LastAgentEntry.Text)
	assert.False(t, sig.NeedsFollowup)
}

func TestExtract_AgentMessagesNeverClassify(t *testing.T) {
	entries := []tracker.ThreadEntry{agent("Is this done? Are you stuck?", time.Hour)}
	sig := Extract(tracker.WorkItem{}, entries, now, window)
	assert.Equal(t, StatusUnknown, sig.Status)
}

func TestExtract_NeedsFollowup(t *testing.T) {
	t.Run("agent last and window elapsed", func(t *testing.T) {
		entries := []tracker.ThreadEntry{human("started", 72*time.Hour), agent("any news?", 25*time.Hour)}
		assert.True(t, Extract(tracker.WorkItem{}, entries, now, window).NeedsFollowup)
	})
	t.Run("agent last but recent", func(t *testing.T) {
		entries := []tracker.ThreadEntry{agent("any news?", 3*time.Hour)}
		assert.False(t, Extract(tracker.WorkItem{}, entries, now, window).NeedsFollowup)
	})
	t.Run("human replied", func(t *testing.T) {
		entries := []tracker.ThreadEntry{agent("any news?", 50*time.Hour), human("on it", 40*time.Hour)}
		assert.False(t, Extract(tracker.WorkItem{}, entries, now, window).NeedsFollowup)
	})
}

func TestExtract_BlockerPhrase(t *testing.T) {
	entries := []tracker.ThreadEntry{
		human("Good progress on the UI. Still stuck on the OAuth redirect in staging! Will retry tomorrow.", time.Hour),
	}
	sig := Extract(tracker.WorkItem{}, entries, now, window)
	assert.Equal(t, StatusBlocked, sig.Status)
	assert.Equal(t, "Still stuck on the OAuth redirect in staging", sig.BlockerPhrase)
}

func TestExtract_BlockerPhraseTruncated(t *testing.T) {
	long := "blocked because the upstream vendor keeps rotating credentials without notice and nobody on their side answers tickets"
	sig := Extract(tracker.WorkItem{}, []tracker.ThreadEntry{human(long, time.Hour)}, now, window)
	assert.LessOrEqual(t, len([]rune(sig.BlockerPhrase)), maxBlockerRunes+1)
	assert.True(t, len(sig.BlockerPhrase) > 0)
}

func TestExtract_TopicTags(t *testing.T) {
	item := tracker.WorkItem{Title: "Fix login bug before release"}
	entries := []tracker.ThreadEntry{human("added a DB migration and the API endpoint", time.Hour)}
	sig := Extract(item, entries, now, window)
	assert.Equal(t, []string{"api", "bugfix", "database", "deployment"}, sig.TopicTags)
	assert.True(t, sig.HasTag("api"))
	assert.False(t, sig.HasTag("design"))
}
