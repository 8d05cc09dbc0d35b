package escalation

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	got []Escalation
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, e Escalation) error {
	r.got = append(r.got, e)
	return r.err
}

func TestLogNotifier_Notify(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))
	err := n.Notify(context.Background(), Escalation{
		Level:    LevelWarning,
		Title:    "OPS-7 is 10 days overdue",
		ItemKey:  "OPS-7",
		DaysLate: 10,
		Error:    errors.New("boom"),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"item":"OPS-7"`)
	assert.Contains(t, buf.String(), `"days_late":10`)
}

func TestMultiNotifier_AllCalled(t *testing.T) {
	n1 := &recordingNotifier{err: errors.New("slack down")}
	n2 := &recordingNotifier{}

	multi := NewMultiNotifier(n1, n2)
	err := multi.Notify(context.Background(), Escalation{Level: LevelInfo, Title: "multi test"})
	assert.ErrorContains(t, err, "slack down")
	assert.Len(t, n1.got, 1)
	assert.Len(t, n2.got, 1, "a failing notifier must not stop the others")
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelInfo, LevelFor(3))
	assert.Equal(t, LevelWarning, LevelFor(8))
	assert.Equal(t, LevelWarning, LevelFor(14))
	assert.Equal(t, LevelCritical, LevelFor(15))
}

func TestLevelEmoji(t *testing.T) {
	assert.Equal(t, "🚨", LevelEmoji(LevelCritical))
	assert.Equal(t, "⚠️", LevelEmoji(LevelWarning))
	assert.Equal(t, "ℹ️", LevelEmoji(LevelInfo))
	assert.Equal(t, "ℹ️", LevelEmoji("unknown"))
}
