package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.CyclesTotal)
	assert.NotNil(t, m.CycleDuration)
	assert.NotNil(t, m.DecisionsTotal)
	assert.NotNil(t, m.ErrorsTotal)
	assert.NotNil(t, m.Registry())
}

func TestMetrics_RecordCycle(t *testing.T) {
	m := New()
	m.RecordCycle("ok", 1.5, 7, 1760436000)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `nudge_cycles_total{result="ok"} 1`)
	assert.Contains(t, body, `nudge_cycle_candidates 7`)
	assert.Contains(t, body, "nudge_cycle_duration_seconds_bucket")
	assert.Contains(t, body, "nudge_last_cycle_timestamp_seconds ")
}

func TestMetrics_RecordDecision(t *testing.T) {
	m := New()
	m.RecordDecision("overdue", "emitted")
	m.RecordDecision("overdue", "emitted")
	m.RecordDecision("normal", "skipped")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `nudge_decisions_total{outcome="emitted",urgency="overdue"} 2`)
	assert.Contains(t, body, `nudge_decisions_total{outcome="skipped",urgency="normal"} 1`)
}

func TestMetrics_RecordCommentAndError(t *testing.T) {
	m := New()
	m.RecordComment("overdue_first", "written")
	m.RecordError("tracker", "timeout")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `nudge_comments_total{family="overdue_first",result="written"} 1`)
	assert.Contains(t, body, `nudge_errors_total{component="tracker",type="timeout"} 1`)
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}
