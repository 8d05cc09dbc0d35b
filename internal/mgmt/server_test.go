package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/nudge-agent/internal/health"
	"github.com/p-blackswan/nudge-agent/internal/jira"
	"github.com/p-blackswan/nudge-agent/internal/metrics"
	"github.com/p-blackswan/nudge-agent/internal/monitor"
	"github.com/p-blackswan/nudge-agent/internal/profile"
	"github.com/p-blackswan/nudge-agent/internal/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type fakeLoop struct {
	mu      sync.Mutex
	pending bool
	status  monitor.Status
}

func (l *fakeLoop) Status() monitor.Status { return l.status }

func (l *fakeLoop) Trigger() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending {
		return false
	}
	l.pending = true
	return true
}

func (l *fakeLoop) triggered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

type fakeProfiles struct {
	err error
}

func (p fakeProfiles) Profile(_ context.Context, id string) (profile.Profile, error) {
	if p.err != nil {
		return profile.Profile{AssigneeID: id, Tier: profile.TierNew}, p.err
	}
	return profile.Profile{AssigneeID: id, TotalCount: 4, CompletedCount: 4, OnTimeCount: 4,
		CompletionRate: 1, OnTimeRate: 1, Score: 1, Tier: profile.TierConsistent}, nil
}

type testOptions struct {
	mode       string
	apiKey     string
	rps        int
	noJournal  bool
	profileErr error
	secret     string
}

type testEnv struct {
	app     *fiber.App
	loop    *fakeLoop
	journal *store.Store
}

func newTestEnv(t *testing.T, opts testOptions) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	loop := &fakeLoop{status: monitor.Status{Running: true, Cycles: 3,
		LastCycle: &monitor.CycleReport{ID: "c-3", Candidates: 5, Processed: 5, Emitted: 2, Skipped: 3}}}

	j, err := store.New(filepath.Join(t.TempDir(), "journal.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	var journal JournalReader
	if !opts.noJournal {
		journal = j
	}

	hook := jira.NewWebhookHandler("bot-1", logger)
	hook.SetSecret(opts.secret)
	hook.OnActivity(func(context.Context, *jira.WebhookEvent) { loop.Trigger() })

	handlers := NewHandlers(loop, journal, fakeProfiles{err: opts.profileErr},
		ConfigSummary{Environment: "test", BatchSize: 50, AuthMode: opts.mode}, logger)

	srv := NewServer(ServerConfig{
		ListenAddr: ":0",
		AuthConfig: AuthConfig{
			Mode:      opts.mode,
			APIKey:    opts.apiKey,
			JWTSecret: []byte(testJWTSecret),
		},
		RateLimitRPS: opts.rps,
	}, handlers, health.NewChecker(logger), metrics.New(), hook, logger)

	return &testEnv{app: srv.App(), loop: loop, journal: j}
}

// testApp creates a Fiber app with all routes for testing.
func testApp(t *testing.T, authMode string, apiKey string) *fiber.App {
	t.Helper()
	return newTestEnv(t, testOptions{mode: authMode, apiKey: apiKey}).app
}

func do(t *testing.T, app *fiber.App, method, path, token string, body io.Reader) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestServer_HealthzEndpoint(t *testing.T) {
	app := testApp(t, "none", "")

	resp := do(t, app, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadyzEndpoint(t *testing.T) {
	app := testApp(t, "none", "")

	resp := do(t, app, "GET", "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	app := testApp(t, "none", "")

	resp := do(t, app, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_Status(t *testing.T) {
	app := testApp(t, "none", "")

	resp := do(t, app, "GET", "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Monitor.Running)
	assert.Equal(t, 3, st.Monitor.Cycles)
	require.NotNil(t, st.Monitor.LastCycle)
	assert.Equal(t, "c-3", st.Monitor.LastCycle.ID)
	assert.Equal(t, "test", st.Config.Environment)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_TriggerCycle_Coalesces(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none"})

	var first, second TriggerResponse
	resp := do(t, env.app, "POST", "/api/v1/cycles", "", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))

	resp = do(t, env.app, "POST", "/api/v1/cycles", "", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))

	assert.True(t, first.Queued)
	assert.False(t, second.Queued)
}

func TestServer_ListDecisions(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none"})
	ctx := context.Background()
	for _, item := range []string{"1", "2", "3"} {
		require.NoError(t, env.journal.RecordDecision(ctx, &store.DecisionRecord{
			CycleID: "c-1", ItemID: item, Urgency: "overdue", Reason: "overdue_1d", Outcome: store.OutcomeEmitted,
		}))
	}

	resp := do(t, env.app, "GET", "/api/v1/decisions?limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list DecisionListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list.Decisions, 2)
	assert.Equal(t, 2, list.Limit)

	resp = do(t, env.app, "GET", "/api/v1/decisions?item_id=3", "", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Decisions, 1)
	assert.Equal(t, "3", list.Decisions[0].ItemID)
}

func TestServer_DeadLetters(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none"})
	dl := &store.DeadLetter{CycleID: "c-1", ItemID: "1", ItemKey: "PLAT-1", Message: "hi", Error: "503"}
	require.NoError(t, env.journal.SaveDeadLetter(context.Background(), dl))

	resp := do(t, env.app, "GET", "/api/v1/dead-letters", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list DeadLetterListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.DeadLetters, 1)
	assert.Equal(t, "PLAT-1", list.DeadLetters[0].ItemKey)

	resp = do(t, env.app, "POST", "/api/v1/dead-letters/"+dl.ID+"/resolve", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, env.app, "POST", "/api/v1/dead-letters/"+dl.ID+"/resolve", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, env.app, "GET", "/api/v1/dead-letters", "", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list.DeadLetters)
}

func TestServer_JournalDisabled(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none", noJournal: true})

	for _, path := range []string{"/api/v1/decisions", "/api/v1/dead-letters"} {
		resp := do(t, env.app, "GET", path, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		var problem ProblemDetail
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
		assert.Equal(t, "journal_disabled", problem.Type)
	}
}

func TestServer_GetProfile(t *testing.T) {
	app := testApp(t, "none", "")

	resp := do(t, app, "GET", "/api/v1/profiles/u-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prof profile.Profile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prof))
	assert.Equal(t, "u-1", prof.AssigneeID)
	assert.Equal(t, profile.TierConsistent, prof.Tier)
}

func TestServer_GetProfile_TrackerDown(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none", profileErr: errors.New("boom")})

	resp := do(t, env.app, "GET", "/api/v1/profiles/u-1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_JiraWebhookTriggersCycle(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "api-key", apiKey: "k", secret: "hook-secret"})
	payload := `{"webhookEvent":"comment_created","issue":{"key":"PLAT-1"},"comment":{"id":"1","author":{"accountId":"u-1"},"body":"done"}}`

	resp := do(t, env.app, "POST", "/webhook/jira?token=wrong", "", strings.NewReader(payload))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.loop.triggered())

	resp = do(t, env.app, "POST", "/webhook/jira?token=hook-secret", "", strings.NewReader(payload))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.loop.triggered())
}

func TestServer_JiraWebhookIgnoresOwnComments(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none"})
	payload := `{"webhookEvent":"comment_created","issue":{"key":"PLAT-1"},"comment":{"id":"1","author":{"accountId":"bot-1"},"body":"nudge"}}`

	resp := do(t, env.app, "POST", "/webhook/jira", "", strings.NewReader(payload))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, env.loop.triggered())
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, testOptions{mode: "none", rps: 1})

	resp := do(t, env.app, "GET", "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, env.app, "GET", "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Probes are never limited.
	for i := 0; i < 3; i++ {
		resp = do(t, env.app, "GET", "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	app := testApp(t, "none", "")

	resp := do(t, app, "GET", "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIssueToken_RoundTrip(t *testing.T) {
	tok, err := IssueToken([]byte(testJWTSecret), "ops", RoleOperator, time.Minute)
	require.NoError(t, err)

	claims, err := parseToken([]byte(testJWTSecret), tok)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "ops", claims.Subject)

	_, err = parseToken([]byte("another-secret-another-secret-xx"), tok)
	assert.Error(t, err)
}
