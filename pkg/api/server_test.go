package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/dispatch"
	"github.com/challengectl/challengectl/pkg/events"
	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

type testEnv struct {
	ts         *httptest.Server
	store      *storage.Store
	blobs      *blob.Store
	resolver   *auth.Resolver
	dispatcher *dispatch.Dispatcher
	broker     *events.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewStore(filepath.Join(dir, "files"))
	require.NoError(t, err)

	resolver, err := auth.NewResolver(store)
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	dispatcher := dispatch.NewDispatcher(store, broker, resolver, config.DefaultTunables())

	srv := NewServer(Options{
		Store:      store,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Broker:     broker,
		Tunables:   config.DefaultTunables(),
		Version:    "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:         ts,
		store:      store,
		blobs:      blobs,
		resolver:   resolver,
		dispatcher: dispatcher,
		broker:     broker,
	}
}

// seedRunner persists an enrolled runner and returns it with its plaintext
// API key, the way a real enrollment would have handed it out.
func (e *testEnv) seedRunner(t *testing.T, name string) (*types.Runner, string) {
	t.Helper()
	key, err := auth.NewSecret()
	require.NoError(t, err)
	hash, err := auth.HashSecret(key)
	require.NoError(t, err)

	r := &types.Runner{
		ID:         uuid.New().String(),
		Name:       name,
		Status:     types.RunnerOnline,
		Enabled:    true,
		MAC:        "aa:bb:cc:00:11:22",
		MachineID:  "machine-" + name,
		APIKeyHash: hash,
		Devices: []types.Device{{
			Name:        "hackrf0",
			Driver:      "hackrf",
			Frequencies: freq.Set{{Low: 400_000_000, High: 500_000_000}},
		}},
		LastHeartbeat: time.Now(),
	}
	require.NoError(t, e.store.SaveRunner(r))
	return r, key
}

func (e *testEnv) seedChallenge(t *testing.T, name string, public bool) *types.Challenge {
	t.Helper()
	c := &types.Challenge{
		ID:          uuid.New().String(),
		Name:        name,
		Modulation:  "ook",
		Frequencies: freq.Set{{Low: 433_000_000, High: 434_000_000}},
		MinDelay:    time.Minute,
		MaxDelay:    2 * time.Minute,
		Enabled:     true,
		PublicView:  public,
		Status:      types.ChallengeQueued,
	}
	require.NoError(t, e.store.SaveChallenge(c))
	return c
}

func (e *testEnv) adminSession(t *testing.T) *types.Session {
	t.Helper()
	_, err := e.resolver.EnsureUser("admin")
	require.NoError(t, err)
	sess, err := e.resolver.CreateSession("admin", time.Hour, true)
	require.NoError(t, err)
	return sess
}

// request builds and performs an HTTP request against the test server.
// mod, when non-nil, decorates the request with credentials.
func (e *testEnv) request(t *testing.T, method, path string, body io.Reader, mod func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mod != nil {
		mod(req)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func asRunner(r *types.Runner, key string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set(headerRunnerMAC, r.MAC)
		req.Header.Set(headerRunnerMID, r.MachineID)
	}
}

func asAdmin(sess *types.Session) func(*http.Request) {
	return func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sess.Token})
		req.Header.Set(headerCSRF, sess.CSRFToken)
	}
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp := e.request(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)

	resp = e.request(t, http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ready readyResponse
	decodeBody(t, resp, &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["storage"])

	resp = e.request(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "challengectl_api_requests_total")
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	runner, key := e.seedRunner(t, "bench-1")

	tests := []struct {
		name   string
		method string
		path   string
		mod    func(*http.Request)
		want   int
	}{
		{"admin route anonymous", http.MethodGet, "/api/v1/challenges", nil, http.StatusUnauthorized},
		{"agent route anonymous", http.MethodGet, "/api/v1/agents/" + runner.ID + "/task", nil, http.StatusUnauthorized},
		{"unknown bearer", http.MethodGet, "/api/v1/challenges", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not-a-real-token")
		}, http.StatusUnauthorized},
		{"runner creds on admin route", http.MethodGet, "/api/v1/challenges", asRunner(runner, key), http.StatusForbidden},
		{"runner creds on token mint", http.MethodPost, "/api/v1/enrollment/tokens", asRunner(runner, key), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.request(t, tt.method, tt.path, nil, tt.mod)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAgentLifecycle(t *testing.T) {
	e := newTestEnv(t)
	runner, key := e.seedRunner(t, "bench-1")
	challenge := e.seedChallenge(t, "keyfob", false)

	// Register refreshes identity and devices.
	resp := e.request(t, http.MethodPost, "/api/v1/agents/register", jsonBody(t, types.RegisterRequest{
		Name:         "bench-1",
		Hostname:     "bench-1.lab",
		AgentVersion: "1.0.0",
		Devices:      runner.Devices,
	}), asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var registered types.Runner
	decodeBody(t, resp, &registered)
	assert.Equal(t, "bench-1.lab", registered.Hostname)
	assert.Empty(t, registered.APIKeyHash)

	// Heartbeat answers with the current intervals.
	resp = e.request(t, http.MethodPost, "/api/v1/agents/"+runner.ID+"/heartbeat", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hb map[string]string
	decodeBody(t, resp, &hb)
	assert.Equal(t, "10s", hb["poll_interval"])

	// First poll hands out the seeded challenge.
	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task types.Task
	decodeBody(t, resp, &task)
	assert.Equal(t, challenge.ID, task.ChallengeID)
	assert.NotZero(t, task.FrequencyHz)

	// Completion succeeds and the challenge enters its waiting delay.
	resp = e.request(t, http.MethodPost, "/api/v1/agents/"+runner.ID+"/complete", jsonBody(t, types.Report{
		ChallengeID: task.ChallengeID,
		DeviceID:    "hackrf0",
		FrequencyHz: task.FrequencyHz,
		Outcome:     types.OutcomeSuccess,
		StartedAt:   time.Now(),
		Duration:    3 * time.Second,
	}), asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Nothing is eligible now, so the poll comes back empty.
	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTaskRouteIsSelfPinned(t *testing.T) {
	e := newTestEnv(t)
	runnerA, keyA := e.seedRunner(t, "bench-1")
	runnerB, keyB := e.seedRunner(t, "bench-2")
	challenge := e.seedChallenge(t, "keyfob", false)

	// Every {id} route refuses a key that belongs to another runner.
	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/task"},
		{http.MethodPost, "/heartbeat"},
		{http.MethodPost, "/complete"},
		{http.MethodPost, "/signout"},
	} {
		resp := e.request(t, route.method, "/api/v1/agents/"+runnerB.ID+route.path, nil, asRunner(runnerA, keyA))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "%s %s", route.method, route.path)
	}

	// The refused polls took nothing: the rightful runner still gets the
	// challenge, and the impostor's own poll comes back empty-handed.
	resp := e.request(t, http.MethodGet, "/api/v1/agents/"+runnerB.ID+"/task", nil, asRunner(runnerB, keyB))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task types.Task
	decodeBody(t, resp, &task)
	assert.Equal(t, challenge.ID, task.ChallengeID)

	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runnerA.ID+"/task", nil, asRunner(runnerA, keyA))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStaleReportAnswers409(t *testing.T) {
	e := newTestEnv(t)
	runner, key := e.seedRunner(t, "bench-1")
	e.seedChallenge(t, "keyfob", false)

	resp := e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var task types.Task
	decodeBody(t, resp, &task)

	// Signing out reclaims the assignment, so the late report is stale.
	resp = e.request(t, http.MethodPost, "/api/v1/agents/"+runner.ID+"/signout", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/api/v1/agents/"+runner.ID+"/complete", jsonBody(t, types.Report{
		ChallengeID: task.ChallengeID,
		Outcome:     types.OutcomeSuccess,
	}), asRunner(runner, key))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The stale attempt still left an audit row.
	rows, err := e.store.ListTransmissions(storage.TransmissionFilter{ChallengeID: task.ChallengeID})
	require.NoError(t, err)
	var stale int
	for _, row := range rows {
		if row.Stale {
			stale++
		}
	}
	assert.Equal(t, 1, stale)
}

func TestAdminMutationsRequireCSRF(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)

	// Cookie alone is enough for reads.
	resp := e.request(t, http.MethodGet, "/api/v1/challenges", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sess.Token})
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Mutations without the CSRF header are refused.
	resp = e.request(t, http.MethodPost, "/api/v1/system/pause", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sess.Token})
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/api/v1/system/pause", nil, asAdmin(sess))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPauseStopsAssignments(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)
	runner, key := e.seedRunner(t, "bench-1")
	e.seedChallenge(t, "keyfob", false)

	resp := e.request(t, http.MethodPost, "/api/v1/system/pause", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/api/v1/system/resume", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEnrollmentFlow(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)

	// Admin mints a single-use token.
	resp := e.request(t, http.MethodPost, "/api/v1/enrollment/tokens", jsonBody(t, mintTokenRequest{
		Description: "new bench",
		TTL:         "1h",
	}), asAdmin(sess))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var token types.EnrollmentToken
	decodeBody(t, resp, &token)
	require.NotEmpty(t, token.Token)

	// The token enrolls exactly one runner.
	enroll := func() *http.Response {
		return e.request(t, http.MethodPost, "/api/v1/enrollment/enroll", jsonBody(t, enrollRequest{
			Name:         "bench-9",
			AgentVersion: "1.0.0",
		}), func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token.Token)
			r.Header.Set(headerRunnerMAC, "de:ad:be:ef:00:01")
		})
	}
	resp = enroll()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result enrollResponse
	decodeBody(t, resp, &result)
	require.NotEmpty(t, result.APIKey)
	assert.Equal(t, "bench-9", result.Name)

	// Second use of the same token is a conflict: it was burned on success.
	resp = enroll()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The minted key authenticates the new runner.
	enrolled, err := e.store.GetRunner(result.RunnerID)
	require.NoError(t, err)
	resp = e.request(t, http.MethodPost, "/api/v1/agents/register", jsonBody(t, types.RegisterRequest{
		AgentVersion: "1.0.0",
	}), asRunner(enrolled, result.APIKey))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProvisioningKeyMintsTokens(t *testing.T) {
	e := newTestEnv(t)
	_, secret, err := e.resolver.MintProvisioningKey("factory")
	require.NoError(t, err)

	resp := e.request(t, http.MethodPost, "/api/v1/enrollment/tokens", jsonBody(t, mintTokenRequest{
		Description: "staged bench",
	}), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+secret)
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A provisioning key cannot enroll directly.
	resp = e.request(t, http.MethodPost, "/api/v1/enrollment/enroll", jsonBody(t, enrollRequest{}), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+secret)
		r.Header.Set(headerRunnerMAC, "de:ad:be:ef:00:02")
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFileRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)
	runner, key := e.seedRunner(t, "bench-1")

	payload := []byte("IQ samples would go here")
	body, contentType := multipartFile(t, "payload.iq", payload)
	resp := e.request(t, http.MethodPost, "/api/v1/files", body, func(r *http.Request) {
		asAdmin(sess)(r)
		r.Header.Set("Content-Type", contentType)
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var meta types.FileMeta
	decodeBody(t, resp, &meta)
	assert.Equal(t, blob.Digest(payload), meta.Digest)
	assert.Equal(t, "payload.iq", meta.Name)
	assert.Equal(t, int64(len(payload)), meta.Size)
	assert.Equal(t, "admin", meta.UploadedBy)

	// Runners download by digest.
	resp = e.request(t, http.MethodGet, "/api/v1/files/"+meta.Digest, nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Unknown digests are a clean 404.
	resp = e.request(t, http.MethodGet, "/api/v1/files/"+blob.Digest([]byte("other")), nil, asRunner(runner, key))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Listing is admin-only.
	resp = e.request(t, http.MethodGet, "/api/v1/files", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []*types.FileMeta
	decodeBody(t, resp, &files)
	require.Len(t, files, 1)

	resp = e.request(t, http.MethodGet, "/api/v1/files", nil, asRunner(runner, key))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDashboardViews(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)
	e.seedRunner(t, "bench-1")
	e.seedChallenge(t, "public-keyfob", true)
	e.seedChallenge(t, "secret-pager", false)

	// Anonymous callers see only the public scoreboard.
	resp := e.request(t, http.MethodGet, "/api/v1/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var anon struct {
		Challenges []publicChallenge `json:"challenges"`
		Runners    []*types.Runner   `json:"runners"`
		Stats      *storage.Stats    `json:"stats"`
	}
	decodeBody(t, resp, &anon)
	require.Len(t, anon.Challenges, 1)
	assert.Equal(t, "public-keyfob", anon.Challenges[0].Name)
	assert.Empty(t, anon.Runners)
	assert.Nil(t, anon.Stats)

	// Admins get the whole picture.
	resp = e.request(t, http.MethodGet, "/api/v1/dashboard", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var full struct {
		Challenges []*types.Challenge `json:"challenges"`
		Runners    []*types.Runner    `json:"runners"`
		Stats      *storage.Stats     `json:"stats"`
	}
	decodeBody(t, resp, &full)
	assert.Len(t, full.Challenges, 2)
	require.Len(t, full.Runners, 1)
	assert.Empty(t, full.Runners[0].APIKeyHash)
	require.NotNil(t, full.Stats)
}

func TestChallengeAdminFlow(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)
	runner, key := e.seedRunner(t, "bench-1")
	challenge := e.seedChallenge(t, "keyfob", false)

	resp := e.request(t, http.MethodGet, "/api/v1/challenges/"+challenge.ID, nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/api/v1/challenges/"+uuid.New().String(), nil, asAdmin(sess))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Run one transmission so the challenge has history.
	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.request(t, http.MethodPost, "/api/v1/agents/"+runner.ID+"/complete", jsonBody(t, types.Report{
		ChallengeID: challenge.ID,
		Outcome:     types.OutcomeSuccess,
	}), asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// History blocks deletion.
	resp = e.request(t, http.MethodDelete, "/api/v1/challenges/"+challenge.ID, nil, asAdmin(sess))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/api/v1/challenges/"+challenge.ID+"/disable", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Triggering a disabled challenge is a conflict.
	resp = e.request(t, http.MethodPost, "/api/v1/challenges/"+challenge.ID+"/trigger", nil, asAdmin(sess))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/api/v1/challenges/"+challenge.ID+"/enable", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.request(t, http.MethodPost, "/api/v1/challenges/"+challenge.ID+"/trigger", nil, asAdmin(sess))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransmissionQueryFilters(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)
	runner, key := e.seedRunner(t, "bench-1")
	challenge := e.seedChallenge(t, "keyfob", false)

	resp := e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.request(t, http.MethodPost, "/api/v1/agents/"+runner.ID+"/complete", jsonBody(t, types.Report{
		ChallengeID: challenge.ID,
		Outcome:     types.OutcomeFailure,
		Detail:      "device unplugged",
	}), asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/api/v1/transmissions?challenge_id="+challenge.ID, nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []*types.Transmission
	decodeBody(t, resp, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, types.OutcomeFailure, rows[0].Outcome)
	assert.Equal(t, runner.ID, rows[0].RunnerID)

	resp = e.request(t, http.MethodGet, "/api/v1/transmissions?runner_id="+uuid.New().String(), nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows = nil
	decodeBody(t, resp, &rows)
	assert.Empty(t, rows)

	resp = e.request(t, http.MethodGet, "/api/v1/transmissions?limit=bogus", nil, asAdmin(sess))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestManifestReload(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)

	manifest := `
challenges:
  - name: keyfob
    modulation: ook
    frequency: 433.92MHz
    min_delay: 60s
    max_delay: 120s
    enabled: true
`
	resp := e.request(t, http.MethodPost, "/api/v1/challenges/reload", bytes.NewBufferString(manifest), asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary types.ReloadSummary
	decodeBody(t, resp, &summary)
	assert.Equal(t, []string{"keyfob"}, summary.Created)

	// Applying the same manifest again changes nothing.
	resp = e.request(t, http.MethodPost, "/api/v1/challenges/reload", bytes.NewBufferString(manifest), asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary = types.ReloadSummary{}
	decodeBody(t, resp, &summary)
	assert.Equal(t, []string{"keyfob"}, summary.Unchanged)

	// Garbage manifests are the caller's problem.
	resp = e.request(t, http.MethodPost, "/api/v1/challenges/reload", bytes.NewBufferString("challenges: [{name: }"), asAdmin(sess))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRunnerAdminFlow(t *testing.T) {
	e := newTestEnv(t)
	sess := e.adminSession(t)
	runner, key := e.seedRunner(t, "bench-1")
	e.seedChallenge(t, "keyfob", false)

	resp := e.request(t, http.MethodGet, "/api/v1/runners", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runners []*types.Runner
	decodeBody(t, resp, &runners)
	require.Len(t, runners, 1)
	assert.Empty(t, runners[0].APIKeyHash)

	// Take an assignment, then watch deletion refuse while it is held.
	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.request(t, http.MethodDelete, "/api/v1/runners/"+runner.ID, nil, asAdmin(sess))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Disabling reclaims the assignment.
	resp = e.request(t, http.MethodPost, "/api/v1/runners/"+runner.ID+"/disable", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A disabled runner's key stops working.
	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/api/v1/runners/"+runner.ID+"/enable", nil, asAdmin(sess))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.request(t, http.MethodGet, "/api/v1/agents/"+runner.ID+"/task", nil, asRunner(runner, key))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func multipartFile(t *testing.T, name string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
