package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/arcana-app/arcana-go/internal/orchestrator"
	"github.com/arcana-app/arcana-go/internal/provider"
)

// stubProvider returns a fixed narrative, optionally blocking until the
// call's context is cancelled.
type stubProvider struct {
	text    string
	block   bool
	started chan struct{}
	once    sync.Once
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, _ string) (string, error) {
	if p.started != nil {
		p.once.Do(func() { close(p.started) })
	}
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.text, nil
}

// memIdem is an in-process stand-in for the redis reservation.
type memIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memIdem) Reserve(_ context.Context, clientID string, _ time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[clientID] {
		return false
	}
	m.seen[clientID] = true
	return true
}

func newTestServer(t *testing.T, p provider.Provider) (*httptest.Server, *job.Manager) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	jobs := job.NewManager(job.NewMemoryStore(), nil, 10*time.Minute, logger)
	orch, err := orchestrator.New(jobs, []provider.Provider{p}, nil, orchestrator.Options{
		PromptVersion:   "v3",
		Variant:         "classic",
		ProviderTimeout: time.Second,
	}, logger)
	require.NoError(t, err)
	h := NewHandler(jobs, orch, &memIdem{}, nil, time.Minute, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, jobs
}

func threeCardBody(clientID string) []byte {
	req := models.ReadingRequest{
		ClientID: clientID,
		Spread:   "three-card",
		Question: "What should I focus on at work?",
		Cards: []models.CardDraw{
			{Name: "The Fool", Position: "past"},
			{Name: "The Magician", Position: "present", Reversed: true},
			{Name: "The Sun", Position: "future"},
		},
	}
	b, _ := json.Marshal(req)
	return b
}

// goodText references every drawn card so the gate passes.
const goodText = "The Fool marks where you began, open and unguarded. " +
	"The Magician reversed in the present asks you to reclaim scattered focus. " +
	"The Sun ahead promises that the effort lands somewhere warm. " +
	"Taken together the cards trace a movement from improvisation toward earned clarity."

func postJSON(t *testing.T, url string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func waitTerminal(t *testing.T, jobs *job.Manager, id string) *models.JobView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		view, err := jobs.Get(context.Background(), id)
		require.NoError(t, err)
		switch view.State {
		case models.StateCompleted, models.StateBlocked, models.StateFailed, models.StateCancelled:
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestStartReadingValidation(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	cases := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", "{not json", "invalid_json"},
		{"unknown spread", `{"spread":"zodiac","cards":[{"name":"The Fool","position":"focus"}]}`, "unknown_spread"},
		{"no cards", `{"spread":"three-card","cards":[]}`, "no_cards"},
		{"card count mismatch", `{"spread":"three-card","cards":[{"name":"The Fool","position":"past"}]}`, "card_count_mismatch"},
		{"empty card name", `{"spread":"single","cards":[{"name":"","position":"focus"}]}`, "empty_card_name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := postJSON(t, ts.URL+"/api/readings", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.code, out["error"])
		})
	}
}

func TestStartAndGetReading(t *testing.T) {
	ts, jobs := newTestServer(t, &stubProvider{text: goodText})

	resp, out := postJSON(t, ts.URL+"/api/readings", threeCardBody(""))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := out["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, true, out["created"])

	view := waitTerminal(t, jobs, jobID)
	assert.Equal(t, models.StateCompleted, view.State)

	getResp, err := http.Get(ts.URL + "/api/readings/" + jobID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var got models.JobView
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, jobID, got.ID)
	require.NotNil(t, got.Result)
	assert.Equal(t, goodText, got.Result.Text)
	assert.Equal(t, models.GatePass, got.Result.GateOutcome)
}

func TestGetUnknownReading(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	resp, err := http.Get(ts.URL + "/api/readings/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartIsIdempotentByClientID(t *testing.T) {
	ts, jobs := newTestServer(t, &stubProvider{text: goodText})

	first, firstOut := postJSON(t, ts.URL+"/api/readings", threeCardBody("client-42"))
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	assert.Equal(t, true, firstOut["created"])
	assert.Equal(t, "client-42", firstOut["job_id"])

	second, secondOut := postJSON(t, ts.URL+"/api/readings", threeCardBody("client-42"))
	require.Equal(t, http.StatusAccepted, second.StatusCode)
	assert.Equal(t, false, secondOut["created"])
	assert.Equal(t, "client-42", secondOut["job_id"])

	waitTerminal(t, jobs, "client-42")
}

func TestCancelReading(t *testing.T) {
	started := make(chan struct{})
	ts, jobs := newTestServer(t, &stubProvider{block: true, started: started})

	resp, out := postJSON(t, ts.URL+"/api/readings", threeCardBody(""))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := out["job_id"].(string)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never started")
	}

	cancelResp, cancelOut := postJSON(t, ts.URL+"/api/readings/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	assert.Equal(t, "ok", cancelOut["status"])

	view := waitTerminal(t, jobs, jobID)
	assert.Equal(t, models.StateCancelled, view.State)
}

func TestCancelUnknownReading(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	resp, _ := postJSON(t, ts.URL+"/api/readings/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamSSEDeliversBacklogAndTerminates(t *testing.T) {
	ts, jobs := newTestServer(t, &stubProvider{text: goodText})

	_, out := postJSON(t, ts.URL+"/api/readings", threeCardBody(""))
	jobID := out["job_id"].(string)
	waitTerminal(t, jobs, jobID)

	resp, err := http.Get(ts.URL + "/api/readings/" + jobID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	// The body closes on its own once the terminal event is delivered.
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, types)
	assert.Equal(t, models.EventJobCreated, types[0])
	assert.Equal(t, models.EventCompleted, types[len(types)-1])
	assert.Contains(t, types, models.EventGateDecision)
}

func TestStreamUnknownReading(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	resp, err := http.Get(ts.URL + "/api/readings/nope/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSpreads(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	resp, err := http.Get(ts.URL + "/api/spreads")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var spreads []struct {
		ID        string   `json:"id"`
		Positions []string `json:"positions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&spreads))
	ids := make([]string, 0, len(spreads))
	for _, s := range spreads {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"single", "three-card", "celtic-cross"}, ids)
}

type fakeAlerts struct {
	alerts []models.Alert
}

func (f *fakeAlerts) Alerts(_ context.Context, limit int) ([]models.Alert, error) {
	if limit < len(f.alerts) {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

func TestListAlerts(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	jobs := job.NewManager(job.NewMemoryStore(), nil, 10*time.Minute, logger)
	orch, err := orchestrator.New(jobs, nil, nil, orchestrator.Options{}, logger)
	require.NoError(t, err)
	lister := &fakeAlerts{alerts: []models.Alert{
		{ID: "a1", Metric: "overall_score", Severity: models.SeverityWarning},
		{ID: "a2", Metric: "safety_flag_rate", Severity: models.SeverityCritical},
	}}
	h := NewHandler(jobs, orch, nil, lister, time.Minute, logger)
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/alerts?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var alerts []models.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "a1", alerts[0].ID)

	bad, err := http.Get(ts.URL + "/api/alerts?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestListAlertsWithoutStore(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	resp, err := http.Get(ts.URL + "/api/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, &stubProvider{text: goodText})

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
