// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func wipe(t *testing.T) {
	t.Helper()
	if err := testDB.WipeData(context.Background()); err != nil {
		t.Fatalf("WipeData failed: %v", err)
	}
}

func testEvent(jobID string, seq uint64, eventType string) models.Event {
	return models.Event{
		JobID:     jobID,
		Seq:       seq,
		Type:      eventType,
		Data:      map[string]any{"stage": "drafting"},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testEvalRecord(jobID string, at time.Time) models.EvalRecord {
	return models.EvalRecord{
		JobID:        jobID,
		Scores:       models.Scores{Personalization: 4, Coherence: 5, Tone: 4, Safety: 5, Overall: 4},
		CardCoverage: 0.95,
		SpineValid:   true,
		Mode:         models.EvalModeModel,
		Dims:         models.EvalDims{PromptVersion: "v3", Variant: "classic", Spread: "three-card", Provider: "openai"},
		CreatedAt:    at,
	}
}

func TestAppendAndReplayEvents(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	for seq := uint64(0); seq < 3; seq++ {
		if err := testDB.AppendEvent(ctx, testEvent("job-a", seq, "progress")); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events, err := testDB.Events(ctx, "job-a")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
		if ev.Data["stage"] != "drafting" {
			t.Errorf("event data not preserved: %v", ev.Data)
		}
	}
}

func TestDuplicateSeqRejected(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	if err := testDB.AppendEvent(ctx, testEvent("job-b", 0, "job_created")); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	err := testDB.AppendEvent(ctx, testEvent("job-b", 0, "job_created"))
	if err == nil {
		t.Fatal("expected duplicate (job_id, seq) to be rejected")
	}
}

func TestEventsNotFound(t *testing.T) {
	wipe(t)
	_, err := testDB.Events(context.Background(), "no-such-job")
	if !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("expected job.ErrNotFound, got %v", err)
	}
}

func TestListAndDeleteJobs(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	for _, id := range []string{"job-x", "job-y"} {
		if err := testDB.AppendEvent(ctx, testEvent(id, 0, "job_created")); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	ids, err := testDB.ListJobIDs(ctx)
	if err != nil {
		t.Fatalf("ListJobIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 job ids, got %v", ids)
	}

	if err := testDB.DeleteJob(ctx, "job-x"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	ids, err = testDB.ListJobIDs(ctx)
	if err != nil {
		t.Fatalf("ListJobIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-y" {
		t.Fatalf("expected [job-y], got %v", ids)
	}
}

func TestUpsertEvalIsIdempotent(t *testing.T) {
	wipe(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := testEvalRecord("job-c", now)
	if err := testDB.UpsertEval(ctx, rec); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	rec.Scores.Overall = 2
	if err := testDB.UpsertEval(ctx, rec); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	records, err := testDB.EvalsBetween(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("EvalsBetween failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record after re-evaluation, got %d", len(records))
	}
	if records[0].Scores.Overall != 2 {
		t.Errorf("second write did not overwrite: overall = %d", records[0].Scores.Overall)
	}
	if records[0].Dims.Spread != "three-card" {
		t.Errorf("dims not round-tripped: %+v", records[0].Dims)
	}
}

func TestEvalsBetweenRespectsBounds(t *testing.T) {
	wipe(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	inside := testEvalRecord("job-in", now.Add(-time.Hour))
	outside := testEvalRecord("job-out", now.Add(-48*time.Hour))
	if err := testDB.UpsertEval(ctx, inside); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := testDB.UpsertEval(ctx, outside); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	records, err := testDB.EvalsBetween(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("EvalsBetween failed: %v", err)
	}
	if len(records) != 1 || records[0].JobID != "job-in" {
		t.Fatalf("expected only job-in, got %+v", records)
	}
}

func TestInsertAndListAlerts(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	alert := models.Alert{
		ID:        "alert-1",
		Type:      "quality_regression",
		Severity:  models.SeverityWarning,
		Metric:    "overall_drop",
		Delta:     0.4,
		Dims:      models.EvalDims{PromptVersion: "v3", Variant: "classic", Spread: "three-card", Provider: "openai"},
		Message:   "mean overall score dropped",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := testDB.InsertAlert(ctx, alert); err != nil {
		t.Fatalf("InsertAlert failed: %v", err)
	}

	alerts, err := testDB.Alerts(ctx, 10)
	if err != nil {
		t.Fatalf("Alerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Metric != "overall_drop" || alerts[0].Severity != models.SeverityWarning {
		t.Errorf("alert not round-tripped: %+v", alerts[0])
	}
}

func TestArchiveReadingIsIdempotent(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	view := models.JobView{
		ID:    "job-d",
		State: models.StateCompleted,
		Request: models.ReadingRequest{
			Spread: "three-card",
			Cards:  []models.CardDraw{{Name: "The Sun", Position: "past"}},
		},
		Result: &models.ReadingResult{
			Text:        "a reading",
			Provider:    "openai",
			GateOutcome: models.GatePass,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := testDB.ArchiveReading(ctx, view); err != nil {
		t.Fatalf("first archive failed: %v", err)
	}
	if err := testDB.ArchiveReading(ctx, view); err != nil {
		t.Fatalf("re-archive failed: %v", err)
	}

	results, err := testDB.Query(ctx, "SELECT count() AS n FROM archived_reading GROUP ALL", nil)
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	rows, _ := (*results)[0].Result.([]any)
	if len(rows) != 1 {
		t.Fatalf("expected one grouped count row, got %v", (*results)[0].Result)
	}
}

func TestArchiveReadingSkipsJobWithoutResult(t *testing.T) {
	// A failed fold can leave a terminal view with no result attached. The
	// guard fires before any query, so no connection is needed.
	c := &Client{log: logger.New(slog.DiscardHandler)}
	view := models.JobView{ID: "job-no-result", State: models.StateFailed}
	if err := c.ArchiveReading(context.Background(), view); err != nil {
		t.Fatalf("archiving a resultless view should be skipped, got: %v", err)
	}
}

func TestDailyRollupIsIdempotent(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	baseline := models.Baseline{
		Dims:        models.EvalDims{PromptVersion: "v3", Variant: "classic", Spread: "three-card", Provider: "openai"},
		Samples:     40,
		MeanOverall: 4.1,
	}
	if err := testDB.UpsertDailyRollup(ctx, "2026-08-28", baseline); err != nil {
		t.Fatalf("first rollup failed: %v", err)
	}
	baseline.MeanOverall = 4.2
	if err := testDB.UpsertDailyRollup(ctx, "2026-08-28", baseline); err != nil {
		t.Fatalf("rollup re-run failed: %v", err)
	}

	results, err := testDB.Query(ctx, "SELECT mean_overall FROM daily_rollup", nil)
	if err != nil {
		t.Fatalf("select rollups failed: %v", err)
	}
	rows, _ := (*results)[0].Result.([]any)
	if len(rows) != 1 {
		t.Fatalf("re-running a period must not duplicate rows, got %d", len(rows))
	}
}
