package archive

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memArchive records archival writes and serves canned eval records.
type memArchive struct {
	mu       sync.Mutex
	readings map[string]models.JobView
	rollups  map[string]models.Baseline
	deleted  []string
	evals    []models.EvalRecord
}

func newMemArchive() *memArchive {
	return &memArchive{
		readings: make(map[string]models.JobView),
		rollups:  make(map[string]models.Baseline),
	}
}

func (s *memArchive) ArchiveReading(_ context.Context, view models.JobView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[view.ID] = view
	return nil
}

func (s *memArchive) EvalsBetween(_ context.Context, from, to time.Time) ([]models.EvalRecord, error) {
	var out []models.EvalRecord
	for _, rec := range s.evals {
		if !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memArchive) UpsertDailyRollup(_ context.Context, day string, b models.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups[day+"|"+b.Dims.Spread+"|"+b.Dims.Provider] = b
	return nil
}

func (s *memArchive) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, jobID)
	return nil
}

type fakeAlerter struct{ runs int }

func (a *fakeAlerter) Run(context.Context) ([]models.Alert, error) {
	a.runs++
	return nil, nil
}

func terminalJob(t *testing.T, m *job.Manager, id string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := m.Create(ctx, models.ReadingRequest{ClientID: id, Spread: "three-card"})
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, id, models.StateCompleted, models.ReadingResult{Text: "done", Provider: "openai"}))
}

func TestRunOnceArchivesTerminalJobs(t *testing.T) {
	m := job.NewManager(job.NewMemoryStore(), nil, 10*time.Minute, slog.New(slog.DiscardHandler))
	store := newMemArchive()
	alerter := &fakeAlerter{}
	s := New(m, store, alerter, 24*time.Hour, slog.New(slog.DiscardHandler))

	terminalJob(t, m, "done-1")
	_, _, err := m.Create(context.Background(), models.ReadingRequest{ClientID: "pending-1", Spread: "single"})
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Contains(t, store.readings, "done-1")
	assert.NotContains(t, store.readings, "pending-1", "non-terminal jobs stay live")
	assert.Equal(t, 1, alerter.runs)
	assert.Empty(t, store.deleted, "fresh terminal jobs are inside retention")
}

func TestRunOnceRetiresAndDeletesOldJobs(t *testing.T) {
	m := job.NewManager(job.NewMemoryStore(), nil, 10*time.Minute, slog.New(slog.DiscardHandler))
	store := newMemArchive()
	s := New(m, store, nil, time.Nanosecond, slog.New(slog.DiscardHandler))

	terminalJob(t, m, "old-1")
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Contains(t, store.readings, "old-1", "archived before retirement")
	assert.Equal(t, []string{"old-1"}, store.deleted, "retired logs are deleted from durable storage")
	_, err := m.Get(context.Background(), "old-1")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	m := job.NewManager(job.NewMemoryStore(), nil, 10*time.Minute, slog.New(slog.DiscardHandler))
	store := newMemArchive()
	s := New(m, store, nil, 24*time.Hour, slog.New(slog.DiscardHandler))

	terminalJob(t, m, "done-1")

	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.RunOnce(context.Background()))

	assert.Len(t, store.readings, 1, "re-running a pass overwrites, never duplicates")
}

func TestRollupPreviousDay(t *testing.T) {
	m := job.NewManager(job.NewMemoryStore(), nil, 10*time.Minute, slog.New(slog.DiscardHandler))
	store := newMemArchive()
	s := New(m, store, nil, 24*time.Hour, slog.New(slog.DiscardHandler))

	now := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	yesterday := now.AddDate(0, 0, -1)
	dims := models.EvalDims{PromptVersion: "v3", Variant: "classic", Spread: "three-card", Provider: "openai"}
	for i := 0; i < 4; i++ {
		store.evals = append(store.evals, models.EvalRecord{
			JobID:        "j",
			Scores:       models.Scores{Overall: 4, Tone: 4, Coherence: 4},
			CardCoverage: 0.9,
			Mode:         models.EvalModeModel,
			Dims:         dims,
			CreatedAt:    yesterday,
		})
	}
	// A record from two days ago stays out of this period's rollup.
	store.evals = append(store.evals, models.EvalRecord{
		JobID: "old", Scores: models.Scores{Overall: 1},
		Mode: models.EvalModeModel, Dims: dims,
		CreatedAt: now.AddDate(0, 0, -2),
	})

	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, store.rollups, 1)
	b := store.rollups["2026-08-28|three-card|openai"]
	assert.Equal(t, 4, b.Samples)
	assert.InDelta(t, 4.0, b.MeanOverall, 0.001)
}
