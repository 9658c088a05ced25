package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(store, nil, 10*time.Minute, testLogger()), store
}

func testRequest(clientID string) models.ReadingRequest {
	return models.ReadingRequest{
		ClientID: clientID,
		Spread:   "three-card",
		Question: "What should I focus on?",
		Cards: []models.CardDraw{
			{Name: "The Sun", Position: "past"},
			{Name: "The Moon", Position: "present"},
			{Name: "The Star", Position: "future"},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	view, created, err := m.Create(ctx, testRequest(""))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, models.StatePending, view.State)

	got, err := m.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, 3, len(got.Request.Cards))

	_, err = m.Get(ctx, "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateIdempotentOnClientID(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	first, created, err := m.Create(ctx, testRequest("client-abc"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := m.Create(ctx, testRequest("client-abc"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestConcurrentCreateSameID(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	createdCount := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.Create(ctx, testRequest("racing-id"))
			require.NoError(t, err)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	creators := 0
	for c := range createdCount {
		if c {
			creators++
		}
	}
	assert.Equal(t, 1, creators, "exactly one caller creates; the rest observe it")
}

func TestEventLogGaplessAndReplayable(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	view, _, err := m.Create(ctx, testRequest(""))
	require.NoError(t, err)
	id := view.ID

	_, err = m.AppendEvent(ctx, id, models.EventStateChanged, map[string]any{"state": "running"})
	require.NoError(t, err)
	_, err = m.AppendEvent(ctx, id, models.EventProgress, map[string]any{"stage": "analyzing"})
	require.NoError(t, err)
	_, err = m.AppendEvent(ctx, id, models.EventProgress, map[string]any{"stage": "drafting"})
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, id, models.StateCompleted, models.ReadingResult{
		Text: "a reading", Provider: "openai", GateOutcome: models.GatePass,
	}))

	events, err := store.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i), ev.Seq, "sequence numbers are gapless from 0")
	}

	replayed, err := models.Replay(id, events)
	require.NoError(t, err)

	live, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, live.State, replayed.State)
	assert.Equal(t, live.LastSeq, replayed.LastSeq)
	require.NotNil(t, replayed.Result)
	assert.Equal(t, "a reading", replayed.Result.Text)
	assert.Equal(t, "openai", replayed.Result.Provider)
}

func TestAppendAfterTerminalIsDiscarded(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	view, _, err := m.Create(ctx, testRequest(""))
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, view.ID))

	// A late provider result arriving after cancellation must be discarded.
	_, err = m.AppendEvent(ctx, view.ID, models.EventProgress, map[string]any{"stage": "drafting"})
	assert.ErrorIs(t, err, ErrTerminal)

	err = m.Complete(ctx, view.ID, models.StateCompleted, models.ReadingResult{Text: "too late"})
	assert.ErrorIs(t, err, ErrTerminal)

	got, err := m.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, got.State, "terminal state remains cancelled, not completed")
}

func TestCancelAbandonsRunContext(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	view, _, err := m.Create(ctx, testRequest(""))
	require.NoError(t, err)

	runCtx, err := m.RunContext(view.ID)
	require.NoError(t, err)
	require.NoError(t, runCtx.Err())

	require.NoError(t, m.Cancel(ctx, view.ID))
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)

	// Cancelling again is a no-op, not an error.
	assert.NoError(t, m.Cancel(ctx, view.ID))
	assert.ErrorIs(t, m.Cancel(ctx, "missing"), ErrNotFound)
}

func TestTTLExpiryIsSelfHealing(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, time.Minute, testLogger())
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	view, _, err := m.Create(ctx, testRequest(""))
	require.NoError(t, err)

	// Within TTL: still pending.
	got, err := m.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, got.State)

	// Past TTL: the read itself heals the state.
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	got, err = m.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateExpired, got.State)
}

func TestSweepExpired(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, time.Minute, testLogger())
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	a, _, err := m.Create(ctx, testRequest("a"))
	require.NoError(t, err)
	_, _, err = m.Create(ctx, testRequest("b"))
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, a.ID, models.StateCompleted, models.ReadingResult{Text: "done"}))

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, m.SweepExpired(ctx), "only the non-terminal job expires")
}

func TestRecoverFromStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewManager(store, nil, 10*time.Minute, testLogger())
	view, _, err := first.Create(ctx, testRequest("persisted"))
	require.NoError(t, err)
	_, err = first.AppendEvent(ctx, view.ID, models.EventStateChanged, map[string]any{"state": "running"})
	require.NoError(t, err)

	// A fresh manager over the same store reconstructs state purely from
	// the event log.
	second := NewManager(store, nil, 10*time.Minute, testLogger())
	require.NoError(t, second.Recover(ctx))

	got, err := second.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, got.State)
	assert.Equal(t, "What should I focus on?", got.Request.Question)
}

func TestRetire(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, 10*time.Minute, testLogger())
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	done, _, err := m.Create(ctx, testRequest("done"))
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, done.ID, models.StateCompleted, models.ReadingResult{Text: "x"}))

	running, _, err := m.Create(ctx, testRequest("running"))
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(48 * time.Hour) }
	// Keep the running job inside its TTL for this test's purposes by
	// retiring before anything touches it.
	retired := m.Retire(ctx, 24*time.Hour)
	assert.Equal(t, []string{done.ID}, retired)

	_, err = m.Get(ctx, done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, running.ID)
	assert.NoError(t, err)
}

// failingStore fails appends after a set number of successes.
type failingStore struct {
	*MemoryStore
	allow int
}

func (s *failingStore) AppendEvent(ctx context.Context, ev models.Event) error {
	if s.allow <= 0 {
		return errors.New("disk on fire")
	}
	s.allow--
	return s.MemoryStore.AppendEvent(ctx, ev)
}

func TestPersistenceFailureSurfaced(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), allow: 0}
	m := NewManager(store, nil, 10*time.Minute, testLogger())

	_, _, err := m.Create(context.Background(), testRequest(""))
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestPersistenceFailureDoesNotMutate(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), allow: 1}
	m := NewManager(store, nil, 10*time.Minute, testLogger())
	ctx := context.Background()

	view, _, err := m.Create(ctx, testRequest(""))
	require.NoError(t, err)

	_, err = m.AppendEvent(ctx, view.ID, models.EventProgress, map[string]any{"stage": "analyzing"})
	require.ErrorIs(t, err, ErrPersistence)

	got, err := m.Get(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.LastSeq, "failed append left no trace")

	events, err := store.Events(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestViewsSnapshot(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := m.Create(ctx, testRequest(fmt.Sprintf("job-%d", i)))
		require.NoError(t, err)
	}
	assert.Len(t, m.Views(ctx), 3)
}
