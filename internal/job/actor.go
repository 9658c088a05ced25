package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/google/uuid"
)

// Cache mirrors hot JobViews into the fast KV store. All methods are
// best-effort; a cache failure never fails the owning operation.
type Cache interface {
	PutView(ctx context.Context, view *models.JobView)
	DeleteView(ctx context.Context, jobID string)
}

// actor owns one job. All mutations to the job's log and view go through
// its mutex, which is the single-writer discipline: concurrent operations
// on the same id serialize here and the second caller observes the first's
// effect, never a lost update.
type actor struct {
	id string

	mu     sync.Mutex
	events []models.Event
	view   *models.JobView

	// runCtx is the generation context. Cancelling it abandons in-flight
	// provider calls; their late results fail the terminal-state check in
	// append and are discarded.
	runCtx    context.Context
	cancelRun context.CancelFunc

	subs      map[int]*subscriber
	nextSubID int

	terminalAt time.Time
}

// Manager tracks and owns all live job actors.
type Manager struct {
	mu     sync.Mutex
	actors map[string]*actor

	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger

	// now is injectable for TTL tests.
	now func() time.Time
}

// NewManager creates a job manager. cache may be nil.
func NewManager(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		actors: make(map[string]*actor),
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new job and durably appends its creation event. The
// returned bool is false when the id already existed (idempotent replay of
// a caller-supplied client id): the existing job's view is returned instead.
func (m *Manager) Create(ctx context.Context, req models.ReadingRequest) (*models.JobView, bool, error) {
	id := req.ClientID
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	if existing, ok := m.actors[id]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		view := *existing.view
		existing.mu.Unlock()
		return &view, false, nil
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	a := &actor{
		id:        id,
		view:      &models.JobView{ID: id},
		runCtx:    runCtx,
		cancelRun: cancelRun,
		subs:      make(map[int]*subscriber),
	}
	a.mu.Lock() // hold before exposure so no reader sees a half-created job
	m.actors[id] = a
	m.mu.Unlock()
	defer a.mu.Unlock()

	if _, err := m.append(ctx, a, models.EventJobCreated, map[string]any{"request": req}); err != nil {
		m.mu.Lock()
		delete(m.actors, id)
		m.mu.Unlock()
		cancelRun()
		return nil, false, err
	}

	m.logger.Info("job created", "job_id", id, "spread", req.Spread, "cards", len(req.Cards))
	view := *a.view
	return &view, true, nil
}

// Get returns the job's current view, self-healing staleness first.
func (m *Manager) Get(ctx context.Context, jobID string) (*models.JobView, error) {
	a, err := m.actor(jobID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m.expireIfNeededLocked(ctx, a)
	view := *a.view
	return &view, nil
}

// Cancel transitions a job to the cancelled terminal state and abandons any
// in-flight generation. Cancelling an already-terminal job is a no-op.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	a, err := m.actor(jobID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m.expireIfNeededLocked(ctx, a)
	if a.view.State.Terminal() {
		return nil
	}
	return m.completeLocked(ctx, a, models.StateCancelled, models.ReadingResult{Error: "cancelled by caller"})
}

// AppendEvent appends a non-terminal event to a job's log. Internal: only
// the orchestrator calls this, and only from the job's single runner.
func (m *Manager) AppendEvent(ctx context.Context, jobID, eventType string, data map[string]any) (models.Event, error) {
	a, err := m.actor(jobID)
	if err != nil {
		return models.Event{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m.expireIfNeededLocked(ctx, a)
	if a.view.State.Terminal() {
		return models.Event{}, ErrTerminal
	}
	return m.append(ctx, a, eventType, data)
}

// Complete transitions a job to a terminal state with its result.
func (m *Manager) Complete(ctx context.Context, jobID string, state models.JobState, result models.ReadingResult) error {
	if !state.Terminal() {
		return fmt.Errorf("complete %s: %s is not a terminal state", jobID, state)
	}
	a, err := m.actor(jobID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m.expireIfNeededLocked(ctx, a)
	if a.view.State.Terminal() {
		return ErrTerminal
	}
	return m.completeLocked(ctx, a, state, result)
}

// RunContext returns the cancellation context scoping a job's generation
// work. Provider calls must derive their timeouts from it.
func (m *Manager) RunContext(jobID string) (context.Context, error) {
	a, err := m.actor(jobID)
	if err != nil {
		return nil, err
	}
	return a.runCtx, nil
}

// Subscribe attaches a stream consumer: full backlog, then live events.
func (m *Manager) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	a, err := m.actor(jobID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m.expireIfNeededLocked(ctx, a)
	return a.subscribe(), nil
}

// Recover rebuilds actors from the durable log after a restart. Jobs caught
// mid-flight are replayed to their last state; non-terminal ones past their
// TTL expire on first touch.
func (m *Manager) Recover(ctx context.Context) error {
	ids, err := m.store.ListJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("%w: list jobs: %v", ErrPersistence, err)
	}

	for _, id := range ids {
		events, err := m.store.Events(ctx, id)
		if err != nil {
			m.logger.Warn("recover: load events failed", "job_id", id, "error", err)
			continue
		}
		view, err := models.Replay(id, events)
		if err != nil {
			m.logger.Error("recover: corrupt event log", "job_id", id, "error", err)
			continue
		}

		runCtx, cancelRun := context.WithCancel(context.Background())
		a := &actor{
			id:        id,
			events:    events,
			view:      view,
			runCtx:    runCtx,
			cancelRun: cancelRun,
			subs:      make(map[int]*subscriber),
		}
		if view.State.Terminal() {
			cancelRun()
			a.terminalAt = view.UpdatedAt
		}

		m.mu.Lock()
		m.actors[id] = a
		m.mu.Unlock()
	}

	m.logger.Info("job state recovered", "jobs", len(ids))
	return nil
}

// SweepExpired force-expires overdue jobs. Reads already self-heal; this
// pass exists so jobs nobody touches still reach a terminal state and can
// be reclaimed.
func (m *Manager) SweepExpired(ctx context.Context) int {
	expired := 0
	for _, a := range m.snapshotActors() {
		a.mu.Lock()
		before := a.view.State
		m.expireIfNeededLocked(ctx, a)
		if before != a.view.State && a.view.State == models.StateExpired {
			expired++
		}
		a.mu.Unlock()
	}
	return expired
}

// Retire drops terminal actors past the retention window with no attached
// subscribers from memory, returning their ids so the caller can archive
// and delete their durable state.
func (m *Manager) Retire(ctx context.Context, retention time.Duration) []string {
	var retired []string
	cutoff := m.now().Add(-retention)

	for _, a := range m.snapshotActors() {
		a.mu.Lock()
		eligible := a.view.State.Terminal() &&
			a.subscriberCount() == 0 &&
			!a.terminalAt.IsZero() && a.terminalAt.Before(cutoff)
		a.mu.Unlock()

		if !eligible {
			continue
		}
		m.mu.Lock()
		delete(m.actors, a.id)
		m.mu.Unlock()
		if m.cache != nil {
			m.cache.DeleteView(ctx, a.id)
		}
		retired = append(retired, a.id)
	}
	return retired
}

// Views returns a snapshot of every live job's view, most recent first not
// guaranteed; callers sort as needed.
func (m *Manager) Views(ctx context.Context) []models.JobView {
	var out []models.JobView
	for _, a := range m.snapshotActors() {
		a.mu.Lock()
		m.expireIfNeededLocked(ctx, a)
		out = append(out, *a.view)
		a.mu.Unlock()
	}
	return out
}

func (m *Manager) actor(jobID string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *Manager) snapshotActors() []*actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, a)
	}
	return out
}

// append durably writes one event, then folds it into the view and fans it
// out. Caller holds a.mu. The store write happens first: an event that was
// not persisted is an event that never happened.
func (m *Manager) append(ctx context.Context, a *actor, eventType string, data map[string]any) (models.Event, error) {
	ev := models.Event{
		JobID:     a.id,
		Seq:       uint64(len(a.events)),
		Type:      eventType,
		Data:      data,
		Timestamp: m.now(),
	}
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		return models.Event{}, fmt.Errorf("%w: append %s/%d: %v", ErrPersistence, a.id, ev.Seq, err)
	}
	a.events = append(a.events, ev)
	if err := a.view.Apply(ev); err != nil {
		// The log is authoritative; a view that cannot fold is a bug, not
		// a runtime condition to paper over.
		m.logger.Error("view fold failed", "job_id", a.id, "seq", ev.Seq, "error", err)
	}
	a.publish(ev)
	if m.cache != nil {
		view := *a.view
		m.cache.PutView(ctx, &view)
	}
	return ev, nil
}

// completeLocked appends the terminal event, cancels generation, and closes
// all streams. Caller holds a.mu and has verified the job is not terminal.
func (m *Manager) completeLocked(ctx context.Context, a *actor, state models.JobState, result models.ReadingResult) error {
	_, err := m.append(ctx, a, models.EventCompleted, map[string]any{
		"state":  string(state),
		"result": result,
	})
	if err != nil {
		return err
	}
	a.terminalAt = m.now()
	a.cancelRun()
	a.closeSubscribers()
	m.logger.Info("job terminal", "job_id", a.id, "state", state, "gate", result.GateOutcome)
	return nil
}

// expireIfNeededLocked enforces the TTL on every touch, so staleness is
// self-healing rather than dependent on the sweep. Caller holds a.mu.
func (m *Manager) expireIfNeededLocked(ctx context.Context, a *actor) {
	if a.view.State.Terminal() {
		return
	}
	if len(a.events) == 0 {
		return
	}
	if m.now().Sub(a.view.CreatedAt) <= m.ttl {
		return
	}
	if err := m.completeLocked(ctx, a, models.StateExpired, models.ReadingResult{Error: "ttl exceeded"}); err != nil {
		m.logger.Warn("expire failed", "job_id", a.id, "error", err)
	}
}
