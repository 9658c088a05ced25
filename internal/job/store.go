// Package job implements the per-reading job actor, its durable event log,
// and the live stream fanout. Each job is single-writer: exactly one actor
// mutates its state, and every externally visible view is a fold over the
// append-only event log.
package job

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/arcana-app/arcana-go/internal/models"
)

// Sentinel errors for job operations. Use errors.Is() in calling code.
var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrJobExists indicates a create raced with an existing job id; the
	// caller should observe the first creator's job instead.
	ErrJobExists = errors.New("job already exists")

	// ErrTerminal indicates an append against a job that already reached a
	// terminal state. In-flight work observing this must discard its
	// result, not retry.
	ErrTerminal = errors.New("job already terminal")

	// ErrPersistence indicates a durable write failed. Fatal for the
	// current operation; callers may retry the whole operation.
	ErrPersistence = errors.New("persistence failure")
)

// Store is the durable event log. Appends must be persisted before they are
// acknowledged so a restart can reconstruct every job by replay.
type Store interface {
	AppendEvent(ctx context.Context, ev models.Event) error
	Events(ctx context.Context, jobID string) ([]models.Event, error)
	ListJobIDs(ctx context.Context) ([]string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// MemoryStore is an in-process Store. It backs tests and single-node
// deployments without SurrealDB; the durable implementation lives in
// internal/db.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]models.Event
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]models.Event)}
}

// AppendEvent appends one event to a job's log.
func (s *MemoryStore) AppendEvent(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[ev.JobID] = append(s.logs[ev.JobID], ev)
	return nil
}

// Events returns a copy of a job's full log in seq order.
func (s *MemoryStore) Events(_ context.Context, jobID string) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Event, len(log))
	copy(out, log)
	return out, nil
}

// ListJobIDs returns all job ids with at least one event.
func (s *MemoryStore) ListJobIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteJob removes a job's log entirely.
func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, jobID)
	return nil
}
