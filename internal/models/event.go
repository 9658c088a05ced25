package models

import "time"

// Event types appended to a job's log. The log is the sole source of truth
// for a job; every externally visible view is a fold over it.
const (
	EventJobCreated      = "job_created"
	EventStateChanged    = "state_changed"
	EventProgress        = "progress"
	EventProviderAttempt = "provider_attempt"
	EventProviderFailed  = "provider_failed"
	EventGateDecision    = "gate_decision"
	EventCompleted       = "completed"

	// EventResync is delivery-only: it is injected into a subscriber's
	// stream after a buffer overflow and never persisted to the log.
	EventResync = "resync"
)

// Event is one entry in a job's append-only log. Seq is strictly increasing
// and gapless per job, starting at 0.
type Event struct {
	JobID     string         `json:"job_id"`
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
