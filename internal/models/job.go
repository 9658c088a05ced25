package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobState is the lifecycle state of a reading job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateStreaming JobState = "streaming"
	StateCompleted JobState = "completed"
	StateBlocked   JobState = "blocked"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
	StateExpired   JobState = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateBlocked, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// JobView is the externally visible state of a job, always derivable by
// replaying the event log from seq 0.
type JobView struct {
	ID        string         `json:"id"`
	State     JobState       `json:"state"`
	Request   ReadingRequest `json:"request"`
	Result    *ReadingResult `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	LastSeq   uint64         `json:"last_seq"`
	Events    int            `json:"events"`
}

// Replay folds an ordered event log into a JobView. It rejects logs whose
// sequence numbers are not gapless from 0, so a corrupted log surfaces as an
// error rather than a silently wrong view.
func Replay(jobID string, events []Event) (*JobView, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("replay %s: empty event log", jobID)
	}

	view := &JobView{ID: jobID}
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			return nil, fmt.Errorf("replay %s: gap at index %d (seq %d)", jobID, i, ev.Seq)
		}
		if err := view.Apply(ev); err != nil {
			return nil, fmt.Errorf("replay %s: %w", jobID, err)
		}
	}
	return view, nil
}

// Apply advances the view by one event.
func (v *JobView) Apply(ev Event) error {
	v.LastSeq = ev.Seq
	v.Events++
	v.UpdatedAt = ev.Timestamp

	switch ev.Type {
	case EventJobCreated:
		v.CreatedAt = ev.Timestamp
		v.State = StatePending
		if err := decodeData(ev.Data, "request", &v.Request); err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}

	case EventStateChanged:
		state, _ := ev.Data["state"].(string)
		if state == "" {
			return fmt.Errorf("event %d: state_changed without state", ev.Seq)
		}
		v.State = JobState(state)

	case EventCompleted:
		state, _ := ev.Data["state"].(string)
		if state == "" {
			state = string(StateCompleted)
		}
		v.State = JobState(state)
		var res ReadingResult
		if err := decodeData(ev.Data, "result", &res); err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		v.Result = &res

	case EventProgress, EventProviderAttempt, EventProviderFailed, EventGateDecision:
		// Informational; they move UpdatedAt only.

	default:
		// Unknown event types are tolerated so old logs survive new readers.
	}
	return nil
}

// decodeData extracts data[key] into out. Event data crosses a JSON/CBOR
// boundary when persisted, so the value may be a typed struct (in-memory
// append) or a plain map (replayed from the store); a JSON round-trip
// normalises both.
func decodeData(data map[string]any, key string, out any) error {
	raw, ok := data[key]
	if !ok {
		return fmt.Errorf("missing %q", key)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}
