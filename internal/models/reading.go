// Package models defines data structures for the Arcana reading pipeline.
package models

// CardDraw is one card as drawn into a spread position.
type CardDraw struct {
	Name     string `json:"name"`
	Position string `json:"position"`
	Reversed bool   `json:"reversed"`
}

// ReadingRequest is the payload of a narrative-generation job.
type ReadingRequest struct {
	// ClientID is an optional caller-generated idempotency key. Retried
	// start requests with the same ClientID resolve to the same job.
	ClientID string     `json:"client_id,omitempty"`
	Spread   string     `json:"spread"`
	Cards    []CardDraw `json:"cards"`
	Question string     `json:"question"`
	// UserID carries the caller's auth context. Auth itself is handled
	// upstream; the pipeline only tags records with it.
	UserID string `json:"user_id,omitempty"`
}

// GateOutcome is the sync gate's decision on generated text.
type GateOutcome string

const (
	GatePass    GateOutcome = "pass"
	GateBlocked GateOutcome = "blocked"
)

// Gate block reasons.
const (
	GateReasonCrisis        = "crisis_gate"
	GateReasonHallucination = "hallucination"
	GateReasonLowCoverage   = "low_coverage"
)

// ReadingResult is the terminal output of a job.
type ReadingResult struct {
	Text        string      `json:"text"`
	Provider    string      `json:"provider"`
	GateOutcome GateOutcome `json:"gate_outcome"`
	GateReason  string      `json:"gate_reason,omitempty"`
	Error       string      `json:"error,omitempty"`
}
