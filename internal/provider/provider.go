// Package provider wraps the text-generation providers behind a single
// contract and classifies their failures into a small closed set of result
// variants, so the orchestrator's retry/fallback logic is a plain state
// transition rather than ad hoc error inspection.
package provider

import (
	"context"
	"errors"
	"strings"
)

// Provider is the generation contract. Implementations must honour ctx
// cancellation and deadline; the caller owns the timeout.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Status is the closed set of attempt outcomes.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
	StatusMalformed Status = "malformed"
)

// Attempt is the record of one provider call.
type Attempt struct {
	Provider string
	Status   Status
	Text     string
	Err      error
}

// minUsableLength guards against providers returning a stub or an apology
// instead of a narrative.
const minUsableLength = 40

// Classify turns a provider call's raw outcome into an Attempt.
func Classify(name, text string, err error) Attempt {
	a := Attempt{Provider: name, Text: text, Err: err}
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		a.Status = StatusTimeout
	case err != nil:
		a.Status = StatusError
	case len(strings.TrimSpace(text)) < minUsableLength:
		a.Status = StatusMalformed
	default:
		a.Status = StatusSuccess
	}
	return a
}
