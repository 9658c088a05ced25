// Package orchestrator runs a reading job end to end: crisis screening,
// provider fallback, structural gating, and handoff to the async evaluator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/metrics"
	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/arcana-app/arcana-go/internal/provider"
	"github.com/arcana-app/arcana-go/internal/tarot"
)

// NoProviderName tags results that never reached a provider, e.g. a crisis
// short-circuit.
const NoProviderName = "none"

// Evaluator receives completed readings for out-of-band scoring. Schedule
// must return immediately and never fail the caller.
type Evaluator interface {
	Schedule(jobID string, req models.ReadingRequest, finalText string, metrics tarot.Metrics, dims models.EvalDims)
}

// Options are per-run configuration. They are passed explicitly into every
// job so concurrent jobs with different prompt versions or variants never
// see each other's settings.
type Options struct {
	PromptVersion   string
	Variant         string
	ProviderTimeout time.Duration
}

// Orchestrator drives generation for reading jobs. Providers are tried in
// order; each gets at most one attempt per job.
type Orchestrator struct {
	jobs      *job.Manager
	providers []provider.Provider
	evaluator Evaluator
	vocab     *tarot.Vocabulary
	opts      Options
	logger    *slog.Logger
}

// New creates an orchestrator. evaluator may be nil, in which case completed
// readings are not scored.
func New(jobs *job.Manager, providers []provider.Provider, evaluator Evaluator, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	vocab, err := tarot.DefaultVocabulary()
	if err != nil {
		return nil, fmt.Errorf("loading card vocabulary: %w", err)
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 45 * time.Second
	}
	return &Orchestrator{
		jobs:      jobs,
		providers: providers,
		evaluator: evaluator,
		vocab:     vocab,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Start launches the run for an already-created job in the background and
// returns immediately. A panic in the run is contained to the job, which is
// marked failed rather than taking the process down.
func (o *Orchestrator) Start(jobID string, req models.ReadingRequest) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("job run panicked", "job_id", jobID, "panic", r)
				_ = o.jobs.Complete(context.Background(), jobID, models.StateFailed, models.ReadingResult{
					Error: "internal error",
				})
			}
		}()
		o.run(jobID, req)
	}()
}

// run executes the provider loop for one job. Log appends use a background
// context so a cancelled run context cannot abort a durable write midway;
// cancellation is observed through the job's run context and through
// ErrTerminal from the manager.
func (o *Orchestrator) run(jobID string, req models.ReadingRequest) {
	ctx := context.Background()

	runCtx, err := o.jobs.RunContext(jobID)
	if err != nil {
		o.logger.Warn("job vanished before run", "job_id", jobID, "error", err)
		return
	}

	if err := o.append(ctx, jobID, models.EventStateChanged, map[string]any{"state": string(models.StateRunning)}); err != nil {
		return
	}
	if err := o.append(ctx, jobID, models.EventProgress, map[string]any{"stage": "analyzing"}); err != nil {
		return
	}

	// Crisis screening happens before any provider call: the fixed safe
	// response is both cheaper and safer than anything a model would write.
	if tarot.CrisisDetected(req.Question) {
		o.logger.Info("crisis signal detected, skipping generation", "job_id", jobID)
		o.finish(ctx, jobID, req, tarot.SafeResponse, NoProviderName, tarot.GateDecision{
			Outcome: models.GateBlocked,
			Reason:  models.GateReasonCrisis,
		})
		return
	}

	prompt := BuildPrompt(req, o.opts.PromptVersion, o.opts.Variant)

	for _, p := range o.providers {
		if runCtx.Err() != nil {
			o.logger.Info("job cancelled, abandoning provider loop", "job_id", jobID)
			return
		}

		if err := o.append(ctx, jobID, models.EventProgress, map[string]any{
			"stage":    "drafting",
			"provider": p.Name(),
		}); err != nil {
			return
		}

		att := o.attempt(runCtx, p, prompt, req)
		metrics.RecordProviderAttempt(att.Provider, string(att.Status))
		if err := o.append(ctx, jobID, models.EventProviderAttempt, map[string]any{
			"provider": att.Provider,
			"status":   string(att.Status),
		}); err != nil {
			return
		}

		if att.Status == provider.StatusSuccess {
			o.gateAndComplete(ctx, jobID, req, att.Text, att.Provider)
			return
		}

		o.logger.Warn("provider attempt failed",
			"job_id", jobID,
			"provider", att.Provider,
			"status", att.Status,
			"error", att.Err,
		)
		if err := o.append(ctx, jobID, models.EventProviderFailed, map[string]any{
			"provider": att.Provider,
			"status":   string(att.Status),
		}); err != nil {
			return
		}
	}

	if runCtx.Err() != nil {
		return
	}

	// Every provider failed: fall back to the locally composed narrative.
	// The caller never sees provider exhaustion as a hard failure.
	o.logger.Info("all providers exhausted, composing locally", "job_id", jobID)
	if err := o.append(ctx, jobID, models.EventProgress, map[string]any{"stage": "composing"}); err != nil {
		return
	}
	o.gateAndComplete(ctx, jobID, req, provider.Compose(req), provider.ComposedProviderName)
}

// attempt makes a single bounded provider call and classifies the outcome.
// Output that the structural metrics call unusable is classified malformed
// so the loop advances instead of returning broken text.
func (o *Orchestrator) attempt(runCtx context.Context, p provider.Provider, prompt string, req models.ReadingRequest) provider.Attempt {
	callCtx, cancel := context.WithTimeout(runCtx, o.opts.ProviderTimeout)
	defer cancel()

	text, err := p.Generate(callCtx, prompt)
	att := provider.Classify(p.Name(), text, err)
	if att.Status != provider.StatusSuccess {
		return att
	}

	if m := tarot.Compute(att.Text, req.Cards, o.vocab); m.CardCoverage == 0 {
		att.Status = provider.StatusMalformed
		att.Err = errors.New("output references none of the drawn cards")
	}
	return att
}

// gateAndComplete applies the sync gate to accepted text and finalizes the
// job with either the text or the blocked substitute.
func (o *Orchestrator) gateAndComplete(ctx context.Context, jobID string, req models.ReadingRequest, text, providerName string) {
	m := tarot.Compute(text, req.Cards, o.vocab)
	decision := tarot.Gate(m, req.Spread)
	if err := o.append(ctx, jobID, models.EventGateDecision, map[string]any{
		"outcome": string(decision.Outcome),
		"reason":  decision.Reason,
		"detail":  decision.Detail,
	}); err != nil {
		return
	}

	final := text
	if decision.Outcome == models.GateBlocked {
		final = tarot.BlockedResponse
	}
	o.finish(ctx, jobID, req, final, providerName, decision)
}

// finish writes the terminal event and hands the final text to the
// evaluator. Metrics for evaluation are recomputed from the text actually
// returned to the caller, so a gate substitution is scored as what the user
// saw, not as the discarded draft.
func (o *Orchestrator) finish(ctx context.Context, jobID string, req models.ReadingRequest, finalText, providerName string, decision tarot.GateDecision) {
	state := models.StateCompleted
	if decision.Outcome == models.GateBlocked {
		state = models.StateBlocked
	}
	metrics.RecordGateDecision(string(decision.Outcome), decision.Reason)

	result := models.ReadingResult{
		Text:        finalText,
		Provider:    providerName,
		GateOutcome: decision.Outcome,
		GateReason:  decision.Reason,
	}
	if err := o.jobs.Complete(ctx, jobID, state, result); err != nil {
		if errors.Is(err, job.ErrTerminal) {
			// Lost the race against cancel or TTL expiry; the late result
			// is discarded.
			o.logger.Info("job already terminal, result discarded", "job_id", jobID)
		} else {
			o.logger.Error("failed to finalize job", "job_id", jobID, "error", err)
		}
		return
	}

	o.logger.Info("job finished",
		"job_id", jobID,
		"state", state,
		"provider", providerName,
		"gate_outcome", decision.Outcome,
		"gate_reason", decision.Reason,
	)
	if view, err := o.jobs.Get(ctx, jobID); err == nil {
		metrics.RecordJobCompleted(string(view.State), string(decision.Outcome), view.UpdatedAt.Sub(view.CreatedAt))
	}

	if o.evaluator != nil {
		o.evaluator.Schedule(jobID, req, finalText, tarot.Compute(finalText, req.Cards, o.vocab), models.EvalDims{
			PromptVersion: o.opts.PromptVersion,
			Variant:       o.opts.Variant,
			Spread:        req.Spread,
			Provider:      providerName,
		})
	}
}

// append writes an event to the job's log, tolerating terminal races.
// A persistence failure stops the run; the job will either be retried by
// the caller or expire via TTL.
func (o *Orchestrator) append(ctx context.Context, jobID, eventType string, data map[string]any) error {
	_, err := o.jobs.AppendEvent(ctx, jobID, eventType, data)
	if err == nil {
		return nil
	}
	if errors.Is(err, job.ErrTerminal) || errors.Is(err, job.ErrNotFound) {
		o.logger.Info("job no longer accepting events", "job_id", jobID, "event", eventType)
	} else {
		o.logger.Error("failed to append event", "job_id", jobID, "event", eventType, "error", err)
	}
	return err
}
