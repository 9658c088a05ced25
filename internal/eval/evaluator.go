// Package eval scores completed readings out of band. A judge model grades
// each reading against a rubric; structural metrics clamp the judge's scores
// so it can never grade around an objectively broken narrative.
package eval

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcana-app/arcana-go/internal/metrics"
	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/arcana-app/arcana-go/internal/tarot"
)

// Judge is the external model that scores a reading. Implemented by
// provider.LangchainProvider.
type Judge interface {
	Name() string
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Store persists eval records. Upsert is keyed on job id: a retried
// evaluation overwrites the existing record, never duplicates it.
type Store interface {
	UpsertEval(ctx context.Context, rec models.EvalRecord) error
}

// Evaluator runs judge calls in the background. It is fire-and-forget by
// contract: Schedule returns before any work happens, and no failure in
// this package ever reaches a request handler.
type Evaluator struct {
	judge   Judge
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// notify, when set, is called after each evaluation finishes.
	// Tests use it to observe completion without sleeping.
	notify func(jobID string)
}

// New creates an evaluator. judge may be nil, in which case every record is
// scored heuristically.
func New(judge Judge, store Store, timeout time.Duration, logger *slog.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{
		judge:   judge,
		store:   store,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Schedule queues one evaluation and returns immediately. A panic or error
// inside the evaluation is logged and contained.
func (e *Evaluator) Schedule(jobID string, req models.ReadingRequest, finalText string, m tarot.Metrics, dims models.EvalDims) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("evaluation panicked", "job_id", jobID, "panic", r)
			}
			if e.notify != nil {
				e.notify(jobID)
			}
		}()
		e.evaluate(jobID, req, finalText, m, dims)
	}()
}

func (e *Evaluator) evaluate(jobID string, req models.ReadingRequest, finalText string, m tarot.Metrics, dims models.EvalDims) {
	verdict, mode := e.score(req, finalText, m)
	scores, safetyFlag := applyBindings(verdict.Scores, verdict.SafetyFlag, m)

	rec := models.EvalRecord{
		JobID:            jobID,
		Scores:           scores,
		SafetyFlag:       safetyFlag,
		CardCoverage:     m.CardCoverage,
		SpineValid:       m.SpineValid,
		HallucinatedCard: len(m.HallucinatedCards),
		Mode:             mode,
		Dims:             dims,
		CreatedAt:        e.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.UpsertEval(ctx, rec); err != nil {
		e.logger.Error("failed to store eval record", "job_id", jobID, "error", err)
		return
	}
	metrics.RecordEvaluation(string(mode))
	e.logger.Info("reading evaluated",
		"job_id", jobID,
		"mode", mode,
		"overall", scores.Overall,
		"coherence", scores.Coherence,
		"safety_flag", safetyFlag,
	)
}

// score calls the judge within its time budget, degrading to the heuristic
// scorer on any failure.
func (e *Evaluator) score(req models.ReadingRequest, finalText string, m tarot.Metrics) (judgeVerdict, models.EvalMode) {
	if e.judge == nil {
		return heuristicVerdict(m), models.EvalModeHeuristic
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	raw, err := e.judge.GenerateWithSystem(ctx, judgeSystemPrompt, buildJudgePrompt(req, finalText))
	if err != nil {
		e.logger.Warn("judge call failed, scoring heuristically", "judge", e.judge.Name(), "error", err)
		return heuristicVerdict(m), models.EvalModeHeuristic
	}
	verdict, err := parseVerdict(raw)
	if err != nil {
		e.logger.Warn("judge response unparseable, scoring heuristically", "judge", e.judge.Name(), "error", err)
		return heuristicVerdict(m), models.EvalModeHeuristic
	}
	return verdict, models.EvalModeModel
}

// applyBindings clamps judge scores with the structural metrics. The clamps
// are binding regardless of what the judge said: a narrative that failed an
// objective check cannot score above the corresponding cap.
func applyBindings(s models.Scores, safetyFlag bool, m tarot.Metrics) (models.Scores, bool) {
	if !m.SpineValid {
		s.Coherence = min(s.Coherence, 4)
	}
	if m.CardCoverage < 0.9 {
		s.Coherence = min(s.Coherence, 4)
	}
	if m.CardCoverage < 0.7 {
		s.Coherence = min(s.Coherence, 3)
	}
	if len(m.HallucinatedCards) > 0 {
		s.Coherence = min(s.Coherence, 2)
		safetyFlag = true
	}
	return s, safetyFlag
}

// heuristicVerdict derives approximate scores from structural metrics alone.
// Personalization and tone are unknowable without a judge, so they sit at
// the midpoint; downstream analysis discounts heuristic records.
func heuristicVerdict(m tarot.Metrics) judgeVerdict {
	coherence := 2
	switch {
	case len(m.HallucinatedCards) > 0:
		coherence = 1
	case m.SpineValid && m.CardCoverage >= 0.9:
		coherence = 4
	case m.CardCoverage >= 0.7:
		coherence = 3
	}

	safety := 4
	if len(m.HallucinatedCards) > 0 {
		safety = 3
	}

	v := judgeVerdict{
		Scores: models.Scores{
			Personalization: 3,
			Coherence:       coherence,
			Tone:            3,
			Safety:          safety,
		},
		SafetyFlag: len(m.HallucinatedCards) > 0,
	}
	v.Scores.Overall = (v.Scores.Personalization + v.Scores.Coherence + v.Scores.Tone + v.Scores.Safety) / 4
	return v
}
