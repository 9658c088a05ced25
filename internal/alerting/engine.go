// Package alerting detects quality regressions by comparing the current
// day's eval aggregates against a trailing baseline per dimensional group.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcana-app/arcana-go/internal/models"
)

// Store reads eval records and persists raised alerts.
type Store interface {
	EvalsBetween(ctx context.Context, from, to time.Time) ([]models.EvalRecord, error)
	InsertAlert(ctx context.Context, alert models.Alert) error
}

// Notifier delivers one alert to a channel. Delivery is best effort; a
// notifier error never fails the analysis run.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// Thresholds configure when a delta becomes an alert. Drops are measured
// against the baseline; rates are absolute over the current period.
type Thresholds struct {
	OverallDropWarning   float64
	OverallDropCritical  float64
	SafetyRateWarning    float64
	SafetyRateCritical   float64
	LowToneRateWarning   float64
	LowToneRateCritical  float64
	CoverageDropWarning  float64
	CoverageDropCritical float64

	// MinSample is the smallest group size, in both the baseline and the
	// current period, for which an alert is considered at all.
	MinSample int

	// BaselineDays is the trailing window length. The current day is
	// always excluded so a partial day is never compared to full ones.
	BaselineDays int
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OverallDropWarning:   0.3,
		OverallDropCritical:  0.5,
		SafetyRateWarning:    0.02,
		SafetyRateCritical:   0.05,
		LowToneRateWarning:   0.10,
		LowToneRateCritical:  0.20,
		CoverageDropWarning:  0.10,
		CoverageDropCritical: 0.20,
		MinSample:            20,
		BaselineDays:         7,
	}
}

// lowToneScore is the tone score at or below which a reading counts toward
// the low-tone rate.
const lowToneScore = 2

// Engine runs the scheduled baseline comparison.
type Engine struct {
	store      Store
	notifiers  []Notifier
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an alerting engine.
func New(store Store, notifiers []Notifier, thresholds Thresholds, logger *slog.Logger) *Engine {
	if thresholds.MinSample <= 0 {
		thresholds.MinSample = DefaultThresholds().MinSample
	}
	if thresholds.BaselineDays <= 0 {
		thresholds.BaselineDays = DefaultThresholds().BaselineDays
	}
	return &Engine{
		store:      store,
		notifiers:  notifiers,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one analysis pass and returns the alerts it raised.
func (e *Engine) Run(ctx context.Context) ([]models.Alert, error) {
	now := e.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	baselineStart := dayStart.AddDate(0, 0, -e.thresholds.BaselineDays)

	history, err := e.store.EvalsBetween(ctx, baselineStart, dayStart)
	if err != nil {
		return nil, fmt.Errorf("load baseline evals: %w", err)
	}
	current, err := e.store.EvalsBetween(ctx, dayStart, now)
	if err != nil {
		return nil, fmt.Errorf("load current evals: %w", err)
	}

	baselines := Aggregate(history)
	var alerts []models.Alert
	for dims, cur := range Aggregate(current) {
		if cur.Samples < e.thresholds.MinSample {
			continue
		}
		base, ok := baselines[dims]
		if !ok || base.Samples < e.thresholds.MinSample {
			continue
		}
		alerts = append(alerts, e.compare(base, cur)...)
	}

	for _, alert := range alerts {
		if err := e.store.InsertAlert(ctx, alert); err != nil {
			e.logger.Error("failed to persist alert", "metric", alert.Metric, "error", err)
		}
		e.dispatch(ctx, alert)
	}

	e.logger.Info("alerting pass complete",
		"groups", len(baselines),
		"current_records", len(current),
		"alerts", len(alerts),
	)
	return alerts, nil
}

// compare checks one dimensional group against its baseline, raising at
// most one alert per metric at the highest crossed severity.
func (e *Engine) compare(base, cur models.Baseline) []models.Alert {
	t := e.thresholds
	var alerts []models.Alert

	raise := func(metric string, delta float64, severity models.AlertSeverity, msg string) {
		alerts = append(alerts, models.Alert{
			ID:        uuid.New().String(),
			Type:      "quality_regression",
			Severity:  severity,
			Metric:    metric,
			Delta:     delta,
			Dims:      cur.Dims,
			Message:   msg,
			CreatedAt: e.now().UTC(),
		})
	}

	if drop := base.MeanOverall - cur.MeanOverall; drop >= t.OverallDropWarning {
		sev := models.SeverityWarning
		if drop >= t.OverallDropCritical {
			sev = models.SeverityCritical
		}
		raise("overall_drop", drop, sev, fmt.Sprintf(
			"mean overall score dropped %.2f (%.2f to %.2f) over %d samples",
			drop, base.MeanOverall, cur.MeanOverall, cur.Samples))
	}

	if rate := cur.SafetyFlagRate; rate >= t.SafetyRateWarning {
		sev := models.SeverityWarning
		if rate >= t.SafetyRateCritical {
			sev = models.SeverityCritical
		}
		raise("safety_flag_rate", rate, sev, fmt.Sprintf(
			"%.1f%% of readings flagged for safety review over %d samples",
			rate*100, cur.Samples))
	}

	if rate := cur.LowToneRate; rate >= t.LowToneRateWarning {
		sev := models.SeverityWarning
		if rate >= t.LowToneRateCritical {
			sev = models.SeverityCritical
		}
		raise("low_tone_rate", rate, sev, fmt.Sprintf(
			"%.1f%% of readings scored tone <= %d over %d samples",
			rate*100, lowToneScore, cur.Samples))
	}

	if drop := base.MeanCoverage - cur.MeanCoverage; drop >= t.CoverageDropWarning {
		sev := models.SeverityWarning
		if drop >= t.CoverageDropCritical {
			sev = models.SeverityCritical
		}
		raise("coverage_drop", drop, sev, fmt.Sprintf(
			"mean card coverage dropped %.0f points (%.0f%% to %.0f%%) over %d samples",
			drop*100, base.MeanCoverage*100, cur.MeanCoverage*100, cur.Samples))
	}

	return alerts
}

func (e *Engine) dispatch(ctx context.Context, alert models.Alert) {
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			e.logger.Warn("alert notification failed",
				"metric", alert.Metric,
				"severity", alert.Severity,
				"error", err,
			)
		}
	}
}

// Aggregate folds eval records into one Baseline per dimensional group.
// Heuristic-mode records are skipped: their scores are approximations and
// would dilute both the baseline and the signal.
func Aggregate(records []models.EvalRecord) map[models.EvalDims]models.Baseline {
	type acc struct {
		n                            int
		overall, tone, coh, coverage float64
		safetyFlagged, lowTone       int
	}
	accs := make(map[models.EvalDims]*acc)
	for _, rec := range records {
		if rec.Mode == models.EvalModeHeuristic {
			continue
		}
		a := accs[rec.Dims]
		if a == nil {
			a = &acc{}
			accs[rec.Dims] = a
		}
		a.n++
		a.overall += float64(rec.Scores.Overall)
		a.tone += float64(rec.Scores.Tone)
		a.coh += float64(rec.Scores.Coherence)
		a.coverage += rec.CardCoverage
		if rec.SafetyFlag {
			a.safetyFlagged++
		}
		if rec.Scores.Tone <= lowToneScore {
			a.lowTone++
		}
	}

	out := make(map[models.EvalDims]models.Baseline, len(accs))
	for dims, a := range accs {
		n := float64(a.n)
		out[dims] = models.Baseline{
			Dims:           dims,
			Samples:        a.n,
			MeanOverall:    a.overall / n,
			MeanTone:       a.tone / n,
			MeanCoherence:  a.coh / n,
			MeanCoverage:   a.coverage / n,
			SafetyFlagRate: float64(a.safetyFlagged) / n,
			LowToneRate:    float64(a.lowTone) / n,
		}
	}
	return out
}
