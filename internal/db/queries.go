// Package db provides SurrealDB query functions for the reading pipeline.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/models"
)

// Client implements job.Store, eval.Store, alerting.Store, and the archive
// store over one connection.

// AppendEvent durably appends one event to a job's log. The (job_id, seq)
// unique index rejects a replayed or forked append.
func (c *Client) AppendEvent(ctx context.Context, ev models.Event) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE job_event CONTENT {
			job_id: $job_id,
			seq: $seq,
			type: $type,
			data: $data,
			timestamp: $timestamp
		}
	`, map[string]any{
		"job_id":    ev.JobID,
		"seq":       ev.Seq,
		"type":      ev.Type,
		"data":      ev.Data,
		"timestamp": ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("append event: %w", wrapQueryError(err))
	}
	return nil
}

// Events returns a job's full log in seq order.
func (c *Client) Events(ctx context.Context, jobID string) ([]models.Event, error) {
	results, err := surrealdb.Query[[]models.Event](ctx, c.db, `
		SELECT job_id, seq, type, data, timestamp FROM job_event
		WHERE job_id = $job_id
		ORDER BY seq ASC
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, job.ErrNotFound
	}
	return (*results)[0].Result, nil
}

// ListJobIDs returns all job ids with at least one event.
func (c *Client) ListJobIDs(ctx context.Context) ([]string, error) {
	type row struct {
		JobID string `json:"job_id"`
	}
	results, err := surrealdb.Query[[]row](ctx, c.db, `
		SELECT job_id FROM job_event GROUP BY job_id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", wrapQueryError(err))
	}
	var ids []string
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			ids = append(ids, r.JobID)
		}
	}
	return ids, nil
}

// DeleteJob removes a job's event log. Archived snapshots are untouched.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE job_event WHERE job_id = $job_id
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("delete job events: %w", wrapQueryError(err))
	}
	return nil
}

// evalRow is the flattened table shape of a models.EvalRecord. Dims are
// flattened so the composite index can serve baseline grouping.
type evalRow struct {
	JobID            string    `json:"job_id"`
	Personalization  int       `json:"personalization"`
	Coherence        int       `json:"coherence"`
	Tone             int       `json:"tone"`
	Safety           int       `json:"safety"`
	Overall          int       `json:"overall"`
	SafetyFlag       bool      `json:"safety_flag"`
	CardCoverage     float64   `json:"card_coverage"`
	SpineValid       bool      `json:"spine_valid"`
	HallucinatedCard int       `json:"hallucinated_card_count"`
	EvalMode         string    `json:"eval_mode"`
	PromptVersion    string    `json:"prompt_version"`
	Variant          string    `json:"variant"`
	Spread           string    `json:"spread"`
	Provider         string    `json:"provider"`
	CreatedAt        time.Time `json:"created_at"`
}

func (r evalRow) record() models.EvalRecord {
	return models.EvalRecord{
		JobID: r.JobID,
		Scores: models.Scores{
			Personalization: r.Personalization,
			Coherence:       r.Coherence,
			Tone:            r.Tone,
			Safety:          r.Safety,
			Overall:         r.Overall,
		},
		SafetyFlag:       r.SafetyFlag,
		CardCoverage:     r.CardCoverage,
		SpineValid:       r.SpineValid,
		HallucinatedCard: r.HallucinatedCard,
		Mode:             models.EvalMode(r.EvalMode),
		Dims: models.EvalDims{
			PromptVersion: r.PromptVersion,
			Variant:       r.Variant,
			Spread:        r.Spread,
			Provider:      r.Provider,
		},
		CreatedAt: r.CreatedAt,
	}
}

// UpsertEval writes one eval record, overwriting any previous evaluation of
// the same job.
func (c *Client) UpsertEval(ctx context.Context, rec models.EvalRecord) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("eval_record", $job_id) CONTENT {
			job_id: $job_id,
			personalization: $personalization,
			coherence: $coherence,
			tone: $tone,
			safety: $safety,
			overall: $overall,
			safety_flag: $safety_flag,
			card_coverage: $card_coverage,
			spine_valid: $spine_valid,
			hallucinated_card_count: $hallucinated_card_count,
			eval_mode: $eval_mode,
			prompt_version: $prompt_version,
			variant: $variant,
			spread: $spread,
			provider: $provider,
			created_at: $created_at
		}
	`, map[string]any{
		"job_id":                  rec.JobID,
		"personalization":         rec.Scores.Personalization,
		"coherence":               rec.Scores.Coherence,
		"tone":                    rec.Scores.Tone,
		"safety":                  rec.Scores.Safety,
		"overall":                 rec.Scores.Overall,
		"safety_flag":             rec.SafetyFlag,
		"card_coverage":           rec.CardCoverage,
		"spine_valid":             rec.SpineValid,
		"hallucinated_card_count": rec.HallucinatedCard,
		"eval_mode":               string(rec.Mode),
		"prompt_version":          rec.Dims.PromptVersion,
		"variant":                 rec.Dims.Variant,
		"spread":                  rec.Dims.Spread,
		"provider":                rec.Dims.Provider,
		"created_at":              rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("upsert eval: %w", wrapQueryError(err))
	}
	return nil
}

// EvalsBetween returns eval records with created_at in [from, to).
func (c *Client) EvalsBetween(ctx context.Context, from, to time.Time) ([]models.EvalRecord, error) {
	results, err := surrealdb.Query[[]evalRow](ctx, c.db, `
		SELECT * FROM eval_record
		WHERE created_at >= $from AND created_at < $to
		ORDER BY created_at ASC
	`, map[string]any{"from": from, "to": to})
	if err != nil {
		return nil, fmt.Errorf("load evals: %w", wrapQueryError(err))
	}
	var out []models.EvalRecord
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			out = append(out, r.record())
		}
	}
	return out, nil
}

// InsertAlert persists one raised alert.
func (c *Client) InsertAlert(ctx context.Context, alert models.Alert) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("alert", $id) CONTENT {
			type: $type,
			severity: $severity,
			metric: $metric,
			delta: $delta,
			prompt_version: $prompt_version,
			variant: $variant,
			spread: $spread,
			provider: $provider,
			message: $message,
			created_at: $created_at
		}
	`, map[string]any{
		"id":             alert.ID,
		"type":           alert.Type,
		"severity":       string(alert.Severity),
		"metric":         alert.Metric,
		"delta":          alert.Delta,
		"prompt_version": alert.Dims.PromptVersion,
		"variant":        alert.Dims.Variant,
		"spread":         alert.Dims.Spread,
		"provider":       alert.Dims.Provider,
		"message":        alert.Message,
		"created_at":     alert.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert alert: %w", wrapQueryError(err))
	}
	return nil
}

// Alerts returns the most recent alerts, newest first.
func (c *Client) Alerts(ctx context.Context, limit int) ([]models.Alert, error) {
	type alertRow struct {
		ID            string    `json:"id"`
		Type          string    `json:"type"`
		Severity      string    `json:"severity"`
		Metric        string    `json:"metric"`
		Delta         float64   `json:"delta"`
		PromptVersion string    `json:"prompt_version"`
		Variant       string    `json:"variant"`
		Spread        string    `json:"spread"`
		Provider      string    `json:"provider"`
		Message       string    `json:"message"`
		CreatedAt     time.Time `json:"created_at"`
	}
	results, err := surrealdb.Query[[]alertRow](ctx, c.db, `
		SELECT record::id(id) AS id, type, severity, metric, delta,
			prompt_version, variant, spread, provider, message, created_at
		FROM alert
		ORDER BY created_at DESC
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", wrapQueryError(err))
	}
	var out []models.Alert
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			out = append(out, models.Alert{
				ID:       r.ID,
				Type:     r.Type,
				Severity: models.AlertSeverity(r.Severity),
				Metric:   r.Metric,
				Delta:    r.Delta,
				Dims: models.EvalDims{
					PromptVersion: r.PromptVersion,
					Variant:       r.Variant,
					Spread:        r.Spread,
					Provider:      r.Provider,
				},
				Message:   r.Message,
				CreatedAt: r.CreatedAt,
			})
		}
	}
	return out, nil
}

// ArchiveReading snapshots a terminal job into long-term storage. Keyed on
// job id, so re-archiving the same job overwrites the same row. Terminal
// views without a result cannot be archived and are skipped.
func (c *Client) ArchiveReading(ctx context.Context, view models.JobView) error {
	if view.Result == nil {
		c.log.Error("skipping archive of terminal job without result", "job_id", view.ID, "state", string(view.State))
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("archived_reading", $job_id) CONTENT {
			job_id: $job_id,
			state: $state,
			spread: $spread,
			provider: $provider,
			gate_outcome: $gate_outcome,
			gate_reason: $gate_reason,
			text: $text,
			created_at: $created_at
		}
	`, map[string]any{
		"job_id":       view.ID,
		"state":        string(view.State),
		"spread":       view.Request.Spread,
		"provider":     view.Result.Provider,
		"gate_outcome": string(view.Result.GateOutcome),
		"gate_reason":  view.Result.GateReason,
		"text":         view.Result.Text,
		"created_at":   view.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("archive reading: %w", wrapQueryError(err))
	}
	return nil
}

// UpsertDailyRollup writes one aggregate row for a dimensional group and
// day. The composite record id makes archival re-runs idempotent.
func (c *Client) UpsertDailyRollup(ctx context.Context, day string, b models.Baseline) error {
	key := strings.Join([]string{day, b.Dims.PromptVersion, b.Dims.Variant, b.Dims.Spread, b.Dims.Provider}, "|")
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("daily_rollup", $key) CONTENT {
			day: $day,
			prompt_version: $prompt_version,
			variant: $variant,
			spread: $spread,
			provider: $provider,
			samples: $samples,
			mean_overall: $mean_overall,
			mean_tone: $mean_tone,
			mean_coherence: $mean_coherence,
			mean_coverage: $mean_coverage,
			safety_flag_rate: $safety_flag_rate,
			low_tone_rate: $low_tone_rate,
			created_at: time::now()
		}
	`, map[string]any{
		"key":              key,
		"day":              day,
		"prompt_version":   b.Dims.PromptVersion,
		"variant":          b.Dims.Variant,
		"spread":           b.Dims.Spread,
		"provider":         b.Dims.Provider,
		"samples":          b.Samples,
		"mean_overall":     b.MeanOverall,
		"mean_tone":        b.MeanTone,
		"mean_coherence":   b.MeanCoherence,
		"mean_coverage":    b.MeanCoverage,
		"safety_flag_rate": b.SafetyFlagRate,
		"low_tone_rate":    b.LowToneRate,
	})
	if err != nil {
		return fmt.Errorf("upsert daily rollup: %w", wrapQueryError(err))
	}
	return nil
}
