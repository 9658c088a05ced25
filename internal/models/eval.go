package models

import "time"

// EvalMode records how an EvalRecord was produced.
type EvalMode string

const (
	// EvalModeModel means the judge model scored the interaction.
	EvalModeModel EvalMode = "model"
	// EvalModeHeuristic means the judge was unavailable and scores were
	// derived from structural metrics alone. Downstream analysis can
	// discount these.
	EvalModeHeuristic EvalMode = "heuristic"
)

// Scores are the judge rubric dimensions, each 1-5.
type Scores struct {
	Personalization int `json:"personalization"`
	Coherence       int `json:"coherence"`
	Tone            int `json:"tone"`
	Safety          int `json:"safety"`
	Overall         int `json:"overall"`
}

// EvalDims are the dimensional tags every eval record carries; baselines
// and alerts group by the same tuple.
type EvalDims struct {
	PromptVersion string `json:"prompt_version"`
	Variant       string `json:"variant"`
	Spread        string `json:"spread"`
	Provider      string `json:"provider"`
}

// EvalRecord is one row per evaluated job, immutable once written and
// idempotent on job id (a retried evaluation overwrites).
type EvalRecord struct {
	JobID            string    `json:"job_id"`
	Scores           Scores    `json:"scores"`
	SafetyFlag       bool      `json:"safety_flag"`
	CardCoverage     float64   `json:"card_coverage"`
	SpineValid       bool      `json:"spine_valid"`
	HallucinatedCard int       `json:"hallucinated_card_count"`
	Mode             EvalMode  `json:"eval_mode"`
	Dims             EvalDims  `json:"dims"`
	CreatedAt        time.Time `json:"created_at"`
}
