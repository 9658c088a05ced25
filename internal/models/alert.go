package models

import "time"

// AlertSeverity is the urgency class of a regression alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is one write-once record per detected quality regression.
type Alert struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Metric    string        `json:"metric"`
	Delta     float64       `json:"delta"`
	Dims      EvalDims      `json:"dims"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// Baseline is a derived aggregate over a trailing window for one dimensional
// group. Recomputed on demand, never stored per-job.
type Baseline struct {
	Dims           EvalDims `json:"dims"`
	Samples        int      `json:"samples"`
	MeanOverall    float64  `json:"mean_overall"`
	MeanTone       float64  `json:"mean_tone"`
	MeanCoherence  float64  `json:"mean_coherence"`
	MeanCoverage   float64  `json:"mean_coverage"`
	SafetyFlagRate float64  `json:"safety_flag_rate"`
	LowToneRate    float64  `json:"low_tone_rate"`
}
