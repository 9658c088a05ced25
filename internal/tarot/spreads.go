package tarot

import "strings"

// Spread describes a reading layout and its gate thresholds.
type Spread struct {
	ID        string
	Name      string
	Positions []string
	// MinCoverage is the coverage floor below which the sync gate blocks.
	// Larger spreads are more lenient: a celtic cross narrative cannot
	// reasonably name-check all ten cards every time.
	MinCoverage float64
}

var spreads = map[string]Spread{
	"single": {
		ID:          "single",
		Name:        "Single Card",
		Positions:   []string{"focus"},
		MinCoverage: 0.80,
	},
	"three-card": {
		ID:          "three-card",
		Name:        "Past / Present / Future",
		Positions:   []string{"past", "present", "future"},
		MinCoverage: 0.80,
	},
	"celtic-cross": {
		ID:   "celtic-cross",
		Name: "Celtic Cross",
		Positions: []string{
			"present", "challenge", "foundation", "past", "crown",
			"near future", "self", "environment", "hopes and fears", "outcome",
		},
		MinCoverage: 0.70,
	},
}

// defaultMinCoverage applies to unknown spread ids.
const defaultMinCoverage = 0.80

// SpreadByID looks up a spread definition. Unknown ids return a zero-value
// spread and false; callers decide whether that is a validation error.
func SpreadByID(id string) (Spread, bool) {
	s, ok := spreads[strings.ToLower(strings.TrimSpace(id))]
	return s, ok
}

// MinCoverageFor returns the gate coverage floor for a spread id, falling
// back to the default for unknown spreads.
func MinCoverageFor(id string) float64 {
	if s, ok := SpreadByID(id); ok {
		return s.MinCoverage
	}
	return defaultMinCoverage
}

// Spreads returns all known spread definitions.
func Spreads() []Spread {
	out := make([]Spread, 0, len(spreads))
	for _, s := range spreads {
		out = append(out, s)
	}
	return out
}
