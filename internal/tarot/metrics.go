package tarot

import (
	"sort"
	"strings"

	"github.com/arcana-app/arcana-go/internal/models"
)

// Metrics are the structural signals computed over a generated narrative.
// All fields derive from the final text returned to the caller; the async
// evaluator and the sync gate see the same numbers.
type Metrics struct {
	// CardCoverage is the fraction of supplied cards referenced in the
	// text (alias-aware). Zero supplied cards yields 0, not NaN.
	CardCoverage float64 `json:"card_coverage"`
	// HallucinatedCards are canonical names detected in the text that were
	// not part of the supplied spread.
	HallucinatedCards []string `json:"hallucinated_cards,omitempty"`
	// SpineValid reports whether the narrative exhibits the required
	// opening/development/closing shape.
	SpineValid bool `json:"spine_valid"`
}

// Compute derives structural metrics for text against the supplied draw.
func Compute(text string, cards []models.CardDraw, vocab *Vocabulary) Metrics {
	m := Metrics{SpineValid: SpineValid(text)}

	supplied := make(map[string]bool, len(cards))
	for _, c := range cards {
		if canon, ok := vocab.Canonical(c.Name); ok {
			supplied[canon] = true
		} else {
			// Unknown card names still count toward the denominator; they
			// can never be covered, which drags coverage down instead of
			// silently shrinking the spread.
			supplied[strings.TrimSpace(c.Name)] = true
		}
	}

	// Coverage: lenient matching, aliases included.
	loose := vocab.mentions(text, false)
	covered := 0
	for name := range supplied {
		if loose[name] {
			covered++
		}
	}
	if len(supplied) > 0 {
		m.CardCoverage = float64(covered) / float64(len(supplied))
	}

	// Hallucination: strict matching only, so ambiguous words ("death",
	// "justice") used as prose never flag.
	strict := vocab.mentions(text, true)
	for name := range strict {
		if !supplied[name] {
			m.HallucinatedCards = append(m.HallucinatedCards, name)
		}
	}
	sort.Strings(m.HallucinatedCards)
	return m
}

// Spine shape floors. A valid narrative has at least three paragraph
// movements, enough substance overall, and no single paragraph swallowing
// the whole reading.
const (
	spineMinParagraphs     = 3
	spineMinWords          = 90
	spineMaxParagraphShare = 0.7
)

// SpineValid checks the opening/development/closing movement of a narrative.
func SpineValid(text string) bool {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) < spineMinParagraphs {
		return false
	}

	total := 0
	counts := make([]int, len(paragraphs))
	for i, p := range paragraphs {
		counts[i] = len(strings.Fields(p))
		total += counts[i]
	}
	if total < spineMinWords {
		return false
	}
	for _, c := range counts {
		if float64(c) > spineMaxParagraphShare*float64(total) {
			return false
		}
	}
	return true
}

func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
