package tarot

import (
	"fmt"

	"github.com/arcana-app/arcana-go/internal/models"
)

// GateDecision is the synchronous pass/block verdict on generated text.
type GateDecision struct {
	Outcome models.GateOutcome `json:"outcome"`
	Reason  string             `json:"reason,omitempty"`
	Detail  string             `json:"detail,omitempty"`
}

// Gate applies the structural gate to computed metrics, first match wins:
// hallucination, then spread-specific coverage floor, then pass. The crisis
// short-circuit happens earlier, before generation, so it never reaches
// here. Tone and personalization never block — they are not cheap or
// reliable enough to judge synchronously.
func Gate(m Metrics, spreadID string) GateDecision {
	if n := len(m.HallucinatedCards); n > 0 {
		return GateDecision{
			Outcome: models.GateBlocked,
			Reason:  models.GateReasonHallucination,
			Detail:  fmt.Sprintf("%d card(s) not in spread: %v", n, m.HallucinatedCards),
		}
	}
	if floor := MinCoverageFor(spreadID); m.CardCoverage < floor {
		return GateDecision{
			Outcome: models.GateBlocked,
			Reason:  models.GateReasonLowCoverage,
			Detail:  fmt.Sprintf("coverage %.2f below %.2f floor for %s", m.CardCoverage, floor, spreadID),
		}
	}
	return GateDecision{Outcome: models.GatePass}
}

// BlockedResponse is the safe substitute returned when the gate blocks.
// Deterministic and card-free so it can never itself fail the gate's
// structural checks in logs or re-evaluation.
const BlockedResponse = `The reading that came through didn't meet our quality bar, so rather than hand you something muddled, here is a grounded reflection instead.

Whatever question you brought to the deck, treat this moment as an invitation to sit with it a little longer. The positions you laid out still hold their meaning: what is behind you has already taught its lesson, what is before you is still unformed, and the present is the only place you can act.

When you're ready, draw again. The deck rewards a settled mind far more than a hurried one.`
