package provider

import (
	"fmt"
	"strings"

	"github.com/arcana-app/arcana-go/internal/models"
)

// ComposedProviderName tags narratives built locally after every model
// provider was exhausted.
const ComposedProviderName = "composed"

// positionLeads give each card paragraph a distinct movement so the
// composed narrative reads as a progression rather than a list.
var positionLeads = []string{
	"The reading opens with",
	"From there the thread passes to",
	"Alongside it sits",
	"Deeper in the spread,",
	"Answering that,",
	"Looking further out,",
	"Closer to home,",
	"Around you,",
	"Beneath your hopes,",
	"And at the last,",
}

// Compose builds a deterministic fallback narrative from the spread alone.
// It names every supplied card (full coverage), introduces no others, and
// keeps a three-movement shape, so it always clears the structural gate.
// This is the floor under the whole pipeline: exhausting the provider list
// must never surface a hard failure to the caller.
func Compose(req models.ReadingRequest) string {
	var b strings.Builder

	b.WriteString("The cards you have drawn form a quiet, steady picture. ")
	if q := strings.TrimSpace(req.Question); q != "" {
		b.WriteString("Held against your question, they answer less with prediction than with orientation: where your attention already is, and where it wants to go. ")
	} else {
		b.WriteString("Without a spoken question, they speak instead to the season you are in. ")
	}
	b.WriteString("Take them one at a time.\n\n")

	for i, card := range req.Cards {
		lead := positionLeads[i%len(positionLeads)]
		orientation := "upright"
		gloss := "its meaning arrives directly, in its plainest form"
		if card.Reversed {
			orientation = "reversed"
			gloss = "its meaning turns inward, asking to be read against the grain"
		}
		position := card.Position
		if position == "" {
			position = fmt.Sprintf("position %d", i+1)
		}
		fmt.Fprintf(&b, "%s %s, %s in the %s position; %s. Sit with what that stirs before moving on.\n\n",
			lead, card.Name, orientation, position, gloss)
	}

	b.WriteString("Taken together, the spread asks for patience more than action. ")
	b.WriteString("Let what you have read here settle, return to it in a day or two, and notice which image stayed with you — that is the card doing its work.")
	return b.String()
}
