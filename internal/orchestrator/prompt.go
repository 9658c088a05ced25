package orchestrator

import (
	"fmt"
	"strings"

	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/arcana-app/arcana-go/internal/tarot"
)

// promptPreamble frames the generation model as a reader. Kept stable across
// prompt versions; the versioned part is the requirements block.
const promptPreamble = `You are an experienced tarot reader writing a personal narrative reading. Write warm, grounded prose. Never give medical, legal, or financial advice. Never predict death, illness, or calamity.`

// BuildPrompt renders the generation prompt for a reading request. The
// prompt version and variant are explicit inputs so concurrent jobs with
// different configurations never interfere.
func BuildPrompt(req models.ReadingRequest, promptVersion, variant string) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")

	spreadName := req.Spread
	if s, ok := tarot.SpreadByID(req.Spread); ok {
		spreadName = s.Name
	}

	fmt.Fprintf(&b, "Write a tarot reading for a %s spread.\n\n", spreadName)
	b.WriteString("Cards drawn:\n")
	for _, c := range req.Cards {
		orientation := "upright"
		if c.Reversed {
			orientation = "reversed"
		}
		fmt.Fprintf(&b, "- %s (%s), position: %s\n", c.Name, orientation, c.Position)
	}
	if q := strings.TrimSpace(req.Question); q != "" {
		fmt.Fprintf(&b, "\nThe querent asks: %q\n", q)
	}

	b.WriteString("\nRequirements:\n")
	b.WriteString("- Mention every drawn card by its exact name.\n")
	b.WriteString("- Do not mention any card that was not drawn.\n")
	b.WriteString("- Tie each card to its position in the spread.\n")
	// v3 added the explicit narrative-shape requirement; earlier versions
	// relied on the model's defaults and scored worse on coherence.
	if promptVersion >= "v3" {
		b.WriteString("- Structure the reading as an opening, a development, and a closing, in at least three paragraphs.\n")
	}

	switch variant {
	case "practical":
		b.WriteString("- Keep the tone concrete and action-oriented; end with one practical next step.\n")
	case "mystical":
		b.WriteString("- Lean into symbolism and imagery; let the cards speak through metaphor.\n")
	}

	return b.String()
}
