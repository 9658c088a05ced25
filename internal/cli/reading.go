package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arcana-app/arcana-go/internal/models"
)

var (
	readingSpread   string
	readingQuestion string
	readingClientID string
	readingWatch    bool
	readingCards    []string
)

var readingCmd = &cobra.Command{
	Use:   "reading",
	Short: "Submit and follow tarot reading jobs",
}

var readingStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Submit a drawn spread for narrative generation",
	Long: `Submit a drawn spread for narrative generation.

Cards are given in spread position order. Append ":reversed" to a card
drawn upside down.

Examples:
  arcana reading start --spread three-card \
    --card "The Fool" --card "The Magician:reversed" --card "The Sun" \
    --question "What should I focus on at work?"

  arcana reading start --spread single --card "The Star" --watch`,
	RunE: runReadingStart,
}

func init() {
	readingStartCmd.Flags().StringVar(&readingSpread, "spread", "three-card", "spread layout id")
	readingStartCmd.Flags().StringArrayVar(&readingCards, "card", nil, "drawn card, in position order (repeatable)")
	readingStartCmd.Flags().StringVar(&readingQuestion, "question", "", "the querent's question")
	readingStartCmd.Flags().StringVar(&readingClientID, "client-id", "", "idempotency key; resubmitting with the same id returns the original job")
	readingStartCmd.Flags().BoolVar(&readingWatch, "watch", false, "follow the live event stream after submitting")

	readingCmd.AddCommand(readingStartCmd)
	rootCmd.AddCommand(readingCmd)
}

func runReadingStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(readingCards) == 0 {
		return fmt.Errorf("at least one --card is required")
	}

	positions, err := spreadPositions(ctx, readingSpread)
	if err != nil {
		return err
	}
	if len(readingCards) != len(positions) {
		return fmt.Errorf("spread %s takes %d cards, got %d", readingSpread, len(positions), len(readingCards))
	}

	req := models.ReadingRequest{
		ClientID: readingClientID,
		Spread:   readingSpread,
		Question: readingQuestion,
		Cards:    make([]models.CardDraw, 0, len(readingCards)),
	}
	for i, raw := range readingCards {
		name, reversed := parseCard(raw)
		req.Cards = append(req.Cards, models.CardDraw{
			Name:     name,
			Position: positions[i],
			Reversed: reversed,
		})
	}

	result, err := apiClient.StartReading(ctx, req)
	if err != nil {
		return fmt.Errorf("start reading: %w", err)
	}

	if !result.Created {
		fmt.Printf("Reading %s already submitted\n", result.JobID)
	} else {
		fmt.Printf("Reading %s submitted\n", result.JobID)
	}

	if readingWatch {
		return runWatchUI(apiClient, result.JobID)
	}
	fmt.Printf("Use 'arcana jobs %s' or 'arcana watch %s' to follow it.\n", result.JobID, result.JobID)
	return nil
}

// parseCard splits "The Magician:reversed" into name and orientation.
func parseCard(raw string) (name string, reversed bool) {
	name = strings.TrimSpace(raw)
	if rest, ok := strings.CutSuffix(name, ":reversed"); ok {
		return strings.TrimSpace(rest), true
	}
	return name, false
}

// spreadPositions resolves a spread id to its position labels via the
// server's catalogue.
func spreadPositions(ctx context.Context, spreadID string) ([]string, error) {
	spreads, err := apiClient.ListSpreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch spread catalogue: %w", err)
	}
	for _, s := range spreads {
		if s.ID == spreadID {
			return s.Positions, nil
		}
	}
	known := make([]string, 0, len(spreads))
	for _, s := range spreads {
		known = append(known, s.ID)
	}
	return nil, fmt.Errorf("unknown spread %q (known: %s)", spreadID, strings.Join(known, ", "))
}
