package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var spreadsCmd = &cobra.Command{
	Use:   "spreads",
	Short: "List available spread layouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		spreads, err := apiClient.ListSpreads(context.Background())
		if err != nil {
			return fmt.Errorf("list spreads: %w", err)
		}

		fmt.Printf("%-14s %-24s %s\n", "ID", "NAME", "POSITIONS")
		fmt.Println("--------------------------------------------------------------------------------")
		for _, s := range spreads {
			fmt.Printf("%-14s %-24s %s\n", s.ID, s.Name, strings.Join(s.Positions, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(spreadsCmd)
}
