package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var alertsLimit int

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent quality regression alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		alerts, err := apiClient.ListAlerts(context.Background(), alertsLimit)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts")
			return nil
		}

		fmt.Printf("%-9s %-16s %-8s %-44s %s\n", "SEVERITY", "METRIC", "DELTA", "DIMS", "WHEN")
		fmt.Println("--------------------------------------------------------------------------------------------")
		for _, a := range alerts {
			dims := fmt.Sprintf("%s/%s/%s/%s",
				a.Dims.PromptVersion, a.Dims.Variant, a.Dims.Spread, a.Dims.Provider)
			fmt.Printf("%-9s %-16s %-8.2f %-44s %s\n",
				a.Severity, a.Metric, a.Delta, dims, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "maximum number of alerts to show")
	rootCmd.AddCommand(alertsCmd)
}
