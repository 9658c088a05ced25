package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcana-app/arcana-go/internal/client"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect reading jobs",
	Long: `List all reading jobs the server holds in memory, or inspect one by ID.

Examples:
  arcana jobs           # List all jobs
  arcana jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListReadings(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-11s %-14s %-8s %s\n", "ID", "STATE", "SPREAD", "EVENTS", "UPDATED")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, j := range jobs {
		fmt.Printf("%-38s %-11s %-14s %-8d %s\n",
			j.ID, j.State, j.Request.Spread, j.Events, j.UpdatedAt.Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	view, err := apiClient.GetReading(ctx, id)
	if err != nil {
		if apiErr, ok := err.(*client.APIError); ok && apiErr.Status == 404 {
			return fmt.Errorf("job not found: %s", id)
		}
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", view.ID)
	fmt.Printf("  State: %s\n", view.State)
	fmt.Printf("  Spread: %s\n", view.Request.Spread)
	if view.Request.Question != "" {
		fmt.Printf("  Question: %s\n", view.Request.Question)
	}
	for _, c := range view.Request.Cards {
		orientation := "upright"
		if c.Reversed {
			orientation = "reversed"
		}
		fmt.Printf("    - %s (%s) at %s\n", c.Name, orientation, c.Position)
	}
	fmt.Printf("  Created: %s\n", view.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Updated: %s\n", view.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("  Events: %d\n", view.Events)

	if view.Result != nil {
		fmt.Printf("\nProvider: %s\n", view.Result.Provider)
		fmt.Printf("Gate: %s", view.Result.GateOutcome)
		if view.Result.GateReason != "" {
			fmt.Printf(" (%s)", view.Result.GateReason)
		}
		fmt.Println()
		if view.Result.Error != "" {
			fmt.Printf("Error: %s\n", view.Result.Error)
		}
		if view.Result.Text != "" {
			fmt.Printf("\n%s\n", view.Result.Text)
		}
	}
	return nil
}
