// Package cli provides the command-line interface for arcana.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/arcana-app/arcana-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// apiClient talks to the arcana server. Initialized before every
	// command run.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "arcana",
	Short: "Tarot reading narrative pipeline client",
	Long: `Arcana generates tarot reading narratives asynchronously: submit a drawn
spread, then poll or watch the live event stream while providers draft,
the gate reviews, and the reading completes.

All commands talk to a running arcana-server (see ARCANA_SERVER_URL).`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default: ARCANA_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
