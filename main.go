package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dbPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pitwall",
		Short: "Pitwall - live race strategy and incident intelligence",
		Long: `Pitwall ingests live telemetry from a capture agent, derives laps, stints,
pace, fuel and tire degradation per driver, classifies incidents and
broadcasts the results to team, broadcast and public viewers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (default ./pitwall.db)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(lapsCmd())
	rootCmd.AddCommand(incidentsCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
