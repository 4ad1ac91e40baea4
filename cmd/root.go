package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "aquachroma",
	Short: "Dashboard backend for sea-color analysis results",
	Long: `aquachroma loads sea-color analysis results (sea blueness, cloud coverage)
from Supabase or the analysis backend using cursor pagination, serves them to
the dashboard over HTTP and WebSocket, triggers debug re-analysis runs, and can
mirror the results table into SQLite or PostgreSQL.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
