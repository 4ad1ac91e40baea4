package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chadmayfield/aquachroma/internal/analysis"
	"github.com/chadmayfield/aquachroma/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug <timestamp>",
	Short: "Ask the analysis backend to re-run the analysis for a timestamp",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebug,
}

func init() {
	rootCmd.AddCommand(debugCmd)
}

func runDebug(cmd *cobra.Command, args []string) error {
	setupLogging()
	logger := slog.Default()

	ts, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", args[0], err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	notifier, _, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck // flushes pending webhook posts
	backend, err := newBackend(cfg, notifier, logger)
	if err != nil {
		return err
	}

	// Only the debug trigger is used, so no result source is needed.
	results := analysis.NewStore(nil, backend,
		analysis.WithDebugMethod(cfg.Debug.Method),
		analysis.WithNotifier(notifier),
		analysis.WithLogger(logger),
	)

	payload, err := results.TriggerDebugAnalysis(context.Background(), ts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "debug analysis triggered for %d\n", ts)
	fmt.Fprintf(out, "output directory: %s\n", analysis.OutputDirectory(ts))
	if len(payload) > 0 && string(payload) != "null" {
		fmt.Fprintf(out, "response: %s\n", payload)
	}
	return nil
}
