package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/chadmayfield/aquachroma/internal/analysis"
	"github.com/chadmayfield/aquachroma/internal/config"
)

var (
	fetchDays   int
	fetchJSON   bool
	fetchJQ     string
	fetchSource string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Load analysis results once and print them",
	Long: `fetch runs the paginated result load against the configured source and
prints the results newest first. --jq applies a jq expression to the JSON
array of results.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchDays, "days", -1, "lookback window in days, 0 for all history (default from config)")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print results as JSON")
	fetchCmd.Flags().StringVar(&fetchJQ, "jq", "", "jq expression applied to the JSON results")
	fetchCmd.Flags().StringVar(&fetchSource, "source", "", "result source: supabase, proxy or store (overrides config)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	setupLogging()
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if fetchSource != "" {
		cfg.Source.Driver = fetchSource
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	days := cfg.Fetch.LookbackDays
	if cmd.Flags().Changed("days") {
		if fetchDays < 0 {
			return fmt.Errorf("--days must not be negative")
		}
		days = fetchDays
	}

	var filter *gojq.Code
	if fetchJQ != "" {
		if filter, err = compileJQ(fetchJQ); err != nil {
			return err
		}
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

	var mirror mirrorDB
	if cfg.Source.Driver == "store" {
		if mirror, err = openStore(cfg); err != nil {
			return err
		}
		defer mirror.Close() //nolint:errcheck
	}
	src, err := newSource(cfg, backend, mirror)
	if err != nil {
		return err
	}
	results := newResultStore(cfg, src, backend, notifier, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := results.FetchResults(ctx, days); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case filter != nil:
		return runJQ(ctx, out, filter, results.Results())
	case fetchJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results.Results())
	default:
		return printResults(out, results.Results())
	}
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing --jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compiling --jq expression: %w", err)
	}
	return code, nil
}

// runJQ feeds results to code as plain JSON values and prints each output
// on its own line.
func runJQ(ctx context.Context, w io.Writer, code *gojq.Code, results []analysis.Result) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("decoding results: %w", err)
	}

	enc := json.NewEncoder(w)
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return fmt.Errorf("running --jq expression: %w", err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
}

func printResults(w io.Writer, results []analysis.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTIME (UTC)\tSTATUS\tSEA BLUENESS\tCLOUD COVERAGE\tOUTPUT")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp,
			time.Unix(r.Timestamp, 0).UTC().Format(time.DateTime),
			r.Status,
			formatMetric(r.SeaBlueness),
			formatMetric(r.CloudCoverage),
			r.OutputDirectory,
		)
	}
	fmt.Fprintf(tw, "\n%s results\n", formatNumber(len(results)))
	return tw.Flush()
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

