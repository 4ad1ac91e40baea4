package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chadmayfield/aquachroma/internal/analysis"
	"github.com/chadmayfield/aquachroma/internal/api"
	"github.com/chadmayfield/aquachroma/internal/config"
)

var (
	listenAddr   string
	sourceDriver string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server (default command)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&sourceDriver, "source", "", "result source: supabase, proxy or store (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// Make serve the default command.
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if sourceDriver != "" {
		cfg.Source.Driver = sourceDriver
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger.Info("starting aquachroma",
		"version", Version,
		"env", cfg.Env,
		"listen_addr", cfg.ListenAddr,
		"source", cfg.Source.Driver,
		"backend", cfg.BaseURL(),
	)

	notifier, recorder, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck // flushes pending webhook posts
	backend, err := newBackend(cfg, notifier, logger)
	if err != nil {
		return err
	}

	// The mirror is only opened when it is the result source.
	var mirror mirrorDB
	if cfg.Source.Driver == "store" {
		mirror, err = openStore(cfg)
		if err != nil {
			return err
		}
		defer mirror.Close() //nolint:errcheck
		logger.Info("database ready", "driver", cfg.Storage.Driver)
	}

	src, err := newSource(cfg, backend, mirror)
	if err != nil {
		return err
	}
	results := newResultStore(cfg, src, backend, notifier, logger)

	srv := api.NewServer(results, recorder, cfg.CORSOrigin, logger)
	srv.SetVersion(Version)
	srv.SetLookbackDays(cfg.Fetch.LookbackDays)
	srv.SetSourceDriver(cfg.Source.Driver)
	if mirror != nil {
		storagePath := cfg.DSN()
		if cfg.Storage.Driver == "postgres" {
			storagePath = redactDSN(storagePath)
		}
		srv.SetMirror(mirror, cfg.Storage.Driver, storagePath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Fetch.OnStartup {
		results.Start(ctx, cfg.Fetch.LookbackDays)
	}

	logger.Info("aquachroma ready", "addr", cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })
	if cfg.Fetch.RefreshInterval > 0 {
		g.Go(func() error {
			refreshLoop(gctx, results, cfg.Fetch.RefreshInterval, cfg.Fetch.LookbackDays, logger)
			return nil
		})
	}

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		logger.Error("aquachroma exited with error", "error", waitErr)
	}

	// Always run graceful cleanup, even on error.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)

	logger.Info("aquachroma shutdown complete")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

// refreshLoop reloads results every interval. A refresh supersedes a fetch
// still in flight.
func refreshLoop(ctx context.Context, results *analysis.Store, interval time.Duration, days int, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gen := results.Start(ctx, days)
			logger.Debug("periodic refresh started", "generation", gen)
		}
	}
}
