package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadmayfield/aquachroma/internal/config"
	"github.com/chadmayfield/aquachroma/internal/mirror"
	"github.com/chadmayfield/aquachroma/internal/notify"
)

var (
	syncMaxDays     int
	syncLockTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror remote analysis results into the local database",
	Long: `sync copies analysis results from the configured remote source (supabase or
proxy) into the SQLite or PostgreSQL mirror. It resumes from the point the last
complete run reached, so repeated runs only transfer new rows. A run that fails
partway is retried in full by the next one.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncMaxDays, "max-days", 30, "how far back to go before the first complete sync (0 for all history)")
	syncCmd.Flags().DurationVar(&syncLockTimeout, "lock-timeout", 5*time.Second, "how long to wait for another sync to finish")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	setupLogging()
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Source.Driver == "store" {
		return fmt.Errorf("sync needs a remote source; source.driver is %q", cfg.Source.Driver)
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lock, err := mirror.AcquireLock(ctx, syncLockPath(cfg), syncLockTimeout)
	if err != nil {
		if errors.Is(err, mirror.ErrLocked) {
			return fmt.Errorf("%w (lock %s)", err, syncLockPath(cfg))
		}
		return err
	}
	defer lock.Release() //nolint:errcheck

	local, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer local.Close() //nolint:errcheck

	notifier, _, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck // flushes pending webhook posts
	backend, err := newBackend(cfg, notifier, logger)
	if err != nil {
		return err
	}
	remote, err := newSource(cfg, backend, nil)
	if err != nil {
		return err
	}

	syncer := mirror.NewSyncer(remote, local, logger,
		mirror.WithCollection(cfg.Source.Collection),
		mirror.WithPageSize(cfg.Fetch.PageSize),
	)

	start := time.Now()
	stats, err := syncer.Sync(ctx, syncMaxDays)
	if err != nil {
		err = fmt.Errorf("sync failed after %d rows: %w", stats.Rows, err)
		notify.Error(ctx, notifier, err.Error())
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "synced %s results in %d pages (%s)\n",
		formatNumber(stats.Rows), stats.Pages, time.Since(start).Round(time.Millisecond))
	return nil
}

// syncLockPath places the lock next to the SQLite file, or in the temp
// directory for PostgreSQL.
func syncLockPath(cfg *config.Config) string {
	if cfg.Storage.Driver == "sqlite" {
		return mirror.LockPath(cfg.Storage.SQLite.Path)
	}
	return filepath.Join(os.TempDir(), "aquachroma-sync.lock")
}
