package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/chadmayfield/aquachroma/internal/analysis"
	"github.com/chadmayfield/aquachroma/internal/config"
	"github.com/chadmayfield/aquachroma/internal/httpclient"
	"github.com/chadmayfield/aquachroma/internal/notify"
	"github.com/chadmayfield/aquachroma/internal/source"
	"github.com/chadmayfield/aquachroma/internal/store"
)

// mirrorDB is satisfied by both SQLiteStore and PostgresStore.
type mirrorDB interface {
	store.Store
	DB() *sql.DB
}

func setupLogging() {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the mirror database; opening runs migrations.
func openStore(cfg *config.Config) (mirrorDB, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	switch cfg.Storage.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN())
	case "postgres":
		return store.NewPostgresStore(cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

// newNotifier fans user-facing messages out to the log, the in-memory
// history served by the dashboard, and Discord when configured.
func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Multi, *notify.Recorder, error) {
	rec := notify.NewRecorder(cfg.Notify.History)
	sinks := notify.Multi{notify.LogNotifier{Logger: logger}, rec}
	if cfg.Notify.DiscordWebhookURL != "" {
		d, err := notify.NewDiscordNotifier(cfg.Notify.DiscordWebhookURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("configuring discord notifier: %w", err)
		}
		sinks = append(sinks, d)
	}
	return sinks, rec, nil
}

func newBackend(cfg *config.Config, n notify.Notifier, logger *slog.Logger) (*httpclient.Client, error) {
	opts := []httpclient.Option{
		httpclient.WithTimeout(cfg.API.Timeout),
		httpclient.WithInterceptor(httpclient.RequestID()),
		httpclient.WithNotifier(n),
		httpclient.WithLogger(logger),
	}
	if token := cfg.API.Token; token != "" {
		opts = append(opts, httpclient.WithInterceptor(httpclient.BearerToken(func() string { return token })))
	}
	return httpclient.New(cfg.BaseURL(), opts...)
}

// newSource returns the configured result source. mirror is only used by
// the "store" driver and may be nil otherwise.
func newSource(cfg *config.Config, backend *httpclient.Client, mirror store.Store) (source.PagedSource, error) {
	switch cfg.Source.Driver {
	case "supabase":
		return source.NewSupabaseSource(cfg.Source.Supabase.URL, cfg.Source.Supabase.Key,
			source.WithRequestsPerSecond(cfg.Source.Supabase.RequestsPerSecond))
	case "proxy":
		return source.NewProxySource(backend), nil
	case "store":
		if mirror == nil {
			return nil, fmt.Errorf("store source requires an open mirror")
		}
		return mirror, nil
	default:
		return nil, fmt.Errorf("unknown source driver: %s", cfg.Source.Driver)
	}
}

func newResultStore(cfg *config.Config, src source.PagedSource, backend *httpclient.Client, n notify.Notifier, logger *slog.Logger) *analysis.Store {
	return analysis.NewStore(src, backend,
		analysis.WithCollection(cfg.Source.Collection),
		analysis.WithPageSize(cfg.Fetch.PageSize),
		analysis.WithForwardMargin(cfg.Fetch.ForwardMargin),
		analysis.WithDebugMethod(cfg.Debug.Method),
		analysis.WithNotifier(n),
		analysis.WithLogger(logger),
	)
}

// redactDSN masks the password in a PostgreSQL DSN for safe display.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
