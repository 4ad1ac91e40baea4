package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chadmayfield/aquachroma/internal/httpclient"
)

// Config is the top-level configuration for aquachroma.
type Config struct {
	Env        string        `mapstructure:"env"` // "development" or "production"
	ListenAddr string        `mapstructure:"listen_addr"`
	LogFormat  string        `mapstructure:"log_format"`
	CORSOrigin string        `mapstructure:"cors_origin"`
	API        APIConfig     `mapstructure:"api"`
	Source     SourceConfig  `mapstructure:"source"`
	Storage    StorageConfig `mapstructure:"storage"`
	Fetch      FetchConfig   `mapstructure:"fetch"`
	Debug      DebugConfig   `mapstructure:"debug"`
	Notify     NotifyConfig  `mapstructure:"notify"`
}

// APIConfig points at the analysis backend.
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	BaseURLDev  string        `mapstructure:"base_url_dev"`
	BaseURLProd string        `mapstructure:"base_url_prod"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Token       string        `mapstructure:"token"`
}

// SourceConfig selects where analysis results are read from.
type SourceConfig struct {
	Driver     string         `mapstructure:"driver"` // "supabase", "proxy" or "store"
	Collection string         `mapstructure:"collection"`
	Supabase   SupabaseConfig `mapstructure:"supabase"`
}

// SupabaseConfig holds the PostgREST endpoint and key.
type SupabaseConfig struct {
	URL               string  `mapstructure:"url"`
	Key               string  `mapstructure:"key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// StorageConfig defines the local mirror database.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// FetchConfig controls the result pipeline.
type FetchConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	LookbackDays    int           `mapstructure:"lookback_days"`
	ForwardMargin   time.Duration `mapstructure:"forward_margin"`
	OnStartup       bool          `mapstructure:"on_startup"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// DebugConfig controls the debug analysis trigger.
type DebugConfig struct {
	Method string `mapstructure:"method"`
}

// NotifyConfig controls user-facing notifications.
type NotifyConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
	History           int    `mapstructure:"history"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $AQUACHROMA_CONFIG env → ~/.config/aquachroma/config.yaml → /etc/aquachroma/config.yaml
// A .env file in the working directory is loaded first; it never overrides
// variables already set in the environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("env", "production")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("cors_origin", "")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.base_url_dev", "http://localhost:8000")
	v.SetDefault("api.base_url_prod", "https://aqua-chroma.sharee.top")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.token", "")
	v.SetDefault("source.driver", "supabase")
	v.SetDefault("source.collection", "analysis_results")
	v.SetDefault("source.supabase.url", "")
	v.SetDefault("source.supabase.key", "")
	v.SetDefault("source.supabase.requests_per_second", 0)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "aquachroma.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("fetch.page_size", 1000)
	v.SetDefault("fetch.lookback_days", 0)
	v.SetDefault("fetch.forward_margin", "1h")
	v.SetDefault("fetch.on_startup", true)
	v.SetDefault("fetch.refresh_interval", "0s")
	v.SetDefault("debug.method", "GET")
	v.SetDefault("notify.discord_webhook_url", "")
	v.SetDefault("notify.history", 50)

	// Env var support: AQUACHROMA_SOURCE_SUPABASE_URL and friends.
	v.SetEnvPrefix("AQUACHROMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The Supabase tooling convention wins when present.
	_ = v.BindEnv("source.supabase.url", "SUPABASE_URL", "AQUACHROMA_SOURCE_SUPABASE_URL")
	_ = v.BindEnv("source.supabase.key", "SUPABASE_KEY", "AQUACHROMA_SOURCE_SUPABASE_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("AQUACHROMA_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "aquachroma"))
		}
		v.AddConfigPath("/etc/aquachroma")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
		// Warn if config file is world-readable; it may hold the Supabase key.
		if info, err := os.Stat(cfgPath); err == nil {
			perm := info.Mode().Perm()
			if perm&0004 != 0 {
				slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct. Storage is
// only checked when it is the result source; commands that open the mirror
// call ValidateStorage themselves.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "production":
	default:
		return fmt.Errorf("env must be 'development' or 'production', got %q", c.Env)
	}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}

	if err := validateHTTPURL("api base url", c.BaseURL()); err != nil {
		return err
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}

	if c.Source.Collection == "" {
		return fmt.Errorf("source.collection is required")
	}
	switch c.Source.Driver {
	case "supabase":
		if c.Source.Supabase.URL == "" {
			return fmt.Errorf("source.supabase.url (or SUPABASE_URL) is required for supabase source")
		}
		if err := validateHTTPURL("source.supabase.url", c.Source.Supabase.URL); err != nil {
			return err
		}
		if c.Source.Supabase.Key == "" {
			return fmt.Errorf("source.supabase.key (or SUPABASE_KEY) is required for supabase source")
		}
		if c.Source.Supabase.RequestsPerSecond < 0 {
			return fmt.Errorf("source.supabase.requests_per_second must not be negative")
		}
	case "proxy":
	case "store":
		if err := c.ValidateStorage(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("source.driver must be 'supabase', 'proxy' or 'store', got %q", c.Source.Driver)
	}

	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.page_size must be positive, got %d", c.Fetch.PageSize)
	}
	if c.Fetch.LookbackDays < 0 {
		return fmt.Errorf("fetch.lookback_days must not be negative, got %d", c.Fetch.LookbackDays)
	}
	if c.Fetch.ForwardMargin < 0 {
		return fmt.Errorf("fetch.forward_margin must not be negative, got %s", c.Fetch.ForwardMargin)
	}
	if c.Fetch.RefreshInterval < 0 {
		return fmt.Errorf("fetch.refresh_interval must not be negative, got %s", c.Fetch.RefreshInterval)
	}

	switch strings.ToUpper(c.Debug.Method) {
	case "GET", "POST":
	default:
		return fmt.Errorf("debug.method must be GET or POST, got %q", c.Debug.Method)
	}

	if c.Notify.History < 0 {
		return fmt.Errorf("notify.history must not be negative, got %d", c.Notify.History)
	}
	if c.Notify.DiscordWebhookURL != "" {
		if err := validateHTTPURL("notify.discord_webhook_url", c.Notify.DiscordWebhookURL); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStorage checks the mirror database settings and creates the
// SQLite directory if needed.
func (c *Config) ValidateStorage() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
		dir := filepath.Dir(c.Storage.SQLite.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("creating storage directory %q: %w", dir, err)
			}
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite' or 'postgres', got %q", c.Storage.Driver)
	}
	return nil
}

// BaseURL returns the analysis backend URL for the configured environment.
func (c *Config) BaseURL() string {
	return httpclient.BaseURLFor(c.Env, c.API.BaseURL, c.API.BaseURLDev, c.API.BaseURLProd)
}

// DSN returns the appropriate DSN for the configured storage driver.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case "sqlite":
		return c.Storage.SQLite.Path
	case "postgres":
		return c.Storage.Postgres.DSN
	default:
		return ""
	}
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid url: %w", name, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an http or https url", name, raw)
	}
	return nil
}
