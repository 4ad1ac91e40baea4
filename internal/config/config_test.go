package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Env:        "production",
		ListenAddr: ":8080",
		LogFormat:  "json",
		API: APIConfig{
			BaseURLDev:  "http://localhost:8000",
			BaseURLProd: "https://aqua-chroma.sharee.top",
			Timeout:     30 * time.Second,
		},
		Source: SourceConfig{
			Driver:     "supabase",
			Collection: "analysis_results",
			Supabase:   SupabaseConfig{URL: "https://project.supabase.co", Key: "anon"},
		},
		Storage: StorageConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: "test.db"}},
		Fetch:   FetchConfig{PageSize: 1000, ForwardMargin: time.Hour},
		Debug:   DebugConfig{Method: "GET"},
		Notify:  NotifyConfig{History: 50},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid supabase config", mutate: func(c *Config) {}},
		{name: "valid proxy config", mutate: func(c *Config) { c.Source = SourceConfig{Driver: "proxy", Collection: "analysis_results"} }},
		{name: "invalid env", mutate: func(c *Config) { c.Env = "staging" }, wantErr: true},
		{name: "invalid listen addr", mutate: func(c *Config) { c.ListenAddr = "8080" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "base url not http", mutate: func(c *Config) { c.API.BaseURL = "ftp://example.com" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, wantErr: true},
		{name: "missing supabase url", mutate: func(c *Config) { c.Source.Supabase.URL = "" }, wantErr: true},
		{name: "missing supabase key", mutate: func(c *Config) { c.Source.Supabase.Key = "" }, wantErr: true},
		{name: "negative rate", mutate: func(c *Config) { c.Source.Supabase.RequestsPerSecond = -1 }, wantErr: true},
		{name: "unknown source driver", mutate: func(c *Config) { c.Source.Driver = "firebase" }, wantErr: true},
		{name: "missing collection", mutate: func(c *Config) { c.Source.Collection = "" }, wantErr: true},
		{name: "store source with bad storage", mutate: func(c *Config) {
			c.Source.Driver = "store"
			c.Storage.Driver = "mysql"
		}, wantErr: true},
		{name: "store source with postgres", mutate: func(c *Config) {
			c.Source.Driver = "store"
			c.Storage = StorageConfig{Driver: "postgres", Postgres: PostgresConfig{DSN: "postgres://localhost/db"}}
		}},
		{name: "zero page size", mutate: func(c *Config) { c.Fetch.PageSize = 0 }, wantErr: true},
		{name: "negative lookback", mutate: func(c *Config) { c.Fetch.LookbackDays = -1 }, wantErr: true},
		{name: "negative margin", mutate: func(c *Config) { c.Fetch.ForwardMargin = -time.Second }, wantErr: true},
		{name: "negative refresh", mutate: func(c *Config) { c.Fetch.RefreshInterval = -time.Second }, wantErr: true},
		{name: "post debug method", mutate: func(c *Config) { c.Debug.Method = "post" }},
		{name: "invalid debug method", mutate: func(c *Config) { c.Debug.Method = "PUT" }, wantErr: true},
		{name: "negative history", mutate: func(c *Config) { c.Notify.History = -1 }, wantErr: true},
		{name: "bad webhook url", mutate: func(c *Config) { c.Notify.DiscordWebhookURL = "discord" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateStorage(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{name: "invalid driver", storage: StorageConfig{Driver: "mysql"}, wantErr: true},
		{name: "sqlite missing path", storage: StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "postgres missing dsn", storage: StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "valid sqlite", storage: StorageConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: "test.db"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Storage: tt.storage}
			if err := cfg.ValidateStorage(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStorage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateStorageCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := Config{Storage: StorageConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: filepath.Join(dir, "test.db")}}}
	if err := cfg.ValidateStorage(); err != nil {
		t.Fatalf("ValidateStorage: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("storage dir not created: %v", err)
	}
}

func TestConfig_BaseURL(t *testing.T) {
	cfg := validConfig()
	if got := cfg.BaseURL(); got != "https://aqua-chroma.sharee.top" {
		t.Errorf("production BaseURL() = %q", got)
	}
	cfg.Env = "development"
	if got := cfg.BaseURL(); got != "http://localhost:8000" {
		t.Errorf("development BaseURL() = %q", got)
	}
	cfg.API.BaseURL = "http://analysis.internal:9000"
	if got := cfg.BaseURL(); got != "http://analysis.internal:9000" {
		t.Errorf("override BaseURL() = %q", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad_ValidFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfgPath := writeConfig(t, `
env: development
listen_addr: ":9090"
log_format: text

source:
  supabase:
    url: "https://project.supabase.co"
    key: "anon-key"
    requests_per_second: 5

fetch:
  page_size: 500
  lookback_days: 7
  forward_margin: 30m
  refresh_interval: 5m

debug:
  method: POST
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.Source.Driver != "supabase" || cfg.Source.Collection != "analysis_results" {
		t.Errorf("source = %+v, want default driver and collection", cfg.Source)
	}
	if cfg.Source.Supabase.RequestsPerSecond != 5 {
		t.Errorf("requests_per_second = %v, want 5", cfg.Source.Supabase.RequestsPerSecond)
	}
	if cfg.Fetch.PageSize != 500 || cfg.Fetch.LookbackDays != 7 {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if cfg.Fetch.ForwardMargin != 30*time.Minute {
		t.Errorf("forward_margin = %s, want 30m", cfg.Fetch.ForwardMargin)
	}
	if cfg.Fetch.RefreshInterval != 5*time.Minute {
		t.Errorf("refresh_interval = %s, want 5m", cfg.Fetch.RefreshInterval)
	}
	if !cfg.Fetch.OnStartup {
		t.Error("on_startup should default to true")
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("api.timeout = %s, want 30s", cfg.API.Timeout)
	}
	if cfg.BaseURL() != "http://localhost:8000" {
		t.Errorf("BaseURL() = %q, want dev url", cfg.BaseURL())
	}
	if cfg.Notify.History != 50 {
		t.Errorf("notify.history = %d, want 50", cfg.Notify.History)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	cfgPath := writeConfig(t, `
source:
  supabase:
    url: "https://placeholder.supabase.co"
    key: "placeholder"
`)

	t.Setenv("SUPABASE_URL", "https://real.supabase.co")
	t.Setenv("SUPABASE_KEY", "secret-from-env")
	t.Setenv("AQUACHROMA_FETCH_PAGE_SIZE", "250")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source.Supabase.URL != "https://real.supabase.co" {
		t.Errorf("supabase url = %q", cfg.Source.Supabase.URL)
	}
	if cfg.Source.Supabase.Key != "secret-from-env" {
		t.Errorf("supabase key = %q, want %q", cfg.Source.Supabase.Key, "secret-from-env")
	}
	if cfg.Fetch.PageSize != 250 {
		t.Errorf("page_size = %d, want 250", cfg.Fetch.PageSize)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AQUACHROMA_API_TOKEN=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Registers restoration, then clears so godotenv may set it.
	t.Setenv("AQUACHROMA_API_TOKEN", "")
	if err := os.Unsetenv("AQUACHROMA_API_TOKEN"); err != nil {
		t.Fatal(err)
	}

	cfgPath := writeConfig(t, `
source:
  driver: proxy
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Token != "from-dotenv" {
		t.Errorf("api.token = %q, want %q", cfg.API.Token, "from-dotenv")
	}
}

func TestConfig_DSN(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		cfg := Config{Storage: StorageConfig{Driver: "sqlite", SQLite: SQLiteConfig{Path: "/tmp/test.db"}}}
		if dsn := cfg.DSN(); dsn != "/tmp/test.db" {
			t.Errorf("DSN() = %q, want %q", dsn, "/tmp/test.db")
		}
	})

	t.Run("postgres", func(t *testing.T) {
		cfg := Config{Storage: StorageConfig{Driver: "postgres", Postgres: PostgresConfig{DSN: "postgres://localhost/db"}}}
		if dsn := cfg.DSN(); dsn != "postgres://localhost/db" {
			t.Errorf("DSN() = %q, want %q", dsn, "postgres://localhost/db")
		}
	})
}
