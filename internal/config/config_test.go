package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Load(NewViper())

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if !strings.HasSuffix(cfg.Database.Path, "trainer.db") {
		t.Errorf("Database.Path = %q, want a trainer.db path", cfg.Database.Path)
	}
	if cfg.Sync.Provider != "strava" {
		t.Errorf("Sync.Provider = %q, want %q", cfg.Sync.Provider, "strava")
	}
	if cfg.Sync.PageSize != 200 {
		t.Errorf("Sync.PageSize = %d, want 200", cfg.Sync.PageSize)
	}
	if cfg.Sync.MaxPages != 50 {
		t.Errorf("Sync.MaxPages = %d, want 50", cfg.Sync.MaxPages)
	}
	if cfg.Sync.SinceYears != 2 {
		t.Errorf("Sync.SinceYears = %d, want 2", cfg.Sync.SinceYears)
	}
	if cfg.Sync.ListTimeout != 30*time.Second {
		t.Errorf("Sync.ListTimeout = %v, want 30s", cfg.Sync.ListTimeout)
	}
	if cfg.Sync.ValidateTimeout != 15*time.Second {
		t.Errorf("Sync.ValidateTimeout = %v, want 15s", cfg.Sync.ValidateTimeout)
	}
	if cfg.Sync.LockTTL != 30*time.Minute {
		t.Errorf("Sync.LockTTL = %v, want 30m", cfg.Sync.LockTTL)
	}
	if len(cfg.Sync.ExcludedTypes) != 1 || cfg.Sync.ExcludedTypes[0] != "walk" {
		t.Errorf("Sync.ExcludedTypes = %v, want [walk]", cfg.Sync.ExcludedTypes)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	// Providers are disabled until configured
	if cfg.Strava.Enabled() || cfg.Coros.Enabled() {
		t.Error("providers should be disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRAINER_STRAVA_CLIENT_ID", "12345")
	t.Setenv("TRAINER_SYNC_PAGE_SIZE", "50")
	t.Setenv("TRAINER_DATABASE_DRIVER", "Postgres")
	t.Setenv("TRAINER_KAFKA_BROKERS", "kafka-1:9092 kafka-2:9092")

	cfg := Load(NewViper())

	if cfg.Strava.ClientID != "12345" {
		t.Errorf("Strava.ClientID = %q, want %q", cfg.Strava.ClientID, "12345")
	}
	if cfg.Sync.PageSize != 50 {
		t.Errorf("Sync.PageSize = %d, want 50", cfg.Sync.PageSize)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v, want two brokers", cfg.Kafka.Brokers)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
strava:
  client_id: "12345"
  client_secret: abc123secret
  default_account: "777"
sync:
  max_pages: 5
  excluded_types: [walk, yoga]
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}
	cfg := Load(v)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Strava.DefaultAccount != "777" {
		t.Errorf("Strava.DefaultAccount = %q, want %q", cfg.Strava.DefaultAccount, "777")
	}
	if cfg.Sync.MaxPages != 5 {
		t.Errorf("Sync.MaxPages = %d, want 5", cfg.Sync.MaxPages)
	}
	if len(cfg.Sync.ExcludedTypes) != 2 {
		t.Errorf("Sync.ExcludedTypes = %v, want two types", cfg.Sync.ExcludedTypes)
	}
	// untouched keys keep their defaults
	if cfg.Sync.PageSize != 200 {
		t.Errorf("Sync.PageSize = %d, want 200", cfg.Sync.PageSize)
	}
}

func validConfig() Config {
	cfg := *Load(NewViper())
	cfg.Strava = ProviderConfig{ClientID: "12345", ClientSecret: "abc123secret"}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:        "empty client ID",
			mutate:      func(c *Config) { c.Strava.ClientID = "" },
			errContains: "client_id",
		},
		{
			name:        "placeholder client ID",
			mutate:      func(c *Config) { c.Strava.ClientID = "YOUR_CLIENT_ID" },
			errContains: "client_id",
		},
		{
			name:        "empty client secret",
			mutate:      func(c *Config) { c.Strava.ClientSecret = "" },
			errContains: "client_secret",
		},
		{
			name:        "placeholder client secret",
			mutate:      func(c *Config) { c.Strava.ClientSecret = "YOUR_CLIENT_SECRET" },
			errContains: "client_secret",
		},
		{
			name: "both placeholders",
			mutate: func(c *Config) {
				c.Strava = ProviderConfig{ClientID: "YOUR_CLIENT_ID", ClientSecret: "YOUR_CLIENT_SECRET"}
			},
			errContains: "client_id", // first error wins
		},
		{
			name: "coros without token url",
			mutate: func(c *Config) {
				c.Coros = ProviderConfig{ClientID: "c1", ClientSecret: "s1"}
			},
			errContains: "coros.token_url",
		},
		{
			name:        "sync provider not enabled",
			mutate:      func(c *Config) { c.Sync.Provider = "coros" },
			errContains: "no client_id",
		},
		{
			name:        "unknown sync provider",
			mutate:      func(c *Config) { c.Sync.Provider = "garmin" },
			errContains: "sync.provider",
		},
		{
			name:        "unknown driver",
			mutate:      func(c *Config) { c.Database.Driver = "mysql" },
			errContains: "database.driver",
		},
		{
			name:        "postgres without url",
			mutate:      func(c *Config) { c.Database.Driver = "postgres" },
			errContains: "database.url",
		},
		{
			name:        "page size too large",
			mutate:      func(c *Config) { c.Sync.PageSize = 500 },
			errContains: "sync.page_size",
		},
		{
			name:        "max pages above ceiling",
			mutate:      func(c *Config) { c.Sync.MaxPages = 51 },
			errContains: "sync.max_pages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Error("expected error, got nil")
			} else if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q should contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestCreateExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := CreateExample(path); err != nil {
		t.Fatalf("CreateExample failed: %v", err)
	}

	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("reading example: %v", err)
	}
	cfg := Load(v)
	if cfg.Strava.ClientID != "YOUR_CLIENT_ID" {
		t.Errorf("Strava.ClientID = %q, want placeholder", cfg.Strava.ClientID)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("example config should not validate")
	}

	// an existing file is left alone
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := CreateExample(path); err != nil {
		t.Fatalf("CreateExample failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "debug") {
		t.Error("existing config was overwritten")
	}
}
