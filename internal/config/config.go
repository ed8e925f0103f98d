package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "TRAINER"

	defaultHTTPAddress  = "127.0.0.1:8080"
	defaultLogLevel     = "info"
	defaultDriver       = "sqlite"
	defaultKafkaTopic   = "trainer.sync"
	defaultProvider     = "strava"
	defaultPageSize     = 200
	defaultMaxPages     = 50
	defaultSinceYears   = 2
	defaultLockTTL      = 30 * time.Minute
	defaultCronInterval = time.Hour
	defaultListTimeout  = 30 * time.Second
	defaultValidateTimeout = 15 * time.Second

	placeholderClientID     = "YOUR_CLIENT_ID"
	placeholderClientSecret = "YOUR_CLIENT_SECRET"
)

// Config represents the application configuration
type Config struct {
	Strava   ProviderConfig
	Coros    ProviderConfig
	Database DatabaseConfig
	Sync     SyncConfig
	HTTP     HTTPConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	LogLevel string
}

// ProviderConfig holds OAuth client settings for one provider.
// A provider without a client id is disabled.
type ProviderConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AuthURL        string
	TokenURL       string
	BaseURL        string
	DefaultAccount string
}

// Enabled reports whether the provider has a client id
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

// DatabaseConfig selects the activity store
type DatabaseConfig struct {
	Driver string // sqlite or postgres
	Path   string
	URL    string
}

// SyncConfig holds import defaults
type SyncConfig struct {
	Provider        string
	PageSize        int
	MaxPages        int
	SinceYears      int
	ListTimeout     time.Duration
	ValidateTimeout time.Duration
	ExcludedTypes   []string
	LockTTL         time.Duration
	CronInterval    time.Duration
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Address     string
	JWTSecret   string
	CORSOrigins []string
}

// RedisConfig enables the shared sync lock when Addr is set
type RedisConfig struct {
	Addr string
}

// KafkaConfig enables sync events when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := GetConfigDir(); err == nil {
		v.AddConfigPath(dir)
		v.SetDefault("database.path", filepath.Join(dir, "trainer.db"))
	} else {
		v.SetDefault("database.path", "trainer.db")
	}
	v.SetConfigName("config")

	v.SetDefault("database.driver", defaultDriver)
	v.SetDefault("http.address", defaultHTTPAddress)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("kafka.topic", defaultKafkaTopic)

	v.SetDefault("sync.provider", defaultProvider)
	v.SetDefault("sync.page_size", defaultPageSize)
	v.SetDefault("sync.max_pages", defaultMaxPages)
	v.SetDefault("sync.since_years", defaultSinceYears)
	v.SetDefault("sync.list_timeout", defaultListTimeout)
	v.SetDefault("sync.validate_timeout", defaultValidateTimeout)
	v.SetDefault("sync.excluded_types", []string{"walk"})
	v.SetDefault("sync.lock_ttl", defaultLockTTL)
	v.SetDefault("sync.cron_interval", defaultCronInterval)
}

// Load parses the configuration from v. It does not validate it.
func Load(v *viper.Viper) *Config {
	return &Config{
		Strava: loadProvider(v, "strava"),
		Coros:  loadProvider(v, "coros"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
			Path:   v.GetString("database.path"),
			URL:    v.GetString("database.url"),
		},
		Sync: SyncConfig{
			Provider:        strings.ToLower(strings.TrimSpace(v.GetString("sync.provider"))),
			PageSize:        v.GetInt("sync.page_size"),
			MaxPages:        v.GetInt("sync.max_pages"),
			SinceYears:      v.GetInt("sync.since_years"),
			ListTimeout:     v.GetDuration("sync.list_timeout"),
			ValidateTimeout: v.GetDuration("sync.validate_timeout"),
			ExcludedTypes:   v.GetStringSlice("sync.excluded_types"),
			LockTTL:         v.GetDuration("sync.lock_ttl"),
			CronInterval:    v.GetDuration("sync.cron_interval"),
		},
		HTTP: HTTPConfig{
			Address:     v.GetString("http.address"),
			JWTSecret:   v.GetString("http.jwt_secret"),
			CORSOrigins: v.GetStringSlice("http.cors_origins"),
		},
		Redis: RedisConfig{Addr: v.GetString("redis.addr")},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		LogLevel: v.GetString("log.level"),
	}
}

func loadProvider(v *viper.Viper, name string) ProviderConfig {
	return ProviderConfig{
		ClientID:       v.GetString(name + ".client_id"),
		ClientSecret:   v.GetString(name + ".client_secret"),
		RedirectURL:    v.GetString(name + ".redirect_url"),
		AuthURL:        v.GetString(name + ".auth_url"),
		TokenURL:       v.GetString(name + ".token_url"),
		BaseURL:        v.GetString(name + ".base_url"),
		DefaultAccount: v.GetString(name + ".default_account"),
	}
}

// Provider returns the settings for a provider name
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "strava":
		return c.Strava, true
	case "coros":
		return c.Coros, true
	default:
		return ProviderConfig{}, false
	}
}

// Validate checks if the config has required fields
func (c *Config) Validate() error {
	if !c.Strava.Enabled() && !c.Coros.Enabled() {
		return errors.New("strava.client_id is required - get it from https://www.strava.com/settings/api")
	}
	if c.Strava.Enabled() {
		if err := validateProvider("strava", c.Strava, "https://www.strava.com/settings/api"); err != nil {
			return err
		}
	}
	if c.Coros.Enabled() {
		if err := validateProvider("coros", c.Coros, "the COROS developer portal"); err != nil {
			return err
		}
		if strings.TrimSpace(c.Coros.TokenURL) == "" {
			return errors.New("coros.token_url is required")
		}
	}

	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", c.Database.Driver)
	}

	p, ok := c.Provider(c.Sync.Provider)
	if !ok {
		return fmt.Errorf("sync.provider must be \"strava\" or \"coros\", got %q", c.Sync.Provider)
	}
	if !p.Enabled() {
		return fmt.Errorf("sync.provider %q has no client_id configured", c.Sync.Provider)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 200 {
		return fmt.Errorf("sync.page_size must be between 1 and 200, got %d", c.Sync.PageSize)
	}
	if c.Sync.MaxPages < 0 || c.Sync.MaxPages > 50 {
		return fmt.Errorf("sync.max_pages must be between 0 and 50, got %d", c.Sync.MaxPages)
	}

	return nil
}

func validateProvider(name string, p ProviderConfig, help string) error {
	if p.ClientID == placeholderClientID {
		return fmt.Errorf("%s.client_id is required - get it from %s", name, help)
	}
	if p.ClientSecret == "" || p.ClientSecret == placeholderClientSecret {
		return fmt.Errorf("%s.client_secret is required - get it from %s", name, help)
	}
	return nil
}

// CreateExample writes an example config file to path if none exists
func CreateExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.Set("strava.client_id", placeholderClientID)
	v.Set("strava.client_secret", placeholderClientSecret)
	v.Set("sync.provider", defaultProvider)
	v.Set("sync.since_years", defaultSinceYears)
	v.Set("sync.excluded_types", []string{"walk"})
	v.Set("log.level", defaultLogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return os.Chmod(path, 0600)
}

// DefaultConfigPath returns the path of the default config file
func DefaultConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".trainer"), nil
}
