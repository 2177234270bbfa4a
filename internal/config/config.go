// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageBackend selects which StorageAdapter implementation the
// orchestrator is constructed with.
type StorageBackend string

const (
	BackendPostgres StorageBackend = "postgres"
	BackendGORM     StorageBackend = "gorm"
	BackendCSV      StorageBackend = "csv"
	// BackendNone disables persistence; fetched responses are returned to
	// the caller only. Used by ad-hoc fetches.
	BackendNone StorageBackend = "none"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Auth        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Harvest     HarvestConfig     `mapstructure:"harvest" yaml:"harvest"`
}

// LoggerConfig holds settings for the zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to console colors.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// CredentialsConfig carries the portal login identity. Both fields are
// required for any command that authenticates; they are normally supplied
// through QUALER_EMAIL and QUALER_PASSWORD rather than the config file.
type CredentialsConfig struct {
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"password"`
}

// AuthConfig tunes the login flow.
type AuthConfig struct {
	// BaseURL is the portal origin, e.g. https://jgiquality.qualer.com.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// LoginWait bounds the poll loop that waits for the post-login redirect.
	LoginWait time.Duration `mapstructure:"login_wait" yaml:"login_wait"`
	// LoginPollInterval is the delay between readiness probes.
	LoginPollInterval time.Duration `mapstructure:"login_poll_interval" yaml:"login_poll_interval"`
}

// BrowserConfig translates into chromedp allocator options.
type BrowserConfig struct {
	Headless  bool     `mapstructure:"headless" yaml:"headless"`
	NoSandbox bool     `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	Args      []string `mapstructure:"args" yaml:"args"`
	// NavigationTimeout bounds fallback navigations to auth context pages.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// NetworkConfig tunes the headless HTTP client.
type NetworkConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend StorageBackend `mapstructure:"backend" yaml:"backend"`
	// DatabaseURL is required for the postgres and gorm backends.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	// CSVDir is the output directory for the csv backend.
	CSVDir string `mapstructure:"csv_dir" yaml:"csv_dir"`
}

// HarvestConfig tunes bulk runs.
type HarvestConfig struct {
	// RateLimit is the maximum request rate against the portal, in
	// requests per second. Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	// Schedule is an optional cron expression for recurring harvests.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "qualer-harvester")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Auth --
	v.SetDefault("auth.base_url", "https://jgiquality.qualer.com")
	v.SetDefault("auth.login_wait", "30s")
	v.SetDefault("auth.login_poll_interval", "250ms")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.navigation_timeout", "45s")

	// -- Network --
	v.SetDefault("network.request_timeout", "30s")

	// -- Storage --
	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.csv_dir", "data/responses")

	// -- Harvest --
	v.SetDefault("harvest.rate_limit", 2.0)
	v.SetDefault("harvest.schedule", "")
}

// NewDefaultConfig creates a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// BindEnv wires the sensitive and commonly overridden keys to their
// environment variables. AutomaticEnv with the QUALER prefix covers the
// rest; these names predate the prefix scheme and are kept stable.
func BindEnv(v *viper.Viper) {
	v.BindEnv("credentials.email", "QUALER_EMAIL")
	v.BindEnv("credentials.password", "QUALER_PASSWORD")
	v.BindEnv("storage.database_url", "QUALER_DATABASE_URL")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Auth.BaseURL == "" {
		return fmt.Errorf("auth.base_url is a required configuration field")
	}
	if !strings.HasPrefix(c.Auth.BaseURL, "http://") && !strings.HasPrefix(c.Auth.BaseURL, "https://") {
		return fmt.Errorf("auth.base_url must be an absolute http(s) origin, got %q", c.Auth.BaseURL)
	}
	if c.Auth.LoginWait <= 0 {
		return fmt.Errorf("auth.login_wait must be a positive duration")
	}
	if c.Auth.LoginPollInterval <= 0 {
		return fmt.Errorf("auth.login_poll_interval must be a positive duration")
	}
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("network.request_timeout must be a positive duration")
	}
	switch c.Storage.Backend {
	case BackendPostgres, BackendGORM:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the %s backend (hint: set QUALER_DATABASE_URL)", c.Storage.Backend)
		}
	case BackendCSV:
		if c.Storage.CSVDir == "" {
			return fmt.Errorf("storage.csv_dir is required for the csv backend")
		}
	case BackendNone:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Harvest.RateLimit < 0 {
		return fmt.Errorf("harvest.rate_limit must not be negative")
	}
	return nil
}
