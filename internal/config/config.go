package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CatalogPath             string `envconfig:"CATALOG_PATH" default:"catalog.json"`
	BundleCatalogPath       string `envconfig:"BUNDLE_CATALOG_PATH" default:"bundles.json"`
	DownloadablesPath       string `envconfig:"DOWNLOADABLES_PATH" default:"downloadables.json"`
	DownloadablesConfigPath string `envconfig:"DOWNLOADABLES_CONFIG_PATH" default:"downloadables_config.json"`

	ContentDir        string        `envconfig:"CONTENT_DIR" required:"true"`
	TickInterval      time.Duration `envconfig:"TICK_INTERVAL" default:"100ms"`
	AutoCreateHandles bool          `envconfig:"AUTO_CREATE_HANDLES" default:"true"`
	TrackingEnabled   bool          `envconfig:"TRACKING_ENABLED" default:"true"`
	MaxParallelFiles  int           `envconfig:"MAX_PARALLEL_FILES" default:"4"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	KeepUnreferenced  time.Duration `envconfig:"KEEP_UNREFERENCED_FOR" default:"24h"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`

	Journal struct {
		Driver string `default:"sqlite"`
		Path   string `default:"journal.db"`
		DSN    string
		Buffer int `default:"256"`
	}

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"downloadables"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	API struct {
		Username string
		Password string
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ContentDir) == "" {
		return fmt.Errorf("CONTENT_DIR must not be empty")
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}

	if c.MaxParallelFiles < 1 {
		return fmt.Errorf("MAX_PARALLEL_FILES must be positive, got %d", c.MaxParallelFiles)
	}

	switch c.Journal.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("JOURNAL_DSN is required for the postgres journal")
		}
	default:
		return fmt.Errorf("invalid journal driver: %s", c.Journal.Driver)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
