package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadService string `envconfig:"DOWNLOAD_SERVICE" default:"local"`

	DownloadBucketURL string `envconfig:"DOWNLOAD_BUCKET_URL" default:"file:///downloads"`

	PutioToken         string        `envconfig:"PUTIO_TOKEN"`
	PutioParentID      int64         `envconfig:"PUTIO_PARENT_ID" default:"0"`
	PutioWatchInterval time.Duration `envconfig:"PUTIO_WATCH_INTERVAL" default:"5s"`

	RequestProfile    string            `envconfig:"REQUEST_PROFILE"`
	PollInterval      time.Duration     `envconfig:"POLL_INTERVAL" default:"250ms"`
	OpenOnComplete    bool              `envconfig:"OPEN_ON_COMPLETE" default:"true"`
	OpenHandlers      map[string]string `envconfig:"OPEN_HANDLERS" default:"*:xdg-open"`
	KeepDownloadedFor time.Duration     `envconfig:"KEEP_DOWNLOADED_FOR" default:"168h"`
	CleanupInterval   time.Duration     `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	LogLevel          string            `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string            `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string            `envconfig:"DB_PATH" default:"downloads.db"`
	TelemetryEnabled  bool              `envconfig:"TELEMETRY_ENABLED" default:"true"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
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

	switch cfg.DownloadService {
	case "local", "putio":
	default:
		return nil, fmt.Errorf("invalid download service: %s", cfg.DownloadService)
	}

	if _, err := url.Parse(cfg.DownloadBucketURL); err != nil {
		return nil, fmt.Errorf("invalid download bucket url: %w", err)
	}

	if cfg.DownloadService == "putio" && cfg.PutioToken == "" {
		return nil, fmt.Errorf("PUTIO_TOKEN is required for the putio download service")
	}

	return &cfg, nil
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

// DownloadDir is the directory a file:// download bucket writes into. It is empty for other
// bucket schemes and for the putio service.
func (c *Config) DownloadDir() string {
	if c.DownloadService != "local" {
		return ""
	}

	u, err := url.Parse(c.DownloadBucketURL)
	if err != nil || u.Scheme != "file" {
		return ""
	}

	return u.Path
}
