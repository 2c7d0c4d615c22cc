// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs run-wide crawl behavior.
type CrawlerConfig struct {
	Workers               int    `mapstructure:"workers"`
	DownloadDir           string `mapstructure:"download_dir"`
	FetchTimeoutSeconds   int    `mapstructure:"fetch_timeout_seconds"`
	MaxBodyBytes          int    `mapstructure:"max_body_bytes"`
	StatusPollSeconds     int    `mapstructure:"status_poll_seconds"`
	SchedulerIntervalSecs int    `mapstructure:"scheduler_interval_seconds"`
}

// DBConfig selects and configures the persistence backend.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinOpenConns int    `mapstructure:"min_open_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BREACHWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.workers", 8)
	v.SetDefault("crawler.download_dir", "downloads")
	v.SetDefault("crawler.fetch_timeout_seconds", 15)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.status_poll_seconds", 5)
	v.SetDefault("crawler.scheduler_interval_seconds", 30)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.DownloadDir == "" {
		return fmt.Errorf("crawler.download_dir is required")
	}
	if c.Crawler.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("db.provider must be memory or postgres")
	}
	return nil
}

// FetchTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSeconds) * time.Second
}

// StatusPollInterval converts the configured poll interval into a duration.
func (c Config) StatusPollInterval() time.Duration {
	return time.Duration(c.Crawler.StatusPollSeconds) * time.Second
}

// SchedulerInterval converts the configured scheduler interval into a duration.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Crawler.SchedulerIntervalSecs) * time.Second
}
