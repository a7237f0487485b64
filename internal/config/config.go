// Package config loads TrueScope configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the TrueScope service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Balance   BalanceConfig   `yaml:"balance"`
	Anchor    AnchorConfig    `yaml:"anchor"`
	Digest    DigestConfig    `yaml:"digest"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Email     EmailConfig     `yaml:"email"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// ServerConfig holds HTTP server and auth settings.
type ServerConfig struct {
	Port string `yaml:"port" env:"TRUESCOPE_PORT"`
	// CronSecret is the shared bearer token the external cron presents
	// on the trigger endpoint.
	CronSecret string `yaml:"cron_secret" env:"TRUESCOPE_CRON_SECRET"`
	// JWTSecret signs admin tokens for the control endpoint.
	JWTSecret string `yaml:"jwt_secret" env:"TRUESCOPE_JWT_SECRET"`
	// AdminPasswordHash is a bcrypt hash checked by `truescope token`.
	AdminPasswordHash string `yaml:"admin_password_hash" env:"TRUESCOPE_ADMIN_HASH"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `yaml:"path" env:"TRUESCOPE_DB"`
}

// FetchConfig controls per-source feed fetching.
type FetchConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TRUESCOPE_FETCH_TIMEOUT"`
	UserAgent      string `yaml:"user_agent"`
}

// Timeout returns the per-source fetch timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// BalanceConfig holds the deduplication and selection policy knobs.
type BalanceConfig struct {
	// MaxArticles is the publication budget per automation run.
	MaxArticles int `yaml:"max_articles" env:"TRUESCOPE_MAX_ARTICLES"`
	// SimilarityThreshold is the Jaccard score at or above which two
	// titles are considered the same story.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// ExclusiveBiasCap bounds the share of the selected set that may be
	// sourced exclusively from any single bias label.
	ExclusiveBiasCap float64 `yaml:"exclusive_bias_cap"`
}

// AnchorConfig controls ledger anchoring.
type AnchorConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxRetries    int  `yaml:"max_retries"`
	MockLatencyMS int  `yaml:"mock_latency_ms"`
}

// DigestConfig controls digest email dispatch.
type DigestConfig struct {
	Subject           string `yaml:"subject"`
	BatchSize         int    `yaml:"batch_size"`
	BatchPauseSeconds int    `yaml:"batch_pause_seconds"`
}

// BatchPause returns the pause between recipient batches.
func (d DigestConfig) BatchPause() time.Duration {
	return time.Duration(d.BatchPauseSeconds) * time.Second
}

// SchedulerConfig controls the automation cadence.
type SchedulerConfig struct {
	Enabled               bool `yaml:"enabled"`
	NewsIntervalMinutes   int  `yaml:"news_interval_minutes"`
	DigestIntervalMinutes int  `yaml:"digest_interval_minutes"`
}

// NewsInterval returns the pipeline run cadence.
func (s SchedulerConfig) NewsInterval() time.Duration {
	return time.Duration(s.NewsIntervalMinutes) * time.Minute
}

// DigestInterval returns the digest dispatch cadence.
func (s SchedulerConfig) DigestInterval() time.Duration {
	return time.Duration(s.DigestIntervalMinutes) * time.Minute
}

// EmailConfig holds SMTP settings for digest dispatch.
type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"smtp_port" env:"SMTP_PORT"`
	From     string `yaml:"from" env:"SMTP_FROM"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

// TelegramConfig holds the optional Telegram broadcast channel.
type TelegramConfig struct {
	BotToken  string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChannelID string `yaml:"channel_id" env:"TELEGRAM_CHANNEL_ID"`
}

// SourceConfig describes one feed source in the catalog.
type SourceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	FeedURL string `yaml:"feed_url"`
	Bias    string `yaml:"bias"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Store:  StoreConfig{Path: "truescope.db"},
		Fetch: FetchConfig{
			TimeoutSeconds: 10,
			UserAgent:      "TrueScope/1.0",
		},
		Balance: BalanceConfig{
			MaxArticles:         12,
			SimilarityThreshold: 0.6,
			ExclusiveBiasCap:    0.4,
		},
		Anchor: AnchorConfig{
			Enabled:    true,
			MaxRetries: 3,
		},
		Digest: DigestConfig{
			Subject:           "TrueScope Daily Digest",
			BatchSize:         25,
			BatchPauseSeconds: 2,
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			NewsIntervalMinutes:   60,
			DigestIntervalMinutes: 1440,
		},
	}
}

// Load reads configuration from path, expands environment variables in
// the YAML, applies env-tag overrides, and validates the result. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that YAML parsing cannot.
func (c Config) Validate() error {
	if c.Balance.MaxArticles <= 0 {
		return fmt.Errorf("balance.max_articles must be positive, got %d", c.Balance.MaxArticles)
	}
	if c.Balance.SimilarityThreshold <= 0 || c.Balance.SimilarityThreshold > 1 {
		return fmt.Errorf("balance.similarity_threshold must be in (0,1], got %g", c.Balance.SimilarityThreshold)
	}
	if c.Balance.ExclusiveBiasCap <= 0 || c.Balance.ExclusiveBiasCap > 1 {
		return fmt.Errorf("balance.exclusive_bias_cap must be in (0,1], got %g", c.Balance.ExclusiveBiasCap)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Digest.BatchSize <= 0 {
		return fmt.Errorf("digest.batch_size must be positive, got %d", c.Digest.BatchSize)
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" || s.FeedURL == "" {
			return fmt.Errorf("source %q: id and feed_url are required", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// applyEnvOverrides sets struct fields from environment variables using
// the `env` struct tag, recursing into nested structs.
func applyEnvOverrides(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := val.Field(i)

		if fieldVal.Kind() == reflect.Struct {
			if fieldVal.CanAddr() {
				applyEnvOverrides(fieldVal.Addr().Interface())
			}
			continue
		}

		envTag := field.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envVal, ok := os.LookupEnv(envTag)
		if !ok || !fieldVal.CanSet() {
			continue
		}

		switch fieldVal.Kind() {
		case reflect.String:
			fieldVal.SetString(envVal)
		case reflect.Int, reflect.Int64:
			var n int64
			if _, err := fmt.Sscanf(envVal, "%d", &n); err == nil {
				fieldVal.SetInt(n)
			}
		case reflect.Float64:
			var f float64
			if _, err := fmt.Sscanf(envVal, "%f", &f); err == nil {
				fieldVal.SetFloat(f)
			}
		case reflect.Bool:
			fieldVal.SetBool(strings.EqualFold(envVal, "true") || envVal == "1")
		}
	}
}
