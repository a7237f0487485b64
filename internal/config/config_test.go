package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "truescope.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Server.Port != def.Server.Port {
		t.Fatalf("expected default port %s, got %s", def.Server.Port, cfg.Server.Port)
	}
	if cfg.Balance.MaxArticles != def.Balance.MaxArticles {
		t.Fatalf("expected default max articles %d, got %d", def.Balance.MaxArticles, cfg.Balance.MaxArticles)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
balance:
  max_articles: 5
  similarity_threshold: 0.8
sources:
  - id: left-1
    name: Left Wire
    feed_url: https://example.com/left.rss
    bias: LEFT
    enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Balance.MaxArticles != 5 || cfg.Balance.SimilarityThreshold != 0.8 {
		t.Fatalf("unexpected balance config: %+v", cfg.Balance)
	}
	// Untouched sections keep their defaults.
	if cfg.Balance.ExclusiveBiasCap != Default().Balance.ExclusiveBiasCap {
		t.Fatalf("expected default cap, got %g", cfg.Balance.ExclusiveBiasCap)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "left-1" {
		t.Fatalf("unexpected sources: %+v", cfg.Sources)
	}
}

func TestLoad_EnvTagOverride(t *testing.T) {
	t.Setenv("TRUESCOPE_PORT", "7070")
	t.Setenv("TRUESCOPE_MAX_ARTICLES", "3")

	path := writeConfig(t, `
server:
  port: "9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("env override lost: got port %s", cfg.Server.Port)
	}
	if cfg.Balance.MaxArticles != 3 {
		t.Fatalf("env override lost: got max articles %d", cfg.Balance.MaxArticles)
	}
}

func TestLoad_ExpandsEnvInYAML(t *testing.T) {
	t.Setenv("TEST_CRON_SECRET", "s3cret")
	path := writeConfig(t, `
server:
  cron_secret: ${TEST_CRON_SECRET}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.CronSecret != "s3cret" {
		t.Fatalf("expected expanded secret, got %q", cfg.Server.CronSecret)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max articles", func(c *Config) { c.Balance.MaxArticles = 0 }},
		{"threshold above one", func(c *Config) { c.Balance.SimilarityThreshold = 1.5 }},
		{"zero cap", func(c *Config) { c.Balance.ExclusiveBiasCap = 0 }},
		{"zero fetch timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }},
		{"zero batch size", func(c *Config) { c.Digest.BatchSize = 0 }},
		{"source without id", func(c *Config) {
			c.Sources = []SourceConfig{{Name: "x", FeedURL: "https://example.com/f", Bias: "LEFT"}}
		}},
		{"duplicate source id", func(c *Config) {
			c.Sources = []SourceConfig{
				{ID: "a", FeedURL: "https://example.com/1", Bias: "LEFT"},
				{ID: "a", FeedURL: "https://example.com/2", Bias: "RIGHT"},
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_DefaultsPass(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}
