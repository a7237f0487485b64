// Package source defines the feed source catalog and the concurrent
// fetcher that turns enabled sources into candidate articles.
package source

import (
	"fmt"
	"time"

	"github.com/truescope/truescope/internal/config"
)

// Bias is the editorial-leaning label attached to a source.
type Bias string

const (
	BiasLeft   Bias = "LEFT"
	BiasRight  Bias = "RIGHT"
	BiasCenter Bias = "CENTER"
)

// ParseBias validates a bias label from configuration.
func ParseBias(s string) (Bias, error) {
	switch Bias(s) {
	case BiasLeft, BiasRight, BiasCenter:
		return Bias(s), nil
	}
	return "", fmt.Errorf("unknown bias label %q (want LEFT, RIGHT, or CENTER)", s)
}

// Source is one feed in the catalog. Immutable after load.
type Source struct {
	ID      string
	Name    string
	FeedURL string
	Bias    Bias
	Enabled bool
}

// Article is a candidate article produced by the fetcher. Candidates are
// run-local: they are consumed by deduplication and selection and never
// persisted directly.
type Article struct {
	SourceID    string
	SourceBias  Bias
	Title       string
	Body        string
	ExternalURL string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// Catalog owns the configured sources.
type Catalog struct {
	sources []Source
}

// NewCatalog builds the catalog from configuration, validating bias
// labels. Duplicate ids are rejected.
func NewCatalog(cfgs []config.SourceConfig) (*Catalog, error) {
	c := &Catalog{sources: make([]Source, 0, len(cfgs))}
	seen := make(map[string]bool, len(cfgs))
	for _, sc := range cfgs {
		bias, err := ParseBias(sc.Bias)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.ID, err)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("duplicate source id %q", sc.ID)
		}
		seen[sc.ID] = true
		c.sources = append(c.sources, Source{
			ID:      sc.ID,
			Name:    sc.Name,
			FeedURL: sc.FeedURL,
			Bias:    bias,
			Enabled: sc.Enabled,
		})
	}
	return c, nil
}

// All returns every configured source.
func (c *Catalog) All() []Source {
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// Enabled returns the sources eligible for fetching.
func (c *Catalog) Enabled() []Source {
	var out []Source
	for _, s := range c.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
