package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// FetchResult is the per-source outcome of one fetch round. Either
// Articles or Err is set, never both.
type FetchResult struct {
	Source   Source
	Articles []Article
	Err      error
}

// Fetcher retrieves and parses feeds, isolating failure per source.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

// NewFetcher creates a fetcher with a bounded per-source timeout.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: userAgent,
		logger:    slog.Default(),
	}
}

// FetchAll fetches every source concurrently. A slow or failing source
// yields an errored FetchResult without blocking the others.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) []FetchResult {
	ch := make(chan FetchResult, len(sources))
	for _, s := range sources {
		go func(src Source) {
			articles, err := f.fetchOne(ctx, src)
			ch <- FetchResult{Source: src, Articles: articles, Err: err}
		}(s)
	}

	results := make([]FetchResult, 0, len(sources))
	for range sources {
		res := <-ch
		if res.Err != nil {
			f.logger.Warn("source fetch failed", "source", res.Source.ID, "error", res.Err)
		} else {
			f.logger.Info("source fetched", "source", res.Source.ID, "articles", len(res.Articles))
		}
		results = append(results, res)
	}
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) ([]Article, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("fetch %s: timeout after %s: %w", src.ID, f.timeout, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", src.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", src.ID, err)
	}

	articles, err := parseFeed(body, src, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.ID, err)
	}
	return articles, nil
}

// Probe issues a lightweight reachability check against one source,
// used by the health endpoint.
func (f *Fetcher) Probe(ctx context.Context, src Source) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, src.FeedURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", src.ID, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", src.ID, resp.StatusCode)
	}
	return nil
}
