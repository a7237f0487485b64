// Package pipeline orchestrates one automation run: fetch all enabled
// sources, deduplicate into story clusters, select a balanced publish
// set, persist it, and anchor each article's content hash.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/truescope/truescope/internal/anchor"
	"github.com/truescope/truescope/internal/balance"
	"github.com/truescope/truescope/internal/config"
	"github.com/truescope/truescope/internal/dedupe"
	"github.com/truescope/truescope/internal/source"
	"github.com/truescope/truescope/internal/store"
)

// ErrRunInProgress is returned when RunOnce is invoked while another
// run is active. It reports an existing run, not a failure.
var ErrRunInProgress = errors.New("automation run already in progress")

// RunStatus is the lifecycle state of an automation run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// SourceError captures one source's fetch failure inside a run summary.
type SourceError struct {
	SourceID string `json:"source_id"`
	Message  string `json:"message"`
}

// Run is the summary of one pipeline execution.
type Run struct {
	ID                string        `json:"id"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at,omitzero"`
	Status            RunStatus     `json:"status"`
	SourcesAttempted  int           `json:"sources_attempted"`
	SourcesFailed     int           `json:"sources_failed"`
	ArticlesProcessed int           `json:"articles_processed"`
	ArticlesSelected  int           `json:"articles_selected"`
	SourceErrors      []SourceError `json:"source_errors,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// Duration returns the run's wall time.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status is the controller's report for the status endpoint.
type Status struct {
	IsRunning       bool      `json:"is_running"`
	LastRun         *Run      `json:"last_run,omitempty"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitzero"`
}

// Health is the reachability report for the health endpoint.
type Health struct {
	SourcesReachable bool `json:"sources_reachable"`
	StoreReachable   bool `json:"store_reachable"`
	AnchorReachable  bool `json:"anchor_reachable"`
}

// historySize is how many finished runs the controller retains for
// status reporting.
const historySize = 20

// Controller owns the run lock and drives the pipeline sequence. At
// most one run executes at a time system-wide.
type Controller struct {
	catalog  *source.Catalog
	fetcher  *source.Fetcher
	store    *store.Store
	anchorer *anchor.Anchorer // nil when anchoring is disabled
	policy   config.BalanceConfig
	logger   *slog.Logger

	// runMu is the system-wide run lock, held for the full duration of
	// a run and released on every exit path.
	runMu sync.Mutex

	// stateMu guards the fields below.
	stateMu  sync.Mutex
	active   *Run
	history  []Run
	nextFire func() time.Time
}

// NewController wires the pipeline components. anchorer may be nil.
func NewController(catalog *source.Catalog, fetcher *source.Fetcher, st *store.Store,
	anchorer *anchor.Anchorer, policy config.BalanceConfig) *Controller {
	return &Controller{
		catalog:  catalog,
		fetcher:  fetcher,
		store:    st,
		anchorer: anchorer,
		policy:   policy,
		logger:   slog.Default(),
	}
}

// SetNextFireFunc lets the scheduler expose its next trigger time to
// status reporting.
func (c *Controller) SetNextFireFunc(fn func() time.Time) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.nextFire = fn
}

// RunOnce performs one full pipeline pass. A concurrent invocation
// while a run is active returns a snapshot of the in-progress run with
// ErrRunInProgress instead of starting a second one.
func (c *Controller) RunOnce(ctx context.Context) (*Run, error) {
	if !c.runMu.TryLock() {
		c.stateMu.Lock()
		snapshot := c.active
		c.stateMu.Unlock()
		if snapshot != nil {
			snap := *snapshot
			return &snap, ErrRunInProgress
		}
		return nil, ErrRunInProgress
	}
	defer c.runMu.Unlock()

	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
	}
	c.stateMu.Lock()
	c.active = run
	c.stateMu.Unlock()

	c.logger.Info("automation run started", "run", run.ID)
	err := c.execute(ctx, run)
	c.finalize(run, err)
	if err != nil {
		return run, err
	}
	return run, nil
}

// execute runs the pipeline stages, mutating the run summary. A panic
// escaping a stage is converted to a run-fatal error so the run lock is
// always released and the run finalized.
func (c *Controller) execute(ctx context.Context, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	sources := c.catalog.Enabled()
	run.SourcesAttempted = len(sources)
	if len(sources) == 0 {
		return fmt.Errorf("no enabled sources")
	}

	// Fetch all sources in parallel; failures are per-source.
	results := c.fetcher.FetchAll(ctx, sources)
	var candidates []source.Article
	for _, res := range results {
		if res.Err != nil {
			run.SourcesFailed++
			run.SourceErrors = append(run.SourceErrors, SourceError{
				SourceID: res.Source.ID,
				Message:  res.Err.Error(),
			})
			continue
		}
		candidates = append(candidates, res.Articles...)
	}
	run.ArticlesProcessed = len(candidates)
	if run.SourcesFailed == run.SourcesAttempted {
		return fmt.Errorf("all %d sources failed", run.SourcesAttempted)
	}

	// Dedupe, then select under the fairness policy.
	clusters := dedupe.Cluster(candidates, c.policy.SimilarityThreshold)
	selected := balance.Select(clusters, c.policy.MaxArticles, c.policy.ExclusiveBiasCap)
	run.ArticlesSelected = len(selected)
	c.logger.Info("selection complete", "run", run.ID,
		"candidates", len(candidates), "clusters", len(clusters), "selected", len(selected))

	// Persist. A store failure here is fatal: no partial publication.
	batch := make([]store.PublishedArticle, 0, len(selected))
	for _, cluster := range selected {
		rep := cluster.Representative()
		batch = append(batch, store.PublishedArticle{
			SourceID:    rep.SourceID,
			SourceBias:  rep.SourceBias,
			Title:       rep.Title,
			Content:     rep.Body,
			ExternalURL: rep.ExternalURL,
			PublishedAt: rep.PublishedAt,
			ContentHash: anchor.ContentHash(rep.Title, rep.Body, rep.PublishedAt),
		})
	}
	inserted, err := c.store.SaveArticles(ctx, batch)
	if err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}

	// Anchor. Ledger failure is non-fatal; FAILED entries are swept on
	// the next run.
	if c.anchorer != nil {
		for _, art := range inserted {
			if _, err := c.anchorer.AnchorArticle(ctx, art); err != nil {
				c.logger.Warn("anchor bookkeeping failed", "run", run.ID, "article", art.ID, "error", err)
			}
		}
		if retried, anchored, err := c.anchorer.RetryFailed(ctx); err != nil {
			c.logger.Warn("anchor retry sweep failed", "run", run.ID, "error", err)
		} else if retried > 0 {
			c.logger.Info("anchor retry sweep", "run", run.ID, "retried", retried, "anchored", anchored)
		}
	}

	return nil
}

// finalize stamps the run's terminal state and rotates it into the
// retained history.
func (c *Controller) finalize(run *Run, err error) {
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		c.logger.Error("automation run failed", "run", run.ID, "error", err, "duration", run.Duration())
	} else {
		run.Status = RunSucceeded
		c.logger.Info("automation run finished", "run", run.ID,
			"sources_failed", run.SourcesFailed, "selected", run.ArticlesSelected, "duration", run.Duration())
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.active = nil
	c.history = append(c.history, *run)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
}

// Status reports whether a run is active, the most recent run, and the
// next scheduled trigger.
func (c *Controller) Status() Status {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	st := Status{IsRunning: c.active != nil}
	if c.active != nil {
		snap := *c.active
		st.LastRun = &snap
	} else if n := len(c.history); n > 0 {
		snap := c.history[n-1]
		st.LastRun = &snap
	}
	if c.nextFire != nil {
		st.NextScheduledAt = c.nextFire()
	}
	return st
}

// History returns the retained run summaries, oldest first.
func (c *Controller) History() []Run {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]Run, len(c.history))
	copy(out, c.history)
	return out
}

// HealthCheck probes the pipeline's collaborators. It is read-only and
// safe to call in any scheduler state.
func (c *Controller) HealthCheck(ctx context.Context) Health {
	var h Health

	if enabled := c.catalog.Enabled(); len(enabled) > 0 {
		h.SourcesReachable = c.fetcher.Probe(ctx, enabled[0]) == nil
	}
	h.StoreReachable = c.store.Ping(ctx) == nil
	if c.anchorer != nil {
		h.AnchorReachable = c.anchorer.Ping(ctx) == nil
	}
	return h
}
