package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/truescope/truescope/internal/store"
)

// articleStore is the slice of persistence the anchorer needs.
type articleStore interface {
	UpdateAnchorStatus(ctx context.Context, id int64, status store.AnchorStatus, txID string) error
	GetByAnchorStatus(ctx context.Context, status store.AnchorStatus) ([]store.PublishedArticle, error)
}

// Anchorer drives articles through the anchoring state machine:
// UNANCHORED -> PENDING -> ANCHORED or FAILED, with FAILED retryable on
// a later sweep. ANCHORED is terminal; re-anchoring an anchored article
// never reaches the ledger.
type Anchorer struct {
	ledger     Ledger
	store      articleStore
	maxRetries uint64
	logger     *slog.Logger
}

// NewAnchorer creates an anchorer using the given ledger capability.
func NewAnchorer(ledger Ledger, st articleStore, maxRetries int) *Anchorer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Anchorer{
		ledger:     ledger,
		store:      st,
		maxRetries: uint64(maxRetries),
		logger:     slog.Default(),
	}
}

// AnchorArticle anchors one article's content hash. The returned status
// is the article's final anchor state. Ledger failure is reported in
// the status, not as an error: anchoring is non-fatal to publication.
func (a *Anchorer) AnchorArticle(ctx context.Context, art store.PublishedArticle) (store.AnchorStatus, error) {
	if art.AnchorStatus == store.AnchorAnchored {
		a.logger.Debug("article already anchored", "article", art.ID, "tx", art.TransactionID)
		return store.AnchorAnchored, nil
	}
	if art.ContentHash == "" {
		return art.AnchorStatus, fmt.Errorf("article %d has no content hash", art.ID)
	}

	if err := a.store.UpdateAnchorStatus(ctx, art.ID, store.AnchorPending, ""); err != nil {
		return art.AnchorStatus, err
	}

	receipt, err := a.anchorWithRetry(ctx, art.ContentHash)
	if err != nil {
		a.logger.Warn("anchoring failed", "article", art.ID, "error", err)
		if err := a.store.UpdateAnchorStatus(ctx, art.ID, store.AnchorFailed, ""); err != nil {
			return store.AnchorFailed, err
		}
		return store.AnchorFailed, nil
	}

	if err := a.store.UpdateAnchorStatus(ctx, art.ID, store.AnchorAnchored, receipt.TransactionID); err != nil {
		return store.AnchorPending, err
	}
	a.logger.Info("article anchored", "article", art.ID, "tx", receipt.TransactionID)
	return store.AnchorAnchored, nil
}

// anchorWithRetry calls the ledger, retrying transient failures with
// exponential backoff up to the configured attempt budget.
func (a *Anchorer) anchorWithRetry(ctx context.Context, hash string) (Receipt, error) {
	var receipt Receipt
	op := func() error {
		r, err := a.ledger.Anchor(ctx, hash)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		receipt = r
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Receipt{}, err
	}
	if receipt.TransactionID == "" {
		return Receipt{}, fmt.Errorf("ledger returned empty transaction id")
	}
	return receipt, nil
}

// RetryFailed sweeps FAILED articles and re-attempts anchoring.
func (a *Anchorer) RetryFailed(ctx context.Context) (retried, anchored int, err error) {
	failed, err := a.store.GetByAnchorStatus(ctx, store.AnchorFailed)
	if err != nil {
		return 0, 0, fmt.Errorf("load failed anchors: %w", err)
	}
	for _, art := range failed {
		status, err := a.AnchorArticle(ctx, art)
		if err != nil {
			return retried, anchored, err
		}
		retried++
		if status == store.AnchorAnchored {
			anchored++
		}
	}
	return retried, anchored, nil
}

// Ping reports ledger reachability for health checks.
func (a *Anchorer) Ping(ctx context.Context) error {
	return a.ledger.Ping(ctx)
}
