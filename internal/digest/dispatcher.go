package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/truescope/truescope/internal/store"
	"github.com/truescope/truescope/pkg/notify"
)

// campaignStore is the slice of persistence the dispatcher needs.
type campaignStore interface {
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	MarkCampaignSent(ctx context.Context, c store.Campaign) error
	ActiveSubscribers(ctx context.Context) ([]store.Subscriber, error)
}

// Dispatcher sends digest campaigns to the subscriber list in paced
// batches, at most once per campaign window.
type Dispatcher struct {
	store     campaignStore
	mailer    notify.Mailer
	broadcast notify.Notifier // optional channel announcement
	batchSize int
	pause     time.Duration
	logger    *slog.Logger

	// mu serializes the check-send-mark sequence: the scheduler's digest
	// tick and a manual trigger-email action may overlap, and both must
	// observe the same window gate.
	mu sync.Mutex
}

// NewDispatcher creates a dispatcher. broadcast may be nil.
func NewDispatcher(st campaignStore, mailer notify.Mailer, broadcast notify.Notifier, batchSize int, pause time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Dispatcher{
		store:     st,
		mailer:    mailer,
		broadcast: broadcast,
		batchSize: batchSize,
		pause:     pause,
		logger:    slog.Default(),
	}
}

// Send dispatches the campaign. If a campaign for the same window was
// already sent, the prior result is returned untouched and no mail
// moves. Batch failures are recorded per recipient without aborting the
// remaining batches.
func (d *Dispatcher) Send(ctx context.Context, campaign *store.Campaign, msg notify.Message) (*store.Campaign, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior, err := d.store.GetCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("look up campaign %s: %w", campaign.ID, err)
	}
	if prior != nil {
		d.logger.Info("campaign already sent, skipping", "campaign", campaign.ID, "sent_at", prior.SentAt)
		return prior, nil
	}

	if len(campaign.ArticleIDs) == 0 {
		d.logger.Info("no new articles for campaign, nothing to send", "campaign", campaign.ID)
		return campaign, nil
	}

	subscribers, err := d.store.ActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	recipients := make([]string, 0, len(subscribers))
	for _, s := range subscribers {
		recipients = append(recipients, s.Email)
	}

	delivered := 0
	for start := 0; start < len(recipients); start += d.batchSize {
		end := min(start+d.batchSize, len(recipients))
		batch := recipients[start:end]

		for _, outcome := range d.mailer.SendBatch(ctx, batch, msg) {
			if outcome.Err != nil {
				d.logger.Error("digest delivery failed", "email", outcome.Email, "error", outcome.Err)
				campaign.Failures = append(campaign.Failures, outcome.Email)
				continue
			}
			delivered++
		}

		// Pace batches to respect the mail capability's throughput.
		if end < len(recipients) && d.pause > 0 {
			select {
			case <-time.After(d.pause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	campaign.RecipientCount = delivered
	campaign.SentAt = time.Now().UTC()
	if err := d.store.MarkCampaignSent(ctx, *campaign); err != nil {
		return nil, err
	}

	if d.broadcast != nil {
		if err := d.broadcast.Send(ctx, notify.Message{Title: msg.Title, Body: msg.Body, Format: "plain"}); err != nil {
			d.logger.Warn("digest broadcast failed", "channel", d.broadcast.Channel(), "error", err)
		}
	}

	d.logger.Info("campaign sent", "campaign", campaign.ID,
		"delivered", delivered, "failed", len(campaign.Failures), "articles", len(campaign.ArticleIDs))
	return campaign, nil
}
