// Package digest composes and dispatches the periodic subscriber email
// built from newly published articles.
package digest

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/truescope/truescope/internal/source"
	"github.com/truescope/truescope/internal/store"
	"github.com/truescope/truescope/pkg/notify"
)

// CampaignID derives the campaign key from a time's UTC calendar day.
// One successfully sent campaign may exist per window.
func CampaignID(t time.Time) string {
	return "digest-" + t.UTC().Format("2006-01-02")
}

// Composer builds a digest draft for a campaign window.
type Composer struct {
	store     *store.Store
	subject   string
	converter *md.Converter
	logger    *slog.Logger
}

// NewComposer creates a digest composer.
func NewComposer(st *store.Store, subject string) *Composer {
	return &Composer{
		store:     st,
		subject:   subject,
		converter: md.NewConverter("", true, nil),
		logger:    slog.Default(),
	}
}

// Compose drafts the campaign for the current window from articles
// published since the given timestamp. The draft is not yet sent.
func (c *Composer) Compose(ctx context.Context, since time.Time) (*store.Campaign, notify.Message, error) {
	articles, err := c.store.GetRecentPublished(ctx, since)
	if err != nil {
		return nil, notify.Message{}, fmt.Errorf("load recent articles: %w", err)
	}

	campaign := &store.Campaign{ID: CampaignID(time.Now())}
	for _, a := range articles {
		campaign.ArticleIDs = append(campaign.ArticleIDs, a.ID)
	}
	if len(articles) == 0 {
		return campaign, notify.Message{}, nil
	}

	htmlBody := c.buildHTML(articles)
	plain, err := c.converter.ConvertString(htmlBody)
	if err != nil {
		c.logger.Warn("markdown conversion failed, using titles only", "error", err)
		plain = buildFallbackBody(articles)
	}

	msg := notify.Message{
		Title:    fmt.Sprintf("%s — %s", c.subject, time.Now().UTC().Format("2006-01-02")),
		Body:     plain,
		HTMLBody: htmlBody,
		Format:   "html",
	}
	return campaign, msg, nil
}

func (c *Composer) buildHTML(articles []store.PublishedArticle) string {
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;background:#1a1a2e;color:#e0e0e0;padding:20px;">`)
	sb.WriteString(`<h2 style="color:#eee;">Balanced News Digest</h2>`)
	sb.WriteString(fmt.Sprintf(`<p style="color:#aaa;">%d stories selected across the spectrum</p><hr style="border-color:#333;">`, len(articles)))

	for _, a := range articles {
		summary := truncateSummary(a.Content, 300)
		sb.WriteString(`<div style="background:#16213e;border-radius:8px;padding:16px;margin:12px 0;">`)
		sb.WriteString(fmt.Sprintf(`<span style="background:%s;color:#fff;padding:2px 8px;border-radius:4px;font-size:12px;">%s</span>`,
			biasBadgeColor(a.SourceBias), a.SourceBias))
		if a.AnchorStatus == store.AnchorAnchored {
			sb.WriteString(`<span style="color:#4caf50;font-size:12px;margin-left:8px;">verified on ledger</span>`)
		}
		sb.WriteString(fmt.Sprintf(`<h3 style="color:#eee;margin:8px 0 4px;"><a href="%s" style="color:#64b5f6;text-decoration:none;">%s</a></h3>`,
			a.ExternalURL, html.EscapeString(a.Title)))
		sb.WriteString(fmt.Sprintf(`<p style="color:#ccc;font-size:14px;">%s</p>`, html.EscapeString(summary)))
		sb.WriteString(`</div>`)
	}

	sb.WriteString(`</body></html>`)
	return sb.String()
}

// truncateSummary cuts s to at most limit bytes, backing up to a rune
// boundary so the result stays valid UTF-8.
func truncateSummary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func buildFallbackBody(articles []store.PublishedArticle) string {
	var sb strings.Builder
	for _, a := range articles {
		sb.WriteString(fmt.Sprintf("[%s] %s\n%s\n\n", a.SourceBias, a.Title, a.ExternalURL))
	}
	return sb.String()
}

func biasBadgeColor(b source.Bias) string {
	switch b {
	case source.BiasLeft:
		return "#1e6fd9"
	case source.BiasRight:
		return "#d93025"
	case source.BiasCenter:
		return "#607d8b"
	default:
		return "#444"
	}
}
