package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/truescope/truescope/internal/source"
)

// AnchorStatus tracks an article's progress through ledger anchoring.
type AnchorStatus string

const (
	AnchorUnanchored AnchorStatus = "UNANCHORED"
	AnchorPending    AnchorStatus = "PENDING"
	AnchorAnchored   AnchorStatus = "ANCHORED"
	AnchorFailed     AnchorStatus = "FAILED"
)

// PublishedArticle is an article committed to the store. Articles are
// append-only: after insertion only the anchor fields and vote counters
// change.
type PublishedArticle struct {
	ID            int64        `json:"id"`
	SourceID      string       `json:"source_id"`
	SourceBias    source.Bias  `json:"source_bias"`
	Title         string       `json:"title"`
	Content       string       `json:"content"`
	ExternalURL   string       `json:"external_url"`
	PublishedAt   time.Time    `json:"published_at"`
	ContentHash   string       `json:"content_hash"`
	AnchorStatus  AnchorStatus `json:"anchor_status"`
	TransactionID string       `json:"transaction_id,omitempty"`
	VotesUp       int          `json:"votes_up"`
	VotesDown     int          `json:"votes_down"`
}

// Campaign is one digest send cycle, keyed by its time window.
type Campaign struct {
	ID             string    `json:"id"`
	SentAt         time.Time `json:"sent_at"`
	RecipientCount int       `json:"recipient_count"`
	ArticleIDs     []int64   `json:"article_ids"`
	Failures       []string  `json:"failures,omitempty"`
}

// Subscriber is a digest recipient.
type Subscriber struct {
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Schema is the SQLite schema.
const Schema = `
CREATE TABLE IF NOT EXISTS articles (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id      TEXT NOT NULL,
    source_bias    TEXT NOT NULL,
    title          TEXT NOT NULL,
    content        TEXT NOT NULL,
    external_url   TEXT NOT NULL UNIQUE,
    published_at   TIMESTAMP NOT NULL,
    content_hash   TEXT NOT NULL,
    anchor_status  TEXT NOT NULL DEFAULT 'UNANCHORED',
    transaction_id TEXT,
    votes_up       INTEGER NOT NULL DEFAULT 0,
    votes_down     INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS campaigns (
    id              TEXT PRIMARY KEY,
    sent_at         TIMESTAMP NOT NULL,
    recipient_count INTEGER NOT NULL,
    article_ids     TEXT NOT NULL,
    failures        TEXT
);

CREATE TABLE IF NOT EXISTS subscribers (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    email      TEXT NOT NULL UNIQUE,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_anchor ON articles(anchor_status);
`

// Store provides TrueScope data persistence.
type Store struct {
	db *DB
}

// New opens the database at path and initializes the schema.
func New(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SaveArticles commits a batch in one transaction and returns the rows
// actually inserted, with ids assigned. Articles already present (same
// external URL) are skipped silently so a re-run cannot double-publish.
func (s *Store) SaveArticles(ctx context.Context, batch []PublishedArticle) ([]PublishedArticle, error) {
	var inserted []PublishedArticle
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO articles
			(source_id, source_bias, title, content, external_url, published_at, content_hash, anchor_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range batch {
			res, err := stmt.ExecContext(ctx, a.SourceID, string(a.SourceBias), a.Title, a.Content,
				a.ExternalURL, a.PublishedAt.UTC(), a.ContentHash, string(AnchorUnanchored))
			if err != nil {
				return fmt.Errorf("insert article %q: %w", a.Title, err)
			}
			affected, _ := res.RowsAffected()
			if affected == 0 {
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			a.ID = id
			a.AnchorStatus = AnchorUnanchored
			inserted = append(inserted, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

const articleColumns = `id, source_id, source_bias, title, content, external_url,
	published_at, content_hash, anchor_status, COALESCE(transaction_id, ''), votes_up, votes_down`

func scanArticle(row interface{ Scan(...any) error }) (PublishedArticle, error) {
	var a PublishedArticle
	var bias, status string
	err := row.Scan(&a.ID, &a.SourceID, &bias, &a.Title, &a.Content, &a.ExternalURL,
		&a.PublishedAt, &a.ContentHash, &status, &a.TransactionID, &a.VotesUp, &a.VotesDown)
	a.SourceBias = source.Bias(bias)
	a.AnchorStatus = AnchorStatus(status)
	return a, err
}

// GetArticle returns one article by id.
func (s *Store) GetArticle(ctx context.Context, id int64) (*PublishedArticle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetRecentPublished returns articles published at or after since,
// newest first.
func (s *Store) GetRecentPublished(ctx context.Context, since time.Time) ([]PublishedArticle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE published_at >= ? ORDER BY published_at DESC`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

// GetByAnchorStatus returns articles in the given anchor state.
func (s *Store) GetByAnchorStatus(ctx context.Context, status AnchorStatus) ([]PublishedArticle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE anchor_status = ? ORDER BY id`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

func collectArticles(rows *sql.Rows) ([]PublishedArticle, error) {
	var out []PublishedArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAnchorStatus records an anchor state transition. The
// transaction id is only stored alongside ANCHORED.
func (s *Store) UpdateAnchorStatus(ctx context.Context, id int64, status AnchorStatus, txID string) error {
	var err error
	if status == AnchorAnchored {
		if txID == "" {
			return fmt.Errorf("article %d: ANCHORED requires a transaction id", id)
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE articles SET anchor_status = ?, transaction_id = ? WHERE id = ?`,
			string(status), txID, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE articles SET anchor_status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update anchor status for article %d: %w", id, err)
	}
	return nil
}

// RecordVote increments one vote counter and returns both.
func (s *Store) RecordVote(ctx context.Context, id int64, up bool) (votesUp, votesDown int, err error) {
	column := "votes_down"
	if up {
		column = "votes_up"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET `+column+` = `+column+` + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, 0, fmt.Errorf("record vote for article %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, 0, sql.ErrNoRows
	}
	row := s.db.QueryRowContext(ctx, `SELECT votes_up, votes_down FROM articles WHERE id = ?`, id)
	err = row.Scan(&votesUp, &votesDown)
	return votesUp, votesDown, err
}

// MarkCampaignSent records a completed digest campaign. The primary key
// on the window id makes double-marking fail loudly.
func (s *Store) MarkCampaignSent(ctx context.Context, c Campaign) error {
	ids, _ := json.Marshal(c.ArticleIDs)
	failures, _ := json.Marshal(c.Failures)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, sent_at, recipient_count, article_ids, failures) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.SentAt.UTC(), c.RecipientCount, string(ids), string(failures))
	if err != nil {
		return fmt.Errorf("mark campaign %s sent: %w", c.ID, err)
	}
	return nil
}

// GetCampaign returns the sent campaign for a window, or nil.
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sent_at, recipient_count, article_ids, COALESCE(failures, '[]') FROM campaigns WHERE id = ?`, id)
	var c Campaign
	var ids, failures string
	if err := row.Scan(&c.ID, &c.SentAt, &c.RecipientCount, &ids, &failures); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	json.Unmarshal([]byte(ids), &c.ArticleIDs)
	json.Unmarshal([]byte(failures), &c.Failures)
	return &c, nil
}

// AddSubscriber registers a digest recipient, reactivating a previous
// unsubscribe.
func (s *Store) AddSubscriber(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (email, active) VALUES (?, 1)
		ON CONFLICT(email) DO UPDATE SET active = 1
	`, email)
	if err != nil {
		return fmt.Errorf("add subscriber %s: %w", email, err)
	}
	return nil
}

// RemoveSubscriber deactivates a digest recipient.
func (s *Store) RemoveSubscriber(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	_, err := s.db.ExecContext(ctx, `UPDATE subscribers SET active = 0 WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("remove subscriber %s: %w", email, err)
	}
	return nil
}

// ActiveSubscribers returns the current recipient list.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, active, created_at FROM subscribers WHERE active = 1 ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.Email, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
