// Package notify provides outbound notification transports: batched
// SMTP email for digest dispatch and a Telegram broadcast channel.
package notify

import "context"

// Channel identifies a notification transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// Message is one notification payload.
type Message struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body,omitempty"`
	Format   string `json:"format"` // "markdown", "html", "plain"
}

// RecipientOutcome is the per-recipient result of a batch send.
type RecipientOutcome struct {
	Email string
	Err   error
}

// Mailer delivers one message to a batch of recipients, reporting the
// outcome per recipient rather than failing the batch wholesale.
type Mailer interface {
	SendBatch(ctx context.Context, recipients []string, msg Message) []RecipientOutcome
}

// Notifier is a single-destination broadcast transport.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Channel() Channel
}
