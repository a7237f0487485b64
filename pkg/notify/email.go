package notify

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	SMTPHost string // e.g. "smtp.gmail.com"
	SMTPPort string // "465" (TLS) or "587" (STARTTLS)
	From     string
	Password string
	Sender   string // display name, defaults to From
}

// EmailNotifier sends digest mail over SMTP, one session per batch.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates an SMTP mailer.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// SendBatch delivers msg to a batch of recipients in a single SMTP
// session. A recipient rejected at RCPT time is recorded individually;
// a session-level failure marks the whole batch failed.
func (e *EmailNotifier) SendBatch(ctx context.Context, recipients []string, msg Message) []RecipientOutcome {
	outcomes := make([]RecipientOutcome, 0, len(recipients))

	client, err := e.connect()
	if err != nil {
		for _, to := range recipients {
			outcomes = append(outcomes, RecipientOutcome{Email: to, Err: err})
		}
		return outcomes
	}
	defer client.Close()

	auth := smtp.PlainAuth("", e.cfg.From, e.cfg.Password, e.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		err = fmt.Errorf("SMTP auth: %w", err)
		for _, to := range recipients {
			outcomes = append(outcomes, RecipientOutcome{Email: to, Err: err})
		}
		return outcomes
	}

	if err := client.Mail(e.cfg.From); err != nil {
		err = fmt.Errorf("SMTP MAIL FROM: %w", err)
		for _, to := range recipients {
			outcomes = append(outcomes, RecipientOutcome{Email: to, Err: err})
		}
		return outcomes
	}

	var accepted []string
	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			outcomes = append(outcomes, RecipientOutcome{Email: to, Err: fmt.Errorf("SMTP RCPT TO: %w", err)})
			continue
		}
		accepted = append(accepted, to)
	}
	if len(accepted) == 0 {
		return outcomes
	}

	if err := e.writeBody(client, msg); err != nil {
		for _, to := range accepted {
			outcomes = append(outcomes, RecipientOutcome{Email: to, Err: err})
		}
		return outcomes
	}

	_ = client.Quit()
	for _, to := range accepted {
		outcomes = append(outcomes, RecipientOutcome{Email: to})
	}
	return outcomes
}

func (e *EmailNotifier) writeBody(client *smtp.Client, msg Message) error {
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write([]byte(e.buildBody(msg))); err != nil {
		return fmt.Errorf("SMTP write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("SMTP close data: %w", err)
	}
	return nil
}

// connect dials the configured port, falling back to the alternate
// TLS/STARTTLS port when the first attempt fails.
func (e *EmailNotifier) connect() (*smtp.Client, error) {
	addr := net.JoinHostPort(e.cfg.SMTPHost, e.cfg.SMTPPort)

	var client *smtp.Client
	var err error
	if e.cfg.SMTPPort == "465" {
		client, err = dialTLS(addr, e.cfg.SMTPHost)
	} else {
		client, err = dialSTARTTLS(addr, e.cfg.SMTPHost)
	}
	if err == nil {
		return client, nil
	}

	if e.cfg.SMTPPort == "465" {
		client, err = dialSTARTTLS(net.JoinHostPort(e.cfg.SMTPHost, "587"), e.cfg.SMTPHost)
	} else {
		client, err = dialTLS(net.JoinHostPort(e.cfg.SMTPHost, "465"), e.cfg.SMTPHost)
	}
	if err != nil {
		return nil, fmt.Errorf("SMTP connect failed: %w", err)
	}
	return client, nil
}

func dialTLS(addr, host string) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("TLS dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client: %w", err)
	}
	return client, nil
}

func dialSTARTTLS(addr, host string) (*smtp.Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client: %w", err)
	}
	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		client.Close()
		return nil, fmt.Errorf("STARTTLS: %w", err)
	}
	return client, nil
}

// encodeRFC2047 encodes a UTF-8 string for email headers.
func encodeRFC2047(s string) string {
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
}

func (e *EmailNotifier) buildBody(msg Message) string {
	sender := e.cfg.Sender
	if sender == "" {
		sender = e.cfg.From
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("From: %s <%s>\r\n", encodeRFC2047(sender), e.cfg.From))
	// Recipients are addressed at RCPT time only; listing subscribers in
	// the header would leak the batch to every recipient.
	sb.WriteString("To: undisclosed-recipients:;\r\n")
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", encodeRFC2047(msg.Title)))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: base64\r\n")
	sb.WriteString("\r\n")

	htmlContent := msg.HTMLBody
	if htmlContent == "" {
		htmlContent = "<pre>" + msg.Body + "</pre>"
	}
	sb.WriteString(base64.StdEncoding.EncodeToString([]byte(htmlContent)))
	return sb.String()
}
