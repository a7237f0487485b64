package notify

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncodeRFC2047(t *testing.T) {
	got := encodeRFC2047("Дайджест")
	if !strings.HasPrefix(got, "=?UTF-8?B?") || !strings.HasSuffix(got, "?=") {
		t.Fatalf("unexpected encoding: %q", got)
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(got, "=?UTF-8?B?"), "?=")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "Дайджест" {
		t.Fatalf("round trip failed: %q", decoded)
	}
}

func TestBuildBody_Headers(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{From: "digest@example.com", Sender: "TrueScope Digest"})
	body := n.buildBody(Message{
		Title:    "Daily Digest",
		HTMLBody: "<html><body>hello</body></html>",
	})

	// Subscriber addresses must never appear in the header; delivery is
	// addressed at RCPT time only.
	if !strings.Contains(body, "To: undisclosed-recipients:;\r\n") {
		t.Fatal("undisclosed-recipients header missing")
	}
	if strings.Contains(body, "@example.com, ") {
		t.Fatal("recipient list leaked into the header")
	}
	if !strings.Contains(body, "Content-Type: text/html; charset=UTF-8\r\n") {
		t.Fatal("content type header missing")
	}
	if !strings.Contains(body, encodeRFC2047("Daily Digest")) {
		t.Fatal("encoded subject missing")
	}

	// The payload after the blank line is base64 of the HTML body.
	parts := strings.SplitN(body, "\r\n\r\n", 2)
	if len(parts) != 2 {
		t.Fatal("missing header/body separator")
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "<html><body>hello</body></html>" {
		t.Fatalf("unexpected body payload: %q", decoded)
	}
}

func TestBuildBody_PlainFallback(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{From: "digest@example.com"})
	body := n.buildBody(Message{Title: "Digest", Body: "plain text"})

	parts := strings.SplitN(body, "\r\n\r\n", 2)
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(decoded), "plain text") {
		t.Fatalf("expected plain body wrapped, got %q", decoded)
	}
}
