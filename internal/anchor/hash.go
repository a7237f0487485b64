// Package anchor computes content-integrity hashes for published
// articles and anchors them on an external immutable ledger.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// fieldSep separates hash input fields so that moving bytes between
// title and content always changes the digest.
const fieldSep = "\x1f"

// ContentHash returns the canonical hex digest of an article's
// integrity-relevant fields. It is a pure function of (title, content,
// publishedAt) and must be recomputed, never trusted from input.
func ContentHash(title, content string, publishedAt time.Time) string {
	h := sha256.New()
	io.WriteString(h, title)
	io.WriteString(h, fieldSep)
	io.WriteString(h, content)
	io.WriteString(h, fieldSep)
	io.WriteString(h, publishedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the hash and compares it to the expected digest.
func Verify(title, content string, publishedAt time.Time, expected string) bool {
	return ContentHash(title, content, publishedAt) == expected
}
