package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrTransient signals a ledger failure worth retrying. Callers detect
// it with errors.Is.
var ErrTransient = errors.New("transient ledger error")

// Receipt is the ledger's confirmation of an anchored hash.
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Ledger is the external anchoring capability. A real blockchain or
// notary integration implements this without touching the pipeline.
type Ledger interface {
	// Anchor records a content hash and returns a transaction
	// reference. Transient unavailability is reported via ErrTransient.
	Anchor(ctx context.Context, hash string) (Receipt, error)
	// Ping reports whether the ledger is reachable.
	Ping(ctx context.Context) error
}

// MockLedger is the built-in ledger used until a real integration is
// configured. Transaction ids are derived deterministically from the
// anchored hash; an optional latency simulates network round trips.
type MockLedger struct {
	Latency time.Duration
}

// Anchor implements Ledger.
func (m *MockLedger) Anchor(ctx context.Context, hash string) (Receipt, error) {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}
	sum := sha256.Sum256([]byte("anchor" + fieldSep + hash))
	return Receipt{
		TransactionID: "0x" + hex.EncodeToString(sum[:16]),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Ping implements Ledger.
func (m *MockLedger) Ping(ctx context.Context) error { return ctx.Err() }
