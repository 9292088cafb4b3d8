// Package idempotency replays completed POST responses keyed by the
// Idempotency-Key header. The same key with a different request body is a
// conflict; a key whose first request is still running reports in-flight.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TTL is how long a completed record replays.
const TTL = 24 * time.Hour

// Record is a completed response stored under an idempotency key.
type Record struct {
	RequestHash string    `json:"request_hash"`
	Status      int       `json:"status"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// BeginResult is the verdict for a new request carrying a key.
type BeginResult int

const (
	// Proceed: the key is fresh and now reserved; run the operation.
	Proceed BeginResult = iota
	// Replay: a completed record exists for the same request hash.
	Replay
	// InFlight: the first request with this key has not finished yet.
	InFlight
	// Mismatch: the key was used with a different request body.
	Mismatch
)

// Store is the idempotency persistence contract. The memory implementation
// backs mock mode; Redis backs sandbox and production.
type Store interface {
	// Begin reserves a key or classifies the collision.
	Begin(ctx context.Context, tenantID, key, requestHash string) (BeginResult, *Record, error)
	// Complete stores the final response under a reserved key.
	Complete(ctx context.Context, tenantID, key string, rec Record) error
	// Abort releases a reserved key after a failed operation so the caller
	// can retry.
	Abort(ctx context.Context, tenantID, key string) error
}

// HashRequest fingerprints a request body for mismatch detection.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
