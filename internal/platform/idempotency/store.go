// Package idempotency lets clients retry order mutations safely. A request carrying an
// Idempotency-Key is executed once per operator and key; retries replay the stored reply.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a completed reply stays replayable.
const DefaultTTL = 24 * time.Hour

// State of an entry.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Outcome tells the caller what to do after Claim.
type Outcome int

const (
	// OutcomeFirst means the caller owns the key and must run the request.
	OutcomeFirst Outcome = iota
	// OutcomeReplay means Entry holds a finished reply.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

// Reply is the HTTP response kept for replays.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is one stored key.
type Entry struct {
	ID          string
	Fingerprint string
	State       State
	Reply       Reply
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func pendingEntry(id, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{ID: id, Fingerprint: fingerprint, State: StatePending, CreatedAt: now, ExpiresAt: now.Add(ttlOrDefault(ttl))}
}

// Store persists entries. IDs are already scoped to the caller.
type Store interface {
	Claim(ctx context.Context, id, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, id, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, id string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// EntryID derives the storage id for a key sent by scope (an operator or service account).
func EntryID(scope, key string) string {
	return digest(scope + "\x00" + key)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// replayableHeader drops hop-by-hop and per-response headers from stored replies.
func replayableHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer", "Set-Cookie":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
