package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Used when no entity store is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, id, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.expired(now) {
		entry = pendingEntry(id, fingerprint, now.UTC(), ttl)
		s.entries[id] = entry
		return OutcomeFirst, entry, nil
	}
	if entry.Fingerprint != fingerprint {
		return 0, Entry{}, ErrFingerprintMismatch
	}
	if entry.State == StateCompleted {
		return OutcomeReplay, entry, nil
	}
	return OutcomeInFlight, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, id, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		entry = Entry{ID: id, Fingerprint: fingerprint, CreatedAt: now.UTC()}
	}
	entry.State = StateCompleted
	entry.Reply = Reply{Status: reply.Status, Header: replayableHeader(reply.Header), Body: append([]byte(nil), reply.Body...)}
	entry.ExpiresAt = now.UTC().Add(ttlOrDefault(ttl))
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
