package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection = "idempotencyKeys"
	claimAttempts     = 5
)

// FirestoreStore keeps entries in a Firestore collection, one document per entry id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore returns a store writing to the idempotencyKeys collection, or to
// collection when given.
func NewFirestoreStore(client *firestore.Client, collection ...string) *FirestoreStore {
	name := defaultCollection
	if len(collection) > 0 && collection[0] != "" {
		name = collection[0]
	}
	return &FirestoreStore{client: client, collection: name}
}

type entryDoc struct {
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	ReplyStatus int                 `firestore:"replyStatus"`
	ReplyHeader map[string][]string `firestore:"replyHeader"`
	ReplyBody   []byte              `firestore:"replyBody"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d entryDoc) toEntry(id string) Entry {
	return Entry{
		ID:          id,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		Reply:       Reply{Status: d.ReplyStatus, Header: d.ReplyHeader, Body: d.ReplyBody},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func docFromEntry(e Entry) entryDoc {
	return entryDoc{
		Fingerprint: e.Fingerprint,
		State:       string(e.State),
		ReplyStatus: e.Reply.Status,
		ReplyHeader: e.Reply.Header,
		ReplyBody:   e.Reply.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (s *FirestoreStore) Claim(ctx context.Context, id, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	now = now.UTC()
	ref := s.client.Collection(s.collection).Doc(id)
	var (
		outcome Outcome
		entry   Entry
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc entryDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if existing := doc.toEntry(id); !existing.expired(now) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				entry, outcome = existing, OutcomeInFlight
				if existing.State == StateCompleted {
					outcome = OutcomeReplay
				}
				return nil
			}
		}
		entry, outcome = pendingEntry(id, fingerprint, now, ttl), OutcomeFirst
		return tx.Set(ref, docFromEntry(entry))
	}, firestore.MaxAttempts(claimAttempts))
	return outcome, entry, err
}

func (s *FirestoreStore) Complete(ctx context.Context, id, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref := s.client.Collection(s.collection).Doc(id)
	stored := Reply{Status: reply.Status, Header: replayableHeader(reply.Header), Body: append([]byte(nil), reply.Body...)}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entry := Entry{ID: id, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var doc entryDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			entry.CreatedAt = doc.CreatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}
		entry.State = StateCompleted
		entry.Reply = stored
		entry.ExpiresAt = now.Add(ttlOrDefault(ttl))
		return tx.Set(ref, docFromEntry(entry))
	}, firestore.MaxAttempts(claimAttempts))
}

func (s *FirestoreStore) Abandon(ctx context.Context, id string) error {
	_, err := s.client.Collection(s.collection).Doc(id).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// Sweep deletes up to limit expired documents in one batch.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	writer := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
