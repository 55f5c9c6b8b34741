package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entryRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Fingerprint string `gorm:"size:64;not null"`
	State       string `gorm:"size:16;not null"`
	ReplyStatus int
	ReplyHeader []byte    `gorm:"type:blob"`
	ReplyBody   []byte    `gorm:"type:blob"`
	CreatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

func (entryRow) TableName() string { return "idempotency_keys" }

// GormStore keeps entries in the relational entity store next to the orders they guard.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the idempotency_keys table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&entryRow{})
}

// Claim reads the row under lock and inserts or recycles it when absent or expired.
func (s *GormStore) Claim(ctx context.Context, id, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	now = now.UTC()
	var (
		outcome Outcome
		entry   Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entryRow
		err := forUpdate(tx).Where("id = ?", id).Take(&row).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		found := err == nil
		if found && !row.toEntry().expired(now) {
			if row.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			entry = row.toEntry()
			outcome = OutcomeInFlight
			if entry.State == StateCompleted {
				outcome = OutcomeReplay
			}
			return nil
		}

		entry = pendingEntry(id, fingerprint, now, ttl)
		fresh := rowFromEntry(entry, nil)
		outcome = OutcomeFirst
		if found {
			return tx.Save(&fresh).Error
		}
		return tx.Create(&fresh).Error
	})
	return outcome, entry, err
}

func (s *GormStore) Complete(ctx context.Context, id, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	header, err := json.Marshal(replayableHeader(reply.Header))
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entryRow
		err := forUpdate(tx).Where("id = ?", id).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = entryRow{ID: id, Fingerprint: fingerprint, CreatedAt: now}
		case err != nil:
			return err
		case row.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}
		row.State = string(StateCompleted)
		row.ReplyStatus = reply.Status
		row.ReplyHeader = header
		row.ReplyBody = append([]byte(nil), reply.Body...)
		row.ExpiresAt = now.Add(ttlOrDefault(ttl))
		return tx.Save(&row).Error
	})
}

func (s *GormStore) Abandon(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&entryRow{}).Error
}

// Sweep deletes up to limit expired rows.
func (s *GormStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&entryRow{}).
		Where("expires_at <= ?", now.UTC()).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&entryRow{})
	return int(res.RowsAffected), res.Error
}

// forUpdate adds FOR UPDATE where supported. SQLite serialises writers and rejects the clause.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func rowFromEntry(e Entry, header []byte) entryRow {
	return entryRow{
		ID:          e.ID,
		Fingerprint: e.Fingerprint,
		State:       string(e.State),
		ReplyStatus: e.Reply.Status,
		ReplyHeader: header,
		ReplyBody:   e.Reply.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (r entryRow) toEntry() Entry {
	var header map[string][]string
	if len(r.ReplyHeader) > 0 {
		_ = json.Unmarshal(r.ReplyHeader, &header)
	}
	return Entry{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		State:       State(r.State),
		Reply:       Reply{Status: r.ReplyStatus, Header: header, Body: r.ReplyBody},
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}
