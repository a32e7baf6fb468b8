// Package dedup records which provider events have already been applied.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidRecord = errors.New("invalid_processed_event")

type Deduplicator struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Deduplicator {
	return &Deduplicator{db: db}
}

// MarkIfNew inserts the mark inside tx and reports whether this call created
// it. The caller's transaction decides whether the mark survives, so a
// rolled-back mutation never leaves a mark behind.
func (d *Deduplicator) MarkIfNew(ctx context.Context, tx *gorm.DB, record domain.ProcessedEvent) (bool, error) {
	if record.Provider == "" || record.EventID == "" || record.ID == 0 {
		return false, ErrInvalidRecord
	}
	if tx == nil {
		tx = d.db
	}
	if len(record.Payload) > 0 && !json.Valid(record.Payload) {
		record.Payload = nil
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Seen reports whether a mark exists without taking one.
func (d *Deduplicator) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&domain.ProcessedEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	return count > 0, err
}

// Prune deletes marks processed before cutoff.
func (d *Deduplicator) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&domain.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
