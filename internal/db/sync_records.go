package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncRecord is one replicated data-store document. Both the local replica
// and the peer's propagated writes land here; UpdatedAt carries the write
// timestamp used for last-writer-wins resolution.
type SyncRecord struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"type:blob"`
	Deleted   bool   `gorm:"default:false;index"`
	UpdatedAt time.Time
}

// TableName specifies the table name for GORM.
func (SyncRecord) TableName() string {
	return "sync_records"
}

// PutSyncRecord writes a record, unconditionally overwriting. Used for
// local writes, which always win against the current replica state.
func (db *DB) PutSyncRecord(key string, value []byte, at time.Time) error {
	rec := SyncRecord{Key: key, Value: value, UpdatedAt: at}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "deleted", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("put sync record %s: %w", key, err)
	}
	return nil
}

// DeleteSyncRecord writes a tombstone for a key so the deletion replicates.
func (db *DB) DeleteSyncRecord(key string, at time.Time) error {
	rec := SyncRecord{Key: key, Deleted: true, UpdatedAt: at}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "deleted", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("delete sync record %s: %w", key, err)
	}
	return nil
}

// MergeSyncRecord applies a replicated record from a peer under
// last-writer-wins: an older remote write never replaces a newer local one.
// Returns true when the record was applied.
func (db *DB) MergeSyncRecord(key string, value []byte, deleted bool, at time.Time) (bool, error) {
	applied := false
	err := db.Transaction(func(tx *DB) error {
		var existing SyncRecord
		err := tx.First(&existing, "key = ?", key).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return fmt.Errorf("read sync record %s: %w", key, err)
		}
		if err == nil && existing.UpdatedAt.After(at) {
			return nil
		}
		rec := SyncRecord{Key: key, Value: value, Deleted: deleted, UpdatedAt: at}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "deleted", "updated_at"}),
		}).Create(&rec).Error; err != nil {
			return fmt.Errorf("merge sync record %s: %w", key, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// GetSyncRecord retrieves a live record by key.
func (db *DB) GetSyncRecord(key string) (*SyncRecord, error) {
	var rec SyncRecord
	err := db.First(&rec, "key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync record %s: %w", key, err)
	}
	if rec.Deleted {
		return nil, nil
	}
	return &rec, nil
}

// ListSyncRecords returns all live records under a key prefix.
func (db *DB) ListSyncRecords(prefix string) ([]SyncRecord, error) {
	var recs []SyncRecord
	q := db.Where("deleted = ?", false)
	if prefix != "" {
		q = q.Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	}
	if err := q.Order("key ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	return recs, nil
}

// AllSyncRecords returns every record including tombstones, for replica
// exchange during the initial handshake.
func (db *DB) AllSyncRecords() ([]SyncRecord, error) {
	var recs []SyncRecord
	if err := db.Order("key ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("all sync records: %w", err)
	}
	return recs, nil
}

// escapeLike escapes LIKE wildcards in a key prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
