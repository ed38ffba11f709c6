package models

import "time"

// SyncMeta stores engine bookkeeping as key/value pairs.
type SyncMeta struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:1000"`
	UpdatedAt time.Time
}

// TableName specifies the table name for SyncMeta.
func (SyncMeta) TableName() string {
	return "sync_meta"
}

// Sync metadata keys.
const (
	SyncMetaDeviceID     = "device_id"
	SyncMetaLastMetaSync = "last_metadata_sync"
	SyncMetaLastFullSync = "last_full_sync"
	SyncMetaSchemaVer    = "schema_version"
)
