// Package models defines the core data structures for wearsync.
package models

import (
	"time"
)

// Recording is one locally captured audio recording. The local recordings
// table is authoritative for this device: metadata edits are applied here
// first and only then propagated to peers.
type Recording struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Title       string     `gorm:"size:255" json:"title"`
	Description string     `gorm:"size:1000" json:"description"`
	Tags        StringList `gorm:"type:text" json:"tags"`

	// Audio attributes
	FilePath   string `gorm:"size:500" json:"file_path"`
	DurationMs int64  `gorm:"default:0" json:"duration_ms"`
	SizeBytes  int64  `gorm:"default:0" json:"size_bytes"`
	Format     string `gorm:"size:20;default:wav" json:"format"`
	SampleRate int    `gorm:"default:16000" json:"sample_rate"`
	BitRate    int    `gorm:"default:256000" json:"bit_rate"`

	// DeviceID identifies the device that captured the recording.
	DeviceID string `gorm:"size:64;index" json:"device_id"`

	SyncStatus SyncStatus `gorm:"size:20;default:PENDING;index" json:"sync_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Recording) TableName() string {
	return "recordings"
}

// Metadata builds the synchronizable view of the recording with the given
// sync status. The recording id carries over unchanged; ids are immutable.
func (r *Recording) Metadata(status SyncStatus) *RecordingMetadata {
	tags := make([]string, len(r.Tags))
	copy(tags, r.Tags)
	return &RecordingMetadata{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Tags:        tags,
		DurationMs:  r.DurationMs,
		SizeBytes:   r.SizeBytes,
		Format:      r.Format,
		SampleRate:  r.SampleRate,
		BitRate:     r.BitRate,
		DeviceID:    r.DeviceID,
		SyncStatus:  status,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}
