package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus tracks how far a recording has progressed through sync.
type SyncStatus string

// Sync statuses.
const (
	SyncPending    SyncStatus = "PENDING"
	SyncInProgress SyncStatus = "IN_PROGRESS"
	SyncCompleted  SyncStatus = "COMPLETED"
	SyncFailed     SyncStatus = "FAILED"
	SyncCancelled  SyncStatus = "CANCELLED"
)

// RecordingMetadata is the synchronizable view of a recording, stored as one
// JSON document per key in the data sync store. Conflicting concurrent
// updates resolve last-writer-wins on UpdatedAt; UpdatedAt never moves
// backwards under an accepted write.
type RecordingMetadata struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	SizeBytes   int64      `json:"size_bytes"`
	Format      string     `json:"format"`
	SampleRate  int        `json:"sample_rate"`
	BitRate     int        `json:"bit_rate"`
	DeviceID    string     `json:"device_id"`
	SyncStatus  SyncStatus `json:"sync_status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewerThan reports whether m should win a last-writer-wins merge against
// other. Equal timestamps keep the incumbent.
func (m *RecordingMetadata) NewerThan(other *RecordingMetadata) bool {
	if other == nil {
		return true
	}
	return m.UpdatedAt.After(other.UpdatedAt)
}

// Encode serializes the metadata to its wire JSON form.
func (m *RecordingMetadata) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode recording metadata: %w", err)
	}
	return data, nil
}

// DecodeRecordingMetadata parses a data-store value back into metadata.
// Unknown fields are ignored for forward compatibility.
func DecodeRecordingMetadata(data []byte) (*RecordingMetadata, error) {
	var m RecordingMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode recording metadata: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("decode recording metadata: missing id")
	}
	return &m, nil
}

// StringList is a []string stored as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	default:
		return fmt.Errorf("scan StringList: unsupported type %T", value)
	}
}
