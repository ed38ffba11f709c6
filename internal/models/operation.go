package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OperationType enumerates the units of sync work the offline queue accepts.
type OperationType string

// Operation types.
const (
	OpSyncMetadata      OperationType = "sync-metadata"
	OpSyncAudioData     OperationType = "sync-audio-data"
	OpUpdateTitle       OperationType = "update-title"
	OpUpdateTags        OperationType = "update-tags"
	OpUpdateDescription OperationType = "update-description"
	OpDeleteRecording   OperationType = "delete-recording"
)

// Priority orders queued operations. Higher urgency drains first; FIFO by
// creation time within the same priority.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// UrgencyRank returns the drain order for the priority; larger drains first.
func (p Priority) UrgencyRank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// QueuedOperation is one pending unit of sync work. Operations are persisted
// so the queue survives process restarts. An operation whose RetryCount
// reaches the policy maximum moves to the failed set and is only retried
// manually.
type QueuedOperation struct {
	ID          string        `gorm:"primaryKey;size:64" json:"id"`
	Type        OperationType `gorm:"size:32;index" json:"type"`
	RecordingID string        `gorm:"size:64;index" json:"recording_id,omitempty"`
	Payload     Payload       `gorm:"type:text" json:"payload,omitempty"`
	Priority    Priority      `gorm:"size:10;default:NORMAL" json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	RetryCount  int        `gorm:"default:0" json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `gorm:"size:1000" json:"last_error,omitempty"`

	// Failed marks the operation as quarantined in the failed set.
	Failed bool `gorm:"default:false;index" json:"failed"`
}

// TableName specifies the table name for GORM.
func (QueuedOperation) TableName() string {
	return "queued_operations"
}

// RetryEligible reports whether a quarantined operation may be re-queued at
// the given instant.
func (op *QueuedOperation) RetryEligible(now time.Time, maxRetries int) bool {
	if op.RetryCount >= maxRetries {
		return false
	}
	return op.NextRetryAt == nil || !now.Before(*op.NextRetryAt)
}

// Payload is a string-keyed operation payload stored as a JSON column.
type Payload map[string]string

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]string(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), (*map[string]string)(p))
	case []byte:
		return json.Unmarshal(v, (*map[string]string)(p))
	default:
		return fmt.Errorf("scan Payload: unsupported type %T", value)
	}
}
