package models

import "time"

// StoreStats holds aggregate statistics about the local store.
type StoreStats struct {
	TotalRecordings   int64     `json:"total_recordings"`
	PendingRecordings int64     `json:"pending_recordings"`
	QueuedOperations  int64     `json:"queued_operations"`
	FailedOperations  int64     `json:"failed_operations"`
	StoreSizeBytes    int64     `json:"store_size_bytes"`
	LastUpdated       time.Time `json:"last_updated"`
}
