package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorType classifies a sync failure.
type ErrorType string

// Error taxonomy.
const (
	ErrorNetwork            ErrorType = "NETWORK_ERROR"
	ErrorDeviceDisconnected ErrorType = "DEVICE_DISCONNECTED"
	ErrorTimeout            ErrorType = "TIMEOUT_ERROR"
	ErrorAuthentication     ErrorType = "AUTHENTICATION_ERROR"
	ErrorStorageFull        ErrorType = "STORAGE_FULL"
	ErrorInvalidData        ErrorType = "INVALID_DATA"
	ErrorPermissionDenied   ErrorType = "PERMISSION_DENIED"
	ErrorUnknown            ErrorType = "UNKNOWN_ERROR"
)

// Sentinel errors components wrap so classification does not depend on
// message text.
var (
	ErrNoConnectedPeers  = errors.New("no connected peers")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrChannelClosed     = errors.New("channel closed")
	ErrTransferCancelled = errors.New("transfer cancelled")
)

// Retryable reports whether failures of this type self-heal through the
// offline queue. Storage-full, permission and authentication failures need
// manual intervention and are never auto-retried.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorNetwork, ErrorTimeout, ErrorDeviceDisconnected:
		return true
	default:
		return false
	}
}

// SyncError is one reported sync failure, emitted on the error stream for
// observers such as the UI and the offline queue.
type SyncError struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id,omitempty"`
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	Retryable   bool      `json:"retryable"`
	DeviceID    string    `json:"device_id,omitempty"`
}

// IsRetryable reports whether the error may still be retried automatically.
func (e *SyncError) IsRetryable() bool {
	return e.Retryable && e.RetryCount < e.MaxRetries
}

// NewSyncError classifies err and wraps it for the error stream.
func NewSyncError(err error, recordingID string) *SyncError {
	t := Classify(err)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &SyncError{
		ID:          uuid.New().String(),
		RecordingID: recordingID,
		Type:        t,
		Message:     msg,
		Timestamp:   time.Now(),
		Retryable:   t.Retryable(),
	}
}

// Classify determines the error type at the point of failure. Explicit
// sentinels win; otherwise the message is inspected for known markers.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}

	switch {
	case errors.Is(err, ErrNoConnectedPeers), errors.Is(err, ErrPeerDisconnected):
		return ErrorDeviceDisconnected
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, ErrChannelClosed), errors.Is(err, ErrTransferCancelled):
		return ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "timed out"):
		return ErrorTimeout
	case containsAny(msg, "disconnected", "not connected", "no such peer"):
		return ErrorDeviceDisconnected
	case containsAny(msg, "network", "connection refused", "connection reset", "broken pipe", "unreachable"):
		return ErrorNetwork
	case containsAny(msg, "storage full", "no space", "disk full", "database or disk is full"):
		return ErrorStorageFull
	case containsAny(msg, "permission", "access denied"):
		return ErrorPermissionDenied
	case containsAny(msg, "unauthorized", "authentication", "forbidden"):
		return ErrorAuthentication
	case containsAny(msg, "invalid", "malformed", "parse", "unmarshal"):
		return ErrorInvalidData
	default:
		return ErrorUnknown
	}
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
