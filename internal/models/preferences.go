package models

import (
	"math"
	"time"
)

// RetryPolicy governs automatic retries in the offline queue.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BaseDelayMs       int64   `json:"base_delay_ms"`
	MaxDelayMs        int64   `json:"max_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	RetryOnNetworkError bool `json:"retry_on_network_error"`
	RetryOnTimeout      bool `json:"retry_on_timeout"`
	RetryOnServerError  bool `json:"retry_on_server_error"`
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		BaseDelayMs:         1000,
		MaxDelayMs:          60000,
		BackoffMultiplier:   2.0,
		RetryOnNetworkError: true,
		RetryOnTimeout:      true,
		RetryOnServerError:  false,
	}
}

// Backoff returns the delay before retry attempt n (1-based):
// min(base * multiplier^(n-1), maxDelay). Monotonically non-decreasing in n
// and capped at MaxDelayMs.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.BaseDelayMs) * math.Pow(p.BackoffMultiplier, float64(n-1))
	if delay > float64(p.MaxDelayMs) {
		delay = float64(p.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// ShouldRetry reports whether the policy retries failures of the given type.
func (p RetryPolicy) ShouldRetry(t ErrorType) bool {
	switch t {
	case ErrorNetwork:
		return p.RetryOnNetworkError
	case ErrorTimeout:
		return p.RetryOnTimeout
	case ErrorDeviceDisconnected:
		return p.RetryOnNetworkError
	default:
		return false
	}
}

// SyncConfiguration tunes the sync engine.
type SyncConfiguration struct {
	BatchSize              int   `json:"batch_size"`
	MaxConcurrentTransfers int   `json:"max_concurrent_transfers"`
	TimeoutMs              int64 `json:"timeout_ms"`
	RetryDelayMs           int64 `json:"retry_delay_ms"`
	CompressionEnabled     bool  `json:"compression_enabled"`
	EncryptionEnabled      bool  `json:"encryption_enabled"`
}

// DefaultSyncConfiguration returns sensible defaults.
func DefaultSyncConfiguration() SyncConfiguration {
	return SyncConfiguration{
		BatchSize:              10,
		MaxConcurrentTransfers: 1,
		TimeoutMs:              30000,
		RetryDelayMs:           500,
		CompressionEnabled:     false,
		EncryptionEnabled:      true,
	}
}

// Timeout returns TimeoutMs as a duration.
func (c SyncConfiguration) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DevicePreferences holds per-device sync preferences, replicated through
// the data sync store.
type DevicePreferences struct {
	AutoSyncEnabled bool     `json:"auto_sync_enabled"`
	SyncOnWifiOnly  bool     `json:"sync_on_wifi_only"`
	MaxFileSize     int64    `json:"max_file_size"`
	AudioQuality    string   `json:"audio_quality"`
	RetryAttempts   int      `json:"retry_attempts"`
	SyncPriority    Priority `json:"sync_priority"`
}

// DefaultDevicePreferences returns sensible defaults.
func DefaultDevicePreferences() DevicePreferences {
	return DevicePreferences{
		AutoSyncEnabled: true,
		SyncOnWifiOnly:  false,
		MaxFileSize:     256 << 20,
		AudioQuality:    "high",
		RetryAttempts:   3,
		SyncPriority:    PriorityNormal,
	}
}
