package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"no peers", ErrNoConnectedPeers, ErrorDeviceDisconnected},
		{"peer disconnected", ErrPeerDisconnected, ErrorDeviceDisconnected},
		{"wrapped peer disconnected", fmt.Errorf("send message: %w", ErrPeerDisconnected), ErrorDeviceDisconnected},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"channel closed", ErrChannelClosed, ErrorNetwork},
		{"transfer cancelled", fmt.Errorf("stream audio: %w", ErrTransferCancelled), ErrorNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyMessageMarkers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"timeout text", errors.New("operation timed out"), ErrorTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorNetwork},
		{"disk full", errors.New("write: no space left on device"), ErrorStorageFull},
		{"permission", errors.New("open /data: permission denied"), ErrorPermissionDenied},
		{"auth", errors.New("handshake: unauthorized"), ErrorAuthentication},
		{"malformed", errors.New("unmarshal payload: unexpected end of JSON input"), ErrorInvalidData},
		{"nothing recognizable", errors.New("wat"), ErrorUnknown},
		{"nil", nil, ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorTypeRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorNetwork, ErrorTimeout, ErrorDeviceDisconnected}
	terminal := []ErrorType{ErrorAuthentication, ErrorStorageFull, ErrorInvalidData, ErrorPermissionDenied, ErrorUnknown}

	for _, et := range retryable {
		assert.True(t, et.Retryable(), "%s should be retryable", et)
	}
	for _, et := range terminal {
		assert.False(t, et.Retryable(), "%s should be terminal", et)
	}
}

func TestNewSyncError(t *testing.T) {
	err := fmt.Errorf("sync metadata: %w", ErrNoConnectedPeers)
	se := NewSyncError(err, "rec-1")

	assert.NotEmpty(t, se.ID)
	assert.Equal(t, "rec-1", se.RecordingID)
	assert.Equal(t, ErrorDeviceDisconnected, se.Type)
	assert.Equal(t, err.Error(), se.Message)
	assert.True(t, se.Retryable)
	assert.False(t, se.Timestamp.IsZero())
}

func TestSyncErrorIsRetryable(t *testing.T) {
	se := &SyncError{Retryable: true, RetryCount: 2, MaxRetries: 3}
	assert.True(t, se.IsRetryable())

	se.RetryCount = 3
	assert.False(t, se.IsRetryable(), "exhausted budget is not retryable")

	se = &SyncError{Retryable: false, RetryCount: 0, MaxRetries: 3}
	assert.False(t, se.IsRetryable(), "terminal errors are never retryable")
}
