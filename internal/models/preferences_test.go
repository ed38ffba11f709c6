package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		BaseDelayMs:       1000,
		MaxDelayMs:        60000,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))

	// Monotonically non-decreasing.
	prev := time.Duration(0)
	for n := 1; n <= 20; n++ {
		d := p.Backoff(n)
		assert.GreaterOrEqual(t, d, prev, "backoff(%d)", n)
		prev = d
	}

	// Capped at MaxDelayMs.
	assert.Equal(t, 60*time.Second, p.Backoff(20))
}

func TestBackoffClampsAttempt(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, p.Backoff(1), p.Backoff(0))
	assert.Equal(t, p.Backoff(1), p.Backoff(-3))
}

func TestShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.True(t, p.ShouldRetry(ErrorNetwork))
	assert.True(t, p.ShouldRetry(ErrorTimeout))
	assert.True(t, p.ShouldRetry(ErrorDeviceDisconnected))

	assert.False(t, p.ShouldRetry(ErrorStorageFull))
	assert.False(t, p.ShouldRetry(ErrorPermissionDenied))
	assert.False(t, p.ShouldRetry(ErrorUnknown))

	p.RetryOnNetworkError = false
	assert.False(t, p.ShouldRetry(ErrorNetwork))
	assert.False(t, p.ShouldRetry(ErrorDeviceDisconnected))
}

func TestRetryEligible(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	op := &QueuedOperation{RetryCount: 1, NextRetryAt: &past}
	assert.True(t, op.RetryEligible(now, 3))

	op.NextRetryAt = &future
	assert.False(t, op.RetryEligible(now, 3), "backoff not yet elapsed")

	op.NextRetryAt = &past
	op.RetryCount = 3
	assert.False(t, op.RetryEligible(now, 3), "budget exhausted")

	op = &QueuedOperation{RetryCount: 0}
	assert.True(t, op.RetryEligible(now, 3), "nil retry time is immediately eligible")
}

func TestUrgencyRank(t *testing.T) {
	assert.Greater(t, PriorityUrgent.UrgencyRank(), PriorityHigh.UrgencyRank())
	assert.Greater(t, PriorityHigh.UrgencyRank(), PriorityNormal.UrgencyRank())
	assert.Greater(t, PriorityNormal.UrgencyRank(), PriorityLow.UrgencyRank())
	assert.Equal(t, PriorityNormal.UrgencyRank(), Priority("bogus").UrgencyRank())
}
