package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DisabledByEnvVar(t *testing.T) {
	t.Setenv("WEARSYNC_TELEMETRY_TRACKING_ENABLED", "false")

	client := New(nil)
	_, ok := client.(*NoopClient)
	assert.True(t, ok, "Should return NoopClient when disabled")
}

func TestNew_DisabledWithoutAPIKey(t *testing.T) {
	originalKey := PostHogAPIKey
	PostHogAPIKey = ""
	defer func() { PostHogAPIKey = originalKey }()

	client := New(nil)
	_, ok := client.(*NoopClient)
	assert.True(t, ok, "Should return NoopClient without API key")
}

func TestNoopClient_DoesNotPanic(t *testing.T) {
	client := &NoopClient{}

	// CLI events
	client.Track("test_event", map[string]interface{}{"key": "value"})
	client.TrackAppStarted("daemon", true)
	client.TrackAppExited("daemon", 5000)
	client.TrackCLICommandExecuted("sync", true, 100)
	client.TrackCLIError("sync", "network_error")

	// Engine events
	client.TrackPeerLinked("1.1.0")
	client.TrackPeerDropped(120_000)
	client.TrackMetadataSynced(3)
	client.TrackAudioSynced(1<<20, 4200)
	client.TrackQueueDrained(10, 2)
	client.TrackOperationFailed("SYNC_AUDIO_DATA", "TIMEOUT_ERROR", 2)
	client.TrackRemoteSessionStarted(true)
	client.TrackRemoteSessionStopped(90_000)

	client.Close()
	assert.Empty(t, client.GetTrackingID())
}

type fakeIDProvider struct{ id string }

func (p *fakeIDProvider) GetOrCreateTrackingID() string { return p.id }

func TestNew_UsesProviderTrackingID(t *testing.T) {
	originalKey := PostHogAPIKey
	PostHogAPIKey = "phc_test"
	defer func() { PostHogAPIKey = originalKey }()

	client := New(&fakeIDProvider{id: "stable-id"})
	defer client.Close()

	if _, ok := client.(*NoopClient); ok {
		t.Skip("telemetry disabled in this environment")
	}
	assert.Equal(t, "stable-id", client.GetTrackingID())
}
