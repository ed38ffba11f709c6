package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeControlRoundTrip(t *testing.T) {
	msg, err := NewMessage(PathRecordingControl, NewStartRecording("rec-1", "standup"))
	require.NoError(t, err)
	assert.Equal(t, PathRecordingControl, msg.Path)

	payload, err := DecodeControl(msg.Payload)
	require.NoError(t, err)

	start, ok := payload.(StartRecording)
	require.True(t, ok, "decoded to %T", payload)
	assert.Equal(t, "rec-1", start.RecordingID)
	assert.Equal(t, "standup", start.Title)
}

func TestDecodeControlVariants(t *testing.T) {
	for _, payload := range []ControlPayload{
		NewStartRecording("r", "t"),
		NewStopRecording("r"),
		NewPauseRecording("r"),
		NewResumeRecording("r"),
	} {
		msg, err := NewMessage(PathRecordingControl, payload)
		require.NoError(t, err)
		decoded, err := DecodeControl(msg.Payload)
		require.NoError(t, err)
		assert.IsType(t, payload, decoded)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := DecodeControl([]byte(`{"kind":"detonate","recording_id":"r"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown control kind")

	_, err = DecodeStatus([]byte(`{"kind":"start_recording","recording_id":"r"}`))
	require.Error(t, err)

	_, err = DecodeMetadata([]byte(`{"kind":"recording_started","recording_id":"r"}`))
	require.Error(t, err)
}

func TestDecodeRejectsMissingKind(t *testing.T) {
	for _, data := range [][]byte{
		[]byte(`{"recording_id":"r"}`),
		[]byte(`{}`),
		[]byte(`not json`),
	} {
		_, err := DecodeControl(data)
		assert.Error(t, err, "payload %q", data)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	data := []byte(`{"kind":"stop_recording","recording_id":"rec-1","future_field":true}`)
	payload, err := DecodeControl(data)
	require.NoError(t, err)
	stop, ok := payload.(StopRecording)
	require.True(t, ok)
	assert.Equal(t, "rec-1", stop.RecordingID)
}

func TestDecodeStatusCarriesFields(t *testing.T) {
	startedAt := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	msg, err := NewMessage(PathRecordingStatus,
		NewRecordingStarted("rec-1", "field notes", "watch", startedAt))
	require.NoError(t, err)

	payload, err := DecodeStatus(msg.Payload)
	require.NoError(t, err)
	started, ok := payload.(RecordingStarted)
	require.True(t, ok)
	assert.Equal(t, "watch", started.DeviceName)
	assert.True(t, started.StartedAt.Equal(startedAt))

	msg, err = NewMessage(PathRecordingStatus, NewRecordingStopped("rec-1", 90_000))
	require.NoError(t, err)
	payload, err = DecodeStatus(msg.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 90_000, payload.(RecordingStopped).DurationMs)
}

func TestUpdateMetadataPartialFields(t *testing.T) {
	title := "renamed"
	msg, err := NewMessage(PathMetadataSync, NewUpdateMetadata("rec-1", &title, nil, nil))
	require.NoError(t, err)

	payload, err := DecodeMetadata(msg.Payload)
	require.NoError(t, err)
	update, ok := payload.(UpdateMetadata)
	require.True(t, ok)

	require.NotNil(t, update.Title)
	assert.Equal(t, "renamed", *update.Title)
	assert.Nil(t, update.Description, "unset fields must stay nil, not empty")
	assert.Nil(t, update.Tags)
}

func TestAudioSyncRequestDecode(t *testing.T) {
	msg, err := NewMessage(PathAudioSyncRequest, NewAudioSyncRequest("rec-1"))
	require.NoError(t, err)

	req, err := DecodeAudioSyncRequest(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", req.RecordingID)

	// A complete notice is not a request.
	msg, err = NewMessage(PathAudioSyncComplete, NewAudioSyncComplete("rec-1", 42))
	require.NoError(t, err)
	_, err = DecodeAudioSyncRequest(msg.Payload)
	require.Error(t, err)

	done, err := DecodeAudioSyncComplete(msg.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 42, done.SizeBytes)
}

func TestDecodeConnectionVariants(t *testing.T) {
	msg, err := NewMessage(PathDeviceConnection, NewDeviceConnected("watch-1", "watch", "1.1.0"))
	require.NoError(t, err)
	assert.Equal(t, PathDeviceConnection, msg.Path)

	payload, err := DecodeConnection(msg.Payload)
	require.NoError(t, err)
	connected, ok := payload.(DeviceConnected)
	require.True(t, ok, "decoded to %T", payload)
	assert.Equal(t, "watch-1", connected.DeviceID)
	assert.Equal(t, "watch", connected.DeviceName)
	assert.Equal(t, "1.1.0", connected.ProtocolVersion)

	msg, err = NewMessage(PathDeviceConnection, NewDeviceDisconnected("watch-1"))
	require.NoError(t, err)
	payload, err = DecodeConnection(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "watch-1", payload.(DeviceDisconnected).DeviceID)

	_, err = DecodeConnection([]byte(`{"kind":"start_recording","recording_id":"r"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown connection kind")
}

func TestMetadataKey(t *testing.T) {
	assert.Equal(t, "/recording_metadata/rec-1", MetadataKey("rec-1"))
}
