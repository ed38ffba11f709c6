// Package wire defines the message paths and payload formats exchanged
// between paired devices. Payloads are JSON documents tagged with an
// explicit "kind" field; decoding is a closed switch over the tag. Unknown
// fields in inbound JSON are ignored for forward compatibility.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message paths route inbound messages to handlers.
const (
	PathRecordingControl  = "/wearsync/recording-control"
	PathRecordingStatus   = "/wearsync/recording-status"
	PathMetadataSync      = "/wearsync/metadata-sync"
	PathAudioSyncRequest  = "/wearsync/audio-sync-request"
	PathAudioSyncComplete = "/wearsync/audio-sync-complete"
	PathDeviceConnection  = "/wearsync/device-connection"
)

// Data sync store keys.
const (
	KeyPrefixRecordingMetadata = "/recording_metadata/"
	KeyDevicePreferences       = "/device_preferences"
	KeySyncConfiguration       = "/sync_configuration"
)

// MetadataKey returns the data-store key for one recording's metadata.
func MetadataKey(recordingID string) string {
	return KeyPrefixRecordingMetadata + recordingID
}

// Message is one small structured message addressed to a path. It never
// carries bulk audio; large payloads go through channels.
type Message struct {
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage encodes a payload onto a path.
func NewMessage(path string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", path, err)
	}
	return Message{Path: path, Payload: data}, nil
}

// Kind discriminates payload variants within a path.
type Kind string

// Payload kinds.
const (
	// recording-control
	KindStartRecording  Kind = "start_recording"
	KindStopRecording   Kind = "stop_recording"
	KindPauseRecording  Kind = "pause_recording"
	KindResumeRecording Kind = "resume_recording"

	// recording-status
	KindRecordingStarted Kind = "recording_started"
	KindRecordingStopped Kind = "recording_stopped"
	KindRecordingError   Kind = "recording_error"

	// metadata-sync
	KindUpdateMetadata  Kind = "update_metadata"
	KindMetadataUpdated Kind = "metadata_updated"

	// audio-sync-request / audio-sync-complete
	KindAudioSyncRequest  Kind = "audio_sync_request"
	KindAudioSyncComplete Kind = "audio_sync_complete"

	// device-connection
	KindDeviceConnected    Kind = "device_connected"
	KindDeviceDisconnected Kind = "device_disconnected"
)

// peekKind extracts the discriminator without decoding the full payload.
func peekKind(data []byte) (Kind, error) {
	var env struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("peek payload kind: %w", err)
	}
	if env.Kind == "" {
		return "", fmt.Errorf("payload has no kind tag")
	}
	return env.Kind, nil
}
