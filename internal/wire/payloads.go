package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// ControlPayload is a recording-control variant.
type ControlPayload interface{ controlPayload() }

// StartRecording asks a peer to begin recording under a locally generated id.
type StartRecording struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
	Title       string `json:"title,omitempty"`
}

// StopRecording asks a peer to stop the named recording.
type StopRecording struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
}

// PauseRecording asks a peer to pause the named recording.
type PauseRecording struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
}

// ResumeRecording asks a peer to resume the named recording.
type ResumeRecording struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
}

func (StartRecording) controlPayload()  {}
func (StopRecording) controlPayload()   {}
func (PauseRecording) controlPayload()  {}
func (ResumeRecording) controlPayload() {}

// NewStartRecording builds a tagged start-recording payload.
func NewStartRecording(recordingID, title string) StartRecording {
	return StartRecording{Kind: KindStartRecording, RecordingID: recordingID, Title: title}
}

// NewStopRecording builds a tagged stop-recording payload.
func NewStopRecording(recordingID string) StopRecording {
	return StopRecording{Kind: KindStopRecording, RecordingID: recordingID}
}

// NewPauseRecording builds a tagged pause-recording payload.
func NewPauseRecording(recordingID string) PauseRecording {
	return PauseRecording{Kind: KindPauseRecording, RecordingID: recordingID}
}

// NewResumeRecording builds a tagged resume-recording payload.
func NewResumeRecording(recordingID string) ResumeRecording {
	return ResumeRecording{Kind: KindResumeRecording, RecordingID: recordingID}
}

// DecodeControl parses a recording-control payload.
func DecodeControl(data []byte) (ControlPayload, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStartRecording:
		var p StartRecording
		return decodeInto(data, &p)
	case KindStopRecording:
		var p StopRecording
		return decodeInto(data, &p)
	case KindPauseRecording:
		var p PauseRecording
		return decodeInto(data, &p)
	case KindResumeRecording:
		var p ResumeRecording
		return decodeInto(data, &p)
	default:
		return nil, fmt.Errorf("unknown control kind %q", kind)
	}
}

// StatusPayload is a recording-status variant.
type StatusPayload interface{ statusPayload() }

// RecordingStarted announces that a recording began on the sending device.
type RecordingStarted struct {
	Kind        Kind      `json:"kind"`
	RecordingID string    `json:"recording_id"`
	Title       string    `json:"title,omitempty"`
	DeviceName  string    `json:"device_name,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// RecordingStopped announces that a recording finished on the sending device.
type RecordingStopped struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
	DurationMs  int64  `json:"duration_ms"`
}

// RecordingError announces that a recording failed on the sending device.
type RecordingError struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
	Message     string `json:"message"`
}

func (RecordingStarted) statusPayload() {}
func (RecordingStopped) statusPayload() {}
func (RecordingError) statusPayload()   {}

// NewRecordingStarted builds a tagged recording-started payload.
func NewRecordingStarted(recordingID, title, deviceName string, startedAt time.Time) RecordingStarted {
	return RecordingStarted{
		Kind:        KindRecordingStarted,
		RecordingID: recordingID,
		Title:       title,
		DeviceName:  deviceName,
		StartedAt:   startedAt,
	}
}

// NewRecordingStopped builds a tagged recording-stopped payload.
func NewRecordingStopped(recordingID string, durationMs int64) RecordingStopped {
	return RecordingStopped{Kind: KindRecordingStopped, RecordingID: recordingID, DurationMs: durationMs}
}

// NewRecordingError builds a tagged recording-error payload.
func NewRecordingError(recordingID, message string) RecordingError {
	return RecordingError{Kind: KindRecordingError, RecordingID: recordingID, Message: message}
}

// DecodeStatus parses a recording-status payload.
func DecodeStatus(data []byte) (StatusPayload, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindRecordingStarted:
		var p RecordingStarted
		return decodeInto(data, &p)
	case KindRecordingStopped:
		var p RecordingStopped
		return decodeInto(data, &p)
	case KindRecordingError:
		var p RecordingError
		return decodeInto(data, &p)
	default:
		return nil, fmt.Errorf("unknown status kind %q", kind)
	}
}

// MetadataPayload is a metadata-sync variant.
type MetadataPayload interface{ metadataPayload() }

// UpdateMetadata carries a partial metadata edit. Only non-nil fields are
// applied on the receiving device.
type UpdateMetadata struct {
	Kind        Kind      `json:"kind"`
	RecordingID string    `json:"recording_id"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// MetadataUpdated confirms that a metadata edit was applied.
type MetadataUpdated struct {
	Kind        Kind      `json:"kind"`
	RecordingID string    `json:"recording_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (UpdateMetadata) metadataPayload()  {}
func (MetadataUpdated) metadataPayload() {}

// NewUpdateMetadata builds a tagged partial metadata update.
func NewUpdateMetadata(recordingID string, title, description *string, tags *[]string) UpdateMetadata {
	return UpdateMetadata{
		Kind:        KindUpdateMetadata,
		RecordingID: recordingID,
		Title:       title,
		Description: description,
		Tags:        tags,
	}
}

// NewMetadataUpdated builds a tagged confirmation payload.
func NewMetadataUpdated(recordingID string, updatedAt time.Time) MetadataUpdated {
	return MetadataUpdated{Kind: KindMetadataUpdated, RecordingID: recordingID, UpdatedAt: updatedAt}
}

// DecodeMetadata parses a metadata-sync payload.
func DecodeMetadata(data []byte) (MetadataPayload, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindUpdateMetadata:
		var p UpdateMetadata
		return decodeInto(data, &p)
	case KindMetadataUpdated:
		var p MetadataUpdated
		return decodeInto(data, &p)
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", kind)
	}
}

// AudioSyncRequest asks the owning device to stream a recording's audio.
type AudioSyncRequest struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
}

// AudioSyncComplete announces that a recording's audio finished streaming.
type AudioSyncComplete struct {
	Kind        Kind   `json:"kind"`
	RecordingID string `json:"recording_id"`
	SizeBytes   int64  `json:"size_bytes"`
}

// NewAudioSyncRequest builds a tagged audio-sync request.
func NewAudioSyncRequest(recordingID string) AudioSyncRequest {
	return AudioSyncRequest{Kind: KindAudioSyncRequest, RecordingID: recordingID}
}

// NewAudioSyncComplete builds a tagged audio-sync completion notice.
func NewAudioSyncComplete(recordingID string, sizeBytes int64) AudioSyncComplete {
	return AudioSyncComplete{Kind: KindAudioSyncComplete, RecordingID: recordingID, SizeBytes: sizeBytes}
}

// DecodeAudioSyncRequest parses an audio-sync-request payload.
func DecodeAudioSyncRequest(data []byte) (*AudioSyncRequest, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}
	if kind != KindAudioSyncRequest {
		return nil, fmt.Errorf("unknown audio-sync-request kind %q", kind)
	}
	var p AudioSyncRequest
	if _, err := decodeInto(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeAudioSyncComplete parses an audio-sync-complete payload.
func DecodeAudioSyncComplete(data []byte) (*AudioSyncComplete, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}
	if kind != KindAudioSyncComplete {
		return nil, fmt.Errorf("unknown audio-sync-complete kind %q", kind)
	}
	var p AudioSyncComplete
	if _, err := decodeInto(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ConnectionPayload is a device-connection variant. These messages are
// synthesized locally by the transport at link transitions, so observers can
// route connectivity like any other inbound path.
type ConnectionPayload interface{ connectionPayload() }

// DeviceConnected announces that the peer link came up.
type DeviceConnected struct {
	Kind            Kind   `json:"kind"`
	DeviceID        string `json:"device_id"`
	DeviceName      string `json:"device_name,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// DeviceDisconnected announces that the peer link dropped.
type DeviceDisconnected struct {
	Kind     Kind   `json:"kind"`
	DeviceID string `json:"device_id"`
}

func (DeviceConnected) connectionPayload()    {}
func (DeviceDisconnected) connectionPayload() {}

// NewDeviceConnected builds a tagged device-connected payload.
func NewDeviceConnected(deviceID, deviceName, protocolVersion string) DeviceConnected {
	return DeviceConnected{
		Kind:            KindDeviceConnected,
		DeviceID:        deviceID,
		DeviceName:      deviceName,
		ProtocolVersion: protocolVersion,
	}
}

// NewDeviceDisconnected builds a tagged device-disconnected payload.
func NewDeviceDisconnected(deviceID string) DeviceDisconnected {
	return DeviceDisconnected{Kind: KindDeviceDisconnected, DeviceID: deviceID}
}

// DecodeConnection parses a device-connection payload.
func DecodeConnection(data []byte) (ConnectionPayload, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindDeviceConnected:
		var p DeviceConnected
		return decodeInto(data, &p)
	case KindDeviceDisconnected:
		var p DeviceDisconnected
		return decodeInto(data, &p)
	default:
		return nil, fmt.Errorf("unknown connection kind %q", kind)
	}
}

func decodeInto[T any](data []byte, p *T) (T, error) {
	if err := json.Unmarshal(data, p); err != nil {
		return *p, fmt.Errorf("decode payload: %w", err)
	}
	return *p, nil
}
