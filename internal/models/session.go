package models

import "time"

// SessionStatus is the lifecycle state of a recording session tracked on a
// peer device.
type SessionStatus string

// Session statuses. Valid transitions are RECORDING <-> PAUSED -> STOPPED,
// with ERROR reachable from any state on an inbound error status.
const (
	SessionRecording SessionStatus = "RECORDING"
	SessionPaused    SessionStatus = "PAUSED"
	SessionStopped   SessionStatus = "STOPPED"
	SessionError     SessionStatus = "ERROR"
)

// RemoteRecordingSession is a recording session believed to be active on a
// specific peer device. Status changes only through a successful local
// control call or an inbound status broadcast from the owning device;
// it is never inferred.
type RemoteRecordingSession struct {
	RecordingID string        `json:"recording_id"`
	DeviceID    string        `json:"device_id"`
	DeviceName  string        `json:"device_name,omitempty"`
	Title       string        `json:"title,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Status      SessionStatus `json:"status"`

	// Confirmed is set once the owning device acknowledges the session.
	// Optimistic sessions that are never confirmed time out to ERROR.
	Confirmed bool `json:"confirmed"`
}

// Active reports whether the session counts as recording for
// is-device-recording lookups (RECORDING or PAUSED).
func (s *RemoteRecordingSession) Active() bool {
	return s.Status == SessionRecording || s.Status == SessionPaused
}
