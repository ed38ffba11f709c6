package telemetry

import (
	"runtime"

	"github.com/asteroid-belt/wearsync/pkg/version"
)

// Event names - CLI
const (
	EventAppStarted         = "app_started"
	EventAppExited          = "app_exited"
	EventCLICommandExecuted = "cli_command_executed"
	EventCLIErrorOccurred   = "cli_error_occurred"
)

// Event names - engine
const (
	EventPeerLinked           = "peer_linked"
	EventPeerDropped          = "peer_dropped"
	EventMetadataSynced       = "metadata_synced"
	EventAudioSynced          = "audio_synced"
	EventQueueDrained         = "queue_drained"
	EventOperationFailed      = "operation_failed"
	EventRemoteSessionStarted = "remote_session_started"
	EventRemoteSessionStopped = "remote_session_stopped"
)

// Version is set at compile time via ldflags.
var Version string

// baseProperties returns common properties for all events.
func baseProperties() map[string]interface{} {
	return map[string]interface{}{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"version":    Version,
		"prerelease": version.IsPrerelease(),
		"dev_build":  version.IsDevBuild(),
	}
}

// --- CLI Tracking Methods ---

// TrackAppStarted tracks application startup.
func (c *posthogClient) TrackAppStarted(mode string, peerConfigured bool) {
	props := baseProperties()
	props["mode"] = mode
	props["peer_configured"] = peerConfigured
	c.Track(EventAppStarted, props)
}

// TrackAppExited tracks application exit.
func (c *posthogClient) TrackAppExited(mode string, sessionDurationMs int64) {
	props := baseProperties()
	props["mode"] = mode
	props["session_duration_ms"] = sessionDurationMs
	c.Track(EventAppExited, props)
}

// TrackCLICommandExecuted tracks CLI command execution.
func (c *posthogClient) TrackCLICommandExecuted(commandName string, hasFlags bool, durationMs int64) {
	props := baseProperties()
	props["command_name"] = commandName
	props["has_flags"] = hasFlags
	props["execution_duration_ms"] = durationMs
	c.Track(EventCLICommandExecuted, props)
}

// TrackCLIError tracks CLI errors.
func (c *posthogClient) TrackCLIError(commandName, errorType string) {
	props := baseProperties()
	props["command_name"] = commandName
	props["error_type"] = errorType
	c.Track(EventCLIErrorOccurred, props)
}

// --- Engine Tracking Methods ---

// TrackPeerLinked tracks a peer link coming up.
func (c *posthogClient) TrackPeerLinked(protocolVersion string) {
	props := baseProperties()
	props["protocol_version"] = protocolVersion
	c.Track(EventPeerLinked, props)
}

// TrackPeerDropped tracks a peer link going down.
func (c *posthogClient) TrackPeerDropped(linkDurationMs int64) {
	props := baseProperties()
	props["link_duration_ms"] = linkDurationMs
	c.Track(EventPeerDropped, props)
}

// TrackMetadataSynced tracks metadata sync passes.
func (c *posthogClient) TrackMetadataSynced(recordingCount int) {
	props := baseProperties()
	props["recording_count"] = recordingCount
	c.Track(EventMetadataSynced, props)
}

// TrackAudioSynced tracks completed audio transfers.
func (c *posthogClient) TrackAudioSynced(sizeBytes, durationMs int64) {
	props := baseProperties()
	props["size_bytes"] = sizeBytes
	props["duration_ms"] = durationMs
	c.Track(EventAudioSynced, props)
}

// TrackQueueDrained tracks offline queue processing passes.
func (c *posthogClient) TrackQueueDrained(processed, failed int) {
	props := baseProperties()
	props["processed"] = processed
	props["failed"] = failed
	c.Track(EventQueueDrained, props)
}

// TrackOperationFailed tracks queued operation failures by kind.
func (c *posthogClient) TrackOperationFailed(opType, errorType string, retryCount int) {
	props := baseProperties()
	props["operation_type"] = opType
	props["error_type"] = errorType
	props["retry_count"] = retryCount
	c.Track(EventOperationFailed, props)
}

// TrackRemoteSessionStarted tracks remote recording session starts.
func (c *posthogClient) TrackRemoteSessionStarted(confirmed bool) {
	props := baseProperties()
	props["confirmed"] = confirmed
	c.Track(EventRemoteSessionStarted, props)
}

// TrackRemoteSessionStopped tracks remote recording session stops.
func (c *posthogClient) TrackRemoteSessionStopped(durationMs int64) {
	props := baseProperties()
	props["duration_ms"] = durationMs
	c.Track(EventRemoteSessionStopped, props)
}

// --- No-op implementations ---

func (c *NoopClient) TrackAppStarted(mode string, peerConfigured bool)                     {}
func (c *NoopClient) TrackAppExited(mode string, sessionDurationMs int64)                  {}
func (c *NoopClient) TrackCLICommandExecuted(commandName string, hasFlags bool, d int64)   {}
func (c *NoopClient) TrackCLIError(commandName, errorType string)                          {}
func (c *NoopClient) TrackPeerLinked(protocolVersion string)                               {}
func (c *NoopClient) TrackPeerDropped(linkDurationMs int64)                                {}
func (c *NoopClient) TrackMetadataSynced(recordingCount int)                               {}
func (c *NoopClient) TrackAudioSynced(sizeBytes, durationMs int64)                         {}
func (c *NoopClient) TrackQueueDrained(processed, failed int)                              {}
func (c *NoopClient) TrackOperationFailed(opType, errorType string, retryCount int)        {}
func (c *NoopClient) TrackRemoteSessionStarted(confirmed bool)                             {}
func (c *NoopClient) TrackRemoteSessionStopped(durationMs int64)                           {}
