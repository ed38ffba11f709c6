package syncer

import (
	"context"

	"github.com/google/uuid"

	"github.com/asteroid-belt/wearsync/internal/wire"
)

// StartRemoteRecording asks a peer to begin recording under a locally
// generated id. The id is returned optimistically once the control message
// is sent; confirmation arrives asynchronously on the status stream.
func (s *Service) StartRemoteRecording(ctx context.Context, peerID, title string) (string, error) {
	const op = "start remote recording"

	recordingID := uuid.New().String()
	msg, err := wire.NewMessage(wire.PathRecordingControl, wire.NewStartRecording(recordingID, title))
	if err != nil {
		return "", s.fail(recordingID, op, err)
	}
	if err := s.t.Messages.Send(ctx, peerID, msg); err != nil {
		return "", s.fail(recordingID, op, err)
	}
	return recordingID, nil
}

// StopRemoteRecording asks a peer to stop a recording.
func (s *Service) StopRemoteRecording(ctx context.Context, peerID, recordingID string) error {
	return s.sendControl(ctx, "stop remote recording", peerID, recordingID,
		wire.NewStopRecording(recordingID))
}

// PauseRemoteRecording asks a peer to pause a recording.
func (s *Service) PauseRemoteRecording(ctx context.Context, peerID, recordingID string) error {
	return s.sendControl(ctx, "pause remote recording", peerID, recordingID,
		wire.NewPauseRecording(recordingID))
}

// ResumeRemoteRecording asks a peer to resume a recording.
func (s *Service) ResumeRemoteRecording(ctx context.Context, peerID, recordingID string) error {
	return s.sendControl(ctx, "resume remote recording", peerID, recordingID,
		wire.NewResumeRecording(recordingID))
}

func (s *Service) sendControl(ctx context.Context, op, peerID, recordingID string, payload wire.ControlPayload) error {
	msg, err := wire.NewMessage(wire.PathRecordingControl, payload)
	if err != nil {
		return s.fail(recordingID, op, err)
	}
	if err := s.t.Messages.Send(ctx, peerID, msg); err != nil {
		return s.fail(recordingID, op, err)
	}
	return nil
}
