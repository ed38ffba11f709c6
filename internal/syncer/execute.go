package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asteroid-belt/wearsync/internal/models"
)

// Payload keys recognized by Execute.
const (
	PayloadTitle       = "title"
	PayloadDescription = "description"
	PayloadTags        = "tags" // JSON-encoded string array
)

// Execute dispatches one queued operation to the matching public operation.
// The offline queue calls this from its processing loop; the closed switch
// keeps every operation type accounted for.
func (s *Service) Execute(ctx context.Context, op *models.QueuedOperation) error {
	switch op.Type {
	case models.OpSyncMetadata:
		return s.SyncRecordingMetadata(ctx, op.RecordingID)

	case models.OpSyncAudioData:
		return s.SyncRecordingAudioData(ctx, op.RecordingID)

	case models.OpUpdateTitle:
		return s.UpdateRecordingTitle(ctx, op.RecordingID, op.Payload[PayloadTitle])

	case models.OpUpdateDescription:
		return s.UpdateRecordingDescription(ctx, op.RecordingID, op.Payload[PayloadDescription])

	case models.OpUpdateTags:
		var tags []string
		if raw := op.Payload[PayloadTags]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &tags); err != nil {
				return fmt.Errorf("decode tags payload: %w", err)
			}
		}
		return s.UpdateRecordingTags(ctx, op.RecordingID, tags)

	case models.OpDeleteRecording:
		return s.DeleteRecording(ctx, op.RecordingID)

	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// TagsPayload encodes a tag list for an update-tags operation payload.
func TagsPayload(tags []string) (models.Payload, error) {
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags payload: %w", err)
	}
	return models.Payload{PayloadTags: string(data)}, nil
}
