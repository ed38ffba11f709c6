package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// SyncRecordingMetadata publishes one recording's metadata to the data sync
// store. The local store is read as the authority; the record passes through
// IN_PROGRESS and lands as COMPLETED on both sides. Failures mark the
// recording FAILED locally and surface on the error stream; there is no
// internal retry.
func (s *Service) SyncRecordingMetadata(ctx context.Context, id string) error {
	const op = "sync recording metadata"

	rec, err := s.store.GetRecording(id)
	if err != nil {
		return s.fail(id, op, err)
	}
	if rec == nil {
		return s.fail(id, op, fmt.Errorf("recording %s not found", id))
	}

	s.status.Set(models.SyncInProgress)
	if err := s.store.UpdateSyncStatus(id, models.SyncInProgress); err != nil {
		return s.fail(id, op, err)
	}

	meta := rec.Metadata(models.SyncInProgress)
	if err := s.putMetadata(ctx, meta); err != nil {
		s.markFailed(id)
		return s.fail(id, op, err)
	}

	meta.SyncStatus = models.SyncCompleted
	if err := s.putMetadata(ctx, meta); err != nil {
		s.markFailed(id)
		return s.fail(id, op, err)
	}

	if err := s.store.UpdateSyncStatus(id, models.SyncCompleted); err != nil {
		return s.fail(id, op, err)
	}
	s.status.Set(models.SyncCompleted)
	s.tel.TrackMetadataSynced(1)
	log.Printf("syncer: metadata synced for %s\n", id)
	return nil
}

// SyncAllRecordings syncs every local recording's metadata. Each recording's
// outcome is independent; one failure does not abort the batch. Returns the
// number synced and the joined errors, if any.
func (s *Service) SyncAllRecordings(ctx context.Context) (int, error) {
	recs, err := s.store.ListRecordings()
	if err != nil {
		return 0, s.fail("", "sync all recordings", err)
	}

	synced := 0
	var errs []error
	for i := range recs {
		if err := s.SyncRecordingMetadata(ctx, recs[i].ID); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

// UpdateRecordingTitle edits a title. The local write is authoritative and
// happens first; the broadcast and the data-store refresh follow best-effort
// and are never rolled back.
func (s *Service) UpdateRecordingTitle(ctx context.Context, id, title string) error {
	return s.updateMetadata(ctx, "update recording title", id,
		func() error { return s.store.UpdateTitle(id, title) },
		wire.NewUpdateMetadata(id, &title, nil, nil))
}

// UpdateRecordingDescription edits a description, local-first.
func (s *Service) UpdateRecordingDescription(ctx context.Context, id, description string) error {
	return s.updateMetadata(ctx, "update recording description", id,
		func() error { return s.store.UpdateDescription(id, description) },
		wire.NewUpdateMetadata(id, nil, &description, nil))
}

// UpdateRecordingTags replaces a tag set, local-first.
func (s *Service) UpdateRecordingTags(ctx context.Context, id string, tags []string) error {
	return s.updateMetadata(ctx, "update recording tags", id,
		func() error { return s.store.UpdateTags(id, tags) },
		wire.NewUpdateMetadata(id, nil, nil, &tags))
}

// updateMetadata runs the shared edit sequence: local write, then broadcast,
// then data-store refresh. A failed local write aborts; a failed remote step
// reports an error but leaves the local edit in place.
func (s *Service) updateMetadata(ctx context.Context, op, id string, localWrite func() error, payload wire.UpdateMetadata) error {
	if err := localWrite(); err != nil {
		return s.fail(id, op, err)
	}

	msg, err := wire.NewMessage(wire.PathMetadataSync, payload)
	if err != nil {
		return s.fail(id, op, err)
	}
	if err := s.t.Messages.Broadcast(ctx, msg); err != nil {
		return s.fail(id, op, err)
	}

	// Best-effort refresh of the replicated record; the broadcast already
	// carried the edit.
	if err := s.refreshStoreRecord(ctx, id); err != nil {
		log.Errorf("syncer: %s: refresh store record: %v", op, err)
	}
	return nil
}

// DeleteRecording removes a recording from both stores: the local table and
// the replicated metadata record.
func (s *Service) DeleteRecording(ctx context.Context, id string) error {
	const op = "delete recording"

	if err := s.store.DeleteRecording(id); err != nil {
		return s.fail(id, op, err)
	}
	if err := s.t.Data.Delete(ctx, wire.MetadataKey(id)); err != nil {
		return s.fail(id, op, err)
	}
	log.Printf("syncer: deleted recording %s\n", id)
	return nil
}

// putMetadata encodes and writes one metadata record to the data sync store.
func (s *Service) putMetadata(ctx context.Context, meta *models.RecordingMetadata) error {
	data, err := meta.Encode()
	if err != nil {
		return err
	}
	return s.t.Data.Put(ctx, wire.MetadataKey(meta.ID), data)
}

// refreshStoreRecord re-publishes the current local state of a recording to
// the data sync store, keeping its current sync status.
func (s *Service) refreshStoreRecord(ctx context.Context, id string) error {
	rec, err := s.store.GetRecording(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("recording %s not found", id)
	}
	return s.putMetadata(ctx, rec.Metadata(rec.SyncStatus))
}

// markFailed moves a recording to FAILED locally, logging rather than
// propagating a second error from the failure path.
func (s *Service) markFailed(id string) {
	s.status.Set(models.SyncFailed)
	if err := s.store.UpdateSyncStatus(id, models.SyncFailed); err != nil {
		log.Errorf("syncer: mark %s failed: %v", id, err)
	}
}
