// Package listener implements the completion listener: a reactive bridge
// that watches the local recordings collection and the remote status stream
// and triggers sync operations automatically. It holds no state machine of
// its own; every failure is logged and handed to the offline queue, never
// propagated, so the recording pipeline it observes is never blocked.
package listener

import (
	"context"
	"sync"
	"time"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/queue"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// Options tunes the listener's sync pacing.
type Options struct {
	// AudioDelay spaces the audio sync away from recording-stop time so the
	// transport is not hit with metadata and audio at once.
	AudioDelay time.Duration
	// RemoteAudioDelay spaces the audio sync triggered by a remote stop.
	RemoteAudioDelay time.Duration
}

// DefaultOptions returns the standard pacing delays.
func DefaultOptions() Options {
	return Options{
		AudioDelay:       3 * time.Second,
		RemoteAudioDelay: 10 * time.Second,
	}
}

// Listener drives the orchestration service from domain events.
type Listener struct {
	store *db.DB
	svc   *syncer.Service
	q     *queue.Queue
	opts  Options

	mu   sync.Mutex
	seen map[string]bool // recording ids already observed

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a listener. Start begins observation; Stop cancels the
// listener's own tasks without touching in-flight orchestration calls.
func New(store *db.DB, svc *syncer.Service, q *queue.Queue, opts Options) *Listener {
	return &Listener{
		store: store,
		svc:   svc,
		q:     q,
		opts:  opts,
		seen:  make(map[string]bool),
		done:  make(chan struct{}),
	}
}

// Start launches the observation tasks.
func (l *Listener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		recCh, recCancel := l.store.ObserveRecordings()
		metaCh, metaCancel := l.svc.MetadataChanges()
		statusCh, statusCancel := l.svc.RemoteStatuses()

		l.wg.Add(3)
		go l.recordingsLoop(ctx, recCh, recCancel)
		go l.metadataLoop(ctx, metaCh, metaCancel)
		go l.statusLoop(ctx, statusCh, statusCancel)
	})
}

// Stop cancels the observation tasks.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

// recordingsLoop diffs each emission of the recordings collection against
// the previously seen set; new recordings get a metadata sync immediately
// and an audio sync after a short delay.
func (l *Listener) recordingsLoop(ctx context.Context, in <-chan []models.Recording, cancel func()) {
	defer l.wg.Done()
	defer cancel()

	first := true
	for {
		select {
		case recs, ok := <-in:
			if !ok {
				return
			}
			fresh := l.diff(recs)
			if first {
				// The initial emission is the existing collection, not new
				// arrivals. Queue anything that never finished syncing
				// instead of re-streaming the whole library.
				first = false
				for i := range recs {
					if recs[i].SyncStatus == models.SyncPending || recs[i].SyncStatus == models.SyncFailed {
						l.enqueue(models.OpSyncMetadata, recs[i].ID, models.PriorityNormal)
					}
				}
				continue
			}
			for _, id := range fresh {
				l.onNewRecording(ctx, id)
			}
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// diff records unseen ids and returns them.
func (l *Listener) diff(recs []models.Recording) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var fresh []string
	for i := range recs {
		id := recs[i].ID
		if !l.seen[id] {
			l.seen[id] = true
			fresh = append(fresh, id)
		}
	}
	return fresh
}

// onNewRecording triggers the sync pair for a newly appeared recording.
func (l *Listener) onNewRecording(ctx context.Context, id string) {
	log.Printf("listener: new recording %s\n", id)
	if err := l.svc.SyncRecordingMetadata(ctx, id); err != nil {
		l.enqueue(models.OpSyncMetadata, id, models.PriorityHigh)
	}
	l.after(l.opts.AudioDelay, func() {
		if err := l.svc.SyncRecordingAudioData(ctx, id); err != nil {
			l.enqueue(models.OpSyncAudioData, id, models.PriorityNormal)
		}
	})
}

// metadataLoop applies replicated metadata from peers to the local table,
// so a recording captured on the other device becomes visible here.
func (l *Listener) metadataLoop(ctx context.Context, in <-chan *models.RecordingMetadata, cancel func()) {
	defer l.wg.Done()
	defer cancel()
	for {
		select {
		case meta, ok := <-in:
			if !ok {
				return
			}
			l.applyMetadata(meta)
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) applyMetadata(meta *models.RecordingMetadata) {
	if meta.DeviceID == l.svc.DeviceID() {
		// Our own write reflected back through the store.
		return
	}
	rec := &models.Recording{
		ID:          meta.ID,
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        models.StringList(meta.Tags),
		DurationMs:  meta.DurationMs,
		SizeBytes:   meta.SizeBytes,
		Format:      meta.Format,
		SampleRate:  meta.SampleRate,
		BitRate:     meta.BitRate,
		DeviceID:    meta.DeviceID,
		SyncStatus:  meta.SyncStatus,
		CreatedAt:   meta.CreatedAt,
		UpdatedAt:   meta.UpdatedAt,
	}
	if err := l.store.UpsertRecording(rec); err != nil {
		log.Errorf("listener: apply metadata for %s: %v", meta.ID, err)
		return
	}
	l.mu.Lock()
	l.seen[meta.ID] = true
	l.mu.Unlock()
}

// statusLoop reacts to remote stops: metadata sync first, audio sync after
// a longer delay.
func (l *Listener) statusLoop(ctx context.Context, in <-chan syncer.RemoteStatus, cancel func()) {
	defer l.wg.Done()
	defer cancel()
	for {
		select {
		case status, ok := <-in:
			if !ok {
				return
			}
			stopped, ok := status.Status.(wire.RecordingStopped)
			if !ok {
				continue
			}
			l.onRemoteStopped(ctx, status.PeerID, stopped.RecordingID)
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// onRemoteStopped requests the stopped recording's audio from its owner
// after the settle delay. The metadata side is handled by the orchestration
// service's own status handling.
func (l *Listener) onRemoteStopped(ctx context.Context, peerID, recordingID string) {
	l.after(l.opts.RemoteAudioDelay, func() {
		if err := l.svc.RequestAudioSync(ctx, peerID, recordingID); err != nil {
			log.Errorf("listener: request audio for %s: %v", recordingID, err)
		}
	})
}

// enqueue hands a failed immediate sync to the offline queue for retry.
func (l *Listener) enqueue(opType models.OperationType, recordingID string, priority models.Priority) {
	if l.q == nil {
		return
	}
	if _, err := l.q.Enqueue(opType, recordingID, nil, priority); err != nil {
		log.Errorf("listener: enqueue %s for %s: %v", opType, recordingID, err)
	}
}

// after runs fn once the delay elapses, unless the listener stops first.
func (l *Listener) after(d time.Duration, fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-time.After(d):
			fn()
		case <-l.done:
		}
	}()
}
