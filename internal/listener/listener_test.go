package listener

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/queue"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/transport/mem"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// listenerHarness wires a full device pipeline around the listener: local
// store, mem node, orchestration service, and offline queue.
type listenerHarness struct {
	store *db.DB
	node  *mem.Node
	svc   *syncer.Service
	q     *queue.Queue
	l     *Listener
}

func fastListenerOptions() Options {
	return Options{
		AudioDelay:       50 * time.Millisecond,
		RemoteAudioDelay: 50 * time.Millisecond,
	}
}

func newListenerHarness(t *testing.T, fabric *mem.Fabric, id string) *listenerHarness {
	t.Helper()
	dir := t.TempDir()

	store, err := db.New(db.DefaultConfig(filepath.Join(dir, "wearsync.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	node := fabric.AddNode(id, id)

	svc, err := syncer.New(store, node.Transports(), models.DefaultSyncConfiguration(),
		syncer.WithAudioDir(filepath.Join(dir, "received")))
	require.NoError(t, err)

	q := queue.New(store, svc, node, models.DefaultRetryPolicy(),
		models.DefaultSyncConfiguration(), queue.DefaultOptions())

	l := New(store, svc, q, fastListenerOptions())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)
	t.Cleanup(svc.Stop)
	l.Start(ctx)
	t.Cleanup(l.Stop)

	return &listenerHarness{store: store, node: node, svc: svc, q: q, l: l}
}

func addRecording(t *testing.T, h *listenerHarness, id, title string, audio []byte) {
	t.Helper()
	rec := &models.Recording{
		ID:         id,
		Title:      title,
		Format:     "wav",
		DeviceID:   h.svc.DeviceID(),
		SyncStatus: models.SyncPending,
	}
	if audio != nil {
		path := filepath.Join(t.TempDir(), id+".wav")
		require.NoError(t, os.WriteFile(path, audio, 0644))
		rec.FilePath = path
		rec.SizeBytes = int64(len(audio))
	}
	require.NoError(t, h.store.CreateRecording(rec))
}

func TestNewRecordingSyncsAutomatically(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newListenerHarness(t, fabric, "watch")
	phone := newListenerHarness(t, fabric, "phone")

	addRecording(t, watch, "rec-1", "standup", []byte("pcm audio bytes"))

	// Metadata first: the phone's listener applies the replicated record to
	// its own table.
	require.Eventually(t, func() bool {
		rec, err := phone.store.GetRecording("rec-1")
		return err == nil && rec != nil && rec.Title == "standup"
	}, 5*time.Second, 20*time.Millisecond, "metadata never reached the phone")

	// Audio follows after the pacing delay.
	require.Eventually(t, func() bool {
		rec, err := phone.store.GetRecording("rec-1")
		return err == nil && rec != nil && rec.FilePath != ""
	}, 5*time.Second, 20*time.Millisecond, "audio never reached the phone")

	rec, _ := phone.store.GetRecording("rec-1")
	data, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("pcm audio bytes"), data)
}

func TestFailedSyncLandsInQueue(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newListenerHarness(t, fabric, "watch")
	// Store writes fail and no peer is connected: both immediate sync
	// attempts must fall through to the offline queue instead of surfacing.
	watch.node.FailPuts(models.ErrPeerDisconnected)

	addRecording(t, watch, "rec-1", "offline take", []byte("pcm"))

	require.Eventually(t, func() bool {
		st, err := watch.q.Status()
		return err == nil && st.Active >= 2
	}, 5*time.Second, 20*time.Millisecond, "failed syncs never reached the queue")

	ops, err := watch.store.NextOperations(time.Now(), 10)
	require.NoError(t, err)
	types := make(map[models.OperationType]bool)
	for _, op := range ops {
		assert.Equal(t, "rec-1", op.RecordingID)
		types[op.Type] = true
	}
	assert.True(t, types[models.OpSyncMetadata])
	assert.True(t, types[models.OpSyncAudioData])
}

func TestInitialEmissionQueuesUnfinished(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	dir := t.TempDir()

	store, err := db.New(db.DefaultConfig(filepath.Join(dir, "wearsync.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Rows exist before the listener starts: one pending, one failed, one
	// already synced.
	for _, r := range []struct {
		id     string
		status models.SyncStatus
	}{
		{"rec-pending", models.SyncPending},
		{"rec-failed", models.SyncFailed},
		{"rec-done", models.SyncCompleted},
	} {
		require.NoError(t, store.CreateRecording(&models.Recording{
			ID: r.id, Title: r.id, SyncStatus: r.status,
		}))
	}

	node := fabric.AddNode("watch", "watch")
	svc, err := syncer.New(store, node.Transports(), models.DefaultSyncConfiguration())
	require.NoError(t, err)
	q := queue.New(store, svc, node, models.DefaultRetryPolicy(),
		models.DefaultSyncConfiguration(), queue.DefaultOptions())

	l := New(store, svc, q, fastListenerOptions())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l.Start(ctx)
	t.Cleanup(l.Stop)

	require.Eventually(t, func() bool {
		st, err := q.Status()
		return err == nil && st.Active == 2
	}, 5*time.Second, 20*time.Millisecond, "unfinished recordings never queued")

	ops, err := store.NextOperations(time.Now(), 10)
	require.NoError(t, err)
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.RecordingID
		assert.Equal(t, models.OpSyncMetadata, op.Type)
	}
	assert.ElementsMatch(t, []string{"rec-pending", "rec-failed"}, ids)
}

func TestRemoteStopTriggersAudioRequest(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	phone := newListenerHarness(t, fabric, "phone")

	// The watch runs the orchestration service but no listener of its own,
	// so nothing syncs until the stop broadcast arrives.
	dir := t.TempDir()
	watchStore, err := db.New(db.DefaultConfig(filepath.Join(dir, "wearsync.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = watchStore.Close() })

	watchNode := fabric.AddNode("watch", "watch")
	watchSvc, err := syncer.New(watchStore, watchNode.Transports(), models.DefaultSyncConfiguration())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	watchSvc.Start(ctx)
	t.Cleanup(watchSvc.Stop)

	audio := []byte("remote pcm")
	audioPath := filepath.Join(dir, "rec-1.wav")
	require.NoError(t, os.WriteFile(audioPath, audio, 0644))
	require.NoError(t, watchStore.CreateRecording(&models.Recording{
		ID:         "rec-1",
		Title:      "remote take",
		FilePath:   audioPath,
		SizeBytes:  int64(len(audio)),
		DeviceID:   watchSvc.DeviceID(),
		SyncStatus: models.SyncCompleted,
	}))

	// The watch announces the stop; the phone's listener requests the audio
	// after the settle delay and the watch serves it.
	msg, err := wire.NewMessage(wire.PathRecordingStatus, wire.NewRecordingStopped("rec-1", 2000))
	require.NoError(t, err)
	require.NoError(t, watchNode.Broadcast(ctx, msg))

	require.Eventually(t, func() bool {
		rec, err := phone.store.GetRecording("rec-1")
		return err == nil && rec != nil && rec.FilePath != ""
	}, 5*time.Second, 20*time.Millisecond, "stop broadcast never produced the audio")

	rec, _ := phone.store.GetRecording("rec-1")
	got, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}
