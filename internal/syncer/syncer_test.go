package syncer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/telemetry"
	"github.com/asteroid-belt/wearsync/internal/transport/mem"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// testEngine is one device under test: a store, a mem node, and a service.
type testEngine struct {
	store *db.DB
	node  *mem.Node
	svc   *Service
}

func newTestEngine(t *testing.T, fabric *mem.Fabric, id, name string, extra ...Option) *testEngine {
	t.Helper()
	dir := t.TempDir()

	store, err := db.New(db.DefaultConfig(filepath.Join(dir, "wearsync.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	node := fabric.AddNode(id, name)

	opts := append([]Option{
		WithDeviceName(name),
		WithAudioDir(filepath.Join(dir, "received")),
	}, extra...)
	svc, err := New(store, node.Transports(), models.DefaultSyncConfiguration(), opts...)
	require.NoError(t, err)
	return &testEngine{store: store, node: node, svc: svc}
}

func (e *testEngine) start(t *testing.T, ctx context.Context) {
	t.Helper()
	e.svc.Start(ctx)
	t.Cleanup(e.svc.Stop)
}

func seedRecording(t *testing.T, e *testEngine, id, title string, audio []byte) *models.Recording {
	t.Helper()
	rec := &models.Recording{
		ID:         id,
		Title:      title,
		Format:     "wav",
		DeviceID:   e.svc.DeviceID(),
		SyncStatus: models.SyncPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if audio != nil {
		path := filepath.Join(t.TempDir(), id+".wav")
		require.NoError(t, os.WriteFile(path, audio, 0644))
		rec.FilePath = path
		rec.SizeBytes = int64(len(audio))
	}
	require.NoError(t, e.store.CreateRecording(rec))
	return rec
}

func TestSyncRecordingMetadata(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	phone := newTestEngine(t, fabric, "phone", "phone")
	_ = phone

	ctx := context.Background()
	seedRecording(t, watch, "rec-1", "standup", nil)

	require.NoError(t, watch.svc.SyncRecordingMetadata(ctx, "rec-1"))

	// Read-your-writes against the data sync store.
	val, ok, err := watch.node.Store().Get(ctx, wire.MetadataKey("rec-1"))
	require.NoError(t, err)
	require.True(t, ok)
	meta, err := models.DecodeRecordingMetadata(val)
	require.NoError(t, err)
	assert.Equal(t, "standup", meta.Title)
	assert.Equal(t, models.SyncCompleted, meta.SyncStatus)

	// Local status follows.
	rec, err := watch.store.GetRecording("rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, rec.SyncStatus)
	assert.Equal(t, models.SyncCompleted, watch.svc.Status())
}

func TestSyncMetadataUnknownRecording(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	newTestEngine(t, fabric, "phone", "phone")

	errs, cancel := watch.svc.Errors()
	defer cancel()

	err := watch.svc.SyncRecordingMetadata(context.Background(), "ghost")
	require.Error(t, err)

	select {
	case se := <-errs:
		assert.Equal(t, "ghost", se.RecordingID)
	case <-time.After(2 * time.Second):
		t.Fatal("no error published on the stream")
	}
}

func TestMetadataPropagatesAcrossDevices(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	fabric.SetPropagationDelay(20 * time.Millisecond)

	watch := newTestEngine(t, fabric, "watch", "watch")
	phone := newTestEngine(t, fabric, "phone", "phone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	phone.start(t, ctx)

	changes, cancelChanges := phone.svc.MetadataChanges()
	defer cancelChanges()

	// The watch records; the phone observes without asking.
	seedRecording(t, watch, "rec-1", "field notes", nil)
	require.NoError(t, watch.svc.SyncRecordingMetadata(ctx, "rec-1"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case meta := <-changes:
			if meta.ID == "rec-1" && meta.SyncStatus == models.SyncCompleted {
				assert.Equal(t, "field notes", meta.Title)
				assert.Equal(t, watch.svc.DeviceID(), meta.DeviceID)
				return
			}
		case <-deadline:
			t.Fatal("phone never observed the recording")
		}
	}
}

func TestUpdateTitleLocalFirst(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	newTestEngine(t, fabric, "phone", "phone")

	ctx := context.Background()
	seedRecording(t, watch, "rec-1", "old title", nil)

	errs, cancelErrs := watch.svc.Errors()
	defer cancelErrs()

	// Break the transport: the local edit must still land, and the failure
	// must surface on the error stream.
	watch.node.FailSends(models.ErrPeerDisconnected)

	err := watch.svc.UpdateRecordingTitle(ctx, "rec-1", "new title")
	require.Error(t, err)

	rec, err := watch.store.GetRecording("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "new title", rec.Title, "local write must precede the broadcast")

	select {
	case se := <-errs:
		assert.Equal(t, models.ErrorDeviceDisconnected, se.Type)
		assert.Equal(t, "rec-1", se.RecordingID)
	case <-time.After(2 * time.Second):
		t.Fatal("no error published")
	}
}

func TestUpdateAppliesOnPeer(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	phone := newTestEngine(t, fabric, "phone", "phone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	phone.start(t, ctx)

	// Same recording known on both sides.
	seedRecording(t, watch, "rec-1", "old", nil)
	seedRecording(t, phone, "rec-1", "old", nil)

	require.NoError(t, watch.svc.UpdateRecordingTags(ctx, "rec-1", []string{"meeting", "q3"}))

	require.Eventually(t, func() bool {
		rec, err := phone.store.GetRecording("rec-1")
		return err == nil && rec != nil && len(rec.Tags) == 2
	}, 5*time.Second, 20*time.Millisecond, "edit never reached the peer")

	rec, _ := phone.store.GetRecording("rec-1")
	assert.Equal(t, models.StringList{"meeting", "q3"}, rec.Tags)
}

func TestDeleteRecordingRemovesStoreRecord(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	newTestEngine(t, fabric, "phone", "phone")

	ctx := context.Background()
	seedRecording(t, watch, "rec-1", "scrap", nil)
	require.NoError(t, watch.svc.SyncRecordingMetadata(ctx, "rec-1"))

	require.NoError(t, watch.svc.DeleteRecording(ctx, "rec-1"))

	rec, err := watch.store.GetRecording("rec-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, ok, err := watch.node.Store().Get(ctx, wire.MetadataKey("rec-1"))
	require.NoError(t, err)
	assert.False(t, ok, "store record must be tombstoned")
}

func TestAudioSyncStreamsFile(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	phone := newTestEngine(t, fabric, "phone", "phone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch.start(t, ctx)
	phone.start(t, ctx)

	audio := make([]byte, 128*1024)
	for i := range audio {
		audio[i] = byte(i)
	}
	seedRecording(t, watch, "rec-1", "long take", audio)

	require.NoError(t, watch.svc.SyncRecordingAudioData(ctx, "rec-1"))

	require.Eventually(t, func() bool {
		rec, err := phone.store.GetRecording("rec-1")
		return err == nil && rec != nil && rec.FilePath != "" && rec.SyncStatus == models.SyncCompleted
	}, 5*time.Second, 20*time.Millisecond, "audio never landed on the phone")

	rec, _ := phone.store.GetRecording("rec-1")
	got, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
	assert.Equal(t, int64(len(audio)), rec.SizeBytes)
}

func TestAudioSyncNoPeers(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")

	seedRecording(t, watch, "rec-1", "alone", []byte("pcm"))

	err := watch.svc.SyncRecordingAudioData(context.Background(), "rec-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoConnectedPeers)
}

func TestAudioRequestServed(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	phone := newTestEngine(t, fabric, "phone", "phone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch.start(t, ctx)
	phone.start(t, ctx)

	audio := []byte("short clip")
	seedRecording(t, watch, "rec-1", "clip", audio)

	// The phone asks; the watch serves.
	require.NoError(t, phone.svc.RequestAudioSync(ctx, "watch", "rec-1"))

	require.Eventually(t, func() bool {
		rec, err := phone.store.GetRecording("rec-1")
		return err == nil && rec != nil && rec.FilePath != ""
	}, 5*time.Second, 20*time.Millisecond, "requested audio never arrived")
}

func TestExecuteDispatch(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	newTestEngine(t, fabric, "phone", "phone")

	ctx := context.Background()
	seedRecording(t, watch, "rec-1", "before", nil)

	payload, err := TagsPayload([]string{"a", "b"})
	require.NoError(t, err)

	ops := []*models.QueuedOperation{
		{Type: models.OpSyncMetadata, RecordingID: "rec-1"},
		{Type: models.OpUpdateTitle, RecordingID: "rec-1", Payload: models.Payload{PayloadTitle: "after"}},
		{Type: models.OpUpdateTags, RecordingID: "rec-1", Payload: payload},
	}
	for _, op := range ops {
		require.NoError(t, watch.svc.Execute(ctx, op), "op %s", op.Type)
	}

	rec, err := watch.store.GetRecording("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "after", rec.Title)
	assert.Equal(t, models.StringList{"a", "b"}, rec.Tags)

	// Unknown operation types are rejected, not ignored.
	err = watch.svc.Execute(ctx, &models.QueuedOperation{Type: "reticulate-splines"})
	require.Error(t, err)
}

func TestDevicePreferencesReplicate(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	watch := newTestEngine(t, fabric, "watch", "watch")
	phone := newTestEngine(t, fabric, "phone", "phone")

	ctx := context.Background()

	// Unwritten key falls back to defaults.
	prefs, err := phone.svc.DevicePreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultDevicePreferences(), prefs)

	want := models.DefaultDevicePreferences()
	want.AudioQuality = "low"
	want.SyncOnWifiOnly = true
	require.NoError(t, watch.svc.PublishDevicePreferences(ctx, want))

	require.Eventually(t, func() bool {
		got, err := phone.svc.DevicePreferences(ctx)
		return err == nil && got == want
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, watch.svc.PublishSyncConfiguration(ctx))
	_, ok, err := phone.node.Store().Get(ctx, wire.KeySyncConfiguration)
	require.NoError(t, err)
	assert.True(t, ok)
}

// captureTelemetry records sync completion events for assertions.
type captureTelemetry struct {
	telemetry.NoopClient
	mu    sync.Mutex
	meta  []int
	audio []audioEvent
}

type audioEvent struct {
	sizeBytes  int64
	durationMs int64
}

func (c *captureTelemetry) TrackMetadataSynced(recordingCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta = append(c.meta, recordingCount)
}

func (c *captureTelemetry) TrackAudioSynced(sizeBytes, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, audioEvent{sizeBytes, durationMs})
}

func (c *captureTelemetry) metadataEvents() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.meta...)
}

func (c *captureTelemetry) audioEvents() []audioEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audioEvent(nil), c.audio...)
}

func TestTelemetryTracksSyncCompletions(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	tel := &captureTelemetry{}
	watch := newTestEngine(t, fabric, "watch", "watch", WithTelemetry(tel))
	phone := newTestEngine(t, fabric, "phone", "phone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch.start(t, ctx)
	phone.start(t, ctx)

	audio := []byte("pcm audio bytes")
	seedRecording(t, watch, "rec-1", "standup", audio)

	require.NoError(t, watch.svc.SyncRecordingMetadata(ctx, "rec-1"))
	assert.Equal(t, []int{1}, tel.metadataEvents())

	require.NoError(t, watch.svc.SyncRecordingAudioData(ctx, "rec-1"))
	events := tel.audioEvents()
	require.Len(t, events, 1)
	assert.Equal(t, int64(len(audio)), events[0].sizeBytes)
	assert.GreaterOrEqual(t, events[0].durationMs, int64(0))

	// Failures never count as completions.
	require.Error(t, watch.svc.SyncRecordingMetadata(ctx, "missing"))
	assert.Equal(t, []int{1}, tel.metadataEvents())
}
