package queue

import (
	"context"
	"errors"
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
)

// recordingExecutor records the operations it runs and fails the ids it is
// told to fail.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []models.QueuedOperation
	failWith map[string]error
}

func (e *recordingExecutor) Execute(ctx context.Context, op *models.QueuedOperation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, *op)
	if e.failWith != nil {
		if err, ok := e.failWith[op.RecordingID]; ok {
			return err
		}
	}
	return nil
}

func (e *recordingExecutor) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, len(e.executed))
	for i, op := range e.executed {
		ids[i] = op.RecordingID
	}
	return ids
}

func testStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.New(db.DefaultConfig(filepath.Join(t.TempDir(), "queue.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fastOptions() Options {
	return Options{
		ProcessInterval: 50 * time.Millisecond,
		RetryInterval:   50 * time.Millisecond,
		SettleDelay:     10 * time.Millisecond,
	}
}

func fastSyncConfig() models.SyncConfiguration {
	cfg := models.DefaultSyncConfiguration()
	cfg.RetryDelayMs = 1
	return cfg
}

func newTestQueue(t *testing.T, exec Executor, node *mem.Node) (*Queue, *db.DB) {
	t.Helper()
	store := testStore(t)
	q := New(store, exec, node, models.DefaultRetryPolicy(), fastSyncConfig(), fastOptions())
	return q, store
}

func TestOfflineQueueHoldsOperations(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	// No second node: nothing is connected.

	exec := &recordingExecutor{}
	q, _ := newTestQueue(t, exec, node)

	for _, id := range []string{"rec-1", "rec-2", "rec-3"} {
		_, err := q.Enqueue(models.OpSyncMetadata, id, nil, models.PriorityNormal)
		require.NoError(t, err)
	}

	require.NoError(t, q.ProcessNow(context.Background()))

	assert.Empty(t, exec.order(), "operations ran without a connected peer")
	st, err := q.Status()
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Active)
}

func TestDrainOnConnectivity(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	node.SetOnline(false)

	exec := &recordingExecutor{}
	q, _ := newTestQueue(t, exec, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	for _, id := range []string{"rec-1", "rec-2", "rec-3"} {
		_, err := q.Enqueue(models.OpSyncMetadata, id, nil, models.PriorityNormal)
		require.NoError(t, err)
	}

	// Peer appears and the watch comes back: the connectivity trigger
	// drains everything.
	fabric.AddNode("phone", "phone")
	node.SetOnline(true)

	require.Eventually(t, func() bool {
		st, err := q.Status()
		return err == nil && st.Active == 0
	}, 5*time.Second, 20*time.Millisecond, "queue never drained after reconnect")

	assert.ElementsMatch(t, []string{"rec-1", "rec-2", "rec-3"}, exec.order())
}

func TestDrainOrderHonorsPriority(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{}
	q, _ := newTestQueue(t, exec, node)

	_, err := q.Enqueue(models.OpSyncMetadata, "low", nil, models.PriorityLow)
	require.NoError(t, err)
	_, err = q.Enqueue(models.OpSyncMetadata, "normal-1", nil, models.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(models.OpSyncMetadata, "urgent", nil, models.PriorityUrgent)
	require.NoError(t, err)
	_, err = q.Enqueue(models.OpSyncMetadata, "normal-2", nil, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.ProcessNow(context.Background()))

	assert.Equal(t, []string{"urgent", "normal-1", "normal-2", "low"}, exec.order())
}

func TestFailureQuarantinesWithBackoff(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": models.ErrPeerDisconnected,
	}}
	q, store := newTestQueue(t, exec, node)

	results, cancelResults := q.Results()
	defer cancelResults()

	opID, err := q.Enqueue(models.OpSyncMetadata, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.ProcessNow(context.Background()))

	// The result stream reports a classified, retryable error.
	select {
	case res := <-results:
		require.NotNil(t, res.Err)
		assert.Equal(t, models.ErrorDeviceDisconnected, res.Err.Type)
		assert.True(t, res.Err.Retryable)
		assert.Equal(t, 1, res.Err.RetryCount)
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
	}

	// The operation sits in the failed set with a future retry time.
	op, err := store.GetOperation(opID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.True(t, op.Failed)
	assert.Equal(t, 1, op.RetryCount)
	require.NotNil(t, op.NextRetryAt)
	assert.True(t, op.NextRetryAt.After(time.Now()), "backoff must schedule into the future")
	assert.NotEmpty(t, op.LastError)

	// Processing again does not touch quarantined work.
	require.NoError(t, q.ProcessNow(context.Background()))
	assert.Len(t, exec.order(), 1)
}

func TestTerminalFailureNeverRetriesAutomatically(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": errors.New("write audio: permission denied"),
	}}
	q, store := newTestQueue(t, exec, node)

	opID, err := q.Enqueue(models.OpSyncAudioData, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.ProcessNow(context.Background()))

	op, err := store.GetOperation(opID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.True(t, op.Failed)
	assert.Nil(t, op.NextRetryAt, "terminal failures carry no retry time")

	// The sweep leaves it alone.
	n, err := store.RequeueEligibleFailed(time.Now().Add(time.Hour), models.DefaultRetryPolicy().MaxRetries)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetrySweepRequeuesAndGrowsBackoff(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": models.ErrPeerDisconnected,
	}}

	store := testStore(t)
	policy := models.DefaultRetryPolicy()
	policy.BaseDelayMs = 1 // immediate eligibility for the sweep
	q := New(store, exec, node, policy, fastSyncConfig(), fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	opID, err := q.Enqueue(models.OpSyncMetadata, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)

	// The retry budget is MaxRetries attempts in total; after that the
	// operation stays quarantined for good.
	require.Eventually(t, func() bool {
		op, err := store.GetOperation(opID)
		return err == nil && op != nil && op.Failed && op.RetryCount >= policy.MaxRetries
	}, 10*time.Second, 20*time.Millisecond, "budget never exhausted")

	op, err := store.GetOperation(opID)
	require.NoError(t, err)
	assert.Equal(t, policy.MaxRetries, op.RetryCount)
	assert.Len(t, exec.order(), policy.MaxRetries)
}

func TestManualRetryResetsBudget(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": errors.New("storage full"),
	}}
	q, store := newTestQueue(t, exec, node)

	opID, err := q.Enqueue(models.OpSyncMetadata, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, q.ProcessNow(context.Background()))

	op, _ := store.GetOperation(opID)
	require.True(t, op.Failed)

	// Clear the failure cause, retry manually: the operation runs again
	// with a fresh budget.
	exec.mu.Lock()
	exec.failWith = nil
	exec.mu.Unlock()

	require.NoError(t, q.RetryOperation(opID))
	op, _ = store.GetOperation(opID)
	require.False(t, op.Failed)
	assert.Zero(t, op.RetryCount)

	require.NoError(t, q.ProcessNow(context.Background()))
	op, err = store.GetOperation(opID)
	require.NoError(t, err)
	assert.Nil(t, op, "operation should complete and leave the queue")
}

func TestClearFailed(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": errors.New("invalid payload"),
	}}
	q, _ := newTestQueue(t, exec, node)

	_, err := q.Enqueue(models.OpSyncMetadata, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, q.ProcessNow(context.Background()))

	n, err := q.ClearFailed()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	st, err := q.Status()
	require.NoError(t, err)
	assert.Zero(t, st.Failed)
	assert.Zero(t, st.Active)
}

func TestBatchSizeLimitsPass(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{}
	store := testStore(t)
	cfg := fastSyncConfig()
	cfg.BatchSize = 2
	q := New(store, exec, node, models.DefaultRetryPolicy(), cfg, fastOptions())

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(models.OpSyncMetadata, id, nil, models.PriorityNormal)
		require.NoError(t, err)
	}

	require.NoError(t, q.ProcessNow(context.Background()))
	assert.Equal(t, []string{"a", "b"}, exec.order())

	require.NoError(t, q.ProcessNow(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, exec.order())
}

func TestClearQueueDropsPendingOnly(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": errors.New("invalid payload"),
	}}
	q, _ := newTestQueue(t, exec, node)

	_, err := q.Enqueue(models.OpSyncMetadata, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, q.ProcessNow(context.Background()))

	_, err = q.Enqueue(models.OpUpdateTitle, "rec-1", nil, models.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(models.OpUpdateTags, "rec-2", nil, models.PriorityLow)
	require.NoError(t, err)

	n, err := q.ClearQueue()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	st, err := q.Status()
	require.NoError(t, err)
	assert.Zero(t, st.Active)
	assert.EqualValues(t, 1, st.Failed, "quarantined operations survive a queue clear")
}

// captureTelemetry records drain and failure events for assertions.
type captureTelemetry struct {
	telemetry.NoopClient
	mu       sync.Mutex
	drains   [][2]int
	failures []failureEvent
}

type failureEvent struct {
	opType     string
	errorType  string
	retryCount int
}

func (c *captureTelemetry) TrackQueueDrained(processed, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains = append(c.drains, [2]int{processed, failed})
}

func (c *captureTelemetry) TrackOperationFailed(opType, errorType string, retryCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failureEvent{opType, errorType, retryCount})
}

func (c *captureTelemetry) drainEvents() [][2]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]int(nil), c.drains...)
}

func (c *captureTelemetry) failureEvents() []failureEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]failureEvent(nil), c.failures...)
}

func TestTelemetryReportsDrainsAndFailures(t *testing.T) {
	fabric := mem.NewFabric()
	t.Cleanup(fabric.Close)
	node := fabric.AddNode("watch", "watch")
	fabric.AddNode("phone", "phone")

	exec := &recordingExecutor{failWith: map[string]error{
		"rec-bad": errors.New("invalid payload"),
	}}
	q, _ := newTestQueue(t, exec, node)
	tel := &captureTelemetry{}
	q.SetTelemetry(tel)

	_, err := q.Enqueue(models.OpSyncMetadata, "rec-ok", nil, models.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(models.OpSyncMetadata, "rec-bad", nil, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.ProcessNow(context.Background()))

	drains := tel.drainEvents()
	require.Len(t, drains, 1)
	assert.Equal(t, [2]int{1, 1}, drains[0])

	failures := tel.failureEvents()
	require.Len(t, failures, 1)
	assert.Equal(t, string(models.OpSyncMetadata), failures[0].opType)
	assert.NotEmpty(t, failures[0].errorType)
	assert.Equal(t, 1, failures[0].retryCount)

	// A pass over an empty queue reports nothing.
	require.NoError(t, q.ProcessNow(context.Background()))
	assert.Len(t, tel.drainEvents(), 1)
}
