// Package queue implements the durable offline operation queue. Sync work
// that cannot run immediately is persisted here and drained in priority
// order when the peer link allows, with exponential-backoff retries and a
// quarantine set for operations that exhausted their retry budget.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/telemetry"
	"github.com/asteroid-belt/wearsync/internal/transport"
)

// Executor performs one queued operation against the sync engine.
type Executor interface {
	Execute(ctx context.Context, op *models.QueuedOperation) error
}

// Options tunes the queue's background scheduling.
type Options struct {
	// ProcessInterval is the period of the idle drain timer.
	ProcessInterval time.Duration
	// RetryInterval is the period of the quarantine sweep that requeues
	// failed operations whose retry time elapsed.
	RetryInterval time.Duration
	// SettleDelay is how long to wait after connectivity returns before
	// triggering a drain.
	SettleDelay time.Duration
}

// DefaultOptions returns the standard timer periods.
func DefaultOptions() Options {
	return Options{
		ProcessInterval: 30 * time.Second,
		RetryInterval:   5 * time.Minute,
		SettleDelay:     2 * time.Second,
	}
}

// Result reports the outcome of one processed operation.
type Result struct {
	Operation models.QueuedOperation
	Err       *models.SyncError
}

// Status is a point-in-time view of the queue.
type Status struct {
	Active     int64     `json:"active"`
	Failed     int64     `json:"failed"`
	Processing bool      `json:"processing"`
	LastPass   time.Time `json:"last_pass,omitempty"`
}

// Queue drains persisted operations through an Executor. All mutations of
// queue state go through the database so a restart resumes where the
// previous process stopped.
type Queue struct {
	store    *db.DB
	exec     Executor
	messages transport.MessageTransport
	policy   models.RetryPolicy
	cfg      models.SyncConfiguration
	opts     Options
	tel      telemetry.Client

	// limiter paces operations inside one batch so a drain does not
	// saturate the transport.
	limiter *rate.Limiter

	results *events.Broadcaster[Result]

	mu         sync.Mutex
	processing bool
	lastPass   time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a queue backed by the given database. Start must be called
// before the background timers run; Enqueue works immediately.
func New(store *db.DB, exec Executor, messages transport.MessageTransport, policy models.RetryPolicy, cfg models.SyncConfiguration, opts Options) *Queue {
	pace := time.Duration(cfg.RetryDelayMs) * time.Millisecond
	if pace <= 0 {
		pace = 500 * time.Millisecond
	}
	return &Queue{
		store:    store,
		exec:     exec,
		messages: messages,
		policy:   policy,
		cfg:      cfg,
		opts:     opts,
		tel:      &telemetry.NoopClient{},
		limiter:  rate.NewLimiter(rate.Every(pace), 1),
		results:  events.NewBroadcaster[Result](32),
		done:     make(chan struct{}),
	}
}

// SetTelemetry replaces the telemetry client. Must be called before Start.
func (q *Queue) SetTelemetry(c telemetry.Client) {
	if c != nil {
		q.tel = c
	}
}

// Enqueue persists a new operation and returns its id. Duplicate logical
// operations are accepted as-is.
func (q *Queue) Enqueue(opType models.OperationType, recordingID string, payload models.Payload, priority models.Priority) (string, error) {
	op := &models.QueuedOperation{
		ID:          uuid.New().String(),
		Type:        opType,
		RecordingID: recordingID,
		Payload:     payload,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}
	if err := q.store.EnqueueOperation(op); err != nil {
		return "", err
	}
	log.Printf("queue: enqueued %s for %s (priority %s)\n", opType, recordingID, op.Priority)
	return op.ID, nil
}

// Start launches the background timers: the periodic drain, the quarantine
// retry sweep, and the connectivity trigger.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.wg.Add(2)
		go q.drainLoop(ctx)
		go q.retryLoop(ctx)

		connCh, cancel := q.messages.ConnectionEvents()
		q.wg.Add(1)
		go q.connectivityLoop(ctx, connCh, cancel)
	})
}

// Stop tears down the background timers. In-flight batch processing runs to
// completion of the current batch.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
		q.results.Close()
	})
}

// Results streams per-operation outcomes from processing passes.
func (q *Queue) Results() (<-chan Result, func()) {
	return q.results.Subscribe()
}

// Status reports queue depths and whether a pass is running.
func (q *Queue) Status() (Status, error) {
	active, failed, err := q.store.CountOperations()
	if err != nil {
		return Status{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Active:     active,
		Failed:     failed,
		Processing: q.processing,
		LastPass:   q.lastPass,
	}, nil
}

// FailedOperations lists the quarantined set.
func (q *Queue) FailedOperations() ([]models.QueuedOperation, error) {
	return q.store.FailedOperations()
}

// ActiveOperations lists the pending queue.
func (q *Queue) ActiveOperations() ([]models.QueuedOperation, error) {
	return q.store.ActiveOperations()
}

// RetryOperation manually revives one quarantined operation with a fresh
// retry budget.
func (q *Queue) RetryOperation(id string) error {
	if err := q.store.ReviveOperation(id); err != nil {
		return err
	}
	log.Printf("queue: manual retry of operation %s\n", id)
	return nil
}

// RetryAllFailed manually revives the whole quarantined set.
func (q *Queue) RetryAllFailed() (int64, error) {
	n, err := q.store.ReviveAllFailed()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("queue: manual retry of %d failed operations\n", n)
	}
	return n, nil
}

// ClearFailed drops the quarantined set.
func (q *Queue) ClearFailed() (int64, error) {
	return q.store.ClearFailedOperations()
}

// ClearQueue drops every pending operation. Quarantined operations are
// untouched.
func (q *Queue) ClearQueue() (int64, error) {
	return q.store.ClearActiveOperations()
}

// ProcessNow runs one processing pass immediately. It is a no-op when a
// pass is already running or no peer is reachable.
func (q *Queue) ProcessNow(ctx context.Context) error {
	return q.process(ctx)
}

func (q *Queue) drainLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.ProcessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := q.process(ctx); err != nil {
				log.Errorf("queue: periodic pass: %v", err)
			}
		case <-q.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) retryLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := q.store.RequeueEligibleFailed(time.Now(), q.policy.MaxRetries)
			if err != nil {
				log.Errorf("queue: retry sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("queue: requeued %d operations from quarantine\n", n)
				if err := q.process(ctx); err != nil {
					log.Errorf("queue: retry pass: %v", err)
				}
			}
		case <-q.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) connectivityLoop(ctx context.Context, connCh <-chan bool, cancel func()) {
	defer q.wg.Done()
	defer cancel()
	for {
		select {
		case connected, ok := <-connCh:
			if !ok {
				return
			}
			if !connected {
				continue
			}
			// Let the link settle before slamming it with queued work.
			select {
			case <-time.After(q.opts.SettleDelay):
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
			if err := q.process(ctx); err != nil {
				log.Errorf("queue: connectivity pass: %v", err)
			}
		case <-q.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// process runs one pass: dequeues up to the batch size in priority order and
// dispatches each operation sequentially with pacing in between. Failures
// quarantine the operation with a capped exponential backoff.
func (q *Queue) process(ctx context.Context) error {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return nil
	}
	q.processing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.lastPass = time.Now()
		q.mu.Unlock()
	}()

	peers, err := q.messages.Peers(ctx)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}
	if len(peers) == 0 {
		return nil
	}

	batch, err := q.store.NextOperations(time.Now(), q.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	log.Printf("queue: processing %d operations\n", len(batch))

	var processed, failed int
	for i := range batch {
		op := batch[i]
		if i > 0 {
			if err := q.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if q.runOne(ctx, &op) {
			processed++
		} else {
			failed++
		}
	}
	q.tel.TrackQueueDrained(processed, failed)
	return nil
}

// runOne executes a single operation and settles its queue state. It reports
// whether the operation completed.
func (q *Queue) runOne(ctx context.Context, op *models.QueuedOperation) bool {
	err := q.exec.Execute(ctx, op)
	if err == nil {
		if err := q.store.CompleteOperation(op.ID); err != nil {
			log.Errorf("queue: complete %s: %v", op.ID, err)
		}
		q.results.Publish(Result{Operation: *op})
		return true
	}

	op.RetryCount++
	syncErr := models.NewSyncError(err, op.RecordingID)
	syncErr.RetryCount = op.RetryCount
	syncErr.MaxRetries = q.policy.MaxRetries

	var nextRetry *time.Time
	if q.policy.ShouldRetry(syncErr.Type) && op.RetryCount < q.policy.MaxRetries {
		at := time.Now().Add(q.policy.Backoff(op.RetryCount))
		nextRetry = &at
	}
	if err := q.store.FailOperation(op.ID, op.RetryCount, nextRetry, err.Error()); err != nil {
		log.Errorf("queue: quarantine %s: %v", op.ID, err)
	}

	if nextRetry != nil {
		log.Printf("queue: operation %s failed (%s), retry %d/%d at %s\n",
			op.ID, syncErr.Type, op.RetryCount, q.policy.MaxRetries, nextRetry.Format(time.RFC3339))
	} else {
		log.Errorf("queue: operation %s failed terminally (%s): %v", op.ID, syncErr.Type, err)
	}
	q.tel.TrackOperationFailed(string(op.Type), string(syncErr.Type), op.RetryCount)
	q.results.Publish(Result{Operation: *op, Err: syncErr})
	return false
}
