package wsnode

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/transport"
)

// replicateFrame carries one replicated record.
type replicateFrame struct {
	Key     string    `json:"key"`
	Value   []byte    `json:"value,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// replicaBatchFrame carries a full replica, sent on (re)connect so writes
// made while the devices were apart converge.
type replicaBatchFrame struct {
	Records []replicateFrame `json:"records"`
}

// wsStore is the persisted replicated data store. Local writes land in the
// database first (read-your-writes), then replicate to the peer; replication
// missed while apart is recovered by the replica exchange at link-up.
type wsStore struct {
	node *Node
	db   *db.DB

	mu        sync.Mutex
	observers []*prefixObserver
}

type prefixObserver struct {
	prefix string
	b      *events.Broadcaster[transport.Change]
}

func newWSStore(n *Node, database *db.DB) *wsStore {
	return &wsStore{node: n, db: database}
}

// Put writes a record locally and replicates it to the peer.
func (s *wsStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.db.PutSyncRecord(key, value, now); err != nil {
		return err
	}
	s.notify(transport.Change{Key: key, Value: value})
	s.replicate(replicateFrame{Key: key, Value: value, At: now})
	return nil
}

// Get returns the locally visible value for a key.
func (s *wsStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	rec, err := s.db.GetSyncRecord(key)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// GetAll returns all locally visible records under a key prefix.
func (s *wsStore) GetAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := s.db.ListSyncRecords(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(recs))
	for i := range recs {
		out[recs[i].Key] = recs[i].Value
	}
	return out, nil
}

// Delete tombstones a record locally and replicates the removal.
func (s *wsStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.db.DeleteSyncRecord(key, now); err != nil {
		return err
	}
	s.notify(transport.Change{Key: key, Deleted: true})
	s.replicate(replicateFrame{Key: key, Deleted: true, At: now})
	return nil
}

// Observe streams changed records under a key prefix.
func (s *wsStore) Observe(prefix string) (<-chan transport.Change, func()) {
	obs := &prefixObserver{prefix: prefix, b: events.NewBroadcaster[transport.Change](64)}
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()

	ch, cancel := obs.b.Subscribe()
	return ch, func() {
		cancel()
		s.mu.Lock()
		for i, o := range s.observers {
			if o == obs {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

// replicate sends one record to the peer, best-effort. A missed replication
// is recovered by the replica exchange on the next link-up.
func (s *wsStore) replicate(rf replicateFrame) {
	payload, err := json.Marshal(rf)
	if err != nil {
		log.Errorf("wsnode: encode replicate frame: %v", err)
		return
	}
	if err := s.node.writeControl(frame{Type: frameReplicate, Payload: payload}); err != nil {
		log.Printf("wsnode: replication of %s deferred: %v\n", rf.Key, err)
	}
}

// sendReplica ships the full local replica to the peer, tombstones included.
func (s *wsStore) sendReplica() error {
	recs, err := s.db.AllSyncRecords()
	if err != nil {
		return err
	}
	batch := replicaBatchFrame{Records: make([]replicateFrame, 0, len(recs))}
	for i := range recs {
		batch.Records = append(batch.Records, replicateFrame{
			Key:     recs[i].Key,
			Value:   recs[i].Value,
			Deleted: recs[i].Deleted,
			At:      recs[i].UpdatedAt,
		})
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.node.writeControl(frame{Type: frameReplicaBatch, Payload: payload})
}

// handleReplicate applies one replicated record from the peer.
func (s *wsStore) handleReplicate(payload json.RawMessage) {
	var rf replicateFrame
	if err := json.Unmarshal(payload, &rf); err != nil {
		log.Errorf("wsnode: drop malformed replicate frame: %v", err)
		return
	}
	s.apply(rf)
}

// handleReplicaBatch merges the peer's full replica.
func (s *wsStore) handleReplicaBatch(payload json.RawMessage) {
	var batch replicaBatchFrame
	if err := json.Unmarshal(payload, &batch); err != nil {
		log.Errorf("wsnode: drop malformed replica batch: %v", err)
		return
	}
	applied := 0
	for i := range batch.Records {
		if s.apply(batch.Records[i]) {
			applied++
		}
	}
	if applied > 0 {
		log.Printf("wsnode: merged %d records from peer replica\n", applied)
	}
}

// apply merges a replicated record under last-writer-wins and notifies
// observers when the record changed.
func (s *wsStore) apply(rf replicateFrame) bool {
	applied, err := s.db.MergeSyncRecord(rf.Key, rf.Value, rf.Deleted, rf.At)
	if err != nil {
		log.Errorf("wsnode: merge %s: %v", rf.Key, err)
		return false
	}
	if applied {
		s.notify(transport.Change{Key: rf.Key, Value: rf.Value, Deleted: rf.Deleted})
	}
	return applied
}

func (s *wsStore) notify(ch transport.Change) {
	s.mu.Lock()
	observers := make([]*prefixObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, obs := range observers {
		if strings.HasPrefix(ch.Key, obs.prefix) {
			obs.b.Publish(ch)
		}
	}
}
