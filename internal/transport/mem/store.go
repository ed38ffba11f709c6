package mem

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
)

func transportOffline() error { return models.ErrPeerDisconnected }

type storeChange struct {
	key     string
	value   []byte
	deleted bool
	at      time.Time
}

type prefixObserver struct {
	prefix string
	b      *events.Broadcaster[transport.Change]
}

// memStore is the node-local replica of the data sync store. Local writes
// are visible to local reads immediately; the fabric replicates them to
// peers, applying last-writer-wins on the write timestamp.
type memStore struct {
	node *Node

	mu        sync.Mutex
	records   map[string]storeChange
	observers []*prefixObserver

	// injected failure: when set, Put and Delete fail with this error.
	putErr error
}

func newMemStore(n *Node) *memStore {
	return &memStore{
		node:    n,
		records: make(map[string]storeChange),
	}
}

// Put writes a record locally and replicates it to peers.
func (s *memStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.injected(); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	ch := storeChange{key: key, value: cp, at: time.Now()}

	s.mu.Lock()
	s.records[key] = ch
	s.mu.Unlock()

	s.notify(ch)
	s.node.fabric.propagate(s.node.id, ch)
	return nil
}

// Get returns the locally visible value for a key.
func (s *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.deleted {
		return nil, false, nil
	}
	cp := make([]byte, len(rec.value))
	copy(cp, rec.value)
	return cp, true, nil
}

// GetAll returns all locally visible records under a key prefix.
func (s *memStore) GetAll(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte)
	for key, rec := range s.records {
		if rec.deleted || !strings.HasPrefix(key, prefix) {
			continue
		}
		cp := make([]byte, len(rec.value))
		copy(cp, rec.value)
		out[key] = cp
	}
	return out, nil
}

// Delete removes a record locally and replicates the removal.
func (s *memStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.injected(); err != nil {
		return err
	}
	ch := storeChange{key: key, deleted: true, at: time.Now()}

	s.mu.Lock()
	s.records[key] = ch
	s.mu.Unlock()

	s.notify(ch)
	s.node.fabric.propagate(s.node.id, ch)
	return nil
}

// Observe streams changed records under a key prefix.
func (s *memStore) Observe(prefix string) (<-chan transport.Change, func()) {
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

// applyRemote applies a replicated change from a peer. The last write wins;
// an older replicated change never overwrites a newer local one.
func (s *memStore) applyRemote(ch storeChange) {
	s.mu.Lock()
	if existing, ok := s.records[ch.key]; ok && existing.at.After(ch.at) {
		s.mu.Unlock()
		return
	}
	s.records[ch.key] = ch
	s.mu.Unlock()
	s.notify(ch)
}

func (s *memStore) injected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putErr
}

func (s *memStore) notify(ch storeChange) {
	s.mu.Lock()
	observers := make([]*prefixObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, obs := range observers {
		if strings.HasPrefix(ch.key, obs.prefix) {
			obs.b.Publish(transport.Change{Key: ch.key, Value: ch.value, Deleted: ch.deleted})
		}
	}
}
