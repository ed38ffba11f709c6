// Package mem provides an in-process transport fabric connecting any number
// of simulated devices. Tests and the simulator binary use it to exercise
// the full engine without a radio: it preserves per-peer FIFO message
// delivery, propagates data-store writes with a configurable delay, and
// supports taking individual nodes offline.
package mem

import (
	"sync"
	"time"
)

// Fabric links nodes together. All online nodes see each other as peers.
type Fabric struct {
	mu    sync.Mutex
	nodes map[string]*Node
	delay time.Duration

	// pending data-store propagations per offline target node.
	pending map[string][]storeChange
}

// NewFabric creates an empty fabric with no propagation delay.
func NewFabric() *Fabric {
	return &Fabric{
		nodes:   make(map[string]*Node),
		pending: make(map[string][]storeChange),
	}
}

// Close stops every node's dispatch goroutine. The fabric is not usable
// afterwards.
func (f *Fabric) Close() {
	f.mu.Lock()
	nodes := make([]*Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		nodes = append(nodes, n)
	}
	f.mu.Unlock()
	for _, n := range nodes {
		n.Close()
	}
}

// SetPropagationDelay delays data-store replication between nodes, to
// simulate the platform's eventual propagation window.
func (f *Fabric) SetPropagationDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// AddNode registers a new online node.
func (f *Fabric) AddNode(id, name string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := newNode(f, id, name)
	f.nodes[id] = n
	go n.dispatch()

	f.recomputeConnectivityLocked()
	return n
}

// node returns a registered node.
func (f *Fabric) node(id string) (*Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return n, ok
}

// onlinePeers lists the online nodes other than self.
func (f *Fabric) onlinePeers(selfID string) []*Node {
	f.mu.Lock()
	defer f.mu.Unlock()

	var peers []*Node
	for id, n := range f.nodes {
		if id == selfID {
			continue
		}
		if n.isOnline() {
			peers = append(peers, n)
		}
	}
	return peers
}

// recomputeConnectivityLocked publishes connection transitions after a node
// joins or changes its online state. A node counts as connected when it is
// online and at least one other node is too.
func (f *Fabric) recomputeConnectivityLocked() {
	onlineCount := 0
	for _, n := range f.nodes {
		if n.isOnline() {
			onlineCount++
		}
	}
	for _, n := range f.nodes {
		connected := n.isOnline() && onlineCount >= 2
		n.setConnected(connected)
	}
}

// nodeOnlineChanged flushes queued replication to a node that came back and
// republishes connectivity.
func (f *Fabric) nodeOnlineChanged(n *Node) {
	f.mu.Lock()
	queued := f.pending[n.id]
	if n.isOnline() {
		delete(f.pending, n.id)
	}
	f.recomputeConnectivityLocked()
	f.mu.Unlock()

	if n.isOnline() {
		for _, ch := range queued {
			n.store.applyRemote(ch)
		}
	}
}

// propagate replicates one data-store change from origin to every other
// node. Offline targets receive the change when they come back online.
func (f *Fabric) propagate(originID string, ch storeChange) {
	f.mu.Lock()
	delay := f.delay
	var online []*Node
	for id, n := range f.nodes {
		if id == originID {
			continue
		}
		if n.isOnline() {
			online = append(online, n)
		} else {
			f.pending[id] = append(f.pending[id], ch)
		}
	}
	f.mu.Unlock()

	apply := func() {
		for _, n := range online {
			n.store.applyRemote(ch)
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, apply)
	} else {
		apply()
	}
}
