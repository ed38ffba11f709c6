package mem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

type delivery struct {
	from string
	msg  wire.Message
}

// Node is one simulated device on the fabric. It implements
// transport.MessageTransport, and exposes its data store and channel
// transport through Store() and Channels().
type Node struct {
	fabric *Fabric
	id     string
	name   string

	online    atomic.Bool
	connected atomic.Bool

	inbox     chan delivery
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	observers map[string]*events.Broadcaster[transport.Inbound]
	connState *events.Broadcaster[bool]

	// injected failure: when set, Send and Broadcast fail with this error.
	sendErr error

	store    *memStore
	channels *memChannels
}

func newNode(f *Fabric, id, name string) *Node {
	n := &Node{
		fabric:    f,
		id:        id,
		name:      name,
		inbox:     make(chan delivery, 256),
		done:      make(chan struct{}),
		observers: make(map[string]*events.Broadcaster[transport.Inbound]),
		connState: events.NewBroadcaster[bool](8),
	}
	n.online.Store(true)
	n.store = newMemStore(n)
	n.channels = newMemChannels(n)
	return n
}

// ID returns the node's device id.
func (n *Node) ID() string { return n.id }

// Name returns the node's device name.
func (n *Node) Name() string { return n.name }

// Store returns the node's data sync store.
func (n *Node) Store() transport.DataStore { return n.store }

// Channels returns the node's channel transport.
func (n *Node) Channels() transport.ChannelTransport { return n.channels }

// Transports bundles the node's three transport primitives.
func (n *Node) Transports() transport.Transports {
	return transport.Transports{Messages: n, Data: n.store, Channels: n.channels}
}

// SetOnline toggles the node's network availability.
func (n *Node) SetOnline(online bool) {
	if n.online.Swap(online) == online {
		return
	}
	n.fabric.nodeOnlineChanged(n)
}

// FailSends injects a send failure; pass nil to clear it.
func (n *Node) FailSends(err error) {
	n.mu.Lock()
	n.sendErr = err
	n.mu.Unlock()
}

// FailPuts injects a data-store write failure; pass nil to clear it.
func (n *Node) FailPuts(err error) {
	n.store.mu.Lock()
	n.store.putErr = err
	n.store.mu.Unlock()
}

func (n *Node) isOnline() bool { return n.online.Load() }

func (n *Node) setConnected(connected bool) {
	if n.connected.Swap(connected) != connected {
		n.connState.Publish(connected)
	}
}

// Close stops the node's dispatch goroutine. Further sends to this node fail
// as if it were offline.
func (n *Node) Close() {
	n.closeOnce.Do(func() { close(n.done) })
}

// dispatch routes inbound deliveries to path observers. A single goroutine
// preserves per-peer delivery order; it runs until the node is closed.
func (n *Node) dispatch() {
	for {
		select {
		case d := <-n.inbox:
			if len(d.msg.Payload) > 0 && !json.Valid(d.msg.Payload) {
				// Malformed payloads are dropped at the observation boundary so
				// one bad message cannot stall the stream.
				log.Errorf("mem: dropping malformed payload on %s from %s", d.msg.Path, d.from)
				continue
			}
			n.mu.Lock()
			b, ok := n.observers[d.msg.Path]
			n.mu.Unlock()
			if ok {
				b.Publish(transport.Inbound{PeerID: d.from, Message: d.msg})
			}
		case <-n.done:
			return
		}
	}
}

// Send delivers a message to a specific peer.
func (n *Node) Send(ctx context.Context, peerID string, msg wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	injected := n.sendErr
	n.mu.Unlock()
	if injected != nil {
		return injected
	}
	if !n.isOnline() {
		return fmt.Errorf("send %s: %w", msg.Path, transportOffline())
	}
	peer, ok := n.fabric.node(peerID)
	if !ok || !peer.isOnline() {
		return fmt.Errorf("send %s to %s: %w", msg.Path, peerID, transportOffline())
	}
	select {
	case peer.inbox <- delivery{from: n.id, msg: msg}:
		return nil
	case <-peer.done:
		return fmt.Errorf("send %s to %s: %w", msg.Path, peerID, transportOffline())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast delivers a message to all currently connected peers,
// best-effort. Per-peer failures are logged, not surfaced.
func (n *Node) Broadcast(ctx context.Context, msg wire.Message) error {
	n.mu.Lock()
	injected := n.sendErr
	n.mu.Unlock()
	if injected != nil {
		return injected
	}
	if !n.isOnline() {
		return fmt.Errorf("broadcast %s: %w", msg.Path, transportOffline())
	}
	for _, peer := range n.fabric.onlinePeers(n.id) {
		if err := n.Send(ctx, peer.id, msg); err != nil {
			log.Errorf("mem: broadcast to %s failed: %v", peer.id, err)
		}
	}
	return nil
}

// Observe returns the inbound message stream for a path.
func (n *Node) Observe(path string) (<-chan transport.Inbound, func()) {
	n.mu.Lock()
	b, ok := n.observers[path]
	if !ok {
		b = events.NewBroadcaster[transport.Inbound](64)
		n.observers[path] = b
	}
	n.mu.Unlock()
	return b.Subscribe()
}

// Peers lists the currently connected peers.
func (n *Node) Peers(ctx context.Context) ([]transport.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !n.isOnline() {
		return nil, nil
	}
	nodes := n.fabric.onlinePeers(n.id)
	peers := make([]transport.Peer, 0, len(nodes))
	for _, p := range nodes {
		peers = append(peers, transport.Peer{ID: p.id, Name: p.name})
	}
	return peers, nil
}

// ConnectionEvents reports connectivity transitions for this node.
func (n *Node) ConnectionEvents() (<-chan bool, func()) {
	return n.connState.Subscribe()
}
