package wsnode

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

func errNotLinked() error { return models.ErrPeerDisconnected }

// messageFrame carries one wire.Message over the control socket.
type messageFrame struct {
	From    string       `json:"from"`
	Message wire.Message `json:"message"`
}

// Send delivers a message to the linked peer. The pair topology has exactly
// one peer, so any other id is an error.
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

	_, peer, ok := n.linkedConn()
	if !ok {
		return fmt.Errorf("send %s: %w", msg.Path, errNotLinked())
	}
	if peerID != peer.ID {
		return fmt.Errorf("send %s: no such peer %s", msg.Path, peerID)
	}

	payload, err := json.Marshal(messageFrame{From: n.cfg.DeviceID, Message: msg})
	if err != nil {
		return fmt.Errorf("encode message frame: %w", err)
	}
	if err := n.writeControl(frame{Type: frameMessage, Payload: payload}); err != nil {
		return fmt.Errorf("send %s: %w", msg.Path, err)
	}
	return nil
}

// Broadcast delivers a message to every connected peer. With a single-pair
// link that is the linked peer, if any; per-peer failures are logged.
func (n *Node) Broadcast(ctx context.Context, msg wire.Message) error {
	n.mu.Lock()
	injected := n.sendErr
	n.mu.Unlock()
	if injected != nil {
		return injected
	}

	_, peer, ok := n.linkedConn()
	if !ok {
		return fmt.Errorf("broadcast %s: %w", msg.Path, errNotLinked())
	}
	if err := n.Send(ctx, peer.ID, msg); err != nil {
		log.Errorf("wsnode: broadcast to %s failed: %v", peer.ID, err)
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

// Peers lists the linked peer, when one is connected.
func (n *Node) Peers(ctx context.Context) ([]transport.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, peer, ok := n.linkedConn()
	if !ok {
		return nil, nil
	}
	return []transport.Peer{peer}, nil
}

// ConnectionEvents reports link transitions.
func (n *Node) ConnectionEvents() (<-chan bool, func()) {
	return n.connState.Subscribe()
}

// FailSends injects a send failure; pass nil to clear it.
func (n *Node) FailSends(err error) {
	n.mu.Lock()
	n.sendErr = err
	n.mu.Unlock()
}

// readLoop dispatches control frames until the socket drops. A single
// reader preserves per-peer FIFO delivery.
func (n *Node) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case frameMessage:
			n.dispatchMessage(f.Payload)
		case frameReplicate:
			n.store.handleReplicate(f.Payload)
		case frameReplicaBatch:
			n.store.handleReplicaBatch(f.Payload)
		case frameChannelOpen:
			n.channels.handleOpen(f.Payload)
		case frameHello:
			// Late hello frames are ignored.
		default:
			log.Errorf("wsnode: unknown frame type %q", f.Type)
		}
	}
}

// dispatchMessage routes one inbound message to its path observers.
// Malformed payloads are dropped here so one bad message cannot stall the
// observation stream.
func (n *Node) dispatchMessage(payload json.RawMessage) {
	var mf messageFrame
	if err := json.Unmarshal(payload, &mf); err != nil {
		log.Errorf("wsnode: drop malformed message frame: %v", err)
		return
	}
	if len(mf.Message.Payload) > 0 && !json.Valid(mf.Message.Payload) {
		log.Errorf("wsnode: drop malformed payload on %s from %s", mf.Message.Path, mf.From)
		return
	}
	n.mu.Lock()
	b, ok := n.observers[mf.Message.Path]
	n.mu.Unlock()
	if ok {
		b.Publish(transport.Inbound{PeerID: mf.From, Message: mf.Message})
	}
}
