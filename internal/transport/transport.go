// Package transport defines the three primitives the sync engine composes
// over: ephemeral peer messaging, a replicated key/value store, and
// per-transfer byte-stream channels. Implementations live in subpackages;
// the engine only issues calls and awaits results.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// Peer identifies a connected device.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Inbound is one received message together with its sender.
type Inbound struct {
	PeerID  string
	Message wire.Message
}

// MessageTransport sends small structured messages between peers.
// Delivery is at-most-once; ordering holds per peer but not across peers.
// Broadcast is best-effort fan-out: partial failure is not surfaced per
// peer, callers must tolerate that.
type MessageTransport interface {
	// Send delivers a message to a specific peer.
	Send(ctx context.Context, peerID string, msg wire.Message) error

	// Broadcast delivers a message to all currently connected peers.
	Broadcast(ctx context.Context, msg wire.Message) error

	// Observe returns a stream of inbound messages for one path. The stream
	// is multicast to all current subscribers and never completes until the
	// returned cancel func is called. Malformed payloads are dropped before
	// they reach the stream.
	Observe(path string) (<-chan Inbound, func())

	// Peers lists the currently connected peers.
	Peers(ctx context.Context) ([]Peer, error)

	// ConnectionEvents reports connectivity transitions: true when any peer
	// connection is established, false when the last one drops.
	ConnectionEvents() (<-chan bool, func())
}

// Change is one changed record observed from the data sync store.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// DataStore is a key-scoped replicated store: each key holds one JSON
// document, writes eventually propagate to the peer, and the last put wins
// on conflict. A local Get after a local Put observes the written value.
type DataStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetAll(ctx context.Context, prefix string) (map[string][]byte, error)
	Delete(ctx context.Context, key string) error

	// Observe streams changed records under a key prefix, from both local
	// writes and peer propagation.
	Observe(prefix string) (<-chan Change, func())
}

// Progress reports the state of one channel transfer.
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64 // 0 when unknown
	BytesPerSecond   float64
	ETA              time.Duration // 0 when unknown
	Complete         bool
	Err              error
}

// ChannelEventKind enumerates channel lifecycle events.
type ChannelEventKind string

// Channel lifecycle events.
const (
	ChannelOpened       ChannelEventKind = "opened"
	ChannelClosed       ChannelEventKind = "closed"
	ChannelInputClosed  ChannelEventKind = "input_closed"
	ChannelOutputClosed ChannelEventKind = "output_closed"
)

// ChannelEvent is one channel lifecycle transition.
type ChannelEvent struct {
	Kind      ChannelEventKind
	ChannelID string
	PeerID    string
	Path      string
}

// ChannelTransport opens dedicated byte-stream pipes for large payloads.
// One handle serves exactly one logical transfer; a retried transfer needs
// a fresh Open. Closing a handle while a stream operation is in flight
// fails that operation instead of hanging it.
type ChannelTransport interface {
	// Open establishes a channel to a peer at a logical path.
	Open(ctx context.Context, peerID, path string) (*models.ChannelHandle, error)

	// Accept claims a pending inbound channel by id.
	Accept(ctx context.Context, channelID string) (*models.ChannelHandle, error)

	// SendStream copies r through the channel, reporting progress.
	SendStream(ctx context.Context, h *models.ChannelHandle, r io.Reader, onProgress func(Progress)) error

	// ReceiveStream copies the channel's bytes into w, reporting progress.
	ReceiveStream(ctx context.Context, h *models.ChannelHandle, w io.Writer, onProgress func(Progress)) error

	// Close releases the handle. Safe to call twice.
	Close(h *models.ChannelHandle) error

	// Events streams channel lifecycle events.
	Events() (<-chan ChannelEvent, func())
}

// Transports bundles the three primitives a node exposes.
type Transports struct {
	Messages MessageTransport
	Data     DataStore
	Channels ChannelTransport
}
