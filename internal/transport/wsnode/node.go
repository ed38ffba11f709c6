// Package wsnode implements the transport primitives over a WebSocket peer
// link. Each device runs a small HTTP server and optionally dials the other
// device; whichever side connects first owns the link. Control messages and
// data-store replication share one control socket, while each audio
// transfer gets a dedicated per-channel socket. The data store's replica is
// persisted, so replication resumes correctly after a restart.
package wsnode

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/telemetry"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// Protocol versioning. A peer below the minimum is refused at handshake.
const (
	ProtocolVersion    = "1.1.0"
	MinProtocolVersion = "1.0.0"
)

// Frame types on the control socket.
const (
	frameHello        = "hello"
	frameMessage      = "message"
	frameReplicate    = "replicate"
	frameReplicaBatch = "replica_batch"
	frameChannelOpen  = "channel_open"
)

// frame is the control-socket envelope.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// hello is the handshake payload exchanged when the control socket opens.
type hello struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Version    string `json:"version"`
}

// Config configures a Node.
type Config struct {
	// ListenAddr is the local HTTP listen address, e.g. ":8590".
	ListenAddr string
	// PeerURL is the peer's base URL, e.g. "http://10.0.0.2:8590".
	// Empty means wait for the peer to dial in.
	PeerURL string
	// DeviceID and DeviceName identify this node at handshake.
	DeviceID   string
	DeviceName string
	// DialInterval is the pause between reconnect attempts.
	DialInterval time.Duration
	// Telemetry receives link lifecycle events. Nil means no telemetry.
	Telemetry telemetry.Client
}

// Node is one device's end of the peer link.
type Node struct {
	cfg   Config
	store *wsStore

	mu       sync.Mutex
	conn     *websocket.Conn
	connMu   sync.Mutex // serializes writes to conn
	peer     transport.Peer
	linked   bool
	sendErr  error // injected failure for tests
	pending  map[string]*pendingChannel
	channels *wsChannels

	observers map[string]*events.Broadcaster[transport.Inbound]
	connState *events.Broadcaster[bool]

	server   *http.Server
	listener net.Listener

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a node whose data-store replica persists in database.
func New(cfg Config, database *db.DB) *Node {
	if cfg.DialInterval <= 0 {
		cfg.DialInterval = 5 * time.Second
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = &telemetry.NoopClient{}
	}
	n := &Node{
		cfg:       cfg,
		pending:   make(map[string]*pendingChannel),
		observers: make(map[string]*events.Broadcaster[transport.Inbound]),
		connState: events.NewBroadcaster[bool](8),
		done:      make(chan struct{}),
	}
	n.store = newWSStore(n, database)
	n.channels = newWSChannels(n)
	return n
}

// Store returns the node's data sync store.
func (n *Node) Store() transport.DataStore { return n.store }

// Channels returns the node's channel transport.
func (n *Node) Channels() transport.ChannelTransport { return n.channels }

// Transports bundles the node's three transport primitives.
func (n *Node) Transports() transport.Transports {
	return transport.Transports{Messages: n, Data: n.store, Channels: n.channels}
}

// Start brings up the HTTP server and, when a peer URL is configured, the
// dial loop.
func (n *Node) Start(ctx context.Context) error {
	var startErr error
	n.startOnce.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", n.handleControl)
		mux.HandleFunc("/channel/", n.handleChannel)

		ln, err := net.Listen("tcp", n.cfg.ListenAddr)
		if err != nil {
			startErr = fmt.Errorf("listen %s: %w", n.cfg.ListenAddr, err)
			return
		}
		n.listener = ln
		n.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Errorf("wsnode: server: %v", err)
			}
		}()

		if n.cfg.PeerURL != "" {
			n.wg.Add(1)
			go n.dialLoop(ctx)
		}
		log.Printf("wsnode: listening on %s\n", ln.Addr())
	})
	return startErr
}

// Addr returns the bound listen address.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.cfg.ListenAddr
	}
	return n.listener.Addr().String()
}

// Stop tears the link and the server down.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.done)
		n.dropLink()
		if n.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = n.server.Shutdown(ctx)
		}
		n.wg.Wait()
		n.connState.Close()
		n.channels.close()
	})
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	// The link is device-to-device, not browser-originated.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleControl accepts the peer's inbound control socket.
func (n *Node) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("wsnode: upgrade control socket: %v", err)
		return
	}
	n.runLink(conn, false)
}

// dialLoop keeps the outbound control socket alive while no link exists.
func (n *Node) dialLoop(ctx context.Context) {
	defer n.wg.Done()
	url := wsURL(n.cfg.PeerURL) + "/ws"
	for {
		if !n.isLinked() {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err == nil {
				n.runLink(conn, true)
			}
		}
		select {
		case <-time.After(n.cfg.DialInterval):
		case <-n.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runLink performs the handshake and then reads control frames until the
// socket drops. Only one link is kept; a second connection is refused.
func (n *Node) runLink(conn *websocket.Conn, outbound bool) {
	peer, peerVersion, err := n.handshake(conn, outbound)
	if err != nil {
		log.Errorf("wsnode: handshake: %v", err)
		conn.Close()
		return
	}

	n.mu.Lock()
	if n.linked {
		n.mu.Unlock()
		log.Errorf("wsnode: refusing second link from %s", peer.ID)
		conn.Close()
		return
	}
	n.conn = conn
	n.peer = peer
	n.linked = true
	n.mu.Unlock()

	linkedAt := time.Now()
	log.Printf("wsnode: linked to %s (%s)\n", peer.Name, peer.ID)
	n.cfg.Telemetry.TrackPeerLinked(peerVersion)
	n.connState.Publish(true)
	n.publishConnection(peer, wire.NewDeviceConnected(peer.ID, peer.Name, peerVersion))

	// Exchange full replicas so writes made while apart converge.
	if err := n.store.sendReplica(); err != nil {
		log.Errorf("wsnode: send replica: %v", err)
	}

	n.readLoop(conn)

	n.mu.Lock()
	wasLinked := n.linked && n.conn == conn
	if wasLinked {
		n.conn = nil
		n.linked = false
	}
	n.mu.Unlock()
	conn.Close()
	if wasLinked {
		log.Printf("wsnode: link to %s dropped\n", peer.ID)
		n.cfg.Telemetry.TrackPeerDropped(time.Since(linkedAt).Milliseconds())
		n.connState.Publish(false)
		n.publishConnection(peer, wire.NewDeviceDisconnected(peer.ID))
	}
}

// publishConnection synthesizes a device-connection message for local
// observers at a link transition.
func (n *Node) publishConnection(peer transport.Peer, payload wire.ConnectionPayload) {
	msg, err := wire.NewMessage(wire.PathDeviceConnection, payload)
	if err != nil {
		log.Errorf("wsnode: encode connection payload: %v", err)
		return
	}
	n.mu.Lock()
	b, ok := n.observers[wire.PathDeviceConnection]
	n.mu.Unlock()
	if ok {
		b.Publish(transport.Inbound{PeerID: peer.ID, Message: msg})
	}
}

// handshake exchanges hello frames and reports the peer's protocol version.
// The dialer speaks first.
func (n *Node) handshake(conn *websocket.Conn, outbound bool) (transport.Peer, string, error) {
	ours := hello{DeviceID: n.cfg.DeviceID, DeviceName: n.cfg.DeviceName, Version: ProtocolVersion}

	send := func() error {
		data, err := json.Marshal(ours)
		if err != nil {
			return err
		}
		return writeFrame(conn, frame{Type: frameHello, Payload: data})
	}
	receive := func() (hello, error) {
		var f frame
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		if err := conn.ReadJSON(&f); err != nil {
			return hello{}, err
		}
		conn.SetReadDeadline(time.Time{})
		if f.Type != frameHello {
			return hello{}, fmt.Errorf("expected hello, got %q", f.Type)
		}
		var h hello
		if err := json.Unmarshal(f.Payload, &h); err != nil {
			return hello{}, err
		}
		return h, nil
	}

	var theirs hello
	var err error
	if outbound {
		if err = send(); err != nil {
			return transport.Peer{}, "", err
		}
		if theirs, err = receive(); err != nil {
			return transport.Peer{}, "", err
		}
	} else {
		if theirs, err = receive(); err != nil {
			return transport.Peer{}, "", err
		}
		if err = send(); err != nil {
			return transport.Peer{}, "", err
		}
	}

	if err := checkVersion(theirs.Version); err != nil {
		return transport.Peer{}, "", err
	}
	if theirs.DeviceID == "" {
		return transport.Peer{}, "", fmt.Errorf("peer sent empty device id")
	}
	return transport.Peer{ID: theirs.DeviceID, Name: theirs.DeviceName}, theirs.Version, nil
}

// checkVersion enforces the minimum protocol version.
func checkVersion(v string) error {
	peerVer, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("peer protocol version %q: %w", v, err)
	}
	min := semver.MustParse(MinProtocolVersion)
	if peerVer.LessThan(min) {
		return fmt.Errorf("peer protocol version %s below minimum %s", v, MinProtocolVersion)
	}
	return nil
}

func (n *Node) isLinked() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.linked
}

// linkedConn returns the live control socket and peer.
func (n *Node) linkedConn() (*websocket.Conn, transport.Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.linked || n.conn == nil {
		return nil, transport.Peer{}, false
	}
	return n.conn, n.peer, true
}

// dropLink closes the current control socket, if any.
func (n *Node) dropLink() {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// writeControl serializes one frame onto the control socket.
func (n *Node) writeControl(f frame) error {
	conn, _, ok := n.linkedConn()
	if !ok {
		return fmt.Errorf("write %s frame: %w", f.Type, errNotLinked())
	}
	n.connMu.Lock()
	defer n.connMu.Unlock()
	return writeFrame(conn, f)
}

func writeFrame(conn *websocket.Conn, f frame) error {
	return conn.WriteJSON(f)
}

// wsURL rewrites an http(s) base URL to its ws(s) form.
func wsURL(base string) string {
	switch {
	case len(base) > 8 && base[:8] == "https://":
		return "wss://" + base[8:]
	case len(base) > 7 && base[:7] == "http://":
		return "ws://" + base[7:]
	default:
		return base
	}
}
