package wsnode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
)

// channelOpenFrame announces a new transfer channel on the control socket.
type channelOpenFrame struct {
	ChannelID string `json:"channel_id"`
	Path      string `json:"path"`
	From      string `json:"from"`
}

// pendingChannel is an inbound channel waiting to be accepted. The open
// announcement and the dialed socket can arrive in either order.
type pendingChannel struct {
	id     string
	path   string
	from   string
	connCh chan *websocket.Conn
}

// wsChannel is one active transfer socket.
type wsChannel struct {
	id      string
	path    string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsChannel) abort() {
	c.conn.Close()
}

// wsChannels implements transport.ChannelTransport over dedicated
// per-transfer websockets.
type wsChannels struct {
	node *Node

	mu     sync.Mutex
	active map[string]*wsChannel
	evts   *events.Broadcaster[transport.ChannelEvent]
}

func newWSChannels(n *Node) *wsChannels {
	return &wsChannels{
		node:   n,
		active: make(map[string]*wsChannel),
		evts:   events.NewBroadcaster[transport.ChannelEvent](32),
	}
}

func (t *wsChannels) close() {
	t.mu.Lock()
	for id, ch := range t.active {
		ch.abort()
		delete(t.active, id)
	}
	t.mu.Unlock()
	t.evts.Close()
}

// Open announces a channel on the control socket and dials the peer's
// channel endpoint for it.
func (t *wsChannels) Open(ctx context.Context, peerID, path string) (*models.ChannelHandle, error) {
	_, peer, ok := t.node.linkedConn()
	if !ok {
		return nil, fmt.Errorf("open channel %s: %w", path, errNotLinked())
	}
	if peerID != peer.ID {
		return nil, fmt.Errorf("open channel %s: no such peer %s", path, peerID)
	}

	channelID := uuid.New().String()
	payload, err := json.Marshal(channelOpenFrame{ChannelID: channelID, Path: path, From: t.node.cfg.DeviceID})
	if err != nil {
		return nil, fmt.Errorf("encode channel open: %w", err)
	}
	if err := t.node.writeControl(frame{Type: frameChannelOpen, Payload: payload}); err != nil {
		return nil, fmt.Errorf("announce channel %s: %w", path, err)
	}

	url := wsURL(t.node.cfg.PeerURL) + "/channel/" + channelID
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel %s: %w", path, err)
	}

	t.mu.Lock()
	t.active[channelID] = &wsChannel{id: channelID, path: path, conn: conn}
	t.mu.Unlock()

	return models.NewChannelHandle(channelID, peerID, path), nil
}

// handleOpen registers the announced channel and surfaces it as an opened
// event so the engine can accept it.
func (t *wsChannels) handleOpen(payload json.RawMessage) {
	var cf channelOpenFrame
	if err := json.Unmarshal(payload, &cf); err != nil {
		log.Errorf("wsnode: drop malformed channel open: %v", err)
		return
	}
	pending := t.node.pendingChannel(cf.ChannelID)
	pending.path = cf.Path
	pending.from = cf.From
	t.evts.Publish(transport.ChannelEvent{
		Kind:      transport.ChannelOpened,
		ChannelID: cf.ChannelID,
		PeerID:    cf.From,
		Path:      cf.Path,
	})
}

// handleChannel accepts the opener's dialed socket for a channel id.
func (n *Node) handleChannel(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimPrefix(r.URL.Path, "/channel/")
	if channelID == "" {
		http.Error(w, "missing channel id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("wsnode: upgrade channel socket: %v", err)
		return
	}
	pending := n.pendingChannel(channelID)
	select {
	case pending.connCh <- conn:
	default:
		log.Errorf("wsnode: duplicate socket for channel %s", channelID)
		conn.Close()
	}
}

// pendingChannel returns the pending entry for an id, creating it if the
// announcement and the socket race.
func (n *Node) pendingChannel(channelID string) *pendingChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[channelID]
	if !ok {
		p = &pendingChannel{id: channelID, connCh: make(chan *websocket.Conn, 1)}
		n.pending[channelID] = p
	}
	return p
}

// Accept claims a pending inbound channel, waiting briefly for its socket.
func (t *wsChannels) Accept(ctx context.Context, channelID string) (*models.ChannelHandle, error) {
	pending := t.node.pendingChannel(channelID)

	var conn *websocket.Conn
	select {
	case conn = <-pending.connCh:
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("accept channel %s: socket never arrived", channelID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.node.mu.Lock()
	delete(t.node.pending, channelID)
	t.node.mu.Unlock()

	t.mu.Lock()
	t.active[channelID] = &wsChannel{id: channelID, path: pending.path, conn: conn}
	t.mu.Unlock()

	return models.NewChannelHandle(channelID, pending.from, pending.path), nil
}

// SendStream copies r through the channel as binary frames, reporting
// progress. Closing the handle mid-stream fails the copy.
func (t *wsChannels) SendStream(ctx context.Context, h *models.ChannelHandle, r io.Reader, onProgress func(transport.Progress)) error {
	ch, err := t.lookup(h)
	if err != nil {
		return err
	}

	// A cancelled context must fail a blocked socket write, not wait it out.
	stop := context.AfterFunc(ctx, ch.abort)
	defer stop()

	start := time.Now()
	var sent int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			ch.abort()
			return reportErr(onProgress, sent, models.ErrTransferCancelled)
		}
		if !h.IsOpen() {
			return reportErr(onProgress, sent, models.ErrChannelClosed)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			ch.writeMu.Lock()
			writeErr := ch.conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			ch.writeMu.Unlock()
			if writeErr != nil {
				if ctx.Err() != nil {
					return reportErr(onProgress, sent, models.ErrTransferCancelled)
				}
				if !h.IsOpen() {
					return reportErr(onProgress, sent, models.ErrChannelClosed)
				}
				return reportErr(onProgress, sent, fmt.Errorf("channel write: %w", writeErr))
			}
			sent += int64(n)
			report(onProgress, sent, start, false, nil)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			ch.abort()
			return reportErr(onProgress, sent, fmt.Errorf("read source: %w", readErr))
		}
	}

	// Normal end of stream: a close frame tells the receiver to finish.
	ch.writeMu.Lock()
	err = ch.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ch.writeMu.Unlock()
	if err != nil {
		return reportErr(onProgress, sent, fmt.Errorf("finish channel: %w", err))
	}
	t.evts.Publish(transport.ChannelEvent{Kind: transport.ChannelOutputClosed, ChannelID: ch.id, PeerID: h.PeerID, Path: ch.path})
	report(onProgress, sent, start, true, nil)
	return nil
}

// ReceiveStream copies binary frames into w until the sender's close frame.
func (t *wsChannels) ReceiveStream(ctx context.Context, h *models.ChannelHandle, w io.Writer, onProgress func(transport.Progress)) error {
	ch, err := t.lookup(h)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, ch.abort)
	defer stop()

	start := time.Now()
	var received int64
	for {
		if err := ctx.Err(); err != nil {
			ch.abort()
			return reportErr(onProgress, received, models.ErrTransferCancelled)
		}
		if !h.IsOpen() {
			return reportErr(onProgress, received, models.ErrChannelClosed)
		}

		msgType, data, readErr := ch.conn.ReadMessage()
		if readErr != nil {
			if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
				break
			}
			if ctx.Err() != nil {
				return reportErr(onProgress, received, models.ErrTransferCancelled)
			}
			if !h.IsOpen() {
				return reportErr(onProgress, received, models.ErrChannelClosed)
			}
			return reportErr(onProgress, received, fmt.Errorf("channel read: %w", readErr))
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if _, writeErr := w.Write(data); writeErr != nil {
			ch.abort()
			return reportErr(onProgress, received, fmt.Errorf("write sink: %w", writeErr))
		}
		received += int64(len(data))
		report(onProgress, received, start, false, nil)
	}

	t.evts.Publish(transport.ChannelEvent{Kind: transport.ChannelInputClosed, ChannelID: ch.id, PeerID: h.PeerID, Path: ch.path})
	report(onProgress, received, start, true, nil)
	return nil
}

// Close releases the handle, failing any in-flight stream operation on it.
func (t *wsChannels) Close(h *models.ChannelHandle) error {
	if h == nil || !h.MarkClosed() {
		return nil
	}
	t.mu.Lock()
	ch, ok := t.active[h.ChannelID]
	delete(t.active, h.ChannelID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	ch.abort()
	t.evts.Publish(transport.ChannelEvent{Kind: transport.ChannelClosed, ChannelID: h.ChannelID, PeerID: h.PeerID, Path: h.Path})
	return nil
}

// Events streams channel lifecycle events for this node.
func (t *wsChannels) Events() (<-chan transport.ChannelEvent, func()) {
	return t.evts.Subscribe()
}

func (t *wsChannels) lookup(h *models.ChannelHandle) (*wsChannel, error) {
	if h == nil {
		return nil, fmt.Errorf("nil channel handle")
	}
	if !h.IsOpen() {
		return nil, models.ErrChannelClosed
	}
	t.mu.Lock()
	ch, ok := t.active[h.ChannelID]
	t.mu.Unlock()
	if !ok {
		return nil, models.ErrChannelClosed
	}
	return ch, nil
}

func report(onProgress func(transport.Progress), bytes int64, start time.Time, complete bool, err error) {
	if onProgress == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(bytes) / elapsed
	}
	onProgress(transport.Progress{
		BytesTransferred: bytes,
		BytesPerSecond:   rate,
		Complete:         complete,
		Err:              err,
	})
}

func reportErr(onProgress func(transport.Progress), bytes int64, err error) error {
	if onProgress != nil {
		onProgress(transport.Progress{BytesTransferred: bytes, Err: err})
	}
	return err
}
