package mem

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
)

// memChannel is the shared state behind the two handles of one transfer.
type memChannel struct {
	id   string
	path string
	from string
	to   string

	pr *io.PipeReader
	pw *io.PipeWriter

	closeOnce sync.Once
}

func (c *memChannel) abort(err error) {
	c.closeOnce.Do(func() {
		_ = c.pw.CloseWithError(err)
		_ = c.pr.CloseWithError(err)
	})
}

// memChannels implements transport.ChannelTransport over in-process pipes.
type memChannels struct {
	node *Node

	mu       sync.Mutex
	channels map[string]*memChannel // by channel id, on both endpoints
	evts     *events.Broadcaster[transport.ChannelEvent]
}

func newMemChannels(n *Node) *memChannels {
	return &memChannels{
		node:     n,
		channels: make(map[string]*memChannel),
		evts:     events.NewBroadcaster[transport.ChannelEvent](32),
	}
}

// Open establishes a channel to a peer. The peer learns about it through a
// ChannelOpened event and claims it with Accept.
func (t *memChannels) Open(ctx context.Context, peerID, path string) (*models.ChannelHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.node.isOnline() {
		return nil, fmt.Errorf("open channel %s: %w", path, models.ErrPeerDisconnected)
	}
	peer, ok := t.node.fabric.node(peerID)
	if !ok || !peer.isOnline() {
		return nil, fmt.Errorf("open channel %s to %s: %w", path, peerID, models.ErrPeerDisconnected)
	}

	pr, pw := io.Pipe()
	ch := &memChannel{
		id:   uuid.New().String(),
		path: path,
		from: t.node.id,
		to:   peerID,
		pr:   pr,
		pw:   pw,
	}

	t.mu.Lock()
	t.channels[ch.id] = ch
	t.mu.Unlock()

	peer.channels.mu.Lock()
	peer.channels.channels[ch.id] = ch
	peer.channels.mu.Unlock()

	// Only the peer is notified; the opener already holds the handle.
	peer.channels.publish(transport.ChannelEvent{
		Kind:      transport.ChannelOpened,
		ChannelID: ch.id,
		PeerID:    t.node.id,
		Path:      path,
	})

	return models.NewChannelHandle(ch.id, peerID, path), nil
}

// Accept claims a pending inbound channel by id.
func (t *memChannels) Accept(ctx context.Context, channelID string) (*models.ChannelHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	ch, ok := t.channels[channelID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("accept: no pending channel %s", channelID)
	}
	return models.NewChannelHandle(ch.id, ch.from, ch.path), nil
}

// SendStream copies r through the channel until EOF, reporting progress.
// Closing the handle mid-stream fails the copy with a transfer error.
func (t *memChannels) SendStream(ctx context.Context, h *models.ChannelHandle, r io.Reader, onProgress func(transport.Progress)) error {
	ch, err := t.lookup(h)
	if err != nil {
		return err
	}

	// A cancelled context must fail a blocked pipe write, not wait it out.
	stop := context.AfterFunc(ctx, func() { ch.abort(models.ErrTransferCancelled) })
	defer stop()

	start := time.Now()
	var sent int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			ch.abort(models.ErrTransferCancelled)
			return reportErr(onProgress, sent, err)
		}
		if !h.IsOpen() {
			ch.abort(models.ErrChannelClosed)
			return reportErr(onProgress, sent, models.ErrChannelClosed)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := ch.pw.Write(buf[:n]); writeErr != nil {
				return reportErr(onProgress, sent, fmt.Errorf("channel write: %w", writeErr))
			}
			sent += int64(n)
			report(onProgress, sent, start, false, nil)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			ch.abort(readErr)
			return reportErr(onProgress, sent, fmt.Errorf("read source: %w", readErr))
		}
	}

	// Normal end of stream: close only the write side so the receiver
	// drains the remaining bytes.
	_ = ch.pw.Close()
	t.publish(transport.ChannelEvent{Kind: transport.ChannelOutputClosed, ChannelID: ch.id, PeerID: h.PeerID, Path: ch.path})
	report(onProgress, sent, start, true, nil)
	return nil
}

// ReceiveStream copies the channel's bytes into w until the sender closes
// its side, reporting progress.
func (t *memChannels) ReceiveStream(ctx context.Context, h *models.ChannelHandle, w io.Writer, onProgress func(transport.Progress)) error {
	ch, err := t.lookup(h)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { ch.abort(models.ErrTransferCancelled) })
	defer stop()

	start := time.Now()
	var received int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			ch.abort(models.ErrTransferCancelled)
			return reportErr(onProgress, received, err)
		}
		if !h.IsOpen() {
			ch.abort(models.ErrChannelClosed)
			return reportErr(onProgress, received, models.ErrChannelClosed)
		}

		n, readErr := ch.pr.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				ch.abort(writeErr)
				return reportErr(onProgress, received, fmt.Errorf("write sink: %w", writeErr))
			}
			received += int64(n)
			report(onProgress, received, start, false, nil)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return reportErr(onProgress, received, fmt.Errorf("channel read: %w", readErr))
		}
	}

	t.publish(transport.ChannelEvent{Kind: transport.ChannelInputClosed, ChannelID: ch.id, PeerID: h.PeerID, Path: ch.path})
	report(onProgress, received, start, true, nil)
	return nil
}

// Close releases the handle, failing any in-flight stream operation on it.
func (t *memChannels) Close(h *models.ChannelHandle) error {
	if h == nil || !h.MarkClosed() {
		return nil
	}
	t.mu.Lock()
	ch, ok := t.channels[h.ChannelID]
	delete(t.channels, h.ChannelID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	ch.abort(models.ErrChannelClosed)
	t.publish(transport.ChannelEvent{Kind: transport.ChannelClosed, ChannelID: h.ChannelID, PeerID: h.PeerID, Path: h.Path})
	return nil
}

// Events streams channel lifecycle events for this node.
func (t *memChannels) Events() (<-chan transport.ChannelEvent, func()) {
	return t.evts.Subscribe()
}

func (t *memChannels) lookup(h *models.ChannelHandle) (*memChannel, error) {
	if h == nil {
		return nil, fmt.Errorf("nil channel handle")
	}
	if !h.IsOpen() {
		return nil, models.ErrChannelClosed
	}
	t.mu.Lock()
	ch, ok := t.channels[h.ChannelID]
	t.mu.Unlock()
	if !ok {
		return nil, models.ErrChannelClosed
	}
	return ch, nil
}

func (t *memChannels) publish(e transport.ChannelEvent) {
	t.evts.Publish(e)
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
