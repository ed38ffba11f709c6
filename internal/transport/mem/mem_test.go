package mem

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

func twoNodes(t *testing.T) (*Fabric, *Node, *Node) {
	t.Helper()
	f := NewFabric()
	t.Cleanup(f.Close)
	a := f.AddNode("node-a", "watch")
	b := f.AddNode("node-b", "phone")
	return f, a, b
}

func recvInbound(t *testing.T, ch <-chan transport.Inbound) transport.Inbound {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
		return transport.Inbound{}
	}
}

func TestSendDeliversInOrder(t *testing.T) {
	_, a, b := twoNodes(t)
	ctx := context.Background()

	in, cancel := b.Observe(wire.PathMetadataSync)
	defer cancel()

	for i := 0; i < 5; i++ {
		msg, err := wire.NewMessage(wire.PathMetadataSync,
			wire.NewMetadataUpdated(string(rune('a'+i)), time.Now()))
		require.NoError(t, err)
		require.NoError(t, a.Send(ctx, "node-b", msg))
	}

	for i := 0; i < 5; i++ {
		got := recvInbound(t, in)
		assert.Equal(t, "node-a", got.PeerID)
		p, err := wire.DecodeMetadata(got.Message.Payload)
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+i)), p.(wire.MetadataUpdated).RecordingID)
	}
}

func TestSendToOfflinePeerFails(t *testing.T) {
	_, a, b := twoNodes(t)
	ctx := context.Background()

	b.SetOnline(false)

	msg, err := wire.NewMessage(wire.PathMetadataSync, wire.NewMetadataUpdated("r", time.Now()))
	require.NoError(t, err)

	err = a.Send(ctx, "node-b", msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPeerDisconnected))

	// Peers reflects the disconnect.
	peers, err := a.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestConnectionEvents(t *testing.T) {
	f := NewFabric()
	t.Cleanup(f.Close)
	a := f.AddNode("node-a", "watch")

	evts, cancel := a.ConnectionEvents()
	defer cancel()

	// A second node joining makes a connected.
	b := f.AddNode("node-b", "phone")
	select {
	case connected := <-evts:
		assert.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection event after peer joined")
	}

	b.SetOnline(false)
	select {
	case connected := <-evts:
		assert.False(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection event after peer left")
	}
}

func TestFabricCloseStopsDispatch(t *testing.T) {
	f := NewFabric()
	a := f.AddNode("node-a", "watch")
	b := f.AddNode("node-b", "phone")
	ctx := context.Background()

	msg, err := wire.NewMessage(wire.PathMetadataSync, wire.NewMetadataUpdated("r", time.Now()))
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, "node-b", msg))

	f.Close()

	// With dispatch stopped the peer's inbox fills up, and sends to the
	// closed node must then fail promptly instead of blocking forever.
	var sendErr error
	for i := 0; i <= cap(b.inbox); i++ {
		if sendErr = a.Send(ctx, "node-b", msg); sendErr != nil {
			break
		}
	}
	require.Error(t, sendErr)
	assert.ErrorIs(t, sendErr, models.ErrPeerDisconnected)
}

func TestFailSendsInjectsError(t *testing.T) {
	_, a, _ := twoNodes(t)
	ctx := context.Background()

	boom := errors.New("radio interference")
	a.FailSends(boom)

	msg, _ := wire.NewMessage(wire.PathMetadataSync, wire.NewMetadataUpdated("r", time.Now()))
	assert.ErrorIs(t, a.Send(ctx, "node-b", msg), boom)
	assert.ErrorIs(t, a.Broadcast(ctx, msg), boom)

	a.FailSends(nil)
	assert.NoError(t, a.Send(ctx, "node-b", msg))
}

func TestStorePropagatesWrites(t *testing.T) {
	_, a, b := twoNodes(t)
	ctx := context.Background()

	changes, cancel := b.Store().Observe("/recording_metadata/")
	defer cancel()

	require.NoError(t, a.Store().Put(ctx, "/recording_metadata/rec-1", []byte(`{"id":"rec-1"}`)))

	select {
	case ch := <-changes:
		assert.Equal(t, "/recording_metadata/rec-1", ch.Key)
		assert.False(t, ch.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("change never propagated")
	}

	// Read-your-writes on the origin node.
	val, ok, err := a.Store().Get(ctx, "/recording_metadata/rec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"rec-1"}`, string(val))

	// And visible on the peer.
	val, ok, err = b.Store().Get(ctx, "/recording_metadata/rec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"rec-1"}`, string(val))
}

func TestStoreFlushesToReconnectedNode(t *testing.T) {
	_, a, b := twoNodes(t)
	ctx := context.Background()

	b.SetOnline(false)
	require.NoError(t, a.Store().Put(ctx, "/recording_metadata/rec-1", []byte(`{"id":"rec-1"}`)))

	_, ok, err := b.Store().Get(ctx, "/recording_metadata/rec-1")
	require.NoError(t, err)
	assert.False(t, ok, "offline node saw the write early")

	b.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := b.Store().Get(ctx, "/recording_metadata/rec-1"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queued write never reached the reconnected node")
}

func TestChannelTransfer(t *testing.T) {
	_, a, b := twoNodes(t)
	ctx := context.Background()

	evts, cancel := b.Channels().Events()
	defer cancel()

	handle, err := a.Channels().Open(ctx, "node-b", "/wearsync/audio/rec-1")
	require.NoError(t, err)

	var opened transport.ChannelEvent
	select {
	case opened = <-evts:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never saw the channel open")
	}
	require.Equal(t, transport.ChannelOpened, opened.Kind)
	assert.Equal(t, "/wearsync/audio/rec-1", opened.Path)

	inbound, err := b.Channels().Accept(ctx, opened.ChannelID)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("audio"), 64*1024)

	var sink bytes.Buffer
	recvDone := make(chan error, 1)
	go func() {
		recvDone <- b.Channels().ReceiveStream(ctx, inbound, &sink, nil)
	}()

	var lastProgress transport.Progress
	err = a.Channels().SendStream(ctx, handle, bytes.NewReader(payload), func(p transport.Progress) {
		lastProgress = p
	})
	require.NoError(t, err)
	require.NoError(t, <-recvDone)

	assert.Equal(t, payload, sink.Bytes())
	assert.True(t, lastProgress.Complete)
	assert.Equal(t, int64(len(payload)), lastProgress.BytesTransferred)
}

func TestCloseFailsInflightSend(t *testing.T) {
	_, a, b := twoNodes(t)
	ctx := context.Background()

	evts, cancel := b.Channels().Events()
	defer cancel()

	handle, err := a.Channels().Open(ctx, "node-b", "/wearsync/audio/rec-1")
	require.NoError(t, err)

	opened := <-evts
	_, err = b.Channels().Accept(ctx, opened.ChannelID)
	require.NoError(t, err)

	// No receiver drains the pipe, so the send blocks mid-stream. Closing
	// the handle must fail it promptly rather than hang.
	endless := strings.NewReader(strings.Repeat("x", 1<<20))
	sendDone := make(chan error, 1)
	go func() {
		sendDone <- a.Channels().SendStream(ctx, handle, endless, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Channels().Close(handle))

	select {
	case err := <-sendDone:
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrChannelClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("send hung after channel close")
	}
}

func TestSendStreamCancelledByContext(t *testing.T) {
	_, a, b := twoNodes(t)

	evts, cancel := b.Channels().Events()
	defer cancel()

	ctx, cancelCtx := context.WithCancel(context.Background())
	handle, err := a.Channels().Open(ctx, "node-b", "/wearsync/audio/rec-1")
	require.NoError(t, err)
	<-evts

	endless := strings.NewReader(strings.Repeat("x", 1<<20))
	sendDone := make(chan error, 1)
	go func() {
		sendDone <- a.Channels().SendStream(ctx, handle, endless, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancelCtx()

	select {
	case err := <-sendDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send hung after context cancel")
	}
}

func TestAcceptUnknownChannel(t *testing.T) {
	_, _, b := twoNodes(t)
	_, err := b.Channels().Accept(context.Background(), "nope")
	require.Error(t, err)
}
