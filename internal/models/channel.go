package models

import "sync/atomic"

// ChannelHandle is an open byte-stream session between two peers. A handle
// serves exactly one logical transfer and is released by the component that
// opened or accepted it; a retried transfer needs a fresh open.
type ChannelHandle struct {
	ChannelID string `json:"channel_id"`
	PeerID    string `json:"peer_id"`
	Path      string `json:"path"`

	closed atomic.Bool
}

// NewChannelHandle creates an open handle.
func NewChannelHandle(channelID, peerID, path string) *ChannelHandle {
	return &ChannelHandle{ChannelID: channelID, PeerID: peerID, Path: path}
}

// IsOpen reports whether the handle has not been closed yet.
func (h *ChannelHandle) IsOpen() bool {
	return !h.closed.Load()
}

// MarkClosed flips the handle to closed. It returns false if the handle was
// already closed, so close paths stay idempotent.
func (h *ChannelHandle) MarkClosed() bool {
	return h.closed.CompareAndSwap(false, true)
}
