package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// audioChannelPrefix namespaces per-recording audio transfer channels.
const audioChannelPrefix = "/wearsync/audio/"

func audioChannelPath(recordingID string) string {
	return audioChannelPrefix + recordingID
}

// SyncRecordingAudioData streams a recording's audio bytes to the first
// connected peer over a dedicated channel. On success it broadcasts an
// audio-sync-complete notice. The channel is closed on every path.
func (s *Service) SyncRecordingAudioData(ctx context.Context, id string) error {
	const op = "sync recording audio"

	peers, err := s.t.Messages.Peers(ctx)
	if err != nil {
		return s.fail(id, op, err)
	}
	if len(peers) == 0 {
		return s.fail(id, op, models.ErrNoConnectedPeers)
	}
	peer := peers[0]

	reader, size, err := s.store.AudioReader(id)
	if err != nil {
		return s.fail(id, op, err)
	}
	defer reader.Close()
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	handle, err := s.t.Channels.Open(ctx, peer.ID, audioChannelPath(id))
	if err != nil {
		return s.fail(id, op, err)
	}
	s.markOpened(handle.ChannelID)
	defer func() {
		s.clearOpened(handle.ChannelID)
		if err := s.t.Channels.Close(handle); err != nil {
			log.Errorf("syncer: close audio channel %s: %v", handle.ChannelID, err)
		}
	}()

	log.Printf("syncer: streaming audio for %s to %s (%d bytes)\n", id, peer.ID, size)
	err = s.t.Channels.SendStream(ctx, handle, reader, func(p transport.Progress) {
		p.TotalBytes = size
		s.progress.Publish(p)
	})
	if err != nil {
		s.markFailed(id)
		return s.fail(id, op, err)
	}

	msg, err := wire.NewMessage(wire.PathAudioSyncComplete, wire.NewAudioSyncComplete(id, size))
	if err != nil {
		return s.fail(id, op, err)
	}
	if err := s.t.Messages.Broadcast(ctx, msg); err != nil {
		return s.fail(id, op, err)
	}

	if err := s.store.UpdateSyncStatus(id, models.SyncCompleted); err != nil {
		return s.fail(id, op, err)
	}
	s.status.Set(models.SyncCompleted)
	s.tel.TrackAudioSynced(size, time.Since(started).Milliseconds())
	log.Printf("syncer: audio synced for %s\n", id)
	return nil
}

// RequestAudioSync asks the owning peer to stream a recording's audio here.
func (s *Service) RequestAudioSync(ctx context.Context, peerID, recordingID string) error {
	const op = "request audio sync"
	msg, err := wire.NewMessage(wire.PathAudioSyncRequest, wire.NewAudioSyncRequest(recordingID))
	if err != nil {
		return s.fail(recordingID, op, err)
	}
	if err := s.t.Messages.Send(ctx, peerID, msg); err != nil {
		return s.fail(recordingID, op, err)
	}
	return nil
}

// receiveAudio accepts an inbound audio channel and drains it into a local
// file, then records the file path against the recording if it exists
// locally. Called from the channel event loop.
func (s *Service) receiveAudio(ctx context.Context, event transport.ChannelEvent) error {
	recordingID := event.Path[len(audioChannelPrefix):]

	handle, err := s.t.Channels.Accept(ctx, event.ChannelID)
	if err != nil {
		return fmt.Errorf("accept audio channel: %w", err)
	}
	defer func() {
		if err := s.t.Channels.Close(handle); err != nil {
			log.Errorf("syncer: close inbound channel %s: %v", handle.ChannelID, err)
		}
	}()

	if err := os.MkdirAll(s.audioDir, 0755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(s.audioDir, recordingID+".wav")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}

	err = s.t.Channels.ReceiveStream(ctx, handle, f, func(p transport.Progress) {
		s.progress.Publish(p)
	})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("receive audio stream: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat received audio: %w", err)
	}
	log.Printf("syncer: received audio for %s from %s (%d bytes)\n", recordingID, event.PeerID, info.Size())

	rec, err := s.store.GetRecording(recordingID)
	if err != nil {
		return err
	}
	if rec == nil {
		// Metadata may not have propagated yet; register a minimal row so
		// the audio is not orphaned.
		rec = &models.Recording{
			ID:         recordingID,
			FilePath:   path,
			SizeBytes:  info.Size(),
			DeviceID:   event.PeerID,
			SyncStatus: models.SyncCompleted,
		}
		return s.store.CreateRecording(rec)
	}
	return s.store.AttachAudioFile(recordingID, path, info.Size())
}
