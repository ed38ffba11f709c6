package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// metadataLoop handles inbound metadata-sync messages. Partial updates apply
// only their non-nil fields to the local store and are confirmed back to the
// sender; confirmations are logged.
func (s *Service) metadataLoop(ctx context.Context, in <-chan transport.Inbound, cancel func()) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			s.handleMetadataMessage(ctx, msg)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) handleMetadataMessage(ctx context.Context, in transport.Inbound) {
	payload, err := wire.DecodeMetadata(in.Message.Payload)
	if err != nil {
		log.Errorf("syncer: drop metadata message from %s: %v", in.PeerID, err)
		return
	}

	switch p := payload.(type) {
	case wire.UpdateMetadata:
		if err := s.applyRemoteUpdate(p); err != nil {
			log.Errorf("syncer: apply remote update for %s: %v", p.RecordingID, err)
			return
		}
		reply, err := wire.NewMessage(wire.PathMetadataSync,
			wire.NewMetadataUpdated(p.RecordingID, time.Now()))
		if err != nil {
			log.Errorf("syncer: build metadata confirmation: %v", err)
			return
		}
		if err := s.t.Messages.Send(ctx, in.PeerID, reply); err != nil {
			log.Errorf("syncer: confirm metadata update to %s: %v", in.PeerID, err)
		}
	case wire.MetadataUpdated:
		log.Printf("syncer: %s confirmed metadata update for %s\n", in.PeerID, p.RecordingID)
	}
}

// applyRemoteUpdate applies the non-nil fields of a partial update to the
// local store.
func (s *Service) applyRemoteUpdate(p wire.UpdateMetadata) error {
	if p.Title != nil {
		if err := s.store.UpdateTitle(p.RecordingID, *p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := s.store.UpdateDescription(p.RecordingID, *p.Description); err != nil {
			return err
		}
	}
	if p.Tags != nil {
		if err := s.store.UpdateTags(p.RecordingID, *p.Tags); err != nil {
			return err
		}
	}
	return nil
}

// statusLoop handles inbound recording-status broadcasts: every decoded
// payload is republished on the remote-status stream, and a stop from a peer
// triggers a metadata sync for that recording if it exists locally.
func (s *Service) statusLoop(ctx context.Context, in <-chan transport.Inbound, cancel func()) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			payload, err := wire.DecodeStatus(msg.Message.Payload)
			if err != nil {
				log.Errorf("syncer: drop status message from %s: %v", msg.PeerID, err)
				continue
			}
			s.remoteStatus.Publish(RemoteStatus{PeerID: msg.PeerID, Status: payload})

			if stopped, ok := payload.(wire.RecordingStopped); ok {
				s.onRemoteStopped(ctx, stopped.RecordingID)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// onRemoteStopped closes the loop between a remote stop and local
// visibility: when the stopped recording exists locally, its metadata is
// re-synced without user action.
func (s *Service) onRemoteStopped(ctx context.Context, recordingID string) {
	rec, err := s.store.GetRecording(recordingID)
	if err != nil {
		log.Errorf("syncer: lookup stopped recording %s: %v", recordingID, err)
		return
	}
	if rec == nil {
		return
	}
	if err := s.SyncRecordingMetadata(ctx, recordingID); err != nil {
		log.Errorf("syncer: sync after remote stop of %s: %v", recordingID, err)
	}
}

// audioRequestLoop serves inbound audio-sync requests by streaming the
// requested recording back to the asking peer.
func (s *Service) audioRequestLoop(ctx context.Context, in <-chan transport.Inbound, cancel func()) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			req, err := wire.DecodeAudioSyncRequest(msg.Message.Payload)
			if err != nil {
				log.Errorf("syncer: drop audio request from %s: %v", msg.PeerID, err)
				continue
			}
			if err := s.SyncRecordingAudioData(ctx, req.RecordingID); err != nil {
				log.Errorf("syncer: serve audio request for %s: %v", req.RecordingID, err)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// storeLoop republishes data-store metadata changes on the metadata stream.
func (s *Service) storeLoop(ctx context.Context, in <-chan transport.Change, cancel func()) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case change, ok := <-in:
			if !ok {
				return
			}
			if change.Deleted {
				continue
			}
			meta, err := models.DecodeRecordingMetadata(change.Value)
			if err != nil {
				log.Errorf("syncer: drop store change %s: %v", change.Key, err)
				continue
			}
			s.metaChanges.Publish(meta)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// channelLoop accepts inbound audio channels. Channels this service opened
// itself are skipped; everything else under the audio prefix is received.
func (s *Service) channelLoop(ctx context.Context, in <-chan transport.ChannelEvent, cancel func()) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case event, ok := <-in:
			if !ok {
				return
			}
			if event.Kind != transport.ChannelOpened || s.openedByMe(event.ChannelID) {
				continue
			}
			if !strings.HasPrefix(event.Path, audioChannelPrefix) {
				continue
			}
			// Receive in its own task so a long transfer does not stall
			// later channel events.
			s.wg.Add(1)
			go func(ev transport.ChannelEvent) {
				defer s.wg.Done()
				if err := s.receiveAudio(ctx, ev); err != nil {
					log.Errorf("syncer: receive audio on %s: %v", ev.ChannelID, err)
				}
			}(event)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// connectionLoop derives the device-connection stream: a true transition
// re-queries the peer list, a false transition publishes an empty list.
func (s *Service) connectionLoop(ctx context.Context, in <-chan bool, cancel func()) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case connected, ok := <-in:
			if !ok {
				return
			}
			if !connected {
				s.connections.Set(nil)
				continue
			}
			peers, err := s.t.Messages.Peers(ctx)
			if err != nil {
				log.Errorf("syncer: query peers: %v", err)
				continue
			}
			s.connections.Set(peers)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
