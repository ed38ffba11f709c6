// Package syncer implements the sync orchestration service: it translates
// domain operations (sync metadata, edit metadata, stream audio, control a
// remote recording) into transport operations and maintains the engine's
// observation streams. It never retries internally; the offline queue is
// the sole retry authority.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/telemetry"
	"github.com/asteroid-belt/wearsync/internal/transport"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// RemoteStatus pairs an inbound recording-status payload with its sender.
type RemoteStatus struct {
	PeerID string
	Status wire.StatusPayload
}

// Service is the sync orchestration service. One instance runs per device
// process; all collaborators are injected at construction.
type Service struct {
	store      *db.DB
	t          transport.Transports
	cfg        models.SyncConfiguration
	deviceID   string
	deviceName string
	audioDir   string
	tel        telemetry.Client

	status       *events.Value[models.SyncStatus]
	errs         *events.Broadcaster[*models.SyncError]
	metaChanges  *events.Broadcaster[*models.RecordingMetadata]
	remoteStatus *events.Broadcaster[RemoteStatus]
	connections  *events.Value[[]transport.Peer]
	progress     *events.Broadcaster[transport.Progress]

	// openedChannels tracks channel ids this service opened, so the inbound
	// accept loop does not claim its own outbound transfers.
	mu             sync.Mutex
	openedChannels map[string]bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithDeviceName sets the human-readable name announced to peers.
func WithDeviceName(name string) Option {
	return func(s *Service) { s.deviceName = name }
}

// WithAudioDir sets the directory where received audio files land.
func WithAudioDir(dir string) Option {
	return func(s *Service) { s.audioDir = dir }
}

// WithTelemetry sets the telemetry client for sync completion events.
func WithTelemetry(c telemetry.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.tel = c
		}
	}
}

// New creates the orchestration service. Start must be called to run the
// inbound message loops; the imperative operations work immediately.
func New(store *db.DB, t transport.Transports, cfg models.SyncConfiguration, opts ...Option) (*Service, error) {
	deviceID, err := store.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("read device id: %w", err)
	}
	s := &Service{
		store:          store,
		t:              t,
		cfg:            cfg,
		deviceID:       deviceID,
		audioDir:       "received",
		tel:            &telemetry.NoopClient{},
		status:         events.NewValue[models.SyncStatus](8),
		errs:           events.NewBroadcaster[*models.SyncError](32),
		metaChanges:    events.NewBroadcaster[*models.RecordingMetadata](32),
		remoteStatus:   events.NewBroadcaster[RemoteStatus](32),
		connections:    events.NewValue[[]transport.Peer](8),
		progress:       events.NewBroadcaster[transport.Progress](64),
		openedChannels: make(map[string]bool),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status.Set(models.SyncPending)
	return s, nil
}

// DeviceID returns this device's stable identifier.
func (s *Service) DeviceID() string { return s.deviceID }

// Start launches the inbound observation loops: metadata-sync and
// recording-status messages, data-store changes, channel events, and
// connectivity transitions. Subscriptions are taken once, here.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		metaCh, metaCancel := s.t.Messages.Observe(wire.PathMetadataSync)
		statusCh, statusCancel := s.t.Messages.Observe(wire.PathRecordingStatus)
		requestCh, requestCancel := s.t.Messages.Observe(wire.PathAudioSyncRequest)
		storeCh, storeCancel := s.t.Data.Observe(wire.KeyPrefixRecordingMetadata)
		chanCh, chanCancel := s.t.Channels.Events()
		connCh, connCancel := s.t.Messages.ConnectionEvents()

		s.wg.Add(6)
		go s.metadataLoop(ctx, metaCh, metaCancel)
		go s.statusLoop(ctx, statusCh, statusCancel)
		go s.audioRequestLoop(ctx, requestCh, requestCancel)
		go s.storeLoop(ctx, storeCh, storeCancel)
		go s.channelLoop(ctx, chanCh, chanCancel)
		go s.connectionLoop(ctx, connCh, connCancel)
	})
}

// Stop tears down the observation loops and closes the streams. In-flight
// imperative operations run to completion independently.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.status.Close()
		s.errs.Close()
		s.metaChanges.Close()
		s.remoteStatus.Close()
		s.connections.Close()
		s.progress.Close()
	})
}

// Status returns the current sync status and a stream of transitions.
func (s *Service) Status() models.SyncStatus {
	v, ok := s.status.Get()
	if !ok {
		return models.SyncPending
	}
	return v
}

// StatusStream streams sync status transitions.
func (s *Service) StatusStream() (<-chan models.SyncStatus, func()) {
	return s.status.Subscribe()
}

// Errors streams sync failures, one event per failure.
func (s *Service) Errors() (<-chan *models.SyncError, func()) {
	return s.errs.Subscribe()
}

// MetadataChanges streams recording metadata observed from the data sync
// store, from both local writes and peer propagation.
func (s *Service) MetadataChanges() (<-chan *models.RecordingMetadata, func()) {
	return s.metaChanges.Subscribe()
}

// RemoteStatuses streams inbound recording-status broadcasts.
func (s *Service) RemoteStatuses() (<-chan RemoteStatus, func()) {
	return s.remoteStatus.Subscribe()
}

// DeviceConnections streams the connected peer list. An empty list means no
// peer is reachable.
func (s *Service) DeviceConnections() (<-chan []transport.Peer, func()) {
	return s.connections.Subscribe()
}

// TransferProgress streams progress for audio transfers in either direction.
func (s *Service) TransferProgress() (<-chan transport.Progress, func()) {
	return s.progress.Subscribe()
}

// ConnectedPeers lists the currently connected peers.
func (s *Service) ConnectedPeers(ctx context.Context) ([]transport.Peer, error) {
	return s.t.Messages.Peers(ctx)
}

// fail classifies err, emits it on the error stream, and returns the
// wrapped error. Every public operation routes its failures through here.
func (s *Service) fail(recordingID, op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	syncErr := models.NewSyncError(wrapped, recordingID)
	syncErr.DeviceID = s.deviceID
	s.errs.Publish(syncErr)
	log.Errorf("syncer: %s failed (%s): %v", op, syncErr.Type, err)
	return wrapped
}

func (s *Service) markOpened(channelID string) {
	s.mu.Lock()
	s.openedChannels[channelID] = true
	s.mu.Unlock()
}

func (s *Service) clearOpened(channelID string) {
	s.mu.Lock()
	delete(s.openedChannels, channelID)
	s.mu.Unlock()
}

func (s *Service) openedByMe(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openedChannels[channelID]
}
