// Package remote implements the remote recording controller: it tracks
// recording sessions running on peer devices, issues control calls through
// the orchestration service, and reconciles inbound status broadcasts into
// a session table. Session state changes only through a successful local
// control call or an inbound status from the owning device.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/telemetry"
	"github.com/asteroid-belt/wearsync/internal/transport"
)

// DefaultConfirmTimeout bounds how long an optimistic session may stay
// unconfirmed before it is moved to ERROR.
const DefaultConfirmTimeout = 15 * time.Second

// Controller tracks remote recording sessions. All mutations of the session
// table happen under one lock; reads return copies.
type Controller struct {
	svc            *syncer.Service
	confirmTimeout time.Duration
	tel            telemetry.Client

	mu       sync.Mutex
	sessions map[string]*models.RemoteRecordingSession // by recording id

	changes *events.Broadcaster[models.RemoteRecordingSession]

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a controller driving the given orchestration service.
func New(svc *syncer.Service) *Controller {
	return &Controller{
		svc:            svc,
		confirmTimeout: DefaultConfirmTimeout,
		tel:            &telemetry.NoopClient{},
		sessions:       make(map[string]*models.RemoteRecordingSession),
		changes:        events.NewBroadcaster[models.RemoteRecordingSession](32),
		done:           make(chan struct{}),
	}
}

// SetConfirmTimeout overrides the optimistic-session confirmation window.
func (c *Controller) SetConfirmTimeout(d time.Duration) {
	c.confirmTimeout = d
}

// SetTelemetry replaces the telemetry client. Must be called before Start.
func (c *Controller) SetTelemetry(t telemetry.Client) {
	if t != nil {
		c.tel = t
	}
}

// Start launches the status reconciliation loop.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		statusCh, cancel := c.svc.RemoteStatuses()
		c.wg.Add(1)
		go c.statusLoop(ctx, statusCh, cancel)
	})
}

// Stop tears down the reconciliation loop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.changes.Close()
	})
}

// Sessions streams session snapshots after every state change.
func (c *Controller) Sessions() (<-chan models.RemoteRecordingSession, func()) {
	return c.changes.Subscribe()
}

// StartRecordingOnDevice starts a recording on one peer. The returned id is
// optimistic: the session enters the table as RECORDING immediately and is
// confirmed (or timed out to ERROR) by the peer's status broadcast.
func (c *Controller) StartRecordingOnDevice(ctx context.Context, peer transport.Peer, title string) (string, error) {
	recordingID, err := c.svc.StartRemoteRecording(ctx, peer.ID, title)
	if err != nil {
		return "", err
	}

	session := &models.RemoteRecordingSession{
		RecordingID: recordingID,
		DeviceID:    peer.ID,
		DeviceName:  peer.Name,
		Title:       title,
		StartedAt:   time.Now(),
		Status:      models.SessionRecording,
	}
	c.mu.Lock()
	c.sessions[recordingID] = session
	c.mu.Unlock()
	c.changes.Publish(*session)

	c.armConfirmTimeout(recordingID)
	return recordingID, nil
}

// StartRecordingOnAllDevices fans the start out to every connected peer and
// returns the ids of the successful starts only. Callers compare the list
// length against the connected-peer count to detect partial failure.
func (c *Controller) StartRecordingOnAllDevices(ctx context.Context, title string) ([]string, error) {
	peers, err := c.svc.ConnectedPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}

	var ids []string
	for _, peer := range peers {
		id, err := c.StartRecordingOnDevice(ctx, peer, title)
		if err != nil {
			log.Errorf("remote: start on %s failed: %v", peer.ID, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StopRecording stops one tracked session.
func (c *Controller) StopRecording(ctx context.Context, recordingID string) error {
	session, err := c.session(recordingID)
	if err != nil {
		return err
	}
	if err := c.svc.StopRemoteRecording(ctx, session.DeviceID, recordingID); err != nil {
		return err
	}
	c.transition(recordingID, models.SessionStopped, "")
	return nil
}

// StopRecordingOnAllDevices stops every active session, aggregating errors.
// The call fails only if at least one stop failed; the error message
// concatenates the individual failures.
func (c *Controller) StopRecordingOnAllDevices(ctx context.Context) error {
	c.mu.Lock()
	var active []string
	for id, session := range c.sessions {
		if session.Active() {
			active = append(active, id)
		}
	}
	c.mu.Unlock()

	var failures []string
	for _, id := range active {
		if err := c.StopRecording(ctx, id); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("stop on all devices: %s", strings.Join(failures, "; "))
	}
	return nil
}

// PauseRecording pauses one tracked session.
func (c *Controller) PauseRecording(ctx context.Context, recordingID string) error {
	session, err := c.session(recordingID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionRecording {
		return fmt.Errorf("pause %s: session is %s", recordingID, session.Status)
	}
	if err := c.svc.PauseRemoteRecording(ctx, session.DeviceID, recordingID); err != nil {
		return err
	}
	c.transition(recordingID, models.SessionPaused, "")
	return nil
}

// ResumeRecording resumes one paused session.
func (c *Controller) ResumeRecording(ctx context.Context, recordingID string) error {
	session, err := c.session(recordingID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionPaused {
		return fmt.Errorf("resume %s: session is %s", recordingID, session.Status)
	}
	if err := c.svc.ResumeRemoteRecording(ctx, session.DeviceID, recordingID); err != nil {
		return err
	}
	c.transition(recordingID, models.SessionRecording, "")
	return nil
}

// IsDeviceRecording reports whether any tracked session on the device is
// RECORDING or PAUSED.
func (c *Controller) IsDeviceRecording(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, session := range c.sessions {
		if session.DeviceID == deviceID && session.Active() {
			return true
		}
	}
	return false
}

// Session returns a copy of one tracked session.
func (c *Controller) Session(recordingID string) (models.RemoteRecordingSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[recordingID]
	if !ok {
		return models.RemoteRecordingSession{}, false
	}
	return *session, true
}

// AllSessions returns copies of every tracked session. Stopped sessions are
// retained for historical display.
func (c *Controller) AllSessions() []models.RemoteRecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RemoteRecordingSession, 0, len(c.sessions))
	for _, session := range c.sessions {
		out = append(out, *session)
	}
	return out
}

var errUnknownSession = errors.New("unknown session")

func (c *Controller) session(recordingID string) (models.RemoteRecordingSession, error) {
	session, ok := c.Session(recordingID)
	if !ok {
		return models.RemoteRecordingSession{}, fmt.Errorf("session %s: %w", recordingID, errUnknownSession)
	}
	return session, nil
}
