package remote

import (
	"context"
	"time"

	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// statusLoop reconciles inbound status broadcasts into the session table.
func (c *Controller) statusLoop(ctx context.Context, in <-chan syncer.RemoteStatus, cancel func()) {
	defer c.wg.Done()
	defer cancel()
	for {
		select {
		case status, ok := <-in:
			if !ok {
				return
			}
			c.handleStatus(status)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) handleStatus(status syncer.RemoteStatus) {
	switch p := status.Status.(type) {
	case wire.RecordingStarted:
		c.confirmStarted(status.PeerID, p)
	case wire.RecordingStopped:
		c.mu.Lock()
		session, tracked := c.sessions[p.RecordingID]
		if tracked {
			session.Duration = time.Duration(p.DurationMs) * time.Millisecond
		}
		c.mu.Unlock()
		if tracked {
			c.tel.TrackRemoteSessionStopped(p.DurationMs)
		}
		c.transition(p.RecordingID, models.SessionStopped, "")
	case wire.RecordingError:
		c.transition(p.RecordingID, models.SessionError, p.Message)
	}
}

// confirmStarted marks an optimistic session confirmed, or registers a
// session started on the peer's own initiative.
func (c *Controller) confirmStarted(peerID string, p wire.RecordingStarted) {
	c.mu.Lock()
	session, ok := c.sessions[p.RecordingID]
	if ok {
		session.Confirmed = true
		if p.Title != "" {
			session.Title = p.Title
		}
		if p.DeviceName != "" {
			session.DeviceName = p.DeviceName
		}
		snapshot := *session
		c.mu.Unlock()
		c.tel.TrackRemoteSessionStarted(true)
		c.changes.Publish(snapshot)
		return
	}

	startedAt := p.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	session = &models.RemoteRecordingSession{
		RecordingID: p.RecordingID,
		DeviceID:    peerID,
		DeviceName:  p.DeviceName,
		Title:       p.Title,
		StartedAt:   startedAt,
		Status:      models.SessionRecording,
		Confirmed:   true,
	}
	c.sessions[p.RecordingID] = session
	snapshot := *session
	c.mu.Unlock()
	c.tel.TrackRemoteSessionStarted(true)
	c.changes.Publish(snapshot)
}

// transition moves a session to a new status and publishes the change.
// Unknown sessions are ignored; ERROR is reachable from any state.
func (c *Controller) transition(recordingID string, to models.SessionStatus, detail string) {
	c.mu.Lock()
	session, ok := c.sessions[recordingID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if session.Status == to {
		c.mu.Unlock()
		return
	}
	session.Status = to
	snapshot := *session
	c.mu.Unlock()

	if detail != "" {
		log.Errorf("remote: session %s -> %s: %s", recordingID, to, detail)
	} else {
		log.Printf("remote: session %s -> %s\n", recordingID, to)
	}
	c.changes.Publish(snapshot)
}

// armConfirmTimeout schedules the optimistic-session check: a session still
// unconfirmed and active when the window closes moves to ERROR.
func (c *Controller) armConfirmTimeout(recordingID string) {
	if c.confirmTimeout <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(c.confirmTimeout):
		case <-c.done:
			return
		}

		c.mu.Lock()
		session, ok := c.sessions[recordingID]
		expired := ok && !session.Confirmed && session.Active()
		c.mu.Unlock()
		if expired {
			c.tel.TrackRemoteSessionStarted(false)
			c.transition(recordingID, models.SessionError, "no confirmation from peer")
		}
	}()
}
