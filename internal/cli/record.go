package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/remote"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/transport/wsnode"
)

var recordTitleFlag string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control recording on the peer device",
	Long: `Control recording on the peer device.

Opens a short-lived link to the peer for the duration of the command.
The peer accepts one link at a time, so stop the daemon first or run
these commands from a device that is not otherwise linked.`,
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recording on the peer and wait for confirmation",
	RunE:  runRecordStart,
}

var recordStopCmd = &cobra.Command{
	Use:   "stop <recording-id>",
	Short: "Stop a remote recording session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecordControl(cmd.Context(), "stop", args[0])
	},
}

var recordPauseCmd = &cobra.Command{
	Use:   "pause <recording-id>",
	Short: "Pause a remote recording session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecordControl(cmd.Context(), "pause", args[0])
	},
}

var recordResumeCmd = &cobra.Command{
	Use:   "resume <recording-id>",
	Short: "Resume a paused remote recording session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecordControl(cmd.Context(), "resume", args[0])
	},
}

func init() {
	recordStartCmd.Flags().StringVar(&recordTitleFlag, "title", "", "title for the new recording")
	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)
	recordCmd.AddCommand(recordPauseCmd)
	recordCmd.AddCommand(recordResumeCmd)
}

// recordSession is the transient engine a record command runs against.
type recordSession struct {
	database   *db.DB
	node       *wsnode.Node
	svc        *syncer.Service
	controller *remote.Controller
}

func (s *recordSession) close() {
	s.controller.Stop()
	s.svc.Stop()
	_ = s.node.Stop()
	_ = s.database.Close()
}

// openRecordSession links to the configured peer and waits for the link to
// come up before returning.
func openRecordSession(ctx context.Context) (*recordSession, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Transport.PeerURL == "" {
		return nil, fmt.Errorf("no peer configured: set WEARSYNC_PEER")
	}

	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	deviceID, err := database.DeviceID()
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("read device id: %w", err)
	}

	node := wsnode.New(wsnode.Config{
		ListenAddr:   "127.0.0.1:0",
		PeerURL:      cfg.Transport.PeerURL,
		DeviceID:     deviceID,
		DeviceName:   cfg.DeviceName,
		DialInterval: time.Second,
	}, database)
	if err := node.Start(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("start peer link: %w", err)
	}

	svc, err := syncer.New(database, node.Transports(), cfg.Sync,
		syncer.WithDeviceName(cfg.DeviceName),
		syncer.WithAudioDir(paths.Received),
	)
	if err != nil {
		_ = node.Stop()
		_ = database.Close()
		return nil, fmt.Errorf("build sync service: %w", err)
	}
	svc.Start(ctx)

	controller := remote.New(svc)
	controller.Start(ctx)

	s := &recordSession{database: database, node: node, svc: svc, controller: controller}

	if err := s.waitForPeer(ctx, 10*time.Second); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *recordSession) waitForPeer(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		peers, err := s.svc.ConnectedPeers(ctx)
		if err == nil && len(peers) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("peer did not link within %s", timeout)
}

func runRecordStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	session, err := openRecordSession(ctx)
	if err != nil {
		return trackCLIError("record", err)
	}
	defer session.close()

	peers, err := session.svc.ConnectedPeers(ctx)
	if err != nil || len(peers) == 0 {
		return trackCLIError("record", models.ErrNoConnectedPeers)
	}

	sessions, cancel := session.controller.Sessions()
	defer cancel()

	recordingID, err := session.controller.StartRecordingOnDevice(ctx, peers[0], recordTitleFlag)
	if err != nil {
		return trackCLIError("record", fmt.Errorf("start recording: %w", err))
	}
	fmt.Printf("Recording %s requested on %s, waiting for confirmation...\n", recordingID, peers[0].Name)

	timeout := time.After(remote.DefaultConfirmTimeout + time.Second)
	for {
		select {
		case snap := <-sessions:
			if snap.RecordingID != recordingID {
				continue
			}
			if snap.Confirmed && snap.Status == models.SessionRecording {
				fmt.Printf("Recording %s confirmed on %s.\n", recordingID, peers[0].Name)
				return nil
			}
			if snap.Status == models.SessionError {
				return trackCLIError("record", fmt.Errorf("recording %s failed on peer", recordingID))
			}
		case <-timeout:
			return trackCLIError("record", fmt.Errorf("recording %s was not confirmed", recordingID))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runRecordControl(ctx context.Context, action, recordingID string) error {
	session, err := openRecordSession(ctx)
	if err != nil {
		return trackCLIError("record", err)
	}
	defer session.close()

	// The transient controller has no session registry for recordings
	// started elsewhere, so control messages go through the service.
	peers, err := session.svc.ConnectedPeers(ctx)
	if err != nil || len(peers) == 0 {
		return trackCLIError("record", models.ErrNoConnectedPeers)
	}

	switch action {
	case "stop":
		err = session.svc.StopRemoteRecording(ctx, peers[0].ID, recordingID)
	case "pause":
		err = session.svc.PauseRemoteRecording(ctx, peers[0].ID, recordingID)
	case "resume":
		err = session.svc.ResumeRemoteRecording(ctx, peers[0].ID, recordingID)
	}
	if err != nil {
		return trackCLIError("record", fmt.Errorf("%s recording: %w", action, err))
	}

	fmt.Printf("Sent %s for recording %s.\n", action, recordingID)
	return nil
}
