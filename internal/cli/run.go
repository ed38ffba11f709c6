package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/listener"
	"github.com/asteroid-belt/wearsync/internal/log"
	"github.com/asteroid-belt/wearsync/internal/queue"
	"github.com/asteroid-belt/wearsync/internal/remote"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/transport/wsnode"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon.

Brings up the peer link, the sync orchestration service, the remote
recording controller, the offline operation queue, and the completion
listener, then blocks until interrupted.

The peer link listens on WEARSYNC_LISTEN (default :8590) and dials
WEARSYNC_PEER when set.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return trackCLIError("run", fmt.Errorf("load config: %w", err))
	}
	if err := log.Init(cfg.BaseDir); err != nil {
		return trackCLIError("run", fmt.Errorf("init logging: %w", err))
	}
	defer func() { _ = log.Close() }()
	log.SetDebug(cfg.Debug)

	paths := config.GetPaths(cfg)
	dbCfg := db.DefaultConfig(paths.Database)
	dbCfg.Debug = cfg.Debug
	database, err := db.New(dbCfg)
	if err != nil {
		return trackCLIError("run", fmt.Errorf("initialize database: %w", err))
	}
	defer func() { _ = database.Close() }()

	deviceID, err := database.DeviceID()
	if err != nil {
		return trackCLIError("run", fmt.Errorf("read device id: %w", err))
	}

	node := wsnode.New(wsnode.Config{
		ListenAddr:   cfg.Transport.ListenAddr,
		PeerURL:      cfg.Transport.PeerURL,
		DeviceID:     deviceID,
		DeviceName:   cfg.DeviceName,
		DialInterval: cfg.Transport.DialInterval,
		Telemetry:    telemetryClient,
	}, database)
	if err := node.Start(ctx); err != nil {
		return trackCLIError("run", fmt.Errorf("start peer link: %w", err))
	}
	defer func() { _ = node.Stop() }()

	svc, err := syncer.New(database, node.Transports(), cfg.Sync,
		syncer.WithDeviceName(cfg.DeviceName),
		syncer.WithAudioDir(paths.Received),
		syncer.WithTelemetry(telemetryClient),
	)
	if err != nil {
		return trackCLIError("run", fmt.Errorf("build sync service: %w", err))
	}
	svc.Start(ctx)
	defer svc.Stop()

	prefs, err := svc.DevicePreferences(ctx)
	if err == nil {
		if err := svc.PublishDevicePreferences(ctx, prefs); err != nil {
			log.Errorf("run: publish device preferences: %v", err)
		}
	}
	if err := svc.PublishSyncConfiguration(ctx); err != nil {
		log.Errorf("run: publish sync configuration: %v", err)
	}

	controller := remote.New(svc)
	controller.SetTelemetry(telemetryClient)
	controller.Start(ctx)
	defer controller.Stop()

	q := queue.New(database, svc, node, cfg.Retry, cfg.Sync, queue.DefaultOptions())
	q.SetTelemetry(telemetryClient)
	q.Start(ctx)
	defer q.Stop()

	lst := listener.New(database, svc, q, listener.DefaultOptions())
	lst.Start(ctx)
	defer lst.Stop()

	telemetryClient.TrackAppStarted("daemon", cfg.Transport.PeerURL != "")
	log.Printf("wearsync: daemon up as %s (%s), listening on %s\n",
		cfg.DeviceName, deviceID, node.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Println("wearsync: shutting down")
	return nil
}
