package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Show sync status for this device.

Displays the device identity, recording counts by sync status, and the
depth of the offline operation queue.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return trackCLIError("status", fmt.Errorf("load config: %w", err))
	}

	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return trackCLIError("status", fmt.Errorf("initialize database: %w", err))
	}
	defer func() { _ = database.Close() }()

	deviceID, err := database.DeviceID()
	if err != nil {
		return trackCLIError("status", fmt.Errorf("read device id: %w", err))
	}

	stats, err := database.GetStats()
	if err != nil {
		return trackCLIError("status", fmt.Errorf("read stats: %w", err))
	}

	fmt.Printf("Device: %s (%s)\n", cfg.DeviceName, deviceID)
	fmt.Printf("Store:  %s\n", paths.Database)
	if cfg.Transport.PeerURL != "" {
		fmt.Printf("Peer:   %s\n", cfg.Transport.PeerURL)
	} else {
		fmt.Printf("Peer:   (listening on %s)\n", cfg.Transport.ListenAddr)
	}
	fmt.Println()

	fmt.Printf("Recordings: %d total, %d pending sync\n",
		stats.TotalRecordings, stats.PendingRecordings)
	fmt.Printf("Queue:      %d queued, %d failed\n",
		stats.QueuedOperations, stats.FailedOperations)

	if stats.FailedOperations > 0 {
		failed, err := database.FailedOperations()
		if err == nil {
			fmt.Println("\nFailed operations:")
			for _, op := range failed {
				printOperation(op)
			}
			fmt.Println("\nUse 'wearsync queue retry' to retry them.")
		}
	}

	return nil
}

func printOperation(op models.QueuedOperation) {
	fmt.Printf("  %s  %s", op.ID, op.Type)
	if op.RecordingID != "" {
		fmt.Printf(" (%s)", op.RecordingID)
	}
	fmt.Printf("  [%s, %d retries]\n", op.Priority, op.RetryCount)
	if op.LastError != "" {
		fmt.Printf("    last error: %s\n", op.LastError)
	}
	if op.NextRetryAt != nil {
		fmt.Printf("    next retry: %s\n", op.NextRetryAt.Format("2006-01-02 15:04:05"))
	}
}
