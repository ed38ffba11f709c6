package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
)

var (
	syncAudioFlag    bool
	syncPriorityFlag string
)

var syncCmd = &cobra.Command{
	Use:   "sync [recording-id]",
	Short: "Queue recordings for sync",
	Long: `Queue recordings for sync.

With a recording id, queues a metadata sync (and an audio sync with
--audio) for that recording. Without arguments, queues a metadata sync
for every recording that is not yet COMPLETED.

Operations are drained by the running daemon.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncAudioFlag, "audio", false, "also queue the audio data transfer")
	syncCmd.Flags().StringVar(&syncPriorityFlag, "priority", string(models.PriorityNormal), "operation priority (LOW, NORMAL, HIGH, URGENT)")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return trackCLIError("sync", fmt.Errorf("load config: %w", err))
	}

	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return trackCLIError("sync", fmt.Errorf("initialize database: %w", err))
	}
	defer func() { _ = database.Close() }()

	priority := models.Priority(syncPriorityFlag)

	var ids []string
	if len(args) == 1 {
		rec, err := database.GetRecording(args[0])
		if err != nil {
			return trackCLIError("sync", fmt.Errorf("get recording: %w", err))
		}
		if rec == nil {
			return trackCLIError("sync", fmt.Errorf("recording %s not found", args[0]))
		}
		ids = append(ids, rec.ID)
	} else {
		recordings, err := database.ListRecordings()
		if err != nil {
			return trackCLIError("sync", fmt.Errorf("list recordings: %w", err))
		}
		for _, rec := range recordings {
			if rec.SyncStatus != models.SyncCompleted {
				ids = append(ids, rec.ID)
			}
		}
	}

	if len(ids) == 0 {
		fmt.Println("Nothing to sync.")
		return nil
	}

	queued := 0
	for _, id := range ids {
		if err := enqueueCLI(database, models.OpSyncMetadata, id, priority); err != nil {
			return trackCLIError("sync", fmt.Errorf("queue metadata sync: %w", err))
		}
		queued++
		if syncAudioFlag {
			if err := enqueueCLI(database, models.OpSyncAudioData, id, priority); err != nil {
				return trackCLIError("sync", fmt.Errorf("queue audio sync: %w", err))
			}
			queued++
		}
	}

	fmt.Printf("Queued %d operation(s) for %d recording(s).\n", queued, len(ids))
	return nil
}

func enqueueCLI(database *db.DB, opType models.OperationType, recordingID string, priority models.Priority) error {
	return database.EnqueueOperation(&models.QueuedOperation{
		ID:          uuid.New().String(),
		Type:        opType,
		RecordingID: recordingID,
		Priority:    priority,
		CreatedAt:   time.Now(),
	})
}
