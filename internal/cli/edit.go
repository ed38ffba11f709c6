package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/syncer"
)

var (
	editTitleFlag       string
	editDescriptionFlag string
	editTagsFlag        []string
	editDeleteFlag      bool
)

var editCmd = &cobra.Command{
	Use:   "edit <recording-id>",
	Short: "Edit recording metadata",
	Long: `Edit recording metadata.

Edits apply to the local store immediately and are queued for
propagation to the peer. Use --delete to remove the recording on both
devices.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editTitleFlag, "title", "", "new title")
	editCmd.Flags().StringVar(&editDescriptionFlag, "description", "", "new description")
	editCmd.Flags().StringSliceVar(&editTagsFlag, "tag", nil, "replacement tag set (repeatable)")
	editCmd.Flags().BoolVar(&editDeleteFlag, "delete", false, "delete the recording")
}

func runEdit(cmd *cobra.Command, args []string) error {
	recordingID := args[0]

	if !editDeleteFlag && editTitleFlag == "" && editDescriptionFlag == "" && len(editTagsFlag) == 0 {
		return trackCLIError("edit", fmt.Errorf("nothing to change: pass --title, --description, --tag, or --delete"))
	}

	cfg, err := config.Load()
	if err != nil {
		return trackCLIError("edit", fmt.Errorf("load config: %w", err))
	}

	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return trackCLIError("edit", fmt.Errorf("initialize database: %w", err))
	}
	defer func() { _ = database.Close() }()

	rec, err := database.GetRecording(recordingID)
	if err != nil {
		return trackCLIError("edit", fmt.Errorf("get recording: %w", err))
	}
	if rec == nil {
		return trackCLIError("edit", fmt.Errorf("recording %s not found", recordingID))
	}

	if editDeleteFlag {
		if err := database.DeleteRecording(recordingID); err != nil {
			return trackCLIError("edit", fmt.Errorf("delete recording: %w", err))
		}
		if err := enqueueEdit(database, models.OpDeleteRecording, recordingID, nil); err != nil {
			return trackCLIError("edit", err)
		}
		fmt.Printf("Deleted recording %s; peer deletion queued.\n", recordingID)
		return nil
	}

	if editTitleFlag != "" {
		if err := database.UpdateTitle(recordingID, editTitleFlag); err != nil {
			return trackCLIError("edit", fmt.Errorf("update title: %w", err))
		}
		payload := models.Payload{syncer.PayloadTitle: editTitleFlag}
		if err := enqueueEdit(database, models.OpUpdateTitle, recordingID, payload); err != nil {
			return trackCLIError("edit", err)
		}
	}

	if editDescriptionFlag != "" {
		if err := database.UpdateDescription(recordingID, editDescriptionFlag); err != nil {
			return trackCLIError("edit", fmt.Errorf("update description: %w", err))
		}
		payload := models.Payload{syncer.PayloadDescription: editDescriptionFlag}
		if err := enqueueEdit(database, models.OpUpdateDescription, recordingID, payload); err != nil {
			return trackCLIError("edit", err)
		}
	}

	if len(editTagsFlag) > 0 {
		if err := database.UpdateTags(recordingID, editTagsFlag); err != nil {
			return trackCLIError("edit", fmt.Errorf("update tags: %w", err))
		}
		payload, err := syncer.TagsPayload(editTagsFlag)
		if err != nil {
			return trackCLIError("edit", err)
		}
		if err := enqueueEdit(database, models.OpUpdateTags, recordingID, payload); err != nil {
			return trackCLIError("edit", err)
		}
	}

	fmt.Printf("Updated recording %s; peer update queued.\n", recordingID)
	return nil
}

func enqueueEdit(database *db.DB, opType models.OperationType, recordingID string, payload models.Payload) error {
	err := database.EnqueueOperation(&models.QueuedOperation{
		ID:          uuid.New().String(),
		Type:        opType,
		RecordingID: recordingID,
		Payload:     payload,
		Priority:    models.PriorityHigh,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("queue %s: %w", opType, err)
	}
	return nil
}
