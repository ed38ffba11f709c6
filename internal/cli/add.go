package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
)

var (
	addTitleFlag string
	addTagsFlag  []string
)

var addCmd = &cobra.Command{
	Use:   "add <audio-file>",
	Short: "Register a local audio file as a recording",
	Long: `Register a local audio file as a recording.

The file is registered in place; it is not copied. The recording starts
in PENDING sync status and is picked up by the daemon on its next pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addTitleFlag, "title", "", "recording title (defaults to the file name)")
	addCmd.Flags().StringSliceVar(&addTagsFlag, "tag", nil, "tag to attach (repeatable)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return trackCLIError("add", fmt.Errorf("resolve path: %w", err))
	}
	info, err := os.Stat(path)
	if err != nil {
		return trackCLIError("add", fmt.Errorf("stat audio file: %w", err))
	}
	if info.IsDir() {
		return trackCLIError("add", fmt.Errorf("%s is a directory", path))
	}

	cfg, err := config.Load()
	if err != nil {
		return trackCLIError("add", fmt.Errorf("load config: %w", err))
	}

	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return trackCLIError("add", fmt.Errorf("initialize database: %w", err))
	}
	defer func() { _ = database.Close() }()

	deviceID, err := database.DeviceID()
	if err != nil {
		return trackCLIError("add", fmt.Errorf("read device id: %w", err))
	}

	title := addTitleFlag
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	rec := &models.Recording{
		ID:         uuid.New().String(),
		Title:      title,
		Tags:       models.StringList(addTagsFlag),
		FilePath:   path,
		SizeBytes:  info.Size(),
		Format:     strings.TrimPrefix(filepath.Ext(path), "."),
		DeviceID:   deviceID,
		SyncStatus: models.SyncPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if rec.Format == "" {
		rec.Format = "wav"
	}

	if err := database.CreateRecording(rec); err != nil {
		return trackCLIError("add", fmt.Errorf("create recording: %w", err))
	}

	fmt.Printf("Registered recording %s (%s, %s)\n", rec.ID, rec.Title, formatSize(rec.SizeBytes))
	return nil
}
