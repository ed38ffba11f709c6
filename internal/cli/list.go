package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/models"
)

var listStatusFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings",
	Long: `List recordings known to this device.

Shows id, title, tags, size, and sync status for each recording.`,
	RunE: runListRecordings,
}

func init() {
	listCmd.Flags().StringVar(&listStatusFlag, "status", "", "filter by sync status (PENDING, IN_PROGRESS, COMPLETED, FAILED)")
}

func runListRecordings(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return trackCLIError("list", fmt.Errorf("load config: %w", err))
	}

	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return trackCLIError("list", fmt.Errorf("initialize database: %w", err))
	}
	defer func() { _ = database.Close() }()

	var recordings []models.Recording
	if listStatusFlag != "" {
		recordings, err = database.ListRecordingsByStatus(models.SyncStatus(strings.ToUpper(listStatusFlag)))
	} else {
		recordings, err = database.ListRecordings()
	}
	if err != nil {
		return trackCLIError("list", fmt.Errorf("list recordings: %w", err))
	}

	if len(recordings) == 0 {
		fmt.Println("No recordings.")
		fmt.Println("\nUse 'wearsync add <file>' to register one, or run the daemon to receive them from a peer.")
		return nil
	}

	fmt.Printf("RECORDINGS (%d)\n", len(recordings))
	fmt.Println("──────────────────────────────────────────────────")

	for _, rec := range recordings {
		title := rec.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("  %s  %s\n", rec.ID, title)
		if len(rec.Tags) > 0 {
			fmt.Printf("    tags: %s\n", strings.Join(rec.Tags, ", "))
		}
		fmt.Printf("    %s, %s, captured %s\n",
			formatSize(rec.SizeBytes), rec.SyncStatus, formatTimeSince(rec.CreatedAt))
		fmt.Println()
	}

	return nil
}

// formatSize formats a byte count in a human-readable way.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTimeSince formats a duration since a time in a human-readable way.
func formatTimeSince(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02")
	}
}
