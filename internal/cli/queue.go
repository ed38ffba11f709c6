package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroid-belt/wearsync/internal/config"
	"github.com/asteroid-belt/wearsync/internal/db"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline operation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued and failed operations",
	RunE:  runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [operation-id]",
	Short: "Re-queue failed operations with a fresh retry budget",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueueRetry,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all failed operations",
	RunE:  runQueueClear,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func openQueueDB(cmdName string) (*db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, trackCLIError(cmdName, fmt.Errorf("load config: %w", err))
	}
	paths := config.GetPaths(cfg)
	database, err := db.New(db.DefaultConfig(paths.Database))
	if err != nil {
		return nil, trackCLIError(cmdName, fmt.Errorf("initialize database: %w", err))
	}
	return database, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	database, err := openQueueDB("queue")
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	active, err := database.ActiveOperations()
	if err != nil {
		return trackCLIError("queue", fmt.Errorf("list active operations: %w", err))
	}
	failed, err := database.FailedOperations()
	if err != nil {
		return trackCLIError("queue", fmt.Errorf("list failed operations: %w", err))
	}

	if len(active) == 0 && len(failed) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	if len(active) > 0 {
		fmt.Printf("QUEUED (%d)\n", len(active))
		for _, op := range active {
			printOperation(op)
		}
	}
	if len(failed) > 0 {
		if len(active) > 0 {
			fmt.Println()
		}
		fmt.Printf("FAILED (%d)\n", len(failed))
		for _, op := range failed {
			printOperation(op)
		}
	}
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	database, err := openQueueDB("queue")
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if len(args) == 1 {
		if err := database.ReviveOperation(args[0]); err != nil {
			return trackCLIError("queue", fmt.Errorf("retry operation: %w", err))
		}
		fmt.Printf("Operation %s re-queued.\n", args[0])
		return nil
	}

	n, err := database.ReviveAllFailed()
	if err != nil {
		return trackCLIError("queue", fmt.Errorf("retry failed operations: %w", err))
	}
	fmt.Printf("%d operation(s) re-queued.\n", n)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	database, err := openQueueDB("queue")
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	n, err := database.ClearFailedOperations()
	if err != nil {
		return trackCLIError("queue", fmt.Errorf("clear failed operations: %w", err))
	}
	fmt.Printf("%d failed operation(s) discarded.\n", n)
	return nil
}
