package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and unsynced counts",
	RunE:  runStatus,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes in replay order",
	RunE:  runQueueList,
}

func init() {
	rootCmd.AddCommand(statusCmd, queueCmd)
	queueCmd.AddCommand(queueListCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	online := !offlineMode && apiClient.Connectivity.Reachable(ctx)
	breakdown, err := apiClient.Connectivity.Breakdown(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range breakdown {
		total += n
	}

	pending, err := apiClient.Registry.Pending()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"online":          online,
			"unsynced":        total,
			"breakdown":       breakdown,
			"schema_version":  apiClient.Store.SchemaVersion(),
			"background_tags": pending,
			"user_id":         apiClient.UserID(),
		})
		return nil
	}

	if online {
		printSuccess("API reachable")
	} else {
		printWarning("Offline")
	}
	fmt.Printf("User:           %s\n", apiClient.UserID())
	fmt.Printf("Schema version: %d\n", apiClient.Store.SchemaVersion())
	fmt.Printf("Unsynced:       %d\n", total)

	names := make([]string, 0, len(breakdown))
	for name := range breakdown {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if breakdown[name] > 0 {
			fmt.Printf("  %-16s %d\n", name, breakdown[name])
		}
	}

	if len(pending) > 0 {
		fmt.Printf("Background tags: %v\n", pending)
	}
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	entries, err := apiClient.Store.QueueEntries(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		if entries == nil {
			entries = []models.QueueEntry{}
		}
		printJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		printSuccess("Queue is empty")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%4d  %-16s %-12s %-36s  %s",
			e.ID, e.EntityType, e.Action, e.RecordID, formatTime(e.Timestamp))
		if e.Attempts > 0 {
			line += warningColor.Sprintf("  attempts=%d", e.Attempts)
		}
		fmt.Println(line)
		if e.LastError != "" {
			fmt.Printf("      %s\n", errorColor.Sprint(truncate(e.LastError, 100)))
		}
	}
	return nil
}
