package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	syncsvc "github.com/TheMichaelB/pickupsync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes to the API now",
	Long: `Sync runs one pass over the local queue. Items that fail stay queued
and are retried on the next pass; they do not make the command fail.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if offlineMode {
		return errors.New("sync needs the API; drop --offline")
	}

	start := time.Now()
	res, err := apiClient.Sync.ProcessQueue(ctx)
	duration := time.Since(start)

	if jsonOutput {
		out := map[string]interface{}{
			"success":  err == nil && res.Failed == 0,
			"result":   res,
			"duration": duration.String(),
		}
		if err != nil {
			out["error"] = err.Error()
		}
		errs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, e.Error())
		}
		if len(errs) > 0 {
			out["errors"] = errs
		}
		printJSON(out)
		return err
	}

	if err != nil {
		return err
	}
	return printSyncResult(res, duration)
}

func printSyncResult(res syncsvc.Result, duration time.Duration) error {
	if res.Skipped {
		printWarning("A sync pass is already running")
		return nil
	}

	printResultLine("Sync finished:", res.Synced, res.Failed, res.Pending)
	for _, e := range res.Errors {
		printWarning("  %v", e)
	}
	printInfo("Took %s", duration.Round(time.Millisecond))

	if res.Failed == 0 && res.Pending == 0 {
		printSuccess("Everything is synced")
	}
	return nil
}
