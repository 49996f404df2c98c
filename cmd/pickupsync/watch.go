package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Probe the API, sync on reconnect and serve UI notifications",
	Long: `Watch keeps the client running: it probes the API every
connectivity.interval, replays the queue whenever the API becomes
reachable again, and serves sync events over WebSocket on notify.listen.
Stop it with Ctrl-C.`,
	RunE: runWatch,
}

var watchListen string

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchListen, "listen", "",
		"Override notify.listen")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cmd.Flags().Changed("listen") {
		cfg.Notify.Listen = watchListen
	}

	sub, cancel := apiClient.Bus.Subscribe(64)
	defer cancel()

	go func() {
		for ev := range sub {
			printEvent(ev)
		}
	}()

	if !jsonOutput {
		printInfo("Watching (Ctrl-C to stop)")
	}
	return apiClient.Serve(ctx)
}

func printEvent(ev events.Event) {
	if jsonOutput {
		printJSON(ev)
		return
	}

	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case events.ConnectivityChanged:
		if ev.Online != nil && *ev.Online {
			successColor.Printf("%s online\n", ts)
		} else {
			warningColor.Printf("%s offline\n", ts)
		}
	case events.SyncCompleted, events.SyncFailed:
		label := fmt.Sprintf("%s %s [%s]", ts, ev.Type, ev.Source)
		if ev.Counts != nil {
			printResultLine(label, ev.Counts.Synced, ev.Counts.Failed, ev.Counts.Pending)
		} else {
			fmt.Printf("%s %s\n", label, ev.Error)
		}
	case events.ItemFailed:
		errorColor.Printf("%s %s %s: %s\n", ts, ev.EntityType, ev.RecordID, ev.Error)
	default:
		fmt.Printf("%s %s %s %s\n", ts, ev.Type, ev.EntityType, ev.RecordID)
	}
}
