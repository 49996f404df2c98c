package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/client"
	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
)

var (
	cfgFile string
	tag     string
	watch   bool
)

// Response is printed for a one-shot --tag run.
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Tag     string   `json:"tag"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Pending int      `json:"pending"`
	Elapsed string   `json:"elapsed"`
	Errors  []string `json:"errors,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "pickupsync-worker",
	Short: "Background sync delegate",
	Long: `pickupsync-worker replays queued changes while the foreground client
is closed. It opens the local store on its own, replays the collections
a registered tag covers and reports progress to the notification hub.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file")
	rootCmd.Flags().StringVar(&tag, "tag", "", "Handle one tag and exit")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "Watch the tag registry until interrupted")
}

func run(cmd *cobra.Command, args []string) error {
	if tag == "" && !watch {
		return errors.New("one of --tag or --watch is required")
	}

	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	logger, err := events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	events.SetDefault(logger)

	w, err := client.NewWorker(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize worker: %w", err)
	}
	defer w.Close()

	if watch {
		logger.WithField("dir", cfg.Background.TagsDir).Info("Watching sync tags")
		if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	return handleOnce(cmd.Context(), w, tag)
}

func handleOnce(ctx context.Context, w *client.Worker, tag string) error {
	start := time.Now()
	report, err := w.HandleTag(ctx, tag)

	resp := Response{
		Success: err == nil,
		Message: "Sync completed",
		Tag:     tag,
		Synced:  report.Synced,
		Failed:  report.Failed,
		Pending: report.Pending,
		Elapsed: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		resp.Message = "Sync failed"
		resp.Errors = []string{err.Error()}
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))

	if err != nil {
		return fmt.Errorf("handle %s: %w", tag, err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
