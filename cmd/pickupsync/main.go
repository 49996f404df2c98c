package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/client"
	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
)

var (
	cfgFile     string
	jsonOutput  bool
	offlineMode bool
	verbose     bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "pickupsync",
	Short: "Offline-first records and sync for waste pickups",
	Long: `pickupsync keeps pickup requests, bag scans, locations and profile
settings in a local database and replays every change to the API once it
is reachable.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./pickupsync.yaml or ~/.config/pickupsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&offlineMode, "offline", false,
		"Do not contact the API; changes are only queued")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// skipClient lists commands that run without opening the store.
var skipClient = map[string]bool{
	"init": true,
}

func setup(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if f := loader.ConfigFile(); f != "" {
		logger.WithField("file", f).Debug("Loaded config")
	}

	if skipClient[cmd.Name()] {
		return nil
	}

	apiClient, err = client.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}

	ctx := events.WithLogger(cmd.Context(), logger)
	if id := apiClient.UserID(); id != "" {
		ctx = events.WithUserID(ctx, id)
	}
	cmd.SetContext(ctx)
	return nil
}

func teardown() error {
	var err error
	if apiClient != nil {
		err = apiClient.Close()
		apiClient = nil
	}
	if logger != nil {
		_ = logger.Close()
	}
	return err
}

// connect probes the API unless --offline is set. Coming online replays
// anything queued earlier.
func connect(ctx context.Context) {
	if offlineMode {
		return
	}
	if err := apiClient.Connectivity.Probe(ctx); err != nil {
		logger.WithError(err).Warn("Queued changes could not all be synced")
	}
}

// currentUser returns the user commands act for.
func currentUser() (string, error) {
	if id := apiClient.UserID(); id != "" {
		return id, nil
	}
	return "", errors.New("no user: run `pickupsync login` or set auth.user_id")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = teardown()
		if jsonOutput {
			printJSON(map[string]interface{}{"success": false, "error": err.Error()})
		} else {
			printError("%v", err)
		}
		os.Exit(1)
	}
}
