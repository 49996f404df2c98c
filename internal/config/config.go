package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Remote API
	API APIConfig `json:"api" mapstructure:"api"`

	// Identity provider token access
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Local durable store
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Queue and replay behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Online/offline detection
	Connectivity ConnectivityConfig `json:"connectivity" mapstructure:"connectivity"`

	// Background sync delegate
	Background BackgroundConfig `json:"background" mapstructure:"background"`

	// UI notification hub
	Notify NotifyConfig `json:"notify" mapstructure:"notify"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	Client     string        `json:"client" mapstructure:"client"` // http, mock
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// AuthConfig locates the bearer token issued by the identity provider.
type AuthConfig struct {
	// Inline token, mostly for CI and scripted use
	Token string `json:"token,omitempty" mapstructure:"token"`

	// Token persistence written by `pickupsync login`
	TokenFile string `json:"token_file" mapstructure:"token_file"`

	// User the CLI acts for when a command does not name one
	UserID string `json:"user_id" mapstructure:"user_id"`
}

// StorageConfig for the local database.
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"` // Base directory for all data
	Driver  string `json:"driver" mapstructure:"driver"`     // sqlite3, sqlite, memory
	DBFile  string `json:"db_file" mapstructure:"db_file"`   // Database file name inside DataDir
}

// SyncConfig for queue replay.
type SyncConfig struct {
	EnqueueAlways bool `json:"enqueue_always" mapstructure:"enqueue_always"` // Queue every mutation, not only offline ones
	MaxAttempts   int  `json:"max_attempts" mapstructure:"max_attempts"`     // Attempts before an entry is reported as stuck
}

// ConnectivityConfig for the online/offline probe.
type ConnectivityConfig struct {
	ProbePath string        `json:"probe_path" mapstructure:"probe_path"`
	Interval  time.Duration `json:"interval" mapstructure:"interval"`
	SyncTag   string        `json:"sync_tag" mapstructure:"sync_tag"` // Tag registered for background retry
}

// BackgroundConfig for the background delegate.
type BackgroundConfig struct {
	TagsDir       string        `json:"tags_dir" mapstructure:"tags_dir"`
	RetryInterval time.Duration `json:"retry_interval" mapstructure:"retry_interval"`
}

// NotifyConfig for the UI message hub.
type NotifyConfig struct {
	Listen string `json:"listen" mapstructure:"listen"` // Address the hub listens on
	URL    string `json:"url" mapstructure:"url"`       // WebSocket URL the worker publishes to
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".pickupsync"

	return &Config{
		API: APIConfig{
			Client:     "http",
			BaseURL:    "http://localhost:8080/api/v1",
			Timeout:    15 * time.Second,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
			UserAgent:  "pickupsync/1.0",
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(dataDir, "token.json"),
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			Driver:  "sqlite3",
			DBFile:  "pickupsync.db",
		},
		Sync: SyncConfig{
			EnqueueAlways: true,
			MaxAttempts:   10,
		},
		Connectivity: ConnectivityConfig{
			ProbePath: "/health",
			Interval:  10 * time.Second,
			SyncTag:   "sync-all",
		},
		Background: BackgroundConfig{
			TagsDir:       filepath.Join(dataDir, "sync-tags"),
			RetryInterval: time.Minute,
		},
		Notify: NotifyConfig{
			Listen: "127.0.0.1:8787",
			URL:    "ws://127.0.0.1:8787/ws",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
	}
}

// DBPath returns the full path of the database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.DBFile)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	validClients := map[string]bool{"http": true, "mock": true}
	if !validClients[c.API.Client] {
		return fmt.Errorf("invalid api.client: %s", c.API.Client)
	}

	if c.API.Client == "http" && c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	validDrivers := map[string]bool{"sqlite3": true, "sqlite": true, "memory": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("invalid storage.driver: %s", c.Storage.Driver)
	}

	if c.Storage.Driver != "memory" && c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	if c.Sync.MaxAttempts <= 0 {
		return errors.New("sync.max_attempts must be positive")
	}

	if c.Connectivity.Interval <= 0 {
		return errors.New("connectivity.interval must be positive")
	}
	if !strings.HasPrefix(c.Connectivity.ProbePath, "/") {
		return fmt.Errorf("connectivity.probe_path must start with /: %q", c.Connectivity.ProbePath)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Background.TagsDir,
	}

	if c.Auth.TokenFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.TokenFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
