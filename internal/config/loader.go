package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PICKUPSYNC_LOG_LEVEL.
const EnvPrefix = "PICKUPSYNC"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	defaults := DefaultConfig()
	setDefaults(l.v, defaults)

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				l.v.SetConfigFile(path)
				if err := l.v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	rebaseDataDir(cfg, defaults)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.configPath
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"pickupsync.yaml",
		"pickupsync.json",
		".pickupsync.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "pickupsync", "config.yaml"),
			filepath.Join(homeDir, ".config", "pickupsync", "config.json"),
		)
	}

	return paths
}

// setDefaults registers every key so environment overrides apply even when
// no config file mentions the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.client", cfg.API.Client)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("auth.token", cfg.Auth.Token)
	v.SetDefault("auth.token_file", cfg.Auth.TokenFile)
	v.SetDefault("auth.user_id", cfg.Auth.UserID)

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.db_file", cfg.Storage.DBFile)

	v.SetDefault("sync.enqueue_always", cfg.Sync.EnqueueAlways)
	v.SetDefault("sync.max_attempts", cfg.Sync.MaxAttempts)

	v.SetDefault("connectivity.probe_path", cfg.Connectivity.ProbePath)
	v.SetDefault("connectivity.interval", cfg.Connectivity.Interval)
	v.SetDefault("connectivity.sync_tag", cfg.Connectivity.SyncTag)

	v.SetDefault("background.tags_dir", cfg.Background.TagsDir)
	v.SetDefault("background.retry_interval", cfg.Background.RetryInterval)

	v.SetDefault("notify.listen", cfg.Notify.Listen)
	v.SetDefault("notify.url", cfg.Notify.URL)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size", cfg.Log.MaxSize)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age", cfg.Log.MaxAge)
	v.SetDefault("log.color", cfg.Log.Color)
}

// rebaseDataDir moves dependent paths along with a relocated data dir
// unless they were configured explicitly.
func rebaseDataDir(cfg, defaults *Config) {
	if cfg.Storage.DataDir == defaults.Storage.DataDir {
		return
	}
	if cfg.Auth.TokenFile == defaults.Auth.TokenFile {
		cfg.Auth.TokenFile = filepath.Join(cfg.Storage.DataDir, "token.json")
	}
	if cfg.Background.TagsDir == defaults.Background.TagsDir {
		cfg.Background.TagsDir = filepath.Join(cfg.Storage.DataDir, "sync-tags")
	}
}

// SaveExample writes an example config file in the format implied by its extension.
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if errors.As(err, &exists) {
			return fmt.Errorf("config file already exists: %s", path)
		}
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
