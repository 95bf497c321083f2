package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Transport TransportConfig `mapstructure:"transport"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Updates   UpdatesConfig   `mapstructure:"updates"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

type TransportConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// RateLimit is in requests per second; 0 disables throttling.
	RateLimit     float64 `mapstructure:"rate_limit"`
	Burst         int     `mapstructure:"burst"`
	AccountPeerID int64   `mapstructure:"account_peer_id"`
}

type SyncConfig struct {
	RefreshInterval        time.Duration `mapstructure:"refresh_interval"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	TimerGranularity       time.Duration `mapstructure:"timer_granularity"`
	PageLimit              int           `mapstructure:"page_limit"`
	CacheHeadLimit         int           `mapstructure:"cache_head_limit"`
	DiscardCursorOnRefresh bool          `mapstructure:"discard_cursor_on_refresh"`
}

// UpdatesConfig names the push-update streams. Empty values disable a source.
type UpdatesConfig struct {
	WebsocketURL string        `mapstructure:"websocket_url"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisChannel string        `mapstructure:"redis_channel"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".storyfeed")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "storyfeed.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
		},
		Transport: TransportConfig{
			Endpoint:  "https://api.storyfeed.dev/v1",
			Timeout:   30 * time.Second,
			UserAgent: "storyfeed/1.0 (https://github.com/pders01/storyfeed)",
			RateLimit: 5,
			Burst:     10,
		},
		Sync: SyncConfig{
			RefreshInterval:  60 * time.Second,
			PollInterval:     60 * time.Second,
			TimerGranularity: 1 * time.Second,
			PageLimit:        100,
			CacheHeadLimit:   100,
		},
		Updates: UpdatesConfig{
			RedisChannel: "storyfeed:updates",
			RetryDelay:   5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "storyfeed.log"),
		},
	}
}

// setDefaults registers every leaf so partial config files and STORYFEED_*
// variables override single keys.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)
	v.SetDefault("database.search_index", cfg.Database.SearchIndex)

	v.SetDefault("transport.endpoint", cfg.Transport.Endpoint)
	v.SetDefault("transport.timeout", cfg.Transport.Timeout)
	v.SetDefault("transport.user_agent", cfg.Transport.UserAgent)
	v.SetDefault("transport.rate_limit", cfg.Transport.RateLimit)
	v.SetDefault("transport.burst", cfg.Transport.Burst)
	v.SetDefault("transport.account_peer_id", cfg.Transport.AccountPeerID)

	v.SetDefault("sync.refresh_interval", cfg.Sync.RefreshInterval)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.timer_granularity", cfg.Sync.TimerGranularity)
	v.SetDefault("sync.page_limit", cfg.Sync.PageLimit)
	v.SetDefault("sync.cache_head_limit", cfg.Sync.CacheHeadLimit)
	v.SetDefault("sync.discard_cursor_on_refresh", cfg.Sync.DiscardCursorOnRefresh)

	v.SetDefault("updates.websocket_url", cfg.Updates.WebsocketURL)
	v.SetDefault("updates.redis_addr", cfg.Updates.RedisAddr)
	v.SetDefault("updates.redis_channel", cfg.Updates.RedisChannel)
	v.SetDefault("updates.retry_delay", cfg.Updates.RetryDelay)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, defaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "storyfeed")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STORYFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	return &config, nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations are written as strings for TOML readability
	v.Set("database", map[string]interface{}{
		"path":         config.Database.Path,
		"timeout":      config.Database.Timeout.String(),
		"search_index": config.Database.SearchIndex,
	})
	v.Set("transport", map[string]interface{}{
		"endpoint":        config.Transport.Endpoint,
		"timeout":         config.Transport.Timeout.String(),
		"user_agent":      config.Transport.UserAgent,
		"rate_limit":      config.Transport.RateLimit,
		"burst":           config.Transport.Burst,
		"account_peer_id": config.Transport.AccountPeerID,
	})
	v.Set("sync", map[string]interface{}{
		"refresh_interval":          config.Sync.RefreshInterval.String(),
		"poll_interval":             config.Sync.PollInterval.String(),
		"timer_granularity":         config.Sync.TimerGranularity.String(),
		"page_limit":                config.Sync.PageLimit,
		"cache_head_limit":          config.Sync.CacheHeadLimit,
		"discard_cursor_on_refresh": config.Sync.DiscardCursorOnRefresh,
	})
	v.Set("updates", map[string]interface{}{
		"websocket_url": config.Updates.WebsocketURL,
		"redis_addr":    config.Updates.RedisAddr,
		"redis_channel": config.Updates.RedisChannel,
		"retry_delay":   config.Updates.RetryDelay.String(),
	})
	v.Set("log", map[string]interface{}{
		"level": config.Log.Level,
		"file":  config.Log.File,
	})
	v.Set("metrics", map[string]interface{}{
		"addr": config.Metrics.Addr,
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
