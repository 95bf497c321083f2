package config

import (
	"os"
	"path/filepath"
	"time"
)

// TestConfig returns a config rooted in a fresh temp directory with fast
// timers and no remote sources.
func TestConfig() *Config {
	dir, err := os.MkdirTemp("", "storyfeed-test-*")
	if err != nil {
		dir = os.TempDir()
	}
	cfg := defaultConfig()
	cfg.Database = DatabaseConfig{
		Path:    filepath.Join(dir, "storyfeed.db"),
		Timeout: 1 * time.Second,
	}
	cfg.Transport.Endpoint = "http://127.0.0.1:0"
	cfg.Transport.Timeout = 5 * time.Second
	cfg.Transport.UserAgent = "storyfeed-test/1.0"
	cfg.Transport.RateLimit = 0
	cfg.Sync.RefreshInterval = 1 * time.Second
	cfg.Sync.PollInterval = 1 * time.Second
	cfg.Sync.TimerGranularity = 10 * time.Millisecond
	cfg.Sync.PageLimit = 10
	cfg.Sync.CacheHeadLimit = 10
	cfg.Updates = UpdatesConfig{}
	cfg.Log = LogConfig{Level: "off"}
	return cfg
}
