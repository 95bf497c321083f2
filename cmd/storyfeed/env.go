package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pders01/storyfeed/internal/config"
	"github.com/pders01/storyfeed/internal/debuglog"
	"github.com/pders01/storyfeed/internal/metrics"
	"github.com/pders01/storyfeed/internal/search"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/stories"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
	"github.com/pders01/storyfeed/internal/updates"
	"github.com/pders01/storyfeed/internal/validation"
)

// env is what every command that touches the cache needs.
type env struct {
	cfg      *config.Config
	store    *storage.Store
	client   transport.Client
	hub      *updates.Hub
	recorder metrics.Recorder
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	paths := validation.NewPermissivePathValidator()
	if cfg.Database.Path, err = paths.DBPath(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}
	if cfg.Database.SearchIndex != "" {
		if cfg.Database.SearchIndex, err = paths.IndexPath(cfg.Database.SearchIndex); err != nil {
			return nil, fmt.Errorf("search index path: %w", err)
		}
	}
	return cfg, nil
}

func openEnv(command string) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return nil, err
	}
	debuglog.Infof("storyfeed %s %s starting", Version, command)

	endpoint, err := validation.NewPermissiveEndpointValidator().ValidateAndNormalize(cfg.Transport.Endpoint)
	if err != nil {
		debuglog.Close()
		return nil, fmt.Errorf("transport endpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		debuglog.Close()
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		debuglog.Close()
		return nil, err
	}

	return &env{
		cfg:   cfg,
		store: store,
		client: transport.NewHTTPClient(endpoint, transport.Options{
			Timeout:   cfg.Transport.Timeout,
			UserAgent: cfg.Transport.UserAgent,
			RateLimit: cfg.Transport.RateLimit,
			Burst:     cfg.Transport.Burst,
		}),
		hub:      updates.NewHub(),
		recorder: metrics.Nop{},
	}, nil
}

func (e *env) deps() stories.Deps {
	return stories.Deps{
		Store:         e.store,
		Client:        e.client,
		Updates:       e.hub,
		AccountPeerID: story.PeerID(e.cfg.Transport.AccountPeerID),
	}
}

func (e *env) options(command string) stories.Options {
	return stories.Options{
		RefreshInterval:        e.cfg.Sync.RefreshInterval,
		PollInterval:           e.cfg.Sync.PollInterval,
		TimerGranularity:       e.cfg.Sync.TimerGranularity,
		PageLimit:              e.cfg.Sync.PageLimit,
		CacheHeadLimit:         e.cfg.Sync.CacheHeadLimit,
		DiscardCursorOnRefresh: e.cfg.Sync.DiscardCursorOnRefresh,
		Logger:                 debuglog.WithFields(map[string]interface{}{"cmd": command}),
		Metrics:                e.recorder,
	}
}

// searcher picks the bleve index when one is configured and falls back to
// scanning the store. The returned close func releases the index.
func (e *env) searcher() (search.Searcher, func(), error) {
	if e.cfg.Database.SearchIndex == "" {
		return search.NewScanner(e.store), func() {}, nil
	}
	idx, err := search.NewIndex(e.store, e.cfg.Database.SearchIndex)
	if err != nil {
		return nil, nil, err
	}
	return idx, func() { idx.Close() }, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		debuglog.Errorf("closing store: %v", err)
	}
	debuglog.Close()
}
