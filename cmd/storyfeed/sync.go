package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pders01/storyfeed/internal/debuglog"
	"github.com/pders01/storyfeed/internal/metrics"
	"github.com/pders01/storyfeed/internal/search"
	"github.com/pders01/storyfeed/internal/stories"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/updates"
	"github.com/pders01/storyfeed/internal/validation"
)

var (
	syncPeers   []int64
	syncOnce    bool
	metricsAddr string

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Keep the local story cache in sync",
		Long: `Refresh both subscription partitions on a timer, poll the live stories
of the peers given with --peer, and apply push updates from the configured
websocket and redis sources until interrupted.`,
		RunE: runSync,
	}
)

func init() {
	syncCmd.Flags().Int64SliceVar(&syncPeers, "peer", nil, "poll the live stories of these peers")
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "exit after both partitions finished one refresh")
	syncCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
}

type peerFeed struct {
	peer  story.PeerID
	state stories.ExpiringFeedState
}

func runSync(cmd *cobra.Command, _ []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv("sync")
	if err != nil {
		return err
	}
	defer e.Close()

	addr := e.cfg.Metrics.Addr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	if addr != "" {
		shutdown := serveMetrics(e, addr)
		defer shutdown()
	}

	if e.cfg.Database.SearchIndex != "" {
		idx, err := search.NewIndex(e.store, e.cfg.Database.SearchIndex)
		if err != nil {
			return err
		}
		defer idx.Close()
		e.store.AddListener(idx)
	}

	var sources sync.WaitGroup
	sourceCtx, stopSources := context.WithCancel(ctx)
	defer func() {
		stopSources()
		sources.Wait()
	}()
	if err := startSources(sourceCtx, e, &sources); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !quiet {
		showBanner(out)
	}

	deps := e.deps()
	opts := e.options("sync")

	active := stories.NewSubscriptionFeedContext(deps, false, opts)
	defer active.Close()
	hidden := stories.NewSubscriptionFeedContext(deps, true, opts)
	defer hidden.Close()

	activeCh := make(chan stories.SubscriptionState, 4)
	activeState, activeSub := active.Subscribe(activeCh)
	defer activeSub.Unsubscribe()
	hiddenCh := make(chan stories.SubscriptionState, 4)
	hiddenState, hiddenSub := hidden.Subscribe(hiddenCh)
	defer hiddenSub.Unsubscribe()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	feeds := make(chan peerFeed, 16)
	for _, id := range syncPeers {
		peer := story.PeerID(id)
		poller := stories.NewExpiringFeedPoller(deps, peer, opts)
		defer poller.Close()

		ch := make(chan stories.ExpiringFeedState, 4)
		_, sub := poller.Subscribe(ch)
		defer sub.Unsubscribe()
		go func() {
			for {
				select {
				case state := <-ch:
					select {
					case feeds <- peerFeed{peer: peer, state: state}:
					case <-loopCtx.Done():
						return
					}
				case <-sub.Err():
					return
				case <-loopCtx.Done():
					return
				}
			}
		}()
	}

	activeDone := newRefreshTracker(activeState)
	hiddenDone := newRefreshTracker(hiddenState)
	for {
		if syncOnce && activeDone.done && hiddenDone.done {
			return nil
		}
		select {
		case state := <-activeCh:
			if activeDone.observe(state) {
				renderSubscriptions(out, state)
			}
		case state := <-hiddenCh:
			if hiddenDone.observe(state) {
				renderSubscriptions(out, state)
			}
		case feed := <-feeds:
			if !feed.state.IsLoading {
				renderExpiring(out, feed.peer, feed.state, time.Now())
			}
		case <-ctx.Done():
			debuglog.Infof("sync interrupted")
			return nil
		}
	}
}

// refreshTracker notices a partition going from loading to idle.
type refreshTracker struct {
	loading bool
	done    bool
}

func newRefreshTracker(initial stories.SubscriptionState) *refreshTracker {
	return &refreshTracker{loading: initial.IsLoading}
}

// observe records state and reports whether a load just finished.
func (t *refreshTracker) observe(state stories.SubscriptionState) bool {
	finished := t.loading && !state.IsLoading
	t.loading = state.IsLoading
	if finished {
		t.done = true
	}
	return finished
}

func serveMetrics(e *env, addr string) func() {
	reg := prometheus.NewRegistry()
	e.recorder = metrics.NewCollector(reg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debuglog.Errorf("metrics server: %v", err)
		}
	}()
	debuglog.Infof("serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func startSources(ctx context.Context, e *env, wg *sync.WaitGroup) error {
	cfg := e.cfg.Updates

	if cfg.WebsocketURL != "" {
		url, err := validation.NewPermissiveEndpointValidator("wss", "ws").ValidateAndNormalize(cfg.WebsocketURL)
		if err != nil {
			return fmt.Errorf("websocket url: %w", err)
		}
		src := &updates.WebsocketSource{URL: url, RetryDelay: cfg.RetryDelay, Hub: e.hub}
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.Run(ctx)
		}()
	}

	if cfg.RedisAddr != "" {
		if err := validation.NewPermissiveEndpointValidator().ValidateHostPort(cfg.RedisAddr); err != nil {
			return fmt.Errorf("redis address: %w", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		src := &updates.RedisSource{Client: rdb, Channel: cfg.RedisChannel, RetryDelay: cfg.RetryDelay, Hub: e.hub}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer rdb.Close()
			src.Run(ctx)
		}()
	}
	return nil
}
