package stories

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/segmentio/ksuid"

	"github.com/pders01/storyfeed/internal/queue"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
)

// stateMark identifies the server snapshot a partition was last synced to.
type stateMark struct {
	set   bool
	value string
}

func markOf(cursor *storage.SubscriptionCursor) stateMark {
	if cursor == nil {
		return stateMark{}
	}
	return stateMark{set: true, value: cursor.OpaqueState}
}

// SubscriptionFeedContext keeps one subscription partition in sync: a
// periodic refresh from the stored cursor and on-demand backfill of further
// pages. At most one remote call runs at a time; refresh wins over backfill.
type SubscriptionFeedContext struct {
	deps      Deps
	opts      Options
	hidden    bool
	partition storage.Partition

	q      *queue.Queue
	ctx    context.Context
	cancel context.CancelFunc
	timer  *queue.Timer

	feed  event.FeedOf[SubscriptionState]
	state SubscriptionState

	refreshRequested  bool
	backfillRequested bool
	busy              bool
	loadedMark        *stateMark
}

func NewSubscriptionFeedContext(deps Deps, hidden bool, opts Options) *SubscriptionFeedContext {
	opts = opts.withDefaults("subscriptions")
	partition := storage.PartitionFor(hidden)
	opts.Logger = opts.Logger.With("partition", partition)

	ctx, cancel := context.WithCancel(context.Background())
	c := &SubscriptionFeedContext{
		deps:             deps,
		opts:             opts,
		hidden:           hidden,
		partition:        partition,
		q:                queue.New(),
		ctx:              ctx,
		cancel:           cancel,
		timer:            opts.newTimer(),
		refreshRequested: true,
	}
	c.q.Async(func() {
		c.reloadState()
		c.updateTasks()
	})
	return c
}

// RequestBackfill schedules one more page of subscriptions unless one is
// already scheduled.
func (c *SubscriptionFeedContext) RequestBackfill() {
	c.q.Async(func() {
		c.backfillRequested = true
		c.updateTasks()
	})
}

// Refresh schedules a refresh without waiting for the timer.
func (c *SubscriptionFeedContext) Refresh() {
	c.q.Async(func() {
		c.timer.Stop()
		c.refreshRequested = true
		c.updateTasks()
	})
}

func (c *SubscriptionFeedContext) readCursor() (*storage.SubscriptionCursor, error) {
	var cursor *storage.SubscriptionCursor
	err := c.deps.Store.View(func(tx *storage.Tx) error {
		var err error
		cursor, _, err = tx.Subscriptions(c.partition)
		return err
	})
	return cursor, err
}

func (c *SubscriptionFeedContext) updateTasks() {
	if c.busy {
		return
	}

	switch {
	case c.refreshRequested:
		cursor, err := c.readCursor()
		if err != nil {
			c.opts.Logger.Errorf("reading cursor: %v", err)
			c.refreshRequested = false
			c.scheduleRefresh()
			return
		}
		c.start(true, markOf(cursor))
	case c.backfillRequested:
		cursor, err := c.readCursor()
		if err != nil {
			c.opts.Logger.Errorf("reading cursor: %v", err)
			return
		}
		mark := markOf(cursor)
		hasMore := cursor == nil || cursor.HasMore
		if hasMore && (c.loadedMark == nil || *c.loadedMark != mark) {
			c.start(false, mark)
			return
		}
		c.backfillRequested = false
	}
}

func (c *SubscriptionFeedContext) start(refresh bool, mark stateMark) {
	c.busy = true
	c.state.IsLoading = true
	c.publish()

	req := transport.AllStoriesRequest{Hidden: c.hidden}
	if mark.set {
		req.State = mark.value
		req.HasState = true
		if !refresh {
			req.Next = true
		} else if c.opts.DiscardCursorOnRefresh {
			req.State = ""
			req.HasState = false
		}
	}
	go c.load(refresh, req)
}

func (c *SubscriptionFeedContext) load(refresh bool, req transport.AllStoriesRequest) {
	start := time.Now()
	res, err := c.deps.Client.GetAllStories(c.ctx, req)
	c.opts.Metrics.RecordFetch("subscriptions", err == nil, time.Since(start))
	if err != nil {
		c.opts.Logger.Warnf("fetching subscriptions failed: %v", err)
		c.q.Async(func() { c.complete(refresh) })
		return
	}

	if err := c.deps.Store.Update(func(tx *storage.Tx) error {
		return c.applyResult(tx, refresh, res)
	}); err != nil {
		c.opts.Logger.Errorf("storing subscriptions: %v", err)
		c.q.Async(func() { c.complete(refresh) })
		return
	}

	c.q.Async(func() {
		if res.NotModified {
			c.loadedMark = &stateMark{set: true, value: res.State}
		}
		c.complete(refresh)
	})
}

func (c *SubscriptionFeedContext) applyResult(tx *storage.Tx, refresh bool, res *transport.AllStoriesResult) error {
	if refresh && !c.hidden {
		mode := storage.StealthMode{ActiveUntil: res.StealthMode.ActiveUntil, CooldownUntil: res.StealthMode.CooldownUntil}
		if err := tx.SetStealthMode(mode); err != nil {
			return err
		}
	}

	if res.NotModified {
		current, _, err := tx.Subscriptions(c.partition)
		if err != nil {
			return err
		}
		next := &storage.SubscriptionCursor{OpaqueState: res.State}
		if current != nil {
			next.HasMore = current.HasMore
			next.RefreshID = current.RefreshID
		}
		if next.RefreshID == "" {
			next.RefreshID = ksuid.New().String()
		}
		return tx.SetSubscriptionCursor(c.partition, next)
	}

	_, currentPeers, err := tx.Subscriptions(c.partition)
	if err != nil {
		return err
	}
	if err := upsertPeers(tx, res.Peers); err != nil {
		return err
	}

	entries := make([]story.PeerID, 0, len(res.PeerStories))
	stored := 0
	for _, ps := range res.PeerStories {
		peer := story.PeerID(ps.PeerID)
		previous, err := tx.StoryItems(peer)
		if err != nil {
			return err
		}
		rows := mergeRemoteRows(decodeStories(tx, peer, ps.Stories, c.opts.Logger), previous)
		if err := tx.SetStoryItems(peer, rows); err != nil {
			return err
		}
		var maxRead int32
		if ps.MaxReadID != nil {
			maxRead = *ps.MaxReadID
		}
		if err := tx.SetPeerState(peer, storage.PeerState{MaxReadID: maxRead}); err != nil {
			return err
		}
		stored += len(rows)
		entries = append(entries, peer)
	}
	c.opts.Metrics.RecordItemsStored(stored)

	if refresh {
		if !c.hidden && c.deps.AccountPeerID != 0 && !containsPeer(entries, c.deps.AccountPeerID) {
			if err := tx.SetStoryItems(c.deps.AccountPeerID, nil); err != nil {
				return err
			}
		}
	} else {
		var left []story.PeerID
		for _, peer := range currentPeers {
			if !containsPeer(entries, peer) {
				left = append(left, peer)
			}
		}
		entries = append(left, entries...)
	}

	cursor := &storage.SubscriptionCursor{
		OpaqueState: res.State,
		RefreshID:   ksuid.New().String(),
		HasMore:     res.HasMore,
	}
	if err := tx.ReplaceSubscriptions(c.partition, cursor, entries); err != nil {
		return fmt.Errorf("replacing %s subscriptions: %w", c.partition, err)
	}
	return nil
}

func (c *SubscriptionFeedContext) complete(refresh bool) {
	c.busy = false
	if refresh {
		c.refreshRequested = false
		c.scheduleRefresh()
	} else {
		c.backfillRequested = false
	}
	c.reloadState()
	c.publish()
	c.updateTasks()
}

// scheduleRefresh re-arms the periodic refresh.
func (c *SubscriptionFeedContext) scheduleRefresh() {
	c.timer.Reset(c.opts.RefreshInterval, func() {
		c.q.Async(func() {
			c.refreshRequested = true
			c.updateTasks()
		})
	})
}

func (c *SubscriptionFeedContext) reloadState() {
	err := c.deps.Store.View(func(tx *storage.Tx) error {
		cursor, peers, err := tx.Subscriptions(c.partition)
		if err != nil {
			return err
		}
		c.state.Cursor = cursor
		c.state.PeerIDs = peers
		return nil
	})
	if err != nil {
		c.opts.Logger.Errorf("reading subscriptions: %v", err)
	}
	c.state.Partition = c.partition
	c.state.IsLoading = c.busy
}

func (c *SubscriptionFeedContext) publish() {
	c.feed.Send(c.cloneState())
}

func (c *SubscriptionFeedContext) cloneState() SubscriptionState {
	s := c.state
	s.PeerIDs = append([]story.PeerID(nil), c.state.PeerIDs...)
	if c.state.Cursor != nil {
		cursor := *c.state.Cursor
		s.Cursor = &cursor
	}
	return s
}

// State returns the current snapshot.
func (c *SubscriptionFeedContext) State() SubscriptionState {
	var s SubscriptionState
	c.q.Sync(func() { s = c.cloneState() })
	return s
}

// Subscribe returns the current snapshot and delivers every later one to ch.
func (c *SubscriptionFeedContext) Subscribe(ch chan<- SubscriptionState) (SubscriptionState, event.Subscription) {
	var (
		snapshot SubscriptionState
		sub      event.Subscription
	)
	if !c.q.Sync(func() {
		snapshot = c.cloneState()
		sub = c.feed.Subscribe(ch)
	}) {
		return SubscriptionState{}, closedSubscription()
	}
	return snapshot, sub
}

// Close stops the timer and any in-flight call. Nothing runs after Close
// returns.
func (c *SubscriptionFeedContext) Close() {
	c.cancel()
	c.timer.Stop()
	c.q.Close()
}

func containsPeer(peers []story.PeerID, peer story.PeerID) bool {
	for _, p := range peers {
		if p == peer {
			return true
		}
	}
	return false
}
