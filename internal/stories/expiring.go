package stories

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/pders01/storyfeed/internal/queue"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/updates"
)

// ExpiringFeedPoller maintains a peer's complete set of live stories and its
// read position. The state is always derived from the store; a periodic poll
// and pushed updates only write to the store.
type ExpiringFeedPoller struct {
	deps Deps
	opts Options
	peer story.PeerID

	q      *queue.Queue
	ctx    context.Context
	cancel context.CancelFunc
	timer  *queue.Timer

	feed       event.FeedOf[ExpiringFeedState]
	state      ExpiringFeedState
	polledOnce bool

	storeSub   event.Subscription
	updatesSub event.Subscription
}

func NewExpiringFeedPoller(deps Deps, peer story.PeerID, opts Options) *ExpiringFeedPoller {
	opts = opts.withDefaults("expiring")
	opts.Logger = opts.Logger.With("peer", peer)

	ctx, cancel := context.WithCancel(context.Background())
	c := &ExpiringFeedPoller{
		deps:   deps,
		opts:   opts,
		peer:   peer,
		q:      queue.New(),
		ctx:    ctx,
		cancel: cancel,
		timer:  opts.newTimer(),
	}

	changes := make(chan storage.Change, 16)
	c.storeSub = deps.Store.Watch(changes)
	go func(sub event.Subscription) {
		for {
			select {
			case change := <-changes:
				if change.TouchesPeer(peer) {
					c.q.Async(c.reload)
				}
			case <-sub.Err():
				return
			}
		}
	}(c.storeSub)

	if deps.Updates != nil {
		batches := make(chan updates.Batch, 16)
		c.updatesSub = deps.Updates.Subscribe(batches)
		go func(sub event.Subscription) {
			for {
				select {
				case batch := <-batches:
					if own := batch.ForPeer(peer); len(own) > 0 {
						c.q.Async(func() { c.fold(own) })
					}
				case <-sub.Err():
					return
				}
			}
		}(c.updatesSub)
	}

	c.q.Async(func() {
		c.reload()
		c.poll()
	})
	return c
}

// reload rebuilds the state from the store and publishes it.
func (c *ExpiringFeedPoller) reload() {
	var (
		rows []story.StoredItem
		read storage.PeerState
	)
	err := c.deps.Store.View(func(tx *storage.Tx) error {
		var err error
		if rows, err = tx.StoryItems(c.peer); err != nil {
			return err
		}
		read, _, err = tx.PeerState(c.peer)
		return err
	})
	if err != nil {
		c.opts.Logger.Errorf("reading stories: %v", err)
		return
	}

	items := make([]story.StoredItem, 0, len(rows))
	for _, row := range rows {
		if row.Item != nil && !row.Item.HasMedia() {
			continue
		}
		items = append(items, row)
	}
	c.state = ExpiringFeedState{
		Items:     items,
		MaxReadID: read.MaxReadID,
		IsLoading: len(items) == 0 && !c.polledOnce,
	}
	c.publish()
}

func (c *ExpiringFeedPoller) poll() {
	go func() {
		start := time.Now()
		err := PollPeerStories(c.ctx, c.deps, c.peer)
		c.opts.Metrics.RecordFetch("expiring", err == nil, time.Since(start))
		c.q.Async(func() {
			if err != nil {
				c.opts.Logger.Warnf("poll failed: %v", err)
			} else if !c.polledOnce {
				c.polledOnce = true
				c.reload()
			}
			c.timer.Reset(c.opts.PollInterval, func() {
				c.q.Async(c.poll)
			})
		})
	}()
}

// fold writes pushed updates for this peer into the store; the store
// notification then reloads the state.
func (c *ExpiringFeedPoller) fold(batch updates.Batch) {
	err := c.deps.Store.Update(func(tx *storage.Tx) error {
		rows, err := tx.StoryItems(c.peer)
		if err != nil {
			return err
		}
		read, _, err := tx.PeerState(c.peer)
		if err != nil {
			return err
		}
		rows, read, rowsChanged, readChanged := foldExpiringUpdates(rows, read, batch)
		if rowsChanged {
			if err := tx.SetStoryItems(c.peer, rows); err != nil {
				return err
			}
		}
		if readChanged {
			return tx.SetPeerState(c.peer, read)
		}
		return nil
	})
	if err != nil {
		c.opts.Logger.Errorf("applying pushed updates: %v", err)
		return
	}
	c.opts.Metrics.RecordUpdatesApplied("expiring", len(batch))
}

func (c *ExpiringFeedPoller) publish() {
	c.feed.Send(c.cloneState())
}

func (c *ExpiringFeedPoller) cloneState() ExpiringFeedState {
	s := c.state
	s.Items = append([]story.StoredItem(nil), c.state.Items...)
	return s
}

// State returns the current snapshot.
func (c *ExpiringFeedPoller) State() ExpiringFeedState {
	var s ExpiringFeedState
	c.q.Sync(func() { s = c.cloneState() })
	return s
}

// Subscribe returns the current snapshot and delivers every later one to ch.
func (c *ExpiringFeedPoller) Subscribe(ch chan<- ExpiringFeedState) (ExpiringFeedState, event.Subscription) {
	var (
		snapshot ExpiringFeedState
		sub      event.Subscription
	)
	if !c.q.Sync(func() {
		snapshot = c.cloneState()
		sub = c.feed.Subscribe(ch)
	}) {
		return ExpiringFeedState{}, closedSubscription()
	}
	return snapshot, sub
}

// Close stops polling and watching. Nothing runs after Close returns.
func (c *ExpiringFeedPoller) Close() {
	c.cancel()
	c.timer.Stop()
	c.storeSub.Unsubscribe()
	if c.updatesSub != nil {
		c.updatesSub.Unsubscribe()
	}
	c.q.Close()
}
