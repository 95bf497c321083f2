package stories

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"github.com/pders01/storyfeed/internal/queue"
	"github.com/pders01/storyfeed/internal/updates"
)

// listCore is the machinery shared by the paginated lists: the owned state,
// the publish feed, callback coalescing by cursor and the push-update
// subscription. Fields are only touched on q.
type listCore struct {
	name string
	opts Options

	q      *queue.Queue
	ctx    context.Context
	cancel context.CancelFunc

	feed  event.FeedOf[ListState]
	state ListState

	loadingMore bool
	callbacks   map[Cursor][]func()

	hub        *updates.Hub
	updatesSub event.Subscription
}

func newListCore(name string, hub *updates.Hub, opts Options) *listCore {
	ctx, cancel := context.WithCancel(context.Background())
	return &listCore{
		name:      name,
		opts:      opts,
		q:         queue.New(),
		ctx:       ctx,
		cancel:    cancel,
		callbacks: make(map[Cursor][]func()),
		hub:       hub,
	}
}

func (c *listCore) publish() {
	c.feed.Send(c.state.Clone())
}

// begin registers onDone for token and reports whether a fetch should start.
func (c *listCore) begin(token Cursor, onDone func()) bool {
	if onDone != nil {
		c.callbacks[token] = append(c.callbacks[token], onDone)
	}
	if c.loadingMore {
		return false
	}
	c.loadingMore = true
	if !c.state.IsLoading {
		c.state.IsLoading = true
		c.publish()
	}
	return true
}

// finish runs and forgets the callbacks registered for token.
func (c *listCore) finish(token Cursor) {
	callbacks := c.callbacks[token]
	delete(c.callbacks, token)
	for _, f := range callbacks {
		f()
	}
}

// fail reopens the gate after a failed fetch. State and callbacks stay as
// they are so the next loadMore for the same cursor retries.
func (c *listCore) fail(token Cursor, err error) {
	c.loadingMore = false
	c.opts.Logger.Warnf("loading %s failed: %v", token, err)
}

// subscribeUpdates moves the list from unsubscribed to subscribed. Batches
// are applied on q, one batch per task.
func (c *listCore) subscribeUpdates(apply func(updates.Batch)) {
	if c.updatesSub != nil || c.hub == nil {
		return
	}
	ch := make(chan updates.Batch, 16)
	sub := c.hub.Subscribe(ch)
	c.updatesSub = sub
	go func() {
		for {
			select {
			case batch := <-ch:
				c.q.Async(func() { apply(batch) })
			case <-sub.Err():
				return
			}
		}
	}()
}

// subscribe returns the current state and delivers every later snapshot to
// ch. Slow receivers stall the list, so ch should be buffered and drained.
func (c *listCore) subscribe(ch chan<- ListState) (ListState, event.Subscription) {
	var (
		snapshot ListState
		sub      event.Subscription
	)
	if !c.q.Sync(func() {
		snapshot = c.state.Clone()
		sub = c.feed.Subscribe(ch)
	}) {
		return ListState{}, closedSubscription()
	}
	return snapshot, sub
}

func (c *listCore) snapshot() ListState {
	var s ListState
	c.q.Sync(func() { s = c.state.Clone() })
	return s
}

func (c *listCore) close() {
	c.cancel()
	c.q.Sync(func() {
		if c.updatesSub != nil {
			c.updatesSub.Unsubscribe()
		}
	})
	c.q.Close()
}
