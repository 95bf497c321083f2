package stories

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/pders01/storyfeed/internal/queue"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
	"github.com/pders01/storyfeed/internal/updates"
)

// PeerStoryListContext keeps one peer's pinned (profile) or archived story
// list. It starts from the persisted cache head and pages through the remote
// list with numeric offsets.
type PeerStoryListContext struct {
	*listCore
	deps  Deps
	scope peerScope

	// writer persists cache heads in the order batches were applied.
	writer *queue.Queue
}

type peerPage struct {
	items     []ListItem
	lastID    *int32
	count     int
	pinnedIDs []int32
	peer      *story.Peer
}

func NewPeerStoryListContext(deps Deps, peer story.PeerID, archived bool, opts Options) *PeerStoryListContext {
	name := "peer_list"
	if archived {
		name = "peer_archive"
	}
	opts = opts.withDefaults(name)
	opts.Logger = opts.Logger.With("peer", peer)

	c := &PeerStoryListContext{
		listCore: newListCore(name, deps.Updates, opts),
		deps:     deps,
		scope:    peerScope{peer: peer, archived: archived},
		writer:   queue.New(),
	}
	c.state = c.loadCachedHead()
	c.LoadMore(nil)
	return c
}

// loadCachedHead reads the persisted head as a provisional snapshot.
func (c *PeerStoryListContext) loadCachedHead() ListState {
	state := ListState{
		LoadMoreToken:    Offset(0),
		IsCachedSnapshot: true,
		PinnedIDs:        map[int32]struct{}{},
	}
	err := c.deps.Store.View(func(tx *storage.Tx) error {
		if p, err := tx.Peer(c.scope.peer); err == nil {
			state.Peer = p
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		head, err := tx.CacheHead(c.scope.peer, c.scope.archived)
		if err != nil || head == nil {
			return err
		}
		state.HasCache = true
		state.TotalCount = head.TotalCount
		state.PinnedIDs = pinnedSet(head.PinnedIDs)
		for _, row := range head.Items {
			if !row.Item.HasMedia() {
				continue
			}
			state.Items = append(state.Items, ListItem{ID: story.ID{Peer: c.scope.peer, Item: row.Item.ID}, Item: row.Item})
		}
		return nil
	})
	if err != nil {
		c.opts.Logger.Errorf("reading cache head: %v", err)
	}
	sortPeerItems(state.Items, state.PinnedIDs)
	return state
}

// LoadMore fetches the page after the current cursor. Callers that ask for
// the same cursor while a fetch is running share it; onDone runs on the
// list's queue once that page is applied. Once the list is exhausted the
// call does nothing and onDone is never run.
func (c *PeerStoryListContext) LoadMore(onDone func()) {
	c.q.Async(func() { c.loadMore(onDone) })
}

func (c *PeerStoryListContext) loadMore(onDone func()) {
	token := c.state.LoadMoreToken
	offset, ok := token.AsOffset()
	if !ok {
		return
	}
	if !c.begin(token, onDone) {
		return
	}
	go c.fetch(token, offset)
}

func (c *PeerStoryListContext) fetch(token Cursor, offset int32) {
	start := time.Now()
	page, err := c.fetchPage(offset)
	c.opts.Metrics.RecordFetch(c.name, err == nil, time.Since(start))
	c.q.Async(func() {
		if err != nil {
			c.fail(token, err)
			return
		}
		c.applyPage(token, page)
	})
}

func (c *PeerStoryListContext) fetchPage(offset int32) (*peerPage, error) {
	peerID := int64(c.scope.peer)
	var (
		res *transport.StoriesPage
		err error
	)
	if c.scope.archived {
		res, err = c.deps.Client.GetStoriesArchive(c.ctx, peerID, offset, c.opts.PageLimit)
	} else {
		res, err = c.deps.Client.GetPinnedStories(c.ctx, peerID, offset, c.opts.PageLimit)
	}
	if err != nil {
		return nil, err
	}

	page := &peerPage{count: res.Count, pinnedIDs: res.PinnedIDs}
	hasMore := len(res.Stories) >= c.opts.PageLimit
	err = c.deps.Store.Update(func(tx *storage.Tx) error {
		if err := upsertPeers(tx, res.Peers); err != nil {
			return err
		}
		for _, row := range decodeStories(tx, c.scope.peer, res.Stories, c.opts.Logger) {
			if !row.Item.HasMedia() {
				continue
			}
			page.items = append(page.items, ListItem{ID: story.ID{Peer: c.scope.peer, Item: row.Item.ID}, Item: row.Item})
		}
		if p, err := tx.Peer(c.scope.peer); err == nil {
			page.peer = p
		}

		if offset == 0 {
			head := storage.CacheHead{PinnedIDs: res.PinnedIDs, TotalCount: res.Count}
			for i, item := range page.items {
				if i >= c.opts.CacheHeadLimit {
					break
				}
				head.Items = append(head.Items, story.FromItem(item.Item))
			}
			return tx.PutCacheHead(c.scope.peer, c.scope.archived, head)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing page: %w", err)
	}
	if hasMore && len(page.items) > 0 {
		last := page.items[len(page.items)-1].ID.Item
		page.lastID = &last
	}
	return page, nil
}

func (c *PeerStoryListContext) applyPage(token Cursor, page *peerPage) {
	c.loadingMore = false
	if c.state.LoadMoreToken != token {
		c.opts.Logger.Debugf("dropping stale page for %s", token)
		return
	}

	st := &c.state
	if st.IsCachedSnapshot {
		st.Items = nil
		st.IsCachedSnapshot = false
	}
	st.HasCache = true
	st.IsLoading = false
	if offset, _ := token.AsOffset(); offset == 0 && !c.scope.archived {
		st.PinnedIDs = pinnedSet(page.pinnedIDs)
	}
	if st.Peer == nil {
		st.Peer = page.peer
	}

	seen := make(map[story.ID]struct{}, len(st.Items))
	for _, item := range st.Items {
		seen[item.ID] = struct{}{}
	}
	for _, item := range page.items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		st.Items = append(st.Items, item)
	}
	sortPeerItems(st.Items, st.PinnedIDs)

	if page.lastID != nil {
		st.LoadMoreToken = Offset(*page.lastID)
	} else {
		st.LoadMoreToken = Exhausted()
	}
	if st.LoadMoreToken.IsExhausted() {
		st.TotalCount = len(st.Items)
	} else {
		st.TotalCount = max(page.count, len(st.Items))
	}

	c.publish()
	c.finish(token)
	c.subscribeUpdates(c.applyUpdates)
}

func (c *PeerStoryListContext) applyUpdates(batch updates.Batch) {
	if !reconcilePeerList(&c.state, c.scope, batch) {
		return
	}
	c.opts.Metrics.RecordUpdatesApplied(c.name, len(batch.ForPeer(c.scope.peer)))
	c.publish()

	head := c.state.cacheHead(c.opts.CacheHeadLimit)
	c.writer.Async(func() {
		err := c.deps.Store.Update(func(tx *storage.Tx) error {
			return tx.PutCacheHead(c.scope.peer, c.scope.archived, head)
		})
		if err != nil {
			c.opts.Logger.Errorf("persisting cache head: %v", err)
		}
	})
}

// State returns the current snapshot.
func (c *PeerStoryListContext) State() ListState {
	return c.snapshot()
}

// Subscribe returns the current snapshot and delivers every later one to ch.
func (c *PeerStoryListContext) Subscribe(ch chan<- ListState) (ListState, event.Subscription) {
	return c.subscribe(ch)
}

// Close stops the list. No callback runs after Close returns. Close must not
// be called from an onDone callback.
func (c *PeerStoryListContext) Close() {
	c.close()
	c.writer.Close()
}
