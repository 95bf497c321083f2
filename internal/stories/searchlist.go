package stories

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
	"github.com/pders01/storyfeed/internal/updates"
	"github.com/pders01/storyfeed/internal/validation"
)

var ErrInvalidQuery = errors.New("search query needs exactly one of hashtag or area")

// SearchQuery selects search results by hashtag or by a media area such as
// a venue or a geo point. Exactly one must be set.
type SearchQuery struct {
	Hashtag string
	Area    *story.MediaArea
}

func (q SearchQuery) normalize() (SearchQuery, error) {
	switch {
	case q.Hashtag != "" && q.Area == nil:
		tag, err := validation.NormalizeHashtag(q.Hashtag)
		if err != nil {
			return q, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return SearchQuery{Hashtag: tag}, nil
	case q.Hashtag == "" && q.Area != nil:
		return q, nil
	default:
		return q, ErrInvalidQuery
	}
}

func (q SearchQuery) String() string {
	if q.Area != nil {
		return fmt.Sprintf("area(%s %.4f,%.4f)", q.Area.Kind, q.Area.Lat, q.Area.Long)
	}
	return "#" + q.Hashtag
}

func (q SearchQuery) request(offset string, limit int) transport.SearchRequest {
	req := transport.SearchRequest{Hashtag: q.Hashtag, Offset: offset, Limit: limit}
	if a := q.Area; a != nil {
		req.Area = &transport.Area{
			Type:     a.Kind,
			X:        a.X,
			Y:        a.Y,
			Width:    a.Width,
			Height:   a.Height,
			Rotation: a.Rotation,
			Lat:      a.Lat,
			Long:     a.Long,
			Title:    a.Title,
			Reaction: string(a.Reaction),
			URL:      a.URL,
		}
	}
	return req
}

// SearchStoryListContext keeps the results of one search. Results from many
// peers are kept in fetch order and paged with opaque tokens.
type SearchStoryListContext struct {
	*listCore
	deps  Deps
	query SearchQuery
}

type searchPage struct {
	items []ListItem
	count int
	next  *string
}

func NewSearchStoryListContext(deps Deps, query SearchQuery, opts Options) (*SearchStoryListContext, error) {
	query, err := query.normalize()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults("search")
	opts.Logger = opts.Logger.With("query", query.String())

	c := &SearchStoryListContext{
		listCore: newListCore("search", deps.Updates, opts),
		deps:     deps,
		query:    query,
	}
	c.state = ListState{LoadMoreToken: Token(""), PinnedIDs: map[int32]struct{}{}}
	c.LoadMore(nil)
	return c, nil
}

// Query returns the normalized query.
func (c *SearchStoryListContext) Query() SearchQuery {
	return c.query
}

// LoadMore fetches the next page of results; see PeerStoryListContext.LoadMore.
func (c *SearchStoryListContext) LoadMore(onDone func()) {
	c.q.Async(func() { c.loadMore(onDone) })
}

func (c *SearchStoryListContext) loadMore(onDone func()) {
	token := c.state.LoadMoreToken
	offset, ok := token.AsToken()
	if !ok {
		return
	}
	if !c.begin(token, onDone) {
		return
	}
	go c.fetch(token, offset)
}

func (c *SearchStoryListContext) fetch(token Cursor, offset string) {
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

func (c *SearchStoryListContext) fetchPage(offset string) (*searchPage, error) {
	res, err := c.deps.Client.SearchStories(c.ctx, c.query.request(offset, c.opts.PageLimit))
	if err != nil {
		return nil, err
	}

	page := &searchPage{count: res.Count, next: res.NextOffset}
	err = c.deps.Store.Update(func(tx *storage.Tx) error {
		if err := upsertPeers(tx, res.Peers); err != nil {
			return err
		}
		for _, found := range res.Stories {
			peerID := story.PeerID(found.PeerID)
			row, ok := story.Decode(found.Story, peerID, tx.StoryItem)
			if !ok || !row.Item.HasMedia() {
				c.opts.Logger.Debugf("skipping result %d of peer %d", found.Story.ID, peerID)
				continue
			}
			entry := ListItem{ID: story.ID{Peer: peerID, Item: row.Item.ID}, Item: row.Item}
			if p, err := tx.Peer(peerID); err == nil {
				entry.Peer = p
			}
			page.items = append(page.items, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing results: %w", err)
	}
	return page, nil
}

func (c *SearchStoryListContext) applyPage(token Cursor, page *searchPage) {
	c.loadingMore = false
	if c.state.LoadMoreToken != token {
		c.opts.Logger.Debugf("dropping stale page for %s", token)
		return
	}

	st := &c.state
	st.HasCache = true
	st.IsLoading = false

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

	if page.next != nil {
		st.LoadMoreToken = Token(*page.next)
		st.TotalCount = max(page.count, len(st.Items))
	} else {
		st.LoadMoreToken = Exhausted()
		st.TotalCount = len(st.Items)
	}

	c.publish()
	c.finish(token)
	c.subscribeUpdates(c.applyUpdates)
}

func (c *SearchStoryListContext) applyUpdates(batch updates.Batch) {
	if !reconcileSearchList(&c.state, batch, c.isBroadcast) {
		return
	}
	c.opts.Metrics.RecordUpdatesApplied(c.name, len(batch))
	c.publish()
}

func (c *SearchStoryListContext) isBroadcast(peer story.PeerID) bool {
	broadcast := false
	err := c.deps.Store.View(func(tx *storage.Tx) error {
		p, err := tx.Peer(peer)
		if err != nil {
			return err
		}
		broadcast = p.IsBroadcast()
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.opts.Logger.Errorf("resolving peer %d: %v", peer, err)
	}
	return broadcast
}

// State returns the current snapshot.
func (c *SearchStoryListContext) State() ListState {
	return c.snapshot()
}

// Subscribe returns the current snapshot and delivers every later one to ch.
func (c *SearchStoryListContext) Subscribe(ch chan<- ListState) (ListState, event.Subscription) {
	return c.subscribe(ch)
}

// Close stops the list. No callback runs after Close returns.
func (c *SearchStoryListContext) Close() {
	c.close()
}
