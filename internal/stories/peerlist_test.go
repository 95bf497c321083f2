package stories

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/transport"
	"github.com/pders01/storyfeed/internal/updates"
)

const testPeer = 42

func newPeerList(t *testing.T, deps Deps, archived bool) *PeerStoryListContext {
	t.Helper()
	c := NewPeerStoryListContext(deps, testPeer, archived, testOptions(&mclock.Simulated{}))
	t.Cleanup(c.Close)
	return c
}

func TestPeerStoryList_FirstPage(t *testing.T) {
	client := newFakeClient()
	var (
		mu      sync.Mutex
		offsets []int32
	)
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()
		assert.Equal(t, int64(testPeer), peer)
		assert.Equal(t, DefaultPageLimit, limit)
		if offset == 0 {
			return &transport.StoriesPage{
				Count:   250,
				Stories: remoteStories(200, 101, true),
				Peers:   []transport.Peer{{ID: testPeer, Kind: "user", Name: "alice"}},
			}, nil
		}
		return &transport.StoriesPage{Count: 250, Stories: remoteStories(100, 51, true)}, nil
	}
	deps, _, _ := testDeps(t, client)
	c := newPeerList(t, deps, false)

	require.Eventually(t, func() bool { return len(c.State().Items) == 100 }, waitFor, tick)
	state := c.State()
	assert.Equal(t, 250, state.TotalCount)
	assert.Equal(t, Offset(101), state.LoadMoreToken)
	assert.Equal(t, int32(101), state.Items[99].ID.Item)
	assert.False(t, state.IsCachedSnapshot)
	assert.True(t, state.HasCache)
	assert.False(t, state.IsLoading)
	assert.True(t, state.IsSorted())
	require.NotNil(t, state.Peer)
	assert.Equal(t, "alice", state.Peer.Name)

	done := make(chan struct{})
	c.LoadMore(func() { close(done) })
	waitClosed(t, done)

	state = c.State()
	assert.Len(t, state.Items, 150)
	assert.Equal(t, 150, state.TotalCount, "an exhausted list counts what it holds")
	assert.True(t, state.LoadMoreToken.IsExhausted())
	mu.Lock()
	assert.Equal(t, []int32{0, 101}, offsets)
	mu.Unlock()
}

func TestPeerStoryList_SingleFlight(t *testing.T) {
	client := newFakeClient()
	gate := make(chan struct{})
	client.setGate(gate)
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		return &transport.StoriesPage{Count: 3, Stories: remoteStories(3, 1, true)}, nil
	}
	deps, _, _ := testDeps(t, client)
	c := newPeerList(t, deps, false)

	var done atomic.Int32
	c.LoadMore(func() { done.Add(1) })
	c.LoadMore(func() { done.Add(1) })
	assert.True(t, c.State().IsLoading)

	close(gate)
	require.Eventually(t, func() bool { return done.Load() == 2 }, waitFor, tick)
	assert.Equal(t, 1, client.count("pinned"))

	state := c.State()
	assert.Len(t, state.Items, 3)
	assert.True(t, state.LoadMoreToken.IsExhausted())

	// An exhausted list ignores further requests.
	var late atomic.Bool
	c.LoadMore(func() { late.Store(true) })
	assert.Never(t, func() bool { return late.Load() || client.count("pinned") > 1 }, quiet, tick)
	assert.False(t, c.State().IsLoading)
}

func TestPeerStoryList_FailureLeavesStateUntouched(t *testing.T) {
	client := newFakeClient()
	var failing atomic.Bool
	failing.Store(true)
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		if failing.Load() {
			return nil, errUnavailable
		}
		return &transport.StoriesPage{Count: 2, Stories: remoteStories(2, 1, true)}, nil
	}
	deps, _, _ := testDeps(t, client)
	c := newPeerList(t, deps, false)

	var done atomic.Int32
	c.LoadMore(func() { done.Add(1) })
	require.Eventually(t, func() bool { return client.count("pinned") >= 1 }, waitFor, tick)
	assert.Never(t, func() bool {
		s := c.State()
		return len(s.Items) > 0 || !s.IsLoading || s.LoadMoreToken != Offset(0) || done.Load() > 0
	}, quiet, tick)

	failing.Store(false)
	require.Eventually(t, func() bool {
		c.LoadMore(nil)
		return done.Load() == 1
	}, waitFor, tick*4)

	state := c.State()
	assert.Len(t, state.Items, 2)
	assert.False(t, state.IsLoading)
	assert.Equal(t, int32(1), done.Load(), "a retried cursor runs each callback once")
}

func TestPeerStoryList_CachedHead(t *testing.T) {
	client := newFakeClient()
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		return &transport.StoriesPage{Count: 3, Stories: remoteStories(3, 1, true), PinnedIDs: []int32{2}}, nil
	}
	deps, store, _ := testDeps(t, client)

	first := NewPeerStoryListContext(deps, testPeer, false, testOptions(&mclock.Simulated{}))
	require.Eventually(t, func() bool { return len(first.State().Items) == 3 }, waitFor, tick)
	assert.Equal(t, []int32{2, 3, 1}, itemIDs(first.State().Items))
	first.Close()

	var head *storage.CacheHead
	require.NoError(t, store.View(func(tx *storage.Tx) error {
		var err error
		head, err = tx.CacheHead(testPeer, false)
		return err
	}))
	require.NotNil(t, head)
	assert.Equal(t, []int32{2}, head.PinnedIDs)

	gate := make(chan struct{})
	client.setGate(gate)
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		return &transport.StoriesPage{Count: 1, Stories: remoteStories(3, 3, true)}, nil
	}
	second := newPeerList(t, deps, false)

	state := second.State()
	assert.True(t, state.IsCachedSnapshot)
	assert.True(t, state.HasCache)
	assert.Equal(t, 3, state.TotalCount)
	assert.Equal(t, []int32{2, 3, 1}, itemIDs(state.Items))
	assert.True(t, state.IsPinned(2))

	close(gate)
	require.Eventually(t, func() bool { return !second.State().IsCachedSnapshot }, waitFor, tick)
	state = second.State()
	assert.Equal(t, []int32{3}, itemIDs(state.Items), "the first page replaces the cached snapshot")
	assert.Empty(t, state.PinnedIDs)
	assert.Equal(t, 1, state.TotalCount)

	archived := newPeerList(t, deps, true)
	assert.False(t, archived.State().HasCache, "the archive has its own cache head")
}

func TestPeerStoryList_LiveUpdates(t *testing.T) {
	client := newFakeClient()
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		return &transport.StoriesPage{Count: 8, Stories: remoteStories(8, 1, true)}, nil
	}
	deps, store, hub := testDeps(t, client)
	c := newPeerList(t, deps, false)
	require.Eventually(t, func() bool { return len(c.State().Items) == 8 }, waitFor, tick)

	deleted := updates.Batch{updates.Deleted{Peer: testPeer, ID: 5}}
	publishWhenSubscribed(t, hub, deleted)
	require.Eventually(t, func() bool { return c.State().TotalCount == 7 }, waitFor, tick)
	assert.Equal(t, []int32{8, 7, 6, 4, 3, 2, 1}, itemIDs(c.State().Items))

	hub.Publish(deleted)
	hub.Publish(updates.Batch{updates.Deleted{Peer: testPeer + 1, ID: 4}})
	assert.Never(t, func() bool { return c.State().TotalCount != 7 }, quiet, tick)

	hub.Publish(updates.Batch{updates.PinnedListChanged{Peer: testPeer, IDs: []int32{1}}})
	require.Eventually(t, func() bool { return c.State().IsPinned(1) }, waitFor, tick)
	state := c.State()
	assert.Equal(t, int32(1), state.Items[0].ID.Item)
	assert.True(t, state.IsSorted())

	require.Eventually(t, func() bool {
		var head *storage.CacheHead
		_ = store.View(func(tx *storage.Tx) error {
			var err error
			head, err = tx.CacheHead(testPeer, false)
			return err
		})
		return head != nil && len(head.Items) == 7 && len(head.PinnedIDs) == 1
	}, waitFor, tick, "reconciled state is persisted as the new cache head")
}

func TestPeerStoryList_SkipsItemsWithoutMedia(t *testing.T) {
	client := newFakeClient()
	noMedia := remoteStory(2, false)
	noMedia.Media = nil
	client.archive = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		return &transport.StoriesPage{Count: 3, Stories: []transport.Story{
			remoteStory(3, false),
			noMedia,
			{Kind: transport.KindDeleted, ID: 1},
		}}, nil
	}
	deps, _, _ := testDeps(t, client)
	c := newPeerList(t, deps, true)

	require.Eventually(t, func() bool { return !c.State().IsLoading && c.State().HasCache }, waitFor, tick)
	state := c.State()
	assert.Equal(t, []int32{3}, itemIDs(state.Items))
	assert.Equal(t, 1, state.TotalCount)
	assert.Zero(t, client.count("pinned"))
}

func TestPeerStoryList_Subscribe(t *testing.T) {
	client := newFakeClient()
	gate := make(chan struct{})
	client.setGate(gate)
	client.pinned = func(peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
		return &transport.StoriesPage{Count: 1, Stories: remoteStories(1, 1, true)}, nil
	}
	deps, _, _ := testDeps(t, client)
	c := newPeerList(t, deps, false)

	ch := make(chan ListState, 8)
	current, sub := c.Subscribe(ch)
	defer sub.Unsubscribe()
	assert.True(t, current.IsLoading)
	assert.Empty(t, current.Items)

	close(gate)
	select {
	case s := <-ch:
		assert.Len(t, s.Items, 1)
		assert.False(t, s.IsLoading)
	case <-time.After(waitFor):
		t.Fatal("no state published")
	}
}
