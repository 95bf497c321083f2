package stories

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/require"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
	"github.com/pders01/storyfeed/internal/updates"
)

var errUnavailable = errors.New("service unavailable")

// fakeClient answers with the configured funcs and counts calls. When gate
// is set every call blocks until it is closed.
type fakeClient struct {
	mu    sync.Mutex
	calls map[string]int
	gate  chan struct{}

	allStories  func(req transport.AllStoriesRequest) (*transport.AllStoriesResult, error)
	peerStories func(peer int64) (*transport.PeerStoriesResult, error)
	pinned      func(peer int64, offset int32, limit int) (*transport.StoriesPage, error)
	archive     func(peer int64, offset int32, limit int) (*transport.StoriesPage, error)
	search      func(req transport.SearchRequest) (*transport.FoundStories, error)

	allRequests []transport.AllStoriesRequest
	searches    []transport.SearchRequest
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: map[string]int{}}
}

func (f *fakeClient) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClient) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeClient) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeClient) GetAllStories(ctx context.Context, req transport.AllStoriesRequest) (*transport.AllStoriesResult, error) {
	f.mu.Lock()
	f.allRequests = append(f.allRequests, req)
	handler := f.allStories
	f.mu.Unlock()
	if err := f.enter(ctx, "all"); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errUnavailable
	}
	return handler(req)
}

func (f *fakeClient) GetPeerStories(ctx context.Context, peer int64) (*transport.PeerStoriesResult, error) {
	if err := f.enter(ctx, "peer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	handler := f.peerStories
	f.mu.Unlock()
	if handler == nil {
		return nil, errUnavailable
	}
	return handler(peer)
}

func (f *fakeClient) GetPinnedStories(ctx context.Context, peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
	if err := f.enter(ctx, "pinned"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	handler := f.pinned
	f.mu.Unlock()
	if handler == nil {
		return nil, errUnavailable
	}
	return handler(peer, offset, limit)
}

func (f *fakeClient) GetStoriesArchive(ctx context.Context, peer int64, offset int32, limit int) (*transport.StoriesPage, error) {
	if err := f.enter(ctx, "archive"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	handler := f.archive
	f.mu.Unlock()
	if handler == nil {
		return nil, errUnavailable
	}
	return handler(peer, offset, limit)
}

func (f *fakeClient) SearchStories(ctx context.Context, req transport.SearchRequest) (*transport.FoundStories, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	handler := f.search
	f.mu.Unlock()
	if err := f.enter(ctx, "search"); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errUnavailable
	}
	return handler(req)
}

func (f *fakeClient) lastAllRequest() transport.AllStoriesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allRequests[len(f.allRequests)-1]
}

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "stories.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDeps(t *testing.T, client *fakeClient) (Deps, *storage.Store, *updates.Hub) {
	store := setupStore(t)
	hub := updates.NewHub()
	return Deps{Store: store, Client: client, Updates: hub, AccountPeerID: 99}, store, hub
}

func testOptions(clock mclock.Clock) Options {
	return Options{Clock: clock, Wall: func() time.Time { return time.Unix(1_700_000_000, 0) }}
}

func remoteStory(id int32, pinned bool) transport.Story {
	return transport.Story{
		Kind:       transport.KindItem,
		ID:         id,
		Date:       id * 100,
		ExpireDate: id*100 + 86400,
		Media:      &transport.Media{Type: "photo", ID: int64(id)},
		Pinned:     pinned,
	}
}

func remoteStories(from, to int32, pinned bool) []transport.Story {
	var out []transport.Story
	for id := from; id >= to; id-- {
		out = append(out, remoteStory(id, pinned))
	}
	return out
}

func localItem(id int32, pinned bool) *story.Item {
	return &story.Item{
		ID:                  id,
		Timestamp:           id * 100,
		ExpirationTimestamp: id*100 + 86400,
		Media:               &story.Media{Kind: story.MediaPhoto, ID: int64(id)},
		IsPinned:            pinned,
	}
}

func itemIDs(items []ListItem) []int32 {
	ids := make([]int32, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID.Item)
	}
	return ids
}

// publishWhenSubscribed retries until some context receives the batch.
func publishWhenSubscribed(t *testing.T, hub *updates.Hub, batch updates.Batch) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Publish(batch) > 0 }, 2*time.Second, 5*time.Millisecond)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// quiet is how long a test watches for something that must not happen.
const quiet = 100 * time.Millisecond

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatalf("timed out after %s", waitFor)
	}
}
