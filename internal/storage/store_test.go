package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pders01/storyfeed/internal/story"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	tmpDir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewStore(dbPath, time.Second)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func itemRow(id int32) story.StoredItem {
	return story.FromItem(&story.Item{ID: id, Timestamp: id * 10, ExpirationTimestamp: id*10 + 86400})
}

type recordingListener struct {
	calls map[story.PeerID]int
}

func (r *recordingListener) OnStoriesUpdated(peer story.PeerID, items []story.StoredItem) {
	r.calls[peer] += len(items)
}

func TestStore_StoryItemsRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.Update(func(tx *Tx) error {
		return tx.SetStoryItems(7, []story.StoredItem{
			itemRow(3),
			story.FromPlaceholder(story.Placeholder{ID: 1, Timestamp: 5}),
			itemRow(2),
		})
	})
	if err != nil {
		t.Fatalf("failed to set items: %v", err)
	}

	var items []story.StoredItem
	err = store.View(func(tx *Tx) error {
		var viewErr error
		items, viewErr = tx.StoryItems(7)
		return viewErr
	})
	if err != nil {
		t.Fatalf("failed to read items: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []int32{1, 2, 3} {
		if items[i].ID() != want {
			t.Errorf("expected id %d at %d, got %d", want, i, items[i].ID())
		}
	}
	if !items[0].IsPlaceholder() {
		t.Error("expected placeholder to survive the round trip")
	}

	err = store.Update(func(tx *Tx) error {
		return tx.SetStoryItems(8, nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	seen := map[story.PeerID]int{}
	err = store.View(func(tx *Tx) error {
		return tx.ForEachStoryItems(func(peer story.PeerID, items []story.StoredItem) error {
			seen[peer] = len(items)
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[7] != 3 {
		t.Errorf("expected only peer 7 with 3 rows, got %v", seen)
	}
}

func TestStore_RollbackIsInvisible(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	changes := make(chan Change, 4)
	sub := store.Watch(changes)
	defer sub.Unsubscribe()

	boom := errors.New("boom")
	err := store.Update(func(tx *Tx) error {
		if err := tx.SetStoryItems(1, []story.StoredItem{itemRow(1)}); err != nil {
			return err
		}
		if err := tx.UpsertPeers([]story.Peer{{ID: 1, Name: "ghost"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.View(func(tx *Tx) error {
		items, viewErr := tx.StoryItems(1)
		if viewErr != nil {
			return viewErr
		}
		if len(items) != 0 {
			t.Errorf("expected no items after rollback, got %d", len(items))
		}
		if _, peerErr := tx.Peer(1); !errors.Is(peerErr, ErrNotFound) {
			t.Errorf("expected ErrNotFound for rolled back peer, got %v", peerErr)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		t.Errorf("unexpected change after rollback: %+v", c)
	default:
	}
}

func TestStore_WatchAndListeners(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	listener := &recordingListener{calls: map[story.PeerID]int{}}
	store.AddListener(listener)

	changes := make(chan Change, 4)
	sub := store.Watch(changes)
	defer sub.Unsubscribe()

	err := store.Update(func(tx *Tx) error {
		if err := tx.SetStoryItems(5, []story.StoredItem{itemRow(1), itemRow(2)}); err != nil {
			return err
		}
		if err := tx.SetPeerState(6, PeerState{MaxReadID: 4}); err != nil {
			return err
		}
		return tx.ReplaceSubscriptions(PartitionHidden, nil, []story.PeerID{5})
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if !c.TouchesPeer(5) || !c.TouchesPeer(6) {
			t.Errorf("expected peers 5 and 6 in change, got %+v", c)
		}
		if c.TouchesPeer(7) {
			t.Error("peer 7 was not written")
		}
		if !c.TouchesPartition(PartitionHidden) || c.TouchesPartition(PartitionActive) {
			t.Errorf("unexpected partitions %+v", c.Partitions)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	if listener.calls[5] != 2 {
		t.Errorf("expected listener to see 2 rows for peer 5, got %d", listener.calls[5])
	}
}

func TestStore_Subscriptions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.View(func(tx *Tx) error {
		cursor, peers, err := tx.Subscriptions(PartitionActive)
		if cursor != nil || peers != nil {
			t.Errorf("expected empty partition, got %+v %v", cursor, peers)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.Update(func(tx *Tx) error {
		if err := tx.ReplaceSubscriptions(PartitionActive, &SubscriptionCursor{OpaqueState: "s1", HasMore: true}, []story.PeerID{3, 1}); err != nil {
			return err
		}
		return tx.SetSubscriptionCursor(PartitionActive, &SubscriptionCursor{OpaqueState: "s2", RefreshID: "r"})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.View(func(tx *Tx) error {
		cursor, peers, err := tx.Subscriptions(PartitionActive)
		if err != nil {
			return err
		}
		if cursor == nil || cursor.OpaqueState != "s2" || cursor.HasMore {
			t.Errorf("unexpected cursor %+v", cursor)
		}
		if len(peers) != 2 || peers[0] != 3 || peers[1] != 1 {
			t.Errorf("expected peer order to be kept, got %v", peers)
		}
		ok, err := tx.SubscriptionsContain(PartitionActive, 1)
		if !ok {
			t.Error("expected peer 1 in active partition")
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStore_CacheHeadsAreKeyedByArchive(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.Update(func(tx *Tx) error {
		return tx.PutCacheHead(9, true, CacheHead{Items: []story.StoredItem{itemRow(4)}, TotalCount: 12})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.View(func(tx *Tx) error {
		pinned, err := tx.CacheHead(9, false)
		if err != nil {
			return err
		}
		if pinned != nil {
			t.Error("expected no pinned cache head")
		}
		archived, err := tx.CacheHead(9, true)
		if err != nil {
			return err
		}
		if archived == nil || archived.TotalCount != 12 || len(archived.Items) != 1 {
			t.Errorf("unexpected archived head %+v", archived)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStore_PeersAndStealthMode(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	until := int32(1000)
	err := store.Update(func(tx *Tx) error {
		if err := tx.UpsertPeers([]story.Peer{{ID: 2, Kind: story.PeerChannel, Name: "News"}}); err != nil {
			return err
		}
		return tx.SetStealthMode(StealthMode{ActiveUntil: &until})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.View(func(tx *Tx) error {
		p, err := tx.Peer(2)
		if err != nil {
			return err
		}
		if !p.IsBroadcast() || p.Name != "News" {
			t.Errorf("unexpected peer %+v", p)
		}
		mode, err := tx.StealthMode()
		if err != nil {
			return err
		}
		if mode.ActiveUntil == nil || *mode.ActiveUntil != until {
			t.Errorf("unexpected stealth mode %+v", mode)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStore_PeerCacheOnlyHoldsCommittedWrites(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewStore(dbPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	err = store.Update(func(tx *Tx) error {
		return tx.UpsertPeers([]story.Peer{{ID: 2, Name: "old"}})
	})
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewStore(dbPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	err = store.View(func(tx *Tx) error {
		p, err := tx.Peer(2)
		if err != nil {
			return err
		}
		if p.Name != "old" {
			t.Errorf("expected stored peer, got %+v", p)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if store.peers.Contains(story.PeerID(2)) {
		t.Error("a read transaction must not fill the peer cache")
	}

	err = store.Update(func(tx *Tx) error {
		return tx.UpsertPeers([]story.Peer{{ID: 2, Name: "new"}})
	})
	if err != nil {
		t.Fatal(err)
	}
	v, ok := store.peers.Get(story.PeerID(2))
	if !ok || v.(*story.Peer).Name != "new" {
		t.Errorf("expected committed peer in cache, got %v", v)
	}
}
