package stories

import (
	"sort"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
)

// ListItem is one entry of a paginated list. Item is never mutated once it
// has been published; updates swap the pointer.
type ListItem struct {
	ID   story.ID
	Item *story.Item
	// Peer is the originating peer; search results carry it, peer lists
	// leave it nil.
	Peer *story.Peer
}

// ListState is the published snapshot of a paginated list.
type ListState struct {
	Peer             *story.Peer
	Items            []ListItem
	PinnedIDs        map[int32]struct{}
	TotalCount       int
	LoadMoreToken    Cursor
	IsCachedSnapshot bool
	HasCache         bool
	IsLoading        bool
}

// Clone returns a copy that shares no slices or maps with s.
func (s ListState) Clone() ListState {
	c := s
	c.Items = append([]ListItem(nil), s.Items...)
	c.PinnedIDs = make(map[int32]struct{}, len(s.PinnedIDs))
	for id := range s.PinnedIDs {
		c.PinnedIDs[id] = struct{}{}
	}
	return c
}

func (s ListState) IsPinned(id int32) bool {
	_, ok := s.PinnedIDs[id]
	return ok
}

func (s ListState) indexOf(id story.ID) int {
	for i, item := range s.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// PinnedIDList returns the pinned ids in ascending order.
func (s ListState) PinnedIDList() []int32 {
	ids := make([]int32, 0, len(s.PinnedIDs))
	for id := range s.PinnedIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func pinnedSet(ids []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sameSet(a, b map[int32]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// sortPeerItems orders pinned entries first, then by descending timestamp.
func sortPeerItems(items []ListItem, pinned map[int32]struct{}) {
	sort.SliceStable(items, func(i, j int) bool {
		_, pi := pinned[items[i].ID.Item]
		_, pj := pinned[items[j].ID.Item]
		if pi != pj {
			return pi
		}
		return items[i].Item.Timestamp > items[j].Item.Timestamp
	})
}

// IsSorted reports whether s satisfies the peer list ordering.
func (s ListState) IsSorted() bool {
	return sort.SliceIsSorted(s.Items, func(i, j int) bool {
		pi, pj := s.IsPinned(s.Items[i].ID.Item), s.IsPinned(s.Items[j].ID.Item)
		if pi != pj {
			return pi
		}
		return s.Items[i].Item.Timestamp > s.Items[j].Item.Timestamp
	})
}

// cacheHead captures the first limit items of s for persistence.
func (s ListState) cacheHead(limit int) storage.CacheHead {
	n := len(s.Items)
	if n > limit {
		n = limit
	}
	head := storage.CacheHead{
		Items:      make([]story.StoredItem, 0, n),
		PinnedIDs:  s.PinnedIDList(),
		TotalCount: s.TotalCount,
	}
	for _, item := range s.Items[:n] {
		head.Items = append(head.Items, story.FromItem(item.Item))
	}
	return head
}

// ExpiringFeedState is the published snapshot of a peer's live stories.
type ExpiringFeedState struct {
	Items     []story.StoredItem
	MaxReadID int32
	IsLoading bool
}

func (s ExpiringFeedState) HasUnseen() bool {
	for _, item := range s.Items {
		if item.ID() > s.MaxReadID {
			return true
		}
	}
	return false
}

func (s ExpiringFeedState) UnseenCount() int {
	n := 0
	for _, item := range s.Items {
		if item.ID() > s.MaxReadID {
			n++
		}
	}
	return n
}

func (s ExpiringFeedState) HasUnseenCloseFriends() bool {
	for _, item := range s.Items {
		if item.ID() > s.MaxReadID && item.IsCloseFriends() {
			return true
		}
	}
	return false
}

// SubscriptionState is the published snapshot of a subscription partition.
type SubscriptionState struct {
	Partition storage.Partition
	PeerIDs   []story.PeerID
	Cursor    *storage.SubscriptionCursor
	IsLoading bool
}
