package stories

import (
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/updates"
)

// peerScope describes which items a peer list shows.
type peerScope struct {
	peer     story.PeerID
	archived bool
}

// visible reports whether item belongs in the list: the archive shows
// everything with media, the profile view only pinned items.
func (s peerScope) visible(item *story.Item) bool {
	if !item.HasMedia() {
		return false
	}
	return s.archived || item.IsPinned
}

// reconcilePeerList folds batch into state and reports whether anything
// changed. Applying the same batch twice is a no-op the second time.
func reconcilePeerList(state *ListState, scope peerScope, batch updates.Batch) bool {
	changed := false
	resort := false

	for _, u := range batch {
		if u.PeerID() != scope.peer {
			continue
		}
		switch u := u.(type) {
		case updates.Deleted:
			if removeItem(state, story.ID{Peer: u.Peer, Item: u.ID}) {
				changed = true
			}
		case updates.Added:
			if u.Item.Item == nil {
				continue
			}
			item := u.Item.Item
			id := story.ID{Peer: u.Peer, Item: item.ID}
			if index := state.indexOf(id); index >= 0 {
				if u.Min {
					item = story.MergeMin(item, state.Items[index].Item)
				}
				if scope.visible(item) {
					state.Items[index] = ListItem{ID: id, Item: item}
					resort = true
				} else {
					removeItem(state, id)
				}
				changed = true
			} else if scope.visible(item) {
				state.Items = append(state.Items, ListItem{ID: id, Item: item})
				state.TotalCount++
				resort = true
				changed = true
			}
		case updates.PinnedListChanged:
			if scope.archived {
				continue
			}
			next := pinnedSet(u.IDs)
			if !sameSet(state.PinnedIDs, next) {
				state.PinnedIDs = next
				resort = true
				changed = true
			}
		}
	}

	if resort {
		sortPeerItems(state.Items, state.PinnedIDs)
	}
	return changed
}

func removeItem(state *ListState, id story.ID) bool {
	index := state.indexOf(id)
	if index < 0 {
		return false
	}
	state.Items = append(state.Items[:index:index], state.Items[index+1:]...)
	if state.TotalCount > 0 {
		state.TotalCount--
	}
	return true
}

// reconcileSearchList updates items already in a search result. Nothing is
// inserted or removed: membership is decided by the server. isBroadcast
// resolves peers whose record is not attached to the item.
func reconcileSearchList(state *ListState, batch updates.Batch, isBroadcast func(story.PeerID) bool) bool {
	changed := false
	for _, u := range batch {
		switch u := u.(type) {
		case updates.Added:
			item := u.Item.Item
			if !item.HasMedia() {
				continue
			}
			index := state.indexOf(story.ID{Peer: u.Peer, Item: item.ID})
			if index < 0 {
				continue
			}
			if u.Min {
				item = story.MergeMin(item, state.Items[index].Item)
			}
			state.Items[index].Item = item
			changed = true
		case updates.MyReactionChanged:
			index := state.indexOf(story.ID{Peer: u.Peer, Item: u.ID})
			if index < 0 {
				continue
			}
			entry := state.Items[index]
			broadcast := entry.Peer.IsBroadcast()
			if entry.Peer == nil && isBroadcast != nil {
				broadcast = isBroadcast(u.Peer)
			}
			updated := *entry.Item
			updated.Views = story.ApplyMyReaction(entry.Item.Views, entry.Item.MyReaction, u.Reaction, broadcast)
			updated.MyReaction = u.Reaction
			state.Items[index].Item = &updated
			changed = true
		}
	}
	return changed
}

// foldExpiringUpdates applies pushed updates for one peer to its stored rows
// and read state. A placeholder never replaces a full item.
func foldExpiringUpdates(rows []story.StoredItem, readState storage.PeerState, batch updates.Batch) ([]story.StoredItem, storage.PeerState, bool, bool) {
	rows = append([]story.StoredItem(nil), rows...)
	rowsChanged, stateChanged := false, false

	indexOf := func(id int32) int {
		for i, row := range rows {
			if row.ID() == id {
				return i
			}
		}
		return -1
	}

	for _, u := range batch {
		switch u := u.(type) {
		case updates.Added:
			index := indexOf(u.Item.ID())
			switch {
			case index < 0:
				rows = append(rows, u.Item)
				rowsChanged = true
			case u.Item.IsPlaceholder() && !rows[index].IsPlaceholder():
			case u.Min && rows[index].Item != nil:
				rows[index] = story.FromItem(story.MergeMin(u.Item.Item, rows[index].Item))
				rowsChanged = true
			default:
				rows[index] = u.Item
				rowsChanged = true
			}
		case updates.Deleted:
			if index := indexOf(u.ID); index >= 0 {
				rows = append(rows[:index], rows[index+1:]...)
				rowsChanged = true
			}
		case updates.Read:
			if u.MaxID > readState.MaxReadID {
				readState.MaxReadID = u.MaxID
				stateChanged = true
			}
		}
	}
	return rows, readState, rowsChanged, stateChanged
}

// mergeRemoteRows decodes a peer's remote story set, keeping the stored copy
// when the server only sends a placeholder for an id already known locally.
func mergeRemoteRows(decoded []story.StoredItem, previous []story.StoredItem) []story.StoredItem {
	prev := make(map[int32]story.StoredItem, len(previous))
	for _, row := range previous {
		prev[row.ID()] = row
	}
	rows := make([]story.StoredItem, 0, len(decoded))
	for _, row := range decoded {
		if old, ok := prev[row.ID()]; ok && row.IsPlaceholder() {
			rows = append(rows, old)
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
