package storage

import (
	"github.com/pders01/storyfeed/internal/story"
)

// Partition names one of the two global subscription lists.
type Partition string

const (
	PartitionActive Partition = "active"
	PartitionHidden Partition = "hidden"
)

func PartitionFor(hidden bool) Partition {
	if hidden {
		return PartitionHidden
	}
	return PartitionActive
}

type PeerState struct {
	MaxReadID int32 `json:"max_read_id"`
}

// SubscriptionCursor is the server-issued position of a subscription list.
// A nil *SubscriptionCursor means the list was never synced.
type SubscriptionCursor struct {
	OpaqueState string `json:"opaque_state"`
	RefreshID   string `json:"refresh_id"`
	HasMore     bool   `json:"has_more"`
}

type subscriptionsRecord struct {
	Cursor  *SubscriptionCursor `json:"cursor,omitempty"`
	PeerIDs []story.PeerID      `json:"peer_ids"`
}

// CacheHead is the persisted prefix of a peer's story list.
type CacheHead struct {
	Items      []story.StoredItem `json:"items"`
	PinnedIDs  []int32            `json:"pinned_ids"`
	TotalCount int                `json:"total_count"`
}

type StealthMode struct {
	ActiveUntil   *int32 `json:"active_until,omitempty"`
	CooldownUntil *int32 `json:"cooldown_until,omitempty"`
}

// Change lists what a committed transaction touched.
type Change struct {
	ItemPeers  []story.PeerID
	StatePeers []story.PeerID
	Partitions []Partition
	CacheHeads []story.PeerID
}

// TouchesPeer reports whether the items or read state of peer changed.
func (c Change) TouchesPeer(peer story.PeerID) bool {
	for _, p := range c.ItemPeers {
		if p == peer {
			return true
		}
	}
	for _, p := range c.StatePeers {
		if p == peer {
			return true
		}
	}
	return false
}

func (c Change) TouchesPartition(partition Partition) bool {
	for _, p := range c.Partitions {
		if p == partition {
			return true
		}
	}
	return false
}

func (c Change) empty() bool {
	return len(c.ItemPeers) == 0 && len(c.StatePeers) == 0 && len(c.Partitions) == 0 && len(c.CacheHeads) == 0
}
