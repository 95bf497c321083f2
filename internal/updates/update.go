// Package updates carries server-pushed story changes to the story lists.
package updates

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/pders01/storyfeed/internal/story"
)

// Update is one of Added, Deleted, Read, PinnedListChanged or
// MyReactionChanged.
type Update interface {
	PeerID() story.PeerID
	isUpdate()
}

// Added announces a new or changed story. Min stories were sent without
// views, privacy and own reaction; consumers fill those from their local copy.
type Added struct {
	Peer story.PeerID
	Item story.StoredItem
	Min  bool
}

type Deleted struct {
	Peer story.PeerID
	ID   int32
}

// Read moves the peer's read marker up to MaxID.
type Read struct {
	Peer  story.PeerID
	MaxID int32
}

type PinnedListChanged struct {
	Peer story.PeerID
	IDs  []int32
}

// MyReactionChanged carries the account's new reaction; nil clears it.
type MyReactionChanged struct {
	Peer     story.PeerID
	ID       int32
	Reaction *story.Reaction
}

func (u Added) PeerID() story.PeerID             { return u.Peer }
func (u Deleted) PeerID() story.PeerID           { return u.Peer }
func (u Read) PeerID() story.PeerID              { return u.Peer }
func (u PinnedListChanged) PeerID() story.PeerID { return u.Peer }
func (u MyReactionChanged) PeerID() story.PeerID { return u.Peer }

func (Added) isUpdate()             {}
func (Deleted) isUpdate()           {}
func (Read) isUpdate()              {}
func (PinnedListChanged) isUpdate() {}
func (MyReactionChanged) isUpdate() {}

// Batch is applied as a unit, in order.
type Batch []Update

// ForPeer returns the updates of b that concern peer.
func (b Batch) ForPeer(peer story.PeerID) Batch {
	var out Batch
	for _, u := range b {
		if u.PeerID() == peer {
			out = append(out, u)
		}
	}
	return out
}

// Hub fans batches out to every subscriber.
type Hub struct {
	feed event.FeedOf[Batch]
}

func NewHub() *Hub {
	return &Hub{}
}

// Publish delivers b to all current subscribers and returns how many
// received it. It blocks until each subscriber channel accepts the batch.
func (h *Hub) Publish(b Batch) int {
	if len(b) == 0 {
		return 0
	}
	return h.feed.Send(b)
}

func (h *Hub) Subscribe(ch chan<- Batch) event.Subscription {
	return h.feed.Subscribe(ch)
}
