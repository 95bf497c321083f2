package updates

import (
	"encoding/json"
	"fmt"

	"github.com/pders01/storyfeed/internal/debuglog"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
)

const (
	TypeAdded             = "added"
	TypeDeleted           = "deleted"
	TypeRead              = "read"
	TypePinnedListChanged = "pinned_list_changed"
	TypeMyReactionChanged = "my_reaction_changed"
)

type envelope struct {
	Type     string           `json:"type"`
	PeerID   int64            `json:"peer_id"`
	Story    *transport.Story `json:"story,omitempty"`
	ID       int32            `json:"id,omitempty"`
	MaxID    int32            `json:"max_id,omitempty"`
	IDs      []int32          `json:"ids,omitempty"`
	Reaction *string          `json:"reaction,omitempty"`
}

// DecodeBatch parses a JSON array of update envelopes. Envelopes of unknown
// type are skipped. An added story whose remote kind is deleted becomes a
// Deleted update; stories of unknown kind are skipped.
func DecodeBatch(data []byte) (Batch, error) {
	var envelopes []envelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("decoding update batch: %w", err)
	}

	batch := make(Batch, 0, len(envelopes))
	for _, env := range envelopes {
		peer := story.PeerID(env.PeerID)
		switch env.Type {
		case TypeAdded:
			if env.Story == nil {
				debuglog.Debugf("skipping added update without story for peer %d", peer)
				continue
			}
			if env.Story.Kind == transport.KindDeleted {
				batch = append(batch, Deleted{Peer: peer, ID: env.Story.ID})
				continue
			}
			item, ok := story.Decode(*env.Story, peer, nil)
			if !ok {
				debuglog.Debugf("skipping story %d of unknown kind %q for peer %d", env.Story.ID, env.Story.Kind, peer)
				continue
			}
			batch = append(batch, Added{Peer: peer, Item: item, Min: env.Story.Min})
		case TypeDeleted:
			batch = append(batch, Deleted{Peer: peer, ID: env.ID})
		case TypeRead:
			batch = append(batch, Read{Peer: peer, MaxID: env.MaxID})
		case TypePinnedListChanged:
			batch = append(batch, PinnedListChanged{Peer: peer, IDs: env.IDs})
		case TypeMyReactionChanged:
			var reaction *story.Reaction
			if env.Reaction != nil {
				r := story.Reaction(*env.Reaction)
				reaction = &r
			}
			batch = append(batch, MyReactionChanged{Peer: peer, ID: env.ID, Reaction: reaction})
		default:
			debuglog.Debugf("skipping update of unknown type %q", env.Type)
		}
	}
	return batch, nil
}
