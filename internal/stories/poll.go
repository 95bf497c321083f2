package stories

import (
	"context"
	"errors"
	"fmt"

	"github.com/pders01/storyfeed/internal/debuglog"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
)

// PollPeerStories fetches the full live story set of peer and stores it,
// replacing the peer's rows and read state. Placeholders never replace a
// stored copy of the same story. A contact with live stories is appended to
// the subscription partition matching its hidden flag.
func PollPeerStories(ctx context.Context, deps Deps, peer story.PeerID) error {
	res, err := deps.Client.GetPeerStories(ctx, int64(peer))
	if err != nil {
		return fmt.Errorf("fetching stories of peer %d: %w", peer, err)
	}

	log := debuglog.WithFields(map[string]interface{}{"peer": peer})
	return deps.Store.Update(func(tx *storage.Tx) error {
		if err := upsertPeers(tx, res.Peers); err != nil {
			return err
		}

		previous, err := tx.StoryItems(peer)
		if err != nil {
			return err
		}
		rows := mergeRemoteRows(decodeStories(tx, peer, res.Stories.Stories, log), previous)
		if err := tx.SetStoryItems(peer, rows); err != nil {
			return err
		}

		var maxRead int32
		if res.Stories.MaxReadID != nil {
			maxRead = *res.Stories.MaxReadID
		}
		if err := tx.SetPeerState(peer, storage.PeerState{MaxReadID: maxRead}); err != nil {
			return err
		}

		p, err := tx.Peer(peer)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !p.IsContact || len(rows) == 0 {
			return nil
		}
		partition := storage.PartitionFor(p.StoriesHidden)
		cursor, peers, err := tx.Subscriptions(partition)
		if err != nil {
			return err
		}
		if containsPeer(peers, peer) {
			return nil
		}
		return tx.ReplaceSubscriptions(partition, cursor, append(peers, peer))
	})
}
