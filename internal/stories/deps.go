// Package stories keeps locally observable story lists in sync with the
// remote service: the subscription partitions, per-peer story lists,
// search results and a peer's live expiring stories.
//
// Every context owns a serial queue. All of its state is touched only from
// that queue; network calls run on their own goroutines and hand results
// back to the queue. No error crosses a context's public API: failures are
// logged and the list simply does not advance.
package stories

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/event"

	"github.com/pders01/storyfeed/internal/debuglog"
	"github.com/pders01/storyfeed/internal/metrics"
	"github.com/pders01/storyfeed/internal/queue"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/transport"
	"github.com/pders01/storyfeed/internal/updates"
)

// Store is the transactional store the contexts read and write.
type Store interface {
	View(fn func(tx *storage.Tx) error) error
	Update(fn func(tx *storage.Tx) error) error
	Watch(ch chan<- storage.Change) event.Subscription
}

// Deps are the collaborators shared by all contexts.
type Deps struct {
	Store  Store
	Client transport.Client
	// Updates may be nil, in which case lists are never reconciled live.
	Updates       *updates.Hub
	AccountPeerID story.PeerID
}

const (
	DefaultRefreshInterval = 60 * time.Second
	DefaultPollInterval    = 60 * time.Second
	DefaultPageLimit       = 100
	DefaultCacheHeadLimit  = 100
)

// Options tune a context. Zero values fall back to the defaults above.
type Options struct {
	Clock mclock.Clock
	Wall  func() time.Time

	RefreshInterval  time.Duration
	PollInterval     time.Duration
	TimerGranularity time.Duration
	PageLimit        int
	CacheHeadLimit   int

	// DiscardCursorOnRefresh makes every subscription refresh start from
	// scratch instead of sending the stored state.
	DiscardCursorOnRefresh bool

	Logger  *debuglog.FieldLogger
	Metrics metrics.Recorder
}

func (o Options) withDefaults(contextName string) Options {
	if o.Clock == nil {
		o.Clock = mclock.System{}
	}
	if o.Wall == nil {
		o.Wall = time.Now
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.TimerGranularity <= 0 {
		o.TimerGranularity = queue.DefaultGranularity
	}
	if o.PageLimit <= 0 {
		o.PageLimit = DefaultPageLimit
	}
	if o.CacheHeadLimit <= 0 {
		o.CacheHeadLimit = DefaultCacheHeadLimit
	}
	if o.Logger == nil {
		o.Logger = debuglog.WithFields(map[string]interface{}{})
	}
	o.Logger = o.Logger.With("context", contextName)
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	return o
}

func (o Options) newTimer() *queue.Timer {
	return queue.NewTimer(o.Clock, o.Wall, o.TimerGranularity)
}

// upsertPeers decodes and stores the peer records of a response.
func upsertPeers(tx *storage.Tx, raw []transport.Peer) error {
	if len(raw) == 0 {
		return nil
	}
	peers := make([]story.Peer, 0, len(raw))
	for _, p := range raw {
		peers = append(peers, story.DecodePeer(p))
	}
	return tx.UpsertPeers(peers)
}

// decodeStories decodes a batch of remote stories of one peer against the
// rows already stored in tx. Undecodable entries are skipped.
func decodeStories(tx *storage.Tx, peer story.PeerID, raw []transport.Story, log *debuglog.FieldLogger) []story.StoredItem {
	out := make([]story.StoredItem, 0, len(raw))
	for _, r := range raw {
		item, ok := story.Decode(r, peer, tx.StoryItem)
		if !ok {
			log.Debugf("skipping story %d of peer %d (kind %q)", r.ID, peer, r.Kind)
			continue
		}
		out = append(out, item)
	}
	return out
}

// closedSubscription is handed out by contexts that were already closed.
func closedSubscription() event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error { return nil })
}
