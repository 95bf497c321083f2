package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"

	"github.com/pders01/storyfeed/internal/story"
)

var ErrNotFound = errors.New("not found")

var (
	itemsBucket         = []byte("story_items")
	peerStatesBucket    = []byte("peer_states")
	cacheHeadsBucket    = []byte("cache_heads")
	subscriptionsBucket = []byte("subscriptions")
	peersBucket         = []byte("peers")
	configBucket        = []byte("config")

	stealthModeKey = []byte("stealth_mode")
)

const peerCacheSize = 1024

// UpdateListener is notified with the story rows written by each committed
// transaction.
type UpdateListener interface {
	OnStoriesUpdated(peer story.PeerID, items []story.StoredItem)
}

type Store struct {
	db    *bolt.DB
	peers *lru.Cache

	changes event.FeedOf[Change]

	mu        sync.RWMutex
	listeners []UpdateListener
}

func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{itemsBucket, peerStatesBucket, cacheHeadsBucket, subscriptionsBucket, peersBucket, configBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	peers, err := lru.New(peerCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating peer cache: %w", err)
	}

	return &Store{db: db, peers: peers}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddListener registers l for story row writes.
func (s *Store) AddListener(l UpdateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Watch delivers a Change after every committed write transaction. The
// channel should be buffered; slow receivers delay writers.
func (s *Store) Watch(ch chan<- Change) event.Subscription {
	return s.changes.Subscribe(ch)
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, store: s})
	})
}

// Update runs fn in a serializable read-write transaction. Nothing fn wrote
// is visible, cached or announced unless it returns nil.
func (s *Store) Update(fn func(tx *Tx) error) error {
	var tx *Tx
	err := s.db.Update(func(btx *bolt.Tx) error {
		tx = &Tx{tx: btx, store: s, written: map[story.PeerID][]story.StoredItem{}}
		return fn(tx)
	})
	if err != nil {
		return err
	}

	for _, p := range tx.upserted {
		p := p
		s.peers.Add(p.ID, &p)
	}

	s.mu.RLock()
	listeners := append([]UpdateListener(nil), s.listeners...)
	s.mu.RUnlock()
	for peer, items := range tx.written {
		for _, l := range listeners {
			l.OnStoriesUpdated(peer, items)
		}
	}

	if !tx.change.empty() {
		s.changes.Send(tx.change)
	}
	return nil
}

// Tx exposes the typed tables inside a transaction.
type Tx struct {
	tx    *bolt.Tx
	store *Store

	change   Change
	written  map[story.PeerID][]story.StoredItem
	upserted []story.Peer
}

func peerKey(peer story.PeerID) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(peer))
	return key
}

func cacheHeadKey(peer story.PeerID, archived bool) []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint64(key, uint64(peer))
	if archived {
		key[8] = 1
	}
	return key
}

func (t *Tx) get(bucket, key []byte, v any) (bool, error) {
	data := t.tx.Bucket(bucket).Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", bucket, err)
	}
	return true, nil
}

func (t *Tx) put(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", bucket, err)
	}
	return t.tx.Bucket(bucket).Put(key, data)
}

// StoryItems returns the raw rows of a peer ordered by id.
func (t *Tx) StoryItems(peer story.PeerID) ([]story.StoredItem, error) {
	var items []story.StoredItem
	if _, err := t.get(itemsBucket, peerKey(peer), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ForEachStoryItems calls fn with the rows of every peer that has any.
func (t *Tx) ForEachStoryItems(fn func(peer story.PeerID, items []story.StoredItem) error) error {
	return t.tx.Bucket(itemsBucket).ForEach(func(k, v []byte) error {
		var items []story.StoredItem
		if err := json.Unmarshal(v, &items); err != nil {
			return fmt.Errorf("decoding %s: %w", itemsBucket, err)
		}
		if len(items) == 0 {
			return nil
		}
		return fn(story.PeerID(binary.BigEndian.Uint64(k)), items)
	})
}

// StoryItem looks up a single row.
func (t *Tx) StoryItem(peer story.PeerID, id int32) (story.StoredItem, bool) {
	items, err := t.StoryItems(peer)
	if err != nil {
		return story.StoredItem{}, false
	}
	for _, item := range items {
		if item.ID() == id {
			return item, true
		}
	}
	return story.StoredItem{}, false
}

// SetStoryItems replaces all rows of a peer.
func (t *Tx) SetStoryItems(peer story.PeerID, items []story.StoredItem) error {
	sorted := append([]story.StoredItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })
	if err := t.put(itemsBucket, peerKey(peer), sorted); err != nil {
		return err
	}
	t.written[peer] = sorted
	t.change.ItemPeers = appendPeer(t.change.ItemPeers, peer)
	return nil
}

func (t *Tx) PeerState(peer story.PeerID) (PeerState, bool, error) {
	var state PeerState
	ok, err := t.get(peerStatesBucket, peerKey(peer), &state)
	return state, ok, err
}

func (t *Tx) SetPeerState(peer story.PeerID, state PeerState) error {
	if err := t.put(peerStatesBucket, peerKey(peer), state); err != nil {
		return err
	}
	t.change.StatePeers = appendPeer(t.change.StatePeers, peer)
	return nil
}

func (t *Tx) CacheHead(peer story.PeerID, archived bool) (*CacheHead, error) {
	var head CacheHead
	ok, err := t.get(cacheHeadsBucket, cacheHeadKey(peer, archived), &head)
	if err != nil || !ok {
		return nil, err
	}
	return &head, nil
}

func (t *Tx) PutCacheHead(peer story.PeerID, archived bool, head CacheHead) error {
	if err := t.put(cacheHeadsBucket, cacheHeadKey(peer, archived), head); err != nil {
		return err
	}
	t.change.CacheHeads = appendPeer(t.change.CacheHeads, peer)
	return nil
}

// Subscriptions returns the cursor (nil if never synced) and ordered peers
// of a partition.
func (t *Tx) Subscriptions(partition Partition) (*SubscriptionCursor, []story.PeerID, error) {
	var rec subscriptionsRecord
	if _, err := t.get(subscriptionsBucket, []byte(partition), &rec); err != nil {
		return nil, nil, err
	}
	return rec.Cursor, rec.PeerIDs, nil
}

func (t *Tx) ReplaceSubscriptions(partition Partition, cursor *SubscriptionCursor, peers []story.PeerID) error {
	if err := t.put(subscriptionsBucket, []byte(partition), subscriptionsRecord{Cursor: cursor, PeerIDs: peers}); err != nil {
		return err
	}
	t.change.Partitions = append(t.change.Partitions, partition)
	return nil
}

// SetSubscriptionCursor updates the cursor and keeps the peer order.
func (t *Tx) SetSubscriptionCursor(partition Partition, cursor *SubscriptionCursor) error {
	_, peers, err := t.Subscriptions(partition)
	if err != nil {
		return err
	}
	return t.ReplaceSubscriptions(partition, cursor, peers)
}

func (t *Tx) SubscriptionsContain(partition Partition, peer story.PeerID) (bool, error) {
	_, peers, err := t.Subscriptions(partition)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if p == peer {
			return true, nil
		}
	}
	return false, nil
}

// Peer resolves a peer record, consulting the in-memory cache first. Only
// committed upserts fill the cache; a read snapshot may already be stale.
func (t *Tx) Peer(id story.PeerID) (*story.Peer, error) {
	for i := len(t.upserted) - 1; i >= 0; i-- {
		if t.upserted[i].ID == id {
			p := t.upserted[i]
			return &p, nil
		}
	}
	if v, ok := t.store.peers.Get(id); ok {
		return v.(*story.Peer), nil
	}
	var p story.Peer
	ok, err := t.get(peersBucket, peerKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *Tx) UpsertPeers(peers []story.Peer) error {
	for _, p := range peers {
		if err := t.put(peersBucket, peerKey(p.ID), p); err != nil {
			return err
		}
		t.upserted = append(t.upserted, p)
	}
	return nil
}

func (t *Tx) StealthMode() (StealthMode, error) {
	var mode StealthMode
	data := t.tx.Bucket(configBucket).Get(stealthModeKey)
	if data == nil {
		return mode, nil
	}
	if err := json.Unmarshal(data, &mode); err != nil {
		return mode, fmt.Errorf("decoding stealth mode: %w", err)
	}
	return mode, nil
}

func (t *Tx) SetStealthMode(mode StealthMode) error {
	return t.put(configBucket, stealthModeKey, mode)
}

func appendPeer(peers []story.PeerID, peer story.PeerID) []story.PeerID {
	for _, p := range peers {
		if p == peer {
			return peers
		}
	}
	return append(peers, peer)
}
