package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/storyfeed/internal/debuglog"
	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
	"github.com/pders01/storyfeed/internal/validation"
)

// Index is a bleve full-text index over the locally stored stories. It
// implements storage.UpdateListener; register it with Store.AddListener to
// keep it current.
type Index struct {
	idx bleve.Index
}

// NewIndex creates or opens the index at indexPath and indexes everything
// already in store. An empty path keeps the index in memory.
func NewIndex(store *storage.Store, indexPath string) (*Index, error) {
	var (
		idx bleve.Index
		err error
	)
	if indexPath == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(indexPath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("creating index directory: %w", mkErr)
		}
		idx, err = bleve.Open(indexPath)
		if err != nil {
			idx, err = bleve.New(indexPath, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	x := &Index{idx: idx}
	if err := x.reindexAll(store); err != nil {
		idx.Close()
		return nil, err
	}
	return x, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = true
	text.IncludeTermVectors = true

	hashtags := bleve.NewTextFieldMapping()
	hashtags.Analyzer = keyword.Name
	hashtags.Store = true

	peer := bleve.NewTextFieldMapping()
	peer.Analyzer = keyword.Name
	peer.Store = true

	timestamp := bleve.NewNumericFieldMapping()
	timestamp.Store = true

	dm.AddFieldMappingsAt("text", text)
	dm.AddFieldMappingsAt("hashtags", hashtags)
	dm.AddFieldMappingsAt("peer", peer)
	dm.AddFieldMappingsAt("timestamp", timestamp)

	im.DefaultMapping = dm
	return im
}

func (x *Index) reindexAll(store *storage.Store) error {
	batch := x.idx.NewBatch()
	err := store.View(func(tx *storage.Tx) error {
		return tx.ForEachStoryItems(func(peer story.PeerID, items []story.StoredItem) error {
			for _, row := range items {
				if row.Item == nil {
					continue
				}
				if err := batch.Index(docID(peer, row.Item.ID), storyDoc(peer, row.Item)); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("reindexing stories: %w", err)
	}
	return x.idx.Batch(batch)
}

// OnStoriesUpdated replaces the documents of peer with items. Placeholders
// carry no text and are not indexed.
func (x *Index) OnStoriesUpdated(peer story.PeerID, items []story.StoredItem) {
	batch := x.idx.NewBatch()
	keep := make(map[string]struct{}, len(items))
	for _, row := range items {
		if row.Item == nil {
			continue
		}
		id := docID(peer, row.Item.ID)
		keep[id] = struct{}{}
		_ = batch.Index(id, storyDoc(peer, row.Item))
	}

	existing, err := x.peerDocs(peer)
	if err != nil {
		debuglog.Errorf("search: listing documents of peer %d: %v", peer, err)
	}
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := x.idx.Batch(batch); err != nil {
		debuglog.Errorf("search: indexing peer %d: %v", peer, err)
	}
}

// peerDocs returns the ids of all documents of peer.
func (x *Index) peerDocs(peer story.PeerID) ([]string, error) {
	tq := bleve.NewTermQuery(strconv.FormatInt(int64(peer), 10))
	tq.SetField("peer")

	var ids []string
	from := 0
	size := 1000
	for {
		req := bleve.NewSearchRequestOptions(tq, size, from, false)
		req.Fields = []string{}
		res, err := x.idx.Search(req)
		if err != nil {
			return ids, err
		}
		for _, h := range res.Hits {
			ids = append(ids, h.ID)
		}
		if len(res.Hits) < size {
			return ids, nil
		}
		from += size
	}
}

// Search matches query against captions and hashtags. A query starting with
// '#' matches that hashtag exactly.
func (x *Index) Search(query string, limit int) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return []*Result{}, nil
	}

	var q bleveQuery.Query
	if strings.HasPrefix(query, "#") {
		tag, err := validation.NormalizeHashtag(query)
		if err != nil {
			return nil, err
		}
		tq := bleve.NewTermQuery(strings.ToLower(tag))
		tq.SetField("hashtags")
		q = tq
	} else {
		var qs []bleveQuery.Query
		for _, tok := range tokenize(query) {
			// hashtags^3
			qh := bleve.NewTermQuery(tok)
			qh.SetField("hashtags")
			qh.SetBoost(3.0)
			qs = append(qs, qh)
			// text^2
			qt := bleve.NewMatchQuery(tok)
			qt.SetField("text")
			qt.SetBoost(2.0)
			qs = append(qs, qt)
			qtp := bleve.NewPrefixQuery(tok)
			qtp.SetField("text")
			qtp.SetBoost(1.5)
			qs = append(qs, qtp)
		}
		if len(qs) == 0 {
			return []*Result{}, nil
		}
		q = bleve.NewDisjunctionQuery(qs...)
	}

	srch := bleve.NewSearchRequestOptions(q, limit, 0, false)
	srch.Fields = []string{"text", "hashtags", "timestamp"}
	srch.SortBy([]string{"-_score", "-timestamp"})
	res, err := x.idx.Search(srch)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, ok := parseDocID(h.ID)
		if !ok {
			continue
		}
		r := &Result{ID: id, Score: h.Score}
		if t, ok := h.Fields["text"].(string); ok {
			r.Text = t
		}
		if ts, ok := h.Fields["timestamp"].(float64); ok {
			r.Timestamp = int32(ts)
		}
		switch tags := h.Fields["hashtags"].(type) {
		case string:
			r.Hashtags = []string{tags}
		case []interface{}:
			for _, tag := range tags {
				if s, ok := tag.(string); ok {
					r.Hashtags = append(r.Hashtags, s)
				}
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// DocCount reports total documents in the index.
func (x *Index) DocCount() (int, error) {
	n, err := x.idx.DocCount()
	return int(n), err
}

func (x *Index) Close() error {
	return x.idx.Close()
}

func storyDoc(peer story.PeerID, item *story.Item) map[string]any {
	return map[string]any{
		"peer":      strconv.FormatInt(int64(peer), 10),
		"text":      item.Text,
		"hashtags":  item.Hashtags(),
		"timestamp": float64(item.Timestamp),
	}
}

func docID(peer story.PeerID, id int32) string {
	return fmt.Sprintf("%d:%d", peer, id)
}

func parseDocID(s string) (story.ID, bool) {
	peer, item, ok := strings.Cut(s, ":")
	if !ok {
		return story.ID{}, false
	}
	p, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return story.ID{}, false
	}
	i, err := strconv.ParseInt(item, 10, 32)
	if err != nil {
		return story.ID{}, false
	}
	return story.ID{Peer: story.PeerID(p), Item: int32(i)}, true
}
