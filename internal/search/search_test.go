package search

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
)

func taggedItem(id int32, text string, tags ...string) story.StoredItem {
	item := &story.Item{ID: id, Timestamp: id * 100, Text: text}
	for _, tag := range tags {
		offset := len([]rune(item.Text))
		item.Text += " #" + tag
		item.Entities = append(item.Entities, story.Entity{Kind: "hashtag", Offset: offset + 1, Length: len([]rune(tag)) + 1})
	}
	return story.FromItem(item)
}

func seededStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		if err := tx.SetStoryItems(1, []story.StoredItem{
			taggedItem(1, "Sunset over the harbour", "Travel"),
			taggedItem(2, "Golang meetup slides", "go", "meetup"),
			story.FromPlaceholder(story.Placeholder{ID: 3}),
		}); err != nil {
			return err
		}
		return tx.SetStoryItems(2, []story.StoredItem{taggedItem(7, "Harbour festival tonight")})
	}))
	return store
}

func TestSearchMinLength(t *testing.T) {
	store := seededStore(t)
	idx, err := NewIndex(store, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	for _, s := range []Searcher{NewScanner(store), idx} {
		for _, query := range []string{"", "a", "   "} {
			results, err := s.Search(query, 10)
			assert.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results, "short queries should return empty results")
		}
	}
}

func TestIndex_SearchesStoredStories(t *testing.T) {
	store := seededStore(t)
	idxPath := filepath.Join(t.TempDir(), "index", "stories.bleve")
	idx, err := NewIndex(store, idxPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	fi, err := os.Stat(idxPath)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "placeholders are not indexed")

	res, err := idx.Search("harbour", 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, story.ID{Peer: 2, Item: 7}, res[0].ID)

	res, err = idx.Search("#travel", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, story.ID{Peer: 1, Item: 1}, res[0].ID)
	assert.Equal(t, []string{"travel"}, res[0].Hashtags)

	res, err = idx.Search("#meetup", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.ElementsMatch(t, []string{"go", "meetup"}, res[0].Hashtags)
}

func TestIndex_FollowsStoreWrites(t *testing.T) {
	store := seededStore(t)
	idx, err := NewIndex(store, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	store.AddListener(idx)

	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		return tx.SetStoryItems(1, []story.StoredItem{taggedItem(4, "Harbour at dawn", "travel")})
	}))

	res, err := idx.Search("#travel", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, story.ID{Peer: 1, Item: 4}, res[0].ID)

	res, err = idx.Search("golang", 10)
	require.NoError(t, err)
	assert.Empty(t, res, "rows dropped from the peer are removed from the index")

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestScanner_Search(t *testing.T) {
	store := seededStore(t)
	scanner := NewScanner(store)
	scanner.now = func() time.Time { return time.Unix(800, 0) }

	res, err := scanner.Search("harbour", 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, story.ID{Peer: 2, Item: 7}, res[0].ID, "recent stories score higher")
	require.NotEmpty(t, res[0].Matches)
	assert.Equal(t, "text", res[0].Matches[0].Field)

	res, err = scanner.Search("meetup", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "hashtags", res[0].Matches[0].Field)

	n, err := scanner.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "wörld", "42"}, tokenize("Hello, Wörld! a 42"))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
	assert.Equal(t, "abc", truncate("abc", 4))
}
