package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
)

// Scanner searches the stored stories directly without an index. It serves
// small stores and setups that disable the bleve index.
type Scanner struct {
	store *storage.Store
	now   func() time.Time
}

// NewScanner creates a new store scanner
func NewScanner(store *storage.Store) *Scanner {
	return &Scanner{store: store, now: time.Now}
}

// Search scores every stored story against query.
func (s *Scanner) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	var results []*Result
	now := int32(s.now().Unix())
	err := s.store.View(func(tx *storage.Tx) error {
		return tx.ForEachStoryItems(func(peer story.PeerID, items []story.StoredItem) error {
			for _, row := range items {
				if row.Item == nil {
					continue
				}
				if result := s.searchItem(peer, row.Item, terms, now); result != nil {
					results = append(results, result)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Sort by relevance score (highest first)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Timestamp > results[j].Timestamp
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DocCount reports how many stored stories carry content.
func (s *Scanner) DocCount() (int, error) {
	n := 0
	err := s.store.View(func(tx *storage.Tx) error {
		return tx.ForEachStoryItems(func(_ story.PeerID, items []story.StoredItem) error {
			for _, row := range items {
				if row.Item != nil {
					n++
				}
			}
			return nil
		})
	})
	return n, err
}

func (s *Scanner) searchItem(peer story.PeerID, item *story.Item, terms []string, now int32) *Result {
	var matches []Match
	var totalScore float64

	hashtags := item.Hashtags()
	if tagScore := scoreField(strings.Join(hashtags, " "), terms, 3.0); tagScore > 0 {
		matches = append(matches, Match{
			Field:  "hashtags",
			Text:   "#" + strings.Join(hashtags, " #"),
			Weight: tagScore,
		})
		totalScore += tagScore
	}

	if textScore := scoreField(item.Text, terms, 2.0); textScore > 0 {
		matches = append(matches, Match{
			Field:  "text",
			Text:   findBestSnippet(item.Text, terms, 120),
			Weight: textScore,
		})
		totalScore += textScore
	}

	if totalScore == 0 {
		return nil
	}
	totalScore *= 1.0 + recencyBoost(item.Timestamp, now)

	return &Result{
		ID:        story.ID{Peer: peer, Item: item.ID},
		Text:      item.Text,
		Hashtags:  hashtags,
		Timestamp: item.Timestamp,
		Score:     totalScore,
		Matches:   matches,
	}
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		// Exact phrase match (highest score)
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	// Boost score if multiple terms match
	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// findBestSnippet finds the most relevant text snippet containing search terms
func findBestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	windowSize := maxLength / 8
	if windowSize >= len(words) {
		return truncate(text, maxLength)
	}

	bestScore := 0
	bestStart := 0
	for i := 0; i <= len(words)-windowSize; i++ {
		window := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(window, term) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	return truncate(strings.Join(words[bestStart:bestStart+windowSize], " "), maxLength)
}

// tokenize breaks text into lower-cased searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}

// recencyBoost gives stories from the last day up to a 10% bonus.
func recencyBoost(timestamp, now int32) float64 {
	age := now - timestamp
	if age < 0 {
		age = 0
	}
	const day = 24 * 60 * 60
	if age >= day {
		return 0
	}
	return 0.1 * float64(day-age) / day
}
