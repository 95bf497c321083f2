package search

import "github.com/pders01/storyfeed/internal/story"

// Searcher defines the minimal search API used by the CLI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by searchers that can report document counts.
type DebugStatser interface {
	DocCount() (int, error)
}

// Result is one matching story.
type Result struct {
	ID        story.ID
	Text      string
	Hashtags  []string
	Timestamp int32
	Score     float64
	Matches   []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "text", "hashtags"
	Text   string
	Weight float64
}
