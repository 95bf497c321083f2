package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/storyfeed/internal/stories"
	"github.com/pders01/storyfeed/internal/story"
)

var (
	searchLocal   bool
	searchLimit   int
	searchPages   int
	searchTimeout time.Duration
	searchArea    string
	searchLat     float64
	searchLong    float64

	searchCmd = &cobra.Command{
		Use:   "search [#hashtag | words]",
		Short: "Search stories by hashtag or location",
		Long: `Search remote stories by hashtag, or by location with --area geo|venue
and --lat/--long. With --local the stories already in the cache are searched
instead, by hashtag or caption words.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSearch,
	}
)

func init() {
	searchCmd.Flags().BoolVar(&searchLocal, "local", false, "search the local cache only")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum local results")
	searchCmd.Flags().IntVar(&searchPages, "pages", 1, "number of remote pages to load")
	searchCmd.Flags().DurationVar(&searchTimeout, "timeout", 30*time.Second, "how long to wait for each page")
	searchCmd.Flags().StringVar(&searchArea, "area", "", "search by media area kind (geo or venue)")
	searchCmd.Flags().Float64Var(&searchLat, "lat", 0, "latitude for --area")
	searchCmd.Flags().Float64Var(&searchLong, "long", 0, "longitude for --area")
}

func runSearch(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = strings.TrimSpace(args[0])
	}

	e, err := openEnv("search")
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	if searchLocal {
		if text == "" {
			return errors.New("local search needs a query")
		}
		searcher, closeSearcher, err := e.searcher()
		if err != nil {
			return err
		}
		defer closeSearcher()

		results, err := searcher.Search(text, searchLimit)
		if err != nil {
			return fmt.Errorf("searching cache: %w", err)
		}
		renderSearchResults(out, text, results, time.Now())
		return nil
	}

	query := stories.SearchQuery{Hashtag: text}
	if searchArea != "" {
		query = stories.SearchQuery{Area: &story.MediaArea{Kind: searchArea, Lat: searchLat, Long: searchLong}}
		if text != "" {
			query.Hashtag = text
		}
	}
	list, err := stories.NewSearchStoryListContext(e.deps(), query, e.options("search"))
	if err != nil {
		return err
	}
	defer list.Close()

	if err := loadPages(cmd.Context(), list, searchPages, searchTimeout); err != nil {
		return err
	}
	renderListState(out, "search "+list.Query().String(), list.State(), time.Now())
	return nil
}
