package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/pders01/storyfeed/internal/storage"
	"github.com/pders01/storyfeed/internal/story"
)

var (
	cacheArchive bool
	cacheLive    bool
	cacheFormat  string

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local story cache",
	}

	cacheShowCmd = &cobra.Command{
		Use:   "show <peer-id>",
		Short: "Print the cached list head or the live stories of a peer",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheShow,
	}
)

func init() {
	cacheShowCmd.Flags().BoolVar(&cacheArchive, "archive", false, "show the archive head instead of pinned stories")
	cacheShowCmd.Flags().BoolVar(&cacheLive, "live", false, "show the stored live stories and read state")
	cacheShowCmd.Flags().StringVarP(&cacheFormat, "format", "f", "text", "output format: text, toml or json")
	cacheCmd.AddCommand(cacheShowCmd)
}

type cacheExport struct {
	Peer       int64        `json:"peer" toml:"peer"`
	Kind       string       `json:"kind" toml:"kind"`
	TotalCount int          `json:"total_count,omitempty" toml:"total_count,omitempty"`
	MaxReadID  int32        `json:"max_read_id,omitempty" toml:"max_read_id,omitempty"`
	PinnedIDs  []int32      `json:"pinned_ids,omitempty" toml:"pinned_ids,omitempty"`
	Items      []cachedItem `json:"items" toml:"items"`
}

type cachedItem struct {
	ID          int32    `json:"id" toml:"id"`
	Timestamp   int32    `json:"timestamp" toml:"timestamp"`
	Expires     int32    `json:"expires" toml:"expires"`
	Placeholder bool     `json:"placeholder,omitempty" toml:"placeholder,omitempty"`
	Media       string   `json:"media,omitempty" toml:"media,omitempty"`
	Text        string   `json:"text,omitempty" toml:"text,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty" toml:"hashtags,omitempty"`
}

func exportRow(row story.StoredItem) cachedItem {
	item := cachedItem{
		ID:          row.ID(),
		Timestamp:   row.Timestamp(),
		Expires:     row.ExpirationTimestamp(),
		Placeholder: row.IsPlaceholder(),
	}
	if row.Item != nil {
		if row.Item.Media != nil {
			item.Media = string(row.Item.Media.Kind)
		}
		item.Text = row.Item.Text
		item.Hashtags = row.Item.Hashtags()
	}
	return item
}

func readCache(store *storage.Store, peer story.PeerID) (*cacheExport, error) {
	export := &cacheExport{Peer: int64(peer), Items: []cachedItem{}}
	err := store.View(func(tx *storage.Tx) error {
		if cacheLive {
			export.Kind = "live"
			rows, err := tx.StoryItems(peer)
			if err != nil {
				return err
			}
			state, _, err := tx.PeerState(peer)
			if err != nil {
				return err
			}
			export.MaxReadID = state.MaxReadID
			for _, row := range rows {
				export.Items = append(export.Items, exportRow(row))
			}
			return nil
		}

		export.Kind = "pinned"
		if cacheArchive {
			export.Kind = "archive"
		}
		head, err := tx.CacheHead(peer, cacheArchive)
		if err != nil {
			return err
		}
		if head == nil {
			return fmt.Errorf("no cached %s stories for peer %d", export.Kind, peer)
		}
		export.TotalCount = head.TotalCount
		export.PinnedIDs = head.PinnedIDs
		for _, row := range head.Items {
			export.Items = append(export.Items, exportRow(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return export, nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	peer, err := parsePeerID(args[0])
	if err != nil {
		return err
	}
	e, err := openEnv("cache")
	if err != nil {
		return err
	}
	defer e.Close()

	export, err := readCache(e.store, peer)
	if err != nil {
		return err
	}
	return writeCache(cmd.OutOrStdout(), export, cacheFormat)
}

func writeCache(w io.Writer, export *cacheExport, format string) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(export)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(export)
	case "text", "":
		header := fmt.Sprintf("%s stories of peer %d", export.Kind, export.Peer)
		fmt.Fprintln(w, headerStyle.Render(header))
		if export.TotalCount > 0 {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d cached of %d", len(export.Items), export.TotalCount)))
		}
		pinned := make(map[int32]bool, len(export.PinnedIDs))
		for _, id := range export.PinnedIDs {
			pinned[id] = true
		}
		now := time.Now()
		for _, item := range export.Items {
			line := fmt.Sprintf("  %d", item.ID)
			if pinned[item.ID] {
				line = pinnedStyle.Render("▲ ") + fmt.Sprintf("%d", item.ID)
			}
			switch {
			case item.Placeholder:
				line += " " + mutedStyle.Render("(not loaded)")
			case item.Media != "":
				line += " " + mutedStyle.Render(item.Media)
			}
			if caption := firstLine(item.Text); caption != "" {
				line += " " + truncateEnd(caption, captionWidth)
			}
			if export.MaxReadID > 0 && item.ID > export.MaxReadID {
				line = unseenStyle.Render(line)
			}
			fmt.Fprintln(w, line+" "+timeStyle.Render(formatAge(now, item.Timestamp)))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, toml or json)", format)
	}
}
