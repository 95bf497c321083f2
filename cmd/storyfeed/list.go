package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/spf13/cobra"

	"github.com/pders01/storyfeed/internal/stories"
	"github.com/pders01/storyfeed/internal/story"
)

var (
	listArchive bool
	listPages   int
	listTimeout time.Duration

	listCmd = &cobra.Command{
		Use:   "list <peer-id>",
		Short: "Show the pinned stories or the archive of a peer",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}
)

func init() {
	listCmd.Flags().BoolVar(&listArchive, "archive", false, "list the archive instead of pinned stories")
	listCmd.Flags().IntVar(&listPages, "pages", 1, "number of pages to load")
	listCmd.Flags().DurationVar(&listTimeout, "timeout", 30*time.Second, "how long to wait for each page")
}

func runList(cmd *cobra.Command, args []string) error {
	peer, err := parsePeerID(args[0])
	if err != nil {
		return err
	}

	e, err := openEnv("list")
	if err != nil {
		return err
	}
	defer e.Close()

	list := stories.NewPeerStoryListContext(e.deps(), peer, listArchive, e.options("list"))
	defer list.Close()

	if err := loadPages(cmd.Context(), list, listPages, listTimeout); err != nil {
		return err
	}

	state := list.State()
	title := fmt.Sprintf("pinned stories of %s", peerLabel(peer, state.Peer))
	if listArchive {
		title = fmt.Sprintf("archive of %s", peerLabel(peer, state.Peer))
	}
	out := cmd.OutOrStdout()
	if !quiet {
		showBanner(out)
	}
	renderListState(out, title, state, time.Now())
	return nil
}

// pager is a story list that loads in pages.
type pager interface {
	LoadMore(onDone func())
	Subscribe(ch chan<- stories.ListState) (stories.ListState, event.Subscription)
}

// loadPages loads up to pages more pages and stops early once the list is
// exhausted. A page that keeps failing never arrives, so each wait is bounded.
func loadPages(ctx context.Context, list pager, pages int, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan stories.ListState, 8)
	state, sub := list.Subscribe(ch)
	defer sub.Unsubscribe()

	for page := 0; page < pages && !state.LoadMoreToken.IsExhausted(); page++ {
		token := state.LoadMoreToken
		list.LoadMore(nil)

		timer := time.NewTimer(timeout)
		for state.LoadMoreToken == token {
			select {
			case state = <-ch:
			case <-timer.C:
				return fmt.Errorf("no stories after %s, see the log for transport errors", timeout)
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		timer.Stop()
	}
	return nil
}

func parsePeerID(s string) (story.PeerID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	return story.PeerID(id), nil
}

func peerLabel(id story.PeerID, p *story.Peer) string {
	if p != nil && p.Name != "" {
		return fmt.Sprintf("%s (%d)", p.Name, id)
	}
	return strconv.FormatInt(int64(id), 10)
}
