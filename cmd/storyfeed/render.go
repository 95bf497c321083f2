package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/storyfeed/internal/search"
	"github.com/pders01/storyfeed/internal/stories"
	"github.com/pders01/storyfeed/internal/story"
)

var (
	primaryColor   = lipgloss.Color("#FF6B6B") // coral
	secondaryColor = lipgloss.Color("#4ECDC4") // teal
	accentColor    = lipgloss.Color("#95E1D3") // mint
	mutedColor     = lipgloss.Color("#94A3B8")
	unseenColor    = lipgloss.Color("#FFE66D")
	seenColor      = lipgloss.Color("#64748B")

	bannerColors = []lipgloss.Color{primaryColor, lipgloss.Color("#FFA86B"), accentColor, secondaryColor}
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	pinnedStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	unseenStyle = lipgloss.NewStyle().
			Foreground(unseenColor).
			Bold(true)

	seenStyle = lipgloss.NewStyle().
			Foreground(seenColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	timeStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Faint(true)

	tagStyle = lipgloss.NewStyle().
			Foreground(accentColor)
)

const captionWidth = 60

func showBanner(w io.Writer) {
	name := "storyfeed"
	var letters []string
	for i, r := range name {
		style := lipgloss.NewStyle().Foreground(bannerColors[i%len(bannerColors)]).Bold(true)
		letters = append(letters, style.Render(string(r)))
	}
	title := lipgloss.JoinHorizontal(lipgloss.Top, letters...)

	banner := lipgloss.JoinVertical(lipgloss.Center,
		title,
		mutedStyle.Italic(true).Render("story sync "+Version),
	)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 2)
	fmt.Fprintln(w, box.Render(banner))
}

func renderListState(w io.Writer, title string, state stories.ListState, now time.Time) {
	fmt.Fprintln(w, headerStyle.Render(title))

	status := fmt.Sprintf("%d of %d stories", len(state.Items), state.TotalCount)
	if state.IsCachedSnapshot {
		status += ", cached"
	}
	if !state.LoadMoreToken.IsExhausted() {
		status += ", more after " + state.LoadMoreToken.String()
	}
	fmt.Fprintln(w, mutedStyle.Render(status))

	for _, item := range state.Items {
		fmt.Fprintln(w, renderItem(item.ID, item.Item, state.IsPinned(item.ID.Item), now))
	}
}

func renderItem(id story.ID, item *story.Item, pinned bool, now time.Time) string {
	var b strings.Builder
	if pinned {
		b.WriteString(pinnedStyle.Render("▲ "))
	} else {
		b.WriteString("  ")
	}
	fmt.Fprintf(&b, "%d:%d", id.Peer, id.Item)
	if item == nil {
		return b.String()
	}
	if item.Media != nil {
		b.WriteString(" " + mutedStyle.Render(string(item.Media.Kind)))
	}
	if caption := firstLine(item.Text); caption != "" {
		b.WriteString(" " + truncateEnd(caption, captionWidth))
	}
	for _, tag := range item.Hashtags() {
		b.WriteString(" " + tagStyle.Render("#"+tag))
	}
	b.WriteString(" " + timeStyle.Render(formatAge(now, item.Timestamp)))
	return b.String()
}

func renderExpiring(w io.Writer, peer story.PeerID, state stories.ExpiringFeedState, now time.Time) {
	header := fmt.Sprintf("peer %d", peer)
	if state.HasUnseenCloseFriends() {
		header += " ★"
	}
	fmt.Fprintln(w, headerStyle.Render(header))
	if state.IsLoading {
		fmt.Fprintln(w, mutedStyle.Render("loading"))
		return
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d live, %d unseen", len(state.Items), state.UnseenCount())))

	for _, row := range state.Items {
		style := seenStyle
		if row.ID() > state.MaxReadID {
			style = unseenStyle
		}
		line := fmt.Sprintf("  %d", row.ID())
		if row.IsPlaceholder() {
			line += " (not loaded)"
		} else if caption := firstLine(row.Item.Text); caption != "" {
			line += " " + truncateEnd(caption, captionWidth)
		}
		fmt.Fprintln(w, style.Render(line)+" "+timeStyle.Render("expires "+formatUntil(now, row.ExpirationTimestamp())))
	}
}

func renderSubscriptions(w io.Writer, state stories.SubscriptionState) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s subscriptions", state.Partition)))
	status := fmt.Sprintf("%d peers", len(state.PeerIDs))
	if state.Cursor != nil && state.Cursor.HasMore {
		status += ", more available"
	}
	fmt.Fprintln(w, mutedStyle.Render(status))
	for _, peer := range state.PeerIDs {
		fmt.Fprintf(w, "  %d\n", peer)
	}
}

func renderSearchResults(w io.Writer, query string, results []*search.Result, now time.Time) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d local results for %q", len(results), query)))
	for _, r := range results {
		line := fmt.Sprintf("  %d:%d %s", r.ID.Peer, r.ID.Item, mutedStyle.Render(fmt.Sprintf("%.2f", r.Score)))
		if len(r.Matches) > 0 {
			line += " " + truncateEnd(firstLine(r.Matches[0].Text), captionWidth)
		} else if caption := firstLine(r.Text); caption != "" {
			line += " " + truncateEnd(caption, captionWidth)
		}
		for _, tag := range r.Hashtags {
			line += " " + tagStyle.Render("#"+tag)
		}
		line += " " + timeStyle.Render(formatAge(now, r.Timestamp))
		fmt.Fprintln(w, line)
	}
}

func formatAge(now time.Time, ts int32) string {
	d := now.Sub(time.Unix(int64(ts), 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatUntil(now time.Time, ts int32) string {
	d := time.Unix(int64(ts), 0).Sub(now)
	switch {
	case d <= 0:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("in %dh", int(d.Hours()))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// truncateEnd shortens s to at most limit runes, ending in an ellipsis when
// it had to cut.
func truncateEnd(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
