// Package story holds the decoded story model shared by the store, the
// push-update stream and the sync contexts.
package story

import (
	"fmt"
	"strings"
)

type PeerID int64

type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

type Peer struct {
	ID            PeerID   `json:"id"`
	Kind          PeerKind `json:"kind"`
	Name          string   `json:"name"`
	IsContact     bool     `json:"is_contact"`
	StoriesHidden bool     `json:"stories_hidden"`
}

// IsBroadcast reports whether the peer is a channel-like entity whose
// reactions are tallied per reaction.
func (p *Peer) IsBroadcast() bool {
	return p != nil && p.Kind == PeerChannel
}

// ID addresses a story globally.
type ID struct {
	Peer PeerID `json:"peer"`
	Item int32  `json:"item"`
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Peer, id.Item)
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

type Media struct {
	Kind     MediaKind `json:"kind"`
	ID       int64     `json:"id"`
	URL      string    `json:"url,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Duration float64   `json:"duration,omitempty"`
}

// MediaArea is a spatial hotspot on top of the story media.
type MediaArea struct {
	Kind     string   `json:"kind"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Rotation float64  `json:"rotation,omitempty"`
	Lat      float64  `json:"lat,omitempty"`
	Long     float64  `json:"long,omitempty"`
	Title    string   `json:"title,omitempty"`
	Reaction Reaction `json:"reaction,omitempty"`
	URL      string   `json:"url,omitempty"`
}

type Entity struct {
	Kind   string `json:"kind"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// Reaction is an emoji or a "custom:<id>" reference.
type Reaction string

type ReactionCount struct {
	Reaction    Reaction `json:"reaction"`
	Count       int      `json:"count"`
	ChosenOrder *int     `json:"chosen_order,omitempty"`
}

type Views struct {
	SeenCount    int             `json:"seen_count"`
	ReactedCount int             `json:"reacted_count"`
	ForwardCount int             `json:"forward_count"`
	SeenPeerIDs  []PeerID        `json:"seen_peer_ids,omitempty"`
	Reactions    []ReactionCount `json:"reactions,omitempty"`
	HasList      bool            `json:"has_list"`
}

type PrivacyBase string

const (
	PrivacyEveryone     PrivacyBase = "everyone"
	PrivacyContacts     PrivacyBase = "contacts"
	PrivacyCloseFriends PrivacyBase = "close_friends"
	PrivacyNobody       PrivacyBase = "nobody"
)

type Privacy struct {
	Base                     PrivacyBase `json:"base"`
	AdditionallyIncludePeers []PeerID    `json:"additionally_include_peers,omitempty"`
}

// ForwardInfo is either Known (Peer set) or Unknown (Name set).
type ForwardInfo struct {
	Peer       *PeerID `json:"peer,omitempty"`
	OriginID   int32   `json:"origin_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	IsModified bool    `json:"is_modified"`
}

func (f ForwardInfo) IsKnown() bool { return f.Peer != nil }

// Item is a fully decoded story. Items are treated as immutable once built;
// updates replace the pointer.
type Item struct {
	ID                   int32        `json:"id"`
	Timestamp            int32        `json:"timestamp"`
	ExpirationTimestamp  int32        `json:"expiration_timestamp"`
	Media                *Media       `json:"media,omitempty"`
	AlternativeMedia     *Media       `json:"alternative_media,omitempty"`
	MediaAreas           []MediaArea  `json:"media_areas,omitempty"`
	Text                 string       `json:"text,omitempty"`
	Entities             []Entity     `json:"entities,omitempty"`
	Views                *Views       `json:"views,omitempty"`
	Privacy              *Privacy     `json:"privacy,omitempty"`
	IsPinned             bool         `json:"is_pinned"`
	IsExpired            bool         `json:"is_expired"`
	IsPublic             bool         `json:"is_public"`
	IsPending            bool         `json:"is_pending"`
	IsCloseFriends       bool         `json:"is_close_friends"`
	IsContacts           bool         `json:"is_contacts"`
	IsSelectedContacts   bool         `json:"is_selected_contacts"`
	IsForwardingDisabled bool         `json:"is_forwarding_disabled"`
	IsEdited             bool         `json:"is_edited"`
	IsMy                 bool         `json:"is_my"`
	MyReaction           *Reaction    `json:"my_reaction,omitempty"`
	ForwardInfo          *ForwardInfo `json:"forward_info,omitempty"`
	AuthorID             *PeerID      `json:"author_id,omitempty"`
}

// HasMedia reports whether the item can be displayed.
func (i *Item) HasMedia() bool {
	return i != nil && i.Media != nil
}

// Hashtags returns the lower-cased hashtags of the caption, without '#'.
// Entity offsets count runes.
func (i *Item) Hashtags() []string {
	if i == nil {
		return nil
	}
	runes := []rune(i.Text)
	var tags []string
	for _, e := range i.Entities {
		if e.Kind != "hashtag" || e.Offset < 0 || e.Length < 2 || e.Offset+e.Length > len(runes) {
			continue
		}
		tag := strings.TrimPrefix(string(runes[e.Offset:e.Offset+e.Length]), "#")
		tags = append(tags, strings.ToLower(tag))
	}
	return tags
}

// Placeholder stands in for a story whose content was not delivered.
type Placeholder struct {
	ID                  int32 `json:"id"`
	Timestamp           int32 `json:"timestamp"`
	ExpirationTimestamp int32 `json:"expiration_timestamp"`
}

// StoredItem is exactly one of Item or Placeholder.
type StoredItem struct {
	Item        *Item        `json:"item,omitempty"`
	Placeholder *Placeholder `json:"placeholder,omitempty"`
}

func FromItem(item *Item) StoredItem { return StoredItem{Item: item} }

func FromPlaceholder(p Placeholder) StoredItem { return StoredItem{Placeholder: &p} }

func (s StoredItem) IsPlaceholder() bool { return s.Item == nil && s.Placeholder != nil }

func (s StoredItem) ID() int32 {
	if s.Item != nil {
		return s.Item.ID
	}
	if s.Placeholder != nil {
		return s.Placeholder.ID
	}
	return 0
}

func (s StoredItem) Timestamp() int32 {
	if s.Item != nil {
		return s.Item.Timestamp
	}
	if s.Placeholder != nil {
		return s.Placeholder.Timestamp
	}
	return 0
}

func (s StoredItem) ExpirationTimestamp() int32 {
	if s.Item != nil {
		return s.Item.ExpirationTimestamp
	}
	if s.Placeholder != nil {
		return s.Placeholder.ExpirationTimestamp
	}
	return 0
}

// IsCloseFriends is false for placeholders: their audience is unknown.
func (s StoredItem) IsCloseFriends() bool {
	return s.Item != nil && s.Item.IsCloseFriends
}
