package transport

// Story kinds as sent by the server.
const (
	KindItem    = "item"
	KindSkipped = "skipped"
	KindDeleted = "deleted"
)

// Story is a single remote story entry in any of its three wire forms.
type Story struct {
	Kind       string `json:"kind"`
	ID         int32  `json:"id"`
	Date       int32  `json:"date"`
	ExpireDate int32  `json:"expire_date"`

	Media    *Media    `json:"media,omitempty"`
	AltMedia *Media    `json:"alt_media,omitempty"`
	Areas    []Area    `json:"areas,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	Entities []Entity  `json:"entities,omitempty"`
	Views    *Views    `json:"views,omitempty"`
	Privacy  []Privacy `json:"privacy,omitempty"`
	FwdFrom  *Forward  `json:"fwd_from,omitempty"`
	FromID   *int64    `json:"from_id,omitempty"`
	Reaction *string   `json:"sent_reaction,omitempty"`

	Pinned           bool `json:"pinned,omitempty"`
	Public           bool `json:"public,omitempty"`
	CloseFriends     bool `json:"close_friends,omitempty"`
	Contacts         bool `json:"contacts,omitempty"`
	SelectedContacts bool `json:"selected_contacts,omitempty"`
	NoForwards       bool `json:"noforwards,omitempty"`
	Edited           bool `json:"edited,omitempty"`
	Out              bool `json:"out,omitempty"`

	// Min marks a story sent without views and privacy; those are kept from
	// the locally stored copy.
	Min bool `json:"min,omitempty"`
}

type Media struct {
	Type     string  `json:"type"` // photo, video, unsupported
	ID       int64   `json:"id"`
	URL      string  `json:"url,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
	Width    int     `json:"w,omitempty"`
	Height   int     `json:"h,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type Area struct {
	Type     string  `json:"type"` // geo, venue, reaction, link
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"w"`
	Height   float64 `json:"h"`
	Rotation float64 `json:"rotation,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Long     float64 `json:"long,omitempty"`
	Title    string  `json:"title,omitempty"`
	Reaction string  `json:"reaction,omitempty"`
	URL      string  `json:"url,omitempty"`
}

type Entity struct {
	Type   string `json:"type"` // hashtag, mention, url, bold, custom_emoji, ...
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

type Views struct {
	ViewsCount     int             `json:"views_count"`
	ReactionsCount int             `json:"reactions_count"`
	ForwardsCount  int             `json:"forwards_count"`
	RecentViewers  []int64         `json:"recent_viewers,omitempty"`
	Reactions      []ReactionCount `json:"reactions,omitempty"`
	HasViewers     bool            `json:"has_viewers,omitempty"`
}

type ReactionCount struct {
	Reaction    string `json:"reaction"`
	Count       int    `json:"count"`
	ChosenOrder *int   `json:"chosen_order,omitempty"`
}

type Privacy struct {
	Type  string  `json:"type"` // allow_all, allow_contacts, allow_close_friends, allow_users, disallow_all
	Users []int64 `json:"users,omitempty"`
}

type Forward struct {
	FromID   *int64 `json:"from_id,omitempty"`
	FromName string `json:"from_name,omitempty"`
	StoryID  int32  `json:"story_id,omitempty"`
	Modified bool   `json:"modified,omitempty"`
}

// Peer is a peer record carried alongside results.
type Peer struct {
	ID            int64  `json:"id"`
	Kind          string `json:"kind"` // user, group, channel
	Name          string `json:"name"`
	Contact       bool   `json:"contact,omitempty"`
	StoriesHidden bool   `json:"stories_hidden,omitempty"`
}

// PeerStories is the complete live story set of one peer.
type PeerStories struct {
	PeerID    int64   `json:"peer_id"`
	MaxReadID *int32  `json:"max_read_id,omitempty"`
	Stories   []Story `json:"stories"`
}

type StealthMode struct {
	ActiveUntil   *int32 `json:"active_until_date,omitempty"`
	CooldownUntil *int32 `json:"cooldown_until_date,omitempty"`
}

type AllStoriesRequest struct {
	Hidden bool   `json:"hidden"`
	State  string `json:"state,omitempty"`

	// HasState is set when State should be sent; Next requests the page after it.
	HasState bool `json:"has_state"`
	Next     bool `json:"next"`
}

type AllStoriesResult struct {
	NotModified bool          `json:"not_modified"`
	HasMore     bool          `json:"has_more"`
	Count       int           `json:"count"`
	State       string        `json:"state"`
	PeerStories []PeerStories `json:"peer_stories,omitempty"`
	Peers       []Peer        `json:"peers,omitempty"`
	StealthMode StealthMode   `json:"stealth_mode"`
}

type PeerStoriesResult struct {
	Stories PeerStories `json:"stories"`
	Peers   []Peer      `json:"peers,omitempty"`
}

type StoriesPage struct {
	Count     int     `json:"count"`
	Stories   []Story `json:"stories"`
	PinnedIDs []int32 `json:"pinned_to_top,omitempty"`
	Peers     []Peer  `json:"peers,omitempty"`
}

type SearchRequest struct {
	Hashtag string `json:"hashtag,omitempty"`
	Area    *Area  `json:"area,omitempty"`
	Offset  string `json:"offset"`
	Limit   int    `json:"limit"`
}

type FoundStory struct {
	PeerID int64 `json:"peer_id"`
	Story  Story `json:"story"`
}

type FoundStories struct {
	Count      int          `json:"count"`
	Stories    []FoundStory `json:"stories"`
	NextOffset *string      `json:"next_offset,omitempty"`
	Peers      []Peer       `json:"peers,omitempty"`
}
