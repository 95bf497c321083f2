package story

import (
	"github.com/pders01/storyfeed/internal/transport"
)

// LocalLookup returns the locally stored copy of a story, if any.
type LocalLookup func(peer PeerID, id int32) (StoredItem, bool)

// Decode turns a remote story into its stored form. It returns false for
// deleted stories and unknown kinds. Items whose media cannot be decoded are
// still returned, with a nil Media.
func Decode(raw transport.Story, peer PeerID, lookup LocalLookup) (StoredItem, bool) {
	expiration := raw.ExpireDate
	if expiration < raw.Date {
		expiration = raw.Date
	}

	switch raw.Kind {
	case transport.KindItem, "":
	case transport.KindSkipped:
		return FromPlaceholder(Placeholder{
			ID:                  raw.ID,
			Timestamp:           raw.Date,
			ExpirationTimestamp: expiration,
		}), true
	default:
		return StoredItem{}, false
	}

	item := &Item{
		ID:                   raw.ID,
		Timestamp:            raw.Date,
		ExpirationTimestamp:  expiration,
		Media:                decodeMedia(raw.Media),
		AlternativeMedia:     decodeMedia(raw.AltMedia),
		MediaAreas:           decodeAreas(raw.Areas),
		Text:                 raw.Caption,
		Entities:             decodeEntities(raw.Entities),
		Views:                decodeViews(raw.Views),
		Privacy:              decodePrivacy(raw.Privacy),
		IsPinned:             raw.Pinned,
		IsPublic:             raw.Public,
		IsCloseFriends:       raw.CloseFriends,
		IsContacts:           raw.Contacts,
		IsSelectedContacts:   raw.SelectedContacts,
		IsForwardingDisabled: raw.NoForwards,
		IsEdited:             raw.Edited,
		IsMy:                 raw.Out,
		ForwardInfo:          decodeForward(raw.FwdFrom),
	}
	if raw.Reaction != nil {
		r := Reaction(*raw.Reaction)
		item.MyReaction = &r
	}
	if raw.FromID != nil {
		author := PeerID(*raw.FromID)
		item.AuthorID = &author
	}

	if raw.Min && lookup != nil {
		if prev, ok := lookup(peer, raw.ID); ok {
			item = MergeMin(item, prev.Item)
		}
	}

	return FromItem(item), true
}

// MergeMin fills the views, privacy and own reaction a min item was sent
// without from prev. It returns a new item and leaves both inputs untouched.
func MergeMin(item, prev *Item) *Item {
	if item == nil || prev == nil {
		return item
	}
	merged := *item
	if merged.Views == nil {
		merged.Views = prev.Views
	}
	if merged.Privacy == nil {
		merged.Privacy = prev.Privacy
	}
	if merged.MyReaction == nil {
		merged.MyReaction = prev.MyReaction
	}
	return &merged
}

// DecodePeer maps a remote peer record.
func DecodePeer(p transport.Peer) Peer {
	kind := PeerKind(p.Kind)
	switch kind {
	case PeerUser, PeerGroup, PeerChannel:
	default:
		kind = PeerUser
	}
	return Peer{
		ID:            PeerID(p.ID),
		Kind:          kind,
		Name:          p.Name,
		IsContact:     p.Contact,
		StoriesHidden: p.StoriesHidden,
	}
}

func decodeMedia(m *transport.Media) *Media {
	if m == nil {
		return nil
	}
	var kind MediaKind
	switch m.Type {
	case "photo":
		kind = MediaPhoto
	case "video", "document":
		kind = MediaVideo
	default:
		return nil
	}
	return &Media{
		Kind:     kind,
		ID:       m.ID,
		URL:      m.URL,
		MimeType: m.MimeType,
		Width:    m.Width,
		Height:   m.Height,
		Duration: m.Duration,
	}
}

func decodeAreas(areas []transport.Area) []MediaArea {
	if len(areas) == 0 {
		return nil
	}
	out := make([]MediaArea, 0, len(areas))
	for _, a := range areas {
		out = append(out, MediaArea{
			Kind:     a.Type,
			X:        a.X,
			Y:        a.Y,
			Width:    a.Width,
			Height:   a.Height,
			Rotation: a.Rotation,
			Lat:      a.Lat,
			Long:     a.Long,
			Title:    a.Title,
			Reaction: Reaction(a.Reaction),
			URL:      a.URL,
		})
	}
	return out
}

func decodeEntities(entities []transport.Entity) []Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		out = append(out, Entity{Kind: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return out
}

func decodeViews(v *transport.Views) *Views {
	if v == nil {
		return nil
	}
	views := &Views{
		SeenCount:    v.ViewsCount,
		ReactedCount: v.ReactionsCount,
		ForwardCount: v.ForwardsCount,
		HasList:      v.HasViewers,
	}
	for _, id := range v.RecentViewers {
		views.SeenPeerIDs = append(views.SeenPeerIDs, PeerID(id))
	}
	for _, r := range v.Reactions {
		views.Reactions = append(views.Reactions, ReactionCount{
			Reaction:    Reaction(r.Reaction),
			Count:       r.Count,
			ChosenOrder: r.ChosenOrder,
		})
	}
	return views
}

func decodePrivacy(rules []transport.Privacy) *Privacy {
	if len(rules) == 0 {
		return nil
	}
	privacy := &Privacy{Base: PrivacyNobody}
	rank := map[PrivacyBase]int{PrivacyNobody: 0, PrivacyEveryone: 1, PrivacyContacts: 2, PrivacyCloseFriends: 3}
	raise := func(base PrivacyBase) {
		if rank[base] > rank[privacy.Base] {
			privacy.Base = base
		}
	}
	for _, rule := range rules {
		switch rule.Type {
		case "allow_all":
			raise(PrivacyEveryone)
		case "allow_contacts":
			raise(PrivacyContacts)
		case "allow_close_friends":
			raise(PrivacyCloseFriends)
		case "allow_users":
			for _, id := range rule.Users {
				privacy.AdditionallyIncludePeers = append(privacy.AdditionallyIncludePeers, PeerID(id))
			}
		}
	}
	return privacy
}

func decodeForward(f *transport.Forward) *ForwardInfo {
	if f == nil {
		return nil
	}
	info := &ForwardInfo{OriginID: f.StoryID, IsModified: f.Modified}
	if f.FromID != nil {
		peer := PeerID(*f.FromID)
		info.Peer = &peer
	} else {
		info.Name = f.FromName
	}
	return info
}
