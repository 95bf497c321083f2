package story

// ApplyMyReaction recomputes view counters after the account's own reaction
// on a story changed from previous to next. It never mutates views.
func ApplyMyReaction(views *Views, previous, next *Reaction, broadcast bool) *Views {
	var updated Views
	if views != nil {
		updated = *views
		updated.Reactions = append([]ReactionCount(nil), views.Reactions...)
	}

	switch {
	case previous == nil && next != nil:
		updated.ReactedCount++
	case previous != nil && next == nil:
		updated.ReactedCount--
	}
	if updated.ReactedCount < 0 {
		updated.ReactedCount = 0
	}

	if broadcast {
		if previous != nil {
			updated.Reactions = adjustReaction(updated.Reactions, *previous, -1)
		}
		if next != nil {
			updated.Reactions = adjustReaction(updated.Reactions, *next, 1)
		}
	}

	if updated.SeenCount < updated.ReactedCount {
		updated.SeenCount = updated.ReactedCount
	}
	return &updated
}

func adjustReaction(reactions []ReactionCount, r Reaction, delta int) []ReactionCount {
	for i := range reactions {
		if reactions[i].Reaction != r {
			continue
		}
		reactions[i].Count += delta
		if delta > 0 {
			chosen := 0
			reactions[i].ChosenOrder = &chosen
		} else {
			reactions[i].ChosenOrder = nil
		}
		if reactions[i].Count <= 0 {
			return append(reactions[:i], reactions[i+1:]...)
		}
		return reactions
	}
	if delta <= 0 {
		return reactions
	}
	chosen := 0
	return append(reactions, ReactionCount{Reaction: r, Count: delta, ChosenOrder: &chosen})
}
