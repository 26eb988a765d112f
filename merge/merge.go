package merge

import (
	"sort"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
)

// Merge builds the unified conversation list. Direct entries are emitted
// first and win identity-key collisions; mirror entries with an avatar are
// preferred among themselves. The result is sorted by last activity, newest
// first, keeping emission order on ties.
func Merge(direct, mirror []chat.ConversationSummary, q chat.Query) []chat.ConversationSummary {
	out := make([]chat.ConversationSummary, 0, len(direct)+len(mirror))
	seen := make(map[chat.IdentityKey]struct{}, len(direct)+len(mirror))

	if q.Filter.IncludesDirect() {
		for _, s := range direct {
			if !q.Matches(s) {
				continue
			}
			if _, dup := seen[s.Key]; dup {
				continue
			}
			seen[s.Key] = struct{}{}
			out = append(out, s)
		}
	}

	if q.Filter.IncludesMirror() {
		candidates := make([]chat.ConversationSummary, 0, len(mirror))
		for _, s := range mirror {
			if q.Filter.Includes(s.Channel) && q.Matches(s) {
				candidates = append(candidates, s)
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].HasAvatar() && !candidates[j].HasAvatar()
		})

		for _, s := range candidates {
			if _, dup := seen[s.Key]; dup {
				continue
			}
			seen[s.Key] = struct{}{}
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return activity(out[i]).After(activity(out[j]))
	})

	return out
}

func activity(s chat.ConversationSummary) time.Time {
	if s.LastMessageAt == nil {
		return time.Unix(0, 0)
	}
	return *s.LastMessageAt
}
