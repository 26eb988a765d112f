package chat

import (
	"fmt"
	"strings"
)

// Filter selects which channels the merged list shows.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterWhatsApp Filter = "whatsapp"
)

func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", string(FilterAll):
		return FilterAll, nil
	case string(FilterWhatsApp):
		return FilterWhatsApp, nil
	}
	if Channel(s).Valid() {
		return Filter(s), nil
	}
	return "", fmt.Errorf("unknown channel filter %q", s)
}

func (f Filter) Includes(channel Channel) bool {
	switch f {
	case "", FilterAll:
		return true
	case FilterWhatsApp:
		return channel.Family() == FamilyWhatsApp
	default:
		return Channel(f) == channel
	}
}

func (f Filter) IncludesDirect() bool {
	return f.Includes(ChannelWhatsAppDirect)
}

func (f Filter) IncludesMirror() bool {
	for _, ch := range mirrorChannels {
		if f.Includes(ch) {
			return true
		}
	}
	return false
}

// MirrorParam is the server-side channel parameter for the mirror summary
// endpoint, empty when no narrowing applies.
func (f Filter) MirrorParam() string {
	switch f {
	case "", FilterAll:
		return ""
	case FilterWhatsApp, Filter(ChannelWhatsAppMirror):
		return "whatsapp"
	default:
		return string(f)
	}
}

type Query struct {
	Filter Filter `json:"filter"`
	Search string `json:"search,omitempty"`
}

// Matches applies the free-text search: a case-insensitive match on the
// display name or a substring of the address.
func (q Query) Matches(s ConversationSummary) bool {
	term := strings.TrimSpace(q.Search)
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(s.DisplayName), strings.ToLower(term)) {
		return true
	}
	return strings.Contains(s.Address, term)
}
