package chat

import "time"

// WindowDuration is how long after the last inbound message free-form
// replies are accepted by the provider.
const WindowDuration = 24 * time.Hour

// IsWindowOpen reports whether a reply is allowed given the last inbound
// message time. A conversation with no inbound message is closed.
func IsWindowOpen(lastInbound *time.Time, now time.Time) bool {
	if lastInbound == nil {
		return false
	}
	return now.Sub(*lastInbound) < WindowDuration
}

func (s ConversationSummary) WindowOpenUntil() *time.Time {
	if s.LastInboundAt == nil {
		return nil
	}
	until := s.LastInboundAt.Add(WindowDuration)
	return &until
}

// WindowOpen prefers the inbound timestamp. Without one, direct
// conversations follow the backend flag (absent means open, the backend
// rejects late sends itself) and mirrored ones are closed.
func (s ConversationSummary) WindowOpen(now time.Time) bool {
	if s.LastInboundAt != nil {
		return IsWindowOpen(s.LastInboundAt, now)
	}
	if s.Source == SourceDirect {
		if s.BackendWindowOpen != nil {
			return *s.BackendWindowOpen
		}
		return true
	}
	return false
}
