package events

import (
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
)

// EventType names a push event on the real-time channel.
type EventType string

const (
	EventTypeNewMessage      EventType = "new-message"
	EventTypeHumanHandoff    EventType = "human-handoff"
	EventTypeOverrideChanged EventType = "override-changed"
	EventTypeSummaryPatch    EventType = "summary-patch"
	EventTypePatientUpdated  EventType = "patient-updated"
	EventTypeNewAppointment  EventType = "new-appointment"
)

// Event is the base interface for all push events. Every event targets a
// conversation address; TenantID is nil when the event did not carry one.
type Event interface {
	Type() EventType
	Target() string
	Tenant() *int64
}

type Base struct {
	TenantID *int64
	Address  string
}

func (b Base) Target() string {
	return b.Address
}

func (b Base) Tenant() *int64 {
	return b.TenantID
}

// NewMessageEvent carries a message received or sent on any channel.
type NewMessageEvent struct {
	Base
	Channel     chat.Channel
	Role        chat.Role
	Body        string
	Attachments []chat.Attachment
	ReceivedAt  time.Time
}

func (e NewMessageEvent) Type() EventType {
	return EventTypeNewMessage
}

// HumanHandoffEvent signals the automated agent escalated to a human.
type HumanHandoffEvent struct {
	Base
	Reason string
}

func (e HumanHandoffEvent) Type() EventType {
	return EventTypeHumanHandoff
}

type OverrideChangedEvent struct {
	Base
	Enabled bool
	Until   *time.Time
}

func (e OverrideChangedEvent) Type() EventType {
	return EventTypeOverrideChanged
}

// SummaryPatchEvent carries a partial session summary. Nil fields are left
// untouched.
type SummaryPatchEvent struct {
	Base
	Fields SummaryFields
}

func (e SummaryPatchEvent) Type() EventType {
	return EventTypeSummaryPatch
}

type SummaryFields struct {
	DisplayName        *string
	LastMessagePreview *string
	LastMessageAt      *time.Time
	LastInboundAt      *time.Time
	UnreadCount        *int
	Status             *chat.Status
	OverrideUntil      *time.Time
	HandoffAt          *time.Time
	Urgency            *string
	BackendWindowOpen  *bool
}

// Apply merges the provided fields into s.
func (f SummaryFields) Apply(s *chat.ConversationSummary) {
	if f.DisplayName != nil && *f.DisplayName != "" {
		s.DisplayName = *f.DisplayName
	}
	if f.LastMessagePreview != nil {
		s.LastMessagePreview = *f.LastMessagePreview
	}
	if f.LastMessageAt != nil {
		s.LastMessageAt = f.LastMessageAt
	}
	if f.LastInboundAt != nil {
		s.LastInboundAt = f.LastInboundAt
	}
	if f.UnreadCount != nil {
		s.UnreadCount = max(*f.UnreadCount, 0)
	}
	if f.Status != nil && f.Status.Valid() {
		s.Status = *f.Status
		if s.Source == chat.SourceDirect {
			s.IsLocked = s.Status == chat.StatusHumanHandling || s.Status == chat.StatusSilenced
		}
	}
	if f.OverrideUntil != nil {
		s.OverrideUntil = f.OverrideUntil
	}
	if f.HandoffAt != nil {
		s.HandoffAt = f.HandoffAt
	}
	if f.Urgency != nil {
		s.Urgency = *f.Urgency
	}
	if f.BackendWindowOpen != nil {
		s.BackendWindowOpen = f.BackendWindowOpen
	}
}

type PatientUpdatedEvent struct {
	Base
	Urgency string
}

func (e PatientUpdatedEvent) Type() EventType {
	return EventTypePatientUpdated
}

type NewAppointmentEvent struct {
	Base
}

func (e NewAppointmentEvent) Type() EventType {
	return EventTypeNewAppointment
}
