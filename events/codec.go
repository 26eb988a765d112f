package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the frame every transport delivers.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var aliases = map[string]EventType{
	"NEW_MESSAGE":            EventTypeNewMessage,
	"HUMAN_HANDOFF":          EventTypeHumanHandoff,
	"HUMAN_OVERRIDE_CHANGED": EventTypeOverrideChanged,
	"CHAT_UPDATED":           EventTypeSummaryPatch,
	"PATIENT_UPDATED":        EventTypePatientUpdated,
	"NEW_APPOINTMENT":        EventTypeNewAppointment,
}

func ParseEventType(name string) (EventType, bool) {
	if t, ok := aliases[name]; ok {
		return t, true
	}
	switch t := EventType(strings.ToLower(name)); t {
	case EventTypeNewMessage, EventTypeHumanHandoff, EventTypeOverrideChanged,
		EventTypeSummaryPatch, EventTypePatientUpdated, EventTypeNewAppointment:
		return t, true
	}
	return "", false
}

type wireBase struct {
	TenantID    *int64  `json:"tenant_id"`
	Address     string  `json:"address"`
	PhoneNumber string  `json:"phone_number"`
	Channel     string  `json:"channel"`
	Timestamp   *string `json:"timestamp"`
}

func (w wireBase) base() Base {
	address := strings.TrimSpace(w.Address)
	if address == "" {
		address = strings.TrimSpace(w.PhoneNumber)
	}
	return Base{TenantID: w.TenantID, Address: address}
}

type wireNewMessage struct {
	wireBase
	Message     string           `json:"message"`
	Content     string           `json:"content"`
	Role        string           `json:"role"`
	Attachments chat.Attachments `json:"attachments"`
}

type wireHandoff struct {
	wireBase
	Reason string `json:"reason"`
}

type wireOverride struct {
	wireBase
	Enabled bool    `json:"enabled"`
	Until   *string `json:"until"`
}

type wireSummaryPatch struct {
	wireBase
	PatientName         *string `json:"patient_name"`
	LastMessage         *string `json:"last_message"`
	LastMessageTime     *string `json:"last_message_time"`
	LastUserMessageTime *string `json:"last_user_message_time"`
	UnreadCount         *int    `json:"unread_count"`
	Status              *string `json:"status"`
	HumanOverrideUntil  *string `json:"human_override_until"`
	LastDerivhumanoAt   *string `json:"last_derivhumano_at"`
	UrgencyLevel        *string `json:"urgency_level"`
	IsWindowOpen        *bool   `json:"is_window_open"`
}

type wirePatient struct {
	wireBase
	UrgencyLevel string `json:"urgency_level"`
}

// Decode parses an envelope into a typed event. now stamps events that do
// not carry their own time.
func Decode(data []byte, now time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return DecodeEnvelope(env, now)
}

func DecodeEnvelope(env Envelope, now time.Time) (Event, error) {
	eventType, ok := ParseEventType(env.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}

	switch eventType {
	case EventTypeNewMessage:
		var w wireNewMessage
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		body := w.Message
		if body == "" {
			body = w.Content
		}
		received := now
		if t := parseTime(w.Timestamp); t != nil {
			received = *t
		}
		return NewMessageEvent{
			Base:        w.base(),
			Channel:     eventChannel(w.Channel),
			Role:        chat.ParseRole(w.Role),
			Body:        body,
			Attachments: w.Attachments.Normalize(),
			ReceivedAt:  received,
		}, nil

	case EventTypeHumanHandoff:
		var w wireHandoff
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return HumanHandoffEvent{Base: w.base(), Reason: w.Reason}, nil

	case EventTypeOverrideChanged:
		var w wireOverride
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return OverrideChangedEvent{Base: w.base(), Enabled: w.Enabled, Until: parseTime(w.Until)}, nil

	case EventTypeSummaryPatch:
		var w wireSummaryPatch
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		fields := SummaryFields{
			DisplayName:        w.PatientName,
			LastMessagePreview: w.LastMessage,
			LastMessageAt:      parseTime(w.LastMessageTime),
			LastInboundAt:      parseTime(w.LastUserMessageTime),
			UnreadCount:        w.UnreadCount,
			OverrideUntil:      parseTime(w.HumanOverrideUntil),
			HandoffAt:          parseTime(w.LastDerivhumanoAt),
			Urgency:            w.UrgencyLevel,
			BackendWindowOpen:  w.IsWindowOpen,
		}
		if w.Status != nil {
			status := chat.Status(*w.Status)
			fields.Status = &status
		}
		return SummaryPatchEvent{Base: w.base(), Fields: fields}, nil

	case EventTypePatientUpdated:
		var w wirePatient
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return PatientUpdatedEvent{Base: w.base(), Urgency: w.UrgencyLevel}, nil

	default:
		var w wireBase
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return NewAppointmentEvent{Base: w.base()}, nil
	}
}

// eventChannel maps the push channel name. Plain "whatsapp" (or nothing)
// is the direct provider; anything else arrived through the inbox mirror.
func eventChannel(name string) chat.Channel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "whatsapp", string(chat.ChannelWhatsAppDirect):
		return chat.ChannelWhatsAppDirect
	default:
		return chat.MirrorChannel(name)
	}
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return chat.ParseTime(*s)
}
