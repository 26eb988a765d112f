package events

import (
	"errors"
	"testing"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestDecode_EventNamesAndAliases(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected EventType
	}{
		{"kebab new message", `{"event": "new-message", "data": {"address": "+1"}}`, EventTypeNewMessage},
		{"legacy new message", `{"event": "NEW_MESSAGE", "data": {"phone_number": "+1"}}`, EventTypeNewMessage},
		{"legacy handoff", `{"event": "HUMAN_HANDOFF", "data": {"phone_number": "+1"}}`, EventTypeHumanHandoff},
		{"legacy override", `{"event": "HUMAN_OVERRIDE_CHANGED", "data": {"phone_number": "+1"}}`, EventTypeOverrideChanged},
		{"legacy chat updated", `{"event": "CHAT_UPDATED", "data": {"phone_number": "+1"}}`, EventTypeSummaryPatch},
		{"patient updated", `{"event": "patient-updated", "data": {"phone_number": "+1"}}`, EventTypePatientUpdated},
		{"appointment", `{"event": "NEW_APPOINTMENT", "data": {"phone_number": "+1"}}`, EventTypeNewAppointment},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.input), now)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if ev.Type() != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, ev.Type())
			}
			if ev.Target() != "+1" {
				t.Errorf("Expected target +1, got %q", ev.Target())
			}
		})
	}
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"event": "TYPING", "data": {}}`), now)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Expected ErrUnknownEvent, got %v", err)
	}

	if _, err := Decode([]byte(`not json`), now); err == nil {
		t.Error("Expected error for malformed frame")
	}
}

func TestDecode_NewMessageDefaults(t *testing.T) {
	ev, err := Decode([]byte(`{"event": "NEW_MESSAGE", "data": {"phone_number": "+1", "message": "hola", "role": "user"}}`), now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	msg, ok := ev.(NewMessageEvent)
	if !ok {
		t.Fatalf("Expected NewMessageEvent, got %T", ev)
	}
	if msg.Tenant() != nil {
		t.Error("Expected missing tenant to stay nil")
	}
	if msg.Channel != chat.ChannelWhatsAppDirect {
		t.Errorf("Expected direct channel by default, got %s", msg.Channel)
	}
	if msg.Role != chat.RolePatient || msg.Body != "hola" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if !msg.ReceivedAt.Equal(now) {
		t.Errorf("Expected receive time stamped with now, got %v", msg.ReceivedAt)
	}

	ev, _ = Decode([]byte(`{"event": "NEW_MESSAGE", "data": {"phone_number": "ig-1", "channel": "instagram", "tenant_id": 4}}`), now)
	msg = ev.(NewMessageEvent)
	if msg.Channel != chat.ChannelInstagram || msg.Tenant() == nil || *msg.Tenant() != 4 {
		t.Errorf("Unexpected mirror message %+v", msg)
	}
}

func TestSummaryFields_Apply(t *testing.T) {
	ev, err := Decode([]byte(`{"event": "CHAT_UPDATED", "data": {"phone_number": "+1", "status": "silenced", "unread_count": 0, "last_message": "ok"}}`), now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	patch := ev.(SummaryPatchEvent)

	s := chat.ConversationSummary{
		Source:      chat.SourceDirect,
		DisplayName: "Ana",
		UnreadCount: 3,
		Status:      chat.StatusActive,
		Urgency:     "low",
	}
	patch.Fields.Apply(&s)

	if s.Status != chat.StatusSilenced || !s.IsLocked {
		t.Errorf("Expected silenced and locked, got %s/%v", s.Status, s.IsLocked)
	}
	if s.UnreadCount != 0 || s.LastMessagePreview != "ok" {
		t.Errorf("Unexpected patched summary %+v", s)
	}
	if s.DisplayName != "Ana" || s.Urgency != "low" {
		t.Error("Expected absent fields left untouched")
	}
}
