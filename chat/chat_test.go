package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIsWindowOpen(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	testCases := []struct {
		name        string
		lastInbound *time.Time
		expected    bool
	}{
		{name: "23h59m ago", lastInbound: at(23*time.Hour + 59*time.Minute), expected: true},
		{name: "24h1m ago", lastInbound: at(24*time.Hour + time.Minute), expected: false},
		{name: "exactly 24h ago", lastInbound: at(24 * time.Hour), expected: false},
		{name: "just now", lastInbound: at(0), expected: true},
		{name: "absent", lastInbound: nil, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsWindowOpen(tc.lastInbound, now); got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestConversationSummary_WindowOpenFallbacks(t *testing.T) {
	now := time.Now()
	closed := false

	direct := ConversationSummary{Source: SourceDirect}
	if !direct.WindowOpen(now) {
		t.Error("Expected direct conversation without inbound time or flag to be open")
	}

	direct.BackendWindowOpen = &closed
	if direct.WindowOpen(now) {
		t.Error("Expected direct conversation to follow backend flag")
	}

	old := now.Add(-30 * time.Hour)
	direct.LastInboundAt = &old
	direct.BackendWindowOpen = nil
	if direct.WindowOpen(now) {
		t.Error("Expected inbound timestamp to take precedence")
	}

	mirror := ConversationSummary{Source: SourceMirror}
	if mirror.WindowOpen(now) {
		t.Error("Expected mirror conversation without inbound time to be closed")
	}

	if until := direct.WindowOpenUntil(); until == nil || !until.Equal(old.Add(WindowDuration)) {
		t.Errorf("Expected window end %v, got %v", old.Add(WindowDuration), until)
	}
}

func TestNormalizeAddress(t *testing.T) {
	testCases := []struct {
		name     string
		channel  Channel
		input    string
		expected string
	}{
		{name: "whatsapp with plus", channel: ChannelWhatsAppDirect, input: "+5491155550000", expected: "+5491155550000"},
		{name: "whatsapp bare digits", channel: ChannelWhatsAppMirror, input: "5491155550000", expected: "+5491155550000"},
		{name: "whatsapp separators", channel: ChannelWhatsAppDirect, input: "+54 9 11-5555.0000", expected: "+5491155550000"},
		{name: "whatsapp parentheses", channel: ChannelWhatsAppDirect, input: "(54) 911 5555 0000", expected: "+5491155550000"},
		{name: "instagram untouched", channel: ChannelInstagram, input: " 17841400000 ", expected: "17841400000"},
		{name: "facebook untouched", channel: ChannelFacebook, input: "psid-123", expected: "psid-123"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeAddress(tc.channel, tc.input); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestKeyFor_DirectAndMirrorWhatsAppCollide(t *testing.T) {
	direct := KeyFor(ChannelWhatsAppDirect, "+5491155550000")
	mirror := KeyFor(ChannelWhatsAppMirror, "5491155550000")

	if direct != mirror {
		t.Errorf("Expected keys to collide, got %s and %s", direct, mirror)
	}

	instagram := KeyFor(ChannelInstagram, "5491155550000")
	if instagram == direct {
		t.Error("Expected instagram key to differ from whatsapp key")
	}
}

func TestIdentityKey_TextRoundTrip(t *testing.T) {
	key := KeyFor(ChannelWhatsAppDirect, "+5491100")

	data, err := json.Marshal(map[string]IdentityKey{"key": key})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(data) != `{"key":"whatsapp:+5491100"}` {
		t.Errorf("Unexpected encoding %s", data)
	}

	var decoded map[string]IdentityKey
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decoded["key"] != key {
		t.Errorf("Expected %v, got %v", key, decoded["key"])
	}

	if _, err := ParseIdentityKey("no-separator"); err == nil {
		t.Error("Expected error for malformed key")
	}
}

func TestDirectSummary_Normalize(t *testing.T) {
	raw := `{
		"phone_number": "+5491155550000",
		"tenant_id": 3,
		"patient_name": "",
		"last_message": "hola",
		"last_message_time": "2025-03-10T11:00:00",
		"unread_count": -2,
		"status": "human_handling",
		"last_user_message_time": "2025-03-10T10:30:00Z",
		"is_window_open": true
	}`

	var wire DirectSummary
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s := wire.Normalize()

	if s.Source != SourceDirect || s.Channel != ChannelWhatsAppDirect {
		t.Errorf("Unexpected source/channel %s/%s", s.Source, s.Channel)
	}
	if s.DisplayName != "+5491155550000" {
		t.Errorf("Expected address as display name, got %q", s.DisplayName)
	}
	if s.UnreadCount != 0 {
		t.Errorf("Expected unread clamped to 0, got %d", s.UnreadCount)
	}
	if !s.IsLocked {
		t.Error("Expected human_handling to be locked")
	}
	if s.LastMessageAt == nil || s.LastMessageAt.Hour() != 11 {
		t.Errorf("Expected zone-less timestamp parsed as UTC, got %v", s.LastMessageAt)
	}
	if s.LastInboundAt == nil {
		t.Error("Expected inbound timestamp")
	}
}

func TestMirrorSummary_Normalize(t *testing.T) {
	raw := `{
		"id": "c-42",
		"tenant_id": 3,
		"name": "",
		"channel": "instagram",
		"provider": "chatwoot",
		"last_message": "hi",
		"last_message_at": null,
		"unread_count": 1,
		"is_locked": true,
		"external_user_id": "",
		"avatar_url": null,
		"meta": {"username": "ana.ig", "customer_avatar": "https://cdn/a.png"}
	}`

	var wire MirrorSummary
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s := wire.Normalize()

	if s.Channel != ChannelInstagram {
		t.Errorf("Expected instagram, got %s", s.Channel)
	}
	if s.Address != "c-42" || s.Key.String() != "instagram:c-42" {
		t.Errorf("Expected conversation id as address, got %q (%s)", s.Address, s.Key)
	}
	if s.DisplayName != "ana.ig" {
		t.Errorf("Expected username fallback, got %q", s.DisplayName)
	}
	if s.AvatarURL != "https://cdn/a.png" {
		t.Errorf("Expected meta avatar fallback, got %q", s.AvatarURL)
	}
	if s.Status != StatusSilenced {
		t.Errorf("Expected locked mirror to be silenced, got %s", s.Status)
	}
	if s.LastMessageAt != nil {
		t.Error("Expected nil last message time")
	}
}

func TestMessages_Normalize(t *testing.T) {
	var direct DirectMessage
	if err := json.Unmarshal([]byte(`{"id": 17, "role": "human_supervisor", "content": "ok", "created_at": "2025-03-10T10:00:00Z", "attachments": [{"type": "document", "url": "https://f/x.pdf", "file_name": "x.pdf"}]}`), &direct); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	msg := direct.Normalize()
	if msg.ID != "17" || msg.Role != RoleHumanAgent {
		t.Errorf("Unexpected message %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Kind != AttachmentFile {
		t.Errorf("Unexpected attachments %+v", msg.Attachments)
	}

	var mirror MirrorMessage
	if err := json.Unmarshal([]byte(`{"id": "m1", "role": "user", "content": "foto", "timestamp": null, "attachments": {"type": "image", "url": "https://f/p.jpg"}}`), &mirror); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	msg = mirror.Normalize()
	if msg.Role != RolePatient {
		t.Errorf("Expected patient role, got %s", msg.Role)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Kind != AttachmentImage {
		t.Errorf("Expected single object attachment decoded, got %+v", msg.Attachments)
	}
}

func TestQuery_Matches(t *testing.T) {
	s := ConversationSummary{DisplayName: "María López", Address: "+5491155550000"}

	testCases := []struct {
		search   string
		expected bool
	}{
		{"", true},
		{"maría", true},
		{"LÓPEZ", true},
		{"5555", true},
		{"pedro", false},
	}

	for _, tc := range testCases {
		t.Run(tc.search, func(t *testing.T) {
			if got := (Query{Search: tc.search}).Matches(s); got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestFilter_Includes(t *testing.T) {
	if !FilterWhatsApp.Includes(ChannelWhatsAppMirror) || !FilterWhatsApp.IncludesDirect() {
		t.Error("Expected whatsapp filter to include direct and mirrored whatsapp")
	}
	if FilterWhatsApp.Includes(ChannelInstagram) {
		t.Error("Expected whatsapp filter to exclude instagram")
	}
	if Filter(ChannelInstagram).IncludesDirect() {
		t.Error("Expected instagram filter to exclude direct")
	}
	if !Filter(ChannelInstagram).IncludesMirror() {
		t.Error("Expected instagram filter to include mirror")
	}
	if _, err := ParseFilter("telegram"); err == nil {
		t.Error("Expected error for unknown filter")
	}
}
