package chat

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// FlexID accepts identifiers encoded either as JSON strings or numbers.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses backend timestamps leniently. Timestamps without a zone
// are taken as UTC. Empty or unparseable input yields nil.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return ParseTime(*s)
}

// DirectSummary is a session row as returned by the first-party backend.
type DirectSummary struct {
	PhoneNumber         string  `json:"phone_number"`
	TenantID            int64   `json:"tenant_id"`
	PatientID           *int64  `json:"patient_id"`
	PatientName         string  `json:"patient_name"`
	LastMessage         string  `json:"last_message"`
	LastMessageTime     *string `json:"last_message_time"`
	UnreadCount         int     `json:"unread_count"`
	Status              string  `json:"status"`
	HumanOverrideUntil  *string `json:"human_override_until"`
	UrgencyLevel        string  `json:"urgency_level"`
	LastDerivhumanoAt   *string `json:"last_derivhumano_at"`
	IsWindowOpen        *bool   `json:"is_window_open"`
	LastUserMessageTime *string `json:"last_user_message_time"`
}

func (d DirectSummary) Normalize() ConversationSummary {
	status := Status(d.Status)
	if !status.Valid() {
		status = StatusActive
	}

	name := strings.TrimSpace(d.PatientName)
	if name == "" {
		name = d.PhoneNumber
	}

	unread := d.UnreadCount
	if unread < 0 {
		unread = 0
	}

	return ConversationSummary{
		Key:                KeyFor(ChannelWhatsAppDirect, d.PhoneNumber),
		Channel:            ChannelWhatsAppDirect,
		Source:             SourceDirect,
		Address:            d.PhoneNumber,
		TenantID:           d.TenantID,
		PatientID:          d.PatientID,
		DisplayName:        name,
		LastMessagePreview: d.LastMessage,
		LastMessageAt:      parseTimePtr(d.LastMessageTime),
		LastInboundAt:      parseTimePtr(d.LastUserMessageTime),
		UnreadCount:        unread,
		IsLocked:           status == StatusHumanHandling || status == StatusSilenced,
		Status:             status,
		OverrideUntil:      parseTimePtr(d.HumanOverrideUntil),
		HandoffAt:          parseTimePtr(d.LastDerivhumanoAt),
		Urgency:            d.UrgencyLevel,
		BackendWindowOpen:  d.IsWindowOpen,
	}
}

type MirrorMeta struct {
	Username       string `json:"username"`
	InboxName      string `json:"inbox_name"`
	CustomerAvatar string `json:"customer_avatar"`
}

// MirrorSummary is a conversation row from the inbox aggregator mirror.
type MirrorSummary struct {
	ID                 FlexID      `json:"id"`
	TenantID           int64       `json:"tenant_id"`
	Name               string      `json:"name"`
	Channel            string      `json:"channel"`
	Provider           string      `json:"provider"`
	LastMessage        string      `json:"last_message"`
	LastMessageAt      *string     `json:"last_message_at"`
	LastUserMessageAt  *string     `json:"last_user_message_at"`
	UnreadCount        int         `json:"unread_count"`
	IsLocked           bool        `json:"is_locked"`
	Status             string      `json:"status"`
	ExternalUserID     string      `json:"external_user_id"`
	AvatarURL          *string     `json:"avatar_url"`
	Meta               *MirrorMeta `json:"meta"`
	LastDerivhumanoAt  *string     `json:"last_derivhumano_at"`
	HumanOverrideUntil *string     `json:"human_override_until"`
}

func (m MirrorSummary) Normalize() ConversationSummary {
	channel := MirrorChannel(m.Channel)

	address := strings.TrimSpace(m.ExternalUserID)
	if address == "" {
		address = string(m.ID)
	}

	name := strings.TrimSpace(m.Name)
	if name == "" && m.Meta != nil {
		name = m.Meta.Username
	}
	if name == "" {
		name = address
	}

	avatar := ""
	if m.AvatarURL != nil {
		avatar = strings.TrimSpace(*m.AvatarURL)
	}
	if avatar == "" && m.Meta != nil {
		avatar = strings.TrimSpace(m.Meta.CustomerAvatar)
	}

	status := Status(m.Status)
	if !status.Valid() {
		status = StatusActive
		if m.IsLocked {
			status = StatusSilenced
		}
	}

	unread := m.UnreadCount
	if unread < 0 {
		unread = 0
	}

	return ConversationSummary{
		Key:                KeyFor(channel, address),
		Channel:            channel,
		Source:             SourceMirror,
		Address:            address,
		ConversationID:     string(m.ID),
		TenantID:           m.TenantID,
		DisplayName:        name,
		AvatarURL:          avatar,
		LastMessagePreview: m.LastMessage,
		LastMessageAt:      parseTimePtr(m.LastMessageAt),
		LastInboundAt:      parseTimePtr(m.LastUserMessageAt),
		UnreadCount:        unread,
		IsLocked:           m.IsLocked,
		Status:             status,
		OverrideUntil:      parseTimePtr(m.HumanOverrideUntil),
		HandoffAt:          parseTimePtr(m.LastDerivhumanoAt),
	}
}

type WireAttachment struct {
	Type          string `json:"type"`
	URL           string `json:"url"`
	FileName      string `json:"file_name"`
	FileSize      int64  `json:"file_size"`
	Transcription string `json:"transcription"`
}

func (a WireAttachment) Normalize() Attachment {
	return Attachment{
		Kind:          ParseAttachmentKind(a.Type),
		URL:           a.URL,
		FileName:      a.FileName,
		SizeBytes:     a.FileSize,
		Transcription: a.Transcription,
	}
}

// Attachments decodes either a list of attachments or a single object.
type Attachments []WireAttachment

func (a *Attachments) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	if data[0] == '[' {
		var list []WireAttachment
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}
	var single WireAttachment
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single.URL == "" {
		*a = nil
		return nil
	}
	*a = Attachments{single}
	return nil
}

func (a Attachments) Normalize() []Attachment {
	if len(a) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(a))
	for _, att := range a {
		if att.URL == "" {
			continue
		}
		out = append(out, att.Normalize())
	}
	return out
}

type DirectMessage struct {
	ID            FlexID      `json:"id"`
	FromNumber    string      `json:"from_number"`
	Role          string      `json:"role"`
	Content       string      `json:"content"`
	CreatedAt     string      `json:"created_at"`
	Attachments   Attachments `json:"attachments"`
	IsDerivhumano bool        `json:"is_derivhumano"`
}

func (d DirectMessage) Normalize() Message {
	msg := Message{
		ID:              string(d.ID),
		Role:            ParseRole(d.Role),
		Body:            d.Content,
		Attachments:     d.Attachments.Normalize(),
		IsHandoffMarker: d.IsDerivhumano,
	}
	if t := ParseTime(d.CreatedAt); t != nil {
		msg.CreatedAt = *t
	}
	return msg
}

type MirrorMessage struct {
	ID             FlexID      `json:"id"`
	ConversationID *string     `json:"conversation_id"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	Timestamp      *string     `json:"timestamp"`
	Attachments    Attachments `json:"attachments"`
	CorrelationID  string      `json:"correlation_id"`
}

func (m MirrorMessage) Normalize() Message {
	msg := Message{
		ID:          string(m.ID),
		Role:        ParseRole(m.Role),
		Body:        m.Content,
		Attachments: m.Attachments.Normalize(),
	}
	if t := parseTimePtr(m.Timestamp); t != nil {
		msg.CreatedAt = *t
	}
	return msg
}

// UploadedFile is the direct backend's upload response.
type UploadedFile struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

func (u UploadedFile) Attachment() Attachment {
	return Attachment{
		Kind:     ParseAttachmentKind(u.Type),
		URL:      u.URL,
		FileName: u.FileName,
	}
}
