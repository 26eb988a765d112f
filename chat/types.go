package chat

import "time"

type Source string

const (
	SourceDirect Source = "direct"
	SourceMirror Source = "mirror"
)

type Status string

const (
	StatusActive        Status = "active"
	StatusHumanHandling Status = "human_handling"
	StatusPaused        Status = "paused"
	StatusSilenced      Status = "silenced"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusHumanHandling, StatusPaused, StatusSilenced:
		return true
	}
	return false
}

// ConversationSummary is the normalized list row shared by both stores.
type ConversationSummary struct {
	Key                IdentityKey `json:"key"`
	Channel            Channel     `json:"channel"`
	Source             Source      `json:"source"`
	Address            string      `json:"address"`
	ConversationID     string      `json:"conversation_id,omitempty"`
	TenantID           int64       `json:"tenant_id,omitempty"`
	PatientID          *int64      `json:"patient_id,omitempty"`
	DisplayName        string      `json:"display_name"`
	AvatarURL          string      `json:"avatar_url,omitempty"`
	LastMessagePreview string      `json:"last_message_preview"`
	LastMessageAt      *time.Time  `json:"last_message_at,omitempty"`
	LastInboundAt      *time.Time  `json:"last_inbound_at,omitempty"`
	UnreadCount        int         `json:"unread_count"`
	IsLocked           bool        `json:"is_locked"`
	Status             Status      `json:"status"`
	OverrideUntil      *time.Time  `json:"override_until,omitempty"`
	HandoffAt          *time.Time  `json:"handoff_at,omitempty"`
	Urgency            string      `json:"urgency,omitempty"`
	// BackendWindowOpen is the direct backend's own window flag, used only
	// when no inbound timestamp is known.
	BackendWindowOpen *bool `json:"backend_window_open,omitempty"`
}

func (s ConversationSummary) HasAvatar() bool {
	return s.AvatarURL != ""
}

type Role string

const (
	RolePatient        Role = "patient"
	RoleAutomatedAgent Role = "automated-agent"
	RoleHumanAgent     Role = "human-agent"
	RoleSystem         Role = "system"
)

// ParseRole maps backend role names onto sender roles.
func ParseRole(s string) Role {
	switch s {
	case "user", "patient", "incoming", "contact":
		return RolePatient
	case "assistant", "bot", "automated-agent", "ai":
		return RoleAutomatedAgent
	case "human_supervisor", "human", "agent", "human-agent", "outgoing":
		return RoleHumanAgent
	default:
		return RoleSystem
	}
}

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

func ParseAttachmentKind(s string) AttachmentKind {
	switch s {
	case "image", "audio", "video":
		return AttachmentKind(s)
	default:
		return AttachmentFile
	}
}

type Attachment struct {
	Kind          AttachmentKind `json:"kind"`
	URL           string         `json:"url"`
	FileName      string         `json:"file_name,omitempty"`
	SizeBytes     int64          `json:"size_bytes,omitempty"`
	Transcription string         `json:"transcription,omitempty"`
}

type Message struct {
	ID              string       `json:"id"`
	Role            Role         `json:"role"`
	Body            string       `json:"body"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	IsHandoffMarker bool         `json:"is_handoff_marker,omitempty"`
	// Pending marks a locally sent message not yet confirmed by the backend.
	Pending bool   `json:"pending,omitempty"`
	TempID  string `json:"temp_id,omitempty"`
}

type Appointment struct {
	Date             string `json:"date"`
	Type             string `json:"type"`
	DurationMinutes  int    `json:"duration_minutes,omitempty"`
	ProfessionalName string `json:"professional_name,omitempty"`
}

type AdAttribution struct {
	Source   string `json:"acquisition_source,omitempty"`
	Headline string `json:"meta_ad_headline,omitempty"`
	Body     string `json:"meta_ad_body,omitempty"`
	AdID     string `json:"meta_ad_id,omitempty"`
}

type PatientProfile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AdAttribution
}

// PatientContext is the read-only clinical side panel data for an address.
type PatientContext struct {
	PatientID           *int64          `json:"patient_id,omitempty"`
	PatientName         string          `json:"patient_name,omitempty"`
	UrgencyLevel        string          `json:"urgency_level,omitempty"`
	UrgencyReason       string          `json:"urgency_reason,omitempty"`
	UpcomingAppointment *Appointment    `json:"upcoming_appointment,omitempty"`
	LastAppointment     *Appointment    `json:"last_appointment,omitempty"`
	TreatmentPlan       any             `json:"treatment_plan,omitempty"`
	Diagnosis           string          `json:"diagnosis,omitempty"`
	Patient             *PatientProfile `json:"patient,omitempty"`
}

// Ad returns the ad attribution when the patient did not arrive organically.
func (p *PatientContext) Ad() *AdAttribution {
	if p == nil || p.Patient == nil {
		return nil
	}
	ad := p.Patient.AdAttribution
	if ad.Source == "" || ad.Source == "ORGANIC" || ad.Headline == "" {
		return nil
	}
	return &ad
}

type Tenant struct {
	ID         int64  `json:"id"`
	ClinicName string `json:"clinic_name"`
}
