package conversation

import (
	"context"
	"io"

	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/scroll"
)

// Backend is the subset of the clinic REST client the controller needs.
type Backend interface {
	SessionMessages(ctx context.Context, address string, tenantID int64, limit, offset int) ([]chat.Message, error)
	InboxMessages(ctx context.Context, conversationID string, limit, offset int) ([]chat.Message, error)
	MarkSessionRead(ctx context.Context, address string, tenantID int64) error
	MarkInboxRead(ctx context.Context, conversationID string) error
	SendDirect(ctx context.Context, address string, tenantID int64, message string, attachments []chat.Attachment) error
	SendInbox(ctx context.Context, conversationID, message string) error
	SetHumanIntervention(ctx context.Context, address string, tenantID int64, activate bool, duration int64) error
	SetInboxOverride(ctx context.Context, conversationID string, enabled bool) error
	RemoveSilence(ctx context.Context, address string, tenantID int64) error
	PatientContext(ctx context.Context, address string, tenantID int64) (*chat.PatientContext, error)
}

// Uploader stores an outgoing attachment and returns where it lives.
type Uploader interface {
	Upload(ctx context.Context, tenantID int64, fileName string, content io.Reader) (chat.Attachment, error)
}

// SummaryStore is the write side of a conversation store.
type SummaryStore interface {
	Patch(match func(chat.ConversationSummary) bool, fn func(*chat.ConversationSummary)) int
}

type Notifier interface {
	Warning(title, message string)
	Error(title, message string)
}

// ScrollListener receives every mutation of the message buffer.
type ScrollListener interface {
	OnMutation(m scroll.Mutation) scroll.Action
	Reset()
}
