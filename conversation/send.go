package conversation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/scroll"
	"github.com/rs/zerolog/log"
)

// PendingFile is an attachment picked by the operator, uploaded on send.
type PendingFile struct {
	Name string
	Data []byte
}

// Draft is the unsent composer content of the open conversation.
type Draft struct {
	Text  string
	Files []PendingFile
}

func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Files) == 0
}

func (c *Controller) SetDraftText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.summary == nil {
		return ErrNoActiveConversation
	}
	c.draft.Text = text
	return nil
}

// AttachFile queues a file for the next send. Only direct conversations
// accept attachments.
func (c *Controller) AttachFile(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.summary == nil {
		return ErrNoActiveConversation
	}
	if c.summary.Source != chat.SourceDirect {
		return ErrAttachmentsUnsupported
	}
	c.draft.Files = append(c.draft.Files, PendingFile{Name: name, Data: data})
	return nil
}

func (c *Controller) ClearAttachments() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Files = nil
}

// Send delivers the draft. It refuses without any network call when the
// reply window is closed. A pending local entry is shown immediately and
// removed again if the send fails, in which case the draft is kept.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.summary == nil {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}
	summary := *c.summary
	if !summary.WindowOpen(c.now()) {
		c.mu.Unlock()
		return ErrWindowClosed
	}
	if c.state != StateLoaded {
		c.mu.Unlock()
		return ErrBusy
	}
	draft := c.draft
	if draft.Empty() {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if summary.Source != chat.SourceDirect && len(draft.Files) > 0 {
		c.mu.Unlock()
		return ErrAttachmentsUnsupported
	}

	text := strings.TrimSpace(draft.Text)
	tempID := c.newID()
	pending := chat.Message{
		ID:        tempID,
		TempID:    tempID,
		Role:      chat.RoleHumanAgent,
		Body:      text,
		CreatedAt: c.now(),
		Pending:   true,
	}
	for _, f := range draft.Files {
		pending.Attachments = append(pending.Attachments, chat.Attachment{Kind: chat.AttachmentFile, FileName: f.Name})
	}
	c.messages = append(c.messages, pending)
	c.state = StateSending
	c.mu.Unlock()

	c.mutated(scroll.MutationAppend)

	err := c.deliver(ctx, summary, text, draft.Files)

	c.mu.Lock()
	active := c.summary != nil && c.summary.Key == summary.Key
	if active && c.state == StateSending {
		c.state = StateLoaded
	}

	if err != nil {
		if active {
			c.removePending(tempID)
			c.lastErr = err
		}
		c.mu.Unlock()

		if active {
			c.mutated(scroll.MutationReplace)
		}
		c.reportSendError(summary, err)
		return err
	}

	if active {
		c.draft = Draft{}
	}
	c.mu.Unlock()

	log.Info().Str("key", summary.Key.String()).Msg("Message sent")

	if active {
		if refreshErr := c.Refresh(ctx); refreshErr != nil && !errors.Is(refreshErr, ErrStale) {
			log.Warn().Err(refreshErr).Str("key", summary.Key.String()).Msg("Failed to refresh after send")
		}
	}
	return nil
}

func (c *Controller) deliver(ctx context.Context, summary chat.ConversationSummary, text string, files []PendingFile) error {
	if summary.Source != chat.SourceDirect {
		return c.backend.SendInbox(ctx, summary.ConversationID, text)
	}

	attachments := make([]chat.Attachment, 0, len(files))
	for _, f := range files {
		if c.uploader == nil {
			return fmt.Errorf("no uploader configured for %s", f.Name)
		}
		att, err := c.uploader.Upload(ctx, summary.TenantID, f.Name, bytes.NewReader(f.Data))
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", f.Name, err)
		}
		attachments = append(attachments, att)
	}

	return c.backend.SendDirect(ctx, summary.Address, summary.TenantID, text, attachments)
}

// removePending must be called with c.mu held.
func (c *Controller) removePending(tempID string) {
	for i, m := range c.messages {
		if m.Pending && m.TempID == tempID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

func (c *Controller) reportSendError(summary chat.ConversationSummary, err error) {
	log.Error().Err(err).Str("key", summary.Key.String()).Msg("Failed to send message")
	if c.notifier == nil {
		return
	}
	if errors.Is(err, ErrWindowClosed) {
		c.notifier.Warning("Window closed", "The 24h reply window expired, only template messages are allowed")
		return
	}
	c.notifier.Error("Message not sent", err.Error())
}

// ToggleOverride flips the human override of the open conversation.
func (c *Controller) ToggleOverride(ctx context.Context) error {
	summary, ok := c.ActiveSummary()
	if !ok {
		return ErrNoActiveConversation
	}
	activate := !summary.IsLocked

	var err error
	if summary.Source == chat.SourceDirect {
		err = c.backend.SetHumanIntervention(ctx, summary.Address, summary.TenantID, activate, OverrideDuration.Milliseconds())
	} else {
		err = c.backend.SetInboxOverride(ctx, summary.ConversationID, activate)
	}
	if err != nil {
		log.Error().Err(err).Str("key", summary.Key.String()).Bool("activate", activate).Msg("Failed to toggle human override")
		if c.notifier != nil {
			c.notifier.Error("Override not changed", err.Error())
		}
		return err
	}

	now := c.now()
	c.patchSummary(summary, func(s *chat.ConversationSummary) {
		s.IsLocked = activate
		if activate {
			until := now.Add(OverrideDuration)
			s.Status = chat.StatusSilenced
			s.OverrideUntil = &until
			return
		}
		s.Status = chat.StatusActive
		s.OverrideUntil = nil
	})

	log.Info().Str("key", summary.Key.String()).Bool("activate", activate).Msg("Human override changed")
	return nil
}

// RemoveSilence lifts the lock set by an automatic handoff.
func (c *Controller) RemoveSilence(ctx context.Context) error {
	summary, ok := c.ActiveSummary()
	if !ok {
		return ErrNoActiveConversation
	}
	if summary.Source != chat.SourceDirect {
		return ErrUnsupported
	}
	if summary.OverrideUntil == nil {
		return ErrNotSilenced
	}

	if err := c.backend.RemoveSilence(ctx, summary.Address, summary.TenantID); err != nil {
		log.Error().Err(err).Str("key", summary.Key.String()).Msg("Failed to remove silence")
		if c.notifier != nil {
			c.notifier.Error("Silence not removed", err.Error())
		}
		return err
	}

	c.patchSummary(summary, func(s *chat.ConversationSummary) {
		s.Status = chat.StatusActive
		s.IsLocked = false
		s.OverrideUntil = nil
		s.HandoffAt = nil
	})
	return nil
}

// Snapshot is a consistent read of the open conversation.
type Snapshot struct {
	State      State                     `json:"state"`
	Summary    *chat.ConversationSummary `json:"summary,omitempty"`
	Messages   []chat.Message            `json:"messages"`
	HasMore    bool                      `json:"has_more"`
	Patient    *chat.PatientContext      `json:"patient,omitempty"`
	DraftText  string                    `json:"draft_text"`
	DraftFiles []string                  `json:"draft_files,omitempty"`
	WindowOpen bool                      `json:"window_open"`
	CanSend    bool                      `json:"can_send"`
	Error      string                    `json:"error,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		HasMore:   c.hasMore,
		Patient:   c.patient,
		DraftText: c.draft.Text,
		Messages:  make([]chat.Message, len(c.messages)),
	}
	copy(snap.Messages, c.messages)
	for _, f := range c.draft.Files {
		snap.DraftFiles = append(snap.DraftFiles, f.Name)
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	if c.summary != nil {
		s := *c.summary
		snap.Summary = &s
		snap.WindowOpen = s.WindowOpen(c.now())
		snap.CanSend = snap.WindowOpen && c.state == StateLoaded
	}
	return snap
}
