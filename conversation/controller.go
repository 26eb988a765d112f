package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adriangmrraa/clinicforge/backend"
	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/execution"
	"github.com/adriangmrraa/clinicforge/scroll"
	"github.com/adriangmrraa/clinicforge/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPageSize = 50
	// OverrideDuration is how long a manual human override silences the
	// automated agent.
	OverrideDuration = 24 * time.Hour

	// DedupWindow bounds the role and body heuristic for live echoes.
	DedupWindow = 5 * time.Second

	backgroundTimeout = 15 * time.Second
)

const (
	slotSelect  = "select"
	slotOlder   = "older"
	slotRefresh = "refresh"
	slotPatient = "patient"
)

var (
	ErrNoActiveConversation   = errors.New("no active conversation")
	ErrWindowClosed           = backend.ErrWindowClosed
	ErrEmptyMessage           = errors.New("message is empty")
	ErrBusy                   = errors.New("another operation is in progress")
	ErrNoMoreHistory          = errors.New("no older messages")
	ErrAttachmentsUnsupported = errors.New("attachments are only supported on direct conversations")
	ErrNotSilenced            = errors.New("conversation is not silenced")
	ErrUnsupported            = errors.New("operation not supported on this channel")
	// ErrStale is returned when a response arrived for a conversation that
	// is no longer open, or was superseded by a newer request.
	ErrStale = errors.New("stale response discarded")
)

type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateLoaded      State = "loaded"
	StateLoadingMore State = "loading_more"
	StateSending     State = "sending"
	StateError       State = "error"
)

type Config struct {
	Backend  Backend
	Uploader Uploader
	Direct   SummaryStore
	Mirror   SummaryStore
	Notifier Notifier
	Scroll   ScrollListener
	PageSize int
	Now      func() time.Time
	NewID    func() string
}

// Controller owns the open conversation: its message buffer, pagination,
// draft and the operations performed on it.
type Controller struct {
	backend  Backend
	uploader Uploader
	direct   SummaryStore
	mirror   SummaryStore
	notifier Notifier
	scroll   ScrollListener
	pageSize int
	now      func() time.Time
	newID    func() string

	executions *execution.Manager
	background sync.WaitGroup

	mu       sync.Mutex
	state    State
	summary  *chat.ConversationSummary
	messages []chat.Message
	offset   int
	hasMore  bool
	patient  *chat.PatientContext
	draft    Draft
	lastErr  error
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		backend:    cfg.Backend,
		uploader:   cfg.Uploader,
		direct:     cfg.Direct,
		mirror:     cfg.Mirror,
		notifier:   cfg.Notifier,
		scroll:     cfg.Scroll,
		pageSize:   cfg.PageSize,
		now:        cfg.Now,
		newID:      cfg.NewID,
		executions: execution.NewManager(),
		state:      StateIdle,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Select opens a conversation and loads its newest page. Marking it read
// and loading the patient context run in the background.
func (c *Controller) Select(ctx context.Context, summary chat.ConversationSummary) error {
	c.mu.Lock()
	for _, slot := range []string{slotOlder, slotRefresh, slotPatient} {
		c.executions.Cancel(slot)
	}
	selected := summary
	c.summary = &selected
	c.messages = nil
	c.patient = nil
	c.offset = 0
	c.hasMore = false
	c.draft = Draft{}
	c.lastErr = nil
	c.state = StateLoading
	loadCtx, ticket := c.executions.Start(ctx, slotSelect)
	c.mu.Unlock()

	if c.scroll != nil {
		c.scroll.Reset()
	}

	log.Info().
		Str("key", summary.Key.String()).
		Str("channel", string(summary.Channel)).
		Msg("Opening conversation")

	c.goBackground(ctx, func(bg context.Context) { c.markRead(bg, summary) })
	c.goBackground(ctx, func(bg context.Context) { c.ReloadPatientContext(bg) })

	msgs, err := c.fetchPage(loadCtx, summary, 0)

	c.mu.Lock()
	if !c.isCurrent(summary.Key, ticket) {
		c.mu.Unlock()
		log.Debug().Str("key", summary.Key.String()).Msg("Discarding stale history response")
		return ErrStale
	}
	c.executions.Cleanup(ticket)

	if err != nil {
		c.state = StateError
		c.lastErr = err
		c.mu.Unlock()
		log.Error().Err(err).Str("key", summary.Key.String()).Msg("Failed to load conversation history")
		return err
	}

	c.messages = msgs
	c.offset = c.pageSize
	c.hasMore = len(msgs) == c.pageSize
	c.state = StateLoaded
	c.mu.Unlock()

	c.mutated(scroll.MutationInitialLoad)
	return nil
}

// LoadOlder prepends the next page of history.
func (c *Controller) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.summary == nil {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}
	if c.state != StateLoaded {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.hasMore {
		c.mu.Unlock()
		return ErrNoMoreHistory
	}
	summary := *c.summary
	offset := c.offset
	c.state = StateLoadingMore
	loadCtx, ticket := c.executions.Start(ctx, slotOlder)
	c.mu.Unlock()

	msgs, err := c.fetchPage(loadCtx, summary, offset)

	c.mu.Lock()
	if !c.isCurrent(summary.Key, ticket) {
		c.mu.Unlock()
		return ErrStale
	}
	c.executions.Cleanup(ticket)
	c.state = StateLoaded

	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		log.Error().Err(err).Str("key", summary.Key.String()).Int("offset", offset).Msg("Failed to load older messages")
		return err
	}

	present := make(map[string]struct{}, len(c.messages))
	for _, m := range c.messages {
		present[m.ID] = struct{}{}
	}
	older := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := present[m.ID]; !dup {
			older = append(older, m)
		}
	}

	c.messages = append(older, c.messages...)
	c.offset += c.pageSize
	c.hasMore = len(msgs) == c.pageSize
	c.mu.Unlock()

	c.mutated(scroll.MutationPrepend)
	return nil
}

// Refresh re-fetches the newest page and replaces the buffer. Local sends
// not yet confirmed by the backend are kept at the end.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.summary == nil {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}
	switch c.state {
	case StateLoaded, StateLoadingMore, StateSending:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	summary := *c.summary
	loadCtx, ticket := c.executions.Start(ctx, slotRefresh)
	c.mu.Unlock()

	msgs, err := c.fetchPage(loadCtx, summary, 0)

	c.mu.Lock()
	if !c.isCurrent(summary.Key, ticket) {
		c.mu.Unlock()
		return ErrStale
	}
	c.executions.Cleanup(ticket)

	if err != nil {
		c.mu.Unlock()
		log.Warn().Err(err).Str("key", summary.Key.String()).Msg("Failed to refresh conversation")
		return err
	}

	if c.state == StateLoadingMore {
		c.executions.Cancel(slotOlder)
		c.state = StateLoaded
	}
	c.messages = reconcilePending(msgs, c.messages)
	c.offset = c.pageSize
	c.hasMore = len(msgs) == c.pageSize
	c.mu.Unlock()

	c.mutated(scroll.MutationReplace)
	return nil
}

// AppendLive adds a pushed message to the open conversation. It first
// confirms a matching pending send, then drops echoes of a message with the
// same role and body seen in the last five seconds.
func (c *Controller) AppendLive(address string, msg chat.Message) bool {
	c.mu.Lock()
	if !c.matchesActive(address) {
		c.mu.Unlock()
		return false
	}

	if msg.Role != chat.RolePatient {
		for i, m := range c.messages {
			if m.Pending && m.Body == msg.Body {
				msg.Pending = false
				msg.TempID = ""
				c.messages[i] = msg
				c.mu.Unlock()
				c.mutated(scroll.MutationReplace)
				return true
			}
		}
	}

	cutoff := c.now().Add(-DedupWindow)
	for _, m := range c.messages {
		if m.Role == msg.Role && m.Body == msg.Body && m.CreatedAt.After(cutoff) {
			c.mu.Unlock()
			log.Debug().Str("address", address).Msg("Dropping duplicate live message")
			return false
		}
	}

	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	c.mutated(scroll.MutationAppend)
	return true
}

// SyncSummary replaces the open conversation's summary after a store patch.
func (c *Controller) SyncSummary(summary chat.ConversationSummary) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.summary == nil || c.summary.Key != summary.Key || c.summary.Source != summary.Source {
		return false
	}
	updated := summary
	c.summary = &updated
	return true
}

// ReloadPatientContext fetches the clinical context for the open
// conversation. Mirrored conversations only have one when their external
// id is a phone number.
func (c *Controller) ReloadPatientContext(ctx context.Context) error {
	c.mu.Lock()
	if c.summary == nil {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}
	summary := *c.summary
	loadCtx, ticket := c.executions.Start(ctx, slotPatient)
	c.mu.Unlock()

	address, ok := patientAddress(summary)
	if !ok {
		c.executions.Cleanup(ticket)
		return nil
	}

	var tenantID int64
	if summary.Source == chat.SourceDirect {
		tenantID = summary.TenantID
	}

	pc, err := c.backend.PatientContext(loadCtx, address, tenantID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrent(summary.Key, ticket) {
		return ErrStale
	}
	c.executions.Cleanup(ticket)

	if err != nil {
		c.patient = nil
		log.Warn().Err(err).Str("address", address).Msg("Failed to load patient context")
		return err
	}
	c.patient = pc
	return nil
}

// Close leaves the conversation and aborts its in-flight requests.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, slot := range []string{slotSelect, slotOlder, slotRefresh, slotPatient} {
		c.executions.Cancel(slot)
	}
	c.summary = nil
	c.messages = nil
	c.patient = nil
	c.offset = 0
	c.hasMore = false
	c.draft = Draft{}
	c.lastErr = nil
	c.state = StateIdle
	c.mu.Unlock()

	if c.scroll != nil {
		c.scroll.Reset()
	}
}

// Wait blocks until background work started by Select has finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

func (c *Controller) ActiveSummary() (chat.ConversationSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.summary == nil {
		return chat.ConversationSummary{}, false
	}
	return *c.summary, true
}

// IsActive reports whether address belongs to the open conversation.
func (c *Controller) IsActive(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchesActive(address)
}

// matchesActive must be called with c.mu held.
func (c *Controller) matchesActive(address string) bool {
	return c.summary != nil && store.MatchAddress(address)(*c.summary)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]chat.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) mutated(m scroll.Mutation) {
	if c.scroll != nil {
		c.scroll.OnMutation(m)
	}
}

// isCurrent must be called with c.mu held.
func (c *Controller) isCurrent(key chat.IdentityKey, ticket execution.Ticket) bool {
	return c.summary != nil && c.summary.Key == key && c.executions.Current(ticket)
}

func (c *Controller) fetchPage(ctx context.Context, summary chat.ConversationSummary, offset int) ([]chat.Message, error) {
	if summary.Source == chat.SourceDirect {
		return c.backend.SessionMessages(ctx, summary.Address, summary.TenantID, c.pageSize, offset)
	}

	msgs, err := c.backend.InboxMessages(ctx, summary.ConversationID, c.pageSize, offset)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (c *Controller) markRead(ctx context.Context, summary chat.ConversationSummary) {
	var err error
	if summary.Source == chat.SourceDirect {
		err = c.backend.MarkSessionRead(ctx, summary.Address, summary.TenantID)
	} else {
		err = c.backend.MarkInboxRead(ctx, summary.ConversationID)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", summary.Key.String()).Msg("Failed to mark conversation read")
		return
	}

	c.patchSummary(summary, func(s *chat.ConversationSummary) { s.UnreadCount = 0 })
}

// patchSummary applies fn to the store row and to the open summary.
func (c *Controller) patchSummary(summary chat.ConversationSummary, fn func(*chat.ConversationSummary)) {
	target := c.direct
	match := store.MatchKey(summary.Key)
	if summary.Source == chat.SourceMirror {
		target = c.mirror
		match = store.MatchConversationID(summary.ConversationID)
	}
	if target != nil {
		target.Patch(match, fn)
	}

	c.mu.Lock()
	if c.summary != nil && c.summary.Key == summary.Key && c.summary.Source == summary.Source {
		fn(c.summary)
	}
	c.mu.Unlock()
}

func (c *Controller) goBackground(parent context.Context, fn func(ctx context.Context)) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func patientAddress(summary chat.ConversationSummary) (string, bool) {
	if summary.Source == chat.SourceDirect {
		return summary.Address, summary.Address != ""
	}
	if summary.Channel.Family() == chat.FamilyWhatsApp && chat.IsPhoneNumber(summary.Address) {
		return chat.NormalizeAddress(chat.ChannelWhatsAppMirror, summary.Address), true
	}
	return "", false
}

// reconcilePending keeps local sends that the fresh page does not contain
// yet.
func reconcilePending(fresh, current []chat.Message) []chat.Message {
	out := make([]chat.Message, len(fresh), len(fresh)+1)
	copy(out, fresh)

	for _, m := range current {
		if !m.Pending {
			continue
		}
		confirmed := false
		for _, f := range fresh {
			if f.Role != chat.RolePatient && f.Body == m.Body && !f.CreatedAt.Before(m.CreatedAt.Add(-DedupWindow)) {
				confirmed = true
				break
			}
		}
		if !confirmed {
			out = append(out, m)
		}
	}
	return out
}
