package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adriangmrraa/clinicforge/backend"
	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/conversation"
	"github.com/adriangmrraa/clinicforge/events"
	"github.com/adriangmrraa/clinicforge/merge"
	"github.com/adriangmrraa/clinicforge/metrics"
	"github.com/adriangmrraa/clinicforge/notify"
	"github.com/adriangmrraa/clinicforge/realtime"
	"github.com/adriangmrraa/clinicforge/router"
	"github.com/adriangmrraa/clinicforge/scroll"
	"github.com/adriangmrraa/clinicforge/store"
	"github.com/rs/zerolog/log"
)

const (
	// MirrorSummaryLimit is the page size of every mirror summary poll.
	MirrorSummaryLimit = 50

	DefaultMirrorPollInterval         = 10 * time.Second
	DefaultMirrorMessagesPollInterval = 40 * time.Second

	eventBuffer = 256
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnknownTenant        = errors.New("unknown tenant")
	ErrInvalidFilter        = errors.New("invalid filter")
)

// Backend is the clinic REST API as used by the console.
type Backend interface {
	conversation.Backend
	ListSessions(ctx context.Context, tenantID int64) ([]chat.ConversationSummary, error)
	InboxSummary(ctx context.Context, params backend.InboxSummaryParams) ([]chat.ConversationSummary, error)
	Tenants(ctx context.Context) ([]chat.Tenant, error)
}

// Realtime is the push channel feeding the router.
type Realtime interface {
	Run(ctx context.Context, out chan<- events.Event) error
	Status() (realtime.Status, time.Time)
}

type Config struct {
	Backend     Backend
	Uploader    conversation.Uploader
	Credentials *backend.Credentials
	Realtime    Realtime
	Notifier    *notify.Center
	Metrics     *metrics.Metrics

	TenantID     int64
	SoundEnabled bool

	MirrorPollInterval         time.Duration
	MirrorMessagesPollInterval time.Duration
	SessionPollInterval        time.Duration
}

// Engine wires the stores, the merged list, the open conversation and the
// live event router into one console session.
type Engine struct {
	backend     Backend
	credentials *backend.Credentials
	realtime    Realtime
	notifier    *notify.Center
	metrics     *metrics.Metrics

	mirrorPoll         time.Duration
	mirrorMessagesPoll time.Duration
	sessionPoll        time.Duration

	tenant atomic.Int64

	sessions     *store.Store
	inbox        *store.Store
	list         *merge.Live
	conversation *conversation.Controller
	scroll       *scroll.Controller
	router       *router.Router

	mu      sync.RWMutex
	tenants []chat.Tenant
}

func New(cfg Config) *Engine {
	e := &Engine{
		backend:            cfg.Backend,
		credentials:        cfg.Credentials,
		realtime:           cfg.Realtime,
		notifier:           cfg.Notifier,
		metrics:            cfg.Metrics,
		mirrorPoll:         cfg.MirrorPollInterval,
		mirrorMessagesPoll: cfg.MirrorMessagesPollInterval,
		sessionPoll:        cfg.SessionPollInterval,
		scroll:             scroll.NewController(),
	}
	if e.notifier == nil {
		e.notifier = notify.NewCenter(notify.Config{})
	}
	if e.mirrorPoll <= 0 {
		e.mirrorPoll = DefaultMirrorPollInterval
	}
	if e.mirrorMessagesPoll <= 0 {
		e.mirrorMessagesPoll = DefaultMirrorMessagesPollInterval
	}
	e.tenant.Store(cfg.TenantID)

	e.sessions = store.NewSessionStore(e.fetchSessions)
	e.inbox = store.NewInboxMirrorStore(e.fetchInbox)
	e.list = merge.NewLive(e.sessions, e.inbox, chat.Query{Filter: chat.FilterAll})

	e.conversation = conversation.NewController(conversation.Config{
		Backend:  cfg.Backend,
		Uploader: cfg.Uploader,
		Direct:   e.sessions,
		Mirror:   e.inbox,
		Notifier: e.notifier,
		Scroll:   e.scroll,
	})

	e.router = router.New(router.Config{
		Direct:       e.sessions,
		Mirror:       e.inbox,
		Conversation: e.conversation,
		Notifier:     e.notifier,
		Sound:        e.notifier,
		Metrics:      cfg.Metrics,
		Tenant:       e.TenantID,
		SoundEnabled: cfg.SoundEnabled,
	})

	e.sessions.Subscribe(func() { e.syncActive(chat.SourceDirect) })
	e.inbox.Subscribe(func() { e.syncActive(chat.SourceMirror) })
	return e
}

// Run loads the initial state and keeps it current until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.resolveTenant(ctx)
	e.refresh(ctx, e.sessions)
	e.refresh(ctx, e.inbox)

	in := make(chan events.Event, eventBuffer)
	var wg sync.WaitGroup

	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("worker", name).Msg("Console worker stopped")
			}
		}()
	}

	start("router", func() error { return e.router.Run(ctx, in) })
	if e.realtime != nil {
		start("realtime", func() error { return e.realtime.Run(ctx, in) })
	}
	start("inbox-poller", func() error {
		return e.poll(ctx, e.mirrorPoll, func() { e.refresh(ctx, e.inbox) })
	})
	start("mirror-messages-poller", func() error {
		return e.poll(ctx, e.mirrorMessagesPoll, func() { e.refreshOpenMirror(ctx) })
	})
	if e.sessionPoll > 0 {
		start("sessions-poller", func() error {
			return e.poll(ctx, e.sessionPoll, func() { e.refresh(ctx, e.sessions) })
		})
	}

	log.Info().Int64("tenant_id", e.TenantID()).Msg("Console engine started")

	<-ctx.Done()
	wg.Wait()
	e.router.Wait()
	e.conversation.Wait()
	e.notifier.Close()

	log.Info().Msg("Console engine stopped")
	return ctx.Err()
}

func (e *Engine) TenantID() int64 {
	return e.tenant.Load()
}

func (e *Engine) Tenants() []chat.Tenant {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]chat.Tenant, len(e.tenants))
	copy(out, e.tenants)
	return out
}

// SetTenant switches clinic: the open conversation is closed and the
// stores start over for the new tenant.
func (e *Engine) SetTenant(ctx context.Context, id int64) error {
	if tenants := e.Tenants(); len(tenants) > 0 && id != 0 {
		known := false
		for _, t := range tenants {
			known = known || t.ID == id
		}
		if !known {
			return fmt.Errorf("%w: %d", ErrUnknownTenant, id)
		}
	}

	e.tenant.Store(id)
	if e.credentials != nil {
		e.credentials.SetTenant(id)
	}
	e.conversation.Close()
	e.sessions.Reset()
	e.inbox.Reset()

	log.Info().Int64("tenant_id", id).Msg("Tenant selected")

	e.refresh(ctx, e.sessions)
	e.refresh(ctx, e.inbox)
	return nil
}

func (e *Engine) SetSoundEnabled(enabled bool) {
	e.router.SetSoundEnabled(enabled)
}

func (e *Engine) SoundEnabled() bool {
	return e.router.SoundEnabled()
}

// Conversations applies filter and search and returns the merged list.
// Changing the filter refetches the mirror summaries with the new channel.
func (e *Engine) Conversations(ctx context.Context, filter, search string) ([]chat.ConversationSummary, error) {
	previous := e.list.Query()
	f := previous.Filter
	if filter != "" {
		parsed, err := chat.ParseFilter(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		f = parsed
	}

	e.list.SetQuery(chat.Query{Filter: f, Search: search})
	if previous.Filter.MirrorParam() != f.MirrorParam() {
		e.refresh(ctx, e.inbox)
	}
	return e.list.List(), nil
}

// Select opens the conversation with the given identity key.
func (e *Engine) Select(ctx context.Context, key chat.IdentityKey) (conversation.Snapshot, error) {
	summary, ok := e.list.Find(key)
	if !ok {
		summary, ok = e.findAnywhere(key)
	}
	if !ok {
		return conversation.Snapshot{}, fmt.Errorf("%w: %s", ErrConversationNotFound, key)
	}

	if err := e.conversation.Select(ctx, summary); err != nil {
		return e.conversation.Snapshot(), err
	}
	return e.conversation.Snapshot(), nil
}

func (e *Engine) Active() conversation.Snapshot {
	return e.conversation.Snapshot()
}

func (e *Engine) CloseActive() {
	e.conversation.Close()
}

func (e *Engine) LoadOlder(ctx context.Context) error {
	return e.conversation.LoadOlder(ctx)
}

func (e *Engine) SetDraft(text string) error {
	return e.conversation.SetDraftText(text)
}

func (e *Engine) AttachFile(name string, data []byte) error {
	return e.conversation.AttachFile(name, data)
}

func (e *Engine) ClearAttachments() {
	e.conversation.ClearAttachments()
}

func (e *Engine) Send(ctx context.Context) error {
	active, ok := e.conversation.ActiveSummary()
	err := e.conversation.Send(ctx)
	if ok && !isRefusal(err) {
		e.metrics.MessageSent(string(active.Source), err)
	}
	return err
}

func (e *Engine) ToggleOverride(ctx context.Context) error {
	return e.conversation.ToggleOverride(ctx)
}

func (e *Engine) RemoveSilence(ctx context.Context) error {
	return e.conversation.RemoveSilence(ctx)
}

// Scroll records the viewport position and returns the current action.
func (e *Engine) Scroll(scrollTop, scrollHeight, clientHeight float64) (bool, scroll.Action) {
	atBottom := e.scroll.UpdatePosition(scrollTop, scrollHeight, clientHeight)
	return atBottom, e.scroll.Last()
}

func (e *Engine) Notifications() []notify.Toast {
	return e.notifier.List()
}

func (e *Engine) DismissNotification(id string) bool {
	return e.notifier.Dismiss(id)
}

// isRefusal reports errors returned before any network call was made.
func isRefusal(err error) bool {
	for _, target := range []error{
		conversation.ErrNoActiveConversation,
		conversation.ErrBusy,
		conversation.ErrEmptyMessage,
		conversation.ErrAttachmentsUnsupported,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Status struct {
	Realtime      realtime.Status `json:"realtime"`
	RealtimeSince time.Time       `json:"realtime_since"`
	TenantID      int64           `json:"tenant_id"`
	SoundEnabled  bool            `json:"sound_enabled"`
	Sessions      StoreStatus     `json:"sessions"`
	Inbox         StoreStatus     `json:"inbox"`
}

type StoreStatus struct {
	Loaded bool   `json:"loaded"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

func (e *Engine) Status() Status {
	s := Status{
		Realtime:     realtime.StatusDisconnected,
		TenantID:     e.TenantID(),
		SoundEnabled: e.SoundEnabled(),
		Sessions:     storeStatus(e.sessions),
		Inbox:        storeStatus(e.inbox),
	}
	if e.realtime != nil {
		s.Realtime, s.RealtimeSince = e.realtime.Status()
	}
	return s
}

func storeStatus(s *store.Store) StoreStatus {
	st := StoreStatus{Loaded: s.Loaded(), Count: len(s.Snapshot())}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (e *Engine) resolveTenant(ctx context.Context) {
	tenants, err := e.backend.Tenants(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load tenants")
		return
	}

	e.mu.Lock()
	e.tenants = tenants
	e.mu.Unlock()

	if e.TenantID() != 0 || len(tenants) == 0 {
		return
	}
	e.tenant.Store(tenants[0].ID)
	if e.credentials != nil {
		e.credentials.SetTenant(tenants[0].ID)
	}
	log.Info().
		Int64("tenant_id", tenants[0].ID).
		Str("clinic", tenants[0].ClinicName).
		Msg("Defaulting to first tenant")
}

func (e *Engine) fetchSessions(ctx context.Context) ([]chat.ConversationSummary, error) {
	return e.backend.ListSessions(ctx, e.TenantID())
}

func (e *Engine) fetchInbox(ctx context.Context) ([]chat.ConversationSummary, error) {
	return e.backend.InboxSummary(ctx, backend.InboxSummaryParams{
		Limit:   MirrorSummaryLimit,
		Channel: e.list.Query().Filter.MirrorParam(),
	})
}

func (e *Engine) refresh(ctx context.Context, s *store.Store) {
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, store.ErrStale) && ctx.Err() == nil {
		log.Warn().Err(err).Str("store", s.Name()).Msg("Refresh failed")
		e.metrics.RefreshFailed(s.Name())
	}
}

func (e *Engine) refreshOpenMirror(ctx context.Context) {
	active, ok := e.conversation.ActiveSummary()
	if !ok || active.Source != chat.SourceMirror {
		return
	}
	if err := e.conversation.Refresh(ctx); err != nil && !errors.Is(err, conversation.ErrStale) && !errors.Is(err, conversation.ErrBusy) {
		log.Warn().Err(err).Str("key", active.Key.String()).Msg("Failed to poll mirror messages")
	}
}

func (e *Engine) poll(ctx context.Context, every time.Duration, fn func()) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// syncActive copies the store's version of the open conversation into the
// controller after a poll or a patch.
func (e *Engine) syncActive(source chat.Source) {
	active, ok := e.conversation.ActiveSummary()
	if !ok || active.Source != source {
		return
	}

	var (
		fresh chat.ConversationSummary
		found bool
	)
	if source == chat.SourceDirect {
		fresh, found = e.sessions.Get(active.Key)
	} else {
		fresh, found = e.inbox.Find(store.MatchConversationID(active.ConversationID))
	}
	if found {
		e.conversation.SyncSummary(fresh)
	}
}

func (e *Engine) findAnywhere(key chat.IdentityKey) (chat.ConversationSummary, bool) {
	if s, ok := e.sessions.Get(key); ok {
		return s, true
	}
	return e.inbox.Get(key)
}
