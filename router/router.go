package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/adriangmrraa/clinicforge/conversation"
	"github.com/adriangmrraa/clinicforge/events"
	"github.com/adriangmrraa/clinicforge/metrics"
	"github.com/adriangmrraa/clinicforge/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SoundCooldown is the minimum silence between two sounds for the same
// address.
const SoundCooldown = 30 * time.Second

const backgroundTimeout = 15 * time.Second

// Store is a summary store the router patches and refreshes.
type Store interface {
	Name() string
	Patch(match func(chat.ConversationSummary) bool, fn func(*chat.ConversationSummary)) int
	Refresh(ctx context.Context) error
}

// Conversation is the open conversation as seen by the router.
type Conversation interface {
	ActiveSummary() (chat.ConversationSummary, bool)
	AppendLive(address string, msg chat.Message) bool
	Refresh(ctx context.Context) error
	ReloadPatientContext(ctx context.Context) error
	SyncSummary(summary chat.ConversationSummary) bool
}

type Notifier interface {
	Info(title, message string)
	Success(title, message string)
	Warning(title, message string)
}

type SoundPlayer interface {
	Play(address string)
}

type Config struct {
	Direct       Store
	Mirror       Store
	Conversation Conversation
	Notifier     Notifier
	Sound        SoundPlayer
	Metrics      *metrics.Metrics
	Tenant       func() int64 // selected tenant, zero means all
	SoundEnabled bool
	Cooldown     time.Duration
	Now          func() time.Time
	NewID        func() string
}

// Router applies real-time events to the stores and the open conversation,
// one at a time in arrival order.
type Router struct {
	direct       Store
	mirror       Store
	conversation Conversation
	notifier     Notifier
	sound        SoundPlayer
	metrics      *metrics.Metrics
	tenant       func() int64
	cooldown     time.Duration
	now          func() time.Time
	newID        func() string

	soundEnabled atomic.Bool

	mu        sync.Mutex
	lastSound map[string]time.Time

	refreshMu  sync.Mutex
	refreshing map[string]*refreshState

	background sync.WaitGroup
}

type refreshState struct {
	running bool
	again   bool
}

func New(cfg Config) *Router {
	r := &Router{
		direct:       cfg.Direct,
		mirror:       cfg.Mirror,
		conversation: cfg.Conversation,
		notifier:     cfg.Notifier,
		sound:        cfg.Sound,
		metrics:      cfg.Metrics,
		tenant:       cfg.Tenant,
		cooldown:     cfg.Cooldown,
		now:          cfg.Now,
		newID:        cfg.NewID,
		lastSound:    make(map[string]time.Time),
		refreshing:   make(map[string]*refreshState),
	}
	if r.cooldown <= 0 {
		r.cooldown = SoundCooldown
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.tenant == nil {
		r.tenant = func() int64 { return 0 }
	}
	r.soundEnabled.Store(cfg.SoundEnabled)
	return r
}

func (r *Router) SetSoundEnabled(enabled bool) {
	r.soundEnabled.Store(enabled)
	log.Info().Bool("enabled", enabled).Msg("Notification sound toggled")
}

func (r *Router) SoundEnabled() bool {
	return r.soundEnabled.Load()
}

// Run consumes in until it is closed or ctx is done.
func (r *Router) Run(ctx context.Context, in <-chan events.Event) error {
	log.Info().Msg("Live event router started")
	defer log.Info().Msg("Live event router stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, ev)
		}
	}
}

// Wait blocks until the background work scheduled so far has finished.
func (r *Router) Wait() {
	r.background.Wait()
}

// Handle applies a single event.
func (r *Router) Handle(ctx context.Context, ev events.Event) {
	if ev == nil {
		return
	}
	if ev.Target() == "" {
		log.Debug().Str("type", string(ev.Type())).Msg("Dropping event without address")
		r.metrics.EventDropped("no-address")
		return
	}

	var handled bool
	switch e := ev.(type) {
	case events.NewMessageEvent:
		handled = r.handleNewMessage(ctx, e)
	case events.HumanHandoffEvent:
		handled = r.handleHandoff(e)
	case events.OverrideChangedEvent:
		handled = r.handleOverrideChanged(e)
	case events.SummaryPatchEvent:
		handled = r.handleSummaryPatch(e)
	case events.PatientUpdatedEvent:
		handled = r.handlePatientUpdated(ctx, e)
	case events.NewAppointmentEvent:
		handled = r.handleNewAppointment(ctx, e)
	default:
		log.Warn().Str("type", string(ev.Type())).Msg("Unhandled event type")
		r.metrics.EventDropped("unknown")
		return
	}

	if handled {
		r.metrics.EventRouted(string(ev.Type()))
	}
}

func (r *Router) handleNewMessage(ctx context.Context, e events.NewMessageEvent) bool {
	if !r.tenantMatches(e.Tenant()) {
		r.dropForTenant(e)
		return false
	}

	active, open := r.conversation.ActiveSummary()
	isActive := open && sameSource(active, e.Channel) && store.MatchAddress(e.Address)(active)

	if isActive && active.Source == chat.SourceDirect {
		// Stamped with the local clock: the duplicate window is measured
		// against it, not against the sender's timestamp.
		r.conversation.AppendLive(e.Address, chat.Message{
			ID:          r.newID(),
			Role:        e.Role,
			Body:        e.Body,
			Attachments: e.Attachments,
			CreatedAt:   r.now(),
		})
	}
	if isActive && active.Source == chat.SourceMirror {
		r.goBackground(ctx, func(bg context.Context) {
			if err := r.conversation.Refresh(bg); err != nil && !errors.Is(err, conversation.ErrStale) {
				log.Debug().Err(err).Str("address", e.Address).Msg("Skipped open conversation refresh")
			}
		})
	}

	if !isActive && e.Role == chat.RolePatient && r.SoundEnabled() && r.takeSoundSlot(e.Address) {
		r.playSound(e.Address)
	}

	r.patchPreview(e, isActive)

	r.refreshStore(ctx, r.direct)
	r.refreshStore(ctx, r.mirror)
	return true
}

// patchPreview shows the new message in the list before the background
// refresh lands.
func (r *Router) patchPreview(e events.NewMessageEvent, isActive bool) {
	target := r.direct
	if e.Channel.IsMirror() {
		target = r.mirror
	}
	if target == nil {
		return
	}

	at := e.ReceivedAt
	target.Patch(store.MatchAddress(e.Address), func(s *chat.ConversationSummary) {
		s.LastMessagePreview = e.Body
		if !at.IsZero() {
			s.LastMessageAt = &at
		}
		if e.Role == chat.RolePatient {
			if !at.IsZero() {
				s.LastInboundAt = &at
			}
			if !isActive {
				s.UnreadCount++
			}
		}
	})
}

func (r *Router) handleHandoff(e events.HumanHandoffEvent) bool {
	if !r.tenantMatches(e.Tenant()) {
		r.dropForTenant(e)
		return false
	}

	now := r.now()
	until := now.Add(conversation.OverrideDuration)
	r.patchEverywhere(e.Address, func(s *chat.ConversationSummary) {
		s.Status = chat.StatusHumanHandling
		s.IsLocked = true
		s.OverrideUntil = &until
		s.HandoffAt = &now
	}, r.direct, r.mirror)

	log.Info().Str("address", e.Address).Str("reason", e.Reason).Msg("Human handoff requested")

	if r.notifier != nil {
		msg := e.Address
		if e.Reason != "" {
			msg = fmt.Sprintf("%s: %s", e.Address, e.Reason)
		}
		r.notifier.Warning("Human handoff", msg)
	}
	if r.SoundEnabled() {
		r.markSound(e.Address)
		r.playSound(e.Address)
	}
	return true
}

func (r *Router) handleOverrideChanged(e events.OverrideChangedEvent) bool {
	if !r.tenantMatches(e.Tenant()) {
		r.dropForTenant(e)
		return false
	}

	r.patchEverywhere(e.Address, func(s *chat.ConversationSummary) {
		s.IsLocked = e.Enabled
		if e.Enabled {
			s.Status = chat.StatusSilenced
		} else {
			s.Status = chat.StatusActive
		}
		s.OverrideUntil = e.Until
	}, r.direct, r.mirror)
	return true
}

func (r *Router) handleSummaryPatch(e events.SummaryPatchEvent) bool {
	r.patchEverywhere(e.Address, e.Fields.Apply, r.direct)
	return true
}

func (r *Router) handlePatientUpdated(ctx context.Context, e events.PatientUpdatedEvent) bool {
	r.reloadPatientIfActive(ctx, e.Address)

	if e.Urgency != "" {
		r.patchEverywhere(e.Address, func(s *chat.ConversationSummary) {
			s.Urgency = e.Urgency
		}, r.direct, r.mirror)
	}
	return true
}

func (r *Router) handleNewAppointment(ctx context.Context, e events.NewAppointmentEvent) bool {
	r.reloadPatientIfActive(ctx, e.Address)

	if r.notifier != nil {
		r.notifier.Success("New appointment", "Appointment booked for "+e.Address)
	}
	return true
}

func (r *Router) reloadPatientIfActive(ctx context.Context, address string) {
	active, ok := r.conversation.ActiveSummary()
	if !ok || !store.MatchAddress(address)(active) {
		return
	}
	r.goBackground(ctx, func(bg context.Context) {
		if err := r.conversation.ReloadPatientContext(bg); err != nil && !errors.Is(err, conversation.ErrStale) {
			log.Warn().Err(err).Str("address", address).Msg("Failed to reload patient context")
		}
	})
}

// patchEverywhere applies fn to the matching summaries of the given stores
// and to the open conversation when it is one of them.
func (r *Router) patchEverywhere(address string, fn func(*chat.ConversationSummary), stores ...Store) {
	match := store.MatchAddress(address)

	sources := make(map[chat.Source]bool, 2)
	for _, s := range stores {
		if s == nil {
			continue
		}
		s.Patch(match, fn)
		if s == r.direct {
			sources[chat.SourceDirect] = true
		}
		if s == r.mirror {
			sources[chat.SourceMirror] = true
		}
	}

	active, ok := r.conversation.ActiveSummary()
	if !ok || !sources[active.Source] || !match(active) {
		return
	}
	fn(&active)
	r.conversation.SyncSummary(active)
}

func (r *Router) tenantMatches(tenantID *int64) bool {
	if tenantID == nil {
		return true
	}
	current := r.tenant()
	return current == 0 || *tenantID == current
}

func (r *Router) dropForTenant(e events.Event) {
	log.Debug().
		Str("type", string(e.Type())).
		Int64("tenant_id", *e.Tenant()).
		Msg("Dropping event for another tenant")
	r.metrics.EventDropped("tenant")
}

// takeSoundSlot reports whether more than the cooldown elapsed since the
// last sound for address, and records now as the last sound if so.
func (r *Router) takeSoundSlot(address string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.lastSound[address]; ok && now.Sub(last) <= r.cooldown {
		return false
	}
	r.lastSound[address] = now
	return true
}

// markSound restarts the cooldown for address without checking it.
func (r *Router) markSound(address string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSound[address] = now
}

func (r *Router) playSound(address string) {
	if r.sound == nil {
		return
	}
	r.sound.Play(address)
	r.metrics.SoundPlayed()
}

// refreshStore runs a background refresh of s. Requests arriving while one
// is in flight collapse into a single follow-up refresh.
func (r *Router) refreshStore(ctx context.Context, s Store) {
	if s == nil {
		return
	}

	r.refreshMu.Lock()
	st, ok := r.refreshing[s.Name()]
	if !ok {
		st = &refreshState{}
		r.refreshing[s.Name()] = st
	}
	if st.running {
		st.again = true
		r.refreshMu.Unlock()
		return
	}
	st.running = true
	r.refreshMu.Unlock()

	r.goBackground(ctx, func(bg context.Context) {
		for {
			if err := s.Refresh(bg); err != nil && !errors.Is(err, store.ErrStale) {
				log.Warn().Err(err).Str("store", s.Name()).Msg("Background refresh failed")
				r.metrics.RefreshFailed(s.Name())
			}

			r.refreshMu.Lock()
			if !st.again || bg.Err() != nil {
				st.running = false
				st.again = false
				r.refreshMu.Unlock()
				return
			}
			st.again = false
			r.refreshMu.Unlock()
		}
	})
}

func (r *Router) goBackground(parent context.Context, fn func(ctx context.Context)) {
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		ctx, cancel := context.WithTimeout(parent, backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func sameSource(summary chat.ConversationSummary, channel chat.Channel) bool {
	return channel.IsMirror() == (summary.Source == chat.SourceMirror)
}
