package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adriangmrraa/clinicforge/chat"
	"github.com/rs/zerolog/log"
)

// ErrStale is returned when a refresh finished after a newer one was applied
// or after the store was reset.
var ErrStale = errors.New("stale refresh discarded")

// FetchFunc loads the full, normalized collection from the backend.
type FetchFunc func(ctx context.Context) ([]chat.ConversationSummary, error)

// Store holds one backend's conversation summaries. Polls replace the whole
// collection; push events patch individual rows.
type Store struct {
	name  string
	fetch FetchFunc

	mu        sync.RWMutex
	items     []chat.ConversationSummary
	loaded    bool
	lastErr   error
	started   uint64
	applied   uint64
	epoch     uint64
	listeners []func()
}

func New(name string, fetch FetchFunc) *Store {
	return &Store{name: name, fetch: fetch}
}

// NewSessionStore holds first-party sessions keyed by address.
func NewSessionStore(fetch FetchFunc) *Store {
	return New("sessions", fetch)
}

// NewInboxMirrorStore holds mirror summaries keyed by conversation id.
func NewInboxMirrorStore(fetch FetchFunc) *Store {
	return New("inbox", fetch)
}

func (s *Store) Name() string {
	return s.name
}

// Subscribe registers fn to run after every replace, patch or reset.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify() {
	s.mu.RLock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// Refresh fetches and replaces the collection. Only a result newer than the
// last applied one is kept. A failed first load leaves an empty, loaded
// store; later failures keep the previous snapshot.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.started++
	seq := s.started
	epoch := s.epoch
	s.mu.Unlock()

	items, err := s.fetch(ctx)

	s.mu.Lock()
	if epoch != s.epoch || seq < s.applied {
		s.mu.Unlock()
		log.Debug().Str("store", s.name).Uint64("seq", seq).Msg("Discarding stale refresh")
		return ErrStale
	}

	if err != nil {
		s.lastErr = err
		first := !s.loaded
		if first {
			s.loaded = true
			s.items = nil
		}
		s.mu.Unlock()

		if first {
			s.notify()
		}
		return fmt.Errorf("failed to refresh %s: %w", s.name, err)
	}

	s.items = items
	s.loaded = true
	s.lastErr = nil
	s.applied = seq
	s.mu.Unlock()

	s.notify()
	return nil
}

// Reset returns the store to the never-loaded state, used on tenant change.
// Refreshes still in flight are discarded when they finish.
func (s *Store) Reset() {
	s.mu.Lock()
	s.epoch++
	s.items = nil
	s.loaded = false
	s.lastErr = nil
	s.applied = 0
	s.started = 0
	s.mu.Unlock()

	s.notify()
}

func (s *Store) Snapshot() []chat.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.ConversationSummary, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Store) Get(key chat.IdentityKey) (chat.ConversationSummary, bool) {
	return s.Find(func(c chat.ConversationSummary) bool { return c.Key == key })
}

func (s *Store) Find(match func(chat.ConversationSummary) bool) (chat.ConversationSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if match(item) {
			return item, true
		}
	}
	return chat.ConversationSummary{}, false
}

// Patch applies fn to every summary accepted by match and returns how many
// rows changed.
func (s *Store) Patch(match func(chat.ConversationSummary) bool, fn func(*chat.ConversationSummary)) int {
	s.mu.Lock()
	patched := 0
	for i := range s.items {
		if match(s.items[i]) {
			fn(&s.items[i])
			patched++
		}
	}
	s.mu.Unlock()

	if patched > 0 {
		s.notify()
	}
	return patched
}

// MatchAddress matches a summary by raw or normalized address.
func MatchAddress(address string) func(chat.ConversationSummary) bool {
	return func(c chat.ConversationSummary) bool {
		if address == "" {
			return false
		}
		return c.Address == address || c.Key.Address == chat.NormalizeAddress(c.Channel, address)
	}
}

func MatchKey(key chat.IdentityKey) func(chat.ConversationSummary) bool {
	return func(c chat.ConversationSummary) bool {
		return c.Key == key
	}
}

func MatchConversationID(id string) func(chat.ConversationSummary) bool {
	return func(c chat.ConversationSummary) bool {
		return id != "" && c.ConversationID == id
	}
}
