package merge

import (
	"sync"

	"github.com/adriangmrraa/clinicforge/chat"
)

// Source is the read side of a conversation store.
type Source interface {
	Snapshot() []chat.ConversationSummary
	Subscribe(fn func())
}

// Live keeps the merged list current, recomputing it whenever either store
// or the query changes.
type Live struct {
	direct Source
	mirror Source

	recompute sync.Mutex

	mu        sync.RWMutex
	query     chat.Query
	result    []chat.ConversationSummary
	listeners []func()
}

func NewLive(direct, mirror Source, query chat.Query) *Live {
	l := &Live{
		direct: direct,
		mirror: mirror,
		query:  query,
	}
	direct.Subscribe(l.Recompute)
	mirror.Subscribe(l.Recompute)
	l.Recompute()
	return l
}

func (l *Live) Recompute() {
	l.recompute.Lock()
	l.mu.RLock()
	q := l.query
	l.mu.RUnlock()

	result := Merge(l.direct.Snapshot(), l.mirror.Snapshot(), q)

	l.mu.Lock()
	l.result = result
	listeners := make([]func(), len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()
	l.recompute.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (l *Live) SetQuery(q chat.Query) {
	l.mu.Lock()
	changed := l.query != q
	l.query = q
	l.mu.Unlock()

	if changed {
		l.Recompute()
	}
}

func (l *Live) Query() chat.Query {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.query
}

func (l *Live) List() []chat.ConversationSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]chat.ConversationSummary, len(l.result))
	copy(out, l.result)
	return out
}

func (l *Live) Find(key chat.IdentityKey) (chat.ConversationSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, s := range l.result {
		if s.Key == key {
			return s, true
		}
	}
	return chat.ConversationSummary{}, false
}

// Subscribe registers fn to run after every recomputation.
func (l *Live) Subscribe(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}
