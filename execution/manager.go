package execution

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Ticket identifies one started execution within a slot.
type Ticket struct {
	Slot       string
	Generation uint64
}

type slotExecution struct {
	generation uint64
	cancel     context.CancelFunc
}

// Manager runs latest-wins executions: starting work in a slot cancels
// whatever was running there before, and only the newest ticket is current.
type Manager struct {
	slots      map[string]*slotExecution
	generation uint64
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		slots: make(map[string]*slotExecution),
	}
}

func (m *Manager) Start(parent context.Context, slot string) (context.Context, Ticket) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if existing, exists := m.slots[slot]; exists {
		log.Debug().Str("slot", slot).Uint64("generation", existing.generation).Msg("Cancelling previous execution")
		existing.cancel()
	}

	m.generation++
	ctx, cancel := context.WithCancel(parent)
	m.slots[slot] = &slotExecution{
		generation: m.generation,
		cancel:     cancel,
	}

	return ctx, Ticket{Slot: slot, Generation: m.generation}
}

// Current reports whether ticket is still the latest execution of its slot.
func (m *Manager) Current(ticket Ticket) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	existing, exists := m.slots[ticket.Slot]
	return exists && existing.generation == ticket.Generation
}

// Cancel aborts whatever is running in slot.
func (m *Manager) Cancel(slot string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if existing, exists := m.slots[slot]; exists {
		existing.cancel()
		delete(m.slots, slot)
	}
}

// Cleanup releases the slot if ticket is still its latest execution.
func (m *Manager) Cleanup(ticket Ticket) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if existing, exists := m.slots[ticket.Slot]; exists && existing.generation == ticket.Generation {
		existing.cancel()
		delete(m.slots, ticket.Slot)
	}
}
