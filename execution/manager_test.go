package execution

import (
	"context"
	"testing"
)

func TestManager_StartCancelsPrevious(t *testing.T) {
	m := NewManager()

	first, firstTicket := m.Start(context.Background(), "active")
	second, secondTicket := m.Start(context.Background(), "active")

	if first.Err() == nil {
		t.Error("Expected first context to be cancelled")
	}
	if second.Err() != nil {
		t.Error("Expected second context to be live")
	}
	if m.Current(firstTicket) {
		t.Error("Expected first ticket to be stale")
	}
	if !m.Current(secondTicket) {
		t.Error("Expected second ticket to be current")
	}
}

func TestManager_SlotsAreIndependent(t *testing.T) {
	m := NewManager()

	a, ticketA := m.Start(context.Background(), "a")
	_, ticketB := m.Start(context.Background(), "b")

	if a.Err() != nil || !m.Current(ticketA) || !m.Current(ticketB) {
		t.Error("Expected executions in different slots to coexist")
	}
}

func TestManager_CleanupIgnoresStaleTicket(t *testing.T) {
	m := NewManager()

	_, old := m.Start(context.Background(), "active")
	ctx, latest := m.Start(context.Background(), "active")

	m.Cleanup(old)
	if !m.Current(latest) || ctx.Err() != nil {
		t.Error("Expected stale cleanup to leave latest execution untouched")
	}

	m.Cleanup(latest)
	if m.Current(latest) {
		t.Error("Expected slot released after cleanup")
	}
	if ctx.Err() == nil {
		t.Error("Expected context released after cleanup")
	}
}

func TestManager_Cancel(t *testing.T) {
	m := NewManager()

	ctx, ticket := m.Start(context.Background(), "active")
	m.Cancel("active")

	if ctx.Err() == nil || m.Current(ticket) {
		t.Error("Expected cancelled execution to be aborted and stale")
	}
}
