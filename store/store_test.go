package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/adriangmrraa/clinicforge/chat"
)

func summary(address, name string) chat.ConversationSummary {
	return chat.ConversationSummary{
		Key:         chat.KeyFor(chat.ChannelWhatsAppDirect, address),
		Channel:     chat.ChannelWhatsAppDirect,
		Source:      chat.SourceDirect,
		Address:     address,
		DisplayName: name,
	}
}

type scriptedFetch struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	items []chat.ConversationSummary
	err   error
}

func (f *scriptedFetch) fetch(ctx context.Context) ([]chat.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.results[f.calls]
	f.calls++
	return r.items, r.err
}

func TestStore_FirstLoadFailureLeavesEmptyLoadedState(t *testing.T) {
	f := &scriptedFetch{results: []fetchResult{{err: errors.New("boom")}}}
	s := NewSessionStore(f.fetch)

	notified := 0
	s.Subscribe(func() { notified++ })

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Expected error from failed refresh")
	}
	if !s.Loaded() {
		t.Error("Expected store to be marked loaded after first failure")
	}
	if len(s.Snapshot()) != 0 {
		t.Error("Expected empty snapshot")
	}
	if s.Err() == nil {
		t.Error("Expected last error to be recorded")
	}
	if notified != 1 {
		t.Errorf("Expected 1 notification, got %d", notified)
	}
}

func TestStore_LaterFailureKeepsSnapshot(t *testing.T) {
	f := &scriptedFetch{results: []fetchResult{
		{items: []chat.ConversationSummary{summary("+1", "Ana")}},
		{err: errors.New("timeout")},
	}}
	s := NewSessionStore(f.fetch)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Expected error on second refresh")
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].DisplayName != "Ana" {
		t.Errorf("Expected previous snapshot kept, got %+v", snap)
	}
}

func TestStore_OlderRefreshDoesNotOverwriteNewer(t *testing.T) {
	release := make(chan struct{})
	calls := 0
	var mu sync.Mutex

	s := NewInboxMirrorStore(func(ctx context.Context) ([]chat.ConversationSummary, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
			return []chat.ConversationSummary{summary("+1", "old")}, nil
		}
		return []chat.ConversationSummary{summary("+1", "new")}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()

	// wait for the slow refresh to have taken its sequence number
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n == 1 {
			break
		}
	}

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("Expected ErrStale, got %v", err)
	}
	if snap := s.Snapshot(); snap[0].DisplayName != "new" {
		t.Errorf("Expected newer result kept, got %q", snap[0].DisplayName)
	}
}

func TestStore_ResetDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := NewSessionStore(func(ctx context.Context) ([]chat.ConversationSummary, error) {
		close(started)
		<-release
		return []chat.ConversationSummary{summary("+1", "other tenant")}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started

	s.Reset()
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("Expected ErrStale, got %v", err)
	}
	if s.Loaded() || len(s.Snapshot()) != 0 {
		t.Error("Expected store to stay reset")
	}
}

func TestStore_PatchByAddress(t *testing.T) {
	f := &scriptedFetch{results: []fetchResult{{items: []chat.ConversationSummary{
		summary("+5491100", "Ana"),
		summary("+5491199", "Luis"),
	}}}}
	s := NewSessionStore(f.fetch)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	notified := 0
	s.Subscribe(func() { notified++ })

	n := s.Patch(MatchAddress("5491100"), func(c *chat.ConversationSummary) {
		c.Urgency = "high"
	})
	if n != 1 {
		t.Fatalf("Expected 1 patched row, got %d", n)
	}

	got, ok := s.Get(chat.KeyFor(chat.ChannelWhatsAppDirect, "+5491100"))
	if !ok || got.Urgency != "high" {
		t.Errorf("Expected urgency patched, got %+v", got)
	}

	if s.Patch(MatchAddress("+000"), func(c *chat.ConversationSummary) {}) != 0 {
		t.Error("Expected no rows patched")
	}
	if notified != 1 {
		t.Errorf("Expected 1 notification, got %d", notified)
	}
}
