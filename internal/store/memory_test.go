package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_PrefsRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := s.GetPrefs(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil prefs for unknown user, got %+v", p)
	}

	in := UserPrefs{
		UserID:     "u1",
		Enabled:    true,
		Tier:       TierHighConfidence,
		QuietHours: &QuietHours{StartHour: 22, EndHour: 7},
		UpdatedAt:  time.Now(),
	}
	if err := s.SetPrefs(ctx, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err = s.GetPrefs(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected prefs to be stored")
	}
	if p.Tier != TierHighConfidence {
		t.Errorf("expected tier high_confidence, got %s", p.Tier)
	}
	if p.QuietHours == nil || p.QuietHours.StartHour != 22 {
		t.Errorf("expected quiet hours preserved, got %+v", p.QuietHours)
	}

	all, err := s.AllPrefs(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 prefs record, got %d", len(all))
	}
}

func TestMemoryStore_DigestQueue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := DigestEntry{
			EventID:   fmt.Sprintf("ev-%d", i),
			Title:     fmt.Sprintf("title %d", i),
			Timestamp: time.Now(),
		}
		if err := s.AppendDigest(ctx, "u1", entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	q, err := s.LoadDigest(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(q))
	}
	if q[0].EventID != "ev-0" || q[2].EventID != "ev-2" {
		t.Errorf("expected insertion order, got %v", q)
	}

	if err := s.ClearDigest(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, err = s.LoadDigest(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 0 {
		t.Errorf("expected empty queue after clear, got %d", len(q))
	}
}

func TestMemoryStore_EventCap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < memoryEventCap+50; i++ {
		ev := AlphaEventRecord{ID: fmt.Sprintf("ev-%d", i), Kind: "whale"}
		if err := s.SaveAlphaEvent(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	events := s.Events()
	if len(events) != memoryEventCap {
		t.Fatalf("expected cap of %d events, got %d", memoryEventCap, len(events))
	}
	// Oldest entries were evicted first.
	if events[0].ID != "ev-50" {
		t.Errorf("expected oldest surviving event ev-50, got %s", events[0].ID)
	}
}
