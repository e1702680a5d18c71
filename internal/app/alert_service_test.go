package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"whalewatch/config"
	"whalewatch/internal/store"

	"go.uber.org/zap"
)

func newTestAlertService(st store.Store, n *mockNotifier) *AlertService {
	cfg := config.Defaults()
	cfg.Alerts.RateLimitWindow = 10 * time.Second
	cfg.Alerts.HighConfidence = 0.75
	return NewAlertService(zap.NewNop(), st, n, cfg)
}

func testAlphaEvent() AlphaEvent {
	return AlphaEvent{
		ID:         "ev-1",
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Kind:       AlphaWhale,
		TokenID:    "tok-1",
		MarketName: "Will it rain?",
		Wallet:     "0xabc",
		Alpha:      80,
		Title:      "Whale copy signal",
		Summary:    "0xabc bought $12,000 YES",
	}
}

func TestBroadcastDeliversToEnabledUser(t *testing.T) {
	st := newMockStore()
	st.prefs["user-1"] = store.UserPrefs{UserID: "user-1", Enabled: true, Tier: store.TierHigh}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)

	sent := n.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sent))
	}
	if !strings.HasPrefix(sent[0], "user-1:") {
		t.Errorf("delivered to wrong user: %s", sent[0])
	}
	if !strings.Contains(sent[0], "Whale copy signal") {
		t.Errorf("rendered text missing title: %s", sent[0])
	}
}

func TestBroadcastSkipsDisabledUser(t *testing.T) {
	st := newMockStore()
	st.prefs["user-1"] = store.UserPrefs{UserID: "user-1", Enabled: false, Tier: store.TierHigh}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)

	if got := len(n.sent()); got != 0 {
		t.Errorf("expected no deliveries to disabled user, got %d", got)
	}
}

func TestBroadcastHighConfidenceTier(t *testing.T) {
	st := newMockStore()
	st.prefs["picky"] = store.UserPrefs{UserID: "picky", Enabled: true, Tier: store.TierHighConfidence}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.60)
	if got := len(n.sent()); got != 0 {
		t.Fatalf("expected low-confidence event dropped, got %d deliveries", got)
	}

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.75)
	if got := len(n.sent()); got != 1 {
		t.Errorf("expected event at threshold delivered, got %d deliveries", got)
	}
}

func TestBroadcastDigestTierEnqueues(t *testing.T) {
	st := newMockStore()
	st.prefs["digest"] = store.UserPrefs{UserID: "digest", Enabled: true, Tier: store.TierDailyDigest}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)

	if got := len(n.sent()); got != 0 {
		t.Errorf("digest-tier user should not get immediate delivery, got %d", got)
	}
	entries := st.digestFor("digest")
	if len(entries) != 1 {
		t.Fatalf("expected 1 queued entry, got %d", len(entries))
	}
	if entries[0].EventID != "ev-1" {
		t.Errorf("queued entry event id = %s, want ev-1", entries[0].EventID)
	}
}

func TestBroadcastQuietHoursQueues(t *testing.T) {
	st := newMockStore()
	st.prefs["sleeper"] = store.UserPrefs{
		UserID:     "sleeper",
		Enabled:    true,
		Tier:       store.TierHigh,
		QuietHours: &store.QuietHours{StartHour: 22, EndHour: 7},
	}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)
	svc.now = func() time.Time {
		return time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	}

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)

	if got := len(n.sent()); got != 0 {
		t.Errorf("expected no delivery during quiet hours, got %d", got)
	}
	if got := len(st.digestFor("sleeper")); got != 1 {
		t.Errorf("expected quiet-hours alert queued, got %d entries", got)
	}
}

func TestBroadcastRateLimit(t *testing.T) {
	st := newMockStore()
	st.prefs["user-1"] = store.UserPrefs{UserID: "user-1", Enabled: true, Tier: store.TierHigh}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc.now = func() time.Time { return now }

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)
	now = base.Add(3 * time.Second)
	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)

	if got := len(n.sent()); got != 1 {
		t.Fatalf("expected second alert inside window dropped, got %d deliveries", got)
	}

	now = base.Add(11 * time.Second)
	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)
	if got := len(n.sent()); got != 2 {
		t.Errorf("expected alert after window delivered, got %d deliveries", got)
	}
}

func TestBroadcastDeliveryFailureIsolated(t *testing.T) {
	st := newMockStore()
	st.prefs["a"] = store.UserPrefs{UserID: "a", Enabled: true, Tier: store.TierHigh}
	st.prefs["b"] = store.UserPrefs{UserID: "b", Enabled: true, Tier: store.TierHigh}

	// Fails for everyone. Broadcast must still try each recipient.
	n := &mockNotifier{deliverErr: errNotFound}
	svc := newTestAlertService(st, n)

	svc.Broadcast(context.Background(), testAlphaEvent(), 0.80)

	if got := len(n.sent()); got != 0 {
		t.Errorf("expected zero successful deliveries, got %d", got)
	}
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		name  string
		hour  int
		qh    store.QuietHours
		quiet bool
	}{
		{"inside simple window", 10, store.QuietHours{StartHour: 9, EndHour: 17}, true},
		{"at start", 9, store.QuietHours{StartHour: 9, EndHour: 17}, true},
		{"at end excluded", 17, store.QuietHours{StartHour: 9, EndHour: 17}, false},
		{"outside simple window", 8, store.QuietHours{StartHour: 9, EndHour: 17}, false},
		{"wrapping before midnight", 23, store.QuietHours{StartHour: 22, EndHour: 7}, true},
		{"wrapping after midnight", 3, store.QuietHours{StartHour: 22, EndHour: 7}, true},
		{"wrapping end excluded", 7, store.QuietHours{StartHour: 22, EndHour: 7}, false},
		{"wrapping daytime not quiet", 12, store.QuietHours{StartHour: 22, EndHour: 7}, false},
		{"equal bounds always quiet", 5, store.QuietHours{StartHour: 0, EndHour: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inQuietHours(tt.hour, tt.qh); got != tt.quiet {
				t.Errorf("inQuietHours(%d, %+v) = %v, want %v", tt.hour, tt.qh, got, tt.quiet)
			}
		})
	}
}

func TestFlushDigestsDedupsAndClears(t *testing.T) {
	st := newMockStore()
	st.prefs["digest"] = store.UserPrefs{UserID: "digest", Enabled: true, Tier: store.TierDailyDigest}

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.digests["digest"] = []store.DigestEntry{
		{EventID: "ev-1", Title: "First", Confidence: 0.8, Timestamp: ts},
		{EventID: "ev-1", Title: "First again", Confidence: 0.8, Timestamp: ts},
		{EventID: "ev-2", Title: "Second", Confidence: 0.9, Timestamp: ts},
	}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	svc.FlushDigests(context.Background())

	sent := n.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 digest delivery, got %d", len(sent))
	}
	if !strings.Contains(sent[0], "2 alert(s)") {
		t.Errorf("expected deduped count of 2, got: %s", sent[0])
	}
	if strings.Contains(sent[0], "First again") {
		t.Errorf("duplicate event id not deduped: %s", sent[0])
	}
	if got := len(st.digestFor("digest")); got != 0 {
		t.Errorf("expected digest cleared after flush, got %d entries", got)
	}
}

func TestFlushDigestsRenderCap(t *testing.T) {
	st := newMockStore()
	st.prefs["digest"] = store.UserPrefs{UserID: "digest", Enabled: true, Tier: store.TierDailyDigest}

	ts := time.Now().UTC()
	for i := 0; i < 25; i++ {
		st.digests["digest"] = append(st.digests["digest"], store.DigestEntry{
			EventID:    string(rune('a' + i)),
			Title:      "Entry",
			Confidence: 0.8,
			Timestamp:  ts,
		})
	}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)
	svc.cfg.DigestRenderCap = 20

	svc.FlushDigests(context.Background())

	sent := n.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 digest delivery, got %d", len(sent))
	}
	if !strings.Contains(sent[0], "and 5 more") {
		t.Errorf("expected overflow marker for 5 hidden entries, got: %s", sent[0])
	}
}

func TestFlushDigestsSkipsEmptyQueues(t *testing.T) {
	st := newMockStore()
	st.prefs["empty"] = store.UserPrefs{UserID: "empty", Enabled: true, Tier: store.TierDailyDigest}

	n := &mockNotifier{}
	svc := newTestAlertService(st, n)

	svc.FlushDigests(context.Background())

	if got := len(n.sent()); got != 0 {
		t.Errorf("expected no delivery for empty digest, got %d", got)
	}
}

func TestUntilNextHourUTC(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	if got := untilNextHourUTC(now, 14); got != 3*time.Hour+30*time.Minute {
		t.Errorf("wait until 14:00 = %v, want 3h30m", got)
	}
	if got := untilNextHourUTC(now, 10); got != 23*time.Hour+30*time.Minute {
		t.Errorf("wait until next 10:00 = %v, want 23h30m", got)
	}
}
