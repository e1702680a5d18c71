package app

import (
	"math"
	"testing"
	"time"
)

func TestTradeBuffer_RecordAndQuery(t *testing.T) {
	b := NewTradeBuffer(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		b.Record(Trade{
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			TokenID:   "tok-1",
			Wallet:    "0xabc",
			Side:      "BUY",
			Price:     0.5,
			Size:      float64(100 * (i + 1)),
		})
	}

	got := b.Query(10, time.Minute, nil, "")
	if len(got) != 5 {
		t.Fatalf("got %d trades, want 5", len(got))
	}
	// Most-recent-last ordering.
	if got[0].Size != 100 || got[4].Size != 500 {
		t.Errorf("unexpected order: first=%v last=%v", got[0].Size, got[4].Size)
	}
	// Notional computed when absent.
	if got[0].NotionalUSD != 50 {
		t.Errorf("notional = %v, want 50", got[0].NotionalUSD)
	}
}

func TestTradeBuffer_QueryLimit(t *testing.T) {
	b := NewTradeBuffer(10)
	for i := 0; i < 8; i++ {
		b.Record(Trade{TokenID: "tok", Price: 0.5, Size: float64(i + 1)})
	}

	got := b.Query(3, time.Minute, nil, "")
	if len(got) != 3 {
		t.Fatalf("got %d trades, want 3", len(got))
	}
	// The 3 most recent, most-recent-last.
	if got[0].Size != 6 || got[2].Size != 8 {
		t.Errorf("unexpected window: %v ... %v", got[0].Size, got[2].Size)
	}
}

func TestTradeBuffer_QuerySince(t *testing.T) {
	b := NewTradeBuffer(10)
	now := time.Now()

	b.Record(Trade{Timestamp: now.Add(-2 * time.Hour), TokenID: "tok", Price: 0.5, Size: 1})
	b.Record(Trade{Timestamp: now.Add(-30 * time.Second), TokenID: "tok", Price: 0.5, Size: 2})
	b.Record(Trade{Timestamp: now, TokenID: "tok", Price: 0.5, Size: 3})

	got := b.Query(10, time.Minute, nil, "")
	if len(got) != 2 {
		t.Fatalf("got %d trades, want 2 (old entry excluded)", len(got))
	}
	for _, tr := range got {
		if tr.Size == 1 {
			t.Error("stale trade returned")
		}
	}
}

func TestTradeBuffer_QueryFilters(t *testing.T) {
	b := NewTradeBuffer(10)
	b.Record(Trade{TokenID: "a", Wallet: "0x1", Price: 0.5, Size: 10})
	b.Record(Trade{TokenID: "b", Wallet: "0x1", Price: 0.5, Size: 20})
	b.Record(Trade{TokenID: "a", Wallet: "0x2", Price: 0.5, Size: 30})

	byToken := b.Query(10, time.Minute, []string{"a"}, "")
	if len(byToken) != 2 {
		t.Errorf("token filter: got %d, want 2", len(byToken))
	}

	byWallet := b.Query(10, time.Minute, nil, "0x1")
	if len(byWallet) != 2 {
		t.Errorf("wallet filter: got %d, want 2", len(byWallet))
	}

	both := b.Query(10, time.Minute, []string{"a"}, "0x2")
	if len(both) != 1 || both[0].Size != 30 {
		t.Errorf("combined filter: got %v", both)
	}
}

func TestTradeBuffer_RejectsInvalid(t *testing.T) {
	b := NewTradeBuffer(10)

	b.Record(Trade{TokenID: "tok", Price: math.NaN(), Size: 10})
	b.Record(Trade{TokenID: "tok", Price: math.Inf(1), Size: 10})
	b.Record(Trade{TokenID: "tok", Price: 0.5, Size: 0})
	b.Record(Trade{TokenID: "tok", Price: 0.5, Size: -5})
	b.Record(Trade{TokenID: "tok", Price: 0.5, Size: math.NaN()})

	if b.Len() != 0 {
		t.Errorf("buffer len = %d, want 0 after invalid records", b.Len())
	}
}

func TestTradeBuffer_Eviction(t *testing.T) {
	b := NewTradeBuffer(3)
	for i := 0; i < 5; i++ {
		b.Record(Trade{TokenID: "tok", Price: 1, Size: float64(i + 1)})
	}

	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}

	got := b.Query(10, time.Minute, nil, "")
	if len(got) != 3 {
		t.Fatalf("got %d trades, want 3", len(got))
	}
	// Oldest evicted first: sizes 3, 4, 5 remain.
	if got[0].Size != 3 || got[2].Size != 5 {
		t.Errorf("unexpected retained trades: %v ... %v", got[0].Size, got[2].Size)
	}
}

func TestTradeBuffer_BestForTokens(t *testing.T) {
	b := NewTradeBuffer(10)
	b.Record(Trade{TokenID: "a", Price: 1, Size: 100})
	b.Record(Trade{TokenID: "a", Price: 1, Size: 50})
	b.Record(Trade{TokenID: "b", Price: 1, Size: 300})

	best, ok := b.BestForTokens([]string{"a"}, time.Minute)
	if !ok || best.NotionalUSD != 100 {
		t.Errorf("best for a = %v %v, want notional 100", best.NotionalUSD, ok)
	}

	best, ok = b.BestForTokens(nil, time.Minute)
	if !ok || best.NotionalUSD != 300 {
		t.Errorf("best overall = %v %v, want notional 300", best.NotionalUSD, ok)
	}

	if _, ok := b.BestForTokens([]string{"missing"}, time.Minute); ok {
		t.Error("expected no best trade for unknown token")
	}
}

func TestTradeBuffer_BestForTokens_MaxAge(t *testing.T) {
	b := NewTradeBuffer(10)
	b.Record(Trade{TokenID: "a", Timestamp: time.Now().Add(-time.Hour), Price: 1, Size: 100})

	if _, ok := b.BestForTokens([]string{"a"}, time.Minute); ok {
		t.Error("expected stale best trade to be excluded")
	}
	if _, ok := b.BestForTokens([]string{"a"}, 2*time.Hour); !ok {
		t.Error("expected best trade within a wide window")
	}
}
