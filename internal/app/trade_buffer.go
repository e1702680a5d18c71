package app

import (
	"math"
	"sync"
	"time"
)

// Trade is the canonical normalized trade tick flowing through the engine.
type Trade struct {
	Timestamp   time.Time
	TokenID     string
	Wallet      string // lowercased maker address, may be empty
	Side        string // "BUY" or "SELL"
	Price       float64
	Size        float64
	NotionalUSD float64
}

// TradeBuffer is a bounded ring of recent trades with time-window queries.
// It also tracks the highest-notional trade seen per token.
type TradeBuffer struct {
	mu sync.RWMutex

	entries []Trade
	next    int
	full    bool

	bestByToken map[string]Trade
}

// NewTradeBuffer creates a buffer holding at most capacity trades.
func NewTradeBuffer(capacity int) *TradeBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &TradeBuffer{
		entries:     make([]Trade, capacity),
		bestByToken: make(map[string]Trade),
	}
}

// Record appends a trade. Trades with non-finite price/size or size <= 0 are
// silently dropped.
func (b *TradeBuffer) Record(t Trade) {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) ||
		math.IsNaN(t.Size) || math.IsInf(t.Size, 0) || t.Size <= 0 {
		return
	}
	if t.NotionalUSD == 0 {
		t.NotionalUSD = t.Price * t.Size
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = t
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}

	if best, ok := b.bestByToken[t.TokenID]; !ok || t.NotionalUSD > best.NotionalUSD {
		b.bestByToken[t.TokenID] = t
	}
}

// Query returns the most recent trades matching the filters, most-recent-last.
// Only trades with age <= since are returned, at most limit of them. Empty
// tokenIDs or wallet means no filter on that field.
func (b *TradeBuffer) Query(limit int, since time.Duration, tokenIDs []string, wallet string) []Trade {
	if limit <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-since)

	var tokenSet map[string]struct{}
	if len(tokenIDs) > 0 {
		tokenSet = make(map[string]struct{}, len(tokenIDs))
		for _, id := range tokenIDs {
			tokenSet[id] = struct{}{}
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.next
	if b.full {
		count = len(b.entries)
	}

	// Walk newest to oldest, collect, then reverse.
	matched := make([]Trade, 0, limit)
	for i := 0; i < count && len(matched) < limit; i++ {
		idx := b.next - 1 - i
		if idx < 0 {
			idx += len(b.entries)
		}
		t := b.entries[idx]

		if t.Timestamp.Before(cutoff) {
			// Entries only get older from here.
			break
		}
		if tokenSet != nil {
			if _, ok := tokenSet[t.TokenID]; !ok {
				continue
			}
		}
		if wallet != "" && t.Wallet != wallet {
			continue
		}
		matched = append(matched, t)
	}

	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	return matched
}

// BestForTokens returns the single highest-notional trade across the given
// tokens whose age is at most maxAge. Empty tokenIDs means all tokens.
func (b *TradeBuffer) BestForTokens(tokenIDs []string, maxAge time.Duration) (Trade, bool) {
	cutoff := time.Now().Add(-maxAge)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var best Trade
	found := false

	consider := func(t Trade) {
		if t.Timestamp.Before(cutoff) {
			return
		}
		if !found || t.NotionalUSD > best.NotionalUSD {
			best = t
			found = true
		}
	}

	if len(tokenIDs) == 0 {
		for _, t := range b.bestByToken {
			consider(t)
		}
	} else {
		for _, id := range tokenIDs {
			if t, ok := b.bestByToken[id]; ok {
				consider(t)
			}
		}
	}

	return best, found
}

// Len returns the number of buffered trades.
func (b *TradeBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}
