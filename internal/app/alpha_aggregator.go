package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlphaKind names the signal family of an AlphaEvent.
type AlphaKind string

const (
	AlphaWhale     AlphaKind = "whale"
	AlphaSmartSkew AlphaKind = "smart_skew"
	AlphaInsider   AlphaKind = "insider"
)

// AlphaEvent is the canonical emitted signal.
type AlphaEvent struct {
	ID          string
	Timestamp   time.Time
	Kind        AlphaKind
	TokenID     string
	ConditionID string
	MarketName  string
	Wallet      string
	Alpha       int // 0-100
	Title       string
	Summary     string
}

// AlertSink receives emitted alpha events for delivery.
type AlertSink interface {
	Broadcast(ctx context.Context, ev AlphaEvent, confidence float64)
}

const alphaRingCap = 200

type dedupEntry struct {
	ts    time.Time
	alpha int
}

// AlphaAggregator orchestrates scoring over live trades and periodic ticks,
// applies per-key cooldown and near-duplicate suppression, and forwards
// emitted events to the alert sink.
type AlphaAggregator struct {
	logger   *zap.Logger
	scorer   *Scorer
	buffer   *TradeBuffer
	detector *WhaleDetector
	store    store.Store
	sink     AlertSink
	cfg      config.AlphaConfig

	mu        sync.Mutex
	pairs     map[string]MarketPair // by condition id
	byToken   map[string]string     // token id -> condition id
	cooldowns map[string]time.Time
	dedup     map[string]dedupEntry
	ring      []AlphaEvent
	lastTick  time.Time

	tickRunning atomic.Bool
}

func NewAlphaAggregator(
	logger *zap.Logger,
	scorer *Scorer,
	buffer *TradeBuffer,
	detector *WhaleDetector,
	st store.Store,
	sink AlertSink,
	cfg *config.Config,
) *AlphaAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlphaAggregator{
		logger:    logger,
		scorer:    scorer,
		buffer:    buffer,
		detector:  detector,
		store:     st,
		sink:      sink,
		cfg:       cfg.Alpha,
		pairs:     make(map[string]MarketPair),
		byToken:   make(map[string]string),
		cooldowns: make(map[string]time.Time),
		dedup:     make(map[string]dedupEntry),
		lastTick:  time.Now(),
	}
}

// RegisterPair adds a market pair to the periodic skew/insider scans.
// Re-registering the same condition id overwrites in place.
func (a *AlphaAggregator) RegisterPair(pair MarketPair) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.pairs[pair.ConditionID]; ok {
		delete(a.byToken, old.YesTokenID)
		delete(a.byToken, old.NoTokenID)
	}

	a.pairs[pair.ConditionID] = pair
	a.byToken[pair.YesTokenID] = pair.ConditionID
	a.byToken[pair.NoTokenID] = pair.ConditionID
}

// Pairs returns a snapshot of registered market pairs.
func (a *AlphaAggregator) Pairs() []MarketPair {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]MarketPair, 0, len(a.pairs))
	for _, p := range a.pairs {
		out = append(out, p)
	}
	return out
}

// pairForToken looks up the registered market for a token, if any.
func (a *AlphaAggregator) pairForToken(tokenID string) (MarketPair, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cond, ok := a.byToken[tokenID]
	if !ok {
		return MarketPair{}, false
	}
	p, ok := a.pairs[cond]
	return p, ok
}

// OnTrade is the event-driven whale path: score the wallet, decide whether
// the trade qualifies as whale activity, and emit a whale AlphaEvent past
// cooldown and dedup.
func (a *AlphaAggregator) OnTrade(ctx context.Context, t Trade) {
	if t.Wallet == "" {
		return
	}

	score := a.scorer.ScoreWallet(ctx, t.Wallet)

	qualifies := a.scorer.ClassifyWhale(t.NotionalUSD, score)
	if !qualifies {
		// Also qualifies when it is the current best recent trade for its token.
		if best, ok := a.buffer.BestForTokens([]string{t.TokenID}, a.cfg.TickInterval); ok {
			qualifies = t.NotionalUSD >= best.NotionalUSD
		}
	}
	if !qualifies {
		return
	}

	alpha, rec := AlphaFromScore(score)

	pair, _ := a.pairForToken(t.TokenID)

	key := cooldownKey(AlphaWhale, pair.ConditionID+t.TokenID, t.Wallet)
	if !a.allowEmit(key, a.cfg.WhaleCooldown, alpha) {
		return
	}

	a.emit(ctx, AlphaEvent{
		Kind:        AlphaWhale,
		TokenID:     t.TokenID,
		ConditionID: pair.ConditionID,
		MarketName:  pair.Title,
		Wallet:      t.Wallet,
		Alpha:       alpha,
		Title:       "Whale activity detected",
		Summary: fmt.Sprintf("%s %s $%.0f on %s (score %d, %s)",
			shortID(t.Wallet), t.Side, t.NotionalUSD, marketLabel(pair, t.TokenID), score, rec),
	})
}

// Tick is the timer-driven path: skew scans over registered pairs, then
// insider scoring over whale events since the previous tick. Re-entrant
// calls while a tick is in flight are skipped.
func (a *AlphaAggregator) Tick(ctx context.Context) {
	if !a.tickRunning.CompareAndSwap(false, true) {
		a.logger.Debug("tick already running, skipping")
		return
	}
	defer a.tickRunning.Store(false)

	a.mu.Lock()
	prevTick := a.lastTick
	a.lastTick = time.Now()
	a.mu.Unlock()

	skews := make(map[string]SmartSkewResult)
	for _, pair := range a.Pairs() {
		res := a.scorer.SmartSkew(ctx, pair)
		skews[pair.ConditionID] = res

		if !res.Trigger {
			continue
		}

		cooldown := a.cfg.SkewCooldown
		if cooldown < 30*time.Second {
			cooldown = 30 * time.Second
		}
		key := cooldownKey(AlphaSmartSkew, pair.ConditionID, "")
		if !a.allowEmit(key, cooldown, res.Alpha) {
			continue
		}

		a.emit(ctx, AlphaEvent{
			Kind:        AlphaSmartSkew,
			TokenID:     pair.YesTokenID,
			ConditionID: pair.ConditionID,
			MarketName:  pair.Title,
			Alpha:       res.Alpha,
			Title:       "Smart money skew",
			Summary: fmt.Sprintf("whale capital %.0f%% %s on %s ($%.0f smart pool)",
				res.Skew*100, res.Direction, marketLabel(pair, ""), res.SmartPoolUSD),
		})
	}

	// Insider pass over fresh whale events tied to registered pairs.
	for _, ev := range a.detector.EventsSince(prevTick) {
		pair, ok := a.pairForToken(ev.TokenID)
		if !ok {
			continue
		}

		skew, ok := skews[pair.ConditionID]
		if !ok {
			continue
		}

		res := a.scorer.InsiderScore(InsiderInputs{
			WhaleScore:         a.scorer.ScoreWallet(ctx, ev.Wallet),
			Skew:               skew.Skew,
			ClusterCount:       ev.ClusterCount,
			ClusterDuration:    ev.ClusterDuration,
			ClusterNotionalUSD: ev.NotionalUSD,
		})
		if !res.Trigger {
			continue
		}

		key := cooldownKey(AlphaInsider, pair.ConditionID, ev.Wallet)
		if !a.allowEmit(key, a.cfg.InsiderCooldown, res.Score) {
			continue
		}

		a.emit(ctx, AlphaEvent{
			Kind:        AlphaInsider,
			TokenID:     ev.TokenID,
			ConditionID: pair.ConditionID,
			MarketName:  pair.Title,
			Wallet:      ev.Wallet,
			Alpha:       res.Score,
			Title:       "Insider pattern",
			Summary: fmt.Sprintf("%s scored %d on %s (whale %d, skew %d, cluster %d, timing %d)",
				shortID(ev.Wallet), res.Score, marketLabel(pair, ev.TokenID),
				res.WhaleFactor, res.SkewFactor, res.ClusterFactor, res.TimingFactor),
		})
	}

	a.sweep()
}

// Run drives periodic ticks until ctx is done.
func (a *AlphaAggregator) Run(ctx context.Context) {
	t := time.NewTicker(a.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			a.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Recent returns a snapshot of the emitted-event ring, oldest first.
func (a *AlphaAggregator) Recent() []AlphaEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AlphaEvent, len(a.ring))
	copy(out, a.ring)
	return out
}

// allowEmit checks and records cooldown plus near-duplicate suppression for
// one emission key.
func (a *AlphaAggregator) allowEmit(key string, cooldown time.Duration, alpha int) bool {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if last, ok := a.cooldowns[key]; ok && now.Sub(last) < cooldown {
		metrics.AlphaSuppressed.WithLabelValues("cooldown").Inc()
		return false
	}

	if prev, ok := a.dedup[key]; ok &&
		now.Sub(prev.ts) < a.cfg.DedupWindow &&
		absInt(alpha-prev.alpha) < int(a.cfg.DedupMinDelta) {
		metrics.AlphaSuppressed.WithLabelValues("dedup").Inc()
		return false
	}

	a.cooldowns[key] = now
	a.dedup[key] = dedupEntry{ts: now, alpha: alpha}
	return true
}

// sweep evicts cooldown/dedup entries idle past twice the longest window,
// keeping the maps bounded over the process lifetime.
func (a *AlphaAggregator) sweep() {
	ttl := a.cfg.WhaleCooldown
	for _, d := range []time.Duration{a.cfg.SkewCooldown, a.cfg.InsiderCooldown, a.cfg.DedupWindow} {
		if d > ttl {
			ttl = d
		}
	}
	ttl *= 2

	cutoff := time.Now().Add(-ttl)

	a.mu.Lock()
	defer a.mu.Unlock()

	for k, ts := range a.cooldowns {
		if ts.Before(cutoff) {
			delete(a.cooldowns, k)
		}
	}
	for k, e := range a.dedup {
		if e.ts.Before(cutoff) {
			delete(a.dedup, k)
		}
	}
}

func (a *AlphaAggregator) emit(ctx context.Context, ev AlphaEvent) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()

	a.mu.Lock()
	a.ring = append(a.ring, ev)
	if len(a.ring) > alphaRingCap {
		a.ring = a.ring[len(a.ring)-alphaRingCap:]
	}
	a.mu.Unlock()

	metrics.AlphaEvents.WithLabelValues(string(ev.Kind)).Inc()
	a.logger.Info("alpha event",
		zap.String("kind", string(ev.Kind)),
		zap.Int("alpha", ev.Alpha),
		zap.String("market", ev.MarketName),
		zap.String("wallet", shortID(ev.Wallet)),
	)

	if a.store != nil {
		if err := a.store.SaveAlphaEvent(ctx, toRecord(ev)); err != nil {
			metrics.PersistenceFailures.Inc()
			a.logger.Warn("alpha event persist failed", zap.Error(err))
		}
	}

	if a.sink != nil {
		a.sink.Broadcast(ctx, ev, float64(ev.Alpha)/100)
	}
}

func toRecord(ev AlphaEvent) store.AlphaEventRecord {
	return store.AlphaEventRecord{
		ID:          ev.ID,
		Timestamp:   ev.Timestamp,
		Kind:        string(ev.Kind),
		TokenID:     ev.TokenID,
		ConditionID: ev.ConditionID,
		MarketName:  ev.MarketName,
		Wallet:      ev.Wallet,
		Alpha:       ev.Alpha,
		Title:       ev.Title,
		Summary:     ev.Summary,
	}
}

func cooldownKey(kind AlphaKind, market, wallet string) string {
	return string(kind) + "|" + market + "|" + wallet
}

func marketLabel(pair MarketPair, tokenID string) string {
	if pair.Title != "" {
		return pair.Title
	}
	if tokenID != "" {
		return shortID(tokenID)
	}
	return pair.ConditionID
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
