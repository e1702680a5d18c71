package app

import (
	"context"
	"sync"
	"time"

	"whalewatch/config"
	"whalewatch/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WhaleEventType distinguishes how a whale event qualified.
type WhaleEventType string

const (
	// WhaleLargeBet cleared the notional threshold.
	WhaleLargeBet WhaleEventType = "large-bet"
	// WhaleTopPnl qualified only because the wallet is on the watchlist.
	WhaleTopPnl WhaleEventType = "top-pnl"
)

// WhaleEvent is one detected burst of whale activity.
type WhaleEvent struct {
	ID              string
	Timestamp       time.Time
	Type            WhaleEventType
	TokenID         string
	Wallet          string
	Side            string
	Price           float64
	SizeShares      float64
	NotionalUSD     float64
	ClusterCount    int
	ClusterDuration time.Duration
	Watchlisted     bool
}

type pendingCluster struct {
	firstTs      time.Time
	lastTs       time.Time
	count        int
	notionalUSD  float64
	sizeShares   float64
	price        float64
	side         string
	gen          uint64 // bumped on every merge; guards stale flush timers
	earlyEmitted bool
}

const (
	whaleEventsGlobalCap = 500
	whaleEventsIndexCap  = 100
	flushSlack           = 50 * time.Millisecond
)

// WhaleDetector clusters consecutive fills per (wallet, token) and emits
// WhaleEvents for large bets and watchlisted wallets.
type WhaleDetector struct {
	logger      *zap.Logger
	cfg         config.ClusterConfig
	leaderboard LeaderboardSource
	refreshCfg  config.LeaderboardConfig

	mu        sync.Mutex
	pending   map[string]*pendingCluster
	watchlist map[string]struct{}

	events   []WhaleEvent
	byToken  map[string][]WhaleEvent
	byWallet map[string][]WhaleEvent

	sink func(WhaleEvent)
}

func NewWhaleDetector(
	logger *zap.Logger,
	leaderboard LeaderboardSource,
	cfg *config.Config,
) *WhaleDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhaleDetector{
		logger:      logger,
		cfg:         cfg.Cluster,
		leaderboard: leaderboard,
		refreshCfg:  cfg.Leaderboard,
		pending:     make(map[string]*pendingCluster),
		watchlist:   make(map[string]struct{}),
		byToken:     make(map[string][]WhaleEvent),
		byWallet:    make(map[string][]WhaleEvent),
	}
}

// SetSink registers the consumer of emitted events. Must be called before
// trades flow.
func (d *WhaleDetector) SetSink(sink func(WhaleEvent)) {
	d.sink = sink
}

// OnTrade feeds one normalized trade into the clustering state machine.
func (d *WhaleDetector) OnTrade(t Trade) {
	key := t.Wallet + "|" + t.TokenID
	now := t.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	d.mu.Lock()

	if c, ok := d.pending[key]; ok && now.Sub(c.lastTs) <= d.cfg.Window {
		// Merge into the open cluster. Latest fill wins price/side.
		c.count++
		c.notionalUSD += t.NotionalUSD
		c.sizeShares += t.Size
		c.price = t.Price
		c.side = t.Side
		c.lastTs = now
		c.gen++
		d.scheduleFlush(key, c.gen)
		d.mu.Unlock()
		return
	}

	// New cluster. A single fill that already clears the threshold emits
	// immediately; the pending cluster remembers that so the flush does not
	// duplicate it unless more fills merge in.
	c := &pendingCluster{
		firstTs:     now,
		lastTs:      now,
		count:       1,
		notionalUSD: t.NotionalUSD,
		sizeShares:  t.Size,
		price:       t.Price,
		side:        t.Side,
	}
	if t.NotionalUSD >= d.cfg.LargeBetThresholdUSD {
		c.earlyEmitted = true
	}
	d.pending[key] = c
	d.scheduleFlush(key, c.gen)

	var early *WhaleEvent
	if c.earlyEmitted {
		ev := d.buildEvent(t.Wallet, t.TokenID, c, now)
		ev.ClusterCount = 1
		ev.ClusterDuration = 0
		d.storeEvent(ev)
		early = &ev
	}
	d.mu.Unlock()

	if early != nil {
		d.emit(*early)
	}
}

// scheduleFlush arms the flush timer for the current cluster generation.
// Caller holds d.mu.
func (d *WhaleDetector) scheduleFlush(key string, gen uint64) {
	time.AfterFunc(d.cfg.Window+flushSlack, func() {
		d.flush(key, gen)
	})
}

func (d *WhaleDetector) flush(key string, gen uint64) {
	d.mu.Lock()

	c, ok := d.pending[key]
	if !ok || c.gen != gen {
		// Superseded by a newer fill; its own timer will handle the flush.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)

	wallet, tokenID := splitClusterKey(key)

	// A lone fill that already early-emitted has nothing new to say.
	if c.earlyEmitted && c.count == 1 {
		d.mu.Unlock()
		return
	}

	_, watchlisted := d.watchlist[wallet]
	if c.notionalUSD < d.cfg.LargeBetThresholdUSD && !watchlisted {
		metrics.ClustersDiscarded.Inc()
		d.mu.Unlock()
		return
	}

	ev := d.buildEvent(wallet, tokenID, c, c.lastTs)
	ev.Watchlisted = watchlisted
	if c.notionalUSD < d.cfg.LargeBetThresholdUSD {
		ev.Type = WhaleTopPnl
	}
	d.storeEvent(ev)
	d.mu.Unlock()

	d.emit(ev)
}

// buildEvent constructs an event from the cluster. Caller holds d.mu.
func (d *WhaleDetector) buildEvent(wallet, tokenID string, c *pendingCluster, ts time.Time) WhaleEvent {
	return WhaleEvent{
		ID:              uuid.NewString(),
		Timestamp:       ts,
		Type:            WhaleLargeBet,
		TokenID:         tokenID,
		Wallet:          wallet,
		Side:            c.side,
		Price:           c.price,
		SizeShares:      c.sizeShares,
		NotionalUSD:     c.notionalUSD,
		ClusterCount:    c.count,
		ClusterDuration: c.lastTs.Sub(c.firstTs),
	}
}

// storeEvent appends to the three ring indices. Caller holds d.mu.
func (d *WhaleDetector) storeEvent(ev WhaleEvent) {
	d.events = appendCapped(d.events, ev, whaleEventsGlobalCap)
	d.byToken[ev.TokenID] = appendCapped(d.byToken[ev.TokenID], ev, whaleEventsIndexCap)
	if ev.Wallet != "" {
		d.byWallet[ev.Wallet] = appendCapped(d.byWallet[ev.Wallet], ev, whaleEventsIndexCap)
	}
}

func (d *WhaleDetector) emit(ev WhaleEvent) {
	metrics.WhaleEvents.WithLabelValues(string(ev.Type)).Inc()
	d.logger.Info("whale event",
		zap.String("type", string(ev.Type)),
		zap.String("token", shortID(ev.TokenID)),
		zap.String("wallet", shortID(ev.Wallet)),
		zap.Float64("notionalUsd", ev.NotionalUSD),
		zap.Int("clusterCount", ev.ClusterCount),
	)
	if d.sink != nil {
		d.sink(ev)
	}
}

// EventsSince returns all stored events with timestamp after t, oldest first.
func (d *WhaleDetector) EventsSince(t time.Time) []WhaleEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []WhaleEvent
	for _, ev := range d.events {
		if ev.Timestamp.After(t) {
			out = append(out, ev)
		}
	}
	return out
}

// EventsForToken returns the stored events for one token, oldest first.
func (d *WhaleDetector) EventsForToken(tokenID string) []WhaleEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]WhaleEvent, len(d.byToken[tokenID]))
	copy(out, d.byToken[tokenID])
	return out
}

// EventsForWallet returns the stored events for one wallet, oldest first.
func (d *WhaleDetector) EventsForWallet(wallet string) []WhaleEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]WhaleEvent, len(d.byWallet[wallet]))
	copy(out, d.byWallet[wallet])
	return out
}

// Watchlisted reports whether a wallet is on the top-PnL watchlist.
func (d *WhaleDetector) Watchlisted(wallet string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.watchlist[wallet]
	return ok
}

// SetWatchlist replaces the watchlist wholesale.
func (d *WhaleDetector) SetWatchlist(wallets []string) {
	next := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		next[w] = struct{}{}
	}

	d.mu.Lock()
	d.watchlist = next
	d.mu.Unlock()
}

// RefreshWatchlist pulls the leaderboard and swaps the watchlist in one
// step. On failure the previous set stays untouched.
func (d *WhaleDetector) RefreshWatchlist(ctx context.Context) error {
	if d.leaderboard == nil {
		return nil
	}

	wallets, err := d.leaderboard.TopWallets(ctx, d.refreshCfg.TopN)
	if err != nil {
		d.logger.Warn("watchlist refresh failed, keeping previous set", zap.Error(err))
		return err
	}

	d.SetWatchlist(wallets)
	d.logger.Info("watchlist refreshed", zap.Int("wallets", len(wallets)))
	return nil
}

// Run refreshes the watchlist periodically until ctx is done.
func (d *WhaleDetector) Run(ctx context.Context) {
	_ = d.RefreshWatchlist(ctx)

	t := time.NewTicker(d.refreshCfg.RefreshInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = d.RefreshWatchlist(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func splitClusterKey(key string) (wallet, tokenID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

func appendCapped(buf []WhaleEvent, ev WhaleEvent, max int) []WhaleEvent {
	buf = append(buf, ev)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
