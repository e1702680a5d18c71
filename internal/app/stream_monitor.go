package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"whalewatch/clients/marketstream"
	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"

	"go.uber.org/zap"
)

// ErrDuplicateSubscription is returned when a user already holds an
// identical subscription.
var ErrDuplicateSubscription = errors.New("subscription already exists")

// StreamTransport is the venue websocket connection the monitor drives.
// Satisfied by marketstream.Client.
type StreamTransport interface {
	Connect(ctx context.Context, tokenIDs []string) error
	Subscribe(tokenIDs []string) error
	Unsubscribe(tokenIDs []string) error
	Messages() <-chan json.RawMessage
	Errors() <-chan error
	Connected() bool
	Close() error
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// priceSub tracks a user's price-move subscription on one token. baseline
// holds the last alerted (or first observed) price; 0 means unseen.
type priceSub struct {
	pctThreshold float64
	baseline     float64
}

// StreamMonitor owns the websocket lifecycle: subscriptions, reconnect
// policy, pending market resolution, and fan-out of parsed events into the
// detection pipeline.
type StreamMonitor struct {
	logger     *zap.Logger
	transport  StreamTransport
	resolver   MetadataResolver
	notifier   notifier.Notifier
	buffer     *TradeBuffer
	detector   *WhaleDetector
	aggregator *AlphaAggregator
	cfg        config.StreamConfig

	mu        sync.Mutex
	state     connState
	priceSubs map[string]map[string]*priceSub // tokenID -> userID
	whaleSubs map[string]map[string]float64   // tokenID -> userID -> min notional
	allSubs   map[string]map[string]float64   // wallet ("" = any) -> userID -> min notional
	observers map[string]struct{}             // tokenID set
	pending   map[string][]string             // conditionID -> waiting userIDs

	connectCh chan struct{}

	rng *rand.Rand
}

func NewStreamMonitor(
	logger *zap.Logger,
	transport StreamTransport,
	resolver MetadataResolver,
	n notifier.Notifier,
	buffer *TradeBuffer,
	detector *WhaleDetector,
	aggregator *AlphaAggregator,
	cfg *config.Config,
) *StreamMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamMonitor{
		logger:     logger,
		transport:  transport,
		resolver:   resolver,
		notifier:   n,
		buffer:     buffer,
		detector:   detector,
		aggregator: aggregator,
		cfg:        cfg.Stream,
		priceSubs:  make(map[string]map[string]*priceSub),
		whaleSubs:  make(map[string]map[string]float64),
		allSubs:    make(map[string]map[string]float64),
		observers:  make(map[string]struct{}),
		pending:    make(map[string][]string),
		connectCh:  make(chan struct{}, 1),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SubscribePrice watches a token for price moves of at least pctThreshold
// percent from the last alerted price.
func (m *StreamMonitor) SubscribePrice(userID, tokenID string, pctThreshold float64) error {
	if tokenID == "" || userID == "" {
		return errors.New("userID and tokenID required")
	}

	m.mu.Lock()
	users, ok := m.priceSubs[tokenID]
	if !ok {
		users = make(map[string]*priceSub)
		m.priceSubs[tokenID] = users
	}
	if _, exists := users[userID]; exists {
		m.mu.Unlock()
		return ErrDuplicateSubscription
	}
	users[userID] = &priceSub{pctThreshold: pctThreshold}
	m.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues("market").Inc()
	m.tokenAdded(tokenID)
	return nil
}

// SubscribeWhale watches a token for single trades at or above
// minNotionalUSD.
func (m *StreamMonitor) SubscribeWhale(userID, tokenID string, minNotionalUSD float64) error {
	if tokenID == "" || userID == "" {
		return errors.New("userID and tokenID required")
	}

	m.mu.Lock()
	users, ok := m.whaleSubs[tokenID]
	if !ok {
		users = make(map[string]float64)
		m.whaleSubs[tokenID] = users
	}
	if _, exists := users[userID]; exists {
		m.mu.Unlock()
		return ErrDuplicateSubscription
	}
	users[userID] = minNotionalUSD
	m.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues("whale").Inc()
	m.tokenAdded(tokenID)
	return nil
}

// SubscribeWhaleAll watches trades at or above minNotionalUSD across all
// streamed tokens. An empty wallet matches any wallet; a non-empty wallet
// narrows the watch to that wallet alone.
func (m *StreamMonitor) SubscribeWhaleAll(userID string, minNotionalUSD float64, wallet string) error {
	if userID == "" {
		return errors.New("userID required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.allSubs[wallet]
	if !ok {
		users = make(map[string]float64)
		m.allSubs[wallet] = users
	}
	if _, exists := users[userID]; exists {
		return ErrDuplicateSubscription
	}
	users[userID] = minNotionalUSD
	metrics.ActiveSubscriptions.WithLabelValues("whale_all").Inc()
	return nil
}

// UnsubscribePrice removes a price subscription. Reports whether it existed.
func (m *StreamMonitor) UnsubscribePrice(userID, tokenID string) bool {
	m.mu.Lock()
	users, ok := m.priceSubs[tokenID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if _, exists := users[userID]; !exists {
		m.mu.Unlock()
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.priceSubs, tokenID)
	}
	m.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues("market").Dec()
	m.tokenRemoved(tokenID)
	return true
}

// UnsubscribeWhale removes a whale-trade subscription.
func (m *StreamMonitor) UnsubscribeWhale(userID, tokenID string) bool {
	m.mu.Lock()
	users, ok := m.whaleSubs[tokenID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if _, exists := users[userID]; !exists {
		m.mu.Unlock()
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.whaleSubs, tokenID)
	}
	m.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues("whale").Dec()
	m.tokenRemoved(tokenID)
	return true
}

// UnsubscribeWhaleAll removes a whale-all subscription.
func (m *StreamMonitor) UnsubscribeWhaleAll(userID, wallet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.allSubs[wallet]
	if !ok {
		return false
	}
	if _, exists := users[userID]; !exists {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.allSubs, wallet)
	}
	metrics.ActiveSubscriptions.WithLabelValues("whale_all").Dec()
	return true
}

// Observe streams a market's tokens through the detection pipeline without
// any per-user alerting. Used for engine-level observer markets.
func (m *StreamMonitor) Observe(tokenIDs ...string) {
	added := make([]string, 0, len(tokenIDs))

	m.mu.Lock()
	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		if _, ok := m.observers[id]; ok {
			continue
		}
		m.observers[id] = struct{}{}
		added = append(added, id)
	}
	m.mu.Unlock()

	for _, id := range added {
		metrics.ActiveSubscriptions.WithLabelValues("observer").Inc()
		m.tokenAdded(id)
	}
}

// RegisterMarket resolves a condition id into its token pair and starts
// streaming it. An unresolvable market is parked and retried in the
// background; waiting users are notified when it goes live.
func (m *StreamMonitor) RegisterMarket(ctx context.Context, conditionID, userID string) error {
	if conditionID == "" {
		return errors.New("conditionID required")
	}

	info, err := m.resolver.Resolve(ctx, conditionID)
	if err != nil {
		m.mu.Lock()
		m.pending[conditionID] = appendUnique(m.pending[conditionID], userID)
		m.mu.Unlock()
		m.logger.Info("market not yet resolvable, parked",
			zap.String("conditionID", shortID(conditionID)),
			zap.Error(err),
		)
		return nil
	}

	m.promote(ctx, info, []string{userID})
	return nil
}

// promote wires a resolved market into the pipeline and notifies waiters.
func (m *StreamMonitor) promote(ctx context.Context, info MarketInfo, userIDs []string) {
	pair := MarketPair{
		ConditionID: info.ConditionID,
		Title:       info.Title,
	}
	if len(info.TokenIDs) > 0 {
		pair.YesTokenID = info.TokenIDs[0]
	}
	if len(info.TokenIDs) > 1 {
		pair.NoTokenID = info.TokenIDs[1]
	}
	m.aggregator.RegisterPair(pair)
	m.Observe(info.TokenIDs...)

	m.logger.Info("market live",
		zap.String("conditionID", shortID(info.ConditionID)),
		zap.String("title", info.Title),
	)

	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		text := fmt.Sprintf("Market now live: %s", info.Title)
		if err := m.notifier.Deliver(ctx, uid, text); err != nil {
			m.logger.Warn("promotion notice failed",
				zap.String("userID", uid),
				zap.Error(err),
			)
		}
	}
}

// retryPending re-resolves parked condition ids.
func (m *StreamMonitor) retryPending(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string][]string, len(m.pending))
	for id, users := range m.pending {
		snapshot[id] = append([]string(nil), users...)
	}
	m.mu.Unlock()

	for conditionID, users := range snapshot {
		info, err := m.resolver.Resolve(ctx, conditionID)
		if err != nil {
			continue
		}

		m.mu.Lock()
		delete(m.pending, conditionID)
		m.mu.Unlock()

		m.promote(ctx, info, users)
	}
}

// PendingMarkets returns the condition ids still awaiting resolution.
func (m *StreamMonitor) PendingMarkets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	return out
}

// desiredTokens is the union of every token any subscription needs.
func (m *StreamMonitor) desiredTokens() []string {
	set := make(map[string]struct{}, len(m.priceSubs)+len(m.whaleSubs)+len(m.observers))
	for id := range m.priceSubs {
		set[id] = struct{}{}
	}
	for id := range m.whaleSubs {
		set[id] = struct{}{}
	}
	for id := range m.observers {
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (m *StreamMonitor) hasSubscriptions() bool {
	return len(m.priceSubs) > 0 || len(m.whaleSubs) > 0 ||
		len(m.allSubs) > 0 || len(m.observers) > 0
}

// tokenAdded subscribes a new token on a live connection, or requests the
// first connection. The stream stays down until something needs it.
func (m *StreamMonitor) tokenAdded(tokenID string) {
	m.mu.Lock()
	connected := m.state == stateConnected
	m.mu.Unlock()

	if connected {
		if err := m.transport.Subscribe([]string{tokenID}); err != nil {
			m.logger.Warn("subscribe failed", zap.String("token", shortID(tokenID)), zap.Error(err))
		}
		return
	}

	select {
	case m.connectCh <- struct{}{}:
	default:
	}
}

// tokenRemoved unsubscribes a token no other subscription still needs.
func (m *StreamMonitor) tokenRemoved(tokenID string) {
	m.mu.Lock()
	_, stillPrice := m.priceSubs[tokenID]
	_, stillWhale := m.whaleSubs[tokenID]
	_, observed := m.observers[tokenID]
	connected := m.state == stateConnected
	m.mu.Unlock()

	if stillPrice || stillWhale || observed || !connected {
		return
	}
	if err := m.transport.Unsubscribe([]string{tokenID}); err != nil {
		m.logger.Warn("unsubscribe failed", zap.String("token", shortID(tokenID)), zap.Error(err))
	}
}

// Run drives the connection and dispatch loop until ctx is done.
func (m *StreamMonitor) Run(ctx context.Context) {
	retry := time.NewTicker(m.cfg.PendingRetryInterval)
	defer retry.Stop()
	defer m.transport.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case <-m.connectCh:
			m.reconnect(ctx, false)

		case err, ok := <-m.transport.Errors():
			if !ok {
				return
			}
			metrics.StreamConnected.Set(0)
			m.setState(stateDisconnected)
			rateLimited := errors.Is(err, marketstream.ErrRateLimited)
			m.logger.Warn("stream error, reconnecting",
				zap.Bool("rateLimited", rateLimited),
				zap.Error(err),
			)
			m.reconnect(ctx, rateLimited)

		case raw, ok := <-m.transport.Messages():
			if !ok {
				return
			}
			m.dispatch(ctx, raw)

		case <-retry.C:
			m.retryPending(ctx)
		}
	}
}

func (m *StreamMonitor) setState(s connState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// reconnect attempts to (re)establish the stream with exponential backoff.
// Gives up after MaxReconnectAttempts (0 means retry forever), or
// immediately when nothing is subscribed.
func (m *StreamMonitor) reconnect(ctx context.Context, rateLimited bool) {
	for attempt := 1; ; attempt++ {
		m.mu.Lock()
		if !m.hasSubscriptions() {
			m.state = stateDisconnected
			m.mu.Unlock()
			return
		}
		tokens := m.desiredTokens()
		m.state = stateConnecting
		m.mu.Unlock()

		metrics.Reconnects.Inc()
		err := m.transport.Connect(ctx, tokens)
		if err == nil {
			m.setState(stateConnected)
			metrics.StreamConnected.Set(1)
			m.logger.Info("stream connected", zap.Int("tokens", len(tokens)))
			return
		}

		if m.cfg.MaxReconnectAttempts > 0 && attempt >= m.cfg.MaxReconnectAttempts {
			m.setState(stateDisconnected)
			m.logger.Error("reconnect attempts exhausted",
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}

		if errors.Is(err, marketstream.ErrRateLimited) {
			rateLimited = true
		}
		wait := m.computeBackoff(attempt, rateLimited)
		m.logger.Warn("connect failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// computeBackoff doubles the base delay per attempt up to the cap, applies
// symmetric jitter, and floors the result at the rate-limit cooldown when
// the venue told us to slow down.
func (m *StreamMonitor) computeBackoff(attempt int, rateLimited bool) time.Duration {
	d := m.cfg.BackoffBase
	for i := 1; i < attempt && d < m.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > m.cfg.BackoffCap {
		d = m.cfg.BackoffCap
	}

	if m.cfg.BackoffJitter > 0 {
		f := 1 + (m.rng.Float64()*2-1)*m.cfg.BackoffJitter
		d = time.Duration(float64(d) * f)
	}

	if rateLimited && d < m.cfg.RateLimitCooldown {
		d = m.cfg.RateLimitCooldown
	}
	return d
}

// dispatch routes one raw stream message through the pipeline.
func (m *StreamMonitor) dispatch(ctx context.Context, raw json.RawMessage) {
	if tick := marketstream.ParseTrade(raw); tick != nil {
		metrics.TradesIngested.Inc()
		m.handleTrade(ctx, Trade{
			Timestamp:   tick.Timestamp,
			TokenID:     tick.TokenID,
			Wallet:      tick.Wallet,
			Side:        tick.Side,
			Price:       tick.Price,
			Size:        tick.Size,
			NotionalUSD: tick.Notional(),
		})
		return
	}

	if ticks := marketstream.ParsePriceTicks(raw); len(ticks) > 0 {
		m.handlePriceTicks(ctx, ticks)
		return
	}

	metrics.MessagesSkipped.WithLabelValues("malformed").Inc()
}

func (m *StreamMonitor) handleTrade(ctx context.Context, t Trade) {
	m.buffer.Record(t)
	m.detector.OnTrade(t)
	go m.aggregator.OnTrade(ctx, t)

	type match struct {
		userID string
		text   string
	}
	var matches []match

	m.mu.Lock()
	for userID, minNotional := range m.whaleSubs[t.TokenID] {
		if t.NotionalUSD >= minNotional {
			matches = append(matches, match{userID, fmt.Sprintf(
				"Whale trade: %s %s $%.0f on %s at %.3f",
				shortID(t.Wallet), t.Side, t.NotionalUSD, shortID(t.TokenID), t.Price,
			)})
		}
	}
	// Whale-all watches: exact wallet, then the any-wallet bucket.
	buckets := []string{""}
	if t.Wallet != "" {
		buckets = []string{t.Wallet, ""}
	}
	for _, wallet := range buckets {
		for userID, minNotional := range m.allSubs[wallet] {
			if t.NotionalUSD >= minNotional {
				matches = append(matches, match{userID, fmt.Sprintf(
					"Tracked wallet %s: %s $%.0f on %s at %.3f",
					shortID(t.Wallet), t.Side, t.NotionalUSD, shortID(t.TokenID), t.Price,
				)})
			}
		}
	}
	m.mu.Unlock()

	if len(matches) == 0 {
		return
	}
	go func() {
		for _, mt := range matches {
			if err := m.notifier.Deliver(ctx, mt.userID, mt.text); err != nil {
				metrics.DeliveryFailures.Inc()
				m.logger.Warn("whale notice failed", zap.String("userID", mt.userID), zap.Error(err))
			}
		}
	}()
}

// handlePriceTicks updates price baselines and fires at most one move alert
// per subscriber per message, even when a batch moves several tokens.
func (m *StreamMonitor) handlePriceTicks(ctx context.Context, ticks []marketstream.PriceTick) {
	type alert struct {
		userID string
		text   string
	}
	var alerts []alert
	notified := make(map[string]struct{})

	m.mu.Lock()
	for _, tick := range ticks {
		metrics.PriceUpdates.Inc()
		for userID, sub := range m.priceSubs[tick.TokenID] {
			if sub.baseline == 0 {
				sub.baseline = tick.Price
				continue
			}
			movePct := (tick.Price - sub.baseline) / sub.baseline * 100
			if movePct < 0 {
				movePct = -movePct
			}
			if movePct < sub.pctThreshold {
				continue
			}
			if _, dup := notified[userID]; dup {
				sub.baseline = tick.Price
				continue
			}
			notified[userID] = struct{}{}
			alerts = append(alerts, alert{userID, fmt.Sprintf(
				"Price move on %s: %.3f (%.1f%% from %.3f)",
				shortID(tick.TokenID), tick.Price, movePct, sub.baseline,
			)})
			sub.baseline = tick.Price
		}
	}
	m.mu.Unlock()

	if len(alerts) == 0 {
		return
	}
	go func() {
		for _, a := range alerts {
			if err := m.notifier.Deliver(ctx, a.userID, a.text); err != nil {
				metrics.DeliveryFailures.Inc()
				m.logger.Warn("price notice failed", zap.String("userID", a.userID), zap.Error(err))
			}
		}
	}()
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
