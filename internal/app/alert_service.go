package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"

	"go.uber.org/zap"
)

// AlertService routes emitted alpha events to users under tier, quiet-hours,
// and rate-limit policies, and flushes daily digests.
type AlertService struct {
	logger   *zap.Logger
	store    store.Store
	notifier notifier.Notifier
	cfg      config.AlertsConfig

	mu       sync.Mutex
	lastSent map[string]time.Time

	now func() time.Time
}

func NewAlertService(
	logger *zap.Logger,
	st store.Store,
	n notifier.Notifier,
	cfg *config.Config,
) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertService{
		logger:   logger,
		store:    st,
		notifier: n,
		cfg:      cfg.Alerts,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Broadcast routes one alpha event to every enabled user. Implements
// AlertSink. Per-recipient failures never block other recipients.
func (s *AlertService) Broadcast(ctx context.Context, ev AlphaEvent, confidence float64) {
	prefs, err := s.store.AllPrefs(ctx)
	if err != nil {
		s.logger.Warn("load prefs failed, skipping broadcast", zap.Error(err))
		return
	}

	text := renderAlert(ev, confidence)

	for _, p := range prefs {
		if !p.Enabled {
			continue
		}

		if p.Tier == store.TierHighConfidence && confidence < s.cfg.HighConfidence {
			metrics.AlertsDropped.WithLabelValues("low_confidence").Inc()
			continue
		}

		if p.Tier == store.TierDailyDigest {
			s.enqueue(ctx, p.UserID, ev, text, confidence)
			continue
		}

		if p.QuietHours != nil && inQuietHours(s.now().UTC().Hour(), *p.QuietHours) {
			s.enqueue(ctx, p.UserID, ev, text, confidence)
			continue
		}

		if !s.passRateLimit(p.UserID) {
			metrics.AlertsDropped.WithLabelValues("rate_limited").Inc()
			continue
		}

		s.deliver(ctx, p.UserID, text)
	}
}

// passRateLimit records a send attempt and reports whether it is allowed.
func (s *AlertService) passRateLimit(userID string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSent[userID]; ok && now.Sub(last) < s.cfg.RateLimitWindow {
		return false
	}
	s.lastSent[userID] = now
	return true
}

func (s *AlertService) deliver(ctx context.Context, userID, text string) {
	if err := s.notifier.Deliver(ctx, userID, text); err != nil {
		metrics.DeliveryFailures.Inc()
		s.logger.Warn("alert delivery failed",
			zap.String("userID", userID),
			zap.Error(err),
		)
		return
	}
	metrics.AlertsDelivered.Inc()
}

func (s *AlertService) enqueue(ctx context.Context, userID string, ev AlphaEvent, text string, confidence float64) {
	err := s.store.AppendDigest(ctx, userID, store.DigestEntry{
		EventID:    ev.ID,
		Title:      ev.Title,
		Body:       text,
		Confidence: confidence,
		Timestamp:  ev.Timestamp,
	})
	if err != nil {
		metrics.PersistenceFailures.Inc()
		s.logger.Warn("digest enqueue failed",
			zap.String("userID", userID),
			zap.Error(err),
		)
		return
	}
	metrics.AlertsQueued.Inc()
}

// FlushDigests renders and delivers each user's queued digest, then clears
// the queue. Called by the daily scheduler.
func (s *AlertService) FlushDigests(ctx context.Context) {
	prefs, err := s.store.AllPrefs(ctx)
	if err != nil {
		s.logger.Warn("load prefs failed, skipping digest flush", zap.Error(err))
		return
	}

	for _, p := range prefs {
		if !p.Enabled {
			continue
		}

		entries, err := s.store.LoadDigest(ctx, p.UserID)
		if err != nil {
			s.logger.Warn("load digest failed",
				zap.String("userID", p.UserID),
				zap.Error(err),
			)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		text := renderDigest(dedupDigest(entries), s.cfg.DigestRenderCap)
		s.deliver(ctx, p.UserID, text)

		if err := s.store.ClearDigest(ctx, p.UserID); err != nil {
			s.logger.Warn("clear digest failed",
				zap.String("userID", p.UserID),
				zap.Error(err),
			)
		}
	}
}

// Run flushes digests once per day at the configured UTC hour.
func (s *AlertService) Run(ctx context.Context) {
	for {
		wait := untilNextHourUTC(s.now().UTC(), s.cfg.DigestHourUTC)
		select {
		case <-time.After(wait):
			s.FlushDigests(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// inQuietHours reports whether hour falls inside the half-open window
// [StartHour, EndHour). The window wraps past midnight when start > end;
// start == end means always quiet.
func inQuietHours(hour int, qh store.QuietHours) bool {
	if qh.StartHour == qh.EndHour {
		return true
	}
	if qh.StartHour < qh.EndHour {
		return hour >= qh.StartHour && hour < qh.EndHour
	}
	return hour >= qh.StartHour || hour < qh.EndHour
}

// untilNextHourUTC computes the wait until the next occurrence of hour.
func untilNextHourUTC(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// dedupDigest drops entries repeating an already-seen event id, preserving
// order.
func dedupDigest(entries []store.DigestEntry) []store.DigestEntry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := seen[e.EventID]; ok {
			continue
		}
		seen[e.EventID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func renderAlert(ev AlphaEvent, confidence float64) string {
	var sb strings.Builder

	sb.WriteString(ev.Title)
	sb.WriteString(fmt.Sprintf(" [%s, %.0f%%]\n", ev.Kind, confidence*100))
	if ev.MarketName != "" {
		sb.WriteString("Market: " + ev.MarketName + "\n")
	}
	sb.WriteString(ev.Summary)

	return sb.String()
}

func renderDigest(entries []store.DigestEntry, renderCap int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Daily digest: %d alert(s)\n", len(entries)))

	shown := entries
	if renderCap > 0 && len(shown) > renderCap {
		shown = shown[:renderCap]
	}

	for i, e := range shown {
		sb.WriteString(fmt.Sprintf("\n%d. %s (%.0f%%) %s",
			i+1, e.Title, e.Confidence*100, e.Timestamp.UTC().Format("Jan 2 15:04")))
	}

	if rest := len(entries) - len(shown); rest > 0 {
		sb.WriteString(fmt.Sprintf("\n…and %d more", rest))
	}

	return sb.String()
}
