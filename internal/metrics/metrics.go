package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	TradesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_trades_ingested_total",
			Help: "Total number of trade messages ingested from the stream",
		},
	)

	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_messages_skipped_total",
			Help: "Total number of inbound messages skipped",
		},
		[]string{"reason"}, // malformed, unknown_type
	)

	PriceUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_price_updates_total",
			Help: "Total number of price-change updates processed",
		},
	)

	// Detection metrics
	WhaleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_whale_events_total",
			Help: "Total number of whale events emitted",
		},
		[]string{"type"}, // large-bet, top-pnl
	)

	ClustersDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_clusters_discarded_total",
			Help: "Total number of pending clusters flushed without an event",
		},
	)

	AlphaEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_alpha_events_total",
			Help: "Total number of alpha events emitted",
		},
		[]string{"kind"}, // whale, smart_skew, insider
	)

	AlphaSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_alpha_suppressed_total",
			Help: "Total number of alpha emissions suppressed",
		},
		[]string{"reason"}, // cooldown, dedup
	)

	// Delivery metrics
	AlertsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_alerts_delivered_total",
			Help: "Total number of alerts delivered immediately",
		},
	)

	AlertsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_alerts_queued_total",
			Help: "Total number of alerts enqueued for daily digest",
		},
	)

	AlertsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_alerts_dropped_total",
			Help: "Total number of alerts dropped before delivery",
		},
		[]string{"reason"}, // disabled, tier, rate_limited
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_delivery_failures_total",
			Help: "Total number of per-recipient delivery failures",
		},
	)

	// Transport metrics
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_stream_reconnects_total",
			Help: "Total number of stream reconnect attempts",
		},
	)

	StreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whalewatch_stream_connected",
			Help: "1 when the stream transport is connected, 0 otherwise",
		},
	)

	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whalewatch_active_subscriptions",
			Help: "Number of active subscriptions by kind",
		},
		[]string{"kind"}, // market, whale, whale_all, observer
	)

	// Persistence metrics
	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_persistence_failures_total",
			Help: "Total number of best-effort persistence failures",
		},
	)
)
