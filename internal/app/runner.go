package app

import (
	"context"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	clts "whalewatch/clients"
	"whalewatch/clients/polymarketapi"
	"whalewatch/config"
	"whalewatch/internal/store"

	"go.uber.org/zap"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner wires the clients, detection pipeline, and alert delivery together
// and owns their lifecycle.
type Runner struct {
	clients *clts.Clients
	cfg     *config.Config

	store      store.Store
	buffer     *TradeBuffer
	scorer     *Scorer
	detector   *WhaleDetector
	aggregator *AlphaAggregator
	alerts     *AlertService
	monitor    *StreamMonitor

	healthServer *http.Server
	startTime    time.Time
}

func NewRunner(clients *clts.Clients, cfg *config.Config) *Runner {
	return &Runner{
		clients: clients,
		cfg:     cfg,
	}
}

// analyticsAdapter bridges the data-API win rate (a 0-1 fraction) to the
// scoring contract (a 0-100 percentage).
type analyticsAdapter struct {
	api interface {
		WinRate(ctx context.Context, wallet string) (float64, error)
	}
}

func (a analyticsAdapter) WinRate(ctx context.Context, wallet string) (float64, error) {
	frac, err := a.api.WinRate(ctx, wallet)
	if err != nil {
		return 0, err
	}
	return frac * 100, nil
}

// gammaResolver narrows the Gamma metadata client to the MetadataResolver
// contract.
type gammaResolver struct {
	api *polymarketapi.Client
}

func (g gammaResolver) Resolve(ctx context.Context, conditionID string) (MarketInfo, error) {
	md, err := g.api.Resolve(ctx, conditionID)
	if err != nil {
		return MarketInfo{}, err
	}
	return MarketInfo{
		ConditionID: md.ConditionID,
		Title:       md.Title,
		TokenIDs:    md.TokenIDs,
	}, nil
}

// Run builds the pipeline and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.cfg

	r.store = r.openStore(ctx)

	r.buffer = NewTradeBuffer(cfg.Cluster.BufferCapacity)
	r.scorer = NewScorer(logger, r.buffer, analyticsAdapter{api: r.clients.Polymarket}, cfg)
	r.detector = NewWhaleDetector(logger, r.clients.Polymarket, cfg)
	r.alerts = NewAlertService(logger, r.store, r.clients.Notifier, cfg)
	r.aggregator = NewAlphaAggregator(logger, r.scorer, r.buffer, r.detector, r.store, r.alerts, cfg)
	r.monitor = NewStreamMonitor(
		logger,
		r.clients.Stream,
		gammaResolver{api: r.clients.Polymarket},
		r.clients.Notifier,
		r.buffer,
		r.detector,
		r.aggregator,
		cfg,
	)

	// Seed the top-PnL watchlist before trades flow.
	refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := r.detector.RefreshWatchlist(refreshCtx); err != nil {
		logger.Warn("initial watchlist refresh failed", zap.Error(err))
	}
	refreshCancel()

	// Observer markets stream through the pipeline without per-user alerts.
	for _, conditionID := range cfg.ObserverMarkets {
		if err := r.monitor.RegisterMarket(ctx, conditionID, ""); err != nil {
			logger.Warn("observer market registration failed",
				zap.String("conditionID", shortID(conditionID)),
				zap.Error(err),
			)
		}
	}
	logger.Info("observer markets registered",
		zap.Int("requested", len(cfg.ObserverMarkets)),
		zap.Int("pending", len(r.monitor.PendingMarkets())),
	)

	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	go r.detector.Run(ctx)
	go r.aggregator.Run(ctx)
	go r.alerts.Run(ctx)
	go r.monitor.Run(ctx)

	logger.Info("engine started",
		zap.Duration("clusterWindow", cfg.Cluster.Window),
		zap.Float64("largeBetThresholdUsd", cfg.Cluster.LargeBetThresholdUSD),
		zap.Duration("tickInterval", cfg.Alpha.TickInterval),
	)

	<-ctx.Done()
	logger.Info("runner shutting down")

	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if err := r.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
	if err := r.clients.Notifier.Close(); err != nil {
		logger.Warn("notifier close failed", zap.Error(err))
	}

	return nil
}

// openStore connects Redis when configured, falling back to in-memory
// persistence.
func (r *Runner) openStore(ctx context.Context) store.Store {
	logger := r.clients.Logger

	if r.cfg.Redis.Addr == "" {
		logger.Info("redis not configured, using in-memory store")
		return store.NewMemoryStore()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rs, err := store.NewRedisStore(connectCtx, r.cfg.Redis.Addr, r.cfg.Redis.Password, r.cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory store",
			zap.String("addr", r.cfg.Redis.Addr),
			zap.Error(err),
		)
		return store.NewMemoryStore()
	}

	logger.Info("redis store connected", zap.String("addr", r.cfg.Redis.Addr))
	return rs
}

// ServiceStats is the /stats snapshot.
type ServiceStats struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Stream struct {
		Connected      bool   `json:"connected"`
		MessageCount   uint64 `json:"message_count"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"stream"`

	Engine struct {
		BufferedTrades  int `json:"buffered_trades"`
		RegisteredPairs int `json:"registered_pairs"`
		PendingMarkets  int `json:"pending_markets"`
	} `json:"engine"`

	RecentAlpha []RecentAlphaInfo `json:"recent_alpha"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		NumGC      uint32 `json:"num_gc"`
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

// RecentAlphaInfo is one entry of the /stats recent-alpha feed.
type RecentAlphaInfo struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Market    string `json:"market"`
	Wallet    string `json:"wallet,omitempty"`
	Alpha     int    `json:"alpha"`
	Title     string `json:"title"`
}

// GetStats assembles the current service statistics snapshot.
func (r *Runner) GetStats() ServiceStats {
	var s ServiceStats

	s.Build.Commit = BuildCommit
	s.Build.Time = BuildTime
	s.Build.GoVersion = runtime.Version()

	now := time.Now()
	s.StartTime = r.startTime.UTC().Format(time.RFC3339)
	s.Uptime = now.Sub(r.startTime).Round(time.Second).String()
	s.UptimeSec = int64(now.Sub(r.startTime).Seconds())

	if r.clients.Stream != nil {
		st := r.clients.Stream.Stats()
		s.Stream.Connected = r.clients.Stream.Connected()
		s.Stream.MessageCount = st.MessageCount
		if !st.LastMessageAt.IsZero() {
			s.Stream.LastMessageAt = st.LastMessageAt.UTC().Format(time.RFC3339)
			s.Stream.LastMessageAgo = now.Sub(st.LastMessageAt).Round(time.Second).String()
		}
	}

	s.Engine.BufferedTrades = r.buffer.Len()
	s.Engine.RegisteredPairs = len(r.aggregator.Pairs())
	s.Engine.PendingMarkets = len(r.monitor.PendingMarkets())

	recent := r.aggregator.Recent()
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	s.RecentAlpha = make([]RecentAlphaInfo, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		ev := recent[i]
		s.RecentAlpha = append(s.RecentAlpha, RecentAlphaInfo{
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			Kind:      string(ev.Kind),
			Market:    ev.MarketName,
			Wallet:    shortID(ev.Wallet),
			Alpha:     ev.Alpha,
			Title:     ev.Title,
		})
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.Runtime.Goroutines = runtime.NumGoroutine()
	s.Runtime.HeapAlloc = mem.HeapAlloc
	s.Runtime.NumGC = mem.NumGC
	s.Runtime.NumCPU = runtime.NumCPU()

	return s
}
