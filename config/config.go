package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. Values are read once at
// construction; components receive their section by value and never re-read
// the environment.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Whale cluster detection
	Cluster ClusterConfig `json:"cluster"`

	// Wallet whale scoring
	Scoring ScoringConfig `json:"scoring"`

	// Smart-money skew scanning
	Skew SkewConfig `json:"skew"`

	// Insider pattern scoring
	Insider InsiderConfig `json:"insider"`

	// Alpha aggregation (cooldowns, dedup, tick interval)
	Alpha AlphaConfig `json:"alpha"`

	// Alert delivery policies
	Alerts AlertsConfig `json:"alerts"`

	// Stream transport and reconnect behavior
	Stream StreamConfig `json:"stream"`

	// Top-PnL watchlist refresh
	Leaderboard LeaderboardConfig `json:"leaderboard"`

	// Redis persistence (optional; in-memory fallback when unset)
	Redis RedisConfig `json:"redis"`

	// Polymarket HTTP APIs
	Polymarket PolymarketConfig `json:"polymarket"`

	// Health/metrics server
	HealthServer HealthServerConfig `json:"health_server"`

	// Condition IDs resolved into the background observer token set
	ObserverMarkets []string `json:"observer_markets"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken string `json:"-"` // Excluded - env var only
}

// ClusterConfig holds whale burst-clustering configuration.
type ClusterConfig struct {
	Window               time.Duration `json:"window"`                  // fills from the same (wallet, token) within this window merge
	LargeBetThresholdUSD float64       `json:"large_bet_threshold_usd"` // single-fill notional that emits immediately
	BufferCapacity       int           `json:"buffer_capacity"`         // trade ring buffer size
}

// ScoringConfig holds wallet whale-score baselines and weights.
type ScoringConfig struct {
	SizeBaselineUSD float64       `json:"size_baseline_usd"` // avg bet size that maps to sizeScore 80
	MaxFreqPerHour  float64       `json:"max_freq_per_hour"` // trades/hour that maps to freqScore 100
	StatsWindow     time.Duration `json:"stats_window"`      // lookback for wallet stats
	StatsMaxEvents  int           `json:"stats_max_events"`  // cap on trades scanned per wallet
	HardNotionalUSD float64       `json:"hard_notional_usd"` // notional that classifies as whale regardless of score
}

// SkewConfig holds smart-money skew scan configuration.
type SkewConfig struct {
	Window          time.Duration `json:"window"`             // trade lookback per market pair
	MaxScan         int           `json:"max_scan"`           // max trades scanned per side
	MaxWallets      int           `json:"max_wallets"`        // unique wallets scored per scan
	TriggerSkew     float64       `json:"trigger_skew"`       // minimum skew to trigger
	MinSmartPoolUSD float64       `json:"min_smart_pool_usd"` // minimum whale volume across both sides
}

// InsiderConfig holds insider-pattern scoring configuration.
type InsiderConfig struct {
	TriggerScore int `json:"trigger_score"` // minimum composite score to trigger
}

// AlphaConfig holds alpha aggregation configuration.
type AlphaConfig struct {
	TickInterval    time.Duration `json:"tick_interval"`    // periodic skew/insider scan cadence
	WhaleCooldown   time.Duration `json:"whale_cooldown"`   // per-(market,wallet) cooldown for whale events
	SkewCooldown    time.Duration `json:"skew_cooldown"`    // per-market cooldown for smart_skew events
	InsiderCooldown time.Duration `json:"insider_cooldown"` // per-(market,wallet) cooldown for insider events
	DedupWindow     time.Duration `json:"dedup_window"`     // near-duplicate suppression window
	DedupMinDelta   float64       `json:"dedup_min_delta"`  // minimum alpha change to re-emit inside the window
}

// AlertsConfig holds alert delivery policy configuration.
type AlertsConfig struct {
	RateLimitWindow  time.Duration `json:"rate_limit_window"` // minimum gap between sends per user
	HighConfidence   float64       `json:"high_confidence"`   // confidence floor for the high_confidence tier
	DigestHourUTC    int           `json:"digest_hour_utc"`   // daily digest flush hour
	DigestRenderCap  int           `json:"digest_render_cap"` // max entries rendered per digest
}

// StreamConfig holds websocket transport and reconnect configuration.
type StreamConfig struct {
	URL                  string        `json:"url"`
	PingInterval         time.Duration `json:"ping_interval"`
	BackoffBase          time.Duration `json:"backoff_base"`
	BackoffCap           time.Duration `json:"backoff_cap"`
	BackoffJitter        float64       `json:"backoff_jitter"` // fraction, e.g. 0.20
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	RateLimitCooldown    time.Duration `json:"rate_limit_cooldown"`
	PendingRetryInterval time.Duration `json:"pending_retry_interval"` // condition-id resolution retry cadence
}

// LeaderboardConfig holds top-PnL watchlist configuration.
type LeaderboardConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval"`
	TopN            int           `json:"top_n"`
}

// RedisConfig holds Redis connection configuration. An empty Addr disables
// Redis and the engine runs with in-memory persistence only.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"` // Excluded - env var only
	DB       int    `json:"db"`
}

// PolymarketConfig holds Polymarket API configuration.
type PolymarketConfig struct {
	GammaAPIURL string `json:"gamma_api_url"`
	DataAPIURL  string `json:"data_api_url"`
}

// HealthServerConfig holds health/metrics server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		Cluster: ClusterConfig{
			Window:               1200 * time.Millisecond,
			LargeBetThresholdUSD: 10000.0,
			BufferCapacity:       2000,
		},
		Scoring: ScoringConfig{
			SizeBaselineUSD: 10000.0,
			MaxFreqPerHour:  10.0,
			StatsWindow:     6 * time.Hour,
			StatsMaxEvents:  500,
			HardNotionalUSD: 10000.0,
		},
		Skew: SkewConfig{
			Window:          30 * time.Minute,
			MaxScan:         2000,
			MaxWallets:      50,
			TriggerSkew:     0.75,
			MinSmartPoolUSD: 3000.0,
		},
		Insider: InsiderConfig{
			TriggerScore: 75,
		},
		Alpha: AlphaConfig{
			TickInterval:    30 * time.Second,
			WhaleCooldown:   5 * time.Minute,
			SkewCooldown:    10 * time.Minute,
			InsiderCooldown: 15 * time.Minute,
			DedupWindow:     30 * time.Second,
			DedupMinDelta:   3.0,
		},
		Alerts: AlertsConfig{
			RateLimitWindow: 10 * time.Second,
			HighConfidence:  0.75,
			DigestHourUTC:   13,
			DigestRenderCap: 20,
		},
		Stream: StreamConfig{
			URL:                  "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			PingInterval:         10 * time.Second,
			BackoffBase:          10 * time.Second,
			BackoffCap:           300 * time.Second,
			BackoffJitter:        0.20,
			MaxReconnectAttempts: 10,
			RateLimitCooldown:    180 * time.Second,
			PendingRetryInterval: 1 * time.Minute,
		},
		Leaderboard: LeaderboardConfig{
			RefreshInterval: 10 * time.Minute,
			TopN:            50,
		},
		Redis: RedisConfig{},
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://gamma-api.polymarket.com",
			DataAPIURL:  "https://data-api.polymarket.com",
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	d := Defaults()
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken: envString("TELEGRAM_BOT_KEY", ""),
		},

		Cluster: ClusterConfig{
			Window:               envDuration("CLUSTER_WINDOW", d.Cluster.Window),
			LargeBetThresholdUSD: envFloat("CLUSTER_LARGE_BET_USD", d.Cluster.LargeBetThresholdUSD),
			BufferCapacity:       envInt("TRADE_BUFFER_CAPACITY", d.Cluster.BufferCapacity),
		},

		Scoring: ScoringConfig{
			SizeBaselineUSD: envFloat("SCORE_SIZE_BASELINE_USD", d.Scoring.SizeBaselineUSD),
			MaxFreqPerHour:  envFloat("SCORE_MAX_FREQ_PER_HOUR", d.Scoring.MaxFreqPerHour),
			StatsWindow:     envDuration("SCORE_STATS_WINDOW", d.Scoring.StatsWindow),
			StatsMaxEvents:  envInt("SCORE_STATS_MAX_EVENTS", d.Scoring.StatsMaxEvents),
			HardNotionalUSD: envFloat("SCORE_HARD_NOTIONAL_USD", d.Scoring.HardNotionalUSD),
		},

		Skew: SkewConfig{
			Window:          envDuration("SKEW_WINDOW", d.Skew.Window),
			MaxScan:         envInt("SKEW_MAX_SCAN", d.Skew.MaxScan),
			MaxWallets:      envInt("SKEW_MAX_WALLETS", d.Skew.MaxWallets),
			TriggerSkew:     envFloat("SKEW_TRIGGER", d.Skew.TriggerSkew),
			MinSmartPoolUSD: envFloat("SKEW_MIN_SMART_POOL_USD", d.Skew.MinSmartPoolUSD),
		},

		Insider: InsiderConfig{
			TriggerScore: envInt("INSIDER_TRIGGER_SCORE", d.Insider.TriggerScore),
		},

		Alpha: AlphaConfig{
			TickInterval:    envDuration("ALPHA_TICK_INTERVAL", d.Alpha.TickInterval),
			WhaleCooldown:   envDuration("ALPHA_WHALE_COOLDOWN", d.Alpha.WhaleCooldown),
			SkewCooldown:    envDuration("ALPHA_SKEW_COOLDOWN", d.Alpha.SkewCooldown),
			InsiderCooldown: envDuration("ALPHA_INSIDER_COOLDOWN", d.Alpha.InsiderCooldown),
			DedupWindow:     envDuration("ALPHA_DEDUP_WINDOW", d.Alpha.DedupWindow),
			DedupMinDelta:   envFloat("ALPHA_DEDUP_MIN_DELTA", d.Alpha.DedupMinDelta),
		},

		Alerts: AlertsConfig{
			RateLimitWindow: envDuration("ALERT_RATE_LIMIT_WINDOW", d.Alerts.RateLimitWindow),
			HighConfidence:  envFloat("ALERT_HIGH_CONFIDENCE", d.Alerts.HighConfidence),
			DigestHourUTC:   envInt("ALERT_DIGEST_HOUR_UTC", d.Alerts.DigestHourUTC),
			DigestRenderCap: envInt("ALERT_DIGEST_RENDER_CAP", d.Alerts.DigestRenderCap),
		},

		Stream: StreamConfig{
			URL:                  envString("STREAM_WS_URL", d.Stream.URL),
			PingInterval:         envDuration("STREAM_PING_INTERVAL", d.Stream.PingInterval),
			BackoffBase:          envDuration("STREAM_BACKOFF_BASE", d.Stream.BackoffBase),
			BackoffCap:           envDuration("STREAM_BACKOFF_CAP", d.Stream.BackoffCap),
			BackoffJitter:        envFloat("STREAM_BACKOFF_JITTER", d.Stream.BackoffJitter),
			MaxReconnectAttempts: envInt("STREAM_MAX_RECONNECT_ATTEMPTS", d.Stream.MaxReconnectAttempts),
			RateLimitCooldown:    envDuration("STREAM_RATE_LIMIT_COOLDOWN", d.Stream.RateLimitCooldown),
			PendingRetryInterval: envDuration("STREAM_PENDING_RETRY_INTERVAL", d.Stream.PendingRetryInterval),
		},

		Leaderboard: LeaderboardConfig{
			RefreshInterval: envDuration("LEADERBOARD_REFRESH_INTERVAL", d.Leaderboard.RefreshInterval),
			TopN:            envInt("LEADERBOARD_TOP_N", d.Leaderboard.TopN),
		},

		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},

		Polymarket: PolymarketConfig{
			GammaAPIURL: envString("POLYMARKET_GAMMA_API_URL", d.Polymarket.GammaAPIURL),
			DataAPIURL:  envString("POLYMARKET_DATA_API_URL", d.Polymarket.DataAPIURL),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},

		ObserverMarkets: envStringSlice("OBSERVER_MARKETS"),
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
