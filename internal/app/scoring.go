package app

import (
	"context"
	"math"
	"time"

	"whalewatch/config"

	"go.uber.org/zap"
)

// WalletAnalytics looks up a wallet's historical win rate as a percentage in
// [0, 100]. Callers treat errors as 0, never fatal.
type WalletAnalytics interface {
	WinRate(ctx context.Context, wallet string) (float64, error)
}

// LeaderboardSource returns the top n wallet addresses by realized profit.
type LeaderboardSource interface {
	TopWallets(ctx context.Context, n int) ([]string, error)
}

// MarketInfo is the resolved identity of a binary market.
type MarketInfo struct {
	ConditionID string
	Title       string
	TokenIDs    []string
}

// MetadataResolver resolves a condition ID into market metadata.
type MetadataResolver interface {
	Resolve(ctx context.Context, conditionID string) (MarketInfo, error)
}

// MarketPair is a registered binary market with both outcome tokens known.
type MarketPair struct {
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	Title       string
}

// WalletStats summarizes a wallet's recent activity. Computed on demand.
type WalletStats struct {
	Wallet        string
	AvgBetUSD     float64
	TradesPerHour float64
	WinRate       float64 // percentage 0-100
	SampleCount   int
	WindowHours   float64
}

// Recommendation classifies what to do with a scored wallet's signal.
type Recommendation string

const (
	RecommendCopy    Recommendation = "copy"
	RecommendCounter Recommendation = "counter"
	RecommendNeutral Recommendation = "neutral"
)

// SkewDirection names the side whale capital is leaning toward.
type SkewDirection string

const (
	SkewYes SkewDirection = "YES"
	SkewNo  SkewDirection = "NO"
)

// SmartSkewResult is one smart-money skew computation for a market pair.
type SmartSkewResult struct {
	Direction    SkewDirection
	SkewYes      float64 // fraction of whale capital on YES
	Skew         float64 // max(skewYes, 1-skewYes), in [0.5, 1.0]
	Alpha        int
	Trigger      bool
	SmartPoolUSD float64

	YesWhaleVol  float64
	NoWhaleVol   float64
	YesRetailVol float64
	NoRetailVol  float64
}

// InsiderInputs carries everything the insider composite needs.
type InsiderInputs struct {
	WhaleScore         int
	Skew               float64
	ClusterCount       int
	ClusterDuration    time.Duration
	ClusterNotionalUSD float64

	// Timing hints. TimingOverride, when non-nil, wins outright.
	TimingOverride *int
	EarlySession   bool
	PreEvent       bool
	UnusualHour    bool
}

// InsiderResult is the insider-pattern composite score plus its breakdown.
type InsiderResult struct {
	Score   int
	Trigger bool

	WhaleFactor   int
	SkewFactor    int
	ClusterFactor int
	TimingFactor  int
}

// Scorer computes wallet whale scores, smart-money skew, and insider scores.
// All external lookups default soft on failure.
type Scorer struct {
	logger    *zap.Logger
	buffer    *TradeBuffer
	analytics WalletAnalytics
	cfg       config.ScoringConfig
	skewCfg   config.SkewConfig
	insider   config.InsiderConfig
}

func NewScorer(
	logger *zap.Logger,
	buffer *TradeBuffer,
	analytics WalletAnalytics,
	cfg *config.Config,
) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		logger:    logger,
		buffer:    buffer,
		analytics: analytics,
		cfg:       cfg.Scoring,
		skewCfg:   cfg.Skew,
		insider:   cfg.Insider,
	}
}

// Stats computes a wallet's recent activity stats from the trade buffer plus
// the external win-rate lookup. A failed lookup contributes 0.
func (s *Scorer) Stats(ctx context.Context, wallet string) WalletStats {
	windowHours := s.cfg.StatsWindow.Hours()

	stats := WalletStats{
		Wallet:      wallet,
		WindowHours: windowHours,
	}

	trades := s.buffer.Query(s.cfg.StatsMaxEvents, s.cfg.StatsWindow, nil, wallet)
	stats.SampleCount = len(trades)

	if len(trades) > 0 {
		var total float64
		for _, t := range trades {
			total += t.NotionalUSD
		}
		stats.AvgBetUSD = total / float64(len(trades))
		if windowHours > 0 {
			stats.TradesPerHour = float64(len(trades)) / windowHours
		}
	}

	if s.analytics != nil && wallet != "" {
		rate, err := s.analytics.WinRate(ctx, wallet)
		if err != nil {
			s.logger.Debug("win rate lookup failed",
				zap.String("wallet", wallet),
				zap.Error(err),
			)
		} else {
			stats.WinRate = rate
		}
	}

	return stats
}

// WhaleScore combines size, frequency, and win-rate into a 0-100 score.
func (s *Scorer) WhaleScore(stats WalletStats) int {
	sizeScore := clampF(stats.AvgBetUSD/s.cfg.SizeBaselineUSD*80, 0, 100)
	freqScore := clampF(stats.TradesPerHour/s.cfg.MaxFreqPerHour*100, 0, 100)
	winScore := clampF(stats.WinRate, 0, 100)

	return int(math.Round(clampF(0.4*sizeScore+0.2*freqScore+0.4*winScore, 0, 100)))
}

// ScoreWallet is Stats followed by WhaleScore.
func (s *Scorer) ScoreWallet(ctx context.Context, wallet string) int {
	return s.WhaleScore(s.Stats(ctx, wallet))
}

// QualityWeight scales a reported notional by wallet quality. It never
// affects detection decisions.
func QualityWeight(score int) float64 {
	return clampF(0.25+float64(score)/100*1.25, 0.25, 1.5)
}

// ClassifyWhale decides whether a trade is whale activity: either the wallet
// scores high enough or the notional clears the hard threshold on its own.
func (s *Scorer) ClassifyWhale(notionalUSD float64, score int) bool {
	return score >= 65 || notionalUSD >= s.cfg.HardNotionalUSD
}

// AlphaFromScore maps a whale score onto an alpha confidence and a
// copy/counter/neutral recommendation.
func AlphaFromScore(score int) (int, Recommendation) {
	alpha := int(math.Round(clampF(60+float64(score-65)*0.7, 0, 100)))

	switch {
	case score >= 75:
		return alpha, RecommendCopy
	case score <= 50:
		return alpha, RecommendCounter
	default:
		return alpha, RecommendNeutral
	}
}

// SmartSkew scans both sides of a market pair and measures how whale capital
// splits between YES and NO.
func (s *Scorer) SmartSkew(ctx context.Context, pair MarketPair) SmartSkewResult {
	trades := s.buffer.Query(
		s.skewCfg.MaxScan,
		s.skewCfg.Window,
		[]string{pair.YesTokenID, pair.NoTokenID},
		"",
	)

	// Score each unique wallet once, capped.
	scores := make(map[string]int)
	for _, t := range trades {
		if t.Wallet == "" {
			continue
		}
		if _, seen := scores[t.Wallet]; seen {
			continue
		}
		if len(scores) >= s.skewCfg.MaxWallets {
			break
		}
		scores[t.Wallet] = s.ScoreWallet(ctx, t.Wallet)
	}

	res := SmartSkewResult{}
	for _, t := range trades {
		isWhale := false
		if t.Wallet != "" {
			if score, ok := scores[t.Wallet]; ok && score >= 65 {
				isWhale = true
			}
		}

		onYes := t.TokenID == pair.YesTokenID
		switch {
		case onYes && isWhale:
			res.YesWhaleVol += t.NotionalUSD
		case onYes:
			res.YesRetailVol += t.NotionalUSD
		case isWhale:
			res.NoWhaleVol += t.NotionalUSD
		default:
			res.NoRetailVol += t.NotionalUSD
		}
	}

	res.SmartPoolUSD = res.YesWhaleVol + res.NoWhaleVol
	if res.SmartPoolUSD > 0 {
		res.SkewYes = res.YesWhaleVol / res.SmartPoolUSD
	} else {
		res.SkewYes = 0.5
	}

	res.Skew = math.Max(res.SkewYes, 1-res.SkewYes)
	if res.SkewYes >= 0.5 {
		res.Direction = SkewYes
	} else {
		res.Direction = SkewNo
	}

	res.Alpha = int(clampF(math.Round(60+(res.Skew-0.75)*180), 0, 100))
	res.Trigger = res.Skew >= s.skewCfg.TriggerSkew && res.SmartPoolUSD >= s.skewCfg.MinSmartPoolUSD

	return res
}

// InsiderScore combines whale quality, market skew, cluster shape, and timing
// hints into one composite.
func (s *Scorer) InsiderScore(in InsiderInputs) InsiderResult {
	whaleFactor := clampI(in.WhaleScore, 0, 100)
	skewFactor := int(clampF((in.Skew-0.5)/0.5*100, 0, 100))

	durMs := math.Min(float64(in.ClusterDuration.Milliseconds()), 2000)
	tightness := clampF((1-durMs/2000)*100, 0, 100)
	countScore := clampF(float64(in.ClusterCount)/5*100, 0, 100)
	notionalScore := clampF(in.ClusterNotionalUSD/20000*100, 0, 100)
	clusterFactor := int(math.Round(0.5*tightness + 0.25*countScore + 0.25*notionalScore))

	var timingFactor int
	if in.TimingOverride != nil {
		timingFactor = clampI(*in.TimingOverride, 0, 100)
	} else {
		timing := 50
		if in.EarlySession {
			timing += 15
		}
		if in.PreEvent {
			timing += 20
		}
		if in.UnusualHour {
			timing += 10
		}
		timingFactor = clampI(timing, 0, 100)
	}

	score := int(math.Round(
		0.30*float64(whaleFactor) +
			0.30*float64(skewFactor) +
			0.25*float64(clusterFactor) +
			0.15*float64(timingFactor),
	))

	return InsiderResult{
		Score:         score,
		Trigger:       score >= s.insider.TriggerScore,
		WhaleFactor:   whaleFactor,
		SkewFactor:    skewFactor,
		ClusterFactor: clusterFactor,
		TimingFactor:  timingFactor,
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
