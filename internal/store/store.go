// Package store persists alpha events, user alert preferences, and digest
// queues. The engine treats persistence as best-effort: a RedisStore is used
// when Redis is configured, and a MemoryStore otherwise. Both satisfy Store.
package store

import (
	"context"
	"time"
)

// Tier controls how alpha events are routed to a user.
type Tier string

const (
	TierHigh           Tier = "high"
	TierHighConfidence Tier = "high_confidence"
	TierDailyDigest    Tier = "daily_digest"
)

// QuietHours is a half-open daily window [StartHour, EndHour) during which
// alerts are queued instead of sent. It wraps past midnight when
// StartHour > EndHour; StartHour == EndHour means always quiet.
type QuietHours struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// UserPrefs holds a user's alert preferences.
type UserPrefs struct {
	UserID     string      `json:"user_id"`
	Enabled    bool        `json:"enabled"`
	Tier       Tier        `json:"tier"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AlphaEventRecord is the persisted form of an emitted alpha event.
type AlphaEventRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	TokenID     string    `json:"token_id"`
	ConditionID string    `json:"condition_id,omitempty"`
	MarketName  string    `json:"market_name,omitempty"`
	Wallet      string    `json:"wallet,omitempty"`
	Alpha       int       `json:"alpha"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
}

// DigestEntry is one queued alert for a user's daily digest.
type DigestEntry struct {
	EventID    string    `json:"event_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store is the persistence contract. All methods are safe for concurrent use.
// Callers treat every error as non-fatal.
type Store interface {
	SaveAlphaEvent(ctx context.Context, ev AlphaEventRecord) error

	GetPrefs(ctx context.Context, userID string) (*UserPrefs, error)
	SetPrefs(ctx context.Context, prefs UserPrefs) error
	AllPrefs(ctx context.Context) ([]UserPrefs, error)

	AppendDigest(ctx context.Context, userID string, entry DigestEntry) error
	LoadDigest(ctx context.Context, userID string) ([]DigestEntry, error)
	ClearDigest(ctx context.Context, userID string) error

	Close() error
}
