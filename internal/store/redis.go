package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	alpha:events        — list of JSON AlphaEventRecord, newest first, trimmed
//	prefs:{userID}      — JSON UserPrefs
//	prefs:index         — set of user IDs with stored prefs
//	digest:{userID}     — list of JSON DigestEntry, insertion order
const redisEventCap = 200

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis, pings it to verify connectivity, and
// returns the store. It returns an error if the connection cannot be
// established; callers fall back to MemoryStore in that case.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func prefsKey(userID string) string  { return "prefs:" + userID }
func digestKey(userID string) string { return "digest:" + userID }

// SaveAlphaEvent pushes the event onto the capped event list.
func (s *RedisStore) SaveAlphaEvent(ctx context.Context, ev AlphaEventRecord) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal alpha event: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, "alpha:events", b)
	pipe.LTrim(ctx, "alpha:events", 0, redisEventCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save alpha event: %w", err)
	}
	return nil
}

// GetPrefs returns the user's preferences, or nil when absent.
func (s *RedisStore) GetPrefs(ctx context.Context, userID string) (*UserPrefs, error) {
	b, err := s.rdb.Get(ctx, prefsKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get prefs %s: %w", userID, err)
	}
	var p UserPrefs
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("redis: decode prefs %s: %w", userID, err)
	}
	return &p, nil
}

// SetPrefs stores the user's preferences and indexes the user ID.
func (s *RedisStore) SetPrefs(ctx context.Context, prefs UserPrefs) error {
	b, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("redis: marshal prefs: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, prefsKey(prefs.UserID), b, 0)
	pipe.SAdd(ctx, "prefs:index", prefs.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prefs %s: %w", prefs.UserID, err)
	}
	return nil
}

// AllPrefs loads every indexed preference record. Users whose prefs key has
// vanished are silently skipped.
func (s *RedisStore) AllPrefs(ctx context.Context) ([]UserPrefs, error) {
	ids, err := s.rdb.SMembers(ctx, "prefs:index").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: prefs index: %w", err)
	}
	out := make([]UserPrefs, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPrefs(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// AppendDigest pushes an entry onto the user's digest list.
func (s *RedisStore) AppendDigest(ctx context.Context, userID string, entry DigestEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal digest entry: %w", err)
	}
	if err := s.rdb.RPush(ctx, digestKey(userID), b).Err(); err != nil {
		return fmt.Errorf("redis: append digest %s: %w", userID, err)
	}
	return nil
}

// LoadDigest returns the user's queued digest entries in insertion order.
// Entries that fail to decode are skipped.
func (s *RedisStore) LoadDigest(ctx context.Context, userID string) ([]DigestEntry, error) {
	raw, err := s.rdb.LRange(ctx, digestKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load digest %s: %w", userID, err)
	}
	out := make([]DigestEntry, 0, len(raw))
	for _, r := range raw {
		var e DigestEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ClearDigest removes the user's digest queue.
func (s *RedisStore) ClearDigest(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, digestKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: clear digest %s: %w", userID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
