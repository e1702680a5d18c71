package store

import (
	"context"
	"sync"
)

// memoryEventCap bounds the in-memory alpha event history.
const memoryEventCap = 200

// MemoryStore is the in-process fallback used when Redis is not configured.
// The engine runs identically in this degraded mode; state simply does not
// survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []AlphaEventRecord
	prefs   map[string]UserPrefs
	digests map[string][]DigestEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs:   make(map[string]UserPrefs),
		digests: make(map[string][]DigestEntry),
	}
}

// SaveAlphaEvent appends the event, evicting the oldest past the cap.
func (s *MemoryStore) SaveAlphaEvent(ctx context.Context, ev AlphaEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > memoryEventCap {
		s.events = s.events[len(s.events)-memoryEventCap:]
	}
	return nil
}

// Events returns a copy of the stored alpha events, oldest first.
func (s *MemoryStore) Events() []AlphaEventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AlphaEventRecord, len(s.events))
	copy(out, s.events)
	return out
}

// GetPrefs returns the user's preferences, or nil if none are stored.
func (s *MemoryStore) GetPrefs(ctx context.Context, userID string) (*UserPrefs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SetPrefs stores the user's preferences.
func (s *MemoryStore) SetPrefs(ctx context.Context, prefs UserPrefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.UserID] = prefs
	return nil
}

// AllPrefs returns every stored preference record.
func (s *MemoryStore) AllPrefs(ctx context.Context) ([]UserPrefs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserPrefs, 0, len(s.prefs))
	for _, p := range s.prefs {
		out = append(out, p)
	}
	return out, nil
}

// AppendDigest adds an entry to the user's digest queue.
func (s *MemoryStore) AppendDigest(ctx context.Context, userID string, entry DigestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests[userID] = append(s.digests[userID], entry)
	return nil
}

// LoadDigest returns the user's queued digest entries in insertion order.
func (s *MemoryStore) LoadDigest(ctx context.Context, userID string) ([]DigestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := s.digests[userID]
	out := make([]DigestEntry, len(q))
	copy(out, q)
	return out, nil
}

// ClearDigest removes the user's digest queue.
func (s *MemoryStore) ClearDigest(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.digests, userID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
