package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"whalewatch/internal/store"
)

var errNotFound = errors.New("not found")

// mockStore is an in-memory store.Store for testing.
type mockStore struct {
	mu sync.Mutex

	saved   []store.AlphaEventRecord
	prefs   map[string]store.UserPrefs
	digests map[string][]store.DigestEntry

	saveErr   error
	prefsErr  error
	appendErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		prefs:   make(map[string]store.UserPrefs),
		digests: make(map[string][]store.DigestEntry),
	}
}

func (m *mockStore) SaveAlphaEvent(_ context.Context, ev store.AlphaEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, ev)
	return nil
}

func (m *mockStore) GetPrefs(_ context.Context, userID string) (*store.UserPrefs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockStore) SetPrefs(_ context.Context, prefs store.UserPrefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[prefs.UserID] = prefs
	return nil
}

func (m *mockStore) AllPrefs(_ context.Context) ([]store.UserPrefs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefsErr != nil {
		return nil, m.prefsErr
	}
	out := make([]store.UserPrefs, 0, len(m.prefs))
	for _, p := range m.prefs {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) AppendDigest(_ context.Context, userID string, entry store.DigestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.digests[userID] = append(m.digests[userID], entry)
	return nil
}

func (m *mockStore) LoadDigest(_ context.Context, userID string) ([]store.DigestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DigestEntry(nil), m.digests[userID]...), nil
}

func (m *mockStore) ClearDigest(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.digests, userID)
	return nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) savedEvents() []store.AlphaEventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AlphaEventRecord(nil), m.saved...)
}

func (m *mockStore) digestFor(userID string) []store.DigestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DigestEntry(nil), m.digests[userID]...)
}

// mockNotifier records delivered messages as "userID:text".
type mockNotifier struct {
	mu         sync.Mutex
	delivered  []string
	deliverErr error
}

func (m *mockNotifier) Deliver(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliverErr != nil {
		return m.deliverErr
	}
	m.delivered = append(m.delivered, userID+":"+text)
	return nil
}

func (m *mockNotifier) Close() error { return nil }

func (m *mockNotifier) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.delivered...)
}

// mockResolver maps condition ids to market metadata.
type mockResolver struct {
	mu      sync.Mutex
	markets map[string]MarketInfo
	err     error
	calls   int
}

func newMockResolver() *mockResolver {
	return &mockResolver{markets: make(map[string]MarketInfo)}
}

func (m *mockResolver) Resolve(_ context.Context, conditionID string) (MarketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return MarketInfo{}, m.err
	}
	info, ok := m.markets[conditionID]
	if !ok {
		return MarketInfo{}, errNotFound
	}
	return info, nil
}

func (m *mockResolver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockTransport is an in-process StreamTransport.
type mockTransport struct {
	mu         sync.Mutex
	msgCh      chan json.RawMessage
	errCh      chan error
	connected  bool
	connectErr error

	connects     int
	subscribed   [][]string
	unsubscribed [][]string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		msgCh: make(chan json.RawMessage, 64),
		errCh: make(chan error, 8),
	}
}

func (m *mockTransport) Connect(_ context.Context, tokenIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockTransport) Subscribe(tokenIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, append([]string(nil), tokenIDs...))
	return nil
}

func (m *mockTransport) Unsubscribe(tokenIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, append([]string(nil), tokenIDs...))
	return nil
}

func (m *mockTransport) Messages() <-chan json.RawMessage { return m.msgCh }
func (m *mockTransport) Errors() <-chan error             { return m.errCh }

func (m *mockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *mockTransport) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *mockTransport) push(raw string) {
	m.msgCh <- json.RawMessage(raw)
}
