package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whalewatch/config"

	"go.uber.org/zap"
)

// Client talks to the venue's Gamma (market metadata) and Data
// (wallet history, leaderboard) REST APIs.
type Client struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
		dataBaseURL:  cfg.Polymarket.DataAPIURL,
	}
}

// MarketMetadata is the resolved view of a market: its question text plus the
// tradable token IDs for each outcome.
type MarketMetadata struct {
	ConditionID string
	Title       string
	TokenIDs    []string
	Closed      bool
}

type gammaMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Active       bool            `json:"active"`
	Closed       bool            `json:"closed"`
}

// tokenIDs parses the ClobTokenIDs field. The Gamma API serves it as either a
// direct array or a JSON string containing an array.
func (m *gammaMarket) tokenIDs() []string {
	if len(m.ClobTokenIDs) == 0 {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(m.ClobTokenIDs, &ids); err == nil && len(ids) > 0 {
		// Single element that is itself an encoded array.
		if len(ids) == 1 && len(ids[0]) > 0 && ids[0][0] == '[' {
			var nested []string
			if err := json.Unmarshal([]byte(ids[0]), &nested); err == nil && len(nested) > 0 {
				return nested
			}
		}
		return ids
	}

	var jsonStr string
	if err := json.Unmarshal(m.ClobTokenIDs, &jsonStr); err == nil && jsonStr != "" {
		var inner []string
		if err := json.Unmarshal([]byte(jsonStr), &inner); err == nil && len(inner) > 0 {
			return inner
		}
	}

	return nil
}

// Resolve fetches the market for a condition ID and returns its title and
// token IDs.
func (c *Client) Resolve(ctx context.Context, conditionID string) (*MarketMetadata, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("condition_id", conditionID)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var markets []gammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}

	m := markets[0]
	tokenIDs := m.tokenIDs()
	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("market %s has no token IDs", conditionID)
	}

	title := m.Question
	if title == "" {
		title = m.Slug
	}

	return &MarketMetadata{
		ConditionID: conditionID,
		Title:       title,
		TokenIDs:    tokenIDs,
		Closed:      m.Closed,
	}, nil
}

type closedPosition struct {
	ProxyWallet string  `json:"proxyWallet"`
	RealizedPnl float64 `json:"realizedPnl"`
}

// WinRate returns the fraction of a wallet's recent closed positions that
// were profitable, in [0, 1]. A wallet with no closed history scores 0.5 so
// that unknown wallets are neither boosted nor buried.
func (c *Client) WinRate(ctx context.Context, wallet string) (float64, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return 0, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/closed-positions"

	q := u.Query()
	q.Set("user", wallet)
	q.Set("limit", "100")
	u.RawQuery = q.Encode()

	var positions []closedPosition
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return 0, fmt.Errorf("get closed positions: %w", err)
	}

	if len(positions) == 0 {
		return 0.5, nil
	}

	wins := 0
	for _, p := range positions {
		if p.RealizedPnl > 0 {
			wins++
		}
	}

	return float64(wins) / float64(len(positions)), nil
}

type leaderboardEntry struct {
	ProxyWallet string  `json:"proxyWallet"`
	Amount      float64 `json:"amount"`
}

// TopWallets fetches the top n wallets from the profit leaderboard,
// lowercased for matching against stream maker addresses.
func (c *Client) TopWallets(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = 50
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/leaderboard"

	q := u.Query()
	q.Set("window", "30d")
	q.Set("rankType", "profit")
	q.Set("limit", fmt.Sprintf("%d", n))
	u.RawQuery = q.Encode()

	var entries []leaderboardEntry
	if err := c.doGet(ctx, u.String(), &entries); err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	wallets := make([]string, 0, len(entries))
	for _, e := range entries {
		w := strings.ToLower(strings.TrimSpace(e.ProxyWallet))
		if w != "" {
			wallets = append(wallets, w)
		}
	}

	return wallets, nil
}

// doGet is a helper that performs a GET request and decodes JSON response.
func (c *Client) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
