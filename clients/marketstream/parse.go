package marketstream

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TradeTick is a normalized last-trade-price event.
type TradeTick struct {
	TokenID   string
	Wallet    string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64
	Timestamp time.Time
}

// Notional is the traded dollar amount.
func (t TradeTick) Notional() float64 {
	return t.Price * t.Size
}

// PriceTick is a normalized price change for one token.
type PriceTick struct {
	TokenID string
	Price   float64
}

// flexFloat unmarshals a JSON number or a numeric string. The venue is not
// consistent about which one it sends.
type flexFloat struct {
	Value float64
	OK    bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		// Leave unset; the caller skips the event.
		return nil
	}
	f.Value = v
	f.OK = true
	return nil
}

type rawEvent struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`

	AssetID  string `json:"asset_id"`
	AssetID2 string `json:"assetId"`
	TokenID  string `json:"token_id"`

	Market string `json:"market"`

	Price  flexFloat `json:"price"`
	Size   flexFloat `json:"size"`
	Amount flexFloat `json:"amount"`

	Side string `json:"side"`

	MakerAddress  string `json:"maker_address"`
	MakerAddress2 string `json:"makerAddress"`
	Maker         string `json:"maker"`

	Timestamp flexFloat `json:"timestamp"`

	Changes []rawChange `json:"changes"`
}

type rawChange struct {
	AssetID  string    `json:"asset_id"`
	AssetID2 string    `json:"assetId"`
	TokenID  string    `json:"token_id"`
	Price    flexFloat `json:"price"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r *rawEvent) eventType() string {
	return firstNonEmpty(r.EventType, r.Type)
}

func (r *rawEvent) tokenID() string {
	return firstNonEmpty(r.AssetID, r.AssetID2, r.TokenID)
}

func (r *rawEvent) wallet() string {
	return firstNonEmpty(r.MakerAddress, r.MakerAddress2, r.Maker)
}

func (r *rawEvent) size() (float64, bool) {
	if r.Size.OK {
		return r.Size.Value, true
	}
	if r.Amount.OK {
		return r.Amount.Value, true
	}
	return 0, false
}

// ParseTrade extracts a trade tick from a raw ws message. It returns nil when
// the message is not a trade or is missing required fields. Malformed events
// are skipped, never fatal.
func ParseTrade(msg json.RawMessage) *TradeTick {
	var raw rawEvent
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil
	}

	et := raw.eventType()
	if et != "last_trade_price" && et != "trade" {
		return nil
	}

	tokenID := raw.tokenID()
	size, sizeOK := raw.size()
	if tokenID == "" || !raw.Price.OK || !sizeOK {
		return nil
	}
	if raw.Price.Value <= 0 || size <= 0 {
		return nil
	}

	side := strings.ToUpper(strings.TrimSpace(raw.Side))
	if side != "BUY" && side != "SELL" {
		return nil
	}

	ts := time.Now()
	if raw.Timestamp.OK {
		ts = parseEpoch(raw.Timestamp.Value)
	}

	return &TradeTick{
		TokenID:   tokenID,
		Wallet:    strings.ToLower(raw.wallet()),
		Side:      side,
		Price:     raw.Price.Value,
		Size:      size,
		Timestamp: ts,
	}
}

// ParsePriceTicks extracts price changes from a raw ws message. A
// price_change event may carry a top-level price or a batch of per-token
// changes; both forms normalize to the same ticks.
func ParsePriceTicks(msg json.RawMessage) []PriceTick {
	var raw rawEvent
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil
	}

	if raw.eventType() != "price_change" {
		return nil
	}

	var ticks []PriceTick

	if len(raw.Changes) > 0 {
		for _, ch := range raw.Changes {
			tokenID := firstNonEmpty(ch.AssetID, ch.AssetID2, ch.TokenID)
			if tokenID == "" || !ch.Price.OK {
				continue
			}
			ticks = append(ticks, PriceTick{TokenID: tokenID, Price: ch.Price.Value})
		}
		return ticks
	}

	tokenID := raw.tokenID()
	if tokenID == "" || !raw.Price.OK {
		return nil
	}

	return []PriceTick{{TokenID: tokenID, Price: raw.Price.Value}}
}

// parseEpoch accepts seconds or milliseconds since the epoch.
func parseEpoch(v float64) time.Time {
	n := int64(v)
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	if n > 0 {
		return time.Unix(n, 0)
	}
	return time.Now()
}
