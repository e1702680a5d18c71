package marketstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrRateLimited indicates the venue refused the connection or cut it for
// exceeding rate limits. The monitor reacts by forcing a long cooldown before
// the next reconnect and never lets the transport retry on its own.
var ErrRateLimited = errors.New("marketstream: rate limited by venue")

// Client owns a single websocket connection to the venue's market channel.
// It carries no subscription memory: after every connect the caller must
// re-issue its full subscription set.
type Client struct {
	logger *zap.Logger

	wsURL        string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan json.RawMessage
	errCh   chan error
	closeCh chan struct{}

	msgCount        uint64
	lastMsgUnixNano int64
}

// NewClient creates a stream client for the given websocket URL.
func NewClient(logger *zap.Logger, wsURL string, pingInterval time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}

	return &Client{
		logger:       logger,
		wsURL:        wsURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: pingInterval,

		msgCh:   make(chan json.RawMessage, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the market channel and subscribes to the provided token IDs
// in one batched subscribe message.
func (c *Client) Connect(ctx context.Context, tokenIDs []string) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("dial market ws: %w", ErrRateLimited)
		}
		return fmt.Errorf("dial market ws: %w", err)
	}

	c.logger.Info("market ws dialed",
		zap.String("url", c.wsURL),
		zap.Int("tokens", len(tokenIDs)),
	)

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn("market ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	sub := map[string]any{
		"type":       "market",
		"assets_ids": tokenIDs,
	}
	if err := c.writeJSON(sub); err != nil {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("send initial subscription: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closeCh:
		}
	}()

	return nil
}

// Subscribe adds token IDs to the live subscription.
func (c *Client) Subscribe(tokenIDs []string) error {
	return c.sendOp("subscribe", tokenIDs)
}

// Unsubscribe removes token IDs from the live subscription.
func (c *Client) Unsubscribe(tokenIDs []string) error {
	return c.sendOp("unsubscribe", tokenIDs)
}

// Messages returns the inbound message channel. Messages are dropped, never
// blocked on, when the consumer falls behind.
func (c *Client) Messages() <-chan json.RawMessage {
	return c.msgCh
}

// Errors returns the transport error channel. A received error means the
// connection is gone and the caller decides whether to reconnect.
func (c *Client) Errors() <-chan error {
	return c.errCh
}

// Stats reports message throughput for health monitoring.
type Stats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *Client) Stats() Stats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return Stats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

// Connected reports whether a connection is currently held.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Close tears down the connection and stops the read/ping loops. The client
// can be reused for a later Connect.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	// Fresh channel so a later Connect gets working loops.
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *Client) sendOp(operation string, tokenIDs []string) error {
	msg := map[string]any{
		"operation":  operation,
		"assets_ids": tokenIDs,
	}
	return c.writeJSON(msg)
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *Client) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn != nil {
				c.writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
				c.writeMu.Unlock()
			}

		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("market ws read error", zap.Error(err))
			c.reportError(classifyReadError(err))
			_ = c.Close()
			return
		}

		// Server may reply with plain PONG.
		if string(b) == "PONG" || string(b) == "PING" {
			continue
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.emitFrame(b)
	}
}

// classifyReadError maps venue close codes onto the error taxonomy.
func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation, websocket.CloseTryAgainLater) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

func (c *Client) reportError(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// emitFrame forwards a frame that may hold a single JSON event or a batch.
func (c *Client) emitFrame(b []byte) {
	trimmed := b
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}

	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			c.logger.Warn("market ws bad json array frame", zap.Error(err))
			return
		}
		for _, one := range arr {
			c.forward(one)
		}
		return
	}

	c.forward(json.RawMessage(append([]byte(nil), trimmed...)))
}

func (c *Client) forward(msg json.RawMessage) {
	select {
	case c.msgCh <- msg:
	default:
		c.logger.Warn("dropping ws message: msgCh full")
	}
}
