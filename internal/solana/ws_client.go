package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errWSClosed       = errors.New("websocket client closed")
	errWSDisconnected = errors.New("websocket not connected")
)

// WSClientConfig tunes the slot subscription client. Zero fields take defaults.
type WSClientConfig struct {
	ReconnectDelay    time.Duration // first redial wait, grows up to MaxReconnectDelay
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SubscribeTimeout  time.Duration
	Logger            *zap.Logger
}

func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

func (c WSClientConfig) withDefaults() WSClientConfig {
	d := DefaultWSConfig()
	for _, f := range []struct{ v, def *time.Duration }{
		{&c.ReconnectDelay, &d.ReconnectDelay},
		{&c.MaxReconnectDelay, &d.MaxReconnectDelay},
		{&c.PingInterval, &d.PingInterval},
		{&c.ReadTimeout, &d.ReadTimeout},
		{&c.WriteTimeout, &d.WriteTimeout},
		{&c.SubscribeTimeout, &d.SubscribeTimeout},
	} {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	return c
}

// WebSocketClient holds one JSON-RPC websocket to a validator and fans
// slotNotification messages out to subscribers. A dropped connection is
// redialed with exponential backoff and open subscriptions are renewed.
type WebSocketClient struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger
	dialer   websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn // guarded by writeMu

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan int64 // request id -> subscription id
	subs    map[int64]chan SlotUpdate

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ WSClient = (*WebSocketClient)(nil)

// NewWSClient dials endpoint. A nil config uses DefaultWSConfig.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WebSocketClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = config.withDefaults()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WebSocketClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.Named("ws"),
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending:  make(map[uint64]chan int64),
		subs:     make(map[int64]chan SlotUpdate),
		done:     make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.pingLoop()
	return c, nil
}

func (c *WebSocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", c.endpoint, err)
	}
	return conn, nil
}

func (c *WebSocketClient) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errWSDisconnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// SubscribeSlots opens a slotSubscribe stream. The channel closes with the client.
func (c *WebSocketClient) SubscribeSlots(ctx context.Context) (<-chan SlotUpdate, error) {
	id, err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan SlotUpdate, 1024)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, errWSClosed
	}
	c.subs[id] = ch
	return ch, nil
}

// subscribe sends slotSubscribe and waits for the server to assign an id.
func (c *WebSocketClient) subscribe(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, errWSClosed
	}

	confirm := make(chan int64, 1)
	c.mu.Lock()
	c.nextID++
	reqID := c.nextID
	c.pending[reqID] = confirm
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	if err := c.write(wsRequest{JSONRPC: "2.0", ID: reqID, Method: "slotSubscribe"}); err != nil {
		return 0, fmt.Errorf("write slotSubscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case id := <-confirm:
		return id, nil
	case <-timer.C:
		return 0, fmt.Errorf("slotSubscribe not confirmed within %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, errWSClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops the read and ping loops and closes every subscription channel.
func (c *WebSocketClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.writeMu.Lock()
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.writeMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	return nil
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			c.dispatch(msg)
			continue
		}
		if c.closed.Load() {
			return
		}

		c.logger.Warn("websocket read failed, redialing", zap.Error(err))
		if conn = c.redial(); conn == nil {
			return
		}
		// Confirmations arrive through this loop, so renewal runs beside it.
		c.wg.Add(1)
		go c.resubscribe()
	}
}

// redial replaces the connection, retrying until it succeeds or the client
// closes. It returns nil once closed.
func (c *WebSocketClient) redial() *websocket.Conn {
	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.writeMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     c.config.ReconnectDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         c.config.MaxReconnectDelay,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()

	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, err = c.dial(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("websocket redial failed", zap.Error(err), zap.Duration("retry_in", wait))
	}

	select {
	case <-time.After(c.config.ReconnectDelay):
	case <-ctx.Done():
		return nil
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify); err != nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.logger.Info("websocket reconnected")
	return conn
}

// resubscribe moves every open channel onto a fresh server subscription.
func (c *WebSocketClient) resubscribe() {
	defer c.wg.Done()

	c.mu.Lock()
	channels := make([]chan SlotUpdate, 0, len(c.subs))
	for _, ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		id, err := c.subscribe(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, errWSClosed) {
				c.logger.Warn("resubscribe failed", zap.Error(err))
			}
			continue
		}

		// Servers may renumber from scratch, so match by channel, not by id.
		c.mu.Lock()
		for old, existing := range c.subs {
			if existing == ch {
				delete(c.subs, old)
			}
		}
		c.subs[id] = ch
		c.mu.Unlock()
	}
}

func (c *WebSocketClient) dispatch(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Debug("unparseable websocket message", zap.Error(err))
		return
	}

	switch {
	case env.Method == "slotNotification" && env.Params != nil:
		c.mu.Lock()
		ch, ok := c.subs[env.Params.Subscription]
		c.mu.Unlock()
		if !ok {
			return
		}
		r := env.Params.Result
		select {
		case ch <- SlotUpdate{Slot: r.Slot, Parent: r.Parent, Root: r.Root}:
		case <-c.done:
		}

	case env.Error != nil:
		// The waiting subscribe call times out.
		c.logger.Warn("websocket error response", zap.Int("code", env.Error.Code), zap.String("message", env.Error.Message))

	case env.ID != nil:
		var id int64
		if err := json.Unmarshal(env.Result, &id); err != nil {
			return
		}
		c.mu.Lock()
		confirm, ok := c.pending[*env.ID]
		c.mu.Unlock()
		if ok {
			select {
			case confirm <- id:
			default:
			}
		}
	}
}

func (c *WebSocketClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.conn != nil {
				// A dead peer shows up as a read error.
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			}
			c.writeMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsEnvelope struct {
	ID     *uint64               `json:"id,omitempty"`
	Method string                `json:"method,omitempty"`
	Result json.RawMessage       `json:"result,omitempty"`
	Error  *RPCError             `json:"error,omitempty"`
	Params *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Parent uint64 `json:"parent"`
		Root   uint64 `json:"root"`
		Slot   uint64 `json:"slot"`
	} `json:"result"`
}
