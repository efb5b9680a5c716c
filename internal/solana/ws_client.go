package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. Pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// RequestTimeout bounds the wait for a correlated reply.
	RequestTimeout time.Duration
	// BufferSize is the capacity of each notification channel.
	BufferSize int
	Logger     *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
		BufferSize:        10000,
	}
}

func (cfg WSClientConfig) withDefaults() WSClientConfig {
	def := DefaultWSConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

var (
	errConnectionLost = errors.New("connection closed before reply")
	errNotConnected   = errors.New("not connected")
	errRequestTimeout = errors.New("request timeout")
)

// WSClientImpl implements WSClient using gorilla/websocket.
// Dropped connections are re-established with exponential backoff and every
// active subscription is reopened with its original filter, so consumers may
// observe the same signature more than once.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the current server-side subscription id to its handle
	subs   map[uint64]*Subscription
	subsMu sync.RWMutex

	// pending maps request ID to the call waiting for its reply
	pending   map[uint64]*pendingCall
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

type pendingCall struct {
	reply chan wsReply
	// sub is registered under the returned id before the caller wakes up,
	// so notifications that immediately follow the reply are not lost.
	sub *Subscription
}

type wsReply struct {
	result json.RawMessage
	err    error
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	var cfg WSClientConfig
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   cfg.Logger.With(zap.String("component", "ws")),
		subs:     make(map[uint64]*Subscription),
		pending:  make(map[uint64]*pendingCall),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	c.conn = conn
	return nil
}

// SubscribeLogs sends a single logsSubscribe request and waits for the
// correlated reply. Any failure is reported as ErrSubscription.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (*Subscription, error) {
	sub := &Subscription{
		filter: filter,
		ch:     make(chan LogNotification, c.config.BufferSize),
		stop:   make(chan struct{}),
	}

	id, err := c.subscribe(ctx, sub)
	if err != nil {
		c.forget(sub)
		return nil, err
	}

	c.logger.Info("logs subscription established",
		zap.Uint64("subscription", id),
		zap.Strings("mentions", filter.Mentions),
		zap.String("commitment", string(filter.commitment())),
	)
	return sub, nil
}

func (c *WSClientImpl) subscribe(ctx context.Context, sub *Subscription) (uint64, error) {
	result, err := c.call(ctx, "logsSubscribe", sub.filter.params(), sub)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSubscription, err)
	}
	id, err := decodeSubscriptionID(result)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSubscription, err)
	}
	return id, nil
}

func decodeSubscriptionID(result json.RawMessage) (uint64, error) {
	if len(result) == 0 || string(result) == "null" {
		return 0, errors.New("response has no subscription id")
	}
	var id uint64
	if err := json.Unmarshal(result, &id); err != nil {
		return 0, fmt.Errorf("decode subscription id: %w", err)
	}
	return id, nil
}

// Unsubscribe cancels the subscription on the node and stops delivery to its
// channel. The channel itself is left open.
func (c *WSClientImpl) Unsubscribe(ctx context.Context, sub *Subscription) error {
	id := sub.ID()
	c.forget(sub)

	result, err := c.call(ctx, "logsUnsubscribe", []interface{}{id}, nil)
	if err != nil {
		return fmt.Errorf("logsUnsubscribe %d: %w", id, err)
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil || !ok {
		return fmt.Errorf("logsUnsubscribe %d: rejected by node", id)
	}
	return nil
}

func (c *WSClientImpl) forget(sub *Subscription) {
	c.subsMu.Lock()
	if c.subs[sub.ID()] == sub {
		delete(c.subs, sub.ID())
	}
	c.subsMu.Unlock()
	sub.cancel()
}

// call writes one JSON-RPC request and waits for the reply with the same id.
func (c *WSClientImpl) call(ctx context.Context, method string, params []interface{}, sub *Subscription) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	payload, err := json.Marshal(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	p := &pendingCall{reply: make(chan wsReply, 1), sub: sub}
	c.pendingMu.Lock()
	c.pending[reqID] = p
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return nil, errNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w: %w", method, errConnectionLost, err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-p.reply:
		return reply.result, reply.err
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w after %s", method, errRequestTimeout, c.config.RequestTimeout)
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the WebSocket connection. Notification channels of live
// subscriptions are closed once the reader has stopped.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	return nil
}

func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay
	// gorilla panics on repeated reads of a failed connection
	var failed *websocket.Conn

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn != nil && conn == failed {
			// no-op while a reconnect is running; retries once it gave up
			c.scheduleReconnect(&reconnectDelay, errConnectionLost)
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		if conn == nil {
			// a previous reconnect attempt failed
			c.scheduleReconnect(&reconnectDelay, errNotConnected)
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			failed = conn
			c.failPending()
			c.scheduleReconnect(&reconnectDelay, err)

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// scheduleReconnect starts a reconnect unless one is already running and
// doubles the delay for the next attempt.
func (c *WSClientImpl) scheduleReconnect(delay *time.Duration, cause error) {
	if c.reconnecting.Swap(true) {
		return
	}
	c.logger.Warn("connection lost, reconnecting",
		zap.Duration("delay", *delay), zap.Error(cause))
	c.wg.Add(1)
	go c.reconnect(*delay)

	*delay *= 2
	if *delay > c.config.MaxReconnectDelay {
		*delay = c.config.MaxReconnectDelay
	}
}

// failPending releases every caller still waiting on the lost connection.
func (c *WSClientImpl) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, p := range c.pending {
		p.reply <- wsReply{err: errConnectionLost}
		delete(c.pending, id)
	}
}

func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.wg.Done()

	select {
	case <-c.done:
		c.reconnecting.Store(false)
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := c.connect(ctx)
	// resubscribing may itself need a fresh reconnect
	c.reconnecting.Store(false)
	if err != nil {
		// the reader retries on its next loop
		c.logger.Warn("reconnect failed", zap.Error(err))
		return
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	c.resubscribeAll(conn)
}

// resubscribeAll reopens every live subscription on conn. Replies
// re-register each handle under its new server-side id. A subscription the
// node refuses is ended with ErrSubscription; when conn itself stops
// answering it is closed so the reader reconnects again with backoff.
func (c *WSClientImpl) resubscribeAll(conn *websocket.Conn) {
	c.subsMu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	for _, sub := range subs {
		oldID := sub.ID()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		newID, err := c.subscribe(ctx, sub)
		cancel()

		switch {
		case err == nil:
			c.logger.Info("resubscribed",
				zap.Uint64("old_subscription", oldID), zap.Uint64("subscription", newID))
		case c.closed.Load():
			return
		case isConnectionError(err):
			c.logger.Warn("resubscribe interrupted, reconnecting",
				zap.Uint64("subscription", oldID), zap.Error(err))
			if conn != nil {
				_ = conn.Close()
			}
			return
		default:
			c.logger.Error("resubscribe rejected, ending subscription",
				zap.Uint64("subscription", oldID), zap.Error(err))
			sub.Fail(err)
			c.forget(sub)
		}
	}
}

func isConnectionError(err error) bool {
	return errors.Is(err, errConnectionLost) ||
		errors.Is(err, errNotConnected) ||
		errors.Is(err, errRequestTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("undecodable message", zap.Error(err))
		return
	}

	switch {
	case msg.Method == "logsNotification":
		if msg.Params != nil {
			c.handleLogsNotification(msg.Params)
		}
	case msg.ID != nil:
		c.handleReply(*msg.ID, &msg)
	case msg.Error != nil:
		c.logger.Warn("error response", zap.Int("code", msg.Error.Code), zap.String("message", msg.Error.Message))
	}
}

func (c *WSClientImpl) handleReply(id uint64, msg *wsMessage) {
	c.pendingMu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if !ok {
		if msg.Error != nil {
			c.logger.Warn("uncorrelated error response",
				zap.Uint64("id", id), zap.Int("code", msg.Error.Code), zap.String("message", msg.Error.Message))
		}
		return
	}

	reply := wsReply{result: msg.Result}
	if msg.Error != nil {
		reply.err = msg.Error
	} else if p.sub != nil {
		if subID, err := decodeSubscriptionID(msg.Result); err == nil {
			c.register(p.sub, subID)
		}
	}
	p.reply <- reply
}

func (c *WSClientImpl) register(sub *Subscription, id uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subs[sub.ID()] == sub {
		delete(c.subs, sub.ID())
	}
	sub.id.Store(id)
	c.subs[id] = sub
}

func (c *WSClientImpl) handleLogsNotification(params *wsNotificationParams) {
	c.subsMu.RLock()
	sub, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	value := params.Result.Value
	notif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	// Block until the consumer catches up; the buffer absorbs bursts.
	select {
	case sub.ch <- notif:
	case <-sub.stop:
	case <-c.done:
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// a dead connection surfaces on the next read
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage is any inbound frame: a reply carries ID, a notification carries Method.
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id,omitempty"`
	Method  string                `json:"method,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *rpcError             `json:"error,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription uint64               `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
