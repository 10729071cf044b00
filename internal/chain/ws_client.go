package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-indexer/internal/observability"
)

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("client closed")

const backfillTries = 5

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the initial delay between reconnect attempts.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential reconnect delay.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is reset by every message and pong.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// CallTimeout bounds a request/response round trip.
	CallTimeout time.Duration
	// Backfill, when set, replays logs from a subscription's start block
	// and fills the gap left by a dropped connection.
	Backfill LogFilterer

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		CallTimeout:       30 * time.Second,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the remote subscription ID to the subscription; ids is the reverse.
	subs   map[string]*WSSubscription
	ids    map[*WSSubscription]string
	subsMu sync.RWMutex

	// pending maps request ID to the caller waiting for the response
	pending   map[uint64]chan rpcResponse
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.Named("ws"),
		subs:     make(map[string]*WSSubscription),
		ids:      make(map[*WSSubscription]string),
		pending:  make(map[uint64]chan rpcResponse),
		ctx:      runCtx,
		cancel:   cancel,
	}

	if err := c.dial(ctx); err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// dial replaces the current connection with a new one.
func (c *WSClientImpl) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// SubscribeLogs opens an eth_subscribe("logs") subscription. With a
// backfill source configured, logs from q.FromBlock (or the block after
// the current head) up to the head are replayed ahead of live
// notifications, and that position seeds the reconnect cursor.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (*WSSubscription, error) {
	sub := &WSSubscription{
		query: q,
		// Large buffer absorbs bursts; sends block rather than drop.
		ch:   make(chan types.Log, 10000),
		done: make(chan struct{}),
	}

	backfill := c.config.Backfill != nil
	var start uint64
	if backfill {
		var err error
		if start, err = c.startBlock(ctx, q); err != nil {
			return nil, err
		}
		sub.cursorBlock, sub.cursorIndex, sub.hasCursor = start-1, math.MaxUint, true
	}

	id, err := c.subscribe(ctx, q)
	if err != nil {
		return nil, err
	}

	// The initial backfill goroutine owns sub.mu until the replay is done,
	// so live notifications queue behind it.
	if backfill {
		sub.mu.Lock()
	}
	c.subsMu.Lock()
	c.subs[id] = sub
	c.ids[sub] = id
	c.subsMu.Unlock()

	if backfill {
		c.wg.Add(1)
		go c.initialBackfill(sub, start)
	}
	return sub, nil
}

// startBlock is q.FromBlock when set, otherwise the block after the head.
func (c *WSClientImpl) startBlock(ctx context.Context, q ethereum.FilterQuery) (uint64, error) {
	if q.FromBlock != nil && q.FromBlock.Sign() > 0 {
		return q.FromBlock.Uint64(), nil
	}
	head, err := c.config.Backfill.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read chain head: %w", err)
	}
	return head + 1, nil
}

// initialBackfill replays [from, head] into sub and then releases sub.mu.
func (c *WSClientImpl) initialBackfill(sub *WSSubscription, from uint64) {
	defer c.wg.Done()
	defer sub.mu.Unlock()

	logger := c.logger.With(zap.Uint64("from", from))

	headCtx, cancel := context.WithTimeout(c.ctx, c.config.CallTimeout)
	head, err := c.config.Backfill.BlockNumber(headCtx)
	cancel()
	if err != nil {
		logger.Warn("initial backfill skipped", zap.Error(err))
		return
	}

	for from <= head {
		to := min(head, from+maxBlockRange-1)
		q := sub.query
		q.FromBlock = new(big.Int).SetUint64(from)
		q.ToBlock = new(big.Int).SetUint64(to)

		logs, err := backoff.Retry(c.ctx, func() ([]types.Log, error) {
			ctx, cancel := context.WithTimeout(c.ctx, c.config.CallTimeout)
			defer cancel()
			return c.config.Backfill.FilterLogs(ctx, q)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(backfillTries),
		)
		if err != nil {
			if !c.closed.Load() {
				logger.Warn("initial backfill failed", zap.Uint64("to", to), zap.Error(err))
			}
			return
		}
		for _, l := range logs {
			if !c.deliverLocked(sub, l) {
				return
			}
		}
		from = to + 1
	}
}

// Unsubscribe cancels sub remotely (best effort) and releases it locally.
func (c *WSClientImpl) Unsubscribe(ctx context.Context, sub *WSSubscription) error {
	c.subsMu.Lock()
	id, ok := c.ids[sub]
	if ok {
		delete(c.ids, sub)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	sub.stop()
	if !ok || c.closed.Load() {
		return nil
	}

	if _, err := c.call(ctx, "eth_unsubscribe", []any{id}); err != nil {
		return fmt.Errorf("eth_unsubscribe %s: %w", id, err)
	}
	return nil
}

// Close closes the WebSocket connection and releases all subscriptions.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for sub := range c.ids {
		sub.stop()
	}
	c.subs = make(map[string]*WSSubscription)
	c.ids = make(map[*WSSubscription]string)
	c.subsMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSClientImpl) subscribe(ctx context.Context, q ethereum.FilterQuery) (string, error) {
	arg := map[string]any{"address": q.Addresses}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}

	raw, err := c.call(ctx, "eth_subscribe", []any{"logs", arg})
	if err != nil {
		return "", fmt.Errorf("eth_subscribe: %w", err)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", fmt.Errorf("eth_subscribe: unexpected result %s", string(raw))
	}
	return id, nil
}

// call sends a JSON-RPC request and waits for its response.
func (c *WSClientImpl) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	respCh := make(chan rpcResponse, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: reqID, Method: method, Params: params}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(c.config.CallTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp.result, resp.err
	case <-timer.C:
		return nil, fmt.Errorf("%s timeout after %s", method, c.config.CallTimeout)
	case <-c.ctx.Done():
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop reads messages from WebSocket and dispatches them.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("websocket read failed", zap.Error(err))
			if !c.reconnecting.Swap(true) {
				c.wg.Add(1)
				go c.reconnect()
			}
			c.waitForNewConn(conn)
			continue
		}

		c.handleMessage(message)
	}
}

// waitForNewConn blocks until the reconnect goroutine has swapped in a connection.
func (c *WSClientImpl) waitForNewConn(old *websocket.Conn) {
	for {
		c.connMu.Lock()
		changed := c.conn != old && c.conn != nil
		c.connMu.Unlock()
		if changed || !c.sleep(100*time.Millisecond) {
			return
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the client
// closes, then re-opens every live subscription.
func (c *WSClientImpl) reconnect() {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectDelay
	b.MaxInterval = c.config.MaxReconnectDelay

	_, err := backoff.Retry(c.ctx, func() (struct{}, error) {
		dialCtx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		defer cancel()
		if err := c.dial(dialCtx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.resubscribeAll()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		if !c.closed.Load() {
			c.logger.Error("reconnect abandoned", zap.Error(err))
		}
		return
	}

	c.config.Metrics.RecordReconnect()
	c.logger.Info("websocket reconnected", zap.String("endpoint", c.endpoint))
}

// resubscribeAll re-opens every subscription on the current connection and
// fills the gap from the backfill source when one is configured.
func (c *WSClientImpl) resubscribeAll() error {
	c.subsMu.RLock()
	subs := make([]*WSSubscription, 0, len(c.ids))
	for sub := range c.ids {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	for _, sub := range subs {
		if err := c.resubscribe(sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *WSClientImpl) resubscribe(sub *WSSubscription) error {
	// Holding sub.mu keeps live notifications for sub behind the backfill.
	sub.mu.Lock()
	defer sub.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.config.CallTimeout)
	defer cancel()

	newID, err := c.subscribe(ctx, sub.query)
	if err != nil {
		return err
	}

	c.subsMu.Lock()
	oldID, live := c.ids[sub]
	if live {
		delete(c.subs, oldID)
		c.subs[newID] = sub
		c.ids[sub] = newID
	}
	c.subsMu.Unlock()
	if !live {
		return nil
	}

	if c.config.Backfill == nil || !sub.hasCursor {
		return nil
	}

	q := sub.query
	q.FromBlock = new(big.Int).SetUint64(sub.cursorBlock)
	logs, err := c.config.Backfill.FilterLogs(ctx, q)
	if err != nil {
		c.logger.Warn("backfill after reconnect failed", zap.Error(err))
		return nil
	}
	for _, l := range logs {
		if !c.deliverLocked(sub, l) {
			break
		}
	}
	return nil
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("undecodable websocket message", zap.Error(err))
		return
	}

	switch {
	case msg.Method == "eth_subscription" && msg.Params != nil:
		c.handleNotification(msg.Params)
	case msg.ID != nil:
		c.handleResponse(&msg)
	}
}

func (c *WSClientImpl) handleResponse(msg *rpcMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[*msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	resp := rpcResponse{result: msg.Result}
	if msg.Error != nil {
		resp.err = msg.Error
	}
	select {
	case ch <- resp:
	default:
	}
}

func (c *WSClientImpl) handleNotification(params *subscriptionParams) {
	var l types.Log
	if err := json.Unmarshal(params.Result, &l); err != nil {
		c.logger.Warn("undecodable log notification",
			zap.String("subscription", params.Subscription), zap.Error(err))
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	c.deliverLocked(sub, l)
	sub.mu.Unlock()
}

// deliverLocked sends l to sub unless it was already delivered. Caller holds sub.mu.
// Returns false if the subscription or client is gone.
func (c *WSClientImpl) deliverLocked(sub *WSSubscription, l types.Log) bool {
	if l.Removed {
		sub.rewind(l.BlockNumber)
	} else if !sub.advance(l) {
		return true
	}

	select {
	case sub.ch <- l:
		return true
	case <-sub.done:
		return false
	case <-c.ctx.Done():
		return false
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A failed ping surfaces as a read error and triggers reconnect.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

func (c *WSClientImpl) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// cursor tracking on WSSubscription

func (s *WSSubscription) advance(l types.Log) bool {
	if s.hasCursor && (l.BlockNumber < s.cursorBlock ||
		l.BlockNumber == s.cursorBlock && l.Index <= s.cursorIndex) {
		return false
	}
	s.cursorBlock, s.cursorIndex, s.hasCursor = l.BlockNumber, l.Index, true
	return true
}

// rewind moves the cursor before block so re-org replacements are delivered.
func (s *WSSubscription) rewind(block uint64) {
	if !s.hasCursor || s.cursorBlock < block {
		return
	}
	if block == 0 {
		s.hasCursor = false
		return
	}
	s.cursorBlock, s.cursorIndex = block-1, math.MaxUint
}

func (s *WSSubscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// JSON-RPC message types

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcMessage struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      *uint64             `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
	Params  *subscriptionParams `json:"params,omitempty"`
}

type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

var _ WSClient = (*WSClientImpl)(nil)
