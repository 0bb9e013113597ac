package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ReconnectConfig controls the exponential backoff used by Client.RunAutoReconnect's
// auto-reconnect loop: delay = baseDelayMs * 2^attempt, capped at maxAttempts.
type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultReconnectConfig matches the original's observed defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{BaseDelay: 250 * time.Millisecond, MaxAttempts: 8}
}

// NotificationHandler receives unsolicited notifications from the peer, in
// arrival order.
type NotificationHandler func(method string, params map[string]any)

type pendingRequest struct {
	result   chan map[string]any
	errEnv   chan *RPCError
}

// Client is a single-connection RPC client to one worker's socket. It owns a
// background reader goroutine, a reconnect loop, and a breaker per instance
// so a flapping service doesn't keep soaking up reconnect attempts from a
// caller who's already decided to give up.
type Client struct {
	socketPath string
	reconnect  ReconnectConfig
	logger     *zap.Logger
	breaker    *gobreaker.CircuitBreaker

	mu        sync.Mutex
	conn      net.Conn
	readBuf   bytes.Buffer
	pending   map[uint64]*pendingRequest
	nextID    atomic.Uint64
	connected atomic.Bool

	notifyHandler NotificationHandler

	errCh chan error

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient constructs a client bound to a unix-domain socket path. The
// breaker name is the service name so metrics/logs can be told apart.
func NewClient(serviceName, socketPath string, reconnect ReconnectConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		socketPath: socketPath,
		reconnect:  reconnect,
		logger:     logger.With(zap.String("component", "ipc.client"), zap.String("service", serviceName)),
		pending:    make(map[uint64]*pendingRequest),
		errCh:      make(chan error, 16),
		done:       make(chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// Errors returns the channel hard connect failures and exhausted-reconnect
// events are published on. Transient failures are only logged at debug.
func (c *Client) Errors() <-chan error { return c.errCh }

// ConnectToServer connects (or reuses an existing connection) with a bounded
// timeout. Empty paths and non-positive timeouts are refused outright.
func (c *Client) ConnectToServer(ctx context.Context, timeoutMs int) bool {
	path := strings.TrimSpace(c.socketPath)
	if path == "" {
		c.logger.Error("invalid socket path: empty")
		c.publishErr(errors.New("ipc: empty socket path"))
		return false
	}
	if timeoutMs <= 0 {
		c.logger.Error("invalid connect timeout", zap.Int("timeoutMs", timeoutMs))
		c.publishErr(fmt.Errorf("ipc: invalid connect timeout %dms", timeoutMs))
		return false
	}

	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return true
	}
	c.readBuf.Reset()
	for id, p := range c.pending {
		close(p.result)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "unix", path)
	if err != nil {
		if isTransientDialErr(err) {
			c.logger.Debug("service not ready yet", zap.Error(err))
		} else {
			c.logger.Error("hard connect failure", zap.Error(err))
			c.publishErr(err)
		}
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	c.logger.Info("connected")
	return true
}

func isTransientDialErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "connection refused")
}

// Disconnect tears the connection down and fails all pending requests with
// ServiceUnavailable.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	c.connected.Store(false)
	if conn != nil {
		_ = conn.Close()
	}
	for _, p := range pending {
		select {
		case p.errEnv <- &RPCError{Code: CodeServiceUnavailable, CodeString: CodeServiceUnavailable.String(), Message: "connection lost"}:
		default:
		}
		close(p.result)
	}
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// SetNotificationHandler installs the single sink for unsolicited
// notifications.
func (c *Client) SetNotificationHandler(h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyHandler = h
}

// SendRequest assigns a monotonically increasing id, writes the encoded
// request, and blocks in a single wait until the matching response, an
// error envelope, or the timeout deadline arrives; it does not poll in
// shorter slices and does not pump any external event loop (spec.md §9 open
// question). Returns nil, false on timeout.
func (c *Client) SendRequest(method string, params map[string]any, timeoutMs int) (map[string]any, bool) {
	if !c.IsConnected() {
		c.logger.Debug("send request while disconnected", zap.String("method", method))
		return nil, false
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doSendRequest(method, params, timeoutMs)
	})
	if err != nil {
		return nil, false
	}
	if result == nil {
		return nil, false
	}
	return result.(map[string]any), true
}

func (c *Client) doSendRequest(method string, params map[string]any, timeoutMs int) (map[string]any, error) {
	id := c.nextID.Add(1)
	frame, err := Encode(NewRequest(id, method, params))
	if err != nil || frame == nil {
		return nil, fmt.Errorf("ipc: encode request %s: %w", method, err)
	}

	pr := &pendingRequest{result: make(chan map[string]any, 1), errEnv: make(chan *RPCError, 1)}
	c.mu.Lock()
	conn := c.conn
	c.pending[id] = pr
	c.mu.Unlock()

	if conn == nil {
		return nil, errors.New("ipc: not connected")
	}
	if _, err := conn.Write(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("ipc: write request: %w", err)
	}

	deadline := time.After(time.Duration(timeoutMs) * time.Millisecond)
	select {
	case res, ok := <-pr.result:
		if !ok {
			return nil, errors.New("ipc: connection lost")
		}
		return res, nil
	case rerr := <-pr.errEnv:
		return nil, fmt.Errorf("ipc: %s: %s", rerr.CodeString, rerr.Message)
	case <-deadline:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.New("ipc: request timed out")
	}
}

// SendRequestAsync schedules the call without blocking the caller's stack;
// callback receives (nil, false) on timeout, cancellation, or client
// destruction.
func (c *Client) SendRequestAsync(method string, params map[string]any, timeoutMs int, callback func(map[string]any, bool)) {
	go func() {
		select {
		case <-c.done:
			callback(nil, false)
			return
		default:
		}
		res, ok := c.SendRequest(method, params, timeoutMs)
		callback(res, ok)
	}()
}

// SendNotification is best-effort: it returns false rather than blocking if
// not connected or if the write fails.
func (c *Client) SendNotification(method string, params map[string]any) bool {
	if !c.IsConnected() {
		return false
	}
	frame, err := Encode(NewNotification(method, params))
	if err != nil || frame == nil {
		return false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	_, err = conn.Write(frame)
	return err == nil
}

func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.readBuf.Write(buf[:n])
			data := c.readBuf.Bytes()
			envs, consumed, decErr := DecodeAll(data)
			remaining := append([]byte(nil), data[consumed:]...)
			c.readBuf.Reset()
			c.readBuf.Write(remaining)
			pendingSnapshot := c.pending
			handler := c.notifyHandler
			c.mu.Unlock()

			for _, env := range envs {
				c.dispatch(env, pendingSnapshot, handler)
			}
			if decErr != nil {
				c.logger.Warn("frame decode error, tearing down connection", zap.Error(decErr))
				c.Disconnect()
				return
			}
		}
		if err != nil {
			c.logger.Debug("read loop ended", zap.Error(err))
			c.Disconnect()
			return
		}
	}
}

func (c *Client) dispatch(env Envelope, pending map[uint64]*pendingRequest, handler NotificationHandler) {
	switch env.Type {
	case TypeResponse:
		c.mu.Lock()
		p, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			p.result <- env.Result
		}
	case TypeError:
		c.mu.Lock()
		p, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok && env.Error != nil {
			p.errEnv <- env.Error
		}
	case TypeNotification:
		if handler != nil {
			handler(env.Method, env.Params)
		}
	}
}

// RunAutoReconnect keeps attempting to (re)connect with exponential backoff
// until ctx is cancelled or the attempt budget is exhausted, at which point
// it surfaces via Errors(). The attempt counter resets on every successful
// connect.
func (c *Client) RunAutoReconnect(ctx context.Context, connectTimeoutMs int) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.ConnectToServer(ctx, connectTimeoutMs) {
			attempt = 0
			<-c.waitForDisconnect(ctx)
			continue
		}

		if attempt >= c.reconnect.MaxAttempts {
			c.publishErr(errors.New("ipc: reconnect attempts exhausted"))
			return
		}

		delay := c.reconnect.BaseDelay * time.Duration(1<<uint(attempt))
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) waitForDisconnect(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.connected.Load() {
					return
				}
			}
		}
	}()
	return ch
}

func (c *Client) publishErr(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// Close disconnects and releases resources; safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.Disconnect()
}
