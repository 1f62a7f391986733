// Package client provides the scheduler client used by workers and task
// code to submit tasks and gather their results over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("ws://scheduler:8786/ws")
//	defer c.Close()
//
//	f, err := c.Submit(ctx, "inc", 41)
//	results, err := c.Gather(ctx, f)
//
// A worker process holds a single cached Client for all nested task
// submissions; see the worker package.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/sync/errgroup"

	"github.com/geethanjalieswaran/distributed"
	"github.com/geethanjalieswaran/distributed/wire"
)

// Client is a scheduler client that submits tasks and tracks their
// results over a single WebSocket connection.
type Client struct {
	url         string
	token       string
	format      string
	logger      *slog.Logger
	dialTimeout time.Duration

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn      net.Conn
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID string

	// Request-response correlation.
	pending sync.Map // frame ID → chan *wire.Frame

	// Futures awaiting result events, keyed by task key.
	futures sync.Map // task key → *Future

	// Results that arrived before anyone registered a future for them.
	// The scheduler may deliver a result between the submit response
	// being sent and the caller registering its future.
	earlyResults sync.Map // task key → wire.TaskResult
}

// Dial connects to a scheduler and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a scheduler with a context. The context bounds
// connection establishment and auth, not the client's lifetime.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		format:     wire.CodecNameJSON,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	// Start the read loop.
	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection and sends the auth frame.
// It reads the auth response directly since the readLoop hasn't started yet.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	authFrame, marshalErr := wire.NewRequestFrame(wire.MethodAuth, wire.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if marshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth request: %w", marshalErr)
	}
	authFrame.Token = c.token

	if writeErr := c.writeFrame(authFrame); writeErr != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", writeErr)
	}

	// Read the auth response directly from the WebSocket.
	type readResult struct {
		resp *wire.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, readErr := wsutil.ReadServerText(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		var frame wire.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			resultCh <- readResult{err: fmt.Errorf("unmarshal auth response: %w", unmarshalErr)}
			return
		}
		resultCh <- readResult{resp: &frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type == wire.FrameErr {
			_ = conn.Close()
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("auth failed: %s", msg)
		}
		var authResp wire.AuthResponse
		if len(resp.Data) > 0 {
			if unmarshalErr := json.Unmarshal(resp.Data, &authResp); unmarshalErr != nil {
				c.logger.Warn("failed to unmarshal auth response", slog.String("error", unmarshalErr.Error()))
			}
		}
		c.sessionID = authResp.SessionID
		c.logger.Info("scheduler client connected",
			slog.String("session_id", c.sessionID),
			slog.String("format", authResp.Format),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// Submit sends a task to the scheduler and returns a Future for its
// result. The payload is JSON-encoded. If the submitting code runs
// inside a worker task, the scheduler attributes the new task to it via
// the submitter key carried on the context.
func (c *Client) Submit(ctx context.Context, name string, payload any) (*Future, error) {
	if c.closed.Load() {
		return nil, distributed.ErrClientClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req := wire.TaskSubmitRequest{
		Name:         name,
		Payload:      raw,
		SubmitterKey: submitterKeyFrom(ctx),
	}

	resp, reqErr := c.request(ctx, wire.MethodTaskSubmit, req)
	if reqErr != nil {
		return nil, reqErr
	}

	var result wire.TaskSubmitResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal submit response: %w", err)
	}

	f := newFuture(result.Key)
	c.futures.Store(result.Key, f)
	if val, ok := c.earlyResults.LoadAndDelete(result.Key); ok {
		c.futures.Delete(result.Key)
		early := val.(wire.TaskResult) //nolint:errcheck // earlyResults map always stores wire.TaskResult
		f.resolve(early.Result, early.Error)
	}
	return f, nil
}

// Gather waits for all futures to resolve and returns their results in
// submission order. The first task error or context cancellation aborts
// the wait.
func (c *Client) Gather(ctx context.Context, futures ...*Future) ([]Result, error) {
	results := make([]Result, len(futures))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		g.Go(func() error {
			r, err := f.Wait(gctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Release tells the scheduler the caller no longer needs the given task
// keys. Pending futures for those keys are failed locally.
func (c *Client) Release(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.request(ctx, wire.MethodTaskRelease, wire.TaskGatherRequest{Keys: keys})
	for _, key := range keys {
		if val, ok := c.futures.LoadAndDelete(key); ok {
			val.(*Future).fail(fmt.Errorf("client: task %s released", key))
		}
	}
	return err
}

// readLoop reads frames from the WebSocket and dispatches them.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("scheduler client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		var frame wire.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			c.logger.Warn("scheduler client: invalid frame", slog.String("error", unmarshalErr.Error()))
			continue
		}

		// Route the frame.
		switch frame.Type {
		case wire.FrameResponse, wire.FrameErr:
			// Correlate with pending request.
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *wire.Frame) //nolint:errcheck // pending map always stores chan *wire.Frame
				select {
				case ch <- &frame:
				default:
				}
			}
		case wire.FrameEvent:
			c.routeEvent(&frame)
		case wire.FramePong:
			// Ignore pong frames.
		}
	}
}

// routeEvent resolves the future for a task result event.
func (c *Client) routeEvent(frame *wire.Frame) {
	var result wire.TaskResult
	if err := json.Unmarshal(frame.Data, &result); err != nil {
		c.logger.Warn("scheduler client: invalid result event", slog.String("error", err.Error()))
		return
	}
	key := result.Key
	if key == "" {
		key = frame.Channel
	}

	val, ok := c.futures.LoadAndDelete(key)
	if !ok {
		// Nobody registered a future yet; park the result so a Submit
		// racing with this event still resolves.
		c.earlyResults.Store(key, result)
		return
	}
	val.(*Future).resolve(result.Result, result.Error) //nolint:errcheck // futures map always stores *Future
}

// tryReconnect attempts to reconnect with exponential backoff.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("scheduler client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("scheduler client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.logger.Info("scheduler client reconnected")
		go c.readLoop()
		return
	}
	c.logger.Error("scheduler client: max reconnection attempts reached")
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*wire.Frame, error) {
	frame, err := wire.NewRequestFrame(method, data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	respCh := make(chan *wire.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wire.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("scheduler error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame JSON-encodes and sends a frame over the WebSocket.
func (c *Client) writeFrame(frame *wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return wsutil.WriteClientText(c.conn, data)
}

// SessionID returns the session ID assigned by the scheduler.
func (c *Client) SessionID() string { return c.sessionID }

// Close closes the client connection. Pending futures are failed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.futures.Range(func(key, val any) bool {
		val.(*Future).fail(distributed.ErrClientClosed) //nolint:errcheck // futures map always stores *Future
		c.futures.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
