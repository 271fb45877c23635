// Package hub implements the WebSocket + REST client for the
// home-automation hub (spec §4.A, §6): the auth handshake, event
// subscription and dispatch, service calls, and state reads. The
// connect/read/ping/backoff shape is ported from a dashboard-agent
// WebSocket client in the same idiom; the auth handshake and wire
// frames are ported from the Python original's HomeAssistantClient.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
	"github.com/attic-systems/hvacd/internal/hvaerr"
	"github.com/attic-systems/hvacd/internal/protocol"
)

const (
	pingInterval     = 30 * time.Second
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = 5 * time.Second
	restTimeout      = 30 * time.Second

	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// EventHandler is called once per incoming state_changed event, in
// registration order. A handler that panics is recovered and logged; it
// never takes down the read loop or later handlers.
type EventHandler func(hvacmodel.StateChangedData)

// Client is the hub connection: one WebSocket for events and commands,
// one plain HTTP client for state reads. It is safe to share across
// goroutines; Run must only be called once.
type Client struct {
	cfg hvacmodel.HubConfig
	log zerolog.Logger

	dialer     websocket.Dialer
	httpClient *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    int
	connID    string

	handlersMu sync.Mutex
	handlers   []EventHandler

	backoff *hvaerr.Backoff

	reconnectHook func()
}

// SetReconnectHook registers a callback invoked each time Run starts
// reconnecting after a lost connection: once per lost connection, not
// once per dial attempt.
func (c *Client) SetReconnectHook(hook func()) {
	c.reconnectHook = hook
}

// New builds a hub client from cfg. It does not connect.
func New(cfg hvacmodel.HubConfig, log zerolog.Logger) *Client {
	initial := cfg.InitialRetryDelay
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	return &Client{
		cfg:        cfg,
		log:        log.With().Str("component", "hub").Logger(),
		dialer:     websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		httpClient: &http.Client{Timeout: restTimeout},
		backoff:    hvaerr.NewBackoff(initial, defaultMaxBackoff),
	}
}

// OnEvent registers a handler for state_changed events. Handlers run
// synchronously on the read loop's goroutine, in registration order.
func (c *Client) OnEvent(h EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Run connects to the hub and maintains the connection until ctx is
// cancelled. The initial connect retries up to cfg.MaxInitialRetries
// times with a fixed delay (spec §4.A); exhausting that budget is fatal
// and Run returns an error wrapping hvaerr.ErrConnect. Every connection
// loss after the first successful connect reconnects indefinitely with
// exponential backoff — a hub that later goes away must not bring the
// process down the way a hub that was never reachable does.
func (c *Client) Run(ctx context.Context) error {
	if err := c.connectWithInitialRetry(ctx); err != nil {
		return err
	}

	for {
		c.backoff.Reset()
		c.readLoop(ctx)

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if c.reconnectHook != nil {
			c.reconnectHook()
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if err := c.connect(ctx); err != nil {
				c.log.Error().Err(err).Msg("hub reconnect failed, retrying")
				c.waitBackoff(ctx)
				continue
			}
			break
		}
	}
}

// connectWithInitialRetry attempts the very first connection, retrying
// up to cfg.MaxInitialRetries times with a fixed delay between attempts
// (spec §4.A "Fails ... Retries initial connect up to max_initial_retries
// with fixed delay; fails with ConnectError after exhaustion").
// Authentication failures on this path are not treated specially: the
// caller is expected to give up and exit non-zero regardless of whether
// exhaustion was caused by a network or an auth error.
func (c *Client) connectWithInitialRetry(ctx context.Context) error {
	maxRetries := c.cfg.MaxInitialRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	delay := c.cfg.InitialRetryDelay
	if delay <= 0 {
		delay = defaultInitialBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.connect(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.Error().Err(err).Int("attempt", attempt).Int("max_attempts", maxRetries).Msg("initial hub connect failed")

		if attempt == maxRetries {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: exhausted %d initial connect attempts: %v", hvaerr.ErrConnect, maxRetries, lastErr)
}

// connect dials the hub, performs the auth handshake, and subscribes to
// state_changed events (spec §6 "Connection handshake").
func (c *Client) connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", hvaerr.ErrConnect, err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	connID := uuid.New().String()

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.nextID = 1
	c.connID = connID
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := c.subscribeEvents(protocol.EventTypeStateChanged); err != nil {
		c.log.Error().Err(err).Msg("subscribe_events failed")
	}

	go c.pingLoop(ctx)

	c.log.Info().Str("conn_id", connID).Msg("connected to hub")
	return nil
}

// authenticate performs the auth_required -> auth -> auth_ok handshake.
func (c *Client) authenticate(conn *websocket.Conn) error {
	var required protocol.Frame
	if err := conn.ReadJSON(&required); err != nil {
		return fmt.Errorf("%w: read auth_required: %v", hvaerr.ErrConnect, err)
	}
	if required.Type != protocol.TypeAuthRequired {
		return fmt.Errorf("%w: expected auth_required, got %q", hvaerr.ErrAuth, required.Type)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(protocol.NewAuthFrame(c.cfg.BearerToken)); err != nil {
		return fmt.Errorf("%w: send auth: %v", hvaerr.ErrAuth, err)
	}

	var result protocol.Frame
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("%w: read auth result: %v", hvaerr.ErrAuth, err)
	}
	switch result.Type {
	case protocol.TypeAuthOK:
		return nil
	case protocol.TypeAuthInvalid:
		return fmt.Errorf("%w: %s", hvaerr.ErrAuth, result.Message)
	default:
		return fmt.Errorf("%w: unexpected auth response %q", hvaerr.ErrAuth, result.Type)
	}
}

// subscribeEvents sends the subscribe_events frame for eventType.
func (c *Client) subscribeEvents(eventType string) error {
	return c.writeJSON(protocol.SubscribeEventsFrame{
		ID:        c.nextMessageID(),
		Type:      protocol.TypeSubscribeEvents,
		EventType: eventType,
	})
}

// CallService invokes a hub service. It is fire-and-observe: hvacd does
// not correlate the hub's "result" frame back to the call (spec §4.A);
// a write error is the only failure this reports.
func (c *Client) CallService(domain, service string, data map[string]any) error {
	frame := protocol.NewCallServiceFrame(c.nextMessageID(), domain, service, data)
	if err := c.writeJSON(frame); err != nil {
		return fmt.Errorf("%w: call_service %s.%s: %v", hvaerr.ErrHub, domain, service, err)
	}
	return nil
}

func (c *Client) nextMessageID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return hvaerr.ErrNetwork
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// GetState fetches an entity's current state over the companion REST
// API (spec §6 "REST reads"). A 404 maps to hvaerr.ErrNotFound; any
// other status than 200 maps to hvaerr.ErrHub.
func (c *Client) GetState(ctx context.Context, entityID string) (hvacmodel.State, error) {
	url := c.cfg.RESTURL + "/api/states/" + entityID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return hvacmodel.State{}, fmt.Errorf("%w: build request: %v", hvaerr.ErrHub, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return hvacmodel.State{}, fmt.Errorf("%w: %s: %v", hvaerr.ErrNetwork, entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return hvacmodel.State{}, fmt.Errorf("%w: %s", hvaerr.ErrNotFound, entityID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return hvacmodel.State{}, fmt.Errorf("%w: %s: status %d: %s", hvaerr.ErrHub, entityID, resp.StatusCode, body)
	}

	var state hvacmodel.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return hvacmodel.State{}, fmt.Errorf("%w: decode %s: %v", hvaerr.ErrHub, entityID, err)
	}
	return state, nil
}

// readLoop reads frames until the connection drops or ctx is cancelled.
func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	current := c.conn
	c.mu.Unlock()

	// Closing the connection on cancellation unblocks a pending read.
	done := make(chan struct{})
	defer close(done)
	if current != nil {
		go func() {
			select {
			case <-ctx.Done():
				current.Close()
			case <-done:
			}
		}()
	}

	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("hub read error")
			}
			return
		}

		if frame.Type != protocol.TypeEvent {
			continue
		}
		c.dispatchEvent(frame)
	}
}

// dispatchEvent decodes a state_changed event and invokes every
// registered handler, recovering from and logging any handler panic.
func (c *Client) dispatchEvent(frame protocol.Frame) {
	ev, err := protocol.ParseEvent(frame)
	if err != nil {
		c.log.Error().Err(err).Msg("malformed event frame")
		return
	}
	if ev.EventType != protocol.EventTypeStateChanged {
		return
	}

	var data hvacmodel.StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		c.log.Error().Err(err).Msg("malformed state_changed payload")
		return
	}

	c.handlersMu.Lock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.Unlock()

	for _, h := range handlers {
		c.invokeHandler(h, data)
	}
}

func (c *Client) invokeHandler(h EventHandler, data hvacmodel.StateChangedData) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("entity_id", data.EntityID).Msg("event handler panicked")
		}
	}()
	h(data)
}

// pingLoop sends periodic pings to keep the connection alive.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			connected := c.connected
			c.mu.Unlock()
			if !connected || conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) waitBackoff(ctx context.Context) {
	d := c.backoff.Next()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// IsConnected reports whether the WebSocket connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the WebSocket connection gracefully. It is
// idempotent; calling it on an already-closed client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeGracePeriod)
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		deadline,
	)
	closeErr := c.conn.Close()
	c.conn = nil
	c.connected = false
	if err != nil {
		return err
	}
	return closeErr
}
