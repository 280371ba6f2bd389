// Package realtime implements the portal's connection to the dispatch
// gateway: a websocket client with persistent subscriptions, heartbeat
// liveness and linear-backoff reconnection. The client is an injectable
// service with an explicit Connect/Disconnect lifecycle; it never returns
// connection failures to message consumers, surfacing them on the event
// bus instead.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"lab-dispatch-service/internal/platform/bus"
	"lab-dispatch-service/internal/ports"
)

// Connection states.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateConnected
)

// Config for the gateway client. Zero durations/counts fall back to the
// defaults below.
type Config struct {
	URL            string
	Tokens         ports.TokenProvider
	BaseDelay      time.Duration
	MaxAttempts    int
	HeartbeatEvery time.Duration
}

const (
	defaultBaseDelay      = 2 * time.Second
	defaultMaxAttempts    = 5
	defaultHeartbeatEvery = 30 * time.Second
)

// Client maintains one persistent gateway connection. Subscriptions
// survive reconnects: on every (re)connect the full subscription set is
// re-issued before any inbound message is processed.
type Client struct {
	cfg Config
	bus *bus.Bus
	log zerolog.Logger

	state       atomic.Int32
	attempts    atomic.Int32
	lastInbound atomic.Int64 // unix nano of the last received frame
	intentional atomic.Bool  // true while a clean Disconnect is underway

	mu    sync.Mutex // guards conn, subs, done, reconnect timer
	conn  *websocket.Conn
	subs  map[string]struct{}
	done  chan struct{}
	retry *time.Timer

	writeMu sync.Mutex
}

func NewClient(cfg Config, b *bus.Bus, log zerolog.Logger) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = defaultHeartbeatEvery
	}

	return &Client{
		cfg:  cfg,
		bus:  b,
		log:  log.With().Str("component", "realtime").Logger(),
		subs: make(map[string]struct{}),
	}
}

// State returns the current connection state word.
func (c *Client) State() int32 { return c.state.Load() }

// Connect establishes the gateway connection with a fresh token. Calling
// it explicitly resets the reconnect attempt counter, so it also restarts
// a client that gave up after hitting the attempt cap. Dial failures are
// not returned: they surface on ChannelError and feed the reconnect loop.
func (c *Client) Connect(ctx context.Context) {
	c.attempts.Store(0)
	c.intentional.Store(false)
	c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) {
	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) {
		return
	}

	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		c.state.Store(StateDisconnected)
		c.log.Error().Err(err).Msg("token fetch failed")
		c.bus.Publish(ChannelError, err)
		c.scheduleReconnect()
		return
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL+"?token="+token, nil)
	if err != nil {
		c.state.Store(StateDisconnected)
		c.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		c.bus.Publish(ChannelError, err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	done := c.done
	channels := c.subscriptionList()
	c.mu.Unlock()

	c.state.Store(StateConnected)
	c.attempts.Store(0)
	c.lastInbound.Store(time.Now().UnixNano())

	// Replay the persisted subscription set before any inbound frame is
	// processed; the read loop starts only after every SUBSCRIBE is sent.
	for _, ch := range channels {
		c.send(ClientMessage{Action: ActionSubscribe, Channel: ch})
	}

	c.log.Info().Int("subscriptions", len(channels)).Msg("connected")
	c.bus.Publish(ChannelConnected, channels)

	go c.readLoop(conn, done)
	go c.heartbeatLoop(done)
}

// Disconnect closes the connection cleanly and stops all loops. The
// closure is intentional, so no reconnect is scheduled.
func (c *Client) Disconnect() {
	c.intentional.Store(true)

	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			deadline,
		)
	}
	c.teardown(nil)
}

// Subscribe adds channel to the persisted set and, when connected, issues
// the SUBSCRIBE immediately.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	c.subs[channel] = struct{}{}
	c.mu.Unlock()

	if c.state.Load() == StateConnected {
		c.send(ClientMessage{Action: ActionSubscribe, Channel: channel})
	}
}

// Unsubscribe removes channel from the persisted set.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.subs, channel)
	c.mu.Unlock()

	if c.state.Load() == StateConnected {
		c.send(ClientMessage{Action: ActionUnsubscribe, Channel: channel})
	}
}

func (c *Client) subscriptionList() []string {
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return // torn down elsewhere
			default:
			}
			c.handleReadError(err)
			return
		}

		c.lastInbound.Store(time.Now().UnixNano())

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn().Err(err).Msg("malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

// dispatch fans an inbound envelope out on the bus. Unrecognized types are
// forwarded to the generic channel with a warning, never dropped silently.
func (c *Client) dispatch(env Envelope) {
	if env.Type == TypePong {
		return
	}
	if _, ok := knownTypes[env.Type]; ok {
		c.bus.Publish("realtime:"+env.Type, env.Data)
		return
	}
	c.log.Warn().Str("type", env.Type).Msg("unrecognized envelope type")
	c.bus.Publish(ChannelUnknown, env)
}

func (c *Client) handleReadError(err error) {
	clean := c.intentional.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure)

	c.teardown(err)

	if clean {
		c.log.Info().Msg("connection closed cleanly")
		return
	}
	c.log.Warn().Err(err).Msg("connection lost")
	c.scheduleReconnect()
}

// teardown closes the connection and loops and publishes the disconnect.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if c.state.Swap(StateDisconnected) != StateDisconnected {
		c.bus.Publish(ChannelDisconnected, cause)
	}
}

// scheduleReconnect arms the next attempt with linear backoff
// (baseDelay x attemptNumber). Beyond the attempt cap it emits the
// terminal signal and stops until Connect is called again.
func (c *Client) scheduleReconnect() {
	if c.intentional.Load() {
		return
	}

	attempt := c.attempts.Inc()
	if int(attempt) > c.cfg.MaxAttempts {
		c.log.Error().Int32("attempts", attempt-1).Msg("reconnect attempts exhausted")
		c.bus.Publish(ChannelMaxReconnect, int(attempt-1))
		return
	}

	delay := c.cfg.BaseDelay * time.Duration(attempt)
	c.log.Info().Int32("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")

	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() {
		c.connect(context.Background())
	})
	c.mu.Unlock()
}

// heartbeatLoop sends PING whenever the connection has been idle for a
// full heartbeat interval; any inbound frame resets the idle clock.
func (c *Client) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastInbound.Load()))
			if idle >= c.cfg.HeartbeatEvery {
				c.send(ClientMessage{Action: ActionPing})
			}
		}
	}
}

// send writes one frame. Write failures are logged only; the read loop
// owns disconnect detection.
func (c *Client) send(msg ClientMessage) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.log.Debug().Str("action", msg.Action).Msg("send skipped, not connected")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		c.log.Warn().Err(err).Str("action", msg.Action).Msg("write failed")
	}
}
