package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/platform/bus"
	"lab-dispatch-service/internal/ports"
)

// gateway is a test double for the dispatch gateway: it accepts websocket
// connections and exposes each one's inbound frames on a channel.
type gateway struct {
	srv   *httptest.Server
	conns chan *gatewayConn
}

type gatewayConn struct {
	ws      *websocket.Conn
	inbound chan ClientMessage
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	g := &gateway{conns: make(chan *gatewayConn, 4)}
	upgrader := websocket.Upgrader{}

	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		conn := &gatewayConn{ws: ws, inbound: make(chan ClientMessage, 16)}
		g.conns <- conn

		for {
			var msg ClientMessage
			if err := ws.ReadJSON(&msg); err != nil {
				close(conn.inbound)
				return
			}
			conn.inbound <- msg
		}
	}))
	t.Cleanup(g.srv.Close)

	return g
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *gateway) accept(t *testing.T) *gatewayConn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("gateway: no connection arrived")
		return nil
	}
}

func (c *gatewayConn) expect(t *testing.T, action string) ClientMessage {
	t.Helper()
	for {
		select {
		case msg, ok := <-c.inbound:
			if !ok {
				t.Fatalf("gateway: connection closed while waiting for %s", action)
			}
			if msg.Action == ActionPing {
				continue // heartbeat noise
			}
			if msg.Action != action {
				t.Fatalf("gateway: got action %s, want %s", msg.Action, action)
			}
			return msg
		case <-time.After(2 * time.Second):
			t.Fatalf("gateway: timed out waiting for %s", action)
		}
	}
}

func newTestClient(g *gateway, b *bus.Bus) *Client {
	return NewClient(Config{
		URL:            g.url(),
		Tokens:         ports.StaticToken("test-token"),
		BaseDelay:      20 * time.Millisecond,
		MaxAttempts:    3,
		HeartbeatEvery: time.Hour, // keep heartbeats out of most tests
	}, b, zerolog.Nop())
}

func TestConnectReplaysSubscriptions(t *testing.T) {
	g := newGateway(t)
	c := newTestClient(g, bus.New())

	c.Subscribe(RouteChannel("r1"))
	c.Subscribe(LabDriversChannel("lab1"))

	c.Connect(t.Context())
	defer c.Disconnect()

	conn := g.accept(t)
	first := conn.expect(t, ActionSubscribe)
	second := conn.expect(t, ActionSubscribe)

	got := map[string]bool{first.Channel: true, second.Channel: true}
	if !got["route:r1"] || !got["lab:lab1:drivers"] {
		t.Fatalf("subscribed channels = %v", got)
	}
}

func TestReconnectResendsSubscriptionsFirst(t *testing.T) {
	g := newGateway(t)
	b := bus.New()
	c := newTestClient(g, b)

	disconnected := make(chan struct{}, 1)
	b.Subscribe(ChannelDisconnected, func(any) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})

	c.Subscribe("route:r1")
	c.Connect(t.Context())
	defer c.Disconnect()

	conn := g.accept(t)
	conn.expect(t, ActionSubscribe)

	// Kill the transport without a close frame: a non-clean closure.
	_ = conn.ws.UnderlyingConn().Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected signal")
	}

	// Attempt 1 after baseDelay x 1; the new connection must re-issue
	// SUBSCRIBE route:r1 before anything else.
	reconn := g.accept(t)
	msg := reconn.expect(t, ActionSubscribe)
	if msg.Channel != "route:r1" {
		t.Fatalf("resubscribed channel = %q, want route:r1", msg.Channel)
	}
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	g := newGateway(t)
	c := newTestClient(g, bus.New())

	c.Subscribe("route:r1")
	c.Connect(t.Context())

	conn := g.accept(t)
	conn.expect(t, ActionSubscribe)

	deadline := time.Now().Add(time.Second)
	_ = conn.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
		deadline,
	)

	select {
	case <-g.conns:
		t.Fatal("client reconnected after a clean close")
	case <-time.After(300 * time.Millisecond):
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %d, want disconnected", c.State())
	}
}

func TestKnownTypesFanOutOnBus(t *testing.T) {
	g := newGateway(t)
	b := bus.New()
	c := newTestClient(g, b)

	updates := make(chan json.RawMessage, 1)
	b.Subscribe("realtime:"+TypeRouteStatusChanged, func(p any) {
		updates <- p.(json.RawMessage)
	})

	c.Connect(t.Context())
	defer c.Disconnect()

	conn := g.accept(t)
	if err := conn.ws.WriteJSON(Envelope{
		Type: TypeRouteStatusChanged,
		Data: json.RawMessage(`{"routeId":"r1","status":"InProgress"}`),
	}); err != nil {
		t.Fatalf("gateway write: %v", err)
	}

	select {
	case raw := <-updates:
		var payload struct {
			RouteID string `json:"routeId"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil || payload.RouteID != "r1" {
			t.Fatalf("payload = %s (%v)", raw, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("route status update never reached the bus")
	}
}

func TestUnknownTypeForwardedNotDropped(t *testing.T) {
	g := newGateway(t)
	b := bus.New()
	c := newTestClient(g, b)

	unknown := make(chan Envelope, 1)
	b.Subscribe(ChannelUnknown, func(p any) {
		unknown <- p.(Envelope)
	})

	c.Connect(t.Context())
	defer c.Disconnect()

	conn := g.accept(t)
	if err := conn.ws.WriteJSON(Envelope{Type: "FUTURE_FEATURE", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("gateway write: %v", err)
	}

	select {
	case env := <-unknown:
		if env.Type != "FUTURE_FEATURE" {
			t.Fatalf("forwarded type = %q", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unknown envelope was dropped")
	}
}

func TestMaxReconnectAttemptsSignal(t *testing.T) {
	b := bus.New()
	c := NewClient(Config{
		URL:         "ws://127.0.0.1:1", // nothing listens here
		Tokens:      ports.StaticToken("t"),
		BaseDelay:   10 * time.Millisecond,
		MaxAttempts: 2,
	}, b, zerolog.Nop())

	gaveUp := make(chan int, 1)
	b.Subscribe(ChannelMaxReconnect, func(p any) {
		select {
		case gaveUp <- p.(int):
		default:
		}
	})

	c.Connect(t.Context())

	select {
	case attempts := <-gaveUp:
		if attempts != 2 {
			t.Fatalf("gave up after %d attempts, want 2", attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("max-reconnect signal never emitted")
	}
}

func TestLocationTrackerSendsUpdates(t *testing.T) {
	g := newGateway(t)
	c := newTestClient(g, bus.New())

	c.Connect(t.Context())
	defer c.Disconnect()
	conn := g.accept(t)

	stop := c.TrackLocation("d1", "r1", 20*time.Millisecond, func(context.Context) (LocationSample, error) {
		return LocationSample{
			Coordinates: domain.Coordinates{Lat: 33.5, Lng: -112.1},
			AccuracyM:   4.2,
		}, nil
	})
	defer stop()

	msg := conn.expect(t, ActionUpdateLocation)

	var payload struct {
		DriverID string `json:"driverId"`
		RouteID  string `json:"routeId"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DriverID != "d1" || payload.RouteID != "r1" {
		t.Fatalf("payload = %+v", payload)
	}
}
