package realtime

import (
	"encoding/json"
	"fmt"
)

// Client -> server actions.
const (
	ActionSubscribe      = "SUBSCRIBE"
	ActionUnsubscribe    = "UNSUBSCRIBE"
	ActionPing           = "PING"
	ActionUpdateLocation = "UPDATE_LOCATION"
)

// Server -> client envelope types.
const (
	TypeDriverLocationUpdate = "DRIVER_LOCATION_UPDATE"
	TypeRouteStatusChanged   = "ROUTE_STATUS_CHANGED"
	TypeStopStatusChanged    = "STOP_STATUS_CHANGED"
	TypePickupAssigned       = "PICKUP_ASSIGNED"
	TypeETAUpdate            = "ETA_UPDATE"
	TypePong                 = "PONG"
)

// ClientMessage is the outbound wire frame.
type ClientMessage struct {
	Action  string          `json:"action"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Envelope is the inbound wire frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Bus channels the client emits on. Known envelope types additionally fan
// out on "realtime:" + type.
const (
	ChannelConnected    = "realtime:connected"
	ChannelDisconnected = "realtime:disconnected"
	ChannelError        = "realtime:error"
	ChannelMaxReconnect = "realtime:max_reconnect"
	ChannelUnknown      = "realtime:unknown"
)

// Gateway subscription channel names.
func LabDriversChannel(labID string) string { return fmt.Sprintf("lab:%s:drivers", labID) }
func LabPickupsChannel(labID string) string { return fmt.Sprintf("lab:%s:pickups", labID) }
func RouteChannel(routeID string) string    { return fmt.Sprintf("route:%s", routeID) }
func RouteETAChannel(routeID string) string { return fmt.Sprintf("route:%s:eta", routeID) }

var knownTypes = map[string]struct{}{
	TypeDriverLocationUpdate: {},
	TypeRouteStatusChanged:   {},
	TypeStopStatusChanged:    {},
	TypePickupAssigned:       {},
	TypeETAUpdate:            {},
	TypePong:                 {},
}
