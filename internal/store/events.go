package store

import (
	"time"

	"lab-dispatch-service/internal/domain"
)

// Event channel names published on the bus. Payloads are the structs
// below; subscribers type-assert on the channel they subscribed to.
const (
	EventRouteCreated      = "route:created"
	EventRouteOptimized    = "route:optimized"
	EventStopAssigned      = "stop:assigned"
	EventStopUpdated       = "stop:updated"
	EventStopCompleted     = "stop:completed"
	EventStopSkipped       = "stop:skipped"
	EventCaseStatusChanged = "case:status_changed"
)

type RouteCreatedEvent struct {
	Timestamp time.Time
	RouteID   string
	LabID     string
	Name      string
}

type RouteOptimizedEvent struct {
	Timestamp time.Time
	RouteID   string
	Before    domain.RouteMetrics
	After     domain.RouteMetrics
}

type StopAssignedEvent struct {
	Timestamp time.Time
	RouteID   string
	StopID    string
	ClinicID  string
	StopType  domain.StopType
	PickupID  string
}

// StopUpdatedEvent covers status changes, reorders and cross-route moves.
// FromRouteID is set only for moves.
type StopUpdatedEvent struct {
	Timestamp   time.Time
	RouteID     string
	FromRouteID string
	StopID      string
	Status      domain.StopStatus
	RouteStatus domain.RouteStatus
}

type StopCompletedEvent struct {
	Timestamp time.Time
	RouteID   string
	StopID    string
	ClinicID  string
}

type StopSkippedEvent struct {
	Timestamp time.Time
	RouteID   string
	StopID    string
	ClinicID  string
	Reason    string
}

type CaseStatusChangedEvent struct {
	Timestamp time.Time
	CaseID    string
	Status    string
	RouteID   string
	StopID    string
}
