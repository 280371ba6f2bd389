package domain

import "time"

// Route lifecycle states.
type RouteStatus string

const (
	RouteScheduled  RouteStatus = "Scheduled"
	RouteInProgress RouteStatus = "InProgress"
	RouteCompleted  RouteStatus = "Completed"
	RouteCancelled  RouteStatus = "Cancelled"
)

// Stop lifecycle states. Completed and Skipped are terminal.
type StopStatus string

const (
	StopPending   StopStatus = "Pending"
	StopCompleted StopStatus = "Completed"
	StopSkipped   StopStatus = "Skipped"
)

// Terminal reports whether no further transitions are allowed from s.
func (s StopStatus) Terminal() bool {
	return s == StopCompleted || s == StopSkipped
}

type StopType string

const (
	StopPickup   StopType = "Pickup"
	StopDelivery StopType = "Delivery"
)

// Stop is a single physical visit to a clinic on a route, combining one or
// more pickup tasks and/or case deliveries.
type Stop struct {
	ID               string
	Sequence         int
	ClinicID         string
	Type             StopType
	Status           StopStatus
	Coordinates      *Coordinates
	PickupTasks      []string
	DeliveryManifest []string // case ids delivered at this stop
	Proof            map[string]string
	CompletedAt      *time.Time
	SkippedAt        *time.Time
	SkipReason       string
	SkipNotes        string
	RequiresFollowUp bool
}

// Aggregate distance/duration figures for a route's current stop order.
type RouteMetrics struct {
	TotalDistanceKm      float64
	EstimatedDurationMin float64
}

// Route is a planned, ordered sequence of stops assigned to one driver for
// one date. Stops are appended only through assignment actions; sequence
// numbers stay unique and contiguous from 1.
type Route struct {
	ID       string
	LabID    string
	Name     string
	DriverID string
	Date     string // YYYY-MM-DD
	Status   RouteStatus
	Stops    []*Stop
	Metrics  RouteMetrics
}

// Stop returns the stop with the given id, or nil.
func (r *Route) Stop(stopID string) *Stop {
	for _, s := range r.Stops {
		if s.ID == stopID {
			return s
		}
	}
	return nil
}

// RecomputeStatus derives the route status from its stops: Completed iff
// every stop is terminal, InProgress once any stop has been worked,
// Scheduled otherwise.
func (r *Route) RecomputeStatus() {
	if r.Status == RouteCancelled {
		return
	}

	if len(r.Stops) == 0 {
		r.Status = RouteScheduled
		return
	}

	terminal := 0
	for _, s := range r.Stops {
		if s.Status.Terminal() {
			terminal++
		}
	}

	switch {
	case terminal == len(r.Stops):
		r.Status = RouteCompleted
	case terminal > 0:
		r.Status = RouteInProgress
	default:
		r.Status = RouteScheduled
	}
}

// Renumber rewrites stop sequence numbers as a contiguous range from 1
// following the current slice order.
func (r *Route) Renumber() {
	for i, s := range r.Stops {
		s.Sequence = i + 1
	}
}

// Clone returns a deep copy of the route, so snapshots handed to readers
// cannot alias store-owned state.
func (r *Route) Clone() *Route {
	cp := *r
	cp.Stops = make([]*Stop, len(r.Stops))
	for i, s := range r.Stops {
		cp.Stops[i] = s.Clone()
	}
	return &cp
}

// Clone returns a deep copy of the stop.
func (s *Stop) Clone() *Stop {
	cp := *s
	if s.Coordinates != nil {
		c := *s.Coordinates
		cp.Coordinates = &c
	}
	cp.PickupTasks = append([]string(nil), s.PickupTasks...)
	cp.DeliveryManifest = append([]string(nil), s.DeliveryManifest...)
	if s.Proof != nil {
		cp.Proof = make(map[string]string, len(s.Proof))
		for k, v := range s.Proof {
			cp.Proof[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	if s.SkippedAt != nil {
		t := *s.SkippedAt
		cp.SkippedAt = &t
	}
	return &cp
}
