// Package store holds the authoritative in-memory projection of routes,
// pickups, vehicles and providers for one portal instance. All mutation
// goes through the action methods here and in lifecycle.go: each action
// persists to the external API first and commits locally only on success,
// so a failed write never leaves speculative local state behind.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/platform/bus"
	"lab-dispatch-service/internal/platform/cache"
	"lab-dispatch-service/internal/platform/obs"
	"lab-dispatch-service/internal/ports"
	"lab-dispatch-service/internal/services"
)

// Persistence groups the external API boundaries the store writes through.
type Persistence struct {
	Routes    ports.RouteStore
	Pickups   ports.PickupStore
	Vehicles  ports.VehicleStore
	Providers ports.ProviderStore
}

// Store is the dispatch state store. Actions serialize on one mutex;
// interleaving between independently-triggered actions is only possible
// across the persistence suspension points, and the Deduper collapses
// concurrent calls sharing a logical key.
type Store struct {
	mu        sync.Mutex
	routes    map[string]*domain.Route
	pickups   map[string]*domain.Pickup
	vehicles  map[string]*domain.Vehicle
	providers map[string]*domain.Provider

	version atomic.Uint64

	persistence Persistence
	cases       ports.CaseUpdater
	bus         *bus.Bus
	dedupe      *cache.Deduper
	log         zerolog.Logger

	retryMu sync.Mutex
	retries []cascadeRetry

	newID func() string
	now   func() time.Time
}

func New(p Persistence, cases ports.CaseUpdater, b *bus.Bus, log zerolog.Logger) *Store {
	return &Store{
		routes:      make(map[string]*domain.Route),
		pickups:     make(map[string]*domain.Pickup),
		vehicles:    make(map[string]*domain.Vehicle),
		providers:   make(map[string]*domain.Provider),
		persistence: p,
		cases:       cases,
		bus:         b,
		dedupe:      cache.NewDeduper(),
		log:         log.With().Str("component", "store").Logger(),
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// Version increases on every committed mutation. Derived views memoize
// against it.
func (s *Store) Version() uint64 { return s.version.Load() }

func (s *Store) commit() { s.version.Inc() }

// Load performs the bulk initial load for one tenant. Concurrent calls for
// the same lab collapse into a single round of persistence reads.
func (s *Store) Load(ctx context.Context, labID string) (err error) {
	defer obs.Time(ctx, s.log, "store.load")(&err)

	_, err = s.dedupe.Do(ctx, "load-"+labID, func(ctx context.Context) (any, error) {
		f := ports.Filters{"lab_id": labID}

		routes, err := s.persistence.Routes.GetAll(ctx, f)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "load routes", Err: err}
		}
		pickups, err := s.persistence.Pickups.GetAll(ctx, f)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "load pickups", Err: err}
		}
		vehicles, err := s.persistence.Vehicles.GetAll(ctx, f)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "load vehicles", Err: err}
		}
		providers, err := s.persistence.Providers.GetAll(ctx, ports.Filters{})
		if err != nil {
			return nil, &domain.PersistenceError{Op: "load providers", Err: err}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, r := range routes {
			s.routes[r.ID] = r
		}
		for _, p := range pickups {
			s.pickups[p.ID] = p
		}
		for _, v := range vehicles {
			s.vehicles[v.ID] = v
		}
		for _, p := range providers {
			s.providers[p.ID] = p
		}
		s.commit()

		s.log.Info().Str("lab_id", labID).
			Int("routes", len(routes)).Int("pickups", len(pickups)).
			Msg("initial load complete")
		return nil, nil
	})
	return err
}

// RouteDraft carries the caller-supplied fields for a new route.
type RouteDraft struct {
	LabID    string
	Name     string
	DriverID string
	Date     string
}

// CreateRoute creates a Scheduled route with no stops. Concurrent creates
// for the same (lab, name, date) collapse into one.
func (s *Store) CreateRoute(ctx context.Context, draft RouteDraft) (*domain.Route, error) {
	key := fmt.Sprintf("create-route-%s-%s-%s", draft.LabID, draft.Name, draft.Date)

	v, err := s.dedupe.Do(ctx, key, func(ctx context.Context) (any, error) {
		route := &domain.Route{
			ID:       s.newID(),
			LabID:    draft.LabID,
			Name:     draft.Name,
			DriverID: draft.DriverID,
			Date:     draft.Date,
			Status:   domain.RouteScheduled,
			Stops:    []*domain.Stop{},
		}

		created, err := s.persistence.Routes.Create(ctx, route)
		if err != nil {
			s.log.Error().Err(err).Str("route_name", draft.Name).Msg("create route failed")
			return nil, &domain.PersistenceError{Op: "create route", Err: err}
		}

		s.mu.Lock()
		s.routes[created.ID] = created
		s.commit()
		s.mu.Unlock()

		s.bus.Publish(EventRouteCreated, RouteCreatedEvent{
			Timestamp: s.now(),
			RouteID:   created.ID,
			LabID:     created.LabID,
			Name:      created.Name,
		})
		return created.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Route), nil
}

// Task describes one pickup or delivery to turn into a route stop.
type Task struct {
	Type        domain.StopType
	PickupID    string // required for Pickup tasks
	ClinicID    string
	Coordinates *domain.Coordinates
	CaseIDs     []string // delivery manifest for Delivery tasks
}

func (t Task) key() string {
	if t.Type == domain.StopPickup {
		return "pickup-" + t.PickupID
	}
	return "delivery-" + strings.Join(t.CaseIDs, ",")
}

// AssignTask appends a stop built from task to the route. Pickup tasks
// mark the pickup Assigned; Delivery tasks move the manifest cases from
// "shipping" to "shipped".
func (s *Store) AssignTask(ctx context.Context, routeID string, task Task) (*domain.Stop, error) {
	key := fmt.Sprintf("assign-%s-%s", routeID, task.key())

	v, err := s.dedupe.Do(ctx, key, func(ctx context.Context) (any, error) {
		return s.assignTask(ctx, routeID, task)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Stop), nil
}

func (s *Store) assignTask(ctx context.Context, routeID string, task Task) (*domain.Stop, error) {
	s.mu.Lock()

	route, ok := s.routes[routeID]
	if !ok {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "route", ID: routeID}
	}

	stop := &domain.Stop{
		ID:          s.newID(),
		Sequence:    len(route.Stops) + 1,
		ClinicID:    task.ClinicID,
		Type:        task.Type,
		Status:      domain.StopPending,
		Coordinates: task.Coordinates,
	}

	var pickup *domain.Pickup
	if task.Type == domain.StopPickup {
		p, ok := s.pickups[task.PickupID]
		if !ok {
			s.mu.Unlock()
			return nil, &domain.NotFoundError{Kind: "pickup", ID: task.PickupID}
		}
		if p.Status != domain.PickupPending {
			s.mu.Unlock()
			return nil, fmt.Errorf("assign task: pickup %q already %s", p.ID, p.Status)
		}

		pickup = p.Clone()
		pickup.Status = domain.PickupAssigned
		stop.PickupTasks = []string{pickup.ID}
		if stop.ClinicID == "" {
			stop.ClinicID = pickup.ClinicID
		}
		if stop.Coordinates == nil {
			stop.Coordinates = pickup.Coordinates
		}
	} else {
		stop.DeliveryManifest = append([]string(nil), task.CaseIDs...)
	}

	next := route.Clone()
	next.Stops = append(next.Stops, stop)
	next.RecomputeStatus()

	if _, err := s.persistence.Routes.Update(ctx, next); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("route_id", routeID).Msg("assign task failed")
		return nil, &domain.PersistenceError{Op: "assign task", Err: err}
	}
	if pickup != nil {
		if _, err := s.persistence.Pickups.Update(ctx, pickup); err != nil {
			s.mu.Unlock()
			s.log.Error().Err(err).Str("pickup_id", pickup.ID).Msg("assign pickup failed")
			return nil, &domain.PersistenceError{Op: "assign pickup", Err: err}
		}
		s.pickups[pickup.ID] = pickup
	}

	s.routes[routeID] = next
	s.commit()
	s.mu.Unlock()

	// Side effects run unlocked so subscribers can read the store back.
	if task.Type == domain.StopDelivery {
		// Cases leave the lab when they land on a route.
		for _, caseID := range task.CaseIDs {
			if err := s.cases.Update(ctx, caseID, ports.CasePatch{Status: "shipped"}); err != nil {
				s.log.Warn().Err(err).Str("case_id", caseID).Msg("mark shipped failed")
				continue
			}
			s.bus.Publish(EventCaseStatusChanged, CaseStatusChangedEvent{
				Timestamp: s.now(),
				CaseID:    caseID,
				Status:    "shipped",
				RouteID:   routeID,
				StopID:    stop.ID,
			})
		}
	}

	s.bus.Publish(EventStopAssigned, StopAssignedEvent{
		Timestamp: s.now(),
		RouteID:   routeID,
		StopID:    stop.ID,
		ClinicID:  stop.ClinicID,
		StopType:  stop.Type,
		PickupID:  task.PickupID,
	})

	return stop.Clone(), nil
}

// BatchResult reports a bulk assignment. One bad task never rejects the
// whole batch.
type BatchResult struct {
	Succeeded []*domain.Stop
	Failed    []Task
	Errors    []error
}

// AssignTasks assigns each task independently and aggregates outcomes.
func (s *Store) AssignTasks(ctx context.Context, routeID string, tasks []Task) BatchResult {
	var res BatchResult
	for _, task := range tasks {
		stop, err := s.AssignTask(ctx, routeID, task)
		if err != nil {
			res.Failed = append(res.Failed, task)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, stop)
	}
	return res
}

// ReorderStops moves the stop at fromIndex to toIndex. Touching a terminal
// stop at either end is a documented no-op, not an error.
func (s *Store) ReorderStops(ctx context.Context, routeID string, fromIndex, toIndex int) error {
	s.mu.Lock()

	route, ok := s.routes[routeID]
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "route", ID: routeID}
	}
	n := len(route.Stops)
	if fromIndex < 0 || fromIndex >= n || toIndex < 0 || toIndex >= n {
		s.mu.Unlock()
		return fmt.Errorf("reorder stops: index out of range (from=%d to=%d len=%d)", fromIndex, toIndex, n)
	}
	if route.Stops[fromIndex].Status.Terminal() || route.Stops[toIndex].Status.Terminal() {
		s.mu.Unlock()
		s.log.Debug().Str("route_id", routeID).Msg("reorder touching terminal stop ignored")
		return nil
	}

	next := route.Clone()
	moved := next.Stops[fromIndex]
	next.Stops = append(next.Stops[:fromIndex], next.Stops[fromIndex+1:]...)

	rest := append([]*domain.Stop(nil), next.Stops[toIndex:]...)
	next.Stops = append(next.Stops[:toIndex], moved)
	next.Stops = append(next.Stops, rest...)
	next.Renumber()

	if _, err := s.persistence.Routes.Update(ctx, next); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("route_id", routeID).Msg("reorder stops failed")
		return &domain.PersistenceError{Op: "reorder stops", Err: err}
	}

	s.routes[routeID] = next
	s.commit()
	s.mu.Unlock()

	s.bus.Publish(EventStopUpdated, StopUpdatedEvent{
		Timestamp:   s.now(),
		RouteID:     routeID,
		StopID:      moved.ID,
		Status:      moved.Status,
		RouteStatus: next.Status,
	})
	return nil
}

// MoveStop transfers a stop to another route, appending it at the end.
// Terminal stops cannot move.
func (s *Store) MoveStop(ctx context.Context, fromRouteID, toRouteID, stopID string) error {
	s.mu.Lock()

	from, ok := s.routes[fromRouteID]
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "route", ID: fromRouteID}
	}
	to, ok := s.routes[toRouteID]
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "route", ID: toRouteID}
	}

	idx := -1
	for i, st := range from.Stops {
		if st.ID == stopID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "stop", ID: stopID}
	}
	if from.Stops[idx].Status.Terminal() {
		s.mu.Unlock()
		return &domain.InvalidTransitionError{StopID: stopID, From: from.Stops[idx].Status}
	}

	nextFrom := from.Clone()
	moved := nextFrom.Stops[idx]
	nextFrom.Stops = append(nextFrom.Stops[:idx], nextFrom.Stops[idx+1:]...)
	nextFrom.Renumber()
	nextFrom.RecomputeStatus()

	nextTo := to.Clone()
	nextTo.Stops = append(nextTo.Stops, moved)
	nextTo.Renumber()
	nextTo.RecomputeStatus()

	// Destination first so a mid-move failure can never lose the stop
	// remotely. If the source update then fails, the remote API briefly
	// holds the stop on both routes while local state stays untouched;
	// the duplicate clears on the next successful source write.
	if _, err := s.persistence.Routes.Update(ctx, nextTo); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("route_id", toRouteID).Msg("move stop failed")
		return &domain.PersistenceError{Op: "move stop (destination)", Err: err}
	}
	if _, err := s.persistence.Routes.Update(ctx, nextFrom); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("route_id", fromRouteID).Msg("move stop failed")
		return &domain.PersistenceError{Op: "move stop (source)", Err: err}
	}

	s.routes[fromRouteID] = nextFrom
	s.routes[toRouteID] = nextTo
	s.commit()
	s.mu.Unlock()

	s.bus.Publish(EventStopUpdated, StopUpdatedEvent{
		Timestamp:   s.now(),
		RouteID:     toRouteID,
		FromRouteID: fromRouteID,
		StopID:      stopID,
		Status:      moved.Status,
		RouteStatus: nextTo.Status,
	})
	return nil
}

// OptimizeResult reports the metric change from a route optimization.
type OptimizeResult struct {
	Before      domain.RouteMetrics
	After       domain.RouteMetrics
	Improvement struct {
		DistanceSavedKm float64
		TimeSavedMin    float64
	}
}

// OptimizeRoute reorders the route's pending stops with the
// nearest-neighbor heuristic and persists the new order and metrics.
// Routes with fewer than two stops are left untouched and return nil.
func (s *Store) OptimizeRoute(ctx context.Context, routeID string) (res *OptimizeResult, err error) {
	defer obs.Time(ctx, s.log, "store.optimize_route")(&err)

	s.mu.Lock()

	route, ok := s.routes[routeID]
	if !ok {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "route", ID: routeID}
	}
	if len(route.Stops) <= 1 {
		s.mu.Unlock()
		return nil, nil
	}

	before := services.ComputeMetrics(route.Stops, nil)

	next := route.Clone()
	plan := services.OptimizeStops(next.Stops, nil)
	next.Stops = plan.Stops
	next.Metrics = plan.Metrics

	if _, err := s.persistence.Routes.Update(ctx, next); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("route_id", routeID).Msg("optimize route failed")
		return nil, &domain.PersistenceError{Op: "optimize route", Err: err}
	}

	s.routes[routeID] = next
	s.commit()
	s.mu.Unlock()

	res = &OptimizeResult{Before: before, After: plan.Metrics}
	res.Improvement.DistanceSavedKm = before.TotalDistanceKm - plan.Metrics.TotalDistanceKm
	res.Improvement.TimeSavedMin = before.EstimatedDurationMin - plan.Metrics.EstimatedDurationMin

	s.bus.Publish(EventRouteOptimized, RouteOptimizedEvent{
		Timestamp: s.now(),
		RouteID:   routeID,
		Before:    before,
		After:     plan.Metrics,
	})
	return res, nil
}

// Route returns a copy of one route.
func (s *Store) Route(routeID string) (*domain.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	route, ok := s.routes[routeID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "route", ID: routeID}
	}
	return route.Clone(), nil
}

// Routes returns a snapshot copy of every loaded route.
func (s *Store) Routes() []*domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r.Clone())
	}
	return out
}

// Pickups returns a snapshot copy of every loaded pickup.
func (s *Store) Pickups() []*domain.Pickup {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Pickup, 0, len(s.pickups))
	for _, p := range s.pickups {
		out = append(out, p.Clone())
	}
	return out
}

// Providers returns a snapshot of loaded providers.
func (s *Store) Providers() []*domain.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Vehicles returns a snapshot of loaded vehicles.
func (s *Store) Vehicles() []*domain.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		cp := *v
		out = append(out, &cp)
	}
	return out
}
