// Package persistence provides the persistence-API adapters: an in-memory
// backend used for the mocked mode and as the test collaborator, and a
// postgres backend.
package persistence

import (
	"context"
	"sync"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/ports"
)

// Memory is the in-memory persistence API. Filter semantics match the
// external API: exact match on scalar fields, inclusion when the filter
// value is a []string. A FailWith hook lets tests inject per-operation
// errors.
type Memory struct {
	mu        sync.Mutex
	routes    map[string]*domain.Route
	pickups   map[string]*domain.Pickup
	vehicles  map[string]*domain.Vehicle
	providers map[string]*domain.Provider

	// FailWith, when non-nil, is consulted before every operation with
	// names like "routes.update"; a non-nil return aborts the call.
	FailWith func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		routes:    make(map[string]*domain.Route),
		pickups:   make(map[string]*domain.Pickup),
		vehicles:  make(map[string]*domain.Vehicle),
		providers: make(map[string]*domain.Provider),
	}
}

func (m *Memory) fail(op string) error {
	if m.FailWith == nil {
		return nil
	}
	return m.FailWith(op)
}

// Routes returns the route-entity store.
func (m *Memory) Routes() ports.RouteStore { return &memoryRoutes{m} }

// Pickups returns the pickup-entity store.
func (m *Memory) Pickups() ports.PickupStore { return &memoryPickups{m} }

// Vehicles returns the vehicle-entity store.
func (m *Memory) Vehicles() ports.VehicleStore { return &memoryVehicles{m} }

// Providers returns the provider-entity store.
func (m *Memory) Providers() ports.ProviderStore { return &memoryProviders{m} }

// SeedPickup inserts a pickup directly, bypassing the API surface.
func (m *Memory) SeedPickup(p *domain.Pickup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pickups[p.ID] = p.Clone()
}

// SeedVehicle inserts a vehicle directly.
func (m *Memory) SeedVehicle(v *domain.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vehicles[v.ID] = &cp
}

// SeedProvider inserts a provider directly.
func (m *Memory) SeedProvider(p *domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.providers[p.ID] = &cp
}

type memoryRoutes struct{ m *Memory }

func routeMatches(r *domain.Route, f ports.Filters) bool {
	for key, want := range f {
		var got string
		switch key {
		case "id":
			got = r.ID
		case "lab_id":
			got = r.LabID
		case "status":
			got = string(r.Status)
		case "driver_id":
			got = r.DriverID
		case "date":
			got = r.Date
		default:
			return false
		}
		if !ports.Matches(want, got) {
			return false
		}
	}
	return true
}

func (s *memoryRoutes) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Route, error) {
	if err := s.m.fail("routes.get_all"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	out := make([]*domain.Route, 0)
	for _, r := range s.m.routes {
		if routeMatches(r, f) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *memoryRoutes) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	if err := s.m.fail("routes.get_by_id"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	r, ok := s.m.routes[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "route", ID: id}
	}
	return r.Clone(), nil
}

func (s *memoryRoutes) Create(ctx context.Context, r *domain.Route) (*domain.Route, error) {
	if err := s.m.fail("routes.create"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	s.m.routes[r.ID] = r.Clone()
	return r.Clone(), nil
}

func (s *memoryRoutes) Update(ctx context.Context, r *domain.Route) (*domain.Route, error) {
	if err := s.m.fail("routes.update"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.routes[r.ID]; !ok {
		return nil, &domain.NotFoundError{Kind: "route", ID: r.ID}
	}
	s.m.routes[r.ID] = r.Clone()
	return r.Clone(), nil
}

func (s *memoryRoutes) Delete(ctx context.Context, id string) error {
	if err := s.m.fail("routes.delete"); err != nil {
		return err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.routes, id)
	return nil
}

type memoryPickups struct{ m *Memory }

func pickupMatches(p *domain.Pickup, f ports.Filters) bool {
	for key, want := range f {
		var got string
		switch key {
		case "id":
			got = p.ID
		case "lab_id":
			got = p.LabID
		case "status":
			got = string(p.Status)
		case "clinic_id":
			got = p.ClinicID
		default:
			return false
		}
		if !ports.Matches(want, got) {
			return false
		}
	}
	return true
}

func (s *memoryPickups) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Pickup, error) {
	if err := s.m.fail("pickups.get_all"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	out := make([]*domain.Pickup, 0)
	for _, p := range s.m.pickups {
		if pickupMatches(p, f) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memoryPickups) GetByID(ctx context.Context, id string) (*domain.Pickup, error) {
	if err := s.m.fail("pickups.get_by_id"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	p, ok := s.m.pickups[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "pickup", ID: id}
	}
	return p.Clone(), nil
}

func (s *memoryPickups) Create(ctx context.Context, p *domain.Pickup) (*domain.Pickup, error) {
	if err := s.m.fail("pickups.create"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.pickups[p.ID] = p.Clone()
	return p.Clone(), nil
}

func (s *memoryPickups) Update(ctx context.Context, p *domain.Pickup) (*domain.Pickup, error) {
	if err := s.m.fail("pickups.update"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.pickups[p.ID]; !ok {
		return nil, &domain.NotFoundError{Kind: "pickup", ID: p.ID}
	}
	s.m.pickups[p.ID] = p.Clone()
	return p.Clone(), nil
}

func (s *memoryPickups) Delete(ctx context.Context, id string) error {
	if err := s.m.fail("pickups.delete"); err != nil {
		return err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.pickups, id)
	return nil
}

type memoryVehicles struct{ m *Memory }

func (s *memoryVehicles) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Vehicle, error) {
	if err := s.m.fail("vehicles.get_all"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	out := make([]*domain.Vehicle, 0)
	for _, v := range s.m.vehicles {
		match := true
		for key, want := range f {
			var got string
			switch key {
			case "lab_id":
				got = v.LabID
			case "status":
				got = string(v.Status)
			default:
				match = false
			}
			if !match || !ports.Matches(want, got) {
				match = false
				break
			}
		}
		if match {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memoryProviders struct{ m *Memory }

func (s *memoryProviders) GetAll(ctx context.Context, f ports.Filters) ([]*domain.Provider, error) {
	if err := s.m.fail("providers.get_all"); err != nil {
		return nil, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	out := make([]*domain.Provider, 0)
	for _, p := range s.m.providers {
		match := true
		for key, want := range f {
			var got string
			switch key {
			case "type":
				got = string(p.Type)
			case "status":
				got = string(p.Status)
			default:
				match = false
			}
			if !match || !ports.Matches(want, got) {
				match = false
				break
			}
		}
		if match {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryCases is the in-memory case-status collaborator. FailFor lists
// case ids whose updates should fail, for cascade tests.
type MemoryCases struct {
	mu      sync.Mutex
	Updates map[string][]ports.CasePatch
	FailFor map[string]error
}

func NewMemoryCases() *MemoryCases {
	return &MemoryCases{
		Updates: make(map[string][]ports.CasePatch),
		FailFor: make(map[string]error),
	}
}

func (c *MemoryCases) Update(ctx context.Context, caseID string, patch ports.CasePatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.FailFor[caseID]; ok {
		return err
	}
	c.Updates[caseID] = append(c.Updates[caseID], patch)
	return nil
}

// Status returns the latest status recorded for a case, or "".
func (c *MemoryCases) Status(caseID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	patches := c.Updates[caseID]
	if len(patches) == 0 {
		return ""
	}
	return patches[len(patches)-1].Status
}
