package ports

import (
	"context"

	"lab-dispatch-service/internal/domain"
)

// Filters select entities by exact field match. When a filter value is a
// []string the match is inclusion (entity value must be one of them).
// Recognized keys are adapter-specific; unknown keys match nothing.
type Filters map[string]any

// Matches reports whether got satisfies the filter value want.
func Matches(want any, got string) bool {
	switch w := want.(type) {
	case string:
		return w == got
	case []string:
		for _, v := range w {
			if v == got {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Port: boundary to the external persistence API for routes. Every store
// mutation round-trips through here before being committed locally.
type RouteStore interface {
	GetAll(ctx context.Context, f Filters) ([]*domain.Route, error)
	GetByID(ctx context.Context, id string) (*domain.Route, error)
	Create(ctx context.Context, r *domain.Route) (*domain.Route, error)
	Update(ctx context.Context, r *domain.Route) (*domain.Route, error)
	Delete(ctx context.Context, id string) error
}

type PickupStore interface {
	GetAll(ctx context.Context, f Filters) ([]*domain.Pickup, error)
	GetByID(ctx context.Context, id string) (*domain.Pickup, error)
	Create(ctx context.Context, p *domain.Pickup) (*domain.Pickup, error)
	Update(ctx context.Context, p *domain.Pickup) (*domain.Pickup, error)
	Delete(ctx context.Context, id string) error
}

type VehicleStore interface {
	GetAll(ctx context.Context, f Filters) ([]*domain.Vehicle, error)
}

type ProviderStore interface {
	GetAll(ctx context.Context, f Filters) ([]*domain.Provider, error)
}
