package services

import (
	"sort"

	"lab-dispatch-service/internal/domain"
)

// ShipmentSpec describes one delivery to be placed with a courier.
type ShipmentSpec struct {
	WeightKg              float64
	TemperatureControlled bool
	Fragile               bool
	IsRush                bool
}

// SelectProvider picks the courier for a shipment.
//
// Active providers whose capabilities satisfy the spec are ranked by
// fallback priority: ascending for rush shipments (prefer third-party
// integrations with lower priority numbers), descending otherwise (prefer
// in-house). The sort is stable, so equal priorities keep input order and
// the result is deterministic for identical inputs. When nothing survives
// filtering, the in-house provider is returned rather than nil, when one
// exists.
func SelectProvider(providers []*domain.Provider, spec ShipmentSpec) *domain.Provider {
	eligible := make([]*domain.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Status != domain.ProviderActive {
			continue
		}
		if spec.WeightKg > p.Capabilities.MaxWeightKg {
			continue
		}
		if spec.TemperatureControlled && !p.Capabilities.TemperatureControl {
			continue
		}
		if spec.Fragile && !p.Capabilities.FragileHandling {
			continue
		}
		eligible = append(eligible, p)
	}

	if len(eligible) == 0 {
		return inHouseFallback(providers)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if spec.IsRush {
			return eligible[i].Integration.FallbackPriority < eligible[j].Integration.FallbackPriority
		}
		return eligible[i].Integration.FallbackPriority > eligible[j].Integration.FallbackPriority
	})

	return eligible[0]
}

func inHouseFallback(providers []*domain.Provider) *domain.Provider {
	var inactive *domain.Provider
	for _, p := range providers {
		if p.Type != domain.ProviderInHouse {
			continue
		}
		if p.Status == domain.ProviderActive {
			return p
		}
		if inactive == nil {
			inactive = p
		}
	}
	return inactive
}
