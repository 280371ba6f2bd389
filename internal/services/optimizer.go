package services

import (
	"math"

	"lab-dispatch-service/internal/domain"
)

// Routing constants used for duration estimates.
const (
	averageSpeedKmh    = 40.0
	serviceTimeMinutes = 5.0
)

// DepotFallback is the start position used when neither an explicit start
// nor a first stop with coordinates exists.
var DepotFallback = domain.Coordinates{Lat: 33.4484, Lng: -112.074}

// OptimizedPlan is the result of reordering a stop list.
type OptimizedPlan struct {
	Stops   []*domain.Stop
	Metrics domain.RouteMetrics
}

// OptimizeStops reorders stops using a greedy nearest-neighbor heuristic.
//
// From the current position the closest unvisited stop (great-circle
// distance) is chosen next; ties keep the earliest input position, since
// selection is a strict-less-than linear scan. The algorithm minimizes the
// immediate leg at each step and does not attempt global optimization.
//
// Terminal stops (already visited in the field) are pinned at the head in
// their existing order and excluded from the candidate set; the scan
// starts from the last terminal stop's coordinates when present. Stops
// without coordinates are appended at the tail in input order and
// contribute zero-length legs.
//
// The input slice keeps its original order; the returned slice holds the
// same stop pointers in the new order, with their Sequence fields
// renumbered in place from 1. Callers wanting untouched stops must pass
// clones.
func OptimizeStops(stops []*domain.Stop, start *domain.Coordinates) OptimizedPlan {
	pinned := make([]*domain.Stop, 0, len(stops))
	candidates := make([]*domain.Stop, 0, len(stops))
	tail := make([]*domain.Stop, 0)

	for _, s := range stops {
		switch {
		case s.Status.Terminal():
			pinned = append(pinned, s)
		case s.Coordinates == nil:
			tail = append(tail, s)
		default:
			candidates = append(candidates, s)
		}
	}

	current := startPosition(stops, start)
	for i := len(pinned) - 1; i >= 0; i-- {
		if pinned[i].Coordinates != nil {
			current = *pinned[i].Coordinates
			break
		}
	}

	ordered := append([]*domain.Stop(nil), pinned...)

	remaining := append([]*domain.Stop(nil), candidates...)
	for len(remaining) > 0 {
		best := 0
		minDist := math.MaxFloat64

		// Greedy step: first strictly-closer match wins.
		for i, s := range remaining {
			if d := current.DistanceKm(*s.Coordinates); d < minDist {
				minDist = d
				best = i
			}
		}

		next := remaining[best]
		ordered = append(ordered, next)
		current = *next.Coordinates
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	ordered = append(ordered, tail...)
	for i, s := range ordered {
		s.Sequence = i + 1
	}

	return OptimizedPlan{
		Stops:   ordered,
		Metrics: ComputeMetrics(ordered, start),
	}
}

// ComputeMetrics sums consecutive leg distances from the start position
// through every coordinate-bearing stop, and derives an estimated duration
// from total distance at a fixed average speed plus a fixed per-stop
// service time.
func ComputeMetrics(stops []*domain.Stop, start *domain.Coordinates) domain.RouteMetrics {
	current := startPosition(stops, start)

	totalKm := 0.0
	for _, s := range stops {
		if s.Coordinates == nil {
			continue
		}
		totalKm += current.DistanceKm(*s.Coordinates)
		current = *s.Coordinates
	}

	return domain.RouteMetrics{
		TotalDistanceKm:      totalKm,
		EstimatedDurationMin: totalKm/averageSpeedKmh*60 + serviceTimeMinutes*float64(len(stops)),
	}
}

// startPosition resolves the optimization origin: explicit start, else the
// first stop with coordinates, else the depot.
func startPosition(stops []*domain.Stop, start *domain.Coordinates) domain.Coordinates {
	if start != nil {
		return *start
	}
	for _, s := range stops {
		if s.Coordinates != nil {
			return *s.Coordinates
		}
	}
	return DepotFallback
}
