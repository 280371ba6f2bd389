package services

import (
	"testing"

	"lab-dispatch-service/internal/domain"
)

func stopAt(id string, lat, lng float64) *domain.Stop {
	return &domain.Stop{
		ID:          id,
		Status:      domain.StopPending,
		Type:        domain.StopDelivery,
		Coordinates: &domain.Coordinates{Lat: lat, Lng: lng},
	}
}

func totalDistance(stops []*domain.Stop, start domain.Coordinates) float64 {
	current := start
	total := 0.0
	for _, s := range stops {
		if s.Coordinates == nil {
			continue
		}
		total += current.DistanceKm(*s.Coordinates)
		current = *s.Coordinates
	}
	return total
}

func TestOptimizeStopsPicksNearestNeighbor(t *testing.T) {
	start := domain.Coordinates{Lat: 33.0, Lng: -112.0}

	// B is closest to start, then C from B, then A from C.
	stops := []*domain.Stop{
		stopAt("a", 33.5, -112.0),
		stopAt("b", 33.1, -112.0),
		stopAt("c", 33.3, -112.0),
	}

	plan := OptimizeStops(stops, &start)

	want := []string{"b", "c", "a"}
	for i, id := range want {
		if plan.Stops[i].ID != id {
			t.Fatalf("stop %d = %s, want %s", i, plan.Stops[i].ID, id)
		}
		if plan.Stops[i].Sequence != i+1 {
			t.Fatalf("stop %s sequence = %d, want %d", id, plan.Stops[i].Sequence, i+1)
		}
	}

	// The input slice keeps its order; only Sequence is rewritten in place.
	for i, id := range []string{"a", "b", "c"} {
		if stops[i].ID != id {
			t.Fatalf("input slice reordered: position %d = %s, want %s", i, stops[i].ID, id)
		}
	}
	if stops[0].Sequence != 3 || stops[1].Sequence != 1 || stops[2].Sequence != 2 {
		t.Fatalf("sequences = %d,%d,%d, want 3,1,2",
			stops[0].Sequence, stops[1].Sequence, stops[2].Sequence)
	}
}

func TestOptimizeStopsNeverWorseThanInputOrder(t *testing.T) {
	start := domain.Coordinates{Lat: 33.45, Lng: -112.07}

	stops := []*domain.Stop{
		stopAt("s1", 33.52, -112.26),
		stopAt("s2", 33.30, -111.84),
		stopAt("s3", 33.61, -112.01),
		stopAt("s4", 33.38, -112.17),
		stopAt("s5", 33.49, -111.92),
	}

	before := totalDistance(stops, start)
	plan := OptimizeStops(stops, &start)
	after := totalDistance(plan.Stops, start)

	if after > before+1e-9 {
		t.Fatalf("optimized distance %.3f km > original %.3f km", after, before)
	}

	// Result must be a permutation of the input.
	if len(plan.Stops) != len(stops) {
		t.Fatalf("plan has %d stops, want %d", len(plan.Stops), len(stops))
	}
	seen := map[string]bool{}
	for _, s := range plan.Stops {
		seen[s.ID] = true
	}
	for _, s := range stops {
		if !seen[s.ID] {
			t.Fatalf("stop %s missing from optimized order", s.ID)
		}
	}
}

func TestOptimizeStopsPinsTerminalStops(t *testing.T) {
	start := domain.Coordinates{Lat: 33.0, Lng: -112.0}

	done := stopAt("done", 33.9, -112.0)
	done.Status = domain.StopCompleted
	skipped := stopAt("skipped", 33.8, -112.0)
	skipped.Status = domain.StopSkipped

	stops := []*domain.Stop{
		stopAt("far", 33.5, -112.0),
		done,
		skipped,
		stopAt("near", 33.75, -112.0),
	}

	plan := OptimizeStops(stops, &start)

	if plan.Stops[0].ID != "done" || plan.Stops[1].ID != "skipped" {
		t.Fatalf("terminal stops not pinned at head: %s, %s", plan.Stops[0].ID, plan.Stops[1].ID)
	}
	// Scan resumes from the last terminal stop, so "near" precedes "far".
	if plan.Stops[2].ID != "near" || plan.Stops[3].ID != "far" {
		t.Fatalf("pending order = %s, %s; want near, far", plan.Stops[2].ID, plan.Stops[3].ID)
	}
	for i, s := range plan.Stops {
		if s.Sequence != i+1 {
			t.Fatalf("sequence not contiguous at %d: %d", i, s.Sequence)
		}
	}
}

func TestOptimizeStopsWithoutCoordinatesGoLast(t *testing.T) {
	blind := &domain.Stop{ID: "blind", Status: domain.StopPending, Type: domain.StopPickup}
	stops := []*domain.Stop{
		blind,
		stopAt("a", 33.5, -112.0),
		stopAt("b", 33.1, -112.0),
	}

	plan := OptimizeStops(stops, &domain.Coordinates{Lat: 33.0, Lng: -112.0})

	if plan.Stops[len(plan.Stops)-1].ID != "blind" {
		t.Fatalf("coordinate-less stop not at tail: %v", plan.Stops[len(plan.Stops)-1].ID)
	}
}

func TestComputeMetrics(t *testing.T) {
	start := domain.Coordinates{Lat: 33.0, Lng: -112.0}
	stops := []*domain.Stop{
		stopAt("a", 33.1, -112.0),
		stopAt("b", 33.2, -112.0),
	}

	m := ComputeMetrics(stops, &start)
	if m.TotalDistanceKm <= 0 {
		t.Fatal("expected positive distance")
	}

	wantDuration := m.TotalDistanceKm/averageSpeedKmh*60 + serviceTimeMinutes*2
	if diff := m.EstimatedDurationMin - wantDuration; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("duration = %f, want %f", m.EstimatedDurationMin, wantDuration)
	}
}
