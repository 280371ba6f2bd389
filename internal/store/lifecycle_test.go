package store

import (
	"context"
	"errors"
	"testing"

	"lab-dispatch-service/internal/domain"
)

func TestCompleteStopSetsProofAndTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "R")

	created, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c1"))

	proof := map[string]string{"signature": "sig-data", "photo": "ref-42"}
	stop, err := f.store.UpdateStopStatus(ctx, route.ID, created.ID, domain.StopCompleted, proof)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if stop.Status != domain.StopCompleted {
		t.Fatalf("status = %s, want Completed", stop.Status)
	}
	if stop.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	if stop.Proof["signature"] != "sig-data" || stop.Proof["photo"] != "ref-42" {
		t.Fatalf("proof = %v", stop.Proof)
	}
}

func TestRouteStatusTracksStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "R")

	s1, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c1"))
	s2, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c2"))

	if _, err := f.store.UpdateStopStatus(ctx, route.ID, s1.ID, domain.StopCompleted, nil); err != nil {
		t.Fatalf("complete s1: %v", err)
	}
	got, _ := f.store.Route(route.ID)
	if got.Status != domain.RouteInProgress {
		t.Fatalf("one terminal stop: route status = %s, want InProgress", got.Status)
	}

	if _, err := f.store.SkipStop(ctx, route.ID, s2.ID, "ClinicClosed", ""); err != nil {
		t.Fatalf("skip s2: %v", err)
	}
	got, _ = f.store.Route(route.ID)
	if got.Status != domain.RouteCompleted {
		t.Fatalf("all terminal stops: route status = %s, want Completed", got.Status)
	}
}

func TestTerminalStopRejectsFurtherTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "R")

	stop, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c1"))
	if _, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopSkipped, nil); !domain.IsInvalidTransition(err) {
		t.Fatalf("re-transition error = %v, want InvalidTransitionError", err)
	}
	if _, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopPending, nil); !domain.IsInvalidTransition(err) {
		t.Fatalf("revert-to-pending error = %v, want InvalidTransitionError", err)
	}
}

// Route R1 has two pending stops; S1 has no coordinates. Skipping S1 marks
// it for follow-up and leaves the route InProgress since S2 is pending.
func TestSkipStopScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "R1")

	s1Task := deliveryTask("c1")
	s1Task.Coordinates = nil
	s1, _ := f.store.AssignTask(ctx, route.ID, s1Task)
	if _, err := f.store.AssignTask(ctx, route.ID, deliveryTask("c2")); err != nil {
		t.Fatalf("assign s2: %v", err)
	}

	var skips []StopSkippedEvent
	f.bus.Subscribe(EventStopSkipped, func(p any) {
		skips = append(skips, p.(StopSkippedEvent))
	})

	stop, err := f.store.SkipStop(ctx, route.ID, s1.ID, "ClinicClosed", "retry tomorrow")
	if err != nil {
		t.Fatalf("skip: %v", err)
	}

	if stop.Status != domain.StopSkipped {
		t.Fatalf("status = %s, want Skipped", stop.Status)
	}
	if !stop.RequiresFollowUp {
		t.Fatal("RequiresFollowUp not set")
	}
	if stop.SkippedAt == nil || stop.SkipReason != "ClinicClosed" || stop.SkipNotes != "retry tomorrow" {
		t.Fatalf("skip fields = %+v", stop)
	}

	got, _ := f.store.Route(route.ID)
	if got.Status != domain.RouteInProgress {
		t.Fatalf("route status = %s, want InProgress", got.Status)
	}
	if len(skips) != 1 || skips[0].Reason != "ClinicClosed" {
		t.Fatalf("StopSkipped events = %v", skips)
	}
}

// Completing a delivery stop with manifest [C1, C2] where C1's update fails:
// the stop still completes, C2 is delivered, and C1 is queued for retry.
func TestCascadePartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "R")

	stop, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c1", "c2"))
	f.cases.FailFor["c1"] = errors.New("case service down")

	var changed []CaseStatusChangedEvent
	f.bus.Subscribe(EventCaseStatusChanged, func(p any) {
		changed = append(changed, p.(CaseStatusChangedEvent))
	})

	got, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopCompleted, nil)
	if err != nil {
		t.Fatalf("completion failed despite best-effort cascade: %v", err)
	}
	if got.Status != domain.StopCompleted {
		t.Fatalf("stop status = %s, want Completed", got.Status)
	}

	if s := f.cases.Status("c2"); s != "delivered" {
		t.Fatalf("c2 status = %q, want delivered", s)
	}
	if s := f.cases.Status("c1"); s == "delivered" {
		t.Fatal("c1 reported delivered despite failing update")
	}

	if len(changed) != 1 || changed[0].CaseID != "c2" {
		t.Fatalf("CaseStatusChanged events = %v, want one for c2", changed)
	}
	if f.store.PendingCascades() != 1 {
		t.Fatalf("pending cascades = %d, want 1", f.store.PendingCascades())
	}
}

func TestRetryFailedCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "R")

	stop, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c1"))
	f.cases.FailFor["c1"] = errors.New("case service down")

	if _, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Still failing: the entry goes back on the queue.
	recovered, remaining := f.store.RetryFailedCascades(ctx)
	if recovered != 0 || remaining != 1 {
		t.Fatalf("retry while down = (%d, %d), want (0, 1)", recovered, remaining)
	}

	// Collaborator back up: the retry drains and delivers.
	delete(f.cases.FailFor, "c1")
	recovered, remaining = f.store.RetryFailedCascades(ctx)
	if recovered != 1 || remaining != 0 {
		t.Fatalf("retry after recovery = (%d, %d), want (1, 0)", recovered, remaining)
	}
	if s := f.cases.Status("c1"); s != "delivered" {
		t.Fatalf("c1 status = %q, want delivered", s)
	}
}

func TestCascadeCarriesDeliveryMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	route := f.createRoute(t, "Morning Run")

	stop, _ := f.store.AssignTask(ctx, route.ID, deliveryTask("c1"))
	proof := map[string]string{"signature": "sig"}

	if _, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopCompleted, proof); err != nil {
		t.Fatalf("complete: %v", err)
	}

	patches := f.cases.Updates["c1"]
	// First patch is "shipped" from assignment, second is the delivery.
	if len(patches) != 2 {
		t.Fatalf("case patches = %d, want 2", len(patches))
	}
	p := patches[1]
	if p.Status != "delivered" || p.DeliveredAt == nil {
		t.Fatalf("delivery patch = %+v", p)
	}
	if p.RouteID != route.ID || p.RouteName != "Morning Run" || p.StopID != stop.ID {
		t.Fatalf("delivery metadata = %+v", p)
	}
	if p.Proof["signature"] != "sig" {
		t.Fatalf("delivery proof = %v", p.Proof)
	}
}

func TestPickupStopCompletionDoesNotCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.SeedPickup(&domain.Pickup{
		ID: "p1", LabID: "lab1", ClinicID: "clinic-2", Status: domain.PickupPending,
	})
	if err := f.store.Load(ctx, "lab1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	route := f.createRoute(t, "R")
	stop, _ := f.store.AssignTask(ctx, route.ID, Task{Type: domain.StopPickup, PickupID: "p1"})

	if _, err := f.store.UpdateStopStatus(ctx, route.ID, stop.ID, domain.StopCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(f.cases.Updates) != 0 {
		t.Fatalf("pickup completion touched cases: %v", f.cases.Updates)
	}
}
