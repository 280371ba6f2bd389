package persistence

import (
	"context"
	"errors"
	"testing"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/ports"
)

func TestMemoryRoutesFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	routes := []*domain.Route{
		{ID: "r1", LabID: "lab1", Status: domain.RouteScheduled, Date: "2026-08-20"},
		{ID: "r2", LabID: "lab1", Status: domain.RouteCompleted, Date: "2026-08-21"},
		{ID: "r3", LabID: "lab2", Status: domain.RouteScheduled, Date: "2026-08-20"},
	}
	for _, r := range routes {
		if _, err := m.Routes().Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := m.Routes().GetAll(ctx, ports.Filters{"lab_id": "lab1"})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("lab filter returned %d routes, want 2", len(got))
	}

	// Array-valued filters match by inclusion.
	got, err = m.Routes().GetAll(ctx, ports.Filters{
		"status": []string{"Scheduled", "InProgress"},
	})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("status inclusion filter returned %d routes, want 2", len(got))
	}

	got, err = m.Routes().GetAll(ctx, ports.Filters{"lab_id": "lab1", "date": "2026-08-20"})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("combined filter = %v, want [r1]", got)
	}
}

func TestMemoryRoutesNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Routes().GetByID(ctx, "missing"); !domain.IsNotFound(err) {
		t.Fatalf("GetByID error = %v, want NotFoundError", err)
	}
	if _, err := m.Routes().Update(ctx, &domain.Route{ID: "missing"}); !domain.IsNotFound(err) {
		t.Fatalf("Update error = %v, want NotFoundError", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	route := &domain.Route{ID: "r1", LabID: "lab1", Status: domain.RouteScheduled,
		Stops: []*domain.Stop{{ID: "s1", Status: domain.StopPending}}}
	if _, err := m.Routes().Create(ctx, route); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := m.Routes().GetByID(ctx, "r1")
	got.Stops[0].Status = domain.StopCompleted

	again, _ := m.Routes().GetByID(ctx, "r1")
	if again.Stops[0].Status != domain.StopPending {
		t.Fatal("mutation of a returned route leaked into the backend")
	}
}

func TestMemoryFailWith(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("backend down")
	m.FailWith = func(op string) error {
		if op == "routes.update" {
			return boom
		}
		return nil
	}

	if _, err := m.Routes().Create(ctx, &domain.Route{ID: "r1"}); err != nil {
		t.Fatalf("create should pass: %v", err)
	}
	if _, err := m.Routes().Update(ctx, &domain.Route{ID: "r1"}); !errors.Is(err, boom) {
		t.Fatalf("update error = %v, want injected failure", err)
	}
}

func TestMemoryCasesRecordsAndFails(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCases()
	c.FailFor["c1"] = errors.New("case service down")

	if err := c.Update(ctx, "c1", ports.CasePatch{Status: "delivered"}); err == nil {
		t.Fatal("expected failure for c1")
	}
	if err := c.Update(ctx, "c2", ports.CasePatch{Status: "delivered"}); err != nil {
		t.Fatalf("c2 update: %v", err)
	}
	if got := c.Status("c2"); got != "delivered" {
		t.Fatalf("c2 status = %q, want delivered", got)
	}
	if got := c.Status("c1"); got != "" {
		t.Fatalf("c1 status = %q, want empty", got)
	}
}
