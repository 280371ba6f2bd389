package ports

import (
	"context"
	"time"
)

// Partial update applied to a lab case by the case-status collaborator.
type CasePatch struct {
	Status      string
	DeliveredAt *time.Time
	RouteID     string
	RouteName   string
	StopID      string
	Proof       map[string]string
}

// Port: boundary to the case-tracking system. Used to mark cases shipped
// when assigned to a delivery stop and delivered when the stop completes.
type CaseUpdater interface {
	Update(ctx context.Context, caseID string, patch CasePatch) error
}
