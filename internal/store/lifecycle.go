package store

import (
	"context"
	"fmt"
	"time"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/ports"
)

// Stop status state machine: Pending -> Completed or Pending -> Skipped,
// both terminal. Everything else is rejected.

// UpdateStopStatus transitions a stop, merges proof data, recomputes the
// route status and persists the result. Completing a Delivery stop
// cascades a best-effort "delivered" update to every case in the
// manifest; per-case failures are logged and queued for retry, and never
// fail the enclosing call. Concurrent identical updates collapse into one.
func (s *Store) UpdateStopStatus(
	ctx context.Context,
	routeID, stopID string,
	newStatus domain.StopStatus,
	proof map[string]string,
) (*domain.Stop, error) {
	key := fmt.Sprintf("update-stop-%s-%s-%s", routeID, stopID, newStatus)

	v, err := s.dedupe.Do(ctx, key, func(ctx context.Context) (any, error) {
		return s.transitionStop(ctx, routeID, stopID, newStatus, func(stop *domain.Stop) {
			if newStatus == domain.StopCompleted {
				t := s.now()
				stop.CompletedAt = &t
			}
			if len(proof) > 0 {
				if stop.Proof == nil {
					stop.Proof = make(map[string]string, len(proof))
				}
				for k, val := range proof {
					stop.Proof[k] = val
				}
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Stop), nil
}

// SkipStop marks a stop Skipped with the dispatcher-facing reason and
// flags it for follow-up. The route status recomputes exactly as for
// completion.
func (s *Store) SkipStop(ctx context.Context, routeID, stopID, reason, notes string) (*domain.Stop, error) {
	key := fmt.Sprintf("update-stop-%s-%s-%s", routeID, stopID, domain.StopSkipped)

	v, err := s.dedupe.Do(ctx, key, func(ctx context.Context) (any, error) {
		return s.transitionStop(ctx, routeID, stopID, domain.StopSkipped, func(stop *domain.Stop) {
			t := s.now()
			stop.SkippedAt = &t
			stop.SkipReason = reason
			stop.SkipNotes = notes
			stop.RequiresFollowUp = true
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Stop), nil
}

func (s *Store) transitionStop(
	ctx context.Context,
	routeID, stopID string,
	newStatus domain.StopStatus,
	apply func(stop *domain.Stop),
) (*domain.Stop, error) {
	s.mu.Lock()

	route, ok := s.routes[routeID]
	if !ok {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "route", ID: routeID}
	}
	current := route.Stop(stopID)
	if current == nil {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "stop", ID: stopID}
	}
	if current.Status.Terminal() || !newStatus.Terminal() {
		s.mu.Unlock()
		return nil, &domain.InvalidTransitionError{StopID: stopID, From: current.Status, To: newStatus}
	}

	next := route.Clone()
	stop := next.Stop(stopID)
	stop.Status = newStatus
	apply(stop)
	next.RecomputeStatus()

	if _, err := s.persistence.Routes.Update(ctx, next); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("route_id", routeID).Str("stop_id", stopID).Msg("stop transition failed")
		return nil, &domain.PersistenceError{Op: "update stop status", Err: err}
	}

	s.routes[routeID] = next
	s.commit()
	s.mu.Unlock()

	s.bus.Publish(EventStopUpdated, StopUpdatedEvent{
		Timestamp:   s.now(),
		RouteID:     routeID,
		StopID:      stopID,
		Status:      newStatus,
		RouteStatus: next.Status,
	})

	switch newStatus {
	case domain.StopCompleted:
		s.bus.Publish(EventStopCompleted, StopCompletedEvent{
			Timestamp: s.now(),
			RouteID:   routeID,
			StopID:    stopID,
			ClinicID:  stop.ClinicID,
		})
		if stop.Type == domain.StopDelivery {
			s.cascadeDelivered(ctx, next, stop)
		}
	case domain.StopSkipped:
		s.bus.Publish(EventStopSkipped, StopSkippedEvent{
			Timestamp: s.now(),
			RouteID:   routeID,
			StopID:    stopID,
			ClinicID:  stop.ClinicID,
			Reason:    stop.SkipReason,
		})
		// Dispatcher follow-up is a notification side effect only.
		s.log.Info().
			Str("route_id", routeID).Str("stop_id", stopID).
			Str("reason", stop.SkipReason).Str("notes", stop.SkipNotes).
			Msg("stop skipped, dispatcher follow-up required")
	}

	return stop.Clone(), nil
}

// cascadeDelivered marks every case in a completed delivery stop's
// manifest as delivered. Updates are issued sequentially and each failure
// is independent: it is logged, queued for retry, and does not abort the
// remaining cases or the enclosing completion.
func (s *Store) cascadeDelivered(ctx context.Context, route *domain.Route, stop *domain.Stop) {
	for _, caseID := range stop.DeliveryManifest {
		patch := ports.CasePatch{
			Status:      "delivered",
			DeliveredAt: stop.CompletedAt,
			RouteID:     route.ID,
			RouteName:   route.Name,
			StopID:      stop.ID,
			Proof:       stop.Proof,
		}

		if err := s.cases.Update(ctx, caseID, patch); err != nil {
			s.log.Warn().Err(err).
				Str("case_id", caseID).Str("route_id", route.ID).Str("stop_id", stop.ID).
				Msg("case delivery cascade failed")
			s.enqueueRetry(cascadeRetry{CaseID: caseID, Patch: patch, FailedAt: s.now()})
			continue
		}

		s.bus.Publish(EventCaseStatusChanged, CaseStatusChangedEvent{
			Timestamp: s.now(),
			CaseID:    caseID,
			Status:    "delivered",
			RouteID:   route.ID,
			StopID:    stop.ID,
		})
	}
}

// cascadeRetry is one failed case update awaiting a retry pass.
type cascadeRetry struct {
	CaseID   string
	Patch    ports.CasePatch
	FailedAt time.Time
}

const maxRetryQueue = 512

func (s *Store) enqueueRetry(r cascadeRetry) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	if len(s.retries) >= maxRetryQueue {
		dropped := s.retries[0]
		s.retries = s.retries[1:]
		s.log.Error().Str("case_id", dropped.CaseID).Msg("cascade retry queue full, dropping oldest")
	}
	s.retries = append(s.retries, r)
}

// PendingCascades reports how many failed case updates await retry.
func (s *Store) PendingCascades() int {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	return len(s.retries)
}

// RetryFailedCascades re-attempts every queued case update once. Still-
// failing entries return to the queue. Returns (recovered, remaining).
func (s *Store) RetryFailedCascades(ctx context.Context) (int, int) {
	s.retryMu.Lock()
	pending := s.retries
	s.retries = nil
	s.retryMu.Unlock()

	recovered := 0
	for _, r := range pending {
		if err := s.cases.Update(ctx, r.CaseID, r.Patch); err != nil {
			s.log.Warn().Err(err).Str("case_id", r.CaseID).Msg("cascade retry failed")
			s.enqueueRetry(r)
			continue
		}
		recovered++
		s.bus.Publish(EventCaseStatusChanged, CaseStatusChangedEvent{
			Timestamp: s.now(),
			CaseID:    r.CaseID,
			Status:    r.Patch.Status,
			RouteID:   r.Patch.RouteID,
			StopID:    r.Patch.StopID,
		})
	}

	return recovered, s.PendingCascades()
}
