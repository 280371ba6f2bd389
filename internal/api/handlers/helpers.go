package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"lab-dispatch-service/internal/api/dto"
	"lab-dispatch-service/internal/domain"
)

func writeJSON(w http.ResponseWriter, r *http.Request, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("encode failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, status int, msg string) {
	writeJSON(w, r, log, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, r, log, http.StatusNotFound, err.Error())
	case domain.IsInvalidTransition(err):
		writeError(w, r, log, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, log, http.StatusInternalServerError, "internal server error")
	}
}

func stopToDTO(s *domain.Stop) dto.StopResponse {
	out := dto.StopResponse{
		ID:               s.ID,
		Sequence:         s.Sequence,
		ClinicID:         s.ClinicID,
		Type:             string(s.Type),
		Status:           string(s.Status),
		PickupTasks:      s.PickupTasks,
		DeliveryManifest: s.DeliveryManifest,
		Proof:            s.Proof,
		CompletedAt:      s.CompletedAt,
		SkippedAt:        s.SkippedAt,
		SkipReason:       s.SkipReason,
		RequiresFollowUp: s.RequiresFollowUp,
	}
	if s.Coordinates != nil {
		out.Coordinates = &dto.CoordinatesDTO{Lat: s.Coordinates.Lat, Lng: s.Coordinates.Lng}
	}
	return out
}

func routeToDTO(r *domain.Route) dto.RouteResponse {
	stops := make([]dto.StopResponse, 0, len(r.Stops))
	for _, s := range r.Stops {
		stops = append(stops, stopToDTO(s))
	}
	return dto.RouteResponse{
		ID:                   r.ID,
		LabID:                r.LabID,
		Name:                 r.Name,
		DriverID:             r.DriverID,
		Date:                 r.Date,
		Status:               string(r.Status),
		Stops:                stops,
		TotalDistanceKm:      r.Metrics.TotalDistanceKm,
		EstimatedDurationMin: r.Metrics.EstimatedDurationMin,
	}
}
