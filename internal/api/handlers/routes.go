package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"lab-dispatch-service/internal/api/dto"
	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/services"
	"lab-dispatch-service/internal/store"
)

// RouteHandler exposes the dispatch actions over JSON. All state changes
// delegate to the store; this layer only decodes, validates shape and maps
// the error taxonomy onto HTTP statuses.
type RouteHandler struct {
	Store *store.Store
	Views *services.ViewPipeline
	Log   zerolog.Logger
}

func decode(w http.ResponseWriter, r *http.Request, log zerolog.Logger, v any) bool {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, r, log, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// List serves the filtered/sorted/paginated route view.
func (h *RouteHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	query := services.RouteQuery{
		LabID:    q.Get("lab_id"),
		Status:   domain.RouteStatus(q.Get("status")),
		DriverID: q.Get("driver_id"),
		Date:     q.Get("date"),
		ClinicID: q.Get("clinic_id"),
		SortBy:   q.Get("sort"),
		Desc:     q.Get("dir") == "desc",
		Page:     page,
		PerPage:  perPage,
	}

	view := h.Views.Routes(r.Context(), h.Store.Version(), h.Store.Routes(), query)

	res := dto.ListRoutesResponse{
		Routes:     make([]dto.RouteResponse, 0, len(view.Routes)),
		Total:      view.Total,
		Page:       view.Page,
		PerPage:    view.PerPage,
		TotalPages: view.TotalPages,
	}
	for _, rt := range view.Routes {
		res.Routes = append(res.Routes, routeToDTO(rt))
	}
	writeJSON(w, r, h.Log, http.StatusOK, res)
}

func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	route, err := h.Store.Route(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, h.Log, http.StatusOK, routeToDTO(route))
}

func (h *RouteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRouteRequest
	if !decode(w, r, h.Log, &req) {
		return
	}
	if req.LabID == "" || req.Name == "" || req.Date == "" {
		writeError(w, r, h.Log, http.StatusBadRequest, "lab_id, name and date are required")
		return
	}

	route, err := h.Store.CreateRoute(r.Context(), store.RouteDraft{
		LabID:    req.LabID,
		Name:     req.Name,
		DriverID: req.DriverID,
		Date:     req.Date,
	})
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, h.Log, http.StatusCreated, routeToDTO(route))
}

func taskFromDTO(t dto.TaskRequest) store.Task {
	task := store.Task{
		Type:     domain.StopType(t.Type),
		PickupID: t.PickupID,
		ClinicID: t.ClinicID,
		CaseIDs:  t.CaseIDs,
	}
	if t.Coordinates != nil {
		task.Coordinates = &domain.Coordinates{Lat: t.Coordinates.Lat, Lng: t.Coordinates.Lng}
	}
	return task
}

// Assign appends stops built from the request tasks. Single-task requests
// return the stop; multi-task requests return the per-task batch outcome.
func (h *RouteHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req dto.AssignTasksRequest
	if !decode(w, r, h.Log, &req) {
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, r, h.Log, http.StatusBadRequest, "tasks must not be empty")
		return
	}

	routeID := r.PathValue("id")

	if len(req.Tasks) == 1 {
		stop, err := h.Store.AssignTask(r.Context(), routeID, taskFromDTO(req.Tasks[0]))
		if err != nil {
			writeDomainError(w, r, h.Log, err)
			return
		}
		writeJSON(w, r, h.Log, http.StatusCreated, stopToDTO(stop))
		return
	}

	tasks := make([]store.Task, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, taskFromDTO(t))
	}

	batch := h.Store.AssignTasks(r.Context(), routeID, tasks)
	res := dto.AssignTasksResponse{
		Succeeded: make([]dto.StopResponse, 0, len(batch.Succeeded)),
		Failed:    len(batch.Failed),
	}
	for _, s := range batch.Succeeded {
		res.Succeeded = append(res.Succeeded, stopToDTO(s))
	}
	for _, err := range batch.Errors {
		res.Errors = append(res.Errors, err.Error())
	}
	writeJSON(w, r, h.Log, http.StatusOK, res)
}

func (h *RouteHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req dto.ReorderRequest
	if !decode(w, r, h.Log, &req) {
		return
	}

	if err := h.Store.ReorderStops(r.Context(), r.PathValue("id"), req.FromIndex, req.ToIndex); err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}

	route, err := h.Store.Route(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, h.Log, http.StatusOK, routeToDTO(route))
}

func (h *RouteHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req dto.MoveStopRequest
	if !decode(w, r, h.Log, &req) {
		return
	}

	if err := h.Store.MoveStop(r.Context(), r.PathValue("id"), req.ToRouteID, req.StopID); err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RouteHandler) UpdateStopStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.StopStatusRequest
	if !decode(w, r, h.Log, &req) {
		return
	}

	stop, err := h.Store.UpdateStopStatus(
		r.Context(), r.PathValue("id"), r.PathValue("stopId"),
		domain.StopStatus(req.Status), req.Proof)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, h.Log, http.StatusOK, stopToDTO(stop))
}

func (h *RouteHandler) SkipStop(w http.ResponseWriter, r *http.Request) {
	var req dto.SkipStopRequest
	if !decode(w, r, h.Log, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, r, h.Log, http.StatusBadRequest, "reason is required")
		return
	}

	stop, err := h.Store.SkipStop(r.Context(), r.PathValue("id"), r.PathValue("stopId"), req.Reason, req.Notes)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, h.Log, http.StatusOK, stopToDTO(stop))
}

func (h *RouteHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	result, err := h.Store.OptimizeRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	if result == nil {
		// Nothing to optimize for 0 or 1 stops.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res := dto.OptimizeResponse{
		Before: dto.MetricsDTO{
			TotalDistanceKm:      result.Before.TotalDistanceKm,
			EstimatedDurationMin: result.Before.EstimatedDurationMin,
		},
		After: dto.MetricsDTO{
			TotalDistanceKm:      result.After.TotalDistanceKm,
			EstimatedDurationMin: result.After.EstimatedDurationMin,
		},
	}
	res.Improvement.DistanceSavedKm = result.Improvement.DistanceSavedKm
	res.Improvement.TimeSavedMin = result.Improvement.TimeSavedMin
	writeJSON(w, r, h.Log, http.StatusOK, res)
}

func (h *RouteHandler) RetryCascades(w http.ResponseWriter, r *http.Request) {
	recovered, remaining := h.Store.RetryFailedCascades(r.Context())
	writeJSON(w, r, h.Log, http.StatusOK, dto.RetryCascadesResponse{
		Recovered: recovered,
		Remaining: remaining,
	})
}
