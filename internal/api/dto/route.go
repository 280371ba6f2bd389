package dto

import "time"

type CreateRouteRequest struct {
	LabID    string `json:"lab_id"`
	Name     string `json:"name"`
	DriverID string `json:"driver_id"`
	Date     string `json:"date"`
}

type CoordinatesDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TaskRequest struct {
	Type        string          `json:"type"` // "Pickup" or "Delivery"
	PickupID    string          `json:"pickup_id,omitempty"`
	ClinicID    string          `json:"clinic_id,omitempty"`
	Coordinates *CoordinatesDTO `json:"coordinates,omitempty"`
	CaseIDs     []string        `json:"case_ids,omitempty"`
}

type AssignTasksRequest struct {
	Tasks []TaskRequest `json:"tasks"`
}

type AssignTasksResponse struct {
	Succeeded []StopResponse `json:"succeeded"`
	Failed    int            `json:"failed"`
	Errors    []string       `json:"errors,omitempty"`
}

type ReorderRequest struct {
	FromIndex int `json:"from_index"`
	ToIndex   int `json:"to_index"`
}

type MoveStopRequest struct {
	ToRouteID string `json:"to_route_id"`
	StopID    string `json:"stop_id"`
}

type StopStatusRequest struct {
	Status string            `json:"status"`
	Proof  map[string]string `json:"proof,omitempty"`
}

type SkipStopRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes,omitempty"`
}

type StopResponse struct {
	ID               string            `json:"id"`
	Sequence         int               `json:"sequence"`
	ClinicID         string            `json:"clinic_id"`
	Type             string            `json:"type"`
	Status           string            `json:"status"`
	Coordinates      *CoordinatesDTO   `json:"coordinates,omitempty"`
	PickupTasks      []string          `json:"pickup_tasks,omitempty"`
	DeliveryManifest []string          `json:"delivery_manifest,omitempty"`
	Proof            map[string]string `json:"proof,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	SkippedAt        *time.Time        `json:"skipped_at,omitempty"`
	SkipReason       string            `json:"skip_reason,omitempty"`
	RequiresFollowUp bool              `json:"requires_follow_up"`
}

type RouteResponse struct {
	ID                   string         `json:"id"`
	LabID                string         `json:"lab_id"`
	Name                 string         `json:"name"`
	DriverID             string         `json:"driver_id"`
	Date                 string         `json:"date"`
	Status               string         `json:"status"`
	Stops                []StopResponse `json:"stops"`
	TotalDistanceKm      float64        `json:"total_distance_km"`
	EstimatedDurationMin float64        `json:"estimated_duration_min"`
}

type ListRoutesResponse struct {
	Routes     []RouteResponse `json:"routes"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	TotalPages int             `json:"total_pages"`
}

type MetricsDTO struct {
	TotalDistanceKm      float64 `json:"total_distance_km"`
	EstimatedDurationMin float64 `json:"estimated_duration_min"`
}

type OptimizeResponse struct {
	Before      MetricsDTO `json:"before"`
	After       MetricsDTO `json:"after"`
	Improvement struct {
		DistanceSavedKm float64 `json:"distance_saved_km"`
		TimeSavedMin    float64 `json:"time_saved_min"`
	} `json:"improvement"`
}

type RetryCascadesResponse struct {
	Recovered int `json:"recovered"`
	Remaining int `json:"remaining"`
}
