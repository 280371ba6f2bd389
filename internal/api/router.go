package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"lab-dispatch-service/internal/api/handlers"
	"lab-dispatch-service/internal/services"
	"lab-dispatch-service/internal/store"
)

// NewRouter wires HTTP handlers with their dependencies and returns an
// http.Handler. This is the API composition root (handlers stay unaware of
// concrete adapters).
func NewRouter(st *store.Store, views *services.ViewPipeline, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	rh := &handlers.RouteHandler{Store: st, Views: views, Log: log}

	mux.HandleFunc("GET /health", handlers.Health(log))
	mux.HandleFunc("GET /routes", rh.List)
	mux.HandleFunc("POST /routes", rh.Create)
	mux.HandleFunc("GET /routes/{id}", rh.Get)
	mux.HandleFunc("POST /routes/{id}/stops", rh.Assign)
	mux.HandleFunc("POST /routes/{id}/reorder", rh.Reorder)
	mux.HandleFunc("POST /routes/{id}/move", rh.Move)
	mux.HandleFunc("POST /routes/{id}/optimize", rh.Optimize)
	mux.HandleFunc("PATCH /routes/{id}/stops/{stopId}", rh.UpdateStopStatus)
	mux.HandleFunc("POST /routes/{id}/stops/{stopId}/skip", rh.SkipStop)
	mux.HandleFunc("POST /cascades/retry", rh.RetryCascades)

	return loggingMiddleware(log, mux)
}
