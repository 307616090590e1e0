package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	middlewares := []Middleware{Recovery(h.logger), Logging(h.logger)}
	if h.metrics != nil {
		middlewares = append(middlewares, CountRequests(h.metrics.HTTPRequests.WithLabelValues("api")))
	}
	chain := Chain(middlewares...)

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("PUT /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.UpdatePipeline)))
	mux.Handle("DELETE /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.DeletePipeline)))

	// Pipeline Versions
	mux.Handle("GET /api/v1/pipelines/{id}/versions", chain(http.HandlerFunc(h.ListPipelineVersions)))
	mux.Handle("POST /api/v1/pipelines/{id}/versions", chain(http.HandlerFunc(h.CreatePipelineVersion)))
	mux.Handle("GET /api/v1/pipelines/{id}/versions/{version}", chain(http.HandlerFunc(h.GetPipelineVersion)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/pipelines/{id}/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/pipelines/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))

	// Catalog и выполнение без сохранения
	mux.Handle("GET /api/v1/capabilities", chain(http.HandlerFunc(h.ListCapabilities)))
	mux.Handle("GET /api/v1/operations", chain(http.HandlerFunc(h.ListOperations)))
	mux.Handle("POST /api/v1/validate", chain(http.HandlerFunc(h.ValidatePipeline)))
	mux.Handle("POST /api/v1/execute", chain(http.HandlerFunc(h.ExecutePipeline)))
}
