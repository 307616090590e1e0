package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/repo"
)

const defaultListLimit = 50

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{}
	query := r.URL.Query()

	if pipelineIDStr := query.Get("pipeline_id"); pipelineIDStr != "" {
		pipelineID, err := uuid.Parse(pipelineIDStr)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &pipelineID
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status, ok := domain.ParseRunStatus(statusStr)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	filter.Limit = parseInt(query.Get("limit"), defaultListLimit)
	filter.Offset = parseInt(query.Get("offset"), 0)

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт новый run для pipeline.
// POST /api/v1/pipelines/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Проверяем, что pipeline существует
	pipeline, err := h.pipelines.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	// Определяем версию
	var version *domain.PipelineVersion
	if req.Version != nil {
		version, err = h.pipelines.GetVersion(r.Context(), pipelineID, *req.Version)
		if HandleRepoError(w, h.logger, err, "pipeline version not found") {
			return
		}
	} else {
		version, err = h.pipelines.GetLatestVersion(r.Context(), pipelineID)
		if HandleRepoError(w, h.logger, err, "pipeline has no versions") {
			return
		}
	}

	// Обязательные входные параметры проверяем сразу, а не в runner
	if _, err := version.Spec.ApplyInputs(req.Inputs); err != nil {
		BadRequest(w, err.Error())
		return
	}

	// Проверяем idempotency key
	if req.IdempotencyKey != "" {
		existing, err := h.runs.GetByIdempotencyKey(r.Context(), pipelineID, req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	run := &domain.Run{
		ID:             uuid.New(),
		PipelineID:     pipeline.ID,
		Version:        version.Version,
		Status:         domain.RunStatusPending,
		Inputs:         req.Inputs,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	if err := h.runs.Create(r.Context(), run); err != nil {
		// Параллельный запрос с тем же ключом успел раньше
		if errors.Is(err, repo.ErrAlreadyExists) && req.IdempotencyKey != "" {
			existing, getErr := h.runs.GetByIdempotencyKey(r.Context(), pipelineID, req.IdempotencyKey)
			if getErr == nil {
				Success(w, RunFromDomain(*existing))
				return
			}
		}
		HandleRepoError(w, h.logger, err, "")
		return
	}

	// Публикуем событие в очередь
	if h.publisher != nil {
		if err := h.publisher.PublishRunPending(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run, который ещё не начал выполняться.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	switch {
	case run.IsFinished():
		InvalidState(w, "run is already finished")
		return
	case run.Status == domain.RunStatusRunning:
		InvalidState(w, "run is already running")
		return
	}

	run.MarkCancelled()

	if err := h.runs.Update(r.Context(), run); err != nil {
		HandleRepoError(w, h.logger, err, "run not found")
		return
	}

	Success(w, RunFromDomain(*run))
}

// parseInt парсит неотрицательное число с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
