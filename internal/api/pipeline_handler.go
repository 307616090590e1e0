package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Pipeflow/internal/domain"
)

// ListPipelines возвращает список всех pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelines.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePipeline создаёт новый pipeline.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	// Определение проверяем до создания pipeline
	var spec *domain.PipelineSpec
	if len(req.Spec) > 0 {
		var err error
		if spec, err = h.checkSpec(req.Spec, req.Format); err != nil {
			InvalidSpec(w, err)
			return
		}
	}

	pipeline := &domain.Pipeline{
		ID:       uuid.New(),
		Name:     req.Name,
		IsActive: true,
	}
	if req.IsActive != nil {
		pipeline.IsActive = *req.IsActive
	}

	if err := h.pipelines.Create(r.Context(), pipeline); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	if spec != nil {
		if _, err := h.pipelines.CreateVersion(r.Context(), pipeline.ID, *spec); err != nil {
			InternalError(w, h.logger, err)
			return
		}
	}

	Created(w, PipelineFromDomain(*pipeline))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// UpdatePipeline обновляет pipeline.
// PUT /api/v1/pipelines/{id}
func (h *Handler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req UpdatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	pipeline, err := h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			BadRequest(w, "name must not be empty")
			return
		}
		pipeline.Name = *req.Name
	}
	if req.IsActive != nil {
		pipeline.IsActive = *req.IsActive
	}

	if err := h.pipelines.Update(r.Context(), pipeline); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// DeletePipeline удаляет pipeline вместе с версиями, runs и schedules.
// DELETE /api/v1/pipelines/{id}
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.pipelines.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	NoContent(w)
}

// ListPipelineVersions возвращает список версий pipeline.
// GET /api/v1/pipelines/{id}/versions
func (h *Handler) ListPipelineVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	// Проверяем, что pipeline существует
	_, err = h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	versions, err := h.pipelines.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = PipelineVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreatePipelineVersion создаёт новую версию pipeline.
// Определение разбирается и статически проверяется до сохранения.
// POST /api/v1/pipelines/{id}/versions
func (h *Handler) CreatePipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	spec, err := h.checkSpec(req.Spec, req.Format)
	if err != nil {
		InvalidSpec(w, err)
		return
	}

	// Проверяем, что pipeline существует
	_, err = h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	version, err := h.pipelines.CreateVersion(r.Context(), id, *spec)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Created(w, PipelineVersionFromDomain(*version))
}

// GetPipelineVersion возвращает конкретную версию pipeline.
// GET /api/v1/pipelines/{id}/versions/{version}
func (h *Handler) GetPipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || versionNum <= 0 {
		BadRequest(w, "invalid version number")
		return
	}

	version, err := h.pipelines.GetVersion(r.Context(), id, versionNum)
	if HandleRepoError(w, h.logger, err, "pipeline version not found") {
		return
	}

	Success(w, PipelineVersionFromDomain(*version))
}

// checkSpec разбирает определение и проверяет шаги.
func (h *Handler) checkSpec(raw json.RawMessage, format string) (*domain.PipelineSpec, error) {
	spec, err := parseSpec(raw, format)
	if err != nil {
		return nil, err
	}
	if err := h.executor.Validate(spec.Steps); err != nil {
		return nil, err
	}
	return spec, nil
}
