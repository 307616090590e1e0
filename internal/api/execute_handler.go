package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/engine"
	"github.com/shaiso/Pipeflow/internal/runner"
	"github.com/shaiso/Pipeflow/internal/telemetry"
)

// ListCapabilities возвращает каталог capabilities.
// GET /api/v1/capabilities
func (h *Handler) ListCapabilities(w http.ResponseWriter, _ *http.Request) {
	caps := h.capabilities.List()

	result := make([]CapabilityResponse, len(caps))
	for i, c := range caps {
		result[i] = CapabilityFromDomain(c)
	}

	List(w, result, len(result))
}

// ListOperations возвращает имена операций трансформации.
// GET /api/v1/operations
func (h *Handler) ListOperations(w http.ResponseWriter, _ *http.Request) {
	names := h.transforms.Names()
	List(w, names, len(names))
}

// ValidatePipeline статически проверяет определение без сохранения.
// Невалидное определение — не ошибка запроса: ответ 200 с valid=false.
// POST /api/v1/validate
func (h *Handler) ValidatePipeline(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	spec, err := h.checkSpec(req.Pipeline, req.Format)
	if err != nil {
		detail := ErrorDetail{Code: ErrCodeInvalidSpec, Message: err.Error()}
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			detail.Path = verr.Path
			detail.Field = verr.Field
		}
		Success(w, ValidateResponse{Valid: false, Error: &detail})
		return
	}

	Success(w, ValidateResponse{Valid: true, Steps: len(spec.Steps)})
}

// ExecutePipeline выполняет определение синхронно, без создания run.
//
// Ошибка выполнения pipeline возвращается в теле со статусом FAILED
// и HTTP 200; 400 — только если определение или входные параметры невалидны.
// POST /api/v1/execute
func (h *Handler) ExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	spec, err := h.checkSpec(req.Pipeline, req.Format)
	if err != nil {
		InvalidSpec(w, err)
		return
	}

	inputs, err := spec.ApplyInputs(req.Inputs)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	ctx := telemetry.WithLogger(r.Context(), h.logger.With("mode", "execute"))
	if h.permissions != nil {
		ctx = capability.WithPermissions(ctx, h.permissions)
	}

	vars := engine.NewContext(runner.Variables(inputs))

	start := time.Now()
	result, execErr := h.executor.Run(ctx, vars, spec.Steps)

	resp := ExecuteResponse{
		Status:     string(domain.RunStatusSucceeded),
		Result:     result,
		Variables:  vars.Variables(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if execErr != nil {
		resp.Status = string(domain.RunStatusFailed)
		resp.Result = nil
		resp.Error = runner.NewRunError(execErr)
	}
	if h.metrics != nil {
		h.metrics.RunFinished(resp.Status)
	}

	Success(w, resp)
}
