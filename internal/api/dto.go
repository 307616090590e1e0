package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на создание pipeline.
// Если передан Spec, сразу создаётся версия 1.
type CreatePipelineRequest struct {
	Name     string          `json:"name"`
	IsActive *bool           `json:"is_active,omitempty"`
	Spec     json.RawMessage `json:"spec,omitempty"`
	Format   string          `json:"format,omitempty"`
}

// UpdatePipelineRequest — запрос на обновление pipeline.
type UpdatePipelineRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:        p.ID,
		Name:      p.Name,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}

// PipelineVersion DTOs

// CreateVersionRequest — запрос на создание версии pipeline.
//
// Spec — JSON документ (массив шагов или объект {name, inputs, steps}).
// При Format "yaml" Spec — JSON строка с YAML документом.
type CreateVersionRequest struct {
	Spec   json.RawMessage `json:"spec"`
	Format string          `json:"format,omitempty"`
}

// PipelineVersionResponse — ответ с версией pipeline.
type PipelineVersionResponse struct {
	PipelineID uuid.UUID           `json:"pipeline_id"`
	Version    int                 `json:"version"`
	Spec       domain.PipelineSpec `json:"spec"`
	CreatedAt  time.Time           `json:"created_at"`
}

// PipelineVersionFromDomain конвертирует domain.PipelineVersion в PipelineVersionResponse.
func PipelineVersionFromDomain(v domain.PipelineVersion) PipelineVersionResponse {
	return PipelineVersionResponse{
		PipelineID: v.PipelineID,
		Version:    v.Version,
		Spec:       v.Spec,
		CreatedAt:  v.CreatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Inputs         map[string]any `json:"inputs,omitempty"`
	Version        *int           `json:"version,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID        `json:"id"`
	PipelineID     uuid.UUID        `json:"pipeline_id"`
	Version        int              `json:"version"`
	Status         string           `json:"status"`
	Inputs         map[string]any   `json:"inputs,omitempty"`
	Result         any              `json:"result,omitempty"`
	Error          *domain.RunError `json:"error,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	DurationMs     int64            `json:"duration_ms,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		PipelineID:     r.PipelineID,
		Version:        r.Version,
		Status:         string(r.Status),
		Inputs:         r.Inputs,
		Result:         r.Result,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		DurationMs:     r.Duration().Milliseconds(),
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Inputs      *map[string]any `json:"inputs,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID      `json:"id"`
	PipelineID  uuid.UUID      `json:"pipeline_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID     `json:"last_run_id,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		PipelineID:  s.PipelineID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		Inputs:      s.Inputs,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Catalog DTOs

// CapabilityResponse — описание capability в каталоге.
type CapabilityResponse struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Input       capability.Schema `json:"input"`
	Output      capability.Schema `json:"output"`
}

// CapabilityFromDomain конвертирует capability.Capability в CapabilityResponse.
func CapabilityFromDomain(c capability.Capability) CapabilityResponse {
	return CapabilityResponse{
		Name:        c.Name(),
		Description: c.Description(),
		Input:       c.InputSchema(),
		Output:      c.OutputSchema(),
	}
}

// Execution DTOs

// ExecuteRequest — запрос на проверку или выполнение pipeline без сохранения.
type ExecuteRequest struct {
	Pipeline json.RawMessage `json:"pipeline"`
	Format   string          `json:"format,omitempty"`
	Inputs   map[string]any  `json:"inputs,omitempty"`
}

// ValidateResponse — итог статической проверки.
type ValidateResponse struct {
	Valid bool         `json:"valid"`
	Steps int          `json:"steps"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ExecuteResponse — итог выполнения pipeline.
type ExecuteResponse struct {
	Status     string           `json:"status"`
	Result     any              `json:"result,omitempty"`
	Error      *domain.RunError `json:"error,omitempty"`
	Variables  map[string]any   `json:"variables,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// parseSpec разбирает определение pipeline из тела запроса.
func parseSpec(raw json.RawMessage, format string) (*domain.PipelineSpec, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: pipeline is required", domain.ErrInvalidSpec)
	}

	if format == domain.FormatYAML || format == "yml" {
		var doc string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: yaml pipeline must be a string", domain.ErrInvalidSpec)
		}
		return domain.ParseSpec([]byte(doc), domain.FormatYAML)
	}

	return domain.ParseSpec(raw, domain.FormatJSON)
}
