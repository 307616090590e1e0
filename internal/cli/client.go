package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// PipelineVersionResponse — версия pipeline из API.
type PipelineVersionResponse struct {
	PipelineID string         `json:"pipeline_id"`
	Version    int            `json:"version"`
	Spec       map[string]any `json:"spec"`
	CreatedAt  string         `json:"created_at"`
}

// RunError — структурированная ошибка run.
type RunError struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Type       string `json:"type,omitempty"`
	Step       string `json:"step,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// String возвращает краткое описание ошибки для таблиц.
func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Step != "" {
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Step, e.Message)
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string         `json:"id"`
	PipelineID     string         `json:"pipeline_id"`
	Version        int            `json:"version"`
	Status         string         `json:"status"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Result         any            `json:"result,omitempty"`
	Error          *RunError      `json:"error,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string         `json:"id"`
	PipelineID  string         `json:"pipeline_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   string         `json:"next_due_at,omitempty"`
	LastRunAt   string         `json:"last_run_at,omitempty"`
	LastRunID   string         `json:"last_run_id,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// --- Request types ---

// CreatePipelineRequest — создание pipeline.
type CreatePipelineRequest struct {
	Name     string          `json:"name"`
	IsActive *bool           `json:"is_active,omitempty"`
	Spec     json.RawMessage `json:"spec,omitempty"`
	Format   string          `json:"format,omitempty"`
}

// UpdatePipelineRequest — обновление pipeline.
type UpdatePipelineRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Inputs         map[string]any `json:"inputs,omitempty"`
	Version        *int           `json:"version,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Inputs      *map[string]any `json:"inputs,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	PipelineID string
	Status     string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Path    string `json:"path,omitempty"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
	Path    string
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: step %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Pipeflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает все pipelines.
func (c *Client) ListPipelines(ctx context.Context) ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list(ctx, "/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// CreatePipeline создаёт pipeline. Если передан Spec — сразу и версию 1.
func (c *Client) CreatePipeline(ctx context.Context, req CreatePipelineRequest) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post(ctx, "/api/v1/pipelines", req, &pipeline)
	return &pipeline, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(ctx context.Context, id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.get(ctx, "/api/v1/pipelines/"+id, &pipeline)
	return &pipeline, err
}

// UpdatePipeline обновляет pipeline.
func (c *Client) UpdatePipeline(ctx context.Context, id string, req UpdatePipelineRequest) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.put(ctx, "/api/v1/pipelines/"+id, req, &pipeline)
	return &pipeline, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/pipelines/"+id)
}

// ListVersions возвращает версии pipeline.
func (c *Client) ListVersions(ctx context.Context, pipelineID string) ([]PipelineVersionResponse, error) {
	var versions []PipelineVersionResponse
	err := c.list(ctx, "/api/v1/pipelines/"+pipelineID+"/versions", nil, &versions)
	return versions, err
}

// GetVersion возвращает конкретную версию pipeline.
func (c *Client) GetVersion(ctx context.Context, pipelineID string, version int) (*PipelineVersionResponse, error) {
	var v PipelineVersionResponse
	err := c.get(ctx, "/api/v1/pipelines/"+pipelineID+"/versions/"+strconv.Itoa(version), &v)
	return &v, err
}

// CreateVersion публикует новую версию pipeline.
// Сервер проверяет определение перед сохранением.
func (c *Client) CreateVersion(ctx context.Context, pipelineID string, spec json.RawMessage, format string) (*PipelineVersionResponse, error) {
	body := map[string]any{"spec": spec}
	if format != "" {
		body["format"] = format
	}
	var version PipelineVersionResponse
	err := c.post(ctx, "/api/v1/pipelines/"+pipelineID+"/versions", body, &version)
	return &version, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run для pipeline.
func (c *Client) CreateRun(ctx context.Context, pipelineID string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post(ctx, "/api/v1/pipelines/"+pipelineID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun отменяет run, который ещё не начал выполняться.
func (c *Client) CancelRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post(ctx, "/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если pipelineID не пустой — фильтрует.
func (c *Client) ListSchedules(ctx context.Context, pipelineID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if pipelineID != "" {
		params.Set("pipeline_id", pipelineID)
	}

	var schedules []ScheduleResponse
	err := c.list(ctx, "/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для pipeline.
func (c *Client) CreateSchedule(ctx context.Context, pipelineID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post(ctx, "/api/v1/pipelines/"+pipelineID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(ctx context.Context, id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get(ctx, "/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(ctx context.Context, id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put(ctx, "/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/schedules/"+id)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put(ctx, "/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPut, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Status: resp.StatusCode}
	}

	return &APIError{
		Status:  resp.StatusCode,
		Code:    er.Error.Code,
		Message: er.Error.Message,
		Path:    er.Error.Path,
	}
}
