package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/repo"
	"github.com/shaiso/Pipeflow/internal/telemetry"
)

// --- Fakes ---

type fakePipelines struct {
	pipelines map[uuid.UUID]*domain.Pipeline
	versions  map[uuid.UUID][]domain.PipelineVersion
}

func newFakePipelines() *fakePipelines {
	return &fakePipelines{
		pipelines: map[uuid.UUID]*domain.Pipeline{},
		versions:  map[uuid.UUID][]domain.PipelineVersion{},
	}
}

func (f *fakePipelines) Create(_ context.Context, p *domain.Pipeline) error {
	for _, existing := range f.pipelines {
		if existing.Name == p.Name {
			return repo.ErrAlreadyExists
		}
	}
	cp := *p
	f.pipelines[p.ID] = &cp
	return nil
}

func (f *fakePipelines) GetByID(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePipelines) List(context.Context) ([]domain.Pipeline, error) {
	var out []domain.Pipeline
	for _, p := range f.pipelines {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePipelines) Update(_ context.Context, p *domain.Pipeline) error {
	if _, ok := f.pipelines[p.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *p
	f.pipelines[p.ID] = &cp
	return nil
}

func (f *fakePipelines) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.pipelines[id]; !ok {
		return repo.ErrNotFound
	}
	delete(f.pipelines, id)
	return nil
}

func (f *fakePipelines) CreateVersion(_ context.Context, id uuid.UUID, spec domain.PipelineSpec) (*domain.PipelineVersion, error) {
	v := domain.PipelineVersion{PipelineID: id, Version: len(f.versions[id]) + 1, Spec: spec, CreatedAt: time.Now()}
	f.versions[id] = append(f.versions[id], v)
	return &v, nil
}

func (f *fakePipelines) GetVersion(_ context.Context, id uuid.UUID, version int) (*domain.PipelineVersion, error) {
	for _, v := range f.versions[id] {
		if v.Version == version {
			return &v, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakePipelines) GetLatestVersion(_ context.Context, id uuid.UUID) (*domain.PipelineVersion, error) {
	vs := f.versions[id]
	if len(vs) == 0 {
		return nil, repo.ErrNotFound
	}
	return &vs[len(vs)-1], nil
}

func (f *fakePipelines) ListVersions(_ context.Context, id uuid.UUID) ([]domain.PipelineVersion, error) {
	return f.versions[id], nil
}

type fakeRuns struct {
	runs map[uuid.UUID]*domain.Run
}

func (f *fakeRuns) Create(_ context.Context, run *domain.Run) error {
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRuns) GetByIdempotencyKey(_ context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	for _, r := range f.runs {
		if r.PipelineID == pipelineID && r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRuns) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	var out []domain.Run
	for _, r := range f.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRuns) Update(_ context.Context, run *domain.Run) error {
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

type fakeSchedules struct {
	schedules map[uuid.UUID]*domain.Schedule
}

func (f *fakeSchedules) Create(_ context.Context, s *domain.Schedule) error {
	cp := *s
	f.schedules[s.ID] = &cp
	return nil
}

func (f *fakeSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSchedules) List(context.Context, repo.ScheduleFilter) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, s := range f.schedules {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSchedules) Update(_ context.Context, s *domain.Schedule) error {
	cp := *s
	f.schedules[s.ID] = &cp
	return nil
}

func (f *fakeSchedules) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.schedules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeSchedules) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s, ok := f.schedules[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.Enabled = enabled
	return nil
}

type fakePublisher struct {
	published []uuid.UUID
}

func (f *fakePublisher) PublishRunPending(_ context.Context, runID uuid.UUID) error {
	f.published = append(f.published, runID)
	return nil
}

// --- Helpers ---

type testServer struct {
	mux       *http.ServeMux
	pipelines *fakePipelines
	runs      *fakeRuns
	schedules *fakeSchedules
	publisher *fakePublisher
	metrics   *telemetry.Metrics
}

func newTestServer(t *testing.T, permissions capability.Permissions) *testServer {
	t.Helper()

	s := &testServer{
		mux:       http.NewServeMux(),
		pipelines: newFakePipelines(),
		runs:      &fakeRuns{runs: map[uuid.UUID]*domain.Run{}},
		schedules: &fakeSchedules{schedules: map[uuid.UUID]*domain.Schedule{}},
		publisher: &fakePublisher{},
		metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	}

	h := NewHandler(Config{
		Pipelines:   s.pipelines,
		Runs:        s.runs,
		Schedules:   s.schedules,
		Publisher:   s.publisher,
		Permissions: permissions,
		Metrics:     s.metrics,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.RegisterRoutes(s.mux)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

// addPipeline создаёт pipeline с одной версией.
func (s *testServer) addPipeline(t *testing.T, spec domain.PipelineSpec) uuid.UUID {
	t.Helper()
	id := uuid.New()
	s.pipelines.pipelines[id] = &domain.Pipeline{ID: id, Name: "p-" + id.String()[:8], IsActive: true}
	if _, err := s.pipelines.CreateVersion(context.Background(), id, spec); err != nil {
		t.Fatalf("create version: %v", err)
	}
	return id
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func greetSpec() domain.PipelineSpec {
	return domain.PipelineSpec{
		Inputs: map[string]domain.InputDef{"name": {Type: "string", Required: true}},
		Steps: []map[string]any{
			{"type": "transform", "operation": "identity", "input": "$name"},
		},
	}
}

// --- Pipelines ---

func TestCreatePipeline(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/pipelines", map[string]any{
		"name": "sync-orders",
		"spec": []any{map[string]any{"type": "transform", "operation": "identity", "input": 1}},
	})
	expectStatus(t, rec, http.StatusCreated)

	p := decodeData[PipelineResponse](t, rec)
	if p.Name != "sync-orders" || !p.IsActive {
		t.Errorf("unexpected pipeline: %+v", p)
	}
	if len(s.pipelines.versions[p.ID]) != 1 {
		t.Errorf("spec should create version 1, got %d versions", len(s.pipelines.versions[p.ID]))
	}

	// Повторное имя — конфликт
	rec = s.do(t, http.MethodPost, "/api/v1/pipelines", map[string]any{"name": "sync-orders"})
	expectStatus(t, rec, http.StatusConflict)
}

func TestCreatePipeline_Invalid(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name     string
		body     any
		wantCode ErrorCode
	}{
		{name: "no name", body: map[string]any{}, wantCode: ErrCodeBadRequest},
		{name: "not json", body: "{", wantCode: ErrCodeBadRequest},
		{
			name: "unknown step type",
			body: map[string]any{
				"name": "bad",
				"spec": []any{map[string]any{"type": "teleport"}},
			},
			wantCode: ErrCodeInvalidSpec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/pipelines", tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
			if got := decodeError(t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code, tt.wantCode)
			}
		})
	}

	if len(s.pipelines.pipelines) != 0 {
		t.Error("invalid requests should not create pipelines")
	}
}

func TestPipelineCRUD(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.addPipeline(t, greetSpec())

	rec := s.do(t, http.MethodGet, "/api/v1/pipelines/"+id.String(), nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodPut, "/api/v1/pipelines/"+id.String(), map[string]any{"is_active": false})
	expectStatus(t, rec, http.StatusOK)
	if p := decodeData[PipelineResponse](t, rec); p.IsActive {
		t.Error("pipeline should be deactivated")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/pipelines", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeData[[]PipelineResponse](t, rec); len(list) != 1 {
		t.Errorf("expected 1 pipeline, got %d", len(list))
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/pipelines/"+id.String(), nil)
	expectStatus(t, rec, http.StatusNoContent)

	rec = s.do(t, http.MethodGet, "/api/v1/pipelines/"+id.String(), nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = s.do(t, http.MethodGet, "/api/v1/pipelines/not-a-uuid", nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestCreatePipelineVersion(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.addPipeline(t, greetSpec())
	path := "/api/v1/pipelines/" + id.String() + "/versions"

	t.Run("json object", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, path, map[string]any{
			"spec": map[string]any{
				"name":  "greet",
				"steps": []any{map[string]any{"type": "transform", "operation": "identity", "input": "hi"}},
			},
		})
		expectStatus(t, rec, http.StatusCreated)
		if v := decodeData[PipelineVersionResponse](t, rec); v.Version != 2 || v.Spec.Name != "greet" {
			t.Errorf("unexpected version: %+v", v)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, path, map[string]any{
			"format": "yaml",
			"spec":   "steps:\n  - type: transform\n    operation: identity\n    input: 1\n",
		})
		expectStatus(t, rec, http.StatusCreated)
		if v := decodeData[PipelineVersionResponse](t, rec); v.Version != 3 {
			t.Errorf("expected version 3, got %d", v.Version)
		}
	})

	t.Run("invalid nested step reports path", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, path, map[string]any{
			"spec": []any{
				map[string]any{"type": "transform", "operation": "identity", "input": 1},
				map[string]any{
					"type":      "conditional",
					"condition": map[string]any{"field": 1, "operator": "==", "value": 1},
					"then":      []any{map[string]any{"type": "teleport"}},
				},
			},
		})
		expectStatus(t, rec, http.StatusBadRequest)
		got := decodeError(t, rec)
		if got.Code != ErrCodeInvalidSpec || got.Path != "steps[1].then[0]" {
			t.Errorf("unexpected error: %+v", got)
		}
	})

	t.Run("unknown pipeline", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/pipelines/"+uuid.NewString()+"/versions", map[string]any{
			"spec": []any{},
		})
		expectStatus(t, rec, http.StatusNotFound)
	})

	rec := s.do(t, http.MethodGet, path+"/1", nil)
	expectStatus(t, rec, http.StatusOK)
	rec = s.do(t, http.MethodGet, path+"/99", nil)
	expectStatus(t, rec, http.StatusNotFound)
	rec = s.do(t, http.MethodGet, path, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeData[[]PipelineVersionResponse](t, rec); len(list) != 3 {
		t.Errorf("expected 3 versions, got %d", len(list))
	}
}

// --- Runs ---

func TestCreateRun(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.addPipeline(t, greetSpec())
	path := "/api/v1/pipelines/" + id.String() + "/runs"

	rec := s.do(t, http.MethodPost, path, map[string]any{
		"inputs":          map[string]any{"name": "Alice"},
		"idempotency_key": "order-1",
	})
	expectStatus(t, rec, http.StatusCreated)

	run := decodeData[RunResponse](t, rec)
	if run.Status != "PENDING" || run.Version != 1 || run.PipelineID != id {
		t.Errorf("unexpected run: %+v", run)
	}
	if len(s.publisher.published) != 1 || s.publisher.published[0] != run.ID {
		t.Errorf("expected run.pending for %s, got %v", run.ID, s.publisher.published)
	}

	// Тот же ключ — тот же run, без повторной публикации
	rec = s.do(t, http.MethodPost, path, map[string]any{
		"inputs":          map[string]any{"name": "Alice"},
		"idempotency_key": "order-1",
	})
	expectStatus(t, rec, http.StatusOK)
	if again := decodeData[RunResponse](t, rec); again.ID != run.ID {
		t.Errorf("idempotent request should return run %s, got %s", run.ID, again.ID)
	}
	if len(s.publisher.published) != 1 {
		t.Error("idempotent request should not publish again")
	}
}

func TestCreateRun_Invalid(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.addPipeline(t, greetSpec())
	empty := uuid.New()
	s.pipelines.pipelines[empty] = &domain.Pipeline{ID: empty, Name: "empty"}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"missing required input", "/api/v1/pipelines/" + id.String() + "/runs", map[string]any{}, http.StatusBadRequest},
		{"unknown version", "/api/v1/pipelines/" + id.String() + "/runs", map[string]any{"version": 5, "inputs": map[string]any{"name": "x"}}, http.StatusNotFound},
		{"unknown pipeline", "/api/v1/pipelines/" + uuid.NewString() + "/runs", map[string]any{}, http.StatusNotFound},
		{"no versions", "/api/v1/pipelines/" + empty.String() + "/runs", map[string]any{}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, rec, tt.want)
		})
	}

	if len(s.runs.runs) != 0 {
		t.Errorf("invalid requests should not create runs, got %d", len(s.runs.runs))
	}
}

func TestRunQueries(t *testing.T) {
	s := newTestServer(t, nil)
	pending := &domain.Run{ID: uuid.New(), Status: domain.RunStatusPending}
	done := &domain.Run{ID: uuid.New(), Status: domain.RunStatusSucceeded, Result: "ok"}
	s.runs.runs[pending.ID] = pending
	s.runs.runs[done.ID] = done

	rec := s.do(t, http.MethodGet, "/api/v1/runs?status=succeeded", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeData[[]RunResponse](t, rec); len(list) != 1 || list[0].Result != "ok" {
		t.Errorf("expected only the succeeded run, got %+v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/runs?status=sleeping", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+done.ID.String(), nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t, nil)
	pending := &domain.Run{ID: uuid.New(), Status: domain.RunStatusPending}
	running := &domain.Run{ID: uuid.New(), Status: domain.RunStatusRunning}
	done := &domain.Run{ID: uuid.New(), Status: domain.RunStatusFailed}
	for _, r := range []*domain.Run{pending, running, done} {
		s.runs.runs[r.ID] = r
	}

	rec := s.do(t, http.MethodPost, "/api/v1/runs/"+pending.ID.String()+"/cancel", nil)
	expectStatus(t, rec, http.StatusOK)
	if s.runs.runs[pending.ID].Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", s.runs.runs[pending.ID].Status)
	}

	for _, r := range []*domain.Run{running, done} {
		rec := s.do(t, http.MethodPost, "/api/v1/runs/"+r.ID.String()+"/cancel", nil)
		expectStatus(t, rec, http.StatusUnprocessableEntity)
	}
}

// --- Schedules ---

func TestSchedules(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.addPipeline(t, greetSpec())

	rec := s.do(t, http.MethodPost, "/api/v1/pipelines/"+id.String()+"/schedules", map[string]any{
		"name":         "every-minute",
		"interval_sec": 60,
		"enabled":      true,
		"inputs":       map[string]any{"name": "cron"},
	})
	expectStatus(t, rec, http.StatusCreated)

	sched := decodeData[ScheduleResponse](t, rec)
	if sched.Timezone != "UTC" || sched.NextDueAt == nil {
		t.Fatalf("expected UTC timezone and next_due_at, got %+v", sched)
	}
	if until := time.Until(*sched.NextDueAt); until <= 0 || until > time.Minute {
		t.Errorf("next_due_at should be about a minute ahead, got %v", until)
	}

	schedPath := "/api/v1/schedules/" + sched.ID.String()

	rec = s.do(t, http.MethodPut, schedPath, map[string]any{"cron_expr": "0 9 * * *", "interval_sec": 0})
	expectStatus(t, rec, http.StatusOK)
	if updated := decodeData[ScheduleResponse](t, rec); updated.CronExpr != "0 9 * * *" || updated.NextDueAt.Minute() != 0 {
		t.Errorf("cron update should recalculate next_due_at, got %+v", updated)
	}

	rec = s.do(t, http.MethodPut, schedPath+"/enabled", map[string]any{"enabled": false})
	expectStatus(t, rec, http.StatusOK)
	if s.schedules.schedules[sched.ID].Enabled {
		t.Error("schedule should be disabled")
	}

	rec = s.do(t, http.MethodPut, schedPath+"/enabled", map[string]any{"enabled": true})
	expectStatus(t, rec, http.StatusOK)
	if !s.schedules.schedules[sched.ID].Enabled {
		t.Error("schedule should be enabled")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/schedules?enabled=true", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodDelete, schedPath, nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = s.do(t, http.MethodGet, schedPath, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCreateSchedule_Invalid(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.addPipeline(t, greetSpec())
	path := "/api/v1/pipelines/" + id.String() + "/schedules"

	bodies := map[string]map[string]any{
		"no name":      {"interval_sec": 60},
		"no timing":    {"name": "x"},
		"both timings": {"name": "x", "interval_sec": 60, "cron_expr": "* * * * *"},
		"bad cron":     {"name": "x", "cron_expr": "every day"},
		"bad timezone": {"name": "x", "interval_sec": 60, "timezone": "Mars/Base"},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, path, body)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}

	rec := s.do(t, http.MethodGet, "/api/v1/schedules?enabled=maybe", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	if len(s.schedules.schedules) != 0 {
		t.Error("invalid requests should not create schedules")
	}
}

// --- Catalog, validate, execute ---

func TestCatalog(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/capabilities", nil)
	expectStatus(t, rec, http.StatusOK)
	caps := decodeData[[]CapabilityResponse](t, rec)
	found := false
	for _, c := range caps {
		if c.Name == capability.NameEcho {
			found = true
		}
	}
	if !found {
		t.Errorf("catalog should list %s, got %+v", capability.NameEcho, caps)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/operations", nil)
	expectStatus(t, rec, http.StatusOK)
	ops := decodeData[[]string](t, rec)
	if !strings.Contains(strings.Join(ops, ","), "pluck") {
		t.Errorf("operations should include pluck, got %v", ops)
	}
}

func TestValidatePipeline(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/validate", map[string]any{
		"pipeline": []any{map[string]any{"type": "transform", "operation": "identity", "input": 1}},
	})
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[ValidateResponse](t, rec); !got.Valid || got.Steps != 1 {
		t.Errorf("expected valid pipeline with 1 step, got %+v", got)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/validate", map[string]any{
		"pipeline": []any{map[string]any{"type": "loop", "over": "$items"}},
	})
	expectStatus(t, rec, http.StatusOK)
	got := decodeData[ValidateResponse](t, rec)
	if got.Valid || got.Error == nil || got.Error.Path != "steps[0]" {
		t.Errorf("expected invalid pipeline at steps[0], got %+v", got)
	}
}

func TestExecutePipeline(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do(t, http.MethodPost, "/api/v1/execute", map[string]any{
			"pipeline": map[string]any{
				"inputs": map[string]any{"name": map[string]any{"required": true}},
				"steps": []any{
					map[string]any{"type": "ability", "ability": "core/echo", "input": map[string]any{"who": "$inputs.name"}, "output": "echo"},
				},
			},
			"inputs": map[string]any{"name": "Alice"},
		})
		expectStatus(t, rec, http.StatusOK)

		got := decodeData[ExecuteResponse](t, rec)
		if got.Status != "SUCCEEDED" {
			t.Fatalf("expected SUCCEEDED, got %+v", got)
		}
		result, ok := got.Result.(map[string]any)
		if !ok || result["who"] != "Alice" {
			t.Errorf("unexpected result: %v", got.Result)
		}
		if _, ok := got.Variables["echo"]; !ok {
			t.Errorf("output variable should be returned, got %v", got.Variables)
		}
		if v := testutil.ToFloat64(s.metrics.RunsTotal.WithLabelValues("SUCCEEDED")); v != 1 {
			t.Errorf("expected 1 succeeded run recorded, got %v", v)
		}
	})

	t.Run("failed with structured error", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do(t, http.MethodPost, "/api/v1/execute", map[string]any{
			"pipeline": []any{
				map[string]any{"type": "transform", "operation": "identity", "input": "$missing"},
			},
		})
		expectStatus(t, rec, http.StatusOK)

		got := decodeData[ExecuteResponse](t, rec)
		if got.Status != "FAILED" || got.Error == nil {
			t.Fatalf("expected FAILED with error, got %+v", got)
		}
		if got.Error.Code != "reference_error" || got.Error.Step != "steps[0]" {
			t.Errorf("unexpected error: %+v", got.Error)
		}
	})

	t.Run("permissions apply", func(t *testing.T) {
		s := newTestServer(t, capability.ParsePermissions("other:scope"))
		rec := s.do(t, http.MethodPost, "/api/v1/execute", map[string]any{
			"pipeline": []any{map[string]any{"type": "ability", "ability": capability.NameSystemInfo}},
		})
		expectStatus(t, rec, http.StatusOK)
		if got := decodeData[ExecuteResponse](t, rec); got.Error == nil || got.Error.Code != "permission_denied" {
			t.Errorf("expected permission_denied, got %+v", got)
		}
	})

	t.Run("missing input is a bad request", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do(t, http.MethodPost, "/api/v1/execute", map[string]any{
			"pipeline": map[string]any{
				"inputs": map[string]any{"name": map[string]any{"required": true}},
				"steps":  []any{},
			},
		})
		expectStatus(t, rec, http.StatusBadRequest)
	})
}

// --- Middleware ---

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total"})

	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := Chain(Recovery(logger), Logging(logger), CountRequests(counter))(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic should become 500, got %d", rec.Code)
	}

	ok := Chain(CountRequests(counter))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		NoContent(w)
	}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(counter); got != 1 {
		t.Errorf("expected 1 counted request, got %v", got)
	}
}
