package steps

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/engine"
)

// Helpers

// fakeObserver считает события Executor.
type fakeObserver struct {
	mu    sync.Mutex
	steps map[string]int
	caps  map[string]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{steps: map[string]int{}, caps: map[string]int{}}
}

func (o *fakeObserver) StepFinished(stepType string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps[stepType]++
}

func (o *fakeObserver) CapabilityCalled(name string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.caps[name]++
}

// fakeLoader отдаёт pipeline по имени.
type fakeLoader map[string][]Config

func (l fakeLoader) LoadSteps(_ context.Context, name string) ([]Config, error) {
	steps, ok := l[name]
	if !ok {
		return nil, errors.New("pipeline not found")
	}
	return steps, nil
}

func testCapabilities() *capability.Registry {
	r := capability.NewRegistry()
	r.Register(capability.NewEcho())
	r.Register(capability.New(capability.Definition{
		Name: "test/fail",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, &capability.Failure{Code: "boom", Message: "it broke"}
		},
	}))
	r.Register(capability.New(capability.Definition{
		Name: "test/plain-error",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("plain failure")
		},
	}))
	r.Register(capability.New(capability.Definition{
		Name:       "test/secret",
		Permission: "secret:read",
		Handler: func(context.Context, map[string]any) (any, error) {
			return "secret", nil
		},
	}))
	return r
}

func newTestExecutor() *Executor {
	return NewExecutor(Options{Capabilities: testCapabilities()})
}

func identityStep(input any, output string) Config {
	cfg := Config{"type": "transform", "operation": "identity", "input": input}
	if output != "" {
		cfg["output"] = output
	}
	return cfg
}

func failStep() Config {
	return Config{"type": "ability", "ability": "test/fail"}
}

func mustGet(t *testing.T, vars *engine.Context, key string) any {
	t.Helper()
	v, ok := vars.Get(key)
	if !ok {
		t.Fatalf("variable %q is not set", key)
	}
	return v
}

func assertCode(t *testing.T, err error, code engine.ErrorCode) *engine.ExecutionError {
	t.Helper()
	var execErr *engine.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Code != code {
		t.Errorf("expected code %s, got %s (%v)", code, execErr.Code, err)
	}
	return execErr
}

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	exec := newTestExecutor()
	r.Register(&LoopStep{exec: exec})

	step, err := r.Get(StepTypeLoop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Type() != StepTypeLoop {
		t.Errorf("expected loop, got %s", step.Type())
	}

	_, err = r.Get("unknown")
	if !errors.Is(err, engine.ErrUnknownStepType) {
		t.Errorf("expected ErrUnknownStepType, got %v", err)
	}

	r.Unregister(StepTypeLoop)
	if r.Has(StepTypeLoop) {
		t.Error("should not have loop after unregister")
	}
}

func TestNewExecutor_StepTypes(t *testing.T) {
	exec := newTestExecutor()

	expected := []string{"ability", "conditional", "loop", "parallel", "sub_pipeline", "transform", "try_catch"}
	if got := exec.Registry().Types(); !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

// End-to-end scenarios

func TestScenario_Pluck(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type":      "transform",
		"operation": "pluck",
		"input":     []any{map[string]any{"id": 1, "name": "a"}, map[string]any{"id": 2, "name": "b"}},
		"params":    map[string]any{"field": "name"},
		"output":    "names",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mustGet(t, vars, "names"); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestScenario_Conditional(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type":      "conditional",
		"condition": map[string]any{"field": 5, "operator": "greater_than", "value": 3},
		"then":      []any{identityStep("ok", "r")},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mustGet(t, vars, "r"); got != "ok" {
		t.Errorf("expected ok, got %v", got)
	}
}

func TestScenario_Loop(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)
	depth := vars.Depth()

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type":    "loop",
		"input":   []any{1, 2, 3},
		"itemVar": "n",
		"steps":   []any{identityStep("$n", "")},
		"output":  "all",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mustGet(t, vars, "all"); !reflect.DeepEqual(got, []any{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
	if vars.Depth() != depth {
		t.Errorf("scope depth changed: %d -> %d", depth, vars.Depth())
	}
}

func TestScenario_TryCatchMissingCapability(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type":  "try_catch",
		"try":   []any{Config{"type": "ability", "ability": "missing/capability"}},
		"catch": []any{identityStep("handled", "r")},
	}})
	if err != nil {
		t.Fatalf("error should be absorbed by catch, got %v", err)
	}

	if got := mustGet(t, vars, "r"); got != "handled" {
		t.Errorf("expected handled, got %v", got)
	}

	message, err := vars.Resolve("$error.message")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(message.(string), "not found") {
		t.Errorf("expected 'not found' in error message, got %q", message)
	}
}

// Config validation

func TestExecuteStep_ConfigErrors(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		wantMsg string
	}{
		{
			name:    "missing type",
			cfg:     Config{"operation": "identity"},
			wantErr: engine.ErrInvalidConfig,
			wantMsg: "step has no type",
		},
		{
			name:    "unknown type",
			cfg:     Config{"type": "teleport"},
			wantErr: engine.ErrUnknownStepType,
		},
		{
			name:    "missing required key",
			cfg:     Config{"type": "transform", "operation": "identity"},
			wantErr: engine.ErrInvalidConfig,
			wantMsg: "missing required key: input",
		},
		{
			name:    "unknown key",
			cfg:     Config{"type": "transform", "operation": "identity", "input": 1, "bogus": true},
			wantErr: engine.ErrInvalidConfig,
			wantMsg: "unknown key: bogus",
		},
		{
			name:    "output not a string",
			cfg:     Config{"type": "transform", "operation": "identity", "input": 1, "output": 5},
			wantErr: engine.ErrInvalidConfig,
		},
		{
			name:    "loop over non-sequence",
			cfg:     Config{"type": "loop", "input": "abc", "steps": []any{}},
			wantErr: engine.ErrInvalidConfig,
			wantMsg: "loop input must be an array",
		},
		{
			name:    "unknown operation",
			cfg:     Config{"type": "transform", "operation": "teleport", "input": 1},
			wantErr: engine.ErrUnknownOperation,
		},
		{
			name: "unknown condition operator",
			cfg: Config{
				"type":      "conditional",
				"condition": map[string]any{"field": 1, "operator": "roughly", "value": 1},
			},
			wantErr: engine.ErrUnknownOperator,
		},
		{
			name:    "description is always allowed",
			cfg:     Config{"type": "transform", "operation": "identity", "input": 1, "description": "noop"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.ExecuteStep(context.Background(), engine.NewContext(nil), tt.cfg, "steps[0]")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			execErr := assertCode(t, err, engine.CodeConfig)
			if execErr.Path != "steps[0]" {
				t.Errorf("expected path steps[0], got %s", execErr.Path)
			}
			if tt.wantMsg != "" && !strings.Contains(execErr.Message, tt.wantMsg) {
				t.Errorf("expected message containing %q, got %q", tt.wantMsg, execErr.Message)
			}
		})
	}
}

func TestExecuteStep_ReferenceError(t *testing.T) {
	exec := newTestExecutor()

	_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{identityStep("$nope", "")})
	execErr := assertCode(t, err, engine.CodeReference)
	if execErr.StepType != StepTypeTransform || execErr.Path != "steps[0]" {
		t.Errorf("unexpected location: %s %s", execErr.StepType, execErr.Path)
	}
}

// Ability

func TestAbility(t *testing.T) {
	t.Run("returns capability result", func(t *testing.T) {
		exec := newTestExecutor()
		vars := engine.NewContext(map[string]any{"who": "alice"})

		result, err := exec.Run(context.Background(), vars, []Config{{
			"type":    "ability",
			"ability": "core/echo",
			"input":   map[string]any{"name": "$who"},
			"output":  "echoed",
		}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := map[string]any{"name": "alice"}
		if !reflect.DeepEqual(result, want) || !reflect.DeepEqual(mustGet(t, vars, "echoed"), want) {
			t.Errorf("expected %v, got %v", want, result)
		}
	})

	t.Run("capability name from reference", func(t *testing.T) {
		exec := newTestExecutor()
		vars := engine.NewContext(map[string]any{"target": "core/echo"})

		if _, err := exec.Run(context.Background(), vars, []Config{{"type": "ability", "ability": "$target"}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("registry not available", func(t *testing.T) {
		exec := NewExecutor(Options{})
		_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{{"type": "ability", "ability": "core/echo"}})
		if !errors.Is(err, engine.ErrCapabilityUnavailable) {
			t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
		}
		if !strings.Contains(err.Error(), "not available") {
			t.Errorf("expected 'not available' in %q", err.Error())
		}
	})

	t.Run("typed nil registry is not available", func(t *testing.T) {
		var registry *capability.Registry
		exec := NewExecutor(Options{Capabilities: registry})
		_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{{"type": "ability", "ability": "core/echo"}})
		if !errors.Is(err, engine.ErrCapabilityUnavailable) {
			t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		exec := newTestExecutor()
		_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{{"type": "ability", "ability": "missing/capability"}})
		execErr := assertCode(t, err, engine.CodeCapability)
		if execErr.Capability != "missing/capability" || !strings.Contains(execErr.Message, "not found") {
			t.Errorf("unexpected error: %+v", execErr)
		}
	})

	t.Run("structured failure is wrapped with name", func(t *testing.T) {
		exec := newTestExecutor()
		_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{failStep()})
		execErr := assertCode(t, err, engine.CodeCapability)
		if !strings.Contains(execErr.Message, "test/fail") || !strings.Contains(execErr.Message, "it broke") {
			t.Errorf("message should embed name and failure, got %q", execErr.Message)
		}
		var failure *capability.Failure
		if !errors.As(err, &failure) || failure.Code != "boom" {
			t.Errorf("expected wrapped Failure, got %v", err)
		}
	})

	t.Run("plain error is a capability error", func(t *testing.T) {
		exec := newTestExecutor()
		_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{{"type": "ability", "ability": "test/plain-error"}})
		assertCode(t, err, engine.CodeCapability)
		if !errors.Is(err, engine.ErrCapabilityFailed) {
			t.Errorf("expected ErrCapabilityFailed in chain, got %v", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		exec := newTestExecutor()
		ctx := capability.WithPermissions(context.Background(), capability.ParsePermissions("other:read"))
		_, err := exec.Run(ctx, engine.NewContext(nil), []Config{{"type": "ability", "ability": "test/secret"}})
		assertCode(t, err, engine.CodePermission)

		ctx = capability.WithPermissions(context.Background(), capability.ParsePermissions("secret:*"))
		if _, err := exec.Run(ctx, engine.NewContext(nil), []Config{{"type": "ability", "ability": "test/secret"}}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("input must be an object", func(t *testing.T) {
		exec := newTestExecutor()
		_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{{"type": "ability", "ability": "core/echo", "input": "x"}})
		assertCode(t, err, engine.CodeConfig)
	})
}

// Conditional

func TestConditional(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		name string
		cfg  Config
		want any
	}{
		{
			name: "else branch",
			cfg: Config{
				"type":      "conditional",
				"condition": map[string]any{"field": 1, "operator": ">", "value": 3},
				"then":      []any{identityStep("then", "")},
				"else":      []any{identityStep("else", "")},
			},
			want: "else",
		},
		{
			name: "absent branch yields nil",
			cfg: Config{
				"type":      "conditional",
				"condition": map[string]any{"field": 1, "operator": ">", "value": 3},
				"then":      []any{identityStep("then", "")},
			},
			want: nil,
		},
		{
			name: "last step result",
			cfg: Config{
				"type":      "conditional",
				"condition": true,
				"then":      []any{identityStep("first", ""), identityStep("second", "")},
			},
			want: "second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exec.ExecuteStep(context.Background(), engine.NewContext(nil), tt.cfg, "steps[0]")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// Loop

func TestLoop_IndexAndScope(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(map[string]any{"prefix": "p"})

	result, err := exec.Run(context.Background(), vars, []Config{{
		"type":     "loop",
		"input":    []any{"a", "b"},
		"indexVar": "i",
		"steps": []any{
			identityStep("$item", "tmp"),
			identityStep([]any{"$prefix", "$i", "$tmp"}, ""),
		},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []any{[]any{"p", 0, "a"}, []any{"p", 1, "b"}}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("expected %v, got %v", want, result)
	}

	// Переменные итерации не утекают наружу
	for _, name := range []string{"item", "i", "tmp"} {
		if _, ok := vars.Get(name); ok {
			t.Errorf("loop variable %q leaked into parent scope", name)
		}
	}
}

func TestLoop_ScopeBalanceOnFailure(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)
	depth := vars.Depth()

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type":  "loop",
		"input": []any{1, 2, 3},
		"steps": []any{
			Config{
				"type":      "conditional",
				"condition": map[string]any{"field": "$item", "operator": "==", "value": 2},
				"then":      []any{failStep()},
			},
		},
	}})
	if err == nil {
		t.Fatal("expected error from second iteration")
	}
	execErr := assertCode(t, err, engine.CodeCapability)
	if execErr.Path != "steps[0].steps[0].then[0]" {
		t.Errorf("expected innermost path, got %s", execErr.Path)
	}
	if vars.Depth() != depth {
		t.Errorf("scope depth changed after failure: %d -> %d", depth, vars.Depth())
	}
}

// Parallel

func TestParallel_FaultIsolation(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(map[string]any{"x": 42})

	result, err := exec.Run(context.Background(), vars, []Config{{
		"type": "parallel",
		"steps": []any{
			identityStep("a", "first"),
			failStep(),
			identityStep("$x", ""),
		},
		"output": "collected",
	}})
	if err != nil {
		t.Fatalf("parallel must not propagate branch errors, got %v", err)
	}

	results := result.(map[string]any)
	if len(results) != 3 {
		t.Fatalf("expected 3 entries, got %v", results)
	}
	if results["first"] != "a" {
		t.Errorf("expected first=a, got %v", results["first"])
	}
	if results["2"] != 42 {
		t.Errorf("expected 2=42, got %v", results["2"])
	}

	failed, ok := results["1"].(map[string]any)
	if !ok {
		t.Fatalf("expected error descriptor, got %v", results["1"])
	}
	if failed["step"] != "1" || !strings.Contains(failed["error"].(string), "it broke") {
		t.Errorf("unexpected error descriptor: %v", failed)
	}

	if !reflect.DeepEqual(mustGet(t, vars, "collected"), results) {
		t.Error("collection should be stored under output")
	}

	// Ветки работают над копиями контекста
	if _, ok := vars.Get("first"); ok {
		t.Error("branch output leaked into parent context")
	}
}

func TestParallel_MapBranches(t *testing.T) {
	exec := newTestExecutor()

	result, err := exec.ExecuteStep(context.Background(), engine.NewContext(nil), Config{
		"type": "parallel",
		"steps": map[string]any{
			"users":  identityStep("u", ""),
			"orders": identityStep("o", "named"),
			"broken": failStep(),
		},
	}, "steps[0]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := result.(map[string]any)
	if results["users"] != "u" || results["named"] != "o" {
		t.Errorf("unexpected results: %v", results)
	}
	if failed := results["broken"].(map[string]any); failed["step"] != "broken" {
		t.Errorf("unexpected error descriptor: %v", failed)
	}
}

func TestParallel_MaxConcurrency(t *testing.T) {
	var current, peak int32

	caps := capability.NewRegistry()
	caps.Register(capability.New(capability.Definition{
		Name: "test/slow",
		Handler: func(context.Context, map[string]any) (any, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return n, nil
		},
	}))
	exec := NewExecutor(Options{Capabilities: caps})

	branches := make([]any, 6)
	for i := range branches {
		branches[i] = Config{"type": "ability", "ability": "test/slow"}
	}

	result, err := exec.ExecuteStep(context.Background(), engine.NewContext(nil), Config{
		"type":           "parallel",
		"steps":          branches,
		"maxConcurrency": 2,
	}, "steps[0]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.(map[string]any)) != 6 {
		t.Errorf("expected 6 results, got %v", result)
	}
	if p := atomic.LoadInt32(&peak); p > 2 || p < 1 {
		t.Errorf("expected at most 2 concurrent branches, got %d", p)
	}
}

func TestParallel_InvalidConfig(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"steps not a collection", Config{"type": "parallel", "steps": "x"}},
		{"bad maxConcurrency", Config{"type": "parallel", "steps": []any{}, "maxConcurrency": 0}},
		{"duplicate slot", Config{"type": "parallel", "steps": []any{identityStep(1, "a"), identityStep(2, "a")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.ExecuteStep(context.Background(), engine.NewContext(nil), tt.cfg, "steps[0]")
			assertCode(t, err, engine.CodeConfig)
		})
	}
}

// Sub-pipeline

func TestSubPipeline(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(map[string]any{"user": "alice", "shadowed": "outer"})
	depth := vars.Depth()

	result, err := exec.Run(context.Background(), vars, []Config{{
		"type": "sub_pipeline",
		"pipeline": map[string]any{
			"steps": []any{
				identityStep("inner", "local"),
				identityStep([]any{"$name", "$user", "$shadowed"}, ""),
			},
		},
		"inputs": map[string]any{"name": "$user", "shadowed": "inner"},
		"output": "sub",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []any{"alice", "alice", "inner"}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("expected %v, got %v", want, result)
	}
	if _, ok := vars.Get("local"); ok {
		t.Error("sub-pipeline binding leaked into parent")
	}
	if _, ok := vars.Get("name"); ok {
		t.Error("sub-pipeline inputs leaked into parent")
	}
	if v := mustGet(t, vars, "shadowed"); v != "outer" {
		t.Errorf("parent variable was overwritten: %v", v)
	}
	if vars.Depth() != depth {
		t.Errorf("scope depth changed: %d -> %d", depth, vars.Depth())
	}
}

func TestSubPipeline_ScopeBalanceOnFailure(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)
	depth := vars.Depth()

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type": "sub_pipeline",
		"pipeline": map[string]any{
			"steps": []any{identityStep(1, "before"), failStep(), identityStep(2, "after")},
		},
	}})
	execErr := assertCode(t, err, engine.CodeCapability)
	if execErr.Path != "steps[0].pipeline.steps[1]" {
		t.Errorf("unexpected path: %s", execErr.Path)
	}
	if vars.Depth() != depth {
		t.Errorf("scope depth changed after failure: %d -> %d", depth, vars.Depth())
	}
}

func TestSubPipeline_Named(t *testing.T) {
	exec := NewExecutor(Options{
		Capabilities: testCapabilities(),
		Loader: fakeLoader{
			"greet": {identityStep("$name", "")},
		},
	})

	result, err := exec.ExecuteStep(context.Background(), engine.NewContext(nil), Config{
		"type":     "sub_pipeline",
		"pipeline": "greet",
		"inputs":   map[string]any{"name": "bob"},
	}, "steps[0]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "bob" {
		t.Errorf("expected bob, got %v", result)
	}

	// Без loader именованный pipeline — ошибка конфигурации
	_, err = newTestExecutor().ExecuteStep(context.Background(), engine.NewContext(nil), Config{
		"type":     "sub_pipeline",
		"pipeline": "greet",
	}, "steps[0]")
	assertCode(t, err, engine.CodeConfig)
}

// Try/Catch/Finally

func TestTryCatch_StateMachine(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantErr    bool
		wantResult any
		ran        []string
		notRan     []string
	}{
		{
			name: "try succeeds, catch skipped, finally runs",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{identityStep("ok", "tried")},
				"catch":   []any{identityStep("caught", "caught")},
				"finally": []any{identityStep(true, "finalized")},
			},
			wantResult: "ok",
			ran:        []string{"tried", "finalized"},
			notRan:     []string{"caught", "error"},
		},
		{
			name: "try fails, catch absorbs, finally runs",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{failStep(), identityStep("never", "tried")},
				"catch":   []any{identityStep("recovered", "caught")},
				"finally": []any{identityStep(true, "finalized")},
			},
			wantResult: "recovered",
			ran:        []string{"caught", "finalized", "error"},
			notRan:     []string{"tried"},
		},
		{
			name: "try fails without catch, error propagates after finally",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{failStep()},
				"finally": []any{identityStep(true, "finalized")},
			},
			wantErr: true,
			ran:     []string{"finalized", "error"},
		},
		{
			name: "finally sees error without catch",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{failStep()},
				"finally": []any{identityStep("$error.message", "seen")},
			},
			wantErr: true,
			ran:     []string{"error", "seen"},
		},
		{
			name: "empty catch does not absorb",
			cfg: Config{
				"type":  "try_catch",
				"try":   []any{failStep()},
				"catch": []any{},
			},
			wantErr: true,
		},
		{
			name: "finally failure does not replace success",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{identityStep("ok", "tried")},
				"finally": []any{failStep(), identityStep(true, "unreached")},
			},
			wantResult: "ok",
			ran:        []string{"tried"},
			notRan:     []string{"unreached"},
		},
		{
			name: "finally failure does not replace caught result",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{failStep()},
				"catch":   []any{identityStep("recovered", "caught")},
				"finally": []any{failStep()},
			},
			wantResult: "recovered",
			ran:        []string{"caught"},
		},
		{
			name: "catch failure propagates and finally still runs",
			cfg: Config{
				"type":    "try_catch",
				"try":     []any{failStep()},
				"catch":   []any{Config{"type": "ability", "ability": "missing/capability"}},
				"finally": []any{identityStep(true, "finalized")},
			},
			wantErr: true,
			ran:     []string{"finalized", "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newTestExecutor()
			vars := engine.NewContext(nil)

			result, err := exec.ExecuteStep(context.Background(), vars, tt.cfg, "steps[0]")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if result != tt.wantResult {
					t.Errorf("expected result %v, got %v", tt.wantResult, result)
				}
			}

			for _, name := range tt.ran {
				if _, ok := vars.Get(name); !ok {
					t.Errorf("expected %q to be set", name)
				}
			}
			for _, name := range tt.notRan {
				if _, ok := vars.Get(name); ok {
					t.Errorf("expected %q not to be set", name)
				}
			}
		})
	}
}

func TestTryCatch_ErrorInfo(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)

	_, err := exec.Run(context.Background(), vars, []Config{{
		"type":  "try_catch",
		"try":   []any{identityStep(1, ""), failStep()},
		"catch": []any{identityStep("$error.code", "code")},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := mustGet(t, vars, "error").(map[string]any)
	if info["step"] != "steps[0].try[1]" || info["type"] != "ability" || info["capability"] != "test/fail" {
		t.Errorf("unexpected error info: %v", info)
	}
	if mustGet(t, vars, "code") != "capability_error" {
		t.Errorf("catch should see error.code, got %v", mustGet(t, vars, "code"))
	}
}

func TestTryCatch_OriginalErrorPropagates(t *testing.T) {
	exec := newTestExecutor()

	_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{{
		"type":    "try_catch",
		"try":     []any{failStep()},
		"finally": []any{Config{"type": "ability", "ability": "missing/capability"}},
	}})
	execErr := assertCode(t, err, engine.CodeCapability)
	if execErr.Capability != "test/fail" {
		t.Errorf("finally error must not replace original, got %v", execErr)
	}
}

// Executor

func TestExecutor_Observer(t *testing.T) {
	obs := newFakeObserver()
	exec := NewExecutor(Options{Capabilities: testCapabilities(), Observer: obs})

	_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{
		{"type": "loop", "input": []any{1, 2}, "steps": []any{Config{"type": "ability", "ability": "core/echo"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if obs.steps["loop"] != 1 || obs.steps["ability"] != 2 {
		t.Errorf("unexpected step counts: %v", obs.steps)
	}
	if obs.caps["core/echo"] != 2 {
		t.Errorf("unexpected capability counts: %v", obs.caps)
	}
}

func TestExecutor_MaxDepth(t *testing.T) {
	exec := NewExecutor(Options{MaxDepth: 3})

	nested := Config{"type": "conditional", "condition": true, "then": []any{identityStep(1, "")}}
	for i := 0; i < 3; i++ {
		nested = Config{"type": "conditional", "condition": true, "then": []any{nested}}
	}

	_, err := exec.Run(context.Background(), engine.NewContext(nil), []Config{nested})
	if !errors.Is(err, engine.ErrMaxDepth) {
		t.Errorf("expected ErrMaxDepth, got %v", err)
	}

	if err := exec.Validate([]Config{nested}); !errors.Is(err, engine.ErrMaxDepth) {
		t.Errorf("Validate: expected ErrMaxDepth, got %v", err)
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	exec := newTestExecutor()
	vars := engine.NewContext(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Run(ctx, vars, []Config{identityStep(1, "x")})
	assertCode(t, err, engine.CodeCancelled)
	if _, ok := vars.Get("x"); ok {
		t.Error("no step should run after cancellation")
	}
}

func TestExecutor_CancelNotCaught(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caps := testCapabilities()
	caps.Register(capability.New(capability.Definition{
		Name: "test/cancel",
		Handler: func(context.Context, map[string]any) (any, error) {
			cancel()
			return "cancelled", nil
		},
	}))
	exec := NewExecutor(Options{Capabilities: caps})
	vars := engine.NewContext(nil)

	_, err := exec.Run(ctx, vars, []Config{{
		"type": "try_catch",
		"try": []any{
			Config{"type": "ability", "ability": "test/cancel"},
			identityStep(1, "after"),
		},
		"catch":   []any{identityStep("caught", "caught")},
		"finally": []any{identityStep(true, "finalized")},
	}})
	assertCode(t, err, engine.CodeCancelled)

	// Отмена не перехватывается catch, но finally выполняется
	if _, ok := vars.Get("caught"); ok {
		t.Error("catch must not run on cancellation")
	}
	if _, ok := vars.Get("after"); ok {
		t.Error("no step should run after cancellation")
	}
	if _, ok := vars.Get("finalized"); !ok {
		t.Error("finally must run on cancellation")
	}
}

func TestExecutor_Validate(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		name     string
		steps    []Config
		wantPath string
		wantErr  error
	}{
		{
			name: "valid nested pipeline",
			steps: []Config{
				{
					"type":  "try_catch",
					"try":   []any{identityStep(1, "")},
					"catch": []any{identityStep(2, "")},
				},
				{
					"type":  "parallel",
					"steps": map[string]any{"a": identityStep(1, "")},
				},
				{
					"type":     "sub_pipeline",
					"pipeline": map[string]any{"steps": []any{identityStep(1, "")}},
				},
			},
		},
		{
			name: "unknown key inside try",
			steps: []Config{{
				"type": "try_catch",
				"try":  []any{Config{"type": "transform", "operation": "identity", "input": 1, "extra": 1}},
			}},
			wantPath: "steps[0].try[0]",
			wantErr:  engine.ErrInvalidConfig,
		},
		{
			name: "unknown type in parallel map",
			steps: []Config{{
				"type":  "parallel",
				"steps": map[string]any{"x": Config{"type": "nope"}},
			}},
			wantPath: "steps[0].steps.x",
			wantErr:  engine.ErrUnknownStepType,
		},
		{
			name: "unknown operator in else",
			steps: []Config{{
				"type":      "conditional",
				"condition": true,
				"else": []any{Config{
					"type":      "conditional",
					"condition": map[string]any{"operator": "xor", "conditions": []any{}},
				}},
			}},
			wantPath: "steps[0].else[0]",
			wantErr:  engine.ErrUnknownOperator,
		},
		{
			name: "missing steps in sub pipeline",
			steps: []Config{{
				"type":     "sub_pipeline",
				"pipeline": map[string]any{},
			}},
			wantPath: "steps[0]",
			wantErr:  engine.ErrInvalidConfig,
		},
		{
			name:     "steps not a list in loop",
			steps:    []Config{{"type": "loop", "input": []any{}, "steps": "x"}},
			wantPath: "steps[0]",
			wantErr:  engine.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exec.Validate(tt.steps)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var verr *engine.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Path != tt.wantPath {
				t.Errorf("expected path %s, got %s", tt.wantPath, verr.Path)
			}
		})
	}
}

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps([]any{map[string]any{"type": "loop"}})
	if err != nil || len(steps) != 1 || steps[0]["type"] != "loop" {
		t.Errorf("unexpected result: %v, %v", steps, err)
	}

	if _, err := ParseSteps([]any{"x"}); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := ParseSteps("x"); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if steps, err := ParseSteps(nil); err != nil || steps != nil {
		t.Errorf("nil should parse to empty list")
	}
}
