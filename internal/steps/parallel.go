package steps

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Pipeflow/internal/engine"
	"github.com/shaiso/Pipeflow/internal/telemetry"
)

// StepTypeParallel — независимое выполнение веток.
const StepTypeParallel = "parallel"

// ParallelStep — шаг параллельного выполнения.
//
// Каждая ветка — один шаг. Ветки выполняются в горутинах,
// не более maxConcurrency одновременно, каждая над своей копией
// контекста (Context.Snapshot): переменные, записанные веткой,
// не видны ни родителю, ни другим веткам.
//
// Ошибка ветки не прерывает группу: в слот ветки записывается
// {"error": "<сообщение>", "step": "<ключ>"}, остальные ветки продолжают работу.
//
// Конфигурация (список или map):
//
//	{
//	    "type": "parallel",
//	    "steps": [
//	        {"type": "ability", "ability": "core/http-request", "input": {...}, "output": "users"},
//	        {"type": "ability", "ability": "core/http-request", "input": {...}}
//	    ],
//	    "maxConcurrency": 4,
//	    "output": "fetched"
//	}
//
// Результат — map: слот ветки называется её output, иначе индексом ("1")
// или ключом map.
//
//	{"users": [...], "1": {...}}
type ParallelStep struct {
	exec *Executor
}

// branch — ветка parallel с именем слота.
type branch struct {
	key  string // индекс или ключ map
	slot string // имя слота в результате
	path string
	cfg  Config
}

// Type возвращает тип шага.
func (s *ParallelStep) Type() string { return StepTypeParallel }

// Keys возвращает ключи конфигурации.
func (s *ParallelStep) Keys() Keys {
	return Keys{Required: []string{"steps"}, Optional: []string{"maxConcurrency"}}
}

// Check проверяет ветки и уникальность слотов.
func (s *ParallelStep) Check(cfg Config) error {
	if _, err := s.limit(cfg); err != nil {
		return err
	}
	_, err := branches(cfg, "")
	return err
}

// Children возвращает ветки.
func (s *ParallelStep) Children(cfg Config) ([]Child, error) {
	list, err := branches(cfg, "")
	if err != nil {
		return nil, err
	}
	children := make([]Child, len(list))
	for i, b := range list {
		children[i] = Child{Path: b.path, Config: b.cfg}
	}
	return children, nil
}

// Execute запускает ветки и собирает результаты.
func (s *ParallelStep) Execute(ctx context.Context, req *Request) (any, error) {
	limit, err := s.limit(req.Config)
	if err != nil {
		return nil, err
	}
	list, err := branches(req.Config, req.Path)
	if err != nil {
		return nil, err
	}

	// Копии снимаются до запуска горутин: родительский контекст
	// в это время не меняется.
	snapshots := make([]*engine.Context, len(list))
	for i := range list {
		snapshots[i] = req.Vars.Snapshot()
	}

	logger := telemetry.FromContext(ctx)
	slots := make([]any, len(list))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, b := range list {
		g.Go(func() error {
			result, err := s.exec.ExecuteStep(ctx, snapshots[i], b.cfg, b.path)
			if err != nil {
				logger.Warn("parallel branch failed",
					"path", b.path,
					"error", err,
				)
				slots[i] = map[string]any{
					"error": engine.AsExecutionError(err, "", b.path).Message,
					"step":  b.key,
				}
				return nil
			}
			slots[i] = result
			return nil
		})
	}
	_ = g.Wait()

	// Отмена всего запуска не является ошибкой ветки
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCancelled, err)
	}

	results := make(map[string]any, len(list))
	for i, b := range list {
		results[b.slot] = slots[i]
	}
	return results, nil
}

// limit возвращает maxConcurrency или значение Executor по умолчанию.
func (s *ParallelStep) limit(cfg Config) (int, error) {
	raw, ok := cfg["maxConcurrency"]
	if !ok {
		return s.exec.maxParallel, nil
	}
	n, isNum := engine.ToFloat(raw)
	if !isNum || n < 1 || n != float64(int(n)) {
		return 0, invalidConfig("maxConcurrency must be a positive integer, got %v", raw)
	}
	return int(n), nil
}

// branches разбирает steps (список или map) в ветки.
func branches(cfg Config, parent string) ([]branch, error) {
	var list []branch

	switch v := cfg["steps"].(type) {
	case []any, []Config:
		steps, err := ParseSteps(v)
		if err != nil {
			return nil, fmt.Errorf("steps: %w", err)
		}
		for i, step := range steps {
			key := strconv.Itoa(i)
			list = append(list, branch{
				key:  key,
				path: childPath(parent, fmt.Sprintf("steps[%d]", i)),
				cfg:  step,
			})
		}

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			step, ok := v[k].(map[string]any)
			if !ok {
				return nil, invalidConfig("parallel step %q must be an object, got %T", k, v[k])
			}
			list = append(list, branch{
				key:  k,
				path: childPath(parent, "steps."+k),
				cfg:  step,
			})
		}

	default:
		return nil, invalidConfig("parallel steps must be a list or an object, got %T", cfg["steps"])
	}

	seen := make(map[string]bool, len(list))
	for i := range list {
		slot := list[i].key
		if out, ok := list[i].cfg[KeyOutput].(string); ok && out != "" {
			slot = out
		}
		if seen[slot] {
			return nil, invalidConfig("duplicate parallel result slot: %s", slot)
		}
		seen[slot] = true
		list[i].slot = slot
	}

	return list, nil
}
