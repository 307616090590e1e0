package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// StepTypeSubPipeline — вложенный pipeline.
const StepTypeSubPipeline = "sub_pipeline"

// SubPipelineStep — шаг вложенного pipeline.
//
// inputs разрешаются в родительском scope, затем вложенные шаги
// выполняются в новом scope, который снимается на любом выходе.
// Внешние переменные остаются видимыми через обычный поиск по scope'ам.
//
// Конфигурация:
//
//	{
//	    "type": "sub_pipeline",
//	    "pipeline": {"steps": [...]},
//	    "inputs": {"user": "$current_user"}
//	}
//
// pipeline может быть именем сохранённого pipeline:
//
//	{"type": "sub_pipeline", "pipeline": "notify-user", "inputs": {...}}
//
// Результат — результат последнего вложенного шага.
type SubPipelineStep struct {
	exec *Executor
}

// Type возвращает тип шага.
func (s *SubPipelineStep) Type() string { return StepTypeSubPipeline }

// Keys возвращает ключи конфигурации.
func (s *SubPipelineStep) Keys() Keys {
	return Keys{Required: []string{"pipeline"}, Optional: []string{"inputs"}}
}

// Check проверяет форму pipeline и inputs.
func (s *SubPipelineStep) Check(cfg Config) error {
	if inputs, ok := cfg["inputs"]; ok && inputs != nil {
		if _, isMap := inputs.(map[string]any); !isMap {
			return invalidConfig("inputs must be an object, got %T", inputs)
		}
	}
	switch p := cfg["pipeline"].(type) {
	case string:
		if p == "" {
			return invalidConfig("pipeline name is empty")
		}
		return nil
	case map[string]any:
		_, err := inlineSteps(p)
		return err
	default:
		return invalidConfig("pipeline must be an object with steps or a pipeline name, got %T", cfg["pipeline"])
	}
}

// Children возвращает шаги встроенного pipeline.
// Именованные pipeline проверяются при сохранении, здесь не загружаются.
func (s *SubPipelineStep) Children(cfg Config) ([]Child, error) {
	p, ok := cfg["pipeline"].(map[string]any)
	if !ok {
		return nil, nil
	}
	steps, err := inlineSteps(p)
	if err != nil {
		return nil, err
	}
	return listChildren("pipeline.steps", steps), nil
}

// Execute выполняет вложенный pipeline.
func (s *SubPipelineStep) Execute(ctx context.Context, req *Request) (any, error) {
	if err := s.Check(req.Config); err != nil {
		return nil, err
	}

	steps, err := s.load(ctx, req.Config["pipeline"])
	if err != nil {
		return nil, err
	}

	// inputs разрешаются до входа в дочерний scope
	inputs, _ := req.Config["inputs"].(map[string]any)
	resolved, err := req.Vars.ResolveMap(inputs)
	if err != nil {
		return nil, err
	}

	var last any
	err = req.Vars.WithScope(resolved, func() error {
		var err error
		last, err = s.exec.ExecuteSteps(ctx, req.Vars, steps, childPath(req.Path, "pipeline.steps"))
		return err
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (s *SubPipelineStep) load(ctx context.Context, pipeline any) ([]Config, error) {
	switch p := pipeline.(type) {
	case map[string]any:
		return inlineSteps(p)
	case string:
		if s.exec.loader == nil {
			return nil, invalidConfig("named pipeline %q requires a definition loader", p)
		}
		steps, err := s.exec.loader.LoadSteps(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("load pipeline %q: %w", p, err)
		}
		return steps, nil
	}
	return nil, invalidConfig("pipeline must be an object or a name")
}

// inlineSteps читает pipeline.steps.
func inlineSteps(p map[string]any) ([]Config, error) {
	raw, ok := p["steps"]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline.steps is required", engine.ErrInvalidConfig)
	}
	steps, err := ParseSteps(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline.steps: %w", err)
	}
	return steps, nil
}
