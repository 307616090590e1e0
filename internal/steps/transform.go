package steps

import (
	"context"
)

// StepTypeTransform — тип шага трансформации.
const StepTypeTransform = "transform"

// TransformStep — шаг трансформации данных.
//
// Разрешает input и params через контекст и делегирует
// операцию реестру трансформаций.
//
// Конфигурация:
//
//	{
//	    "type": "transform",
//	    "operation": "pluck",
//	    "input": "$users",
//	    "params": {"field": "name"},
//	    "output": "names"
//	}
type TransformStep struct {
	exec *Executor
}

// Type возвращает тип шага.
func (s *TransformStep) Type() string { return StepTypeTransform }

// Keys возвращает ключи конфигурации.
func (s *TransformStep) Keys() Keys {
	return Keys{Required: []string{"operation", "input"}, Optional: []string{"params"}}
}

// Check проверяет тип operation и params.
func (s *TransformStep) Check(cfg Config) error {
	if op, ok := cfg["operation"].(string); !ok || op == "" {
		return invalidConfig("operation must be a non-empty string")
	}
	if params, ok := cfg["params"]; ok && params != nil {
		if _, isMap := params.(map[string]any); !isMap {
			return invalidConfig("params must be an object, got %T", params)
		}
	}
	return nil
}

// Execute применяет операцию.
func (s *TransformStep) Execute(ctx context.Context, req *Request) (any, error) {
	if err := s.Check(req.Config); err != nil {
		return nil, err
	}
	operation := req.Config["operation"].(string)

	input, err := req.Vars.ResolveValue(req.Config["input"])
	if err != nil {
		return nil, err
	}

	params, _ := req.Config["params"].(map[string]any)
	resolved, err := req.Vars.ResolveMap(params)
	if err != nil {
		return nil, err
	}

	return s.exec.ops.Apply(ctx, operation, input, resolved)
}
