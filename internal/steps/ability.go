package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// StepTypeAbility — вызов capability.
const StepTypeAbility = "ability"

// AbilityStep — шаг вызова capability.
//
// Конфигурация:
//
//	{
//	    "type": "ability",
//	    "ability": "core/http-request",
//	    "input": {"url": "$api.base_url"},
//	    "output": "response"
//	}
//
// Результат — значение, возвращённое capability.
type AbilityStep struct {
	exec *Executor
}

// Type возвращает тип шага.
func (s *AbilityStep) Type() string { return StepTypeAbility }

// Keys возвращает ключи конфигурации.
func (s *AbilityStep) Keys() Keys {
	return Keys{Required: []string{"ability"}, Optional: []string{"input"}}
}

// Execute вызывает capability.
func (s *AbilityStep) Execute(ctx context.Context, req *Request) (any, error) {
	if s.exec.caps == nil {
		return nil, s.fail(req, "", engine.ErrCapabilityUnavailable.Error(), engine.ErrCapabilityUnavailable)
	}

	// Имя может быть ссылкой: "$target.capability"
	rawName, err := req.Vars.ResolveValue(req.Config["ability"])
	if err != nil {
		return nil, err
	}
	name, ok := rawName.(string)
	if !ok || name == "" {
		return nil, invalidConfig("ability must be a non-empty string, got %T", rawName)
	}

	c, err := s.exec.caps.Lookup(name)
	if err != nil {
		return nil, s.fail(req, name, err.Error(), err)
	}

	input, err := resolveInput(req)
	if err != nil {
		return nil, err
	}

	if err := c.CheckPermission(ctx); err != nil {
		return nil, s.fail(req, name, fmt.Sprintf("capability %s: %v", name, err), err)
	}

	start := time.Now()
	result, err := c.Execute(ctx, input)
	if s.exec.observer != nil {
		s.exec.observer.CapabilityCalled(name, time.Since(start), err)
	}
	if err != nil {
		cause := err
		if engine.Classify(err) == engine.CodeExecution {
			cause = fmt.Errorf("%w: %w", engine.ErrCapabilityFailed, err)
		}
		return nil, s.fail(req, name, fmt.Sprintf("capability %s failed: %v", name, err), cause)
	}

	return result, nil
}

// resolveInput разрешает input; отсутствующий input — пустой map.
func resolveInput(req *Request) (map[string]any, error) {
	raw, ok := req.Config["input"]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	resolved, err := req.Vars.ResolveValue(raw)
	if err != nil {
		return nil, err
	}
	input, ok := resolved.(map[string]any)
	if !ok {
		return nil, invalidConfig("ability input must be an object, got %T", resolved)
	}
	return input, nil
}

func (s *AbilityStep) fail(req *Request, name, message string, err error) *engine.ExecutionError {
	execErr := engine.NewExecutionError(StepTypeAbility, req.Path, message, err)
	execErr.Capability = name
	return execErr
}
