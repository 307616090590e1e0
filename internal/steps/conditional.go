package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// StepTypeConditional — ветвление по условию.
const StepTypeConditional = "conditional"

// ConditionalStep — шаг ветвления.
//
// Конфигурация:
//
//	{
//	    "type": "conditional",
//	    "condition": {"field": "$order.total", "operator": ">", "value": 100},
//	    "then": [...],
//	    "else": [...]
//	}
//
// Результат — результат последнего шага выбранной ветки.
// Если ветки нет — nil без ошибки.
type ConditionalStep struct {
	exec *Executor
}

// Type возвращает тип шага.
func (s *ConditionalStep) Type() string { return StepTypeConditional }

// Keys возвращает ключи конфигурации.
func (s *ConditionalStep) Keys() Keys {
	return Keys{Required: []string{"condition"}, Optional: []string{"then", "else"}}
}

// Check проверяет операторы дерева условия.
func (s *ConditionalStep) Check(cfg Config) error {
	return checkCondition(cfg["condition"])
}

// Children возвращает шаги веток then и else.
func (s *ConditionalStep) Children(cfg Config) ([]Child, error) {
	thenSteps, err := stepList(cfg, "then")
	if err != nil {
		return nil, err
	}
	elseSteps, err := stepList(cfg, "else")
	if err != nil {
		return nil, err
	}
	return append(listChildren("then", thenSteps), listChildren("else", elseSteps)...), nil
}

// Execute вычисляет условие и выполняет ветку.
func (s *ConditionalStep) Execute(ctx context.Context, req *Request) (any, error) {
	ok, err := engine.EvaluateCondition(req.Config["condition"], req.Vars)
	if err != nil {
		return nil, err
	}

	branch := "else"
	if ok {
		branch = "then"
	}

	steps, err := stepList(req.Config, branch)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}

	return s.exec.ExecuteSteps(ctx, req.Vars, steps, childPath(req.Path, branch))
}

// checkCondition статически проверяет форму условия и операторы.
func checkCondition(cond any) error {
	switch c := cond.(type) {
	case bool, string:
		return nil
	case map[string]any:
		op, _ := c["operator"].(string)
		if op == "" {
			return invalidConfig("condition has no operator")
		}
		if !engine.IsOperator(op) {
			return fmt.Errorf("%w: %s", engine.ErrUnknownOperator, op)
		}
		if op != engine.OpAnd && op != engine.OpOr {
			return nil
		}
		subs, ok := c["conditions"].([]any)
		if !ok {
			return invalidConfig("%q condition requires a conditions list", op)
		}
		for _, sub := range subs {
			if err := checkCondition(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return invalidConfig("condition must be an object, got %T", cond)
	}
}
