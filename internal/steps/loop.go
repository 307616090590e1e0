package steps

import (
	"context"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// StepTypeLoop — итерация по последовательности.
const StepTypeLoop = "loop"

// Имена переменных цикла по умолчанию.
const (
	defaultItemVar  = "item"
	defaultIndexVar = "index"
)

// LoopStep — шаг цикла.
//
// Каждая итерация выполняется в собственном scope с переменными
// itemVar и indexVar. Scope снимается и при ошибке; ошибка итерации
// прерывает цикл.
//
// Конфигурация:
//
//	{
//	    "type": "loop",
//	    "input": "$orders",
//	    "itemVar": "order",
//	    "indexVar": "i",
//	    "steps": [...],
//	    "output": "processed"
//	}
//
// Результат — список результатов последнего шага каждой итерации.
type LoopStep struct {
	exec *Executor
}

// Type возвращает тип шага.
func (s *LoopStep) Type() string { return StepTypeLoop }

// Keys возвращает ключи конфигурации.
func (s *LoopStep) Keys() Keys {
	return Keys{Required: []string{"input", "steps"}, Optional: []string{"itemVar", "indexVar"}}
}

// Check проверяет имена переменных цикла.
func (s *LoopStep) Check(cfg Config) error {
	_, _, err := loopVars(cfg)
	return err
}

// Children возвращает тело цикла.
func (s *LoopStep) Children(cfg Config) ([]Child, error) {
	steps, err := stepList(cfg, "steps")
	if err != nil {
		return nil, err
	}
	return listChildren("steps", steps), nil
}

// Execute выполняет тело для каждого элемента.
func (s *LoopStep) Execute(ctx context.Context, req *Request) (any, error) {
	itemVar, indexVar, err := loopVars(req.Config)
	if err != nil {
		return nil, err
	}

	steps, err := stepList(req.Config, "steps")
	if err != nil {
		return nil, err
	}

	input, err := req.Vars.ResolveValue(req.Config["input"])
	if err != nil {
		return nil, err
	}
	items, ok := engine.ToSlice(input)
	if !ok {
		return nil, invalidConfig("loop input must be an array, got %T", input)
	}

	bodyPath := childPath(req.Path, "steps")
	results := make([]any, 0, len(items))

	for i, item := range items {
		var last any
		err := req.Vars.WithScope(map[string]any{itemVar: item, indexVar: i}, func() error {
			var err error
			last, err = s.exec.ExecuteSteps(ctx, req.Vars, steps, bodyPath)
			return err
		})
		if err != nil {
			return nil, err
		}
		results = append(results, last)
	}

	return results, nil
}

func loopVars(cfg Config) (string, string, error) {
	itemVar, indexVar := defaultItemVar, defaultIndexVar

	if v, ok := cfg["itemVar"]; ok {
		s, isStr := v.(string)
		if !isStr || s == "" {
			return "", "", invalidConfig("itemVar must be a non-empty string")
		}
		itemVar = s
	}
	if v, ok := cfg["indexVar"]; ok {
		s, isStr := v.(string)
		if !isStr || s == "" {
			return "", "", invalidConfig("indexVar must be a non-empty string")
		}
		indexVar = s
	}
	if itemVar == indexVar {
		return "", "", invalidConfig("itemVar and indexVar must differ")
	}
	return itemVar, indexVar, nil
}
