package steps

import (
	"context"

	"github.com/shaiso/Pipeflow/internal/engine"
	"github.com/shaiso/Pipeflow/internal/telemetry"
)

// StepTypeTryCatch — обработка ошибок.
const StepTypeTryCatch = "try_catch"

// ErrorVar — переменная с описанием ошибки внутри catch.
const ErrorVar = "error"

// TryCatchStep — шаг try/catch/finally.
//
// Состояния: try → готово, либо try → catch → готово / ошибка.
// finally выполняется перед выходом из шага в любом случае.
//
//   - Ошибка try сохраняется в переменную error до catch и finally:
//     {"message", "code", "type", "step", "capability"}
//   - Непустой catch поглощает ошибку; результат шага — результат catch
//   - Если catch сам упал, наружу уходит ошибка catch
//   - Без catch исходная ошибка пробрасывается после finally
//   - Ошибка finally только логируется и не меняет исход шага
//   - Отмена запуска не перехватывается; finally при этом выполняется
//     с контекстом без отмены
//
// Конфигурация:
//
//	{
//	    "type": "try_catch",
//	    "try": [...],
//	    "catch": [...],
//	    "finally": [...]
//	}
type TryCatchStep struct {
	exec *Executor
}

// Type возвращает тип шага.
func (s *TryCatchStep) Type() string { return StepTypeTryCatch }

// Keys возвращает ключи конфигурации.
func (s *TryCatchStep) Keys() Keys {
	return Keys{Required: []string{"try"}, Optional: []string{"catch", "finally"}}
}

// Children возвращает шаги try, catch и finally.
func (s *TryCatchStep) Children(cfg Config) ([]Child, error) {
	var children []Child
	for _, key := range []string{"try", "catch", "finally"} {
		list, err := stepList(cfg, key)
		if err != nil {
			return nil, err
		}
		children = append(children, listChildren(key, list)...)
	}
	return children, nil
}

// Execute выполняет try, при ошибке catch, и всегда finally.
func (s *TryCatchStep) Execute(ctx context.Context, req *Request) (any, error) {
	trySteps, err := stepList(req.Config, "try")
	if err != nil {
		return nil, err
	}
	catchSteps, err := stepList(req.Config, "catch")
	if err != nil {
		return nil, err
	}
	finallySteps, err := stepList(req.Config, "finally")
	if err != nil {
		return nil, err
	}

	defer s.runFinally(ctx, req, finallySteps)

	result, tryErr := s.exec.ExecuteSteps(ctx, req.Vars, trySteps, childPath(req.Path, "try"))
	if tryErr == nil {
		return result, nil
	}

	// error виден и в catch, и в finally
	execErr := engine.AsExecutionError(tryErr, StepTypeTryCatch, req.Path)
	req.Vars.Set(ErrorVar, execErr.Info())

	if execErr.Code == engine.CodeCancelled || len(catchSteps) == 0 {
		return nil, execErr
	}

	result, catchErr := s.exec.ExecuteSteps(ctx, req.Vars, catchSteps, childPath(req.Path, "catch"))
	if catchErr != nil {
		return nil, catchErr
	}
	return result, nil
}

// runFinally выполняет finally; ошибки только логируются.
func (s *TryCatchStep) runFinally(ctx context.Context, req *Request, steps []Config) {
	if len(steps) == 0 {
		return
	}

	_, err := s.exec.ExecuteSteps(context.WithoutCancel(ctx), req.Vars, steps, childPath(req.Path, "finally"))
	if err != nil {
		telemetry.FromContext(ctx).Warn("finally block failed",
			"path", req.Path,
			"error", err,
		)
	}
}
