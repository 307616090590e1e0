package engine

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки конфигурации шагов.
var (
	// ErrInvalidConfig — невалидная конфигурация шага (нет обязательного ключа, лишний ключ, неверный тип).
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrUnknownOperator — неизвестный оператор условия.
	ErrUnknownOperator = errors.New("unknown condition operator")

	// ErrUnknownOperation — неизвестная операция трансформации.
	ErrUnknownOperation = errors.New("unknown transform operation")

	// ErrMaxDepth — превышена максимальная глубина вложенности шагов.
	ErrMaxDepth = errors.New("max nesting depth exceeded")
)

// Ошибки контекста переменных.
var (
	// ErrReference — ссылка на несуществующую переменную.
	ErrReference = errors.New("unresolved reference")

	// ErrScopeUnderflow — попытка снять корневой scope.
	ErrScopeUnderflow = errors.New("cannot pop root scope")
)

// Ошибки capabilities.
var (
	// ErrCapabilityUnavailable — реестр capabilities не подключён.
	ErrCapabilityUnavailable = errors.New("capability registry not available")

	// ErrCapabilityNotFound — capability с таким именем не зарегистрирована.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrCapabilityFailed — capability вернула ошибку.
	ErrCapabilityFailed = errors.New("capability failed")

	// ErrPermissionDenied — нет прав на вызов capability.
	ErrPermissionDenied = errors.New("permission denied")
)

// Ошибки выполнения.
var (
	// ErrTransformFailed — операция трансформации завершилась ошибкой.
	ErrTransformFailed = errors.New("transform failed")

	// ErrCancelled — выполнение pipeline отменено.
	ErrCancelled = errors.New("execution cancelled")
)

// ErrorCode — классификация ошибки выполнения.
// Попадает в error.code внутри catch блока и в Run.Error.
type ErrorCode string

const (
	CodeConfig     ErrorCode = "config_error"
	CodeReference  ErrorCode = "reference_error"
	CodeCapability ErrorCode = "capability_error"
	CodePermission ErrorCode = "permission_denied"
	CodeTransform  ErrorCode = "transform_error"
	CodeCancelled  ErrorCode = "cancelled"
	CodeExecution  ErrorCode = "execution_error"
)

// Classify определяет ErrorCode по цепочке ошибок.
func Classify(err error) ErrorCode {
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Code != "" {
		return execErr.Code
	}

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.Is(err, ErrReference):
		return CodeReference
	case errors.Is(err, ErrPermissionDenied):
		return CodePermission
	case errors.Is(err, ErrCapabilityUnavailable),
		errors.Is(err, ErrCapabilityNotFound),
		errors.Is(err, ErrCapabilityFailed):
		return CodeCapability
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrUnknownStepType),
		errors.Is(err, ErrUnknownOperator),
		errors.Is(err, ErrUnknownOperation),
		errors.Is(err, ErrMaxDepth):
		return CodeConfig
	case errors.Is(err, ErrTransformFailed):
		return CodeTransform
	default:
		return CodeExecution
	}
}

// ExecutionError — ошибка выполнения шага с местом и классификацией.
//
// Любая ошибка, вышедшая из Executor, имеет этот тип.
// Path — путь шага в определении pipeline, например "steps[1].try[0]".
type ExecutionError struct {
	Code       ErrorCode // классификация
	StepType   string    // тип шага, где произошла ошибка
	Path       string    // путь шага в pipeline
	Capability string    // имя capability (для ability шагов)
	Message    string    // описание ошибки
	Err        error     // исходная ошибка
}

// Error реализует интерфейс error.
func (e *ExecutionError) Error() string {
	switch {
	case e.Path != "" && e.StepType != "":
		return fmt.Sprintf("%s (%s): %s", e.Path, e.StepType, e.Message)
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}

// Unwrap возвращает исходную ошибку.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Info возвращает описание ошибки в виде map.
// Кладётся в контекст под ключом "error" на время catch.
func (e *ExecutionError) Info() map[string]any {
	info := map[string]any{
		"message":    e.Message,
		"code":       string(e.Code),
		"type":       e.StepType,
		"step":       e.Path,
		"capability": nil,
	}
	if e.Capability != "" {
		info["capability"] = e.Capability
	}
	return info
}

// NewExecutionError создаёт ошибку выполнения.
// Code определяется по err, если не удаётся — CodeExecution.
func NewExecutionError(stepType, path, message string, err error) *ExecutionError {
	return &ExecutionError{
		Code:     Classify(err),
		StepType: stepType,
		Path:     path,
		Message:  message,
		Err:      err,
	}
}

// AsExecutionError приводит err к *ExecutionError.
//
// Если err уже содержит ExecutionError — возвращает её,
// иначе оборачивает err с указанными типом шага и путём.
func AsExecutionError(err error, stepType, path string) *ExecutionError {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return NewExecutionError(stepType, path, err.Error(), err)
}

// ValidationError — ошибка статической валидации шага.
type ValidationError struct {
	Path    string // путь шага, где произошла ошибка
	Field   string // ключ конфигурации, вызвавший ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return "step " + e.Path + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(path, field, message string, err error) *ValidationError {
	return &ValidationError{
		Path:    path,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
