package transform

import (
	"fmt"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// ErrorType — тип ошибки операции.
type ErrorType string

const (
	// ErrorTypeTypeError — вход неподходящего типа (pluck от строки и т.п.).
	ErrorTypeTypeError ErrorType = "type_error"

	// ErrorTypeValidation — неверные параметры операции.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeExpression — ошибка выражения jq или шаблона.
	ErrorTypeExpression ErrorType = "expression_error"

	// ErrorTypeParse — невалидный JSON.
	ErrorTypeParse ErrorType = "parse_error"

	// ErrorTypeLimitExceeded — превышен лимит размера или времени.
	ErrorTypeLimitExceeded ErrorType = "limit_exceeded"
)

// OperationError — ошибка операции трансформации.
type OperationError struct {
	Operation string
	Message   string
	Type      ErrorType
	Cause     error
}

// Error реализует интерфейс error.
func (e *OperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// Unwrap возвращает исходную ошибку.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Is сопоставляет ошибку с sentinel'ами engine.
// Неверные параметры — ошибка конфигурации, остальное — ошибка трансформации.
func (e *OperationError) Is(target error) bool {
	if target == engine.ErrTransformFailed {
		return true
	}
	return e.Type == ErrorTypeValidation && target == engine.ErrInvalidConfig
}

func typeError(op string, want string, got any) *OperationError {
	return &OperationError{
		Operation: op,
		Message:   fmt.Sprintf("input must be %s, got %T", want, got),
		Type:      ErrorTypeTypeError,
	}
}

func paramError(op, message string) *OperationError {
	return &OperationError{
		Operation: op,
		Message:   message,
		Type:      ErrorTypeValidation,
	}
}
