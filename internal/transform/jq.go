package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/shaiso/Pipeflow/internal/engine"
)

const (
	// DefaultJQTimeout — время выполнения jq выражения по умолчанию.
	DefaultJQTimeout = 1 * time.Second

	// DefaultMaxInputSize — максимальный размер входа jq (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// JQ — операция jq с таймаутом и лимитом размера входа.
//
//	params: {"expression": ".items | map(.id)"}
//
// Один результат возвращается как есть, несколько — массивом, ни одного — nil.
type JQ struct {
	timeout      time.Duration
	maxInputSize int
}

// NewJQ создаёт операцию jq.
func NewJQ(timeout time.Duration, maxInputSize int) *JQ {
	if timeout <= 0 {
		timeout = DefaultJQTimeout
	}
	if maxInputSize <= 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &JQ{timeout: timeout, maxInputSize: maxInputSize}
}

// Apply реализует Operation.
func (j *JQ) Apply(ctx context.Context, input any, params map[string]any) (any, error) {
	expression := engine.GetString(params, "expression")
	if expression == "" {
		return nil, paramError("jq", "expression is required")
	}

	code, err := CompileJQ(expression)
	if err != nil {
		return nil, err
	}

	// gojq принимает только JSON-совместимые типы
	data, err := j.normalize(input)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil {
				return nil, &OperationError{
					Operation: "jq",
					Message:   fmt.Sprintf("execution timeout after %v", j.timeout),
					Type:      ErrorTypeLimitExceeded,
				}
			}
			return nil, &OperationError{Operation: "jq", Message: "evaluation failed", Type: ErrorTypeExpression, Cause: err}
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// CompileJQ разбирает и компилирует выражение.
// Используется и для статической валидации pipeline.
func CompileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &OperationError{Operation: "jq", Message: "invalid expression", Type: ErrorTypeValidation, Cause: err}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &OperationError{Operation: "jq", Message: "compilation failed", Type: ErrorTypeValidation, Cause: err}
	}
	return code, nil
}

// normalize проверяет размер и приводит вход к типам JSON.
func (j *JQ) normalize(input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, &OperationError{Operation: "jq", Message: "input is not JSON-serializable", Type: ErrorTypeTypeError, Cause: err}
	}
	if len(raw) > j.maxInputSize {
		return nil, &OperationError{
			Operation: "jq",
			Message:   fmt.Sprintf("input size (%d bytes) exceeds maximum (%d bytes)", len(raw), j.maxInputSize),
			Type:      ErrorTypeLimitExceeded,
		}
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &OperationError{Operation: "jq", Message: "normalize input", Type: ErrorTypeTypeError, Cause: err}
	}
	return data, nil
}
