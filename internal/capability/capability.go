package capability

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// Capability — именованная операция, вызываемая шагом ability.
//
// Реализация проверяет права, валидирует вход и делегирует
// работу конкретной функции.
type Capability interface {
	// Name возвращает имя capability, например "core/echo".
	Name() string

	// Description возвращает описание для каталога.
	Description() string

	// InputSchema описывает ожидаемый вход.
	InputSchema() Schema

	// OutputSchema описывает результат.
	OutputSchema() Schema

	// CheckPermission возвращает ErrPermissionDenied,
	// если вызывающему не выдан нужный scope.
	CheckPermission(ctx context.Context) error

	// Execute выполняет capability.
	// Должен проверять ctx.Done() для долгих операций.
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Schema — описание входа или выхода capability.
//
// Используется для каталога (/api/v1/capabilities) и проверки
// обязательных полей. Полноценная JSON Schema валидация не выполняется.
type Schema struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property — поле схемы.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// CheckRequired проверяет наличие обязательных полей во входе.
func (s Schema) CheckRequired(input map[string]any) error {
	var missing []string
	for _, field := range s.Required {
		if _, ok := input[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &Failure{
		Code:    "invalid_input",
		Message: fmt.Sprintf("missing required input: %v", missing),
	}
}

// HandlerFunc — функция, реализующая capability.
type HandlerFunc func(ctx context.Context, input map[string]any) (any, error)

// Definition — декларативное описание capability.
type Definition struct {
	Name        string
	Description string

	// Permission — scope, необходимый для вызова.
	// Пустая строка — вызов разрешён всем.
	Permission string

	Input  Schema
	Output Schema

	Handler HandlerFunc
}

// funcCapability — Capability поверх Definition.
type funcCapability struct {
	def Definition
}

// New создаёт Capability из Definition.
func New(def Definition) Capability {
	return &funcCapability{def: def}
}

func (c *funcCapability) Name() string         { return c.def.Name }
func (c *funcCapability) Description() string  { return c.def.Description }
func (c *funcCapability) InputSchema() Schema  { return c.def.Input }
func (c *funcCapability) OutputSchema() Schema { return c.def.Output }

// CheckPermission проверяет scope из Definition.Permission.
func (c *funcCapability) CheckPermission(ctx context.Context) error {
	return Require(ctx, c.def.Permission)
}

// Execute валидирует вход и вызывает Handler.
func (c *funcCapability) Execute(ctx context.Context, input map[string]any) (any, error) {
	if input == nil {
		input = map[string]any{}
	}
	if err := c.def.Input.CheckRequired(input); err != nil {
		return nil, err
	}
	return c.def.Handler(ctx, input)
}

// Failure — структурированная ошибка capability.
type Failure struct {
	Code    string         // машинный код ошибки, например "http_status"
	Message string         // описание
	Details map[string]any // дополнительные данные
	Err     error          // исходная ошибка
}

// Error реализует интерфейс error.
func (f *Failure) Error() string {
	if f.Code != "" {
		return f.Code + ": " + f.Message
	}
	return f.Message
}

// Unwrap возвращает исходную ошибку.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is позволяет сопоставлять Failure с engine.ErrCapabilityFailed.
func (f *Failure) Is(target error) bool {
	return target == engine.ErrCapabilityFailed
}

// Info возвращает описание для логов и API.
func (f *Failure) Info() map[string]any {
	return map[string]any{
		"code":    f.Code,
		"message": f.Message,
		"details": f.Details,
	}
}
