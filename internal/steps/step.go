package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// Ключи, допустимые в конфигурации любого шага.
const (
	KeyType        = "type"
	KeyOutput      = "output"
	KeyDescription = "description"
)

// Config — конфигурация шага: {"type": "...", ...}.
type Config = map[string]any

// Step — интерфейс типа шага.
//
// Каждый тип (ability, transform, conditional, loop, parallel,
// sub_pipeline, try_catch) реализует этот интерфейс.
type Step interface {
	// Type возвращает дискриминатор типа шага.
	Type() string

	// Keys возвращает обязательные и необязательные ключи конфигурации.
	// Ключи type, output, description допустимы всегда.
	Keys() Keys

	// Execute выполняет шаг и возвращает результат.
	// Результат сохраняется Executor'ом под ключом output.
	Execute(ctx context.Context, req *Request) (any, error)
}

// Container — шаг с вложенными шагами.
// Используется статической валидацией для обхода дерева.
type Container interface {
	Children(cfg Config) ([]Child, error)
}

// Checker — шаг с дополнительной статической проверкой конфигурации.
type Checker interface {
	Check(cfg Config) error
}

// Child — вложенный шаг и его относительный путь ("then[0]", "steps.fetch").
type Child struct {
	Path   string
	Config Config
}

// Keys — контракт ключей конфигурации.
type Keys struct {
	Required []string
	Optional []string
}

// Request — входные данные для выполнения шага.
type Request struct {
	// Path — путь шага в pipeline, например "steps[2].then[0]".
	Path string

	// Config — конфигурация шага (ссылки ещё не разрешены).
	Config Config

	// Vars — контекст переменных запуска.
	Vars *engine.Context
}

// ParseSteps приводит значение к списку конфигураций шагов.
//
// Принимает []any из JSON/YAML, []map[string]any и []Config.
func ParseSteps(v any) ([]Config, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []Config:
		return list, nil
	case []any:
		result := make([]Config, len(list))
		for i, item := range list {
			cfg, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: step %d must be an object, got %T", engine.ErrInvalidConfig, i, item)
			}
			result[i] = cfg
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: steps must be a list, got %T", engine.ErrInvalidConfig, v)
	}
}

// stepList извлекает список шагов по ключу конфигурации.
func stepList(cfg Config, key string) ([]Config, error) {
	list, err := ParseSteps(cfg[key])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return list, nil
}

// listChildren строит Child для каждого шага списка.
func listChildren(prefix string, list []Config) []Child {
	children := make([]Child, len(list))
	for i, cfg := range list {
		children[i] = Child{Path: fmt.Sprintf("%s[%d]", prefix, i), Config: cfg}
	}
	return children
}

// childPath склеивает путь родителя и относительный путь.
func childPath(parent, rel string) string {
	if parent == "" {
		return rel
	}
	return parent + "." + rel
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", engine.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
