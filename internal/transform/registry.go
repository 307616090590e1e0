package transform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// Operation — чистая функция преобразования данных.
// Параметры уже разрешены через контекст pipeline.
type Operation func(ctx context.Context, input any, params map[string]any) (any, error)

// Registry — реестр операций трансформации.
// Потокобезопасен.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		ops: make(map[string]Operation),
	}
}

// DefaultRegistry создаёт реестр со стандартными операциями.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("identity", identity)

	// Последовательности
	r.Register("pluck", pluck)
	r.Register("filter", filter)
	r.Register("map", mapItems)
	r.Register("sort", sortItems)
	r.Register("count", count)
	r.Register("sum", sum)
	r.Register("first", first)
	r.Register("last", last)
	r.Register("unique", unique)
	r.Register("flatten", flatten)
	r.Register("join", join)

	// Объекты
	r.Register("merge", merge)
	r.Register("keys", keys)
	r.Register("values", values)

	// Строки и выражения
	r.Register("split", split)
	r.Register("json_encode", jsonEncode)
	r.Register("json_decode", jsonDecode)
	r.Register("template", renderTemplate)
	r.Register("jq", NewJQ(DefaultJQTimeout, DefaultMaxInputSize).Apply)

	return r
}

// Register регистрирует операцию.
// Если операция с таким именем уже есть, она будет перезаписана.
func (r *Registry) Register(name string, op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
}

// Has проверяет, зарегистрирована ли операция.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.ops[name]
	return exists
}

// Names возвращает отсортированный список операций.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister удаляет операцию из реестра.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, name)
}

// Apply применяет операцию к входу.
// Неизвестная операция — engine.ErrUnknownOperation.
func (r *Registry) Apply(ctx context.Context, operation string, input any, params map[string]any) (any, error) {
	r.mu.RLock()
	op, exists := r.ops[operation]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownOperation, operation)
	}
	if params == nil {
		params = map[string]any{}
	}
	return op(ctx, input, params)
}

func identity(_ context.Context, input any, _ map[string]any) (any, error) {
	return input, nil
}
