package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// RefPrefix — префикс ссылки на переменную: "$user.name".
const RefPrefix = "$"

// Scope — один уровень переменных в стеке контекста.
type Scope map[string]any

// Context — контекст переменных одного запуска pipeline.
//
// Стек scope'ов: корневой scope создаётся при запуске,
// loop и sub_pipeline добавляют дочерние scope на время итерации/вызова.
//
//   - Set пишет только во внутренний (последний) scope
//   - Resolve ищет корневой ключ от внутреннего scope к внешнему
//
// Context не потокобезопасен. Параллельные ветки получают
// собственную копию через Snapshot.
type Context struct {
	scopes []Scope
}

// NewContext создаёт контекст с корневым scope.
func NewContext(vars map[string]any) *Context {
	root := make(Scope, len(vars))
	for k, v := range vars {
		root[k] = v
	}
	return &Context{scopes: []Scope{root}}
}

// Get ищет переменную по имени от внутреннего scope к внешнему.
func (c *Context) Get(key string) (any, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i][key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set записывает переменную во внутренний scope.
// Внешние scope не просматриваются.
func (c *Context) Set(key string, value any) {
	c.scopes[len(c.scopes)-1][key] = value
}

// PushScope добавляет новый внутренний scope с начальными значениями.
func (c *Context) PushScope(initial map[string]any) {
	scope := make(Scope, len(initial))
	for k, v := range initial {
		scope[k] = v
	}
	c.scopes = append(c.scopes, scope)
}

// PopScope снимает внутренний scope.
// Корневой scope снять нельзя.
func (c *Context) PopScope() error {
	if len(c.scopes) <= 1 {
		return ErrScopeUnderflow
	}
	c.scopes[len(c.scopes)-1] = nil
	c.scopes = c.scopes[:len(c.scopes)-1]
	return nil
}

// WithScope выполняет fn внутри нового scope.
// Scope снимается на любом выходе из fn, включая ошибку и panic.
func (c *Context) WithScope(initial map[string]any, fn func() error) error {
	c.PushScope(initial)
	defer func() {
		_ = c.PopScope()
	}()
	return fn()
}

// Depth возвращает количество scope в стеке.
func (c *Context) Depth() int {
	return len(c.scopes)
}

// Snapshot возвращает независимую копию контекста.
//
// Каждый scope копируется, поэтому Set и PushScope на копии
// не видны в исходном контексте. Сами значения не клонируются.
func (c *Context) Snapshot() *Context {
	scopes := make([]Scope, len(c.scopes))
	for i, s := range c.scopes {
		cp := make(Scope, len(s))
		for k, v := range s {
			cp[k] = v
		}
		scopes[i] = cp
	}
	return &Context{scopes: scopes}
}

// Variables возвращает видимые переменные одним map.
// При совпадении имён побеждает внутренний scope.
func (c *Context) Variables() map[string]any {
	vars := make(map[string]any)
	for _, s := range c.scopes {
		for k, v := range s {
			vars[k] = v
		}
	}
	return vars
}

// IsReference проверяет, является ли строка ссылкой на переменную.
func IsReference(s string) bool {
	return strings.HasPrefix(s, RefPrefix)
}

// Resolve разрешает ссылку вида "$a.b.c".
//
// Строка без префикса "$" возвращается как есть.
// Корневой сегмент ищется во всех scope, остальные сегменты
// индексируют найденное значение: ключи map или номера элементов slice.
//
// Поведение при отсутствии пути:
//   - корневая переменная не найдена — ErrReference
//   - отсутствующий ключ map (на любом уровне) — nil
//   - индекс вне диапазона, нечисловой индекс slice,
//     обращение внутрь скаляра — ErrReference
func (c *Context) Resolve(path string) (any, error) {
	if !IsReference(path) {
		return path, nil
	}

	ref := strings.TrimPrefix(path, RefPrefix)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrReference)
	}

	segments := strings.Split(ref, ".")
	value, ok := c.Get(segments[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s is not defined", ErrReference, segments[0])
	}

	for i, seg := range segments[1:] {
		next, err := index(value, seg)
		if err != nil {
			walked := strings.Join(segments[:i+1], ".")
			return nil, fmt.Errorf("%w: %s%s: %v", ErrReference, RefPrefix, walked, err)
		}
		value = next
	}

	return value, nil
}

// ResolveValue разрешает все ссылки внутри значения.
//
// Строки проходят через Resolve, map и slice обрабатываются рекурсивно,
// остальные значения возвращаются без изменений.
func (c *Context) ResolveValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return c.Resolve(v)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			resolved, err := c.ResolveValue(val)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			resolved, err := c.ResolveValue(val)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	case []string:
		result := make([]any, len(v))
		for i, val := range v {
			resolved, err := c.Resolve(val)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	case map[string]string:
		result := make(map[string]any, len(v))
		for key, val := range v {
			resolved, err := c.Resolve(val)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil

	default:
		return value, nil
	}
}

// ResolveMap разрешает map из конфигурации шага.
// nil превращается в пустой map.
func (c *Context) ResolveMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	resolved, err := c.ResolveValue(m)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// index возвращает элемент value по сегменту пути.
func index(value any, seg string) (any, error) {
	switch v := value.(type) {
	case nil:
		// Отсутствующий промежуточный ключ даёт nil на всём оставшемся пути
		return nil, nil

	case map[string]any:
		return v[seg], nil

	case []any:
		return sliceIndex(len(v), seg, func(i int) any { return v[i] })

	case map[string]string:
		if s, ok := v[seg]; ok {
			return s, nil
		}
		return nil, nil
	}

	// Типизированные map/slice (например, результат capability)
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot index %T by %q", value, seg)
		}
		item := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !item.IsValid() {
			return nil, nil
		}
		return item.Interface(), nil

	case reflect.Slice, reflect.Array:
		return sliceIndex(rv.Len(), seg, func(i int) any { return rv.Index(i).Interface() })

	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return index(rv.Elem().Interface(), seg)

	default:
		return nil, fmt.Errorf("cannot index %T by %q", value, seg)
	}
}

func sliceIndex(n int, seg string, at func(int) any) (any, error) {
	i, err := strconv.Atoi(seg)
	if err != nil {
		return nil, fmt.Errorf("non-numeric index %q", seg)
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, n)
	}
	return at(i), nil
}
