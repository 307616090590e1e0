package transform

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// sequence приводит вход к []any или возвращает type_error.
func sequence(op string, input any) ([]any, error) {
	items, ok := engine.ToSlice(input)
	if !ok {
		return nil, typeError(op, "an array", input)
	}
	return items, nil
}

// getPath достаёт значение по пути "a.b.0" без ошибок: отсутствие даёт nil.
func getPath(item any, path string) any {
	if path == "" {
		return item
	}
	current := item
	for _, seg := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			current = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			current = v[i]
		default:
			return nil
		}
	}
	return current
}

// pluck извлекает поле из каждого элемента.
//
//	params: {"field": "name"}
//	[{"id":1,"name":"a"}, {"id":2,"name":"b"}] -> ["a", "b"]
func pluck(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("pluck", input)
	if err != nil {
		return nil, err
	}
	field := engine.GetString(params, "field")
	if field == "" {
		return nil, paramError("pluck", "field is required")
	}

	result := make([]any, len(items))
	for i, item := range items {
		result[i] = getPath(item, field)
	}
	return result, nil
}

// filter оставляет элементы, удовлетворяющие условию.
//
//	params: {"field": "status", "operator": "==", "value": "active"}
//
// Без field сравнивается сам элемент. Оператор по умолчанию "==".
func filter(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("filter", input)
	if err != nil {
		return nil, err
	}

	field := engine.GetString(params, "field")
	operator := engine.GetString(params, "operator")
	if operator == "" {
		operator = "=="
	}
	if !engine.IsOperator(operator) || operator == engine.OpAnd || operator == engine.OpOr {
		return nil, paramError("filter", fmt.Sprintf("unknown operator: %s", operator))
	}

	result := make([]any, 0, len(items))
	for _, item := range items {
		ok, err := engine.Compare(operator, getPath(item, field), params["value"])
		if err != nil {
			return nil, &OperationError{Operation: "filter", Message: "compare failed", Type: ErrorTypeValidation, Cause: err}
		}
		if ok {
			result = append(result, item)
		}
	}
	return result, nil
}

// mapItems строит новые объекты из элементов.
//
//	params: {"fields": ["id", "name"]}              — оставить поля
//	params: {"mapping": {"user": "author.name"}}    — переименовать/вытащить пути
func mapItems(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("map", input)
	if err != nil {
		return nil, err
	}

	mapping := engine.GetMapString(params, "mapping")
	if mapping == nil {
		fields, ok := engine.ToSlice(params["fields"])
		if !ok || len(fields) == 0 {
			return nil, paramError("map", "fields or mapping is required")
		}
		mapping = make(map[string]string, len(fields))
		for _, f := range fields {
			name, ok := f.(string)
			if !ok {
				return nil, paramError("map", fmt.Sprintf("field name must be a string, got %T", f))
			}
			mapping[name] = name
		}
	}

	result := make([]any, len(items))
	for i, item := range items {
		obj := make(map[string]any, len(mapping))
		for to, from := range mapping {
			obj[to] = getPath(item, from)
		}
		result[i] = obj
	}
	return result, nil
}

// sortItems сортирует элементы (стабильно).
//
//	params: {"field": "age", "order": "desc"}
func sortItems(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("sort", input)
	if err != nil {
		return nil, err
	}

	field := engine.GetString(params, "field")
	op := "<"
	switch engine.GetString(params, "order") {
	case "", "asc":
	case "desc":
		op = ">"
	default:
		return nil, paramError("sort", "order must be asc or desc")
	}

	result := make([]any, len(items))
	copy(result, items)
	sort.SliceStable(result, func(i, j int) bool {
		less, _ := engine.Compare(op, getPath(result[i], field), getPath(result[j], field))
		return less
	})
	return result, nil
}

// count возвращает длину последовательности, map или строки.
func count(_ context.Context, input any, _ map[string]any) (any, error) {
	switch v := input.(type) {
	case nil:
		return 0, nil
	case string:
		return len([]rune(v)), nil
	case map[string]any:
		return len(v), nil
	}
	items, err := sequence("count", input)
	if err != nil {
		return nil, err
	}
	return len(items), nil
}

// sum складывает числа (или значения поля field).
func sum(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("sum", input)
	if err != nil {
		return nil, err
	}
	field := engine.GetString(params, "field")

	var total float64
	for i, item := range items {
		n, ok := engine.ToFloat(getPath(item, field))
		if !ok {
			return nil, &OperationError{
				Operation: "sum",
				Message:   fmt.Sprintf("element %d is not a number", i),
				Type:      ErrorTypeTypeError,
			}
		}
		total += n
	}
	return total, nil
}

func first(_ context.Context, input any, _ map[string]any) (any, error) {
	items, err := sequence("first", input)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func last(_ context.Context, input any, _ map[string]any) (any, error) {
	items, err := sequence("last", input)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

// unique убирает дубликаты, сохраняя порядок первого вхождения.
// С field дубликатами считаются элементы с равным значением поля.
func unique(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("unique", input)
	if err != nil {
		return nil, err
	}
	field := engine.GetString(params, "field")

	result := make([]any, 0, len(items))
	var seen []any
	for _, item := range items {
		key := getPath(item, field)
		dup := false
		for _, s := range seen {
			if engine.Equal(s, key) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, key)
			result = append(result, item)
		}
	}
	return result, nil
}

// flatten разворачивает вложенные последовательности.
//
//	params: {"depth": 1}  // по умолчанию 1
func flatten(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("flatten", input)
	if err != nil {
		return nil, err
	}
	depth := engine.GetInt(params, "depth")
	if depth <= 0 {
		depth = 1
	}
	return flattenDepth(items, depth), nil
}

func flattenDepth(items []any, depth int) []any {
	result := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := engine.ToSlice(item); ok && depth > 0 {
			result = append(result, flattenDepth(nested, depth-1)...)
			continue
		}
		result = append(result, item)
	}
	return result
}

// join объединяет элементы в строку.
//
//	params: {"separator": ", "}  // по умолчанию ","
func join(_ context.Context, input any, params map[string]any) (any, error) {
	items, err := sequence("join", input)
	if err != nil {
		return nil, err
	}
	sep, ok := params["separator"].(string)
	if !ok {
		sep = ","
	}

	parts := make([]string, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep), nil
}
