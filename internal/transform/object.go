package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// merge объединяет объекты. Правые ключи перекрывают левые.
//
//	input: [{"a":1}, {"b":2}]            -> {"a":1,"b":2}
//	input: {"a":1}, params: {"with": {...}}
func merge(_ context.Context, input any, params map[string]any) (any, error) {
	result := make(map[string]any)

	switch v := input.(type) {
	case map[string]any:
		for k, val := range v {
			result[k] = val
		}
	default:
		items, ok := engine.ToSlice(input)
		if !ok {
			return nil, typeError("merge", "an object or an array of objects", input)
		}
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &OperationError{
					Operation: "merge",
					Message:   fmt.Sprintf("element %d is %T, not an object", i, item),
					Type:      ErrorTypeTypeError,
				}
			}
			for k, val := range obj {
				result[k] = val
			}
		}
	}

	for k, val := range engine.GetMap(params, "with") {
		result[k] = val
	}
	return result, nil
}

// keys возвращает отсортированные ключи объекта.
func keys(_ context.Context, input any, _ map[string]any) (any, error) {
	obj, ok := input.(map[string]any)
	if !ok {
		return nil, typeError("keys", "an object", input)
	}
	return sortedKeys(obj), nil
}

// values возвращает значения объекта в порядке отсортированных ключей.
func values(_ context.Context, input any, _ map[string]any) (any, error) {
	obj, ok := input.(map[string]any)
	if !ok {
		return nil, typeError("values", "an object", input)
	}
	result := make([]any, 0, len(obj))
	for _, k := range sortedKeys(obj) {
		result = append(result, obj[k.(string)])
	}
	return result, nil
}

func sortedKeys(obj map[string]any) []any {
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)
	result := make([]any, len(names))
	for i, n := range names {
		result[i] = n
	}
	return result
}

// split разбивает строку.
//
//	params: {"separator": ","}  // по умолчанию ","
func split(_ context.Context, input any, params map[string]any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return nil, typeError("split", "a string", input)
	}
	sep, ok := params["separator"].(string)
	if !ok {
		sep = ","
	}
	if s == "" {
		return []any{}, nil
	}

	parts := strings.Split(s, sep)
	result := make([]any, len(parts))
	for i, p := range parts {
		if engine.GetBool(params, "trim", false) {
			p = strings.TrimSpace(p)
		}
		result[i] = p
	}
	return result, nil
}

// jsonEncode сериализует вход в JSON строку.
//
//	params: {"indent": true}
func jsonEncode(_ context.Context, input any, params map[string]any) (any, error) {
	var (
		b   []byte
		err error
	)
	if engine.GetBool(params, "indent", false) {
		b, err = json.MarshalIndent(input, "", "  ")
	} else {
		b, err = json.Marshal(input)
	}
	if err != nil {
		return nil, &OperationError{Operation: "json_encode", Message: "marshal failed", Type: ErrorTypeTypeError, Cause: err}
	}
	return string(b), nil
}

// jsonDecode парсит JSON строку.
func jsonDecode(_ context.Context, input any, _ map[string]any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return nil, typeError("json_decode", "a string", input)
	}

	var result any
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	if err := dec.Decode(&result); err != nil {
		return nil, &OperationError{Operation: "json_decode", Message: "invalid JSON", Type: ErrorTypeParse, Cause: err}
	}
	return result, nil
}

// renderTemplate рендерит Go template.
//
//	params: {"template": "Hello, {{ .name }}!"}
//
// Данные шаблона — сам вход; скалярный вход доступен как {{ .input }}.
func renderTemplate(_ context.Context, input any, params map[string]any) (any, error) {
	tmpl, ok := params["template"].(string)
	if !ok || tmpl == "" {
		return nil, paramError("template", "template is required")
	}

	data := input
	if _, isMap := input.(map[string]any); !isMap {
		data = map[string]any{"input": input}
	}

	out, err := engine.Render(tmpl, data)
	if err != nil {
		return nil, &OperationError{Operation: "template", Message: "render failed", Type: ErrorTypeExpression, Cause: err}
	}
	return out, nil
}
