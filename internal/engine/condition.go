package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// Resolver разрешает ссылки в значениях условия.
// Реализуется Context.
type Resolver interface {
	ResolveValue(value any) (any, error)
}

// Составные операторы.
const (
	OpAnd = "and"
	OpOr  = "or"
)

// operatorAliases приводит словесные формы операторов к каноническим.
var operatorAliases = map[string]string{
	"==":                    "==",
	"=":                     "==",
	"eq":                    "==",
	"equals":                "==",
	"!=":                    "!=",
	"ne":                    "!=",
	"not_equals":            "!=",
	">":                     ">",
	"gt":                    ">",
	"greater_than":          ">",
	"<":                     "<",
	"lt":                    "<",
	"less_than":             "<",
	">=":                    ">=",
	"gte":                   ">=",
	"greater_than_or_equal": ">=",
	"<=":                    "<=",
	"lte":                   "<=",
	"less_than_or_equal":    "<=",
	"contains":              "contains",
	"not_contains":          "not_contains",
	"starts_with":           "starts_with",
	"ends_with":             "ends_with",
	"in":                    "in",
	"not_in":                "not_in",
	"empty":                 "empty",
	"is_empty":              "empty",
	"not_empty":             "not_empty",
	"null":                  "null",
	"is_null":               "null",
	"not_null":              "not_null",
}

// IsOperator проверяет, известен ли оператор условия (включая and/or).
func IsOperator(op string) bool {
	if op == OpAnd || op == OpOr {
		return true
	}
	_, ok := operatorAliases[op]
	return ok
}

// EvaluateCondition вычисляет дерево условия.
//
// Формы условия:
//
//	{"field": "$user.age", "operator": ">=", "value": 18}
//	{"operator": "and", "conditions": [...]}
//	true / false
//	"$flag"
//
// and останавливается на первом false, or — на первом true:
// оставшиеся условия не вычисляются и их ссылки не разрешаются.
func EvaluateCondition(cond any, r Resolver) (bool, error) {
	switch c := cond.(type) {
	case bool:
		return c, nil

	case string:
		v, err := r.ResolveValue(c)
		if err != nil {
			return false, err
		}
		return Truthy(v), nil

	case map[string]any:
		return evaluateNode(c, r)

	case nil:
		return false, fmt.Errorf("%w: condition is empty", ErrInvalidConfig)

	default:
		return false, fmt.Errorf("%w: condition must be an object, got %T", ErrInvalidConfig, cond)
	}
}

func evaluateNode(node map[string]any, r Resolver) (bool, error) {
	op, _ := node["operator"].(string)
	if op == "" {
		return false, fmt.Errorf("%w: condition has no operator", ErrInvalidConfig)
	}

	switch op {
	case OpAnd, OpOr:
		return evaluateComposite(op, node, r)
	}

	field, err := r.ResolveValue(node["field"])
	if err != nil {
		return false, err
	}
	value, err := r.ResolveValue(node["value"])
	if err != nil {
		return false, err
	}

	return Compare(op, field, value)
}

func evaluateComposite(op string, node map[string]any, r Resolver) (bool, error) {
	raw, ok := node["conditions"]
	if !ok {
		return false, fmt.Errorf("%w: %q condition requires conditions", ErrInvalidConfig, op)
	}
	conditions, ok := raw.([]any)
	if !ok {
		return false, fmt.Errorf("%w: conditions must be a list, got %T", ErrInvalidConfig, raw)
	}

	for _, sub := range conditions {
		result, err := EvaluateCondition(sub, r)
		if err != nil {
			return false, err
		}
		// Short-circuit
		if op == OpAnd && !result {
			return false, nil
		}
		if op == OpOr && result {
			return true, nil
		}
	}

	// Пустой and истинен, пустой or ложен
	return op == OpAnd, nil
}

// Compare применяет листовой оператор к уже разрешённым значениям.
//
// Числа любых типов сравниваются как float64.
// Упорядочивание несравнимых значений (число и строка, nil) даёт false.
func Compare(operator string, left, right any) (bool, error) {
	op, ok := operatorAliases[operator]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, operator)
	}

	switch op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil

	case ">", "<", ">=", "<=":
		cmp, ok := order(left, right)
		if !ok {
			return false, nil
		}
		switch op {
		case ">":
			return cmp > 0, nil
		case "<":
			return cmp < 0, nil
		case ">=":
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}

	case "contains":
		return contains(left, right), nil
	case "not_contains":
		return !contains(left, right), nil

	case "starts_with":
		s, ok1 := left.(string)
		p, ok2 := right.(string)
		return ok1 && ok2 && strings.HasPrefix(s, p), nil
	case "ends_with":
		s, ok1 := left.(string)
		p, ok2 := right.(string)
		return ok1 && ok2 && strings.HasSuffix(s, p), nil

	case "in":
		return contains(right, left), nil
	case "not_in":
		return !contains(right, left), nil

	case "empty":
		return IsEmpty(left), nil
	case "not_empty":
		return !IsEmpty(left), nil

	case "null":
		return isNil(left), nil
	case "not_null":
		return !isNil(left), nil
	}

	return false, fmt.Errorf("%w: %s", ErrUnknownOperator, operator)
}

// Equal сравнивает значения с приведением чисел.
func Equal(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	return reflect.DeepEqual(a, b)
}

// order возвращает -1/0/1 для сравнимых значений.
func order(a, b any) (int, bool) {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}

	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

// contains проверяет вхождение: подстрока в строке, элемент в slice, ключ в map.
func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, el := range c {
			if Equal(el, item) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false
		}
		_, exists := c[key]
		return exists
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if Equal(rv.Index(i).Interface(), item) {
				return true
			}
		}
	}
	return false
}

// IsEmpty — nil, пустая строка, пустая коллекция или false.
func IsEmpty(v any) bool {
	if isNil(v) {
		return true
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case bool:
		return !x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// Truthy — противоположность IsEmpty, но число 0 ложно.
func Truthy(v any) bool {
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	return !IsEmpty(v)
}

// ToFloat приводит числовые типы к float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
