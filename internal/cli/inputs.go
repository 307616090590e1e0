package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Pipeflow/internal/domain"
)

// parseInputs разбирает значения --input KEY=VALUE.
//
// VALUE читается как YAML-скаляр: 42 — число, true — bool,
// [a, b] — список. Всё остальное остаётся строкой.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		inputs[key] = parseValue(raw)
	}
	return inputs, nil
}

// collectInputs объединяет --var-file и --input; --input важнее.
// nil — ни один источник не задан.
func collectInputs(varFile string, pairs []string) (map[string]any, error) {
	var values map[string]any
	if varFile != "" {
		fileVars, err := readVarFile(varFile)
		if err != nil {
			return nil, err
		}
		values = fileVars
	}

	parsed, err := parseInputs(pairs)
	if err != nil {
		return nil, err
	}
	if parsed != nil {
		if values == nil {
			values = make(map[string]any, len(parsed))
		}
		maps.Copy(values, parsed)
	}
	return values, nil
}

func parseValue(raw string) any {
	if raw == "" {
		return ""
	}

	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}

	switch v.(type) {
	case map[string]any:
		// "a: b" — это строка с двоеточием, а не объект
		if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
			return raw
		}
	}
	return normalizeYAML(v)
}

// readVarFile читает JSON или YAML файл с переменными.
func readVarFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read var file: %w", err)
	}

	var vars map[string]any
	if domain.FormatFromPath(path) == domain.FormatJSON {
		err = json.Unmarshal(data, &vars)
	} else {
		err = yaml.Unmarshal(data, &vars)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse var file %s: %w", path, err)
	}

	if normalized, ok := normalizeYAML(vars).(map[string]any); ok {
		return normalized, nil
	}
	return vars, nil
}

// normalizeYAML приводит map[any]any из вложенных YAML-узлов к map[string]any.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

// readSpecFile читает определение pipeline (JSON или YAML) и проверяет,
// что оно разбирается.
func readSpecFile(path string) (*domain.PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	spec, err := domain.ParseSpec(data, domain.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// specJSON кодирует разобранное определение для отправки в API.
func specJSON(spec *domain.PipelineSpec) (json.RawMessage, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}
	return data, nil
}
