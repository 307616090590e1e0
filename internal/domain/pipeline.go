package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Форматы файла определения pipeline.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	// ErrInvalidSpec — определение pipeline не удалось разобрать.
	ErrInvalidSpec = errors.New("invalid pipeline spec")

	// ErrMissingInput — не передан обязательный входной параметр.
	ErrMissingInput = errors.New("missing required input")
)

// Pipeline — сохранённое определение pipeline.
//
// Один pipeline может иметь множество версий (PipelineVersion).
// Каждый запуск (Run) выполняет конкретную версию.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя ("sync-orders", "notify-user").
	// По нему sub_pipeline ссылается на сохранённый pipeline.
	Name string `json:"name"`

	// IsActive — неактивные pipelines не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineVersion — неизменяемая версия pipeline.
type PipelineVersion struct {
	// PipelineID — ссылка на pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Spec — определение (JSONB поле spec).
	Spec PipelineSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineSpec — определение pipeline: входные параметры и шаги.
type PipelineSpec struct {
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
	Inputs      map[string]InputDef `json:"inputs,omitempty"`
	Steps       []map[string]any    `json:"steps"`
}

// InputDef — определение входного параметра.
type InputDef struct {
	// Type — ожидаемый тип: "string", "number", "boolean", "object", "array".
	Type string `json:"type,omitempty" yaml:"type"`

	// Required — параметр обязателен, если нет Default.
	Required bool `json:"required,omitempty" yaml:"required"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty" yaml:"default"`

	// Description — описание параметра.
	Description string `json:"description,omitempty" yaml:"description"`
}

// ApplyInputs дополняет inputs значениями по умолчанию
// и проверяет обязательные параметры. Исходный map не меняется.
func (s *PipelineSpec) ApplyInputs(inputs map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(inputs)+len(s.Inputs))
	for k, v := range inputs {
		result[k] = v
	}

	for name, def := range s.Inputs {
		if _, ok := result[name]; ok {
			continue
		}
		if def.Default != nil {
			result[name] = def.Default
			continue
		}
		if def.Required {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
		}
	}
	return result, nil
}

// FormatFromPath определяет формат по расширению файла.
// Неизвестное расширение — пустая строка (формат определит ParseSpec).
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// ParseSpec разбирает определение pipeline из JSON или YAML.
//
// Документ — либо массив шагов, либо объект
// {"name", "description", "inputs", "steps"}.
// Пустой format — формат определяется по первому символу.
func ParseSpec(data []byte, format string) (*PipelineSpec, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if format == "" {
		format = sniffFormat(data)
	}

	var doc any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	case FormatYAML, "yml":
		if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		doc = normalize(doc)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidSpec, format)
	}

	return specFromDocument(doc)
}

func sniffFormat(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

func specFromDocument(doc any) (*PipelineSpec, error) {
	spec := &PipelineSpec{}

	switch v := doc.(type) {
	case []any:
		steps, err := stepMaps(v)
		if err != nil {
			return nil, err
		}
		spec.Steps = steps

	case map[string]any:
		for key := range v {
			switch key {
			case "name", "description", "inputs", "steps":
			default:
				return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidSpec, key)
			}
		}

		spec.Name, _ = v["name"].(string)
		spec.Description, _ = v["description"].(string)

		rawSteps, ok := v["steps"].([]any)
		if !ok && v["steps"] != nil {
			return nil, fmt.Errorf("%w: steps must be a list, got %T", ErrInvalidSpec, v["steps"])
		}
		steps, err := stepMaps(rawSteps)
		if err != nil {
			return nil, err
		}
		spec.Steps = steps

		if raw, ok := v["inputs"]; ok && raw != nil {
			inputs, err := inputDefs(raw)
			if err != nil {
				return nil, err
			}
			spec.Inputs = inputs
		}

	case nil:
		return nil, fmt.Errorf("%w: empty document", ErrInvalidSpec)

	default:
		return nil, fmt.Errorf("%w: expected a list of steps or an object, got %T", ErrInvalidSpec, doc)
	}

	if spec.Steps == nil {
		spec.Steps = []map[string]any{}
	}
	return spec, nil
}

func stepMaps(list []any) ([]map[string]any, error) {
	steps := make([]map[string]any, len(list))
	for i, item := range list {
		step, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: step %d must be an object, got %T", ErrInvalidSpec, i, item)
		}
		steps[i] = step
	}
	return steps, nil
}

func inputDefs(raw any) (map[string]InputDef, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: inputs: %v", ErrInvalidSpec, err)
	}
	var defs map[string]InputDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: inputs: %v", ErrInvalidSpec, err)
	}
	return defs, nil
}

// normalize приводит map[any]any из YAML к map[string]any.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalize(item)
		}
		return m
	case []any:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	default:
		return v
	}
}
