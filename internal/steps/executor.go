package steps

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/engine"
	"github.com/shaiso/Pipeflow/internal/telemetry"
	"github.com/shaiso/Pipeflow/internal/transform"
)

// Значения по умолчанию.
const (
	DefaultMaxDepth    = 32
	DefaultMaxParallel = 8
)

// CapabilityProvider — реестр capabilities, используемый шагом ability.
type CapabilityProvider interface {
	Lookup(name string) (capability.Capability, error)
}

// TransformProvider — реестр операций, используемый шагом transform.
type TransformProvider interface {
	Apply(ctx context.Context, operation string, input any, params map[string]any) (any, error)
}

// DefinitionLoader загружает сохранённый pipeline по имени
// для sub_pipeline с "pipeline": "<name>".
type DefinitionLoader interface {
	LoadSteps(ctx context.Context, name string) ([]Config, error)
}

// Observer получает события выполнения (метрики).
// Вызывается конкурентно из веток parallel.
type Observer interface {
	StepFinished(stepType string, duration time.Duration, err error)
	CapabilityCalled(name string, duration time.Duration, err error)
}

// Options — зависимости и лимиты Executor.
type Options struct {
	// Capabilities — реестр capabilities. nil — шаги ability
	// завершаются ошибкой engine.ErrCapabilityUnavailable.
	Capabilities CapabilityProvider

	// Transforms — реестр операций. nil — transform.DefaultRegistry().
	Transforms TransformProvider

	// Loader — загрузка именованных sub-pipeline. nil — только вложенные определения.
	Loader DefinitionLoader

	// Observer — получатель событий. nil — события не отправляются.
	Observer Observer

	// MaxDepth — максимальная вложенность шагов.
	MaxDepth int

	// MaxParallel — лимит одновременных веток parallel по умолчанию.
	MaxParallel int
}

// Executor — интерпретатор pipeline.
//
// Диспетчеризует конфигурацию шага по полю type, проверяет ключи,
// выполняет шаг и сохраняет результат под output.
// Управляющие шаги получают ссылку на Executor и через него
// выполняют вложенные списки шагов.
//
// Executor не хранит состояние запуска: один экземпляр
// безопасно использовать для параллельных запусков.
type Executor struct {
	registry *Registry
	caps     CapabilityProvider
	ops      TransformProvider
	loader   DefinitionLoader
	observer Observer

	maxDepth    int
	maxParallel int
}

// NewExecutor создаёт Executor со всеми стандартными типами шагов.
func NewExecutor(opts Options) *Executor {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if isNilInterface(opts.Transforms) {
		opts.Transforms = transform.DefaultRegistry()
	}
	if isNilInterface(opts.Capabilities) {
		opts.Capabilities = nil
	}

	e := &Executor{
		registry:    NewRegistry(),
		caps:        opts.Capabilities,
		ops:         opts.Transforms,
		loader:      opts.Loader,
		observer:    opts.Observer,
		maxDepth:    opts.MaxDepth,
		maxParallel: opts.MaxParallel,
	}

	e.registry.Register(&AbilityStep{exec: e})
	e.registry.Register(&TransformStep{exec: e})
	e.registry.Register(&ConditionalStep{exec: e})
	e.registry.Register(&LoopStep{exec: e})
	e.registry.Register(&ParallelStep{exec: e})
	e.registry.Register(&SubPipelineStep{exec: e})
	e.registry.Register(&TryCatchStep{exec: e})

	return e
}

// Registry возвращает таблицу типов шагов.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Run выполняет pipeline верхнего уровня.
// Возвращает результат последнего шага.
func (e *Executor) Run(ctx context.Context, vars *engine.Context, steps []Config) (any, error) {
	return e.ExecuteSteps(ctx, vars, steps, "steps")
}

// ExecuteSteps выполняет список шагов по порядку.
//
// Первая ошибка прерывает выполнение. Возвращает результат последнего шага,
// для пустого списка — nil.
func (e *Executor) ExecuteSteps(ctx context.Context, vars *engine.Context, steps []Config, path string) (any, error) {
	var last any
	for i, cfg := range steps {
		result, err := e.ExecuteStep(ctx, vars, cfg, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		last = result
	}
	return last, nil
}

// ExecuteStep выполняет один шаг.
//
// Любая ошибка возвращается как *engine.ExecutionError с путём шага.
// Отмена ctx проверяется перед каждым шагом: запуск останавливается
// на границе шагов. Таймауты отдельных шагов движок не накладывает.
func (e *Executor) ExecuteStep(ctx context.Context, vars *engine.Context, cfg Config, path string) (any, error) {
	stepType, _ := cfg[KeyType].(string)

	if err := ctx.Err(); err != nil {
		return nil, engine.NewExecutionError(stepType, path, "execution cancelled",
			fmt.Errorf("%w: %w", engine.ErrCancelled, err))
	}

	depth := depthFrom(ctx)
	if depth >= e.maxDepth {
		return nil, engine.NewExecutionError(stepType, path,
			fmt.Sprintf("nesting depth exceeds %d", e.maxDepth), engine.ErrMaxDepth)
	}
	ctx = withDepth(ctx, depth+1)

	step, err := e.resolve(cfg, path)
	if err != nil {
		return nil, engine.NewExecutionError(stepType, path, validationMessage(err), err)
	}

	start := time.Now()
	result, err := step.Execute(ctx, &Request{Path: path, Config: cfg, Vars: vars})
	duration := time.Since(start)

	if e.observer != nil {
		e.observer.StepFinished(stepType, duration, err)
	}

	logger := telemetry.FromContext(ctx)
	if err != nil {
		execErr := engine.AsExecutionError(err, stepType, path)
		logger.Debug("step failed",
			"type", stepType,
			"path", path,
			"code", execErr.Code,
			"error", execErr.Message,
		)
		return nil, execErr
	}

	if output, _ := cfg[KeyOutput].(string); output != "" {
		vars.Set(output, result)
	}

	logger.Debug("step completed",
		"type", stepType,
		"path", path,
		"duration", duration,
	)

	return result, nil
}

// resolve находит реализацию шага и проверяет ключи конфигурации.
func (e *Executor) resolve(cfg Config, path string) (Step, error) {
	if cfg == nil {
		return nil, engine.NewValidationError(path, KeyType, "step config is empty", engine.ErrInvalidConfig)
	}

	stepType, ok := cfg[KeyType].(string)
	if !ok || stepType == "" {
		return nil, engine.NewValidationError(path, KeyType, "step has no type", engine.ErrInvalidConfig)
	}

	step, err := e.registry.Get(stepType)
	if err != nil {
		return nil, engine.NewValidationError(path, KeyType, err.Error(), err)
	}

	if err := checkKeys(cfg, step.Keys(), path); err != nil {
		return nil, err
	}

	return step, nil
}

// checkKeys проверяет обязательные и неизвестные ключи.
func checkKeys(cfg Config, keys Keys, path string) error {
	for _, key := range keys.Required {
		if _, ok := cfg[key]; !ok {
			return engine.NewValidationError(path, key,
				fmt.Sprintf("missing required key: %s", key), engine.ErrInvalidConfig)
		}
	}

	allowed := map[string]bool{KeyType: true, KeyOutput: true, KeyDescription: true}
	for _, key := range keys.Required {
		allowed[key] = true
	}
	for _, key := range keys.Optional {
		allowed[key] = true
	}

	var unknown []string
	for key := range cfg {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return engine.NewValidationError(path, unknown[0],
			fmt.Sprintf("unknown key: %s", unknown[0]), engine.ErrInvalidConfig)
	}

	if out, ok := cfg[KeyOutput]; ok {
		if s, isStr := out.(string); !isStr || s == "" {
			return engine.NewValidationError(path, KeyOutput,
				"output must be a non-empty string", engine.ErrInvalidConfig)
		}
	}

	return nil
}

// Validate статически проверяет дерево шагов без выполнения.
//
// Проверяет типы, ключи, вложенные списки и дополнительные
// ограничения шагов (операторы условий, формат parallel).
// Возвращает первую найденную *engine.ValidationError.
func (e *Executor) Validate(steps []Config) error {
	return e.validateList(steps, "steps", 0)
}

func (e *Executor) validateList(steps []Config, path string, depth int) error {
	for i, cfg := range steps {
		if err := e.validateStep(cfg, fmt.Sprintf("%s[%d]", path, i), depth); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) validateStep(cfg Config, path string, depth int) error {
	if depth >= e.maxDepth {
		return engine.NewValidationError(path, "",
			fmt.Sprintf("nesting depth exceeds %d", e.maxDepth), engine.ErrMaxDepth)
	}

	step, err := e.resolve(cfg, path)
	if err != nil {
		return err
	}

	if checker, ok := step.(Checker); ok {
		if err := checker.Check(cfg); err != nil {
			return asValidationError(err, path)
		}
	}

	container, ok := step.(Container)
	if !ok {
		return nil
	}
	children, err := container.Children(cfg)
	if err != nil {
		return asValidationError(err, path)
	}
	for _, child := range children {
		if err := e.validateStep(child.Config, childPath(path, child.Path), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validationMessage(err error) string {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

func asValidationError(err error, path string) error {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return engine.NewValidationError(path, "", err.Error(), err)
}

// Ключ контекста для глубины вложенности.
type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

// isNilInterface ловит typed nil (например, (*capability.Registry)(nil)).
func isNilInterface(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
