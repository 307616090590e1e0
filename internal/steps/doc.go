// Package steps содержит интерпретатор pipeline и реализации типов шагов.
//
// # Обзор
//
// Pipeline — упорядоченный список шагов. Каждый шаг — map с дискриминатором
// type. Executor диспетчеризует шаг через Registry, проверяет ключи
// конфигурации, выполняет шаг и сохраняет результат под ключом output
// в текущем scope контекста.
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() string
//	    Keys() Keys
//	    Execute(ctx context.Context, req *Request) (any, error)
//	}
//
// Дополнительно шаг может реализовать Checker (статическая проверка
// конфигурации) и Container (вложенные шаги для Validate).
//
// # Типы шагов
//
//   - ability.go      — вызов capability из реестра
//   - transform.go    — операция над данными (pluck, filter, jq, ...)
//   - conditional.go  — ветвление then/else по условию
//   - loop.go         — итерация, каждый элемент в своём scope
//   - parallel.go     — ветки над копиями контекста, ошибки изолированы
//   - subpipeline.go  — вложенный pipeline со своими inputs
//   - trycatch.go     — try/catch/finally
//
// # Ошибки
//
// Любая ошибка, вышедшая из Executor, имеет тип *engine.ExecutionError
// с путём шага ("steps[1].try[0]") и кодом классификации.
//
// # Использование
//
//	exec := steps.NewExecutor(steps.Options{
//	    Capabilities: capability.DefaultRegistry(),
//	    Observer:     metrics,
//	})
//	vars := engine.NewContext(inputs)
//	result, err := exec.Run(ctx, vars, definition)
package steps
