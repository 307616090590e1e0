// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, publisher, executor, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery, счётчик запросов)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines и версий
//   - run_handler.go      — обработчики для /runs
//   - schedule_handler.go — обработчики для /schedules
//   - execute_handler.go  — каталог, /validate и /execute
//
// API предоставляет REST endpoints для управления pipelines, runs и schedules.
// Версии pipeline проверяются Executor.Validate до сохранения: ошибка
// возвращается как INVALID_SPEC с путём шага.
package api
