// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики (шаги, capabilities, запуски)
//
// Все сервисы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
// Metrics передаётся в steps.Options.Observer.
package telemetry
