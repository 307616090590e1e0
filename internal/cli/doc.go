// Package cli реализует инструмент командной строки Pipeflow.
//
// # Обзор
//
// CLI выполняет pipelines локально и управляет сохранёнными
// pipelines, runs и schedules через HTTP API.
//
// # Локальные команды
//
// Работают без сервера, в том же процессе, что и CLI:
//
//	pipeflow exec -f order.yaml --input customer=42 --var-file vars.json
//	pipeflow validate -f order.yaml
//	pipeflow capabilities
//	pipeflow operations
//
// exec печатает результат последнего шага (с --show-vars ещё и итоговые
// переменные) и завершается с ненулевым кодом, если pipeline упал.
// Именованные sub_pipeline ищутся в --pipeline-dir (DirLoader).
//
// # Команды API
//
// HTTP-клиент (Client) дублирует DTO из internal/api и не импортирует
// его. Группы команд:
//   - pipeline: list, create, show, update, delete, versions, publish, spec
//   - run: list, start, show, cancel
//   - schedule: list, create, show, update, set-enabled, delete
//
// # Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr,
// поэтому работает pipe: pipeflow run list --json | jq .
package cli
