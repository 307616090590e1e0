// Package repo содержит репозитории PostgreSQL (pgx/v5).
//
//   - db.go — пул соединений, схема (schema.sql), advisory lock
//   - pipeline_repo.go — pipelines и pipeline_versions; загрузка именованных sub-pipeline
//   - run_repo.go — runs: создание, захват PENDING → RUNNING, итог запуска
//   - schedule_repo.go — расписания для scheduler
//
// Отсутствующая запись — ErrNotFound, конфликт уникальности — ErrAlreadyExists.
package repo
