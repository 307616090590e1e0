package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения pipeline.
//
// Run создаётся когда:
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// Каждый run выполняет конкретную версию pipeline.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на выполняемый pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — выполняемая версия pipeline.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Inputs — входные параметры, переданные при запуске.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Result — результат последнего шага pipeline.
	Result any `json:"result,omitempty"`

	// Error — описание ошибки, если run завершился с FAILED.
	Error *RunError `json:"error,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// IdempotencyKey — ключ идемпотентности.
	// Для запусков по расписанию: "{schedule_id}_{due_unix}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// RunError — структурированная ошибка запуска (JSONB поле error).
// Поля совпадают с переменной error внутри catch.
type RunError struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Type       string `json:"type,omitempty"`
	Step       string `json:"step,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// Error реализует интерфейс error.
func (e *RunError) Error() string {
	if e.Step != "" {
		return e.Step + ": " + e.Message
	}
	return e.Message
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED с результатом.
func (r *Run) MarkSucceeded(result any) {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.Result = result
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err *RunError) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
