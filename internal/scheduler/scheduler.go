package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/repo"
)

const defaultBatchSize = 100

// ScheduleStore — хранилище schedules (repo.ScheduleRepo).
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
}

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error)
}

// PipelineStore — хранилище pipelines (repo.PipelineRepo).
type PipelineStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetLatestVersion(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineVersion, error)
}

// RunPublisher сообщает runner'ам о новых runs (mq.Publisher).
type RunPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules ScheduleStore
	runs      RunStore
	pipelines PipelineStore
	publisher RunPublisher
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleStore
	Runs      RunStore
	Pipelines PipelineStore
	Publisher RunPublisher // опционально
	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		runs:      cfg.Runs,
		pipelines: cfg.Pipelines,
		publisher: cfg.Publisher,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// TickResult — итог одного тика.
type TickResult struct {
	Due       int // найдено due schedules
	Processed int // обработано без ошибок
	Created   int // создано новых runs
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт run (идемпотентно)
// 3. Обновляет next_due_at
// 4. Публикует run.pending в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	now := s.now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("list due schedules: %w", err)
	}

	res := TickResult{Due: len(schedules)}
	if len(schedules) == 0 {
		return res, nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		res.Processed++
		if runCreated {
			res.Created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", res.Due,
		"processed", res.Processed,
		"runs_created", res.Created,
	)

	return res, nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	logger := s.logger.With("schedule_id", sched.ID, "pipeline_id", sched.PipelineID)

	if sched.NextDueAt == nil {
		sched.NextDueAt = &now
	}

	// 1. Следующее время вычисляем заранее: некорректный schedule
	// не должен создавать runs на каждом тике
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		logger.Error("failed to calculate next due, disabling schedule", "error", err)
		sched.Enabled = false
		sched.UpdatedAt = now
		if err := s.schedules.Update(ctx, sched); err != nil {
			return false, fmt.Errorf("disable schedule: %w", err)
		}
		return false, nil
	}

	// 2. Проверяем, что pipeline существует и активен
	pipeline, err := s.pipelines.GetByID(ctx, sched.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("pipeline not found for schedule, skipping")
			return false, nil
		}
		return false, fmt.Errorf("get pipeline: %w", err)
	}
	if !pipeline.IsActive {
		logger.Debug("pipeline is inactive, skipping run")
		return false, s.advance(ctx, sched, nextDue)
	}

	version, err := s.pipelines.GetLatestVersion(ctx, sched.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("pipeline has no versions, skipping run")
			return false, s.advance(ctx, sched, nextDue)
		}
		return false, fmt.Errorf("get latest pipeline version: %w", err)
	}

	// 3. Создаём run (или находим созданный на прошлом тике)
	runID, runCreated, err := s.createRun(ctx, sched, version.Version, now)
	if err != nil {
		return false, err
	}

	// 4. Обновляем schedule
	sched.RecordRun(runID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	// 5. Публикуем событие (run уже в БД, runner подхватит его и через polling)
	if s.publisher != nil && runCreated {
		if err := s.publisher.PublishRunPending(ctx, runID); err != nil {
			logger.Warn("failed to publish run.pending", "run_id", runID, "error", err)
		}
	}

	return runCreated, nil
}

// createRun создаёт run с ключом "{schedule_id}_{next_due_at_unix}".
// Для одного schedule и конкретного времени создаётся только один run.
func (s *Scheduler) createRun(ctx context.Context, sched *domain.Schedule, version int, now time.Time) (uuid.UUID, bool, error) {
	idempKey := sched.RunKey(*sched.NextDueAt)

	existing, err := s.runs.GetByIdempotencyKey(ctx, sched.PipelineID, idempKey)
	switch {
	case err == nil:
		s.logger.Debug("run already exists (idempotency)",
			"schedule_id", sched.ID,
			"run_id", existing.ID,
			"idempotency_key", idempKey,
		)
		return existing.ID, false, nil
	case !errors.Is(err, repo.ErrNotFound):
		return uuid.Nil, false, fmt.Errorf("check idempotency: %w", err)
	}

	run := &domain.Run{
		ID:             uuid.New(),
		PipelineID:     sched.PipelineID,
		Version:        version,
		Status:         domain.RunStatusPending,
		Inputs:         sched.Inputs,
		IdempotencyKey: idempKey,
		CreatedAt:      now,
	}

	if err := s.runs.Create(ctx, run); err != nil {
		// Параллельный тик успел раньше
		if errors.Is(err, repo.ErrAlreadyExists) {
			existing, err := s.runs.GetByIdempotencyKey(ctx, sched.PipelineID, idempKey)
			if err != nil {
				return uuid.Nil, false, fmt.Errorf("get existing run: %w", err)
			}
			return existing.ID, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("create run: %w", err)
	}

	s.logger.Info("created run from schedule",
		"run_id", run.ID,
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"pipeline_id", sched.PipelineID,
		"version", version,
	)

	return run.ID, true, nil
}

// advance сдвигает next_due_at без создания run.
func (s *Scheduler) advance(ctx context.Context, sched *domain.Schedule, nextDue time.Time) error {
	sched.NextDueAt = &nextDue
	sched.UpdatedAt = s.now()
	if err := s.schedules.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}
