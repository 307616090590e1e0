package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/mq"
	"github.com/shaiso/Pipeflow/internal/steps"
)

// Значения конфигурации по умолчанию.
const (
	DefaultConcurrency  = 4
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
)

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
	Claim(ctx context.Context, run *domain.Run) (bool, error)
	Update(ctx context.Context, run *domain.Run) error
}

// VersionStore — хранилище версий pipeline (repo.PipelineRepo).
type VersionStore interface {
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
}

// EventPublisher публикует события о завершении runs (mq.Publisher).
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, payload mq.RunCompletedPayload) error
}

// RunRecorder учитывает завершённые runs (telemetry.Metrics).
type RunRecorder interface {
	RunFinished(status string)
}

// Runner выполняет pipeline runs.
//
// Runner — stateless компонент, который:
//   - Получает run.pending из RabbitMQ (event-driven)
//   - Периодически проверяет PENDING runs в БД (polling fallback)
//   - Захватывает run (PENDING → RUNNING) и выполняет pipeline через Executor
//   - Сохраняет результат или структурированную ошибку
//   - Публикует run.completed
//
// Одновременно выполняется не больше Concurrency runs.
// Несколько экземпляров могут потреблять одну очередь: захват run атомарен.
type Runner struct {
	runs      RunStore
	versions  VersionStore
	publisher EventPublisher
	recorder  RunRecorder
	conn      *mq.Connection
	executor  *steps.Executor

	permissions capability.Permissions

	sem          *semaphore.Weighted
	concurrency  int
	pollInterval time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Runner.
type Config struct {
	Runs     RunStore
	Versions VersionStore

	// Publisher — опционально; nil — run.completed не публикуется.
	Publisher EventPublisher

	// Conn — опционально; nil — только polling.
	Conn *mq.Connection

	// Executor — интерпретатор pipeline.
	Executor *steps.Executor

	// Recorder — опционально, метрики.
	Recorder RunRecorder

	// Permissions — выданные capabilities права; nil — без ограничений.
	Permissions capability.Permissions

	Concurrency  int           // одновременных runs (default: 4)
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // runs за один poll (default: 50)

	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := cfg.Executor
	if executor == nil {
		executor = steps.NewExecutor(steps.Options{Capabilities: capability.DefaultRegistry()})
	}

	return &Runner{
		runs:         cfg.Runs,
		versions:     cfg.Versions,
		publisher:    cfg.Publisher,
		recorder:     cfg.Recorder,
		conn:         cfg.Conn,
		executor:     executor,
		permissions:  cfg.Permissions,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает consumer run.pending (если есть соединение) и polling.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	r.logger.Info("starting runner",
		"concurrency", r.concurrency,
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
	)

	if r.conn != nil {
		consumer := mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsPending,
			Handler:  r.handleRunPending,
			Prefetch: r.concurrency,
		})

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("run consumer error", "error", err)
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollLoop(ctx)
	}()

	r.logger.Info("runner started")
	return nil
}

// Stop останавливает приём runs и ждёт завершения выполняющихся.
func (r *Runner) Stop() {
	r.logger.Info("stopping runner...")

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()

	r.logger.Info("runner stopped")
}

// dispatch выполняет run в отдельной горутине, ожидая свободный слот.
func (r *Runner) dispatch(ctx context.Context, runID uuid.UUID) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)

		if err := r.Execute(ctx, runID); err != nil {
			r.logRunError(runID, err)
		}
	}()
	return nil
}

// pollLoop — цикл polling для fallback.
func (r *Runner) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем runs, созданные пока runner был выключен
	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll забирает PENDING runs, пока есть свободные слоты.
func (r *Runner) poll(ctx context.Context) {
	runs, err := r.runs.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	r.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		if !r.sem.TryAcquire(1) {
			r.logger.Debug("all run slots busy, deferring to next poll")
			return
		}

		runID := runs[i].ID
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.sem.Release(1)

			if err := r.Execute(ctx, runID); err != nil {
				r.logRunError(runID, err)
			}
		}()
	}
}

func (r *Runner) logRunError(runID uuid.UUID, err error) {
	if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunNotFound) {
		r.logger.Debug("run skipped", "run_id", runID, "reason", err)
		return
	}
	r.logger.Error("failed to process run", "run_id", runID, "error", err)
}
