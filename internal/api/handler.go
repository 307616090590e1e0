package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/repo"
	"github.com/shaiso/Pipeflow/internal/steps"
	"github.com/shaiso/Pipeflow/internal/telemetry"
	"github.com/shaiso/Pipeflow/internal/transform"
)

// PipelineStore — хранилище pipelines и их версий (repo.PipelineRepo).
type PipelineStore interface {
	Create(ctx context.Context, p *domain.Pipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	List(ctx context.Context) ([]domain.Pipeline, error)
	Update(ctx context.Context, p *domain.Pipeline) error
	Delete(ctx context.Context, id uuid.UUID) error
	CreateVersion(ctx context.Context, pipelineID uuid.UUID, spec domain.PipelineSpec) (*domain.PipelineVersion, error)
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
	GetLatestVersion(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineVersion, error)
	ListVersions(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineVersion, error)
}

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
}

// ScheduleStore — хранилище schedules (repo.ScheduleRepo).
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// RunPublisher сообщает runner'ам о новых runs (mq.Publisher).
type RunPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelines    PipelineStore
	runs         RunStore
	schedules    ScheduleStore
	publisher    RunPublisher
	executor     *steps.Executor
	capabilities *capability.Registry
	transforms   *transform.Registry
	permissions  capability.Permissions
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Pipelines PipelineStore
	Runs      RunStore
	Schedules ScheduleStore

	// Publisher — опционально; без него runs подхватываются polling'ом.
	Publisher RunPublisher

	// Executor — валидация версий и /execute.
	Executor *steps.Executor

	// Capabilities и Transforms — каталоги для /capabilities и /operations.
	Capabilities *capability.Registry
	Transforms   *transform.Registry

	// Permissions — права для /execute; nil — без ограничений.
	Permissions capability.Permissions

	// Metrics — опционально, счётчик запросов.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	caps := cfg.Capabilities
	if caps == nil {
		caps = capability.DefaultRegistry()
	}

	ops := cfg.Transforms
	if ops == nil {
		ops = transform.DefaultRegistry()
	}

	executor := cfg.Executor
	if executor == nil {
		executor = steps.NewExecutor(steps.Options{Capabilities: caps, Transforms: ops})
	}

	return &Handler{
		pipelines:    cfg.Pipelines,
		runs:         cfg.Runs,
		schedules:    cfg.Schedules,
		publisher:    cfg.Publisher,
		executor:     executor,
		capabilities: caps,
		transforms:   ops,
		permissions:  cfg.Permissions,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}
