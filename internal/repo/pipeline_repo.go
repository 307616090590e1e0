package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Pipeflow/internal/domain"
)

// PipelineRepo — репозиторий pipelines и pipeline_versions.
//
// Реализует steps.DefinitionLoader: sub_pipeline с именем
// загружает последнюю версию сохранённого pipeline.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

const pipelineColumns = `id, name, is_active, created_at`

// --- Pipeline CRUD ---

// Create создаёт pipeline. Занятое имя — ErrAlreadyExists.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipelines (id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
	`, p.ID, p.Name, p.IsActive, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("pipeline %q: %w", p.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetByID возвращает pipeline по ID.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id)
	p, err := scanPipeline(row)
	if err != nil {
		return nil, notFound(err, "get pipeline by id")
	}
	return p, nil
}

// GetByName возвращает pipeline по имени.
func (r *PipelineRepo) GetByName(ctx context.Context, name string) (*domain.Pipeline, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE name = $1`, name)
	p, err := scanPipeline(row)
	if err != nil {
		return nil, notFound(err, "get pipeline by name")
	}
	return p, nil
}

// List возвращает все pipelines, новые первыми.
func (r *PipelineRepo) List(ctx context.Context) ([]domain.Pipeline, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// Update обновляет имя и флаг активности.
func (r *PipelineRepo) Update(ctx context.Context, p *domain.Pipeline) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE pipelines SET name = $2, is_active = $3 WHERE id = $1
	`, p.ID, p.Name, p.IsActive)
	if isUniqueViolation(err) {
		return fmt.Errorf("pipeline %q: %w", p.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет pipeline (каскадно удалит versions, runs, schedules).
func (r *PipelineRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- PipelineVersion ---

// CreateVersion создаёт следующую версию pipeline.
// Номер версии вычисляется в той же транзакции под блокировкой строки pipeline.
func (r *PipelineRepo) CreateVersion(ctx context.Context, pipelineID uuid.UUID, spec domain.PipelineSpec) (*domain.PipelineVersion, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	version := &domain.PipelineVersion{PipelineID: pipelineID, Spec: spec}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM pipelines WHERE id = $1 FOR UPDATE`, pipelineID).Scan(&locked)
		if err != nil {
			return notFound(err, "lock pipeline")
		}

		return tx.QueryRow(ctx, `
			INSERT INTO pipeline_versions (pipeline_id, version, spec, created_at)
			SELECT $1, COALESCE(MAX(version), 0) + 1, $2, NOW()
			FROM pipeline_versions
			WHERE pipeline_id = $1
			RETURNING version, created_at
		`, pipelineID, specJSON).Scan(&version.Version, &version.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline version: %w", err)
	}
	return version, nil
}

const versionColumns = `pipeline_id, version, spec, created_at`

// GetVersion возвращает конкретную версию pipeline.
func (r *PipelineRepo) GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM pipeline_versions
		WHERE pipeline_id = $1 AND version = $2
	`, pipelineID, version)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "get pipeline version")
	}
	return v, nil
}

// GetLatestVersion возвращает последнюю версию pipeline.
func (r *PipelineRepo) GetLatestVersion(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM pipeline_versions
		WHERE pipeline_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, pipelineID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "get latest pipeline version")
	}
	return v, nil
}

// ListVersions возвращает все версии pipeline, новые первыми.
func (r *PipelineRepo) ListVersions(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+versionColumns+`
		FROM pipeline_versions
		WHERE pipeline_id = $1
		ORDER BY version DESC
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list pipeline versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.PipelineVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// LoadSteps возвращает шаги последней версии pipeline по имени.
func (r *PipelineRepo) LoadSteps(ctx context.Context, name string) ([]map[string]any, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT v.pipeline_id, v.version, v.spec, v.created_at
		FROM pipeline_versions v
		JOIN pipelines p ON p.id = v.pipeline_id
		WHERE p.name = $1
		ORDER BY v.version DESC
		LIMIT 1
	`, name)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "load pipeline steps")
	}
	return v.Spec.Steps, nil
}

func scanPipeline(row scanner) (*domain.Pipeline, error) {
	var p domain.Pipeline
	if err := row.Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanVersion(row scanner) (*domain.PipelineVersion, error) {
	var v domain.PipelineVersion
	var specJSON []byte
	if err := row.Scan(&v.PipelineID, &v.Version, &specJSON, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(specJSON, &v.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &v, nil
}
