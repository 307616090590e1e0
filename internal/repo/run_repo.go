package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Pipeflow/internal/domain"
)

// RunRepo — репозиторий runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, pipeline_id, version, status, inputs, result, error,
	started_at, finished_at, idempotency_key, created_at`

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// Create создаёт run.
// Повтор ключа идемпотентности для того же pipeline — ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO runs (id, pipeline_id, version, status, inputs, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		run.ID,
		run.PipelineID,
		run.Version,
		run.Status,
		inputsJSON,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("run %q: %w", run.IdempotencyKey, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get run by id")
	}
	return run, nil
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE pipeline_id = $1 AND idempotency_key = $2
	`, pipelineID, key)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "get run by idempotency key")
	}
	return run, nil
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var pipelineID *uuid.UUID
	if filter.PipelineID != nil && *filter.PipelineID != uuid.Nil {
		pipelineID = filter.PipelineID
	}

	return r.query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, pipelineID, nullString(string(filter.Status)), filter.Limit, filter.Offset)
}

// ListPending возвращает старейшие runs в статусе PENDING.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
}

// Claim атомарно переводит run из PENDING в RUNNING.
//
// false — run уже забрал другой обработчик (сообщение из очереди
// и опрос БД могут доставить один run дважды).
func (r *RunRepo) Claim(ctx context.Context, run *domain.Run) (bool, error) {
	run.MarkRunning()
	result, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $2, started_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, run.ID, run.Status, run.StartedAt)
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Update сохраняет статус, время и итог run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	var resultJSON, errorJSON []byte
	var err error
	if run.Result != nil {
		if resultJSON, err = json.Marshal(run.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	if run.Error != nil {
		if errorJSON, err = json.Marshal(run.Error); err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, result = $5, error = $6
		WHERE id = $1
	`, run.ID, run.Status, run.StartedAt, run.FinishedAt, resultJSON, errorJSON)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RunRepo) query(ctx context.Context, sql string, args ...any) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var inputsJSON, resultJSON, errorJSON []byte
	var idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Version,
		&run.Status,
		&inputsJSON,
		&resultJSON,
		&errorJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if errorJSON != nil {
		run.Error = &domain.RunError{}
		if err := json.Unmarshal(errorJSON, run.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}

	return &run, nil
}
