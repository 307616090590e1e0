package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Pipeflow/internal/domain"
)

// ScheduleRepo — репозиторий schedules.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `id, pipeline_id, name, cron_expr, interval_sec, timezone, enabled,
	next_due_at, last_run_at, last_run_id, inputs, created_at, updated_at`

// ScheduleFilter — параметры фильтрации schedules.
type ScheduleFilter struct {
	PipelineID *uuid.UUID
	Enabled    *bool
	Limit      int
	Offset     int
}

// Create создаёт schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	inputsJSON, err := json.Marshal(s.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO schedules (id, pipeline_id, name, cron_expr, interval_sec, timezone,
		                       enabled, next_due_at, inputs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		s.ID,
		s.PipelineID,
		nullString(s.Name),
		nullString(s.CronExpr),
		nullInt(s.IntervalSec),
		s.Timezone,
		s.Enabled,
		s.NextDueAt,
		inputsJSON,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get schedule by id")
	}
	return s, nil
}

// List возвращает schedules с фильтрацией.
func (r *ScheduleRepo) List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var pipelineID *uuid.UUID
	if filter.PipelineID != nil && *filter.PipelineID != uuid.Nil {
		pipelineID = filter.PipelineID
	}

	return r.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, pipelineID, filter.Enabled, filter.Limit, filter.Offset)
}

// ListDue возвращает включённые schedules с next_due_at <= now.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	return r.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`, now, limit)
}

// Update обновляет schedule целиком.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.Schedule) error {
	inputsJSON, err := json.Marshal(s.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET name = $2, cron_expr = $3, interval_sec = $4, timezone = $5,
		    enabled = $6, next_due_at = $7, last_run_at = $8, last_run_id = $9,
		    inputs = $10, updated_at = $11
		WHERE id = $1
	`,
		s.ID,
		nullString(s.Name),
		nullString(s.CronExpr),
		nullInt(s.IntervalSec),
		s.Timezone,
		s.Enabled,
		s.NextDueAt,
		s.LastRunAt,
		s.LastRunID,
		inputsJSON,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет schedule.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled включает/выключает schedule.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedules SET enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ScheduleRepo) query(ctx context.Context, sql string, args ...any) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

func scanSchedule(row scanner) (*domain.Schedule, error) {
	var s domain.Schedule
	var name, cronExpr *string
	var intervalSec *int
	var inputsJSON []byte

	err := row.Scan(
		&s.ID,
		&s.PipelineID,
		&name,
		&cronExpr,
		&intervalSec,
		&s.Timezone,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastRunID,
		&inputsJSON,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if name != nil {
		s.Name = *name
	}
	if cronExpr != nil {
		s.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		s.IntervalSec = *intervalSec
	}
	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &s.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}

	return &s, nil
}
