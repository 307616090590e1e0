package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/domain"
	"github.com/shaiso/Pipeflow/internal/engine"
	"github.com/shaiso/Pipeflow/internal/mq"
	"github.com/shaiso/Pipeflow/internal/repo"
	"github.com/shaiso/Pipeflow/internal/telemetry"
)

// handleRunPending обрабатывает событие run.pending из очереди runs.pending.
//
// Сообщение подтверждается сразу после постановки run в выполнение:
// дальнейшая судьба run хранится в БД, а не в очереди.
func (r *Runner) handleRunPending(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](msg)
	if err != nil {
		r.logger.Error("failed to parse run.pending payload", "error", err)
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
	}
	if payload.RunID == uuid.Nil {
		return fmt.Errorf("%w: run.pending without run_id", mq.ErrPermanent)
	}

	r.logger.Debug("received run.pending event", "run_id", payload.RunID)

	// Ждём свободный слот; при остановке сообщение вернётся в очередь
	return r.dispatch(ctx, payload.RunID)
}

// Execute захватывает run, выполняет pipeline и сохраняет итог.
//
// Ошибка pipeline не является ошибкой Execute: run завершается со статусом
// FAILED и структурированной ошибкой. Execute возвращает ошибку только
// если run нельзя выполнить (не найден, уже захвачен) или не удалось
// обновить его в БД.
func (r *Runner) Execute(ctx context.Context, runID uuid.UUID) error {
	// 1. Загружаем run из БД
	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	// 3. Захватываем (PENDING → RUNNING)
	claimed, err := r.runs.Claim(ctx, run)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	if !claimed {
		return ErrRunNotPending
	}

	logger := telemetry.WithPipelineID(telemetry.WithRunID(r.logger, run.ID.String()), run.PipelineID.String())
	logger.Info("run started", "version", run.Version)

	// 4. Выполняем
	result, execErr := r.execute(ctx, run)

	// 5. Фиксируем итог
	switch {
	case execErr == nil:
		run.MarkSucceeded(jsonSafe(result))
		logger.Info("run succeeded", "duration", run.Duration())
	case ctx.Err() != nil && engine.Classify(execErr) == engine.CodeCancelled:
		run.MarkCancelled()
		run.Error = NewRunError(execErr)
		logger.Warn("run cancelled", "duration", run.Duration())
	default:
		run.MarkFailed(NewRunError(execErr))
		logger.Warn("run failed",
			"duration", run.Duration(),
			"code", run.Error.Code,
			"step", run.Error.Step,
			"error", run.Error.Message,
		)
	}

	// Run уже захвачен: итог сохраняем даже при остановке runner
	saveCtx := context.WithoutCancel(ctx)
	if err := r.runs.Update(saveCtx, run); err != nil {
		return fmt.Errorf("update run to %s: %w", run.Status, err)
	}

	if r.recorder != nil {
		r.recorder.RunFinished(string(run.Status))
	}

	r.publishCompletion(saveCtx, run)
	return nil
}

// execute загружает версию pipeline и выполняет её шаги.
func (r *Runner) execute(ctx context.Context, run *domain.Run) (any, error) {
	version, err := r.versions.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		return nil, &engine.ExecutionError{
			Code:    engine.CodeConfig,
			Message: fmt.Sprintf("load pipeline version %d: %v", run.Version, err),
			Err:     err,
		}
	}

	inputs, err := version.Spec.ApplyInputs(run.Inputs)
	if err != nil {
		return nil, &engine.ExecutionError{
			Code:    engine.CodeConfig,
			Message: err.Error(),
			Err:     err,
		}
	}

	logger := telemetry.WithRunID(r.logger, run.ID.String())
	ctx = telemetry.WithLogger(ctx, logger)
	if r.permissions != nil {
		ctx = capability.WithPermissions(ctx, r.permissions)
	}

	return r.executor.Run(ctx, engine.NewContext(Variables(inputs)), version.Spec.Steps)
}

// Variables строит начальные переменные run.
// Каждый входной параметр доступен как $name и как $inputs.name.
func Variables(inputs map[string]any) map[string]any {
	vars := make(map[string]any, len(inputs)+1)
	maps.Copy(vars, inputs)

	copied := make(map[string]any, len(inputs))
	maps.Copy(copied, inputs)
	vars["inputs"] = copied

	return vars
}

// NewRunError приводит ошибку выполнения к domain.RunError.
func NewRunError(err error) *domain.RunError {
	if err == nil {
		return nil
	}

	info := engine.AsExecutionError(err, "", "").Info()
	runErr := &domain.RunError{}
	runErr.Message, _ = info["message"].(string)
	runErr.Code, _ = info["code"].(string)
	runErr.Type, _ = info["type"].(string)
	runErr.Step, _ = info["step"].(string)
	runErr.Capability, _ = info["capability"].(string)
	return runErr
}

// jsonSafe приводит результат к виду, который можно сохранить в JSONB.
// Значения, которые не сериализуются, заменяются строковым представлением.
func jsonSafe(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return out
}

// publishCompletion публикует событие run.completed.
func (r *Runner) publishCompletion(ctx context.Context, run *domain.Run) {
	if r.publisher == nil {
		return
	}

	payload := mq.RunCompletedPayload{
		RunID:      run.ID,
		PipelineID: run.PipelineID,
		Status:     string(run.Status),
		DurationMs: run.Duration().Milliseconds(),
	}
	if run.Error != nil {
		payload.Error = run.Error.Error()
	}

	if err := r.publisher.PublishRunCompleted(ctx, payload); err != nil {
		// Не возвращаем ошибку — run уже сохранён в БД
		r.logger.Warn("failed to publish run.completed",
			"run_id", run.ID,
			"error", err,
		)
	}
}
