// Package scheduler создаёт runs по расписаниям.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и создаёт новые runs для выполнения.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Runs:      runRepo,
//	    Pipelines: pipelineRepo,
//	    Publisher: publisher,  // опционально
//	    Logger:    logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в секунду)
//	if _, err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Идемпотентность:
//
// Ключ run — "{schedule_id}_{next_due_at_unix}". Повторный тик для того же
// времени (после падения между созданием run и обновлением schedule)
// находит существующий run вместо создания нового.
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package scheduler
