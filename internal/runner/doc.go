// Package runner выполняет pipeline runs.
//
// # Обзор
//
// Runner — stateless компонент системы Pipeflow, который выполняет
// runs, созданные через API или Scheduler. Runner отвечает за:
//
//   - Получение run.pending из очереди RabbitMQ (event-driven)
//   - Периодическую проверку PENDING runs в БД (polling fallback)
//   - Атомарный захват run (PENDING → RUNNING)
//   - Выполнение pipeline через steps.Executor
//   - Сохранение результата или структурированной ошибки
//   - Публикацию run.completed
//
// Runners масштабируются горизонтально: несколько экземпляров
// потребляют из одной очереди runs.pending, а RunStore.Claim
// гарантирует, что каждый run выполнится один раз.
//
// # Использование
//
//	r := runner.New(runner.Config{
//	    Runs:        runRepo,
//	    Versions:    pipelineRepo,
//	    Publisher:   publisher,
//	    Conn:        mqConn,
//	    Executor:    executor,
//	    Recorder:    metrics,
//	    Concurrency: 4,
//	    Logger:      logger,
//	})
//
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//
// # Обработка run
//
//  1. Получение run ID (из очереди или polling)
//  2. Загрузка run из БД, проверка статуса PENDING
//  3. Захват: PENDING → RUNNING
//  4. Загрузка PipelineVersion, применение входных параметров
//  5. Выполнение шагов; входные параметры доступны как $name и $inputs.name
//  6. Успех → SUCCEEDED с результатом последнего шага
//  7. Ошибка → FAILED с domain.RunError (message, code, type, step, capability)
//  8. Остановка runner во время выполнения → CANCELLED
//  9. Публикация run.completed
//
// # Конкурентность
//
// Число одновременно выполняемых runs ограничено Concurrency
// (semaphore.Weighted). Consumer ждёт свободный слот, polling
// забирает только столько runs, сколько есть свободных слотов.
//
// Повторных попыток нет: упавший run остаётся FAILED, повтор —
// это новый run.
package runner
