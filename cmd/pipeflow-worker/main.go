// Pipeflow Worker — выполняет pipeline runs.
//
// Worker:
//   - Получает run.pending из RabbitMQ
//   - Подхватывает PENDING runs из БД (polling fallback)
//   - Выполняет pipeline через steps.Executor
//   - Сохраняет результат и публикует run.completed
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/config"
	"github.com/shaiso/Pipeflow/internal/mq"
	"github.com/shaiso/Pipeflow/internal/repo"
	"github.com/shaiso/Pipeflow/internal/runner"
	"github.com/shaiso/Pipeflow/internal/steps"
	"github.com/shaiso/Pipeflow/internal/telemetry"
	"github.com/shaiso/Pipeflow/internal/transform"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting pipeflow-worker")

	cfg := config.Load()

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if cfg.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	pipelineRepo := repo.NewPipelineRepo(pool)

	// RabbitMQ
	var publisher runner.EventPublisher
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "pipeflow-worker", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	metrics := telemetry.NewMetrics(nil)

	opts := cfg.ExecutorOptions()
	opts.Capabilities = capability.DefaultRegistry()
	opts.Transforms = transform.DefaultRegistry()
	opts.Loader = pipelineRepo
	opts.Observer = metrics

	// Создаём runner
	r := runner.New(runner.Config{
		Runs:         runRepo,
		Versions:     pipelineRepo,
		Publisher:    publisher,
		Conn:         mqConn,
		Executor:     steps.NewExecutor(opts),
		Recorder:     metrics,
		Permissions:  cfg.GrantedPermissions(),
		Concurrency:  cfg.RunnerConcurrency,
		PollInterval: cfg.RunnerPollInterval,
		Logger:       logger,
	})

	if err := r.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.WorkerPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем runner: выполняющиеся runs завершатся как CANCELLED
	r.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("pipeflow-worker stopped")
}
