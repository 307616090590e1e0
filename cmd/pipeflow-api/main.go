// Pipeflow API — HTTP API для pipelines, runs и schedules.
//
// Дополнительно: каталог capabilities и операций, проверка
// и синхронное выполнение pipeline без сохранения (/api/v1/execute).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Pipeflow/internal/api"
	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/config"
	"github.com/shaiso/Pipeflow/internal/mq"
	"github.com/shaiso/Pipeflow/internal/repo"
	"github.com/shaiso/Pipeflow/internal/steps"
	"github.com/shaiso/Pipeflow/internal/telemetry"
	"github.com/shaiso/Pipeflow/internal/transform"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting pipeflow-api")

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	// Создаём репозитории
	pipelineRepo := repo.NewPipelineRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ: без него runs подхватит polling в worker
	var publisher api.RunPublisher
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "pipeflow-api", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	metrics := telemetry.NewMetrics(nil)
	capabilities := capability.DefaultRegistry()
	transforms := transform.DefaultRegistry()

	opts := cfg.ExecutorOptions()
	opts.Capabilities = capabilities
	opts.Transforms = transforms
	opts.Loader = pipelineRepo
	opts.Observer = metrics

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Pipelines:    pipelineRepo,
		Runs:         runRepo,
		Schedules:    scheduleRepo,
		Publisher:    publisher,
		Executor:     steps.NewExecutor(opts),
		Capabilities: capabilities,
		Transforms:   transforms,
		Permissions:  cfg.GrantedPermissions(),
		Metrics:      metrics,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := config.Addr(cfg.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
