// Pipeflow Scheduler — создаёт runs по cron и interval schedules.
//
// Несколько экземпляров могут работать одновременно: тики выполняет
// только лидер, взявший Postgres advisory lock.
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

	"github.com/shaiso/Pipeflow/internal/config"
	"github.com/shaiso/Pipeflow/internal/mq"
	"github.com/shaiso/Pipeflow/internal/repo"
	"github.com/shaiso/Pipeflow/internal/scheduler"
	"github.com/shaiso/Pipeflow/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting pipeflow-scheduler")

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

	// RabbitMQ: без него runs подхватит polling в worker
	var publisher scheduler.RunPublisher
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "pipeflow-scheduler", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	sched := scheduler.New(scheduler.Config{
		Schedules: repo.NewScheduleRepo(pool),
		Runs:      repo.NewRunRepo(pool),
		Pipelines: repo.NewPipelineRepo(pool),
		Publisher: publisher,
		Logger:    logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.SchedPort)
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

	// Цикл планировщика до сигнала завершения
	lock := repo.NewAdvisoryLock(pool, schedLockKey)
	if err := sched.Run(ctx, cfg.SchedulerTick, lock); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("pipeflow-scheduler stopped")
}
