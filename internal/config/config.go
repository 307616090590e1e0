// Package config читает настройки сервисов Pipeflow из переменных окружения.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shaiso/Pipeflow/internal/capability"
	"github.com/shaiso/Pipeflow/internal/runner"
	"github.com/shaiso/Pipeflow/internal/steps"
)

// Config — настройки, общие для pipeflow-api, pipeflow-worker и pipeflow-scheduler.
type Config struct {
	DBURL       string // DB_URL; пусто — repo.DefaultDSN
	RabbitMQURL string // RABBITMQ_URL; пусто — mq.DefaultURL
	Migrate     bool   // DB_MIGRATE (default: true)

	APIPort    string // API_PORT (default: 8080)
	SchedPort  string // SCHED_PORT (default: 8081)
	WorkerPort string // WORKER_PORT (default: 8082)

	RunnerConcurrency  int           // RUNNER_CONCURRENCY (default: 4)
	RunnerPollInterval time.Duration // RUNNER_POLL_INTERVAL (default: 10s)
	SchedulerTick      time.Duration // SCHED_TICK (default: 1s)

	MaxDepth    int // PIPELINE_MAX_DEPTH (default: 32)
	MaxParallel int // PIPELINE_MAX_PARALLEL (default: 8)

	// Permissions — PIPEFLOW_PERMISSIONS, права через запятую, "*" — все.
	// Пусто — без ограничений.
	Permissions string
}

// Load читает конфигурацию из окружения.
// Некорректные числа и длительности заменяются значениями по умолчанию.
func Load() Config {
	return Config{
		DBURL:       os.Getenv("DB_URL"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		Migrate:     envBool("DB_MIGRATE", true),

		APIPort:    envOr("API_PORT", "8080"),
		SchedPort:  envOr("SCHED_PORT", "8081"),
		WorkerPort: envOr("WORKER_PORT", "8082"),

		RunnerConcurrency:  envInt("RUNNER_CONCURRENCY", runner.DefaultConcurrency),
		RunnerPollInterval: envDuration("RUNNER_POLL_INTERVAL", 10*time.Second),
		SchedulerTick:      envDuration("SCHED_TICK", time.Second),

		MaxDepth:    envInt("PIPELINE_MAX_DEPTH", steps.DefaultMaxDepth),
		MaxParallel: envInt("PIPELINE_MAX_PARALLEL", steps.DefaultMaxParallel),

		Permissions: os.Getenv("PIPEFLOW_PERMISSIONS"),
	}
}

// GrantedPermissions возвращает выданные права; nil — без ограничений.
func (c Config) GrantedPermissions() capability.Permissions {
	if c.Permissions == "" {
		return nil
	}
	return capability.ParsePermissions(c.Permissions)
}

// ExecutorOptions возвращает лимиты Executor из конфигурации.
func (c Config) ExecutorOptions() steps.Options {
	return steps.Options{
		MaxDepth:    c.MaxDepth,
		MaxParallel: c.MaxParallel,
	}
}

// Addr превращает порт в адрес для http.Server.
func Addr(port string) string {
	return ":" + port
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}
