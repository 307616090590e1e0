package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DB_URL", "RABBITMQ_URL", "DB_MIGRATE", "API_PORT", "SCHED_PORT", "WORKER_PORT",
		"RUNNER_CONCURRENCY", "RUNNER_POLL_INTERVAL", "SCHED_TICK",
		"PIPELINE_MAX_DEPTH", "PIPELINE_MAX_PARALLEL", "PIPEFLOW_PERMISSIONS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.APIPort != "8080" || cfg.SchedPort != "8081" || cfg.WorkerPort != "8082" {
		t.Errorf("unexpected ports: %s %s %s", cfg.APIPort, cfg.SchedPort, cfg.WorkerPort)
	}
	if cfg.RunnerConcurrency != 4 || cfg.MaxDepth != 32 || cfg.MaxParallel != 8 {
		t.Errorf("unexpected limits: %+v", cfg)
	}
	if !cfg.Migrate || cfg.SchedulerTick != time.Second || cfg.RunnerPollInterval != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.GrantedPermissions() != nil {
		t.Error("empty PIPEFLOW_PERMISSIONS should mean no restrictions")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("API_PORT", "9000")
	t.Setenv("RUNNER_CONCURRENCY", "16")
	t.Setenv("PIPELINE_MAX_DEPTH", "-1")
	t.Setenv("SCHED_TICK", "5s")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("PIPEFLOW_PERMISSIONS", "net:http, system:read")

	cfg := Load()

	if cfg.APIPort != "9000" || Addr(cfg.APIPort) != ":9000" {
		t.Errorf("unexpected api port: %s", cfg.APIPort)
	}
	if cfg.RunnerConcurrency != 16 {
		t.Errorf("expected concurrency 16, got %d", cfg.RunnerConcurrency)
	}
	// Некорректное значение — default
	if cfg.MaxDepth != 32 {
		t.Errorf("expected default depth, got %d", cfg.MaxDepth)
	}
	if cfg.SchedulerTick != 5*time.Second || cfg.Migrate {
		t.Errorf("unexpected tick/migrate: %+v", cfg)
	}

	perms := cfg.GrantedPermissions()
	if !perms.Allows("system:read") || perms.Allows("fs:write") {
		t.Errorf("unexpected permissions: %v", perms)
	}
}
