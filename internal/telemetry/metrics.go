package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// Metrics — Prometheus метрики движка и сервисов.
//
// Реализует steps.Observer: Executor сообщает о каждом шаге
// и вызове capability.
type Metrics struct {
	StepsTotal      *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	CapabilityCalls *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// nil — prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeflow_steps_total",
			Help: "Executed pipeline steps by type and status",
		}, []string{"type", "status"}),

		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeflow_step_duration_seconds",
			Help:    "Pipeline step duration, including nested steps",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),

		CapabilityCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeflow_capability_calls_total",
			Help: "Capability invocations by name and status",
		}, []string{"capability", "status"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeflow_runs_total",
			Help: "Finished pipeline runs by status",
		}, []string{"status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeflow_http_requests_total",
			Help: "HTTP requests handled by service",
		}, []string{"service"}),
	}
}

// StepFinished учитывает выполненный шаг.
func (m *Metrics) StepFinished(stepType string, duration time.Duration, err error) {
	m.StepsTotal.WithLabelValues(stepType, status(err)).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// CapabilityCalled учитывает вызов capability.
func (m *Metrics) CapabilityCalled(name string, _ time.Duration, err error) {
	m.CapabilityCalls.WithLabelValues(name, status(err)).Inc()
}

// RunFinished учитывает завершённый запуск.
func (m *Metrics) RunFinished(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}

// status переводит ошибку в значение метки.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
