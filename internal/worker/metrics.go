package worker

import (
	"net/http"

	"github.com/dunamismax/pixelcache/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry       *prometheus.Registry
	tasksTotal     *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	activeTasks    prometheus.Gauge
	bytesPersisted prometheus.Counter
	webhookErrors  *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = telemetry.NewRegistry()
	}

	m := &metrics{
		registry: registry,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_worker_tasks_total",
			Help: "Warm variant tasks by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelcache_worker_task_duration_seconds",
			Help:    "Duration of each warm variant task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelcache_worker_active_tasks",
			Help: "Warm variant tasks currently running.",
		}),
		bytesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelcache_worker_bytes_persisted_total",
			Help: "Bytes of variants written by warm tasks.",
		}),
		webhookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_worker_webhook_errors_total",
			Help: "Webhook deliveries that failed by event.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.activeTasks,
		m.bytesPersisted,
		m.webhookErrors,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
