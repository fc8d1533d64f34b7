package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	results           *prometheus.CounterVec
	storeReadErrors   *prometheus.CounterVec
	variantWrites     *prometheus.CounterVec
	transformDuration prometheus.Histogram
	sharedGenerations prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_pipeline_results_total",
			Help: "Pipeline invocations by mode and outcome.",
		}, []string{"mode", "kind"}),
		storeReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_store_read_errors_total",
			Help: "Blob store reads that failed for a reason other than a missing key.",
		}, []string{"stage"}),
		variantWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_variant_writes_total",
			Help: "Derived variant writes by status.",
		}, []string{"status"}),
		transformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelcache_transform_duration_seconds",
			Help:    "Time spent decoding, resizing and encoding one variant.",
			Buckets: prometheus.DefBuckets,
		}),
		sharedGenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelcache_inflight_shared_total",
			Help: "Invocations answered by an identical in-flight generation.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.results,
			m.storeReadErrors,
			m.variantWrites,
			m.transformDuration,
			m.sharedGenerations,
		)
	}
	return m
}
