// Package metrics groups the Prometheus instruments for the memory
// daemon behind one struct so packages share a single registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the daemon exports. Construct one per
// process with New and pass it down; tests build their own against a
// private registry.
type Metrics struct {
	FilesProcessed     *prometheus.CounterVec
	ChunksProduced     prometheus.Counter
	BatchFailures      prometheus.Counter
	QueueDepth         prometheus.Gauge
	ProcessingDuration prometheus.Histogram

	FusionQueries  prometheus.Counter
	FusionDegraded *prometheus.CounterVec
	FusionLatency  prometheus.Histogram
	EmbedCacheHits prometheus.Counter
	EmbedCacheMiss prometheus.Counter
}

// New registers all instruments against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FilesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "files_processed_total",
			Help:      "Files that finished processing, by terminal status.",
		}, []string{"status"}),
		ChunksProduced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "chunks_produced_total",
			Help:      "Chunks stored across all processed files.",
		}),
		BatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "batch_failures_total",
			Help:      "Embedding batches that failed and were skipped.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Tasks currently waiting in the ingestion queue.",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "processing_duration_seconds",
			Help:      "Wall time to process one file end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		FusionQueries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "fusion",
			Name:      "queries_total",
			Help:      "Fusion queries served.",
		}),
		FusionDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "fusion",
			Name:      "degraded_sources_total",
			Help:      "Per-source degraded results observed during fusion.",
		}, []string{"source"}),
		FusionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "fusion",
			Name:      "latency_seconds",
			Help:      "End-to-end fusion query latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		EmbedCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "embed",
			Name:      "cache_hits_total",
			Help:      "Embedding cache hits.",
		}),
		EmbedCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "embed",
			Name:      "cache_misses_total",
			Help:      "Embedding cache misses.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
