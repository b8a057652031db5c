// Package metrics exposes the hub's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BeatsIngested counts raw beats written, labeled by ingest path.
	BeatsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polarhub_beats_ingested_total",
		Help: "Raw beats written to the store, by ingest path.",
	}, []string{"path"})

	// BatchDuplicates counts batch points rejected by gap detection.
	BatchDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polarhub_batch_duplicates_total",
		Help: "Batch-upload points already covered by stored beats.",
	})

	// Artifacts counts classified artifacts by type.
	Artifacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polarhub_artifacts_total",
		Help: "Artifacts detected by the post-processor, by type.",
	}, []string{"type"})

	// StoreWriteErrors counts best-effort store writes that failed.
	StoreWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polarhub_store_write_errors_total",
		Help: "Store writes that failed and were logged but not surfaced.",
	})

	// TickDuration observes post-processor tick latency per device.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polarhub_postprocess_device_seconds",
		Help:    "Post-processor per-device pass duration.",
		Buckets: prometheus.DefBuckets,
	})

	// TickErrors counts per-device post-processor passes that failed.
	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polarhub_postprocess_errors_total",
		Help: "Post-processor device passes that ended in an error.",
	})
)
