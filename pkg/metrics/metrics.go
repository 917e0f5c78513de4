// Package metrics exposes the Prometheus collectors the engine loop
// updates on every dispatched submission and every snapshot write.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SubmissionsProcessed counts dispatched intake items by their
// resulting outcome (FULLY_FILLED, RESTING, REJECTED_FOK, NOT_FOUND,
// ...), matching the outcome vocabulary of spec §4.2/§7.
var SubmissionsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_submissions_processed_total",
		Help: "Total number of intake items dispatched by the engine loop, by outcome",
	},
	[]string{"outcome"},
)

// CoreLatency records the ingest-timestamp-to-publish-timestamp
// latency the engine loop attaches to every emitted event, per §4.6
// step 5.
var CoreLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "matchcore_core_latency_seconds",
		Help:    "End-to-end core latency from ingest to event publication",
		Buckets: prometheus.DefBuckets,
	},
)

// IntakeQueueDepth tracks how full the bounded intake channel is. It is
// exported for monitoring only; Engine.Submit decides QUEUE_FULL from
// the caller's context, not from this gauge.
var IntakeQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "matchcore_intake_queue_depth",
		Help: "Number of submissions currently buffered in the intake channel",
	},
)

// SnapshotWriteDuration records how long each snapshot write (encode +
// fsync + rename) takes.
var SnapshotWriteDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "matchcore_snapshot_write_duration_seconds",
		Help:    "Duration of a snapshot write, including fsync and atomic rename",
		Buckets: prometheus.DefBuckets,
	},
)

// SnapshotIOFailures counts failed snapshot writes (the engine keeps
// running and retries on the next tick, per §7 SNAPSHOT_IO).
var SnapshotIOFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "matchcore_snapshot_io_failures_total",
		Help: "Total number of snapshot writes that failed",
	},
)

// EgressSinkFailures counts failed writes to a durable egress sink
// (e.g. the Kafka authoritative log), by channel name ("trades" or
// "book_updates"). The engine loop itself never blocks on this; a
// sink failure is visible here, not back-pressured onto the core.
var EgressSinkFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_egress_sink_failures_total",
		Help: "Total number of failed writes to a durable egress sink, by channel",
	},
	[]string{"channel"},
)

func init() {
	prometheus.MustRegister(
		SubmissionsProcessed,
		CoreLatency,
		IntakeQueueDepth,
		SnapshotWriteDuration,
		SnapshotIOFailures,
		EgressSinkFailures,
	)
}
