// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, tests, api calls.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDurationHistogram tracks how long one main-loop tick takes,
	// split by phase ("transfer" or "display"). A tick that spends
	// unusually long in "transfer" points at a stalled source or consumer.
	TickDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pv_tick_duration_seconds",
			Help: "main loop tick latency distribution (seconds), by phase",
			Buckets: []float64{
				0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
				0.09, 0.1, 0.25, 0.5, 0.9, 1,
			},
		},
		[]string{"phase"})

	// TransferRateHistogram tracks the instantaneous transfer rate
	// computed each tick, in bytes/sec.
	TransferRateHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "pv_transfer_rate_bytes_per_second",
			Help: "instantaneous transfer rate histogram (bytes/sec)",
			Buckets: []float64{
				0,
				1, 10, 100, 1000,
				10000, 12600, 15800, 20000, 25100, 31600, 39800, 50100, 63100, 79400,
				100000, 126000, 158000, 200000, 251000, 316000, 398000, 501000, 631000, 794000,
				1000000, 1260000, 1580000, 2000000, 2510000, 3160000, 3980000, 5010000, 6310000, 7940000,
				10000000, math.Inf(+1),
			},
		})

	// BufferOccupancyGauge tracks how full the transfer buffer is, as a
	// fraction of its current capacity.
	BufferOccupancyGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pv_buffer_occupancy_ratio",
			Help: "fraction of the transfer buffer currently holding unwritten data",
		},
	)

	// ErrorCount measures the number of errors encountered during a run,
	// broken down by the status.Bit category they fall into.
	//
	// Provides metrics:
	//    pv_error_total
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"type": "open_failed"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pv_error_total",
			Help: "The total number of errors encountered, by category.",
		}, []string{"type"})

	// FilesCompletedCount counts the number of input files a single
	// invocation has finished transferring, for multi-file runs.
	//
	// Provides metrics:
	//   pv_files_completed_total
	// Example usage:
	//   metrics.FilesCompletedCount.Inc()
	FilesCompletedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pv_files_completed_total",
			Help: "Number of input files fully transferred.",
		},
	)

	// SpliceFallbackCount counts how often the splice fast path was
	// attempted and fell back to read/write, per input fd's lifetime.
	SpliceFallbackCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pv_splice_fallback_total",
			Help: "Number of times splice(2) failed and the read/write path was used instead.",
		},
	)

	// RemoteReconfigureCount counts applied remote reconfigure messages.
	RemoteReconfigureCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pv_remote_reconfigure_total",
			Help: "Number of remote reconfigure messages applied.",
		},
	)
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in pvgo.metrics are registered.")
}
