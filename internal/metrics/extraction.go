package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		extractionRunsTotal,
		extractionItemsTotal,
		extractionFloodWaitsTotal,
		extractionFloodWaitSeconds,
		extractionRunsActive,
		extractionRunDuration,
		downloadBytesTotal,
	)
}

var (
	extractionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_runs_total",
			Help: "Finished runs by job type and terminal status.",
		},
		[]string{"job_type", "status"},
	)

	extractionItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_items_total",
			Help: "Replicated messages by outcome (processed/failed).",
		},
		[]string{"outcome"},
	)

	extractionFloodWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_flood_waits_total",
			Help: "Rate-limit signals received from the provider.",
		},
	)

	extractionFloodWaitSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_flood_wait_seconds_total",
			Help: "Total time spent waiting on provider rate limits.",
		},
	)

	extractionRunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extraction_runs_active",
			Help: "Runs currently in progress.",
		},
	)

	extractionRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
		[]string{"job_type"},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_bytes_total",
			Help: "Bytes of media written to local storage.",
		},
	)
)

// RunStarted marks a run as in progress.
func RunStarted() {
	extractionRunsActive.Inc()
}

// RunFinished records the terminal status of a run that was started.
func RunFinished(jobType, status string, elapsed time.Duration) {
	extractionRunsActive.Dec()
	extractionRunsTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
	extractionRunDuration.WithLabelValues(norm(jobType)).Observe(elapsed.Seconds())
}

// RunRejected records a run that failed before it started, e.g. without a session.
func RunRejected(jobType string) {
	extractionRunsTotal.WithLabelValues(norm(jobType), "failed").Inc()
}

// ItemProcessed counts a replicated message.
func ItemProcessed() {
	extractionItemsTotal.WithLabelValues("processed").Inc()
}

// ItemFailed counts a message that could not be replicated.
func ItemFailed() {
	extractionItemsTotal.WithLabelValues("failed").Inc()
}

// FloodWait records a provider rate-limit signal.
func FloodWait(wait time.Duration) {
	extractionFloodWaitsTotal.Inc()
	extractionFloodWaitSeconds.Add(wait.Seconds())
}

// DownloadedBytes adds to the downloaded bytes counter.
func DownloadedBytes(n int64) {
	downloadBytesTotal.Add(float64(n))
}
