package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftools",
			Name:      "conversions_total",
			Help:      "Total conversions by operation and result (success, validation, processing, io, environment, internal)",
		},
		[]string{"operation", "result"},
	)

	conversionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdftools",
			Name:      "conversion_duration_seconds",
			Help:      "Duration of conversions by operation",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	uploadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftools",
			Name:      "upload_bytes_total",
			Help:      "Bytes persisted from uploads by operation",
		},
		[]string{"operation"},
	)

	sweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdftools",
			Name:      "sweep_runs_total",
			Help:      "Total sweeps of the artifact store",
		},
	)

	sweepRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftools",
			Name:      "sweep_workspaces_total",
			Help:      "Stale workspaces handled by the sweeper, by result (deleted, failed)",
		},
		[]string{"result"},
	)

	workspaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdftools",
			Name:      "workspaces",
			Help:      "Workspaces left under the store root after the last sweep",
		},
	)

	archiveUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftools",
			Name:      "archive_uploads_total",
			Help:      "Artifact archive uploads by result",
		},
		[]string{"result"},
	)

	registerOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(conversions, conversionLatency, uploadBytes, sweepRuns, sweepRemoved, workspaces, archiveUploads)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveConversion(operation, result string, dur time.Duration) {
	conversions.WithLabelValues(operation, result).Inc()
	conversionLatency.WithLabelValues(operation).Observe(dur.Seconds())
}

func AddUploadBytes(operation string, n int64) { uploadBytes.WithLabelValues(operation).Add(float64(n)) }

// ObserveSweep records one sweep pass.
func ObserveSweep(deleted, failed, remaining int) {
	sweepRuns.Inc()
	sweepRemoved.WithLabelValues("deleted").Add(float64(deleted))
	sweepRemoved.WithLabelValues("failed").Add(float64(failed))
	workspaces.Set(float64(remaining))
}

func IncArchive(result string) { archiveUploads.WithLabelValues(result).Inc() }
