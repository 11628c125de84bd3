package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imagecleaner",
			Name:      "pages_scanned_total",
			Help:      "Total document pages scanned for image placements",
		},
	)

	chunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagecleaner",
			Name:      "scan_chunks_total",
			Help:      "Page chunks processed by result (ok, failed)",
		},
		[]string{"result"},
	)

	classified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagecleaner",
			Name:      "images_classified_total",
			Help:      "Images classified by outcome category (qr, repeated, corner, none)",
		},
		[]string{"category"},
	)

	classifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imagecleaner",
			Name:      "classification_failures_total",
			Help:      "Classification units that crashed or failed (isolated per image)",
		},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagecleaner",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of pipeline runs by terminal state",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)

	docsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagecleaner",
			Name:      "documents_processed_total",
			Help:      "Batch documents processed by outcome (cleaned, skipped, failed)",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imagecleaner",
			Name:      "queue_depth",
			Help:      "Pending batch submissions in the run queue",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(pagesScanned, chunks, classified, classifyFailures, runDuration, docsProcessed, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncPagesScanned()           { pagesScanned.Inc() }
func IncChunk(result string)     { chunks.WithLabelValues(result).Inc() }
func IncClassified(cat string)   { classified.WithLabelValues(cat).Inc() }
func IncClassifyFailure()        { classifyFailures.Inc() }
func IncDocProcessed(out string) { docsProcessed.WithLabelValues(out).Inc() }
func SetQueueDepth(v int64)      { queueDepth.Set(float64(v)) }

func ObserveRun(state string, dur time.Duration) {
	runDuration.WithLabelValues(state).Observe(dur.Seconds())
}
