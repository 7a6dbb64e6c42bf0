package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ingestion pipeline.
type Metrics struct {
	downloadsTotal   *prometheus.CounterVec
	bytesTransferred prometheus.Counter
	scenesIngested   prometheus.Counter
	tilesLoaded      prometheus.Counter
	downloadDuration prometheus.Histogram
	bandLoadDuration prometheus.Histogram
	activeDownloads  prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates the pipeline metrics against a specific registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		downloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_downloads_total",
				Help: "Band downloads by terminal status",
			},
			[]string{"status"},
		),
		bytesTransferred: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_bytes_transferred_total",
				Help: "Total bytes downloaded from the distribution service",
			},
		),
		scenesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_scenes_ingested_total",
				Help: "Scenes with at least one band loaded this run",
			},
		),
		tilesLoaded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_tiles_loaded_total",
				Help: "Raster tiles moved into the partitioned table",
			},
		),
		downloadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_download_duration_seconds",
				Help:    "Duration of individual band downloads",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		bandLoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_band_load_duration_seconds",
				Help:    "Duration of raster staging and move per band file",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		activeDownloads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_downloads",
				Help: "Downloads currently in flight",
			},
		),
	}
}

// RecordDownload counts one terminal download outcome.
func (m *Metrics) RecordDownload(status string) {
	m.downloadsTotal.WithLabelValues(status).Inc()
}

// AddBytesTransferred adds verified payload bytes.
func (m *Metrics) AddBytesTransferred(n int64) {
	m.bytesTransferred.Add(float64(n))
}

// RecordSceneIngested counts a scene with at least one band loaded.
func (m *Metrics) RecordSceneIngested() {
	m.scenesIngested.Inc()
}

// AddTilesLoaded counts tiles moved out of a staging relation.
func (m *Metrics) AddTilesLoaded(n int64) {
	m.tilesLoaded.Add(float64(n))
}

// ObserveDownloadDuration records how long one band download took.
func (m *Metrics) ObserveDownloadDuration(d time.Duration) {
	m.downloadDuration.Observe(d.Seconds())
}

// ObserveBandLoadDuration records how long staging and moving one band took.
func (m *Metrics) ObserveBandLoadDuration(d time.Duration) {
	m.bandLoadDuration.Observe(d.Seconds())
}

// DownloadStarted marks a worker picking up a band.
func (m *Metrics) DownloadStarted() {
	m.activeDownloads.Inc()
}

// DownloadFinished marks a worker releasing a band.
func (m *Metrics) DownloadFinished() {
	m.activeDownloads.Dec()
}
