// Package metrics provides Prometheus metrics for the share service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the share service.
type Metrics struct {
	Registry *prometheus.Registry

	// Lifecycle
	SharesCreated   prometheus.Counter     // fileshare_shares_created_total
	SharesDestroyed *prometheus.CounterVec // fileshare_shares_destroyed_total{reason}
	ActiveShares    prometheus.Gauge       // fileshare_active_shares
	StoredBytes     prometheus.Gauge       // fileshare_stored_bytes

	// Transfers
	FilesUploaded   prometheus.Counter     // fileshare_files_uploaded_total
	UploadErrors    *prometheus.CounterVec // fileshare_upload_errors_total{kind}
	BytesUploaded   prometheus.Counter     // fileshare_bytes_uploaded_total
	FileDownloads   prometheus.Counter     // fileshare_file_downloads_total
	BundleDownloads prometheus.Counter     // fileshare_bundle_downloads_total
}

// New registers all metrics on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		SharesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_shares_created_total",
			Help: "Total share groups committed",
		}),
		SharesDestroyed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fileshare_shares_destroyed_total",
			Help: "Total share groups destroyed by reason",
		}, []string{"reason"}),
		ActiveShares: f.NewGauge(prometheus.GaugeOpts{
			Name: "fileshare_active_shares",
			Help: "Share groups currently in the registry",
		}),
		StoredBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "fileshare_stored_bytes",
			Help: "Bytes currently held by active share groups",
		}),

		FilesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_files_uploaded_total",
			Help: "Total files stored",
		}),
		UploadErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fileshare_upload_errors_total",
			Help: "Rejected files by error kind",
		}, []string{"kind"}),
		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_bytes_uploaded_total",
			Help: "Total bytes stored",
		}),
		FileDownloads: f.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_file_downloads_total",
			Help: "Total single-file downloads served",
		}),
		BundleDownloads: f.NewCounter(prometheus.CounterOpts{
			Name: "fileshare_bundle_downloads_total",
			Help: "Total archive downloads served",
		}),
	}
}
