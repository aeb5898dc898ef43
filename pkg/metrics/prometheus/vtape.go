package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittotape/pkg/device/vtape"
	"github.com/marmos91/dittotape/pkg/metrics"
)

// storeMetrics is the Prometheus implementation of vtape.StoreMetrics.
type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewStoreMetrics creates a Prometheus-backed vtape.StoreMetrics covering
// the badger and s3 tape stores.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() vtape.StoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_vtape_store_operations_total",
				Help: "Total number of virtual tape store operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittotape_vtape_store_operation_duration_milliseconds",
				Help: "Duration of virtual tape store operations in milliseconds",
				Buckets: []float64{
					1,     // badger, cached
					10,    // badger, disk
					50,    // small S3 object
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s - 2 MiB record over a slow link
					5000,  // 5s - layout commit dropping many files
					30000, // 30s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_vtape_store_bytes_total",
				Help: "Record bytes moved to and from virtual tape stores",
			},
			[]string{"backend", "direction"},
		),
	}
}

func (m *storeMetrics) ObserveOperation(backend, op string, d time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(backend, op, status).Inc()
	m.operationDuration.WithLabelValues(backend, op).Observe(d.Seconds() * 1000)
}

func (m *storeMetrics) RecordBytes(backend, op string, n int) {
	if m == nil || n <= 0 {
		return
	}

	direction := "write"
	if op == "get" {
		direction = "read"
	}
	m.bytesTransferred.WithLabelValues(backend, direction).Add(float64(n))
}
