package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittotape/pkg/drive"
	"github.com/marmos91/dittotape/pkg/metrics"
)

// driveMetrics is the Prometheus implementation of drive.Metrics.
type driveMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	marksTotal        *prometheus.CounterVec
}

// NewDriveMetrics creates a Prometheus-backed drive.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDriveMetrics() drive.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &driveMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_drive_operations_total",
				Help: "Total number of drive operations by operation and outcome kind",
			},
			[]string{"operation", "kind"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittotape_drive_operation_duration_milliseconds",
				Help: "Duration of drive operations in milliseconds",
				Buckets: []float64{
					1,      // buffered read/write
					10,     // record transfer
					100,    // status polling
					1000,   // short positioning
					10000,  // rewind
					60000,  // space to end of data
					600000, // erase, load retries
				},
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_drive_bytes_total",
				Help: "Client payload bytes moved through the drive",
			},
			[]string{"direction"},
		),
		marksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_drive_marks_total",
				Help: "Marks resolved at end of write by outcome",
			},
			[]string{"outcome"}, // "committed", "discarded"
		),
	}
}

func (m *driveMetrics) ObserveOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, drive.KindName(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds() * 1000)
}

func (m *driveMetrics) RecordMarks(committed, discarded int) {
	if m == nil {
		return
	}
	if committed > 0 {
		m.marksTotal.WithLabelValues("committed").Add(float64(committed))
	}
	if discarded > 0 {
		m.marksTotal.WithLabelValues("discarded").Add(float64(discarded))
	}
}

func (m *driveMetrics) RecordBytes(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(op).Add(float64(n))
}
