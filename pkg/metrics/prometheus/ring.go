package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittotape/pkg/metrics"
	"github.com/marmos91/dittotape/pkg/ring"
)

// ringMetrics is the Prometheus implementation of ring.Metrics.
type ringMetrics struct {
	opsTotal       *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	bytesTotal     *prometheus.CounterVec
	clientWait     prometheus.Histogram
	clientWaitTime prometheus.Counter
}

// NewRingMetrics creates a Prometheus-backed ring.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRingMetrics() ring.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &ringMetrics{
		opsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_pipeline_operations_total",
				Help: "Device transfers performed by the pipeline worker by op and status",
			},
			[]string{"op", "status"},
		),
		opDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittotape_pipeline_operation_duration_milliseconds",
				Help: "Time the pipeline worker spent inside one device transfer",
				Buckets: []float64{
					0.1,  // memory-backed tape
					1,    // local disk store
					5,    // streaming drive, full speed
					20,   // streaming drive, 2 MiB record
					100,  // repositioning
					1000, // shoe-shining or network
				},
			},
			[]string{"op"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittotape_pipeline_bytes_total",
				Help: "Bytes moved between the pipeline and the device",
			},
			[]string{"op"},
		),
		clientWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittotape_pipeline_client_wait_milliseconds",
				Help:    "Time the client spent blocked waiting for a pipeline buffer",
				Buckets: []float64{0.01, 0.1, 1, 10, 100, 1000},
			},
		),
		clientWaitTime: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittotape_pipeline_client_wait_seconds_total",
				Help: "Cumulative time the client spent blocked on the pipeline",
			},
		),
	}
}

func (m *ringMetrics) ObserveOp(op ring.Op, bytes int, d time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.opsTotal.WithLabelValues(op.String(), status).Inc()
	m.opDuration.WithLabelValues(op.String()).Observe(d.Seconds() * 1000)
	if bytes > 0 {
		m.bytesTotal.WithLabelValues(op.String()).Add(float64(bytes))
	}
}

func (m *ringMetrics) ObserveClientWait(d time.Duration) {
	if m == nil {
		return
	}
	m.clientWait.Observe(d.Seconds() * 1000)
	m.clientWaitTime.Add(d.Seconds())
}
