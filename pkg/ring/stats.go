package ring

import (
	"time"

	"github.com/marmos91/dittotape/internal/logger"
)

// Stats accumulates pipeline activity for the life of a ring.
type Stats struct {
	Gets         int64
	Puts         [4]int64 // indexed by Op
	Resets       int64
	Discarded    int
	Errors       int64
	BytesRead    int64
	BytesWritten int64

	// ClientWait is time the client spent blocked in Get.
	ClientWait time.Duration
	// WorkerWait is time the worker spent idle waiting for work.
	WorkerWait time.Duration
	// WorkerBusy is time the worker spent inside device calls.
	WorkerBusy time.Duration
}

// Throughput returns bytes moved per second of worker busy time.
func (s Stats) Throughput() float64 {
	if s.WorkerBusy <= 0 {
		return 0
	}
	return float64(s.BytesRead+s.BytesWritten) / s.WorkerBusy.Seconds()
}

// Metrics receives per-operation pipeline observations.
type Metrics interface {
	ObserveOp(op Op, bytes int, d time.Duration, err error)
	ObserveClientWait(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOp(Op, int, time.Duration, error) {}
func (noopMetrics) ObserveClientWait(time.Duration)         {}

// Stats returns a snapshot of the counters.
func (r *Ring) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// LogStats writes a one-line summary of the ring's activity.
func (r *Ring) LogStats(drive string) {
	s := r.Stats()
	logger.Info("Pipeline statistics",
		logger.KeyDrive, drive,
		"reads", s.Puts[OpRead],
		"writes", s.Puts[OpWrite],
		"bytes_read", s.BytesRead,
		"bytes_written", s.BytesWritten,
		"errors", s.Errors,
		"discarded", s.Discarded,
		"client_wait", s.ClientWait.Round(time.Millisecond),
		"worker_busy", s.WorkerBusy.Round(time.Millisecond),
		"worker_idle", s.WorkerWait.Round(time.Millisecond),
		"throughput_bps", int64(s.Throughput()))
}
