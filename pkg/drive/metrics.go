package drive

import "time"

// Metrics receives engine-level observations. Implementations must be safe
// for concurrent use by several drives.
type Metrics interface {
	// ObserveOperation records one public operation and its outcome.
	ObserveOperation(op string, d time.Duration, err error)

	// RecordMarks counts marks resolved by EndWrite.
	RecordMarks(committed, discarded int)

	// RecordBytes counts client payload bytes moved by op ("read" or "write").
	RecordBytes(op string, n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordMarks(int, int)                          {}
func (noopMetrics) RecordBytes(string, int)                       {}
