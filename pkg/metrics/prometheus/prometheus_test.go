package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/drive"
	"github.com/marmos91/dittotape/pkg/metrics"
	"github.com/marmos91/dittotape/pkg/ring"
)

func withRegistry(t *testing.T) {
	t.Helper()
	metrics.Reset()
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)
}

func TestConstructorsDisabled(t *testing.T) {
	metrics.Reset()

	assert.Nil(t, NewDriveMetrics())
	assert.Nil(t, NewRingMetrics())
	assert.Nil(t, NewStoreMetrics())
}

func TestDriveMetrics(t *testing.T) {
	withRegistry(t)

	m := NewDriveMetrics()
	require.NotNil(t, m)
	dm := m.(*driveMetrics)

	m.ObserveOperation("write", time.Millisecond, nil)
	m.ObserveOperation("write", time.Millisecond, nil)
	m.ObserveOperation("read", time.Millisecond, drive.ErrEndOfFile)
	m.RecordBytes("write", 4096)
	m.RecordBytes("write", 0)
	m.RecordMarks(3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(dm.operationsTotal.WithLabelValues("write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dm.operationsTotal.WithLabelValues("read", drive.KindName(drive.ErrEndOfFile))))
	assert.Equal(t, 4096.0, testutil.ToFloat64(dm.bytesTotal.WithLabelValues("write")))
	assert.Equal(t, 3.0, testutil.ToFloat64(dm.marksTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dm.marksTotal.WithLabelValues("discarded")))
}

func TestRingMetrics(t *testing.T) {
	withRegistry(t)

	m := NewRingMetrics()
	require.NotNil(t, m)
	rm := m.(*ringMetrics)

	m.ObserveOp(ring.OpWrite, 1<<20, 5*time.Millisecond, nil)
	m.ObserveOp(ring.OpRead, 0, time.Millisecond, errors.New("medium error"))
	m.ObserveClientWait(250 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(rm.opsTotal.WithLabelValues("write", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.opsTotal.WithLabelValues("read", "error")))
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(rm.bytesTotal.WithLabelValues("write")))
	assert.InDelta(t, 0.25, testutil.ToFloat64(rm.clientWaitTime), 1e-9)
}

func TestStoreMetrics(t *testing.T) {
	withRegistry(t)

	m := NewStoreMetrics()
	require.NotNil(t, m)
	sm := m.(*storeMetrics)

	m.ObserveOperation("s3", "put", time.Millisecond, nil)
	m.ObserveOperation("s3", "get", time.Millisecond, errors.New("timeout"))
	m.RecordBytes("s3", "put", 100)
	m.RecordBytes("s3", "get", 40)

	assert.Equal(t, 1.0, testutil.ToFloat64(sm.operationsTotal.WithLabelValues("s3", "put", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.operationsTotal.WithLabelValues("s3", "get", "error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(sm.bytesTransferred.WithLabelValues("s3", "write")))
	assert.Equal(t, 40.0, testutil.ToFloat64(sm.bytesTransferred.WithLabelValues("s3", "read")))
}

func TestNilReceiversAreSafe(t *testing.T) {
	var dm *driveMetrics
	var rm *ringMetrics
	var sm *storeMetrics

	assert.NotPanics(t, func() {
		dm.ObserveOperation("write", time.Second, nil)
		dm.RecordMarks(1, 1)
		dm.RecordBytes("read", 1)
		rm.ObserveOp(ring.OpRead, 1, time.Second, nil)
		rm.ObserveClientWait(time.Second)
		sm.ObserveOperation("badger", "get", time.Second, nil)
		sm.RecordBytes("badger", "get", 1)
	})
}
