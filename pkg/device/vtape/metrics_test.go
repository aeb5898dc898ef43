package vtape

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/device"
)

type recordingMetrics struct {
	mu     sync.Mutex
	ops    map[string]int
	errs   map[string]int
	bytes  map[string]int
	labels map[string]bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		ops:    make(map[string]int),
		errs:   make(map[string]int),
		bytes:  make(map[string]int),
		labels: make(map[string]bool),
	}
}

func (m *recordingMetrics) ObserveOperation(backend, op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[backend] = true
	m.ops[op]++
	if err != nil {
		m.errs[op]++
	}
}

func (m *recordingMetrics) RecordBytes(_, op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[op] += n
}

func TestInstrumentNilMetrics(t *testing.T) {
	ctx := context.Background()
	s := Instrument(NewMemoryStore(), "memory", nil)

	_, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "f", 0, []byte("x")))
	got, err := s.Get(ctx, "f", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	_, err = s.Get(ctx, "f", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedStore(t *testing.T) {
	ctx := context.Background()
	m := newRecordingMetrics()
	store := NewMemoryStore()
	d := New(Instrument(store, "memory", m), Options{})

	require.NoError(t, d.Open(ctx))
	mustWrite(t, d, rec('a', 100))
	mustWrite(t, d, rec('b', 50))
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	require.NoError(t, d.Do(device.OpRewind, 0))

	buf := make([]byte, 128)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	require.NoError(t, d.Close())

	assert.True(t, m.labels["memory"])
	assert.Equal(t, 1, m.ops["load"])
	assert.Equal(t, 2, m.ops["put"])
	assert.Equal(t, 150, m.bytes["put"])
	assert.GreaterOrEqual(t, m.ops["get"], 1)
	assert.GreaterOrEqual(t, m.bytes["get"], 100)
	assert.GreaterOrEqual(t, m.ops["commit"], 1)
	assert.Empty(t, m.errs)
}
