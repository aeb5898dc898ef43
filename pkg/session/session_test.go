package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockUntilCancelled is a worker body that exits only when cancelled.
func blockUntilCancelled(ctx context.Context, _ *Worker) { <-ctx.Done() }

// ============================================================================
// Registry
// ============================================================================

func TestRegistry(t *testing.T) {
	r := NewRegistry(3)

	require.NoError(t, r.Register(1, 0))
	require.NoError(t, r.Register(2, 0))
	require.NoError(t, r.Register(3, 1))
	assert.ErrorIs(t, r.Register(4, 2), ErrRegistryFull)

	idx, ok := r.IndexOf(3)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, r.CountDistinctActive())

	t.Run("rebinding replaces", func(t *testing.T) {
		require.NoError(t, r.Register(2, 5))
		idx, _ := r.IndexOf(2)
		assert.Equal(t, 5, idx)
		assert.Equal(t, 3, r.CountDistinctActive())
	})

	t.Run("unregister frees", func(t *testing.T) {
		r.Unregister(1)
		r.Unregister(99)
		_, ok := r.IndexOf(1)
		assert.False(t, ok)
		require.NoError(t, r.Register(4, 2))
	})
}

// ============================================================================
// Pool
// ============================================================================

func TestPoolCapacity(t *testing.T) {
	s := New(Config{MaxStreams: 2})
	require.Equal(t, 4, s.Pool.Capacity())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Pool.Create(ctx, blockUntilCancelled, i%2, "io")
		require.NoError(t, err)
		assert.LessOrEqual(t, s.Pool.RemainingCount(), s.Pool.Capacity())
	}

	_, err := s.Pool.Create(ctx, blockUntilCancelled, 0, "extra")
	assert.ErrorIs(t, err, ErrTooManyWorkers)
	assert.Equal(t, 4, s.Pool.RemainingCount())

	assert.Equal(t, 4, s.Pool.KillAll())
	assert.Equal(t, 0, s.Pool.RemainingCount())
	assert.Equal(t, 0, s.Streams.CountDistinctActive())
	assert.Equal(t, 0, s.Pool.KillAll(), "second kill is a no-op")
}

func TestPoolDiedFreesSlotAndStream(t *testing.T) {
	s := New(Config{MaxStreams: 1})
	release := make(chan struct{})

	w, err := s.Pool.Create(context.Background(), func(ctx context.Context, _ *Worker) {
		<-release
	}, 0, "reader")
	require.NoError(t, err)

	idx, ok := s.Streams.IndexOf(w.ID)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	close(release)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not reaped")
	}

	assert.Equal(t, 0, s.Pool.RemainingCount())
	_, ok = s.Streams.IndexOf(w.ID)
	assert.False(t, ok)

	s.Pool.Died(w.ID)
}

func TestPoolOtherStreamsRemain(t *testing.T) {
	s := New(Config{MaxStreams: 3})
	ctx := context.Background()
	defer s.Pool.KillAll()

	_, err := s.Pool.Create(ctx, blockUntilCancelled, 0, "a")
	require.NoError(t, err)
	_, err = s.Pool.Create(ctx, blockUntilCancelled, NoStream, "helper")
	require.NoError(t, err)

	assert.False(t, s.Pool.OtherStreamsRemain(0))
	assert.True(t, s.Pool.OtherStreamsRemain(1))

	_, err = s.Pool.Create(ctx, blockUntilCancelled, 2, "b")
	require.NoError(t, err)
	assert.True(t, s.Pool.OtherStreamsRemain(0))
}

func TestPoolCustomSpawner(t *testing.T) {
	var mu sync.Mutex
	var labels []string

	s := New(Config{
		MaxStreams: 1,
		Spawn: func(ctx context.Context, entry Entry, w *Worker) {
			mu.Lock()
			labels = append(labels, w.Label)
			mu.Unlock()
			entry(ctx, w)
		},
	})

	ran := false
	_, err := s.Pool.Create(context.Background(), func(context.Context, *Worker) { ran = true }, 0, "inline")
	require.NoError(t, err)

	assert.True(t, ran)
	assert.Equal(t, []string{"inline"}, labels)
	assert.Equal(t, 0, s.Pool.RemainingCount())
}

func TestRequestStopIsFlagOnly(t *testing.T) {
	s := New(Config{MaxStreams: 1})
	assert.False(t, s.StopRequested())

	s.Pool.mu.Lock()
	s.RequestStop()
	s.Pool.mu.Unlock()

	assert.True(t, s.StopRequested())
}

// ============================================================================
// Supervisor
// ============================================================================

func TestShutdownCooperative(t *testing.T) {
	s := New(Config{MaxStreams: 1})

	_, err := s.Pool.Create(context.Background(), func(ctx context.Context, w *Worker) {
		for !s.StopRequested() {
			time.Sleep(time.Millisecond)
		}
	}, 0, "polite")
	require.NoError(t, err)

	assert.Equal(t, 0, s.Shutdown(context.Background(), 2*time.Second))
	assert.Equal(t, 0, s.Pool.RemainingCount())
}

func TestShutdownEscalatesToKill(t *testing.T) {
	s := New(Config{MaxStreams: 1})
	stuck := make(chan struct{})
	defer close(stuck)

	w, err := s.Pool.Create(context.Background(), func(ctx context.Context, _ *Worker) {
		<-stuck
	}, 0, "stuck")
	require.NoError(t, err)

	start := time.Now()
	assert.Equal(t, 1, s.Shutdown(context.Background(), 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, s.Pool.RemainingCount())

	select {
	case <-w.Done():
	default:
		t.Fatal("killed worker must be marked done")
	}
}
