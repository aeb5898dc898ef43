// Package session holds the per-run state shared by every drive: the
// worker pool, the stream registry and the cooperative stop flag. A
// Session is created by the top-level command and injected into the
// drive engine and its pipeline.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittotape/internal/logger"
)

// Config sizes a session.
type Config struct {
	// MaxStreams is the number of concurrent streams. The pool holds two
	// workers per stream.
	MaxStreams int

	// Spawn overrides the worker spawner; nil uses goroutines.
	Spawn Spawner
}

// Session owns the pool and registry for one run.
type Session struct {
	Pool    *Pool
	Streams *Registry
}

// New creates a session. MaxStreams below 1 is treated as 1.
func New(cfg Config) *Session {
	streams := cfg.MaxStreams
	if streams < 1 {
		streams = 1
	}
	reg := NewRegistry(2 * streams)
	return &Session{
		Pool:    NewPool(2*streams, reg, cfg.Spawn),
		Streams: reg,
	}
}

// RequestStop sets the cooperative stop flag.
func (s *Session) RequestStop() { s.Pool.RequestStop() }

// StopRequested reports whether a stop has been requested.
func (s *Session) StopRequested() bool { return s.Pool.StopRequested() }

// Shutdown requests a cooperative stop, waits up to grace for workers to
// exit on their own, then kills whatever remains. It returns the number
// of workers that had to be killed.
func (s *Session) Shutdown(ctx context.Context, grace time.Duration) int {
	s.RequestStop()

	waitCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	err := s.Pool.Wait(waitCtx)
	if err == nil {
		logger.Debug("Session workers exited cleanly")
		return 0
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		logger.Warn("Session wait failed", logger.Err(err))
	}

	killed := s.Pool.KillAll()
	if killed > 0 {
		logger.Warn("Session workers killed after grace period",
			logger.KeyCount, killed,
			logger.KeyDuration, grace.String())
	}
	return killed
}
