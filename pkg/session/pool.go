package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittotape/internal/logger"
)

// ErrTooManyWorkers is returned by Create when every slot is busy.
var ErrTooManyWorkers = errors.New("too many workers")

// WorkerID identifies a worker for the lifetime of a session. IDs are never
// reused.
type WorkerID uint64

// Entry is the body of a worker. It should return when ctx is cancelled.
type Entry func(ctx context.Context, w *Worker)

// Spawner starts entry for w on some execution primitive, handing it ctx.
// It is the only place the pool touches one; the default starts a goroutine.
type Spawner func(ctx context.Context, entry Entry, w *Worker)

// GoSpawner runs each worker on its own goroutine.
func GoSpawner(ctx context.Context, entry Entry, w *Worker) { go entry(ctx, w) }

// Worker is the handle a worker body receives.
type Worker struct {
	ID     WorkerID
	Stream int
	Label  string

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the worker has been reaped by Died or KillAll.
func (w *Worker) Done() <-chan struct{} { return w.done }

type slot struct {
	busy   bool
	worker *Worker
}

// Pool is a fixed-size table of helper workers. One mutex guards the slot
// table; the stop flag is a lone atomic so RequestStop never blocks.
type Pool struct {
	mu     sync.Mutex
	slots  []slot
	nextID WorkerID

	streams *Registry
	spawn   Spawner
	stop    atomic.Bool
}

// NewPool creates a pool with capacity slots. Workers bound to a stream are
// registered in streams. A nil spawn uses GoSpawner.
func NewPool(capacity int, streams *Registry, spawn Spawner) *Pool {
	if spawn == nil {
		spawn = GoSpawner
	}
	return &Pool{
		slots:   make([]slot, capacity),
		streams: streams,
		spawn:   spawn,
	}
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// Create claims a free slot and starts entry through the spawner. The
// worker is reaped automatically when entry returns.
func (p *Pool) Create(ctx context.Context, entry Entry, stream int, label string) (*Worker, error) {
	p.mu.Lock()
	idx := -1
	for i := range p.slots {
		if !p.slots[i].busy {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("create %s: %w", label, ErrTooManyWorkers)
	}

	p.nextID++
	wctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		ID:     p.nextID,
		Stream: stream,
		Label:  label,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.slots[idx] = slot{busy: true, worker: w}
	p.mu.Unlock()

	if stream != NoStream && p.streams != nil {
		if err := p.streams.Register(w.ID, stream); err != nil {
			p.Died(w.ID)
			return nil, fmt.Errorf("create %s: %w", label, err)
		}
	}

	logger.Debug("Worker created", logger.KeyWorker, w.ID, logger.KeyStream, stream, logger.KeyLabel, label)

	p.spawn(wctx, func(ctx context.Context, w *Worker) {
		defer p.Died(w.ID)
		entry(ctx, w)
	}, w)
	return w, nil
}

// RequestStop asks every worker to wind down at its next poll point. It
// only flips a flag: callers may hold locks the workers need.
func (p *Pool) RequestStop() { p.stop.Store(true) }

// StopRequested reports whether RequestStop has been called.
func (p *Pool) StopRequested() bool { return p.stop.Load() }

// Died frees the slot of id and drops its stream binding. Unknown or
// already reaped ids are ignored.
func (p *Pool) Died(id WorkerID) {
	p.mu.Lock()
	w := p.releaseLocked(id)
	p.mu.Unlock()

	if w != nil {
		p.reap(w)
	}
}

func (p *Pool) releaseLocked(id WorkerID) *Worker {
	for i := range p.slots {
		s := &p.slots[i]
		if s.busy && s.worker.ID == id {
			w := s.worker
			*s = slot{}
			return w
		}
	}
	return nil
}

func (p *Pool) reap(w *Worker) {
	w.cancel()
	if w.Stream != NoStream && p.streams != nil {
		p.streams.Unregister(w.ID)
	}
	close(w.done)
}

// KillAll cancels every busy worker and frees its slot without waiting.
// A worker blocked inside a device call exits when that call returns.
// Safe to call more than once and from exit paths.
func (p *Pool) KillAll() int {
	p.mu.Lock()
	var killed []*Worker
	for i := range p.slots {
		if p.slots[i].busy {
			killed = append(killed, p.slots[i].worker)
			p.slots[i] = slot{}
		}
	}
	p.mu.Unlock()

	for _, w := range killed {
		p.reap(w)
	}
	return len(killed)
}

// RemainingCount returns the number of busy slots.
func (p *Pool) RemainingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.slots {
		if s.busy {
			n++
		}
	}
	return n
}

// OtherStreamsRemain reports whether any busy worker serves a stream other
// than stream.
func (p *Pool) OtherStreamsRemain(stream int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if s.busy && s.worker.Stream != NoStream && s.worker.Stream != stream {
			return true
		}
	}
	return false
}

// Wait blocks until every worker busy at call time has been reaped or ctx
// is done.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	var pending []<-chan struct{}
	for _, s := range p.slots {
		if s.busy {
			pending = append(pending, s.worker.done)
		}
	}
	p.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
