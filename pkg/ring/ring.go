// Package ring implements the bounded buffer pipeline between a drive and
// its background I/O worker.
//
// A ring owns Length buffers of BufferSize bytes. The client takes a buffer
// with Get, fills or consumes it, and hands it back with Put together with
// the operation the worker should perform on it. The worker performs the
// physical read or write and returns the buffer to the ready queue, where a
// later Get picks it up. Both queues are FIFO and there is exactly one
// worker, so completions are observed in submission order. The ring never
// retries; the caller decides what an error means.
package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/session"
)

var (
	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New("ring closed")

	// ErrWorkerGone is returned when the worker exited while the client
	// was waiting for a buffer.
	ErrWorkerGone = errors.New("ring worker exited")

	// ErrNoBuffers is returned by Get when the client already holds every
	// buffer; waiting would deadlock.
	ErrNoBuffers = errors.New("all ring buffers checked out")
)

// Op is the operation requested for a buffer.
type Op int

const (
	OpNop Op = iota
	OpRead
	OpWrite
	OpTrace
)

func (o Op) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpTrace:
		return "trace"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Status is the outcome stamped on a buffer by the worker.
type Status int

const (
	// StatusInit marks a buffer that carries no completed operation.
	StatusInit Status = iota
	StatusOK
	StatusError
	// StatusMismatch marks a read whose record failed the Check hook.
	StatusMismatch
	// StatusIgnore marks a completion that carries nothing to look at.
	StatusIgnore
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusMismatch:
		return "mismatch"
	case StatusIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Msg is one ring buffer and the state of its last operation.
type Msg struct {
	Buf    []byte
	Op     Op
	Status Status
	Tag    int64
	N      int
	Err    error
}

// IOFunc performs one physical record transfer.
type IOFunc func(buf []byte) (int, error)

// CheckFunc inspects a freshly read record on the worker. A non-nil error
// turns the completion into StatusMismatch.
type CheckFunc func(record []byte) error

// Spawner starts the worker. *session.Pool satisfies it.
type Spawner interface {
	Create(ctx context.Context, entry session.Entry, stream int, label string) (*session.Worker, error)
}

// Config describes a ring.
type Config struct {
	Length     int
	BufferSize int
	Pin        bool

	Read  IOFunc
	Write IOFunc
	Check CheckFunc

	Spawner Spawner
	Stream  int
	Label   string
	Metrics Metrics
}

// Ring is the pipeline. Get, Put, Reset and Destroy must be called from a
// single client goroutine.
type Ring struct {
	cfg  Config
	msgs []*Msg

	ready chan *Msg
	work  chan *Msg

	worker   *session.Worker
	inClient int

	statsMu sync.Mutex
	stats   Stats

	closeOnce sync.Once
	closed    bool
}

// New allocates the buffers and starts the worker. The worker lives until
// Destroy or until ctx is cancelled, so ctx should span the whole drive
// session rather than a single operation.
func New(ctx context.Context, cfg Config) (*Ring, error) {
	if cfg.Length < 1 {
		return nil, fmt.Errorf("ring length %d: must be at least 1", cfg.Length)
	}
	if cfg.BufferSize < 1 {
		return nil, fmt.Errorf("ring buffer size %d: must be positive", cfg.BufferSize)
	}
	if cfg.Spawner == nil {
		return nil, errors.New("ring: no spawner")
	}
	if cfg.Label == "" {
		cfg.Label = "ring"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	r := &Ring{
		cfg:   cfg,
		msgs:  make([]*Msg, cfg.Length),
		ready: make(chan *Msg, cfg.Length),
		work:  make(chan *Msg, cfg.Length),
	}
	for i := range r.msgs {
		m := &Msg{Buf: make([]byte, cfg.BufferSize)}
		r.msgs[i] = m
		r.ready <- m
	}

	if cfg.Pin {
		r.pin()
	}

	w, err := cfg.Spawner.Create(ctx, r.loop, cfg.Stream, cfg.Label)
	if err != nil {
		r.unpin()
		return nil, fmt.Errorf("start ring worker: %w", err)
	}
	r.worker = w

	logger.Debug("Ring started",
		logger.KeyPipeline, cfg.Length,
		logger.KeyRecordSize, cfg.BufferSize,
		logger.KeyWorker, w.ID)
	return r, nil
}

// Length returns the number of buffers.
func (r *Ring) Length() int { return len(r.msgs) }

// Get returns the next buffer from the ready queue, blocking until the
// worker completes one if necessary.
func (r *Ring) Get(ctx context.Context) (*Msg, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.inClient >= len(r.msgs) {
		return nil, ErrNoBuffers
	}

	start := time.Now()
	var m *Msg
	select {
	case m = <-r.ready:
	default:
		select {
		case m = <-r.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.worker.Done():
			select {
			case m = <-r.ready:
			default:
				return nil, ErrWorkerGone
			}
		}
	}
	waited := time.Since(start)

	r.inClient++
	r.statsMu.Lock()
	r.stats.Gets++
	r.stats.ClientWait += waited
	r.statsMu.Unlock()
	r.cfg.Metrics.ObserveClientWait(waited)
	return m, nil
}

// Put hands m to the worker. tag is returned untouched with the completion.
func (r *Ring) Put(m *Msg, op Op, tag int64) {
	m.Op = op
	m.Tag = tag
	m.Status = StatusInit
	m.Err = nil
	if op == OpRead {
		m.N = 0
	}

	r.inClient--
	r.statsMu.Lock()
	r.stats.Puts[op]++
	r.statsMu.Unlock()
	r.work <- m
}

// Reset waits for every in-flight operation, discards the results and
// returns all buffers to the ready queue in StatusInit. held is the buffer
// the client has checked out, if any; the client may hold at most one.
func (r *Ring) Reset(ctx context.Context, held *Msg) error {
	if r.closed {
		return ErrClosed
	}
	inHand := 0
	if held != nil {
		inHand = 1
	}
	if r.inClient != inHand {
		return fmt.Errorf("ring reset with %d buffers checked out, %d returned", r.inClient, inHand)
	}

	outstanding := len(r.msgs) - inHand
	discarded := 0
	for i := 0; i < outstanding; i++ {
		select {
		case m := <-r.ready:
			if m.Status != StatusInit {
				discarded++
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-r.worker.Done():
			return ErrWorkerGone
		}
	}

	for _, m := range r.msgs {
		m.Op, m.Status, m.Tag, m.N, m.Err = OpNop, StatusInit, 0, 0, nil
		r.ready <- m
	}
	r.inClient = 0

	r.statsMu.Lock()
	r.stats.Resets++
	r.stats.Discarded += discarded
	r.statsMu.Unlock()
	return nil
}

// Destroy stops the worker after it drains queued operations and releases
// the buffers. It is idempotent.
func (r *Ring) Destroy(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.closed = true
		close(r.work)
		select {
		case <-r.worker.Done():
		case <-ctx.Done():
			err = ctx.Err()
		}
		r.unpin()
	})
	return err
}

// loop is the worker body.
func (r *Ring) loop(ctx context.Context, _ *session.Worker) {
	for {
		start := time.Now()
		var m *Msg
		var ok bool
		select {
		case m, ok = <-r.work:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
		idle := time.Since(start)

		busyStart := time.Now()
		r.process(m)
		busy := time.Since(busyStart)

		r.statsMu.Lock()
		r.stats.WorkerWait += idle
		r.stats.WorkerBusy += busy
		switch m.Op {
		case OpRead:
			r.stats.BytesRead += int64(m.N)
		case OpWrite:
			r.stats.BytesWritten += int64(m.N)
		}
		if m.Status == StatusError || m.Status == StatusMismatch {
			r.stats.Errors++
		}
		r.statsMu.Unlock()
		r.cfg.Metrics.ObserveOp(m.Op, m.N, busy, m.Err)

		r.ready <- m
	}
}

func (r *Ring) process(m *Msg) {
	switch m.Op {
	case OpRead:
		n, err := r.cfg.Read(m.Buf)
		m.N = n
		switch {
		case err != nil:
			m.Status, m.Err = StatusError, err
		case r.cfg.Check != nil && n > 0:
			if cerr := r.cfg.Check(m.Buf[:n]); cerr != nil {
				m.Status, m.Err = StatusMismatch, cerr
				return
			}
			m.Status = StatusOK
		default:
			m.Status = StatusOK
		}

	case OpWrite:
		n, err := r.cfg.Write(m.Buf)
		m.N = n
		if err != nil {
			m.Status, m.Err = StatusError, err
			return
		}
		m.Status = StatusOK

	case OpTrace:
		m.Status = StatusOK

	default:
		m.Status = StatusIgnore
	}
}
