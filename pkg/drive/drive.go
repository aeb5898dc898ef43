// Package drive is the tape drive engine. A Drive owns one device and
// moves client data to and from it as fixed-size records, each carrying a
// self-describing header. Writing packs client bytes into records, stamps
// their headers and tells the caller which of its marks became durable.
// Reading validates every record, hands payload out in place and
// resynchronises on the next mark after corruption.
//
// Device I/O happens either synchronously on the caller's goroutine or,
// when Config.PipelineLength is positive, on a background worker that
// reads ahead or writes behind through a ring of buffers.
//
// A Drive is not safe for concurrent use.
package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/internal/telemetry"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/media"
	"github.com/marmos91/dittotape/pkg/ring"
	"github.com/marmos91/dittotape/pkg/session"
)

// Mode is the state of the drive's session FSM. Read and Write are only
// reachable from None.
type Mode int

const (
	ModeNone Mode = iota
	ModeRead
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Option customises a Drive.
type Option func(*Drive)

// WithMetrics installs engine metrics.
func WithMetrics(m Metrics) Option {
	return func(d *Drive) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithRingMetrics installs pipeline metrics.
func WithRingMetrics(m ring.Metrics) Option {
	return func(d *Drive) { d.ringMetrics = m }
}

// Info is a snapshot of what the drive negotiated.
type Info struct {
	Name            string
	Mode            Mode
	Caps            device.Caps
	Remote          bool
	QIC             bool
	DeviceBlockSize int
	BlockSize       int
	RecordSize      int
	LostRecordMax   int
	PipelineLength  int
	Prepared        bool
	Verdict         string
	DumpID          uuid.UUID
	Global          *media.GlobalHeader
}

// Drive is the engine for one tape device.
type Drive struct {
	dev  device.Device
	sess *session.Session
	cfg  Config
	name string

	metrics     Metrics
	ringMetrics ring.Metrics

	// runCtx spans the drive's life; the pipeline worker is bound to it.
	runCtx    context.Context
	runCancel context.CancelFunc

	mode     Mode
	open     bool
	closed   bool
	prepared bool
	verdict  error

	caps          device.Caps
	remote        bool
	qic           bool
	devBlockSize  int
	origBlockSize int
	blockSizeSet  bool
	lostRecordMax int
	probed        *probeResult

	dumpID     uuid.UUID
	blockSize  int
	recordSize int
	global     *media.GlobalHeader

	ring     *ring.Ring
	ringSize int
	held     *ring.Msg
	scratch  []byte

	buf      []byte
	cur      Cursor
	recIndex int64
	hdr      *media.RecordHeader

	rd readState
	wr writeState
}

// New creates a drive for dev. Nothing touches the device until the
// first operation. A nil sess gets a private single-stream session.
func New(dev device.Device, sess *session.Session, cfg Config, opts ...Option) *Drive {
	if sess == nil {
		sess = session.New(session.Config{MaxStreams: 1})
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Drive{
		dev:       dev,
		sess:      sess,
		cfg:       cfg.withDefaults(),
		name:      dev.Name(),
		metrics:   noopMetrics{},
		runCtx:    ctx,
		runCancel: cancel,
		recIndex:  -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lostRecordMax = d.cfg.LostRecordMax
	return d
}

// Name identifies the underlying device.
func (d *Drive) Name() string { return d.name }

// Mode returns the current session state.
func (d *Drive) Mode() Mode { return d.mode }

// Info returns what the drive has negotiated so far.
func (d *Drive) Info() Info {
	info := Info{
		Name:            d.name,
		Mode:            d.mode,
		Caps:            d.caps,
		Remote:          d.remote,
		QIC:             d.qic,
		DeviceBlockSize: d.devBlockSize,
		BlockSize:       d.blockSize,
		RecordSize:      d.recordSize,
		LostRecordMax:   d.lostRecordMax,
		PipelineLength:  d.cfg.PipelineLength,
		Prepared:        d.prepared,
		Verdict:         KindName(d.verdict),
		DumpID:          d.dumpID,
		Global:          d.global,
	}
	if p := d.probed; p != nil && d.mode == ModeNone {
		info.BlockSize, info.RecordSize = p.blockSize, p.recordSize
		info.DumpID, info.Global = p.dumpID, p.global
	}
	return info
}

// Status opens the device if needed and returns its status.
func (d *Drive) Status(ctx context.Context) (device.Status, error) {
	if err := d.ensureOpen(ctx); err != nil {
		return device.Status{}, err
	}
	st, err := d.dev.Status()
	if err != nil {
		return device.Status{}, opErr("status", -1, ErrDevice, err)
	}
	return st, nil
}

// Close ends any active session, tears down the pipeline, restores the
// original block size if configured, optionally unloads and closes the
// device. It is idempotent.
func (d *Drive) Close(ctx context.Context) (err error) {
	if d.closed {
		return nil
	}
	ctx, done := d.observe(ctx, "close")
	defer done(&err)

	var errs []error
	switch d.mode {
	case ModeWrite:
		if _, werr := d.EndWrite(ctx); werr != nil {
			errs = append(errs, werr)
		}
	case ModeRead:
		if rerr := d.EndRead(ctx); rerr != nil {
			errs = append(errs, rerr)
		}
	}

	d.destroyRing(ctx)

	if d.open {
		if d.blockSizeSet && d.cfg.RestoreBlockSize && d.caps.Has(device.CapSetBlockSize) {
			if berr := d.dev.SetBlockSize(d.origBlockSize); berr != nil {
				logger.Warn("Failed to restore block size",
					logger.KeyDrive, d.name, logger.KeyBlockSize, d.origBlockSize, logger.KeyError, berr)
			} else {
				logger.Debug("Block size restored", logger.KeyDrive, d.name, logger.KeyBlockSize, d.origBlockSize)
			}
		}
		if d.cfg.Unload {
			if uerr := d.dev.Do(device.OpOffline, 1); uerr != nil {
				errs = append(errs, opErr("close", -1, ErrDevice, uerr))
			}
		}
		if cerr := d.dev.Close(); cerr != nil {
			errs = append(errs, opErr("close", -1, ErrDevice, cerr))
		}
		d.open = false
	}

	d.runCancel()
	d.closed = true
	logger.Debug("Drive closed", logger.KeyDrive, d.name)
	return errors.Join(errs...)
}

// observe opens a span for a coarse operation and returns the function
// that closes it and reports the outcome.
func (d *Drive) observe(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := telemetry.StartDriveSpan(ctx, op, d.name)
	lc := logger.NewLogContext(d.name).
		WithOperation(op).
		WithStream(d.cfg.Stream).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	if d.dumpID != uuid.Nil {
		lc.DumpID = d.dumpID.String()
	}
	ctx = logger.WithContext(ctx, lc)
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
		d.metrics.ObserveOperation(op, time.Since(start), err)
	}
}

// ============================================================================
// Device access
// ============================================================================

// openDevice opens the device, retrying while it is not ready.
func (d *Drive) openDevice(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if d.sess.StopRequested() {
			return opErr("open", -1, ErrStop, nil)
		}
		err := d.dev.Open(ctx)
		if err == nil {
			d.open = true
			return nil
		}
		if !errors.Is(err, device.ErrNotReady) && !errors.Is(err, device.ErrOffline) {
			return opErr("open", -1, ErrDevice, err)
		}
		if attempt >= d.cfg.OpenRetries {
			return opErrf("open", -1, ErrDevice, "not ready after %d attempts: %w", attempt, err)
		}
		logger.Debug("Drive not ready, retrying",
			logger.KeyDrive, d.name, logger.KeyAttempt, attempt, logger.KeyMax, d.cfg.OpenRetries, logger.KeyError, err)
		if err := sleepCtx(ctx, d.cfg.OpenRetryDelay); err != nil {
			return opErr("open", -1, ErrStop, err)
		}
	}
}

// reopen cycles the device so that the next I/O starts from a fresh
// position after a block size query or change.
func (d *Drive) reopen(ctx context.Context) error {
	if d.open {
		if err := d.dev.Close(); err != nil {
			return opErr("reopen", -1, ErrDevice, err)
		}
		d.open = false
	}
	return d.openDevice(ctx)
}

func (d *Drive) ensureOpen(ctx context.Context) error {
	if d.closed {
		return opErrf("open", -1, ErrCore, "drive closed")
	}
	if d.open {
		return nil
	}
	return d.openDevice(ctx)
}

// ensureReady opens and prepares the device if that has not happened yet.
// A verdict about the medium is not an error here; callers that care
// look at d.verdict.
func (d *Drive) ensureReady(ctx context.Context) error {
	if err := d.ensureOpen(ctx); err != nil {
		return err
	}
	if d.prepared {
		return nil
	}
	if err := d.prepare(ctx); err != nil && !IsVerdict(err) {
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Buffers and pipeline
// ============================================================================

func (d *Drive) pipelined() bool { return d.cfg.PipelineLength > 0 }

// scratchBuf returns the single record buffer resized to size.
func (d *Drive) scratchBuf(size int) []byte {
	if cap(d.scratch) < size {
		d.scratch = make([]byte, size)
	}
	return d.scratch[:size]
}

// ensureRing makes sure a ring with buffers of size exists. The ring is
// reused across sessions while the record size stays the same.
func (d *Drive) ensureRing(ctx context.Context, size int) error {
	if !d.pipelined() {
		return nil
	}
	if d.ring != nil && d.ringSize == size {
		return nil
	}
	d.destroyRing(ctx)

	r, err := ring.New(d.runCtx, ring.Config{
		Length:     d.cfg.PipelineLength,
		BufferSize: size,
		Pin:        d.cfg.PinBuffers,
		Read:       d.readIO,
		Write:      d.writeIO,
		Check:      checkRecord,
		Spawner:    d.sess.Pool,
		Stream:     d.cfg.Stream,
		Label:      "ring:" + d.name,
		Metrics:    d.ringMetrics,
	})
	if err != nil {
		return opErr("pipeline", -1, ErrCore, err)
	}
	d.ring, d.ringSize = r, size
	return nil
}

func (d *Drive) destroyRing(ctx context.Context) {
	if d.ring == nil {
		return
	}
	d.ring.LogStats(d.name)
	if err := d.ring.Destroy(ctx); err != nil {
		logger.Warn("Pipeline teardown failed", logger.KeyDrive, d.name, logger.KeyError, err)
	}
	d.ring, d.ringSize, d.held = nil, 0, nil
}

// resetRing returns every ring buffer to the ready queue, discarding
// in-flight results. The held buffer is given up.
func (d *Drive) resetRing(ctx context.Context) error {
	if d.ring == nil {
		return nil
	}
	err := d.ring.Reset(ctx, d.held)
	d.held = nil
	if err != nil {
		return opErr("pipeline", d.recIndex, ErrCore, err)
	}
	return nil
}

func checkRecord(record []byte) error {
	_, err := media.VerifyRecord(record)
	return err
}

func (d *Drive) writeIO(buf []byte) (int, error) {
	n, err := d.dev.Write(buf)
	if err == nil && n != len(buf) {
		err = fmt.Errorf("%w: short write of %d/%d bytes", device.ErrIO, n, len(buf))
	}
	return n, err
}

// mediaKind maps a device error to an engine kind.
func mediaKind(err error) error {
	switch {
	case errors.Is(err, device.ErrEndOfMedia):
		return ErrEndOfMedia
	case errors.Is(err, device.ErrNotReady), errors.Is(err, device.ErrOffline),
		errors.Is(err, device.ErrClosed), errors.Is(err, device.ErrNotSupported):
		return ErrDevice
	default:
		return ErrMedia
	}
}

// headerKind maps a header decoding or validation error to an engine kind.
func headerKind(err error) error {
	if errors.Is(err, media.ErrUnsupportedVersion) {
		return ErrVersion
	}
	return ErrCorruption
}
