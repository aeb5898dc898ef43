package drive

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/media"
	"github.com/marmos91/dittotape/pkg/ring"
)

// errReadAheadStopped is returned by queued reads once the read-ahead hit
// a file mark or an error; the device is left where that happened.
var errReadAheadStopped = errors.New("read-ahead stopped")

// readState is the bookkeeping of one read session.
type readState struct {
	// nextTag is the tag of the next read handed to the pipeline. The
	// record it returns is nextTag+tagBias when nothing was lost.
	nextTag int64
	tagBias int64

	eof bool
	eod bool

	// errMode is set after a rejected record; only NextMark clears it.
	errMode bool
	err     error

	bytes int64

	// Shared with the pipeline worker.
	stop      atomic.Bool
	aheadMark atomic.Bool
}

func (r *readState) reset() {
	r.nextTag, r.tagBias = 0, 0
	r.eof, r.eod = false, false
	r.errMode, r.err = false, nil
	r.bytes = 0
	r.stop.Store(false)
	r.aheadMark.Store(false)
}

// readIO is the pipeline's read function. After a file mark or an error
// it stops touching the device so that read-ahead never runs past the end
// of the media file.
func (d *Drive) readIO(buf []byte) (int, error) {
	if d.rd.stop.Load() {
		return 0, errReadAheadStopped
	}
	n, err := d.dev.Read(buf)
	if err != nil || n == 0 {
		d.rd.stop.Store(true)
		if err == nil {
			d.rd.aheadMark.Store(true)
		}
	}
	return n, err
}

// BeginRead validates the header record of the media file at the current
// position and primes read-ahead. The engine is left before the first
// byte of client data.
func (d *Drive) BeginRead(ctx context.Context) (gh *media.GlobalHeader, err error) {
	if d.mode != ModeNone {
		return nil, opErrf("begin_read", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	ctx, done := d.observe(ctx, "begin_read")
	defer done(&err)

	if err := d.ensureReady(ctx); err != nil {
		return nil, err
	}
	d.rd.reset()

	res, err := d.readHeaderRecord()
	if err != nil {
		return nil, err
	}
	d.dumpID, d.blockSize, d.recordSize, d.global = res.dumpID, res.blockSize, res.recordSize, res.global
	if err := d.ensureRing(ctx, d.recordSize); err != nil {
		return nil, err
	}

	d.recIndex, d.hdr, d.buf = 0, res.hdr, nil
	d.cur.Reset(d.recordSize, int(res.hdr.RecUsed), int(res.hdr.RecUsed))
	d.rd.nextTag = 1
	if err := d.prime(ctx); err != nil {
		return nil, err
	}
	d.mode = ModeRead

	logger.InfoCtx(ctx, "Media file opened",
		logger.KeyDumpID, d.dumpID.String(),
		logger.KeyLabel, res.global.Label,
		logger.KeyBlockSize, d.blockSize,
		logger.KeyRecordSize, d.recordSize)
	return res.global, nil
}

// readHeaderRecord reads record 0 directly. In fixed-block mode the read
// size is a guess; it is completed or backed out once the header tells
// the real record size.
func (d *Drive) readHeaderRecord() (*probeResult, error) {
	size := MaxRecordSize
	if d.devBlockSize > 0 {
		size = d.cfg.RecordSize
		switch {
		case d.probed != nil && d.probed.recordSize > 0:
			size = d.probed.recordSize
		case d.qic:
			size = QICRecordSize
		}
		size -= size % d.devBlockSize
	}
	full := d.scratchBuf(MaxRecordSize)
	n, err := d.dev.Read(full[:size])
	switch {
	case err == nil && n == 0:
		d.rd.eof = true
		return nil, opErrf("begin_read", 0, ErrEndOfFile, "empty media file")
	case errors.Is(err, device.ErrRecordTooLarge):
		return nil, opErr("begin_read", 0, ErrForeign, err)
	case err != nil:
		if st, serr := d.dev.Status(); serr == nil && st.Is(device.FlagEOD) {
			if st.Is(device.FlagBOT) {
				return nil, opErr("begin_read", 0, ErrBlank, err)
			}
			return nil, opErr("begin_read", 0, ErrEndOfData, err)
		}
		return nil, opErr("begin_read", 0, mediaKind(err), err)
	}

	if d.devBlockSize > 0 && media.HasRecordMagic(full[:n]) {
		if hdr, herr := media.DecodeRecordHeader(full[:n]); herr == nil {
			rs := int(hdr.RecordSize)
			switch {
			case rs > n && rs <= MaxRecordSize && rs%d.devBlockSize == 0:
				m, rerr := d.dev.Read(full[n:rs])
				if rerr != nil {
					return nil, opErr("begin_read", 0, mediaKind(rerr), rerr)
				}
				n += m
			case rs < n && rs%d.devBlockSize == 0:
				if !d.caps.Has(device.CapBackRecord) {
					return nil, opErrf("begin_read", 0, ErrFormat,
						"record size %d below the %d bytes read and the drive cannot back up", rs, n)
				}
				if berr := d.dev.Do(device.OpBackRecord, (n-rs)/d.devBlockSize); berr != nil {
					return nil, opErr("begin_read", 0, mediaKind(berr), berr)
				}
				n = rs
			}
		}
	}
	return d.parseFirstRecord("begin_read", full[:n])
}

// prime hands every ring buffer to the worker as a read. The client must
// hold no buffer.
func (d *Drive) prime(ctx context.Context) error {
	d.rd.stop.Store(false)
	d.rd.aheadMark.Store(false)
	if d.ring == nil {
		return nil
	}
	for i := 0; i < d.ring.Length(); i++ {
		m, err := d.ring.Get(ctx)
		if err != nil {
			return opErr("read", d.recIndex, ErrCore, err)
		}
		d.ring.Put(m, ring.OpRead, d.rd.nextTag)
		d.rd.nextTag++
	}
	return nil
}

// fetchRecord makes the next physical record current.
func (d *Drive) fetchRecord(ctx context.Context) error {
	want := d.recIndex + 1
	if d.ring == nil {
		buf := d.scratchBuf(d.recordSize)
		n, err := d.dev.Read(buf)
		var check error
		if err == nil && n > 0 {
			_, check = media.VerifyRecord(buf[:n])
		}
		return d.acceptRecord(buf, n, err, check, want)
	}

	if d.held != nil {
		d.ring.Put(d.held, ring.OpRead, d.rd.nextTag)
		d.rd.nextTag++
		d.held = nil
	}
	for {
		m, err := d.ring.Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return opErr("read", want, ErrStop, err)
			}
			return opErr("read", want, ErrCore, err)
		}
		if m.Op != ring.OpRead {
			d.ring.Put(m, ring.OpRead, d.rd.nextTag)
			d.rd.nextTag++
			continue
		}
		d.held = m
		var ioErr, check error
		switch m.Status {
		case ring.StatusError:
			ioErr = m.Err
		case ring.StatusMismatch:
			check = m.Err
		}
		return d.acceptRecord(m.Buf, m.N, ioErr, check, want)
	}
}

// acceptRecord classifies one physical read expected to be record want.
func (d *Drive) acceptRecord(buf []byte, n int, ioErr, check error, want int64) error {
	switch {
	case ioErr != nil:
		return d.readFailure(want, ioErr)
	case n == 0:
		d.rd.eof = true
		return opErr("read", want, ErrEndOfFile, nil)
	case check != nil:
		return d.reject(want, headerKind(check), check)
	case n != d.recordSize:
		return d.reject(want, ErrCorruption, errors.New("short record"))
	}

	hdr, err := media.DecodeRecordHeader(buf[:n])
	if err != nil {
		return d.reject(want, headerKind(err), err)
	}
	if err := hdr.Validate(d.dumpID, d.recordSize, want*int64(d.recordSize)); err != nil {
		return d.reject(want, ErrCorruption, err)
	}
	d.setRecord(buf[:n], hdr)
	return nil
}

func (d *Drive) setRecord(buf []byte, hdr *media.RecordHeader) {
	d.recIndex = hdr.RecordIndex()
	d.hdr = hdr
	d.buf = buf
	d.cur.Reset(d.recordSize, int(hdr.RecUsed), media.RecordHeaderSize)
}

func (d *Drive) readFailure(want int64, err error) error {
	switch {
	case errors.Is(err, errReadAheadStopped):
		return d.reject(want, ErrCore, err)
	case errors.Is(err, device.ErrRecordTooLarge):
		return d.reject(want, ErrCorruption, err)
	case errors.Is(err, device.ErrEndOfMedia):
		d.rd.eod = true
		return opErr("read", want, ErrEndOfMedia, err)
	}
	if st, serr := d.dev.Status(); serr == nil && st.Is(device.FlagEOD) {
		d.rd.eod = true
		return opErr("read", want, ErrEndOfData, err)
	}
	return d.reject(want, mediaKind(err), err)
}

// reject latches error mode. Reads fail until NextMark resynchronises.
func (d *Drive) reject(rec int64, kind, cause error) error {
	e := opErr("read", rec, kind, cause)
	d.rd.errMode, d.rd.err = true, e
	logger.Warn("Record rejected", logger.KeyDrive, d.name, logger.KeyRecord, rec, logger.KeyError, e)
	return e
}

// Read lends up to n bytes of the current record, fetching the next
// record when the current one is exhausted. The slice must be handed back
// with ReturnReadBuffer before the next call.
func (d *Drive) Read(n int) ([]byte, error) {
	if d.mode != ModeRead {
		return nil, opErrf("read", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if d.cur.Owned() {
		return nil, opErrf("read", d.recIndex, ErrCore, "previous buffer not returned")
	}
	if n <= 0 {
		return nil, opErrf("read", d.recIndex, ErrCore, "read of %d bytes", n)
	}
	if d.rd.errMode {
		return nil, d.rd.err
	}
	for d.cur.Remaining() == 0 {
		if err := d.readEnded(); err != nil {
			return nil, err
		}
		if err := d.fetchRecord(d.runCtx); err != nil {
			return nil, err
		}
	}
	start, end, err := d.cur.Take(n)
	if err != nil {
		return nil, opErr("read", d.recIndex, ErrCore, err)
	}
	d.rd.bytes += int64(end - start)
	d.metrics.RecordBytes("read", end-start)
	return d.buf[start:end], nil
}

func (d *Drive) readEnded() error {
	switch {
	case d.rd.eof:
		return opErr("read", d.recIndex+1, ErrEndOfFile, nil)
	case d.rd.eod:
		return opErr("read", d.recIndex+1, ErrEndOfData, nil)
	}
	return nil
}

// ReturnReadBuffer hands back the slice returned by the last Read.
func (d *Drive) ReturnReadBuffer(buf []byte) error {
	if d.mode != ModeRead {
		return opErrf("return_read_buffer", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if !d.cur.Owned() {
		return opErrf("return_read_buffer", d.recIndex, ErrCore, "no buffer lent")
	}
	start := d.cur.Consumed() - d.cur.Taken()
	if len(buf) != d.cur.Taken() || !sameMemory(buf, d.buf[start:]) {
		return opErrf("return_read_buffer", d.recIndex, ErrCore, "buffer is not the one lent by Read")
	}
	if err := d.cur.Release(len(buf)); err != nil {
		return opErr("return_read_buffer", d.recIndex, ErrCore, err)
	}
	return nil
}

// EndRead stops reading and leaves the tape after the file mark closing
// the media file, ready for the next BeginRead.
func (d *Drive) EndRead(ctx context.Context) (err error) {
	if d.mode != ModeRead {
		return opErrf("end_read", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	ctx, done := d.observe(ctx, "end_read")
	defer done(&err)

	if d.cur.Owned() {
		_ = d.cur.Release(d.cur.Taken())
	}
	var errs []error
	if rerr := d.resetRing(ctx); rerr != nil {
		errs = append(errs, rerr)
	}
	if !d.rd.eof && !d.rd.eod && !d.rd.aheadMark.Load() {
		if ferr := d.dev.Do(device.OpForwardFile, 1); ferr != nil {
			errs = append(errs, opErr("end_read", -1, mediaKind(ferr), ferr))
		}
	}

	logger.InfoCtx(ctx, "Media file closed",
		logger.KeyBytes, d.rd.bytes,
		logger.KeyRecord, d.recIndex)
	d.mode = ModeNone
	d.buf, d.hdr, d.recIndex = nil, nil, -1
	return errors.Join(errs...)
}

// SeekMark moves forward to offset, a value obtained from SetMark or
// GetMark. Records entirely before the target are skipped with the
// drive's forward-record operation when it has one.
func (d *Drive) SeekMark(ctx context.Context, offset int64) (err error) {
	if d.mode != ModeRead {
		return opErrf("seek_mark", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if d.rd.errMode {
		return d.rd.err
	}
	if d.cur.Owned() {
		return opErrf("seek_mark", d.recIndex, ErrCore, "previous buffer not returned")
	}
	ctx, done := d.observe(ctx, "seek_mark")
	defer done(&err)

	pos := d.position()
	switch {
	case offset < pos:
		return opErrf("seek_mark", d.recIndex, ErrCore, "backward seek from %d to %d", pos, offset)
	case offset == pos:
		return nil
	}
	rs := int64(d.recordSize)
	target, within := offset/rs, int(offset%rs)
	if within < media.RecordHeaderSize {
		return opErrf("seek_mark", target, ErrCore, "offset %d falls in a record header", offset)
	}

	if target > d.recIndex+1 && d.caps.Has(device.CapForwardRecord) {
		if err := d.skipTo(ctx, target); err != nil {
			return err
		}
	}
	for d.recIndex < target {
		if err := d.readEnded(); err != nil {
			return err
		}
		if err := d.fetchRecord(ctx); err != nil {
			return err
		}
	}
	if err := d.cur.Skip(within); err != nil {
		return opErr("seek_mark", target, ErrCore, err)
	}
	return nil
}

// skipTo arranges for the next fetch to return record target. Records the
// read-ahead already asked for are simply drained; otherwise the pipeline
// is reset and the device skips forward directly.
func (d *Drive) skipTo(ctx context.Context, target int64) error {
	head := d.recIndex + 1
	if d.ring != nil {
		if target < d.rd.nextTag+d.rd.tagBias || d.rd.stop.Load() {
			return nil
		}
		if err := d.resetRing(ctx); err != nil {
			return err
		}
		if d.rd.stop.Load() {
			if d.rd.aheadMark.Load() {
				d.rd.eof = true
				return opErr("seek_mark", target, ErrEndOfFile, nil)
			}
			return d.reject(target, ErrMedia, errors.New("read-ahead failed before the target"))
		}
		head = d.rd.nextTag + d.rd.tagBias
	}

	if count := target - head; count > 0 {
		blocks := count
		if d.devBlockSize > 0 {
			blocks *= int64(d.recordSize / d.devBlockSize)
		}
		logger.Debug("Skipping records",
			logger.KeyDrive, d.name, logger.KeyRecord, head, logger.KeyCount, count)
		if err := d.dev.Do(device.OpForwardRecord, int(blocks)); err != nil {
			return d.reject(target, mediaKind(err), err)
		}
	}

	d.recIndex = target - 1
	d.rd.nextTag, d.rd.tagBias = target, 0
	return d.prime(ctx)
}

// NextMark moves to the next mark at or after the current position. In
// error mode it first resynchronises on a valid record carrying a mark.
func (d *Drive) NextMark(ctx context.Context) (err error) {
	if d.mode != ModeRead {
		return opErrf("next_mark", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if d.cur.Owned() {
		return opErrf("next_mark", d.recIndex, ErrCore, "previous buffer not returned")
	}
	ctx, done := d.observe(ctx, "next_mark")
	defer done(&err)

	if d.rd.errMode {
		return d.resync(ctx)
	}

	pos := d.position()
	if d.recIndex > 0 && d.hdr != nil && d.hdr.HasMark() && d.hdr.FirstMarkOffset >= pos {
		return d.skipToMark()
	}
	for {
		if err := d.readEnded(); err != nil {
			return err
		}
		if err := d.fetchRecord(ctx); err != nil {
			return err
		}
		if d.hdr.HasMark() {
			return d.skipToMark()
		}
	}
}

// skipToMark positions the cursor at the first mark of the current record.
func (d *Drive) skipToMark() error {
	off := int(d.hdr.FirstMarkOffset - d.recIndex*int64(d.recordSize))
	if err := d.cur.Skip(off); err != nil {
		return opErr("next_mark", d.recIndex, ErrCore, err)
	}
	return nil
}
