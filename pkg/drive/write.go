package drive

import (
	"context"
	"errors"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/media"
	"github.com/marmos91/dittotape/pkg/ring"
)

// writeState is the bookkeeping of one write session. Record indices
// count from the record carrying the global header, index 0.
type writeState struct {
	// issued is one past the last record handed to the device.
	issued int64
	// completed is one past the last record confirmed, while no error
	// has been seen.
	completed int64
	// firstErr is the index of the first record that failed, or -1.
	firstErr int64
	// err is the latched write error.
	err error

	caps     uint32
	recMark  int64
	lastMark int64
	marks    []*Mark
	bytes    int64

	committed int
	discarded int
}

// BeginWrite starts a new media file at the current position. The global
// header is written synchronously, checksummed, as the payload of record
// 0, so that a failure here leaves nothing half done. gh.DumpID must be
// set; it identifies every record of the media file.
func (d *Drive) BeginWrite(ctx context.Context, gh *media.GlobalHeader) (err error) {
	if d.mode != ModeNone {
		return opErrf("begin_write", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if gh == nil || gh.DumpID == [16]byte{} {
		return opErrf("begin_write", -1, ErrCore, "global header without dump id")
	}
	ctx, done := d.observe(ctx, "begin_write")
	defer done(&err)

	if err := d.ensureReady(ctx); err != nil {
		return err
	}
	if v := d.verdict; v != nil && !errors.Is(v, ErrBlank) && !errors.Is(v, ErrOverwrite) {
		return v
	}

	bs, rs, err := d.writeSizes()
	if err != nil {
		return err
	}
	if err := d.ensureRing(ctx, rs); err != nil {
		return err
	}

	d.wr = writeState{firstErr: -1, recMark: media.NoMark, lastMark: -1, caps: uint32(d.dev.Capabilities())}
	d.dumpID, d.blockSize, d.recordSize, d.global = gh.DumpID, bs, rs, gh

	rec := d.scratchBuf(rs)
	clear(rec)
	hdr := media.NewRecordHeader(d.dumpID, bs, rs, d.wr.caps, 0)
	hdr.RecUsed = headerRecordUsed
	hdr.Checksummed = true
	if err := hdr.Encode(rec); err != nil {
		return opErr("begin_write", 0, ErrCore, err)
	}
	if err := gh.Encode(rec[media.RecordHeaderSize:headerRecordUsed]); err != nil {
		return opErr("begin_write", 0, ErrCore, err)
	}
	media.StampChecksum(rec)
	if _, err := d.writeIO(rec); err != nil {
		return opErr("begin_write", 0, mediaKind(err), err)
	}
	d.wr.issued, d.wr.completed = 1, 1
	d.recIndex = 1

	if err := d.nextWriteBuffer(); err != nil {
		return err
	}
	d.mode = ModeWrite

	logger.InfoCtx(ctx, "Media file started",
		logger.KeyDumpID, d.dumpID.String(),
		logger.KeyLabel, gh.Label,
		logger.KeyBlockSize, bs,
		logger.KeyRecordSize, rs,
		logger.KeyPipeline, d.cfg.PipelineLength)
	return nil
}

// nextWriteBuffer makes a fresh record buffer current.
func (d *Drive) nextWriteBuffer() error {
	if d.ring != nil {
		m, err := d.ring.Get(d.runCtx)
		if err != nil {
			return d.latchWrite(opErr("write", d.recIndex, ErrCore, err))
		}
		d.noteWrite(m)
		d.held, d.buf = m, m.Buf
	} else {
		d.buf = d.scratchBuf(d.recordSize)
	}
	d.cur.Reset(d.recordSize, d.recordSize, media.RecordHeaderSize)
	d.wr.recMark = media.NoMark
	return d.wr.err
}

// noteWrite accounts for a buffer coming back from the pipeline.
func (d *Drive) noteWrite(m *ring.Msg) {
	if m.Op != ring.OpWrite {
		return
	}
	switch m.Status {
	case ring.StatusOK:
		if d.wr.firstErr < 0 && m.Tag+1 > d.wr.completed {
			d.wr.completed = m.Tag + 1
		}
	case ring.StatusError:
		if d.wr.firstErr < 0 {
			d.wr.firstErr = m.Tag
			d.latchWrite(opErr("write", m.Tag, mediaKind(m.Err), m.Err))
		}
	}
}

func (d *Drive) latchWrite(err error) error {
	if d.wr.err == nil {
		d.wr.err = err
		logger.Warn("Write error latched", logger.KeyDrive, d.name, logger.KeyRecord, d.recIndex, logger.KeyError, err)
	}
	return d.wr.err
}

// dispatch stamps the current record and sends it to the device, then
// makes a fresh buffer current and commits marks that became durable.
func (d *Drive) dispatch() error {
	idx := d.recIndex
	rs := d.recordSize
	used := d.cur.Consumed()

	hdr := media.NewRecordHeader(d.dumpID, d.blockSize, rs, d.wr.caps, idx*int64(rs))
	hdr.FirstMarkOffset = d.wr.recMark
	hdr.RecUsed = uint32(used)
	hdr.Checksummed = d.cfg.Checksum
	if err := hdr.Encode(d.buf); err != nil {
		return d.latchWrite(opErr("write", idx, ErrCore, err))
	}
	clear(d.buf[used:rs])
	media.StampChecksum(d.buf[:rs])

	if d.ring != nil {
		d.ring.Put(d.held, ring.OpWrite, idx)
		d.held = nil
		d.wr.issued = idx + 1
	} else {
		_, err := d.writeIO(d.buf[:rs])
		d.wr.issued = idx + 1
		if err != nil {
			if d.wr.firstErr < 0 {
				d.wr.firstErr = idx
			}
			d.latchWrite(opErr("write", idx, mediaKind(err), err))
		} else if d.wr.firstErr < 0 {
			d.wr.completed = idx + 1
		}
	}

	d.recIndex = idx + 1
	nerr := d.nextWriteBuffer()
	d.commitMarks()
	return nerr
}

// writable checks the preconditions shared by the write-side calls.
func (d *Drive) writable(op string) error {
	if d.mode != ModeWrite {
		return opErrf(op, -1, ErrCore, "drive is in %s mode", d.mode)
	}
	return d.wr.err
}

// GetWriteBuffer lends up to n bytes of the current record for the
// caller to fill in place. The region must be handed back with Write
// before any other write-side call. It may be shorter than n when the
// record is nearly full.
func (d *Drive) GetWriteBuffer(n int) ([]byte, error) {
	if err := d.writable("get_write_buffer"); err != nil {
		return nil, err
	}
	if d.cur.Owned() {
		return nil, opErrf("get_write_buffer", d.recIndex, ErrCore, "previous buffer not written")
	}
	if n <= 0 {
		return nil, opErrf("get_write_buffer", d.recIndex, ErrCore, "buffer of %d bytes", n)
	}
	if d.cur.Remaining() == 0 {
		if err := d.dispatch(); err != nil {
			return nil, err
		}
	}
	start, end, err := d.cur.Take(n)
	if err != nil {
		return nil, opErr("get_write_buffer", d.recIndex, ErrCore, err)
	}
	return d.buf[start:end], nil
}

// Write appends buf to the media file. If buf is the region returned by
// GetWriteBuffer, or a prefix of it, it is settled in place. Otherwise
// its bytes are copied, spilling over as many records as needed.
func (d *Drive) Write(buf []byte) error {
	if err := d.writable("write"); err != nil {
		return err
	}
	if d.cur.Owned() {
		start := d.cur.Consumed() - d.cur.Taken()
		if len(buf) > d.cur.Taken() || (len(buf) > 0 && !sameMemory(buf, d.buf[start:])) {
			return opErrf("write", d.recIndex, ErrCore, "buffer is not the region lent by GetWriteBuffer")
		}
		if err := d.cur.Release(len(buf)); err != nil {
			return opErr("write", d.recIndex, ErrCore, err)
		}
		d.wr.bytes += int64(len(buf))
		d.metrics.RecordBytes("write", len(buf))
		if d.cur.Remaining() == 0 {
			return d.dispatch()
		}
		return nil
	}

	for len(buf) > 0 {
		start, end, err := d.cur.Take(len(buf))
		if err != nil {
			return opErr("write", d.recIndex, ErrCore, err)
		}
		n := copy(d.buf[start:end], buf)
		_ = d.cur.Release(n)
		buf = buf[n:]
		d.wr.bytes += int64(n)
		d.metrics.RecordBytes("write", n)
		if d.cur.Remaining() == 0 {
			if err := d.dispatch(); err != nil {
				return err
			}
		}
	}
	return nil
}

func sameMemory(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

// AlignCount returns the number of bytes that would complete the current
// record.
func (d *Drive) AlignCount() (int, error) {
	if err := d.writable("align_count"); err != nil {
		return 0, err
	}
	return d.cur.Remaining(), nil
}

// EndWrite flushes the partial last record, drains the pipeline, writes
// the terminating file mark and settles every mark. It returns the number
// of bytes of the media file, headers included, that are guaranteed to be
// on tape, together with the first write error if there was one.
func (d *Drive) EndWrite(ctx context.Context) (committed int64, err error) {
	if d.mode != ModeWrite {
		return 0, opErrf("end_write", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	ctx, done := d.observe(ctx, "end_write")
	defer done(&err)

	if d.cur.Owned() {
		_ = d.cur.Release(0)
	}
	if d.wr.err == nil && (d.cur.Consumed() > media.RecordHeaderSize || d.wr.recMark != media.NoMark) {
		_ = d.dispatch()
	}

	var drainErr error
	if d.ring != nil {
		drainErr = d.drainWrites(ctx)
	}

	markErr := d.dev.Do(device.OpWriteFileMark, 1)

	L := int64(d.lostRecordMax)
	var g int64
	switch {
	case d.wr.firstErr >= 0:
		g = d.wr.firstErr - L
	case d.wr.err != nil:
		g = d.wr.completed - L
	case markErr != nil || drainErr != nil:
		g = d.wr.issued - L
	default:
		g = d.wr.issued
	}
	g = max(g, 0)
	committed = g * int64(d.recordSize)
	d.settleMarks(committed)

	d.mode = ModeNone
	d.buf, d.recIndex = nil, -1
	d.metrics.RecordMarks(d.wr.committed, d.wr.discarded)

	logger.InfoCtx(ctx, "Media file finished",
		logger.KeyCount, d.wr.issued,
		logger.KeyBytes, d.wr.bytes,
		logger.KeyOffset, committed,
		logger.KeyCommitted, d.wr.committed,
		logger.KeyDiscarded, d.wr.discarded)

	switch {
	case d.wr.err != nil:
		return committed, d.wr.err
	case drainErr != nil:
		return committed, drainErr
	case markErr != nil:
		return committed, opErr("end_write", d.wr.issued, mediaKind(markErr), markErr)
	}
	return committed, nil
}

// drainWrites waits for every queued write. The held buffer travels as a
// trace behind them; when it comes back everything before it is done.
func (d *Drive) drainWrites(ctx context.Context) error {
	if d.held == nil {
		return d.resetRing(ctx)
	}
	d.ring.Put(d.held, ring.OpTrace, -1)
	d.held = nil
	for {
		m, err := d.ring.Get(ctx)
		if err != nil {
			werr := opErr("end_write", d.recIndex, ErrCore, err)
			d.latchWrite(werr)
			return werr
		}
		if m.Op == ring.OpTrace {
			d.held = m
			return d.resetRing(ctx)
		}
		d.noteWrite(m)
		d.ring.Put(m, ring.OpNop, 0)
	}
}
