package drive

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/media"
	"github.com/marmos91/dittotape/pkg/ring"
)

// resyncState is a step of resynchronisation after a rejected record.
type resyncState int

const (
	// resyncDrain examines what the read-ahead already fetched.
	resyncDrain resyncState = iota
	// resyncDirect reads records straight from the device.
	resyncDirect
	// resyncScan looks for a header inside a damaged fixed-block read.
	resyncScan
	resyncFound
	resyncEndOfFile
	resyncEndOfData
	resyncExhausted
)

func (s resyncState) String() string {
	switch s {
	case resyncDrain:
		return "drain"
	case resyncDirect:
		return "direct"
	case resyncScan:
		return "scan"
	case resyncFound:
		return "found"
	case resyncEndOfFile:
		return "end_of_file"
	case resyncEndOfData:
		return "end_of_data"
	case resyncExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("resync(%d)", int(s))
	}
}

// resyncer carries the state machine's scratch between steps.
type resyncer struct {
	d        *Drive
	attempts int
	// n is the length of the damaged read left in the scratch buffer for
	// resyncScan.
	n int
}

// resync hunts for the next valid record of this media file that carries
// a mark and positions at that mark.
func (d *Drive) resync(ctx context.Context) error {
	r := &resyncer{d: d}
	from := d.recIndex
	state := resyncDirect
	if d.ring != nil {
		state = resyncDrain
	}

	for {
		var err error
		switch state {
		case resyncDrain:
			state, err = r.drain(ctx)
		case resyncDirect:
			state, err = r.direct(ctx)
		case resyncScan:
			state, err = r.scan(ctx)
		case resyncFound:
			d.rd.errMode, d.rd.err = false, nil
			logger.Info("Resynchronised on mark",
				logger.KeyDrive, d.name,
				logger.KeyRecord, d.recIndex,
				logger.KeyMark, d.hdr.FirstMarkOffset,
				logger.KeyAttempt, r.attempts,
				"from_record", from)
			return nil
		case resyncEndOfFile:
			d.rd.errMode, d.rd.err = false, nil
			d.rd.eof = true
			return opErr("next_mark", d.recIndex+1, ErrEndOfFile, nil)
		case resyncEndOfData:
			d.rd.errMode, d.rd.err = false, nil
			d.rd.eod = true
			return opErr("next_mark", d.recIndex+1, ErrEndOfData, nil)
		case resyncExhausted:
			return opErrf("next_mark", d.recIndex+1, ErrMedia,
				"no valid record with a mark in %d attempts", r.attempts)
		default:
			return opErrf("next_mark", d.recIndex, ErrCore, "unknown resync state %s", state)
		}
		if err != nil {
			return err
		}
	}
}

// candidate returns the header of rec when it is a valid record of this
// media file, past the current one, that carries a mark.
func (d *Drive) candidate(rec []byte, verified bool) *media.RecordHeader {
	if len(rec) != d.recordSize {
		return nil
	}
	var hdr *media.RecordHeader
	var err error
	if verified {
		hdr, err = media.DecodeRecordHeader(rec)
	} else {
		hdr, err = media.VerifyRecord(rec)
	}
	if err != nil || hdr.Validate(d.dumpID, d.recordSize, -1) != nil {
		return nil
	}
	if hdr.RecordIndex() <= d.recIndex || !hdr.HasMark() {
		return nil
	}
	return hdr
}

// drain sends the held buffer around the ring as a trace and examines
// every read completed ahead of it. A suitable record is kept and reading
// carries on through the pipeline; otherwise the pipeline is reset.
func (r *resyncer) drain(ctx context.Context) (resyncState, error) {
	d := r.d
	if d.held == nil {
		if err := d.resetRing(ctx); err != nil {
			return resyncExhausted, err
		}
		return resyncDirect, nil
	}

	d.ring.Put(d.held, ring.OpTrace, -1)
	d.held = nil
	eof := false
	for {
		m, err := d.ring.Get(ctx)
		if err != nil {
			return resyncExhausted, opErr("next_mark", d.recIndex, ErrCore, err)
		}
		switch {
		case m.Op == ring.OpTrace:
			d.held = m
			if err := d.resetRing(ctx); err != nil {
				return resyncExhausted, err
			}
			if eof {
				return resyncEndOfFile, nil
			}
			return resyncDirect, nil

		case m.Op == ring.OpRead && !eof:
			r.attempts++
			if m.Status != ring.StatusOK {
				break
			}
			if m.N == 0 {
				eof = true
				break
			}
			if hdr := d.candidate(m.Buf[:m.N], true); hdr != nil {
				d.held = m
				d.rd.tagBias = hdr.RecordIndex() - m.Tag
				d.setRecord(m.Buf[:m.N], hdr)
				return resyncFound, d.skipToMark()
			}
		}
		d.ring.Put(m, ring.OpNop, 0)
	}
}

// direct reads the next record from the device, bypassing the pipeline.
func (r *resyncer) direct(ctx context.Context) (resyncState, error) {
	d := r.d
	if r.attempts >= d.cfg.ResyncAttempts {
		return resyncExhausted, nil
	}
	if err := ctx.Err(); err != nil {
		return resyncExhausted, opErr("next_mark", d.recIndex, ErrStop, err)
	}
	if d.sess.StopRequested() {
		return resyncExhausted, opErr("next_mark", d.recIndex, ErrStop, nil)
	}

	buf := d.scratchBuf(d.recordSize)
	n, err := d.dev.Read(buf)
	r.attempts++
	switch {
	case err == nil && n == 0:
		return resyncEndOfFile, nil
	case errors.Is(err, device.ErrEndOfMedia):
		return resyncEndOfData, nil
	case err != nil:
		if st, serr := d.dev.Status(); serr == nil && st.Is(device.FlagEOD) {
			return resyncEndOfData, nil
		}
		logger.Debug("Resync read failed", logger.KeyDrive, d.name, logger.KeyAttempt, r.attempts, logger.KeyError, err)
		return resyncDirect, nil
	}

	rec := buf[:n]
	if _, verr := media.VerifyRecord(rec); verr == nil && n == d.recordSize {
		if c := d.candidate(rec, true); c != nil {
			return r.found(ctx, rec, c)
		}
		return resyncDirect, nil
	}
	if d.qic && d.devBlockSize > 0 && n > d.devBlockSize {
		r.n = n
		return resyncScan, nil
	}
	return resyncDirect, nil
}

// scan looks for the record magic at every block boundary after the first
// block of a damaged fixed-block read. A hit means the record boundary
// slipped; the rest of that record is read to realign.
func (r *resyncer) scan(ctx context.Context) (resyncState, error) {
	d := r.d
	bs := d.devBlockSize
	buf := d.scratchBuf(d.recordSize)
	n := r.n
	r.n = 0

	for off := bs; off+media.RecordHeaderEncodedSize <= n; off += bs {
		if !media.HasRecordMagic(buf[off:n]) {
			continue
		}
		have := copy(buf, buf[off:n])
		logger.Debug("Record magic found mid-record",
			logger.KeyDrive, d.name, logger.KeyOffset, off, logger.KeyBytes, have)
		if r.attempts >= d.cfg.ResyncAttempts {
			return resyncExhausted, nil
		}
		r.attempts++
		m, err := d.dev.Read(buf[have:])
		if err != nil || m == 0 {
			return resyncDirect, nil
		}
		rec := buf[:have+m]
		if c := d.candidate(rec, false); c != nil {
			return r.found(ctx, rec, c)
		}
		if have+m == d.recordSize {
			if _, verr := media.VerifyRecord(rec); verr != nil {
				r.n = have + m
				return resyncScan, nil
			}
		}
		return resyncDirect, nil
	}
	return resyncDirect, nil
}

// found positions at the mark of a record read directly and restarts
// read-ahead behind it.
func (r *resyncer) found(ctx context.Context, rec []byte, hdr *media.RecordHeader) (resyncState, error) {
	d := r.d
	d.setRecord(rec, hdr)
	if err := d.skipToMark(); err != nil {
		return resyncExhausted, err
	}
	d.rd.nextTag, d.rd.tagBias = d.recIndex+1, 0
	if err := d.prime(ctx); err != nil {
		return resyncExhausted, err
	}
	return resyncFound, nil
}
