package drive

import (
	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/media"
)

// MarkFunc learns, exactly once, whether a mark became durable.
type MarkFunc func(m *Mark, committed bool)

// Mark is a caller bookmark at a byte offset of the media file. Offsets
// count from the start of the media file, record headers included, so a
// mark can be handed back to SeekMark as is.
type Mark struct {
	Offset int64
	Arg    any

	fn       MarkFunc
	resolved bool
}

func (m *Mark) resolve(committed bool) {
	if m.resolved {
		return
	}
	m.resolved = true
	if m.fn != nil {
		m.fn(m, committed)
	}
}

// SetMark registers a mark at the current write position, which is where
// the next written byte will land. fn is called once the mark is known to
// be durable or known to be lost.
func (d *Drive) SetMark(fn MarkFunc, arg any) (*Mark, error) {
	if err := d.writable("set_mark"); err != nil {
		return nil, err
	}
	if d.cur.Owned() {
		return nil, opErrf("set_mark", d.recIndex, ErrCore, "buffer lent by GetWriteBuffer not written")
	}
	if d.cur.Remaining() == 0 {
		if err := d.dispatch(); err != nil {
			return nil, err
		}
	}

	off := d.position()
	if off <= d.wr.lastMark {
		return nil, opErrf("set_mark", d.recIndex, ErrCore, "mark %d does not follow %d", off, d.wr.lastMark)
	}
	if d.wr.recMark == media.NoMark {
		d.wr.recMark = off
	}
	d.wr.lastMark = off

	m := &Mark{Offset: off, Arg: arg, fn: fn}
	d.wr.marks = append(d.wr.marks, m)
	return m, nil
}

// GetMark returns the current position as a mark offset: the next byte
// to be written, or the next byte Read would return.
func (d *Drive) GetMark() (int64, error) {
	if d.mode == ModeNone {
		return 0, opErrf("get_mark", -1, ErrCore, "no active session")
	}
	if d.mode == ModeRead && d.rd.errMode {
		return 0, d.rd.err
	}
	return d.position(), nil
}

// position maps the cursor to a media file offset. The end of a full
// record, like the end of the header record, is reported as the first
// data byte of the next record. The end of a short record stays where it
// is: only the last record of a media file is short.
func (d *Drive) position() int64 {
	rs := int64(d.recordSize)
	if d.recIndex == 0 || d.cur.Consumed() >= d.cur.Capacity() {
		return (d.recIndex+1)*rs + media.RecordHeaderSize
	}
	return d.recIndex*rs + int64(d.cur.Consumed())
}

// commitMarks resolves marks that are now far enough behind the last
// confirmed record.
func (d *Drive) commitMarks() {
	if d.wr.firstErr >= 0 || d.wr.err != nil {
		return
	}
	limit := (d.wr.completed - int64(d.lostRecordMax)) * int64(d.recordSize)
	n := 0
	for _, m := range d.wr.marks {
		if m.Offset >= limit {
			break
		}
		m.resolve(true)
		d.wr.committed++
		n++
	}
	d.wr.marks = d.wr.marks[n:]
}

// settleMarks resolves every outstanding mark: committed below limit,
// discarded otherwise.
func (d *Drive) settleMarks(limit int64) {
	for _, m := range d.wr.marks {
		if m.Offset < limit {
			m.resolve(true)
			d.wr.committed++
		} else {
			m.resolve(false)
			d.wr.discarded++
		}
	}
	if d.wr.discarded > 0 {
		logger.Warn("Marks discarded",
			logger.KeyDrive, d.name, logger.KeyDiscarded, d.wr.discarded, logger.KeyOffset, limit)
	}
	d.wr.marks = nil
}
