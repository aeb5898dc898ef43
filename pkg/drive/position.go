package drive

import (
	"context"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
)

// positioning checks the common preconditions of the positioning calls.
func (d *Drive) positioning(ctx context.Context, op string) error {
	if d.mode != ModeNone {
		return opErrf(op, -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if d.sess.StopRequested() {
		return opErr(op, -1, ErrStop, nil)
	}
	return d.ensureReady(ctx)
}

// confirm polls the drive status until every flag in want is set. A
// status call that keeps failing is a device error; a status that never
// shows the condition is a media error.
func (d *Drive) confirm(ctx context.Context, op string, want device.Flags) (device.Status, error) {
	var (
		st      device.Status
		lastErr error
		seen    bool
	)
	for attempt := 1; attempt <= d.cfg.StatusRetries; attempt++ {
		s, err := d.dev.Status()
		if err == nil {
			st, seen = s, true
			if s.Is(want) {
				return s, nil
			}
		} else {
			lastErr = err
		}
		if attempt == d.cfg.StatusRetries {
			break
		}
		logger.Debug("Waiting for drive status",
			logger.KeyDrive, d.name,
			logger.KeyOperation, op,
			logger.KeyStatus, want.String(),
			logger.KeyAttempt, attempt)
		if err := sleepCtx(ctx, d.cfg.StatusRetryDelay); err != nil {
			return st, opErr(op, -1, ErrStop, err)
		}
	}
	if !seen {
		return st, opErr(op, -1, ErrDevice, lastErr)
	}
	return st, opErrf(op, -1, ErrMedia, "status %s after %s, want %s", st.Flags, op, want)
}

// ForwardFile skips n media files forward. Running into end of data is
// reported as ErrEndOfData.
func (d *Drive) ForwardFile(ctx context.Context, n int) (err error) {
	if err := d.positioning(ctx, "forward_file"); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	ctx, done := d.observe(ctx, "forward_file")
	defer done(&err)

	if derr := d.dev.Do(device.OpForwardFile, n); derr != nil {
		if st, serr := d.dev.Status(); serr == nil && st.Is(device.FlagEOD) {
			return opErr("forward_file", -1, ErrEndOfData, derr)
		}
		return opErr("forward_file", -1, mediaKind(derr), derr)
	}
	st, err := d.confirm(ctx, "forward_file", device.FlagFileMark)
	if err != nil {
		return err
	}
	logger.Debug("Forward file", logger.KeyDrive, d.name, logger.KeyCount, n, logger.KeyFileNo, st.FileNo)
	return nil
}

// BackFile moves to the start of the media file n files before the
// current one; n of 0 goes to the start of the current media file.
// Reaching the first file rewinds rather than spacing back over it.
func (d *Drive) BackFile(ctx context.Context, n int) (err error) {
	if err := d.positioning(ctx, "back_file"); err != nil {
		return err
	}
	if n < 0 {
		return opErrf("back_file", -1, ErrCore, "negative count %d", n)
	}
	ctx, done := d.observe(ctx, "back_file")
	defer done(&err)

	st, err := d.dev.Status()
	if err != nil {
		return opErr("back_file", -1, ErrDevice, err)
	}
	if st.FileNo-n <= 0 {
		return d.rewind(ctx, "back_file")
	}

	if derr := d.dev.Do(device.OpBackFile, n+1); derr != nil {
		return opErr("back_file", -1, mediaKind(derr), derr)
	}
	if derr := d.dev.Do(device.OpForwardFile, 1); derr != nil {
		return opErr("back_file", -1, mediaKind(derr), derr)
	}
	if st, err = d.confirm(ctx, "back_file", device.FlagFileMark); err != nil {
		return err
	}
	logger.Debug("Back file", logger.KeyDrive, d.name, logger.KeyCount, n, logger.KeyFileNo, st.FileNo)
	return nil
}

// Rewind moves to the beginning of the tape.
func (d *Drive) Rewind(ctx context.Context) (err error) {
	if err := d.positioning(ctx, "rewind"); err != nil {
		return err
	}
	ctx, done := d.observe(ctx, "rewind")
	defer done(&err)
	return d.rewind(ctx, "rewind")
}

func (d *Drive) rewind(ctx context.Context, op string) error {
	if err := d.dev.Do(device.OpRewind, 0); err != nil {
		return opErr(op, -1, mediaKind(err), err)
	}
	_, err := d.confirm(ctx, op, device.FlagBOT)
	return err
}

// Erase rewinds and erases the whole tape.
func (d *Drive) Erase(ctx context.Context) (err error) {
	if err := d.positioning(ctx, "erase"); err != nil {
		return err
	}
	ctx, done := d.observe(ctx, "erase")
	defer done(&err)

	if err := d.rewind(ctx, "erase"); err != nil {
		return err
	}
	if derr := d.dev.Do(device.OpErase, 1); derr != nil {
		return opErr("erase", -1, mediaKind(derr), derr)
	}
	if _, err := d.confirm(ctx, "erase", device.FlagEOD); err != nil {
		return err
	}
	d.verdict = opErr("erase", -1, ErrBlank, nil)
	d.probed = nil
	logger.Info("Tape erased", logger.KeyDrive, d.name)
	return nil
}

// SeekEndOfData moves past the last media file so that BeginWrite appends.
func (d *Drive) SeekEndOfData(ctx context.Context) (err error) {
	if err := d.positioning(ctx, "seek_end_of_data"); err != nil {
		return err
	}
	ctx, done := d.observe(ctx, "seek_end_of_data")
	defer done(&err)

	if derr := d.dev.Do(device.OpEndOfData, 1); derr != nil {
		return opErr("seek_end_of_data", -1, mediaKind(derr), derr)
	}
	st, err := d.confirm(ctx, "seek_end_of_data", device.FlagEOD)
	if err != nil {
		return err
	}
	logger.Debug("At end of data", logger.KeyDrive, d.name, logger.KeyFileNo, st.FileNo)
	return nil
}
