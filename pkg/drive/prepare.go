package drive

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/media"
)

// probeState is a step of device preparation.
type probeState int

const (
	probeOpen probeState = iota
	probeCaps
	probeOverwrite
	probeRead
	probeDone
)

func (s probeState) String() string {
	switch s {
	case probeOpen:
		return "open"
	case probeCaps:
		return "caps"
	case probeOverwrite:
		return "overwrite"
	case probeRead:
		return "read"
	case probeDone:
		return "done"
	default:
		return fmt.Sprintf("probe(%d)", int(s))
	}
}

// probeResult is what the first record of the tape told us.
type probeResult struct {
	blockSize  int
	recordSize int
	dumpID     uuid.UUID
	global     *media.GlobalHeader
	hdr        *media.RecordHeader
}

// candidateSizes are the record sizes tried, smallest first, when reading
// the first record of an unknown tape.
var candidateSizes = []int{64 << 10, QICRecordSize, 256 << 10, DefaultRecordSize, MaxRecordSize}

// Prepare opens the device, negotiates block and record sizes and
// identifies the medium. It leaves the tape rewound. The result is nil
// for a tape written by this engine, or one of the verdicts ErrBlank,
// ErrForeign, ErrOverwrite, ErrVersion and ErrCorruption. Any other error
// means the device could not be prepared.
//
// BeginRead, BeginWrite and the positioning operations prepare implicitly
// the first time; Prepare always probes again.
func (d *Drive) Prepare(ctx context.Context) (err error) {
	if d.mode != ModeNone {
		return opErrf("prepare", -1, ErrCore, "drive is in %s mode", d.mode)
	}
	if d.closed {
		return opErrf("prepare", -1, ErrCore, "drive closed")
	}
	ctx, done := d.observe(ctx, "prepare")
	defer done(&err)
	return d.prepare(ctx)
}

func (d *Drive) prepare(ctx context.Context) error {
	d.prepared, d.verdict, d.probed = false, nil, nil

	var verdict error
	state := probeOpen
	for state != probeDone {
		var err error
		switch state {
		case probeOpen:
			state, err = d.probeOpen(ctx)
		case probeCaps:
			state, err = d.probeCaps(ctx)
		case probeOverwrite:
			state, err = d.probeOverwrite(ctx)
		case probeRead:
			state, err = d.probeRead(ctx)
		default:
			return opErrf("prepare", -1, ErrCore, "unknown probe state %s", state)
		}
		if err != nil {
			if !IsVerdict(err) {
				return err
			}
			verdict, state = err, probeDone
		}
	}

	d.prepared, d.verdict = true, verdict
	args := []any{
		logger.KeyDrive, d.name,
		logger.KeyCaps, d.caps.String(),
		logger.KeyBlockSize, d.devBlockSize,
		logger.KeyStatus, KindName(verdict),
	}
	if d.probed != nil {
		args = append(args, logger.KeyRecordSize, d.probed.recordSize)
		if d.probed.dumpID != uuid.Nil {
			args = append(args, logger.KeyDumpID, d.probed.dumpID.String())
		}
	}
	logger.Info("Drive prepared", args...)
	return verdict
}

func (d *Drive) probeOpen(ctx context.Context) (probeState, error) {
	if d.open {
		return probeCaps, nil
	}
	if err := d.openDevice(ctx); err != nil {
		return probeDone, err
	}
	return probeCaps, nil
}

// probeCaps learns the capabilities and settles the device block size.
// Both querying and changing the block size are followed by a reopen so
// that the next transfer starts from a known position.
func (d *Drive) probeCaps(ctx context.Context) (probeState, error) {
	caps := d.dev.Capabilities()
	d.caps = caps
	d.remote = caps.Has(device.CapRemote)
	d.qic = caps.Has(device.CapQIC) || d.cfg.LegacyQIC

	switch {
	case d.remote:
		d.devBlockSize = 0

	case caps.Has(device.CapGetBlockSize):
		bs, err := d.dev.BlockSize()
		if err != nil {
			return probeDone, opErr("prepare", -1, ErrDevice, err)
		}
		if !d.blockSizeSet {
			d.origBlockSize = bs
		}
		if err := d.reopen(ctx); err != nil {
			return probeDone, err
		}
		if d.qic && bs == 0 {
			return probeDone, opErrf("prepare", -1, ErrFormat,
				"legacy fixed-block drive %s reached through a variable-block device", d.name)
		}
		if !d.qic && bs != 0 && caps.Has(device.CapVariableBlock|device.CapSetBlockSize) {
			if err := d.dev.SetBlockSize(0); err != nil {
				return probeDone, opErr("prepare", -1, ErrDevice, err)
			}
			d.blockSizeSet = true
			bs = 0
			if err := d.reopen(ctx); err != nil {
				return probeDone, err
			}
		}
		d.devBlockSize = bs

	case d.qic:
		d.devBlockSize = QICBlockSize

	default:
		d.devBlockSize = 0
	}

	d.lostRecordMax = d.cfg.LostRecordMax
	if d.lostRecordMax <= 0 {
		d.lostRecordMax = 2
		if d.qic {
			d.lostRecordMax = 1
		}
	}

	if d.cfg.Overwrite {
		return probeOverwrite, nil
	}
	return probeRead, nil
}

// probeOverwrite picks the write sizes and stops: the caller does not
// care what is on the tape.
func (d *Drive) probeOverwrite(ctx context.Context) (probeState, error) {
	bs, rs, err := d.writeSizes()
	if err != nil {
		return probeDone, err
	}
	if err := ctx.Err(); err != nil {
		return probeDone, opErr("prepare", -1, ErrStop, err)
	}
	if err := d.dev.Do(device.OpRewind, 0); err != nil {
		return probeDone, opErr("prepare", -1, ErrDevice, err)
	}
	d.probed = &probeResult{blockSize: bs, recordSize: rs}
	return probeDone, opErr("prepare", -1, ErrOverwrite, nil)
}

// probeRead reads the first record at growing candidate sizes until one
// is large enough, then classifies the tape.
func (d *Drive) probeRead(ctx context.Context) (probeState, error) {
	candidates := d.sizeCandidates()
	for _, size := range candidates {
		if err := ctx.Err(); err != nil {
			return probeDone, opErr("prepare", 0, ErrStop, err)
		}
		if d.sess.StopRequested() {
			return probeDone, opErr("prepare", 0, ErrStop, nil)
		}
		if err := d.dev.Do(device.OpRewind, 0); err != nil {
			return probeDone, opErr("prepare", -1, ErrDevice, err)
		}

		buf := d.scratchBuf(MaxRecordSize)[:size]
		n, err := d.dev.Read(buf)
		switch {
		case errors.Is(err, device.ErrRecordTooLarge):
			logger.Debug("First record larger than candidate",
				logger.KeyDrive, d.name, logger.KeyRecordSize, size)
			continue
		case errors.Is(err, device.ErrEndOfMedia):
			return d.probeVerdict(opErr("prepare", 0, ErrBlank, err))
		case err != nil:
			if st, serr := d.dev.Status(); serr == nil && st.Is(device.FlagEOD) {
				return d.probeVerdict(opErr("prepare", 0, ErrBlank, nil))
			}
			return probeDone, opErr("prepare", 0, ErrMedia, err)
		}

		res, err := d.parseFirstRecord("prepare", buf[:n])
		if err != nil {
			return d.probeVerdict(err)
		}
		d.probed = res
		if err := d.dev.Do(device.OpRewind, 0); err != nil {
			return probeDone, opErr("prepare", -1, ErrDevice, err)
		}
		return probeDone, nil
	}
	return d.probeVerdict(opErrf("prepare", 0, ErrForeign,
		"first record fits none of %d candidate sizes", len(candidates)))
}

// probeVerdict rewinds so that every verdict leaves the tape at its start.
func (d *Drive) probeVerdict(verdict error) (probeState, error) {
	if err := d.dev.Do(device.OpRewind, 0); err != nil {
		logger.Warn("Rewind after probe failed", logger.KeyDrive, d.name, logger.KeyError, err)
	}
	return probeDone, verdict
}

func (d *Drive) sizeCandidates() []int {
	sizes := slices.Clone(candidateSizes)
	if !slices.Contains(sizes, d.cfg.RecordSize) {
		sizes = append(sizes, d.cfg.RecordSize)
		slices.Sort(sizes)
	}
	if d.devBlockSize > 0 {
		sizes = slices.DeleteFunc(sizes, func(s int) bool { return s%d.devBlockSize != 0 })
		if len(sizes) == 0 {
			per := (headerRecordUsed + d.devBlockSize - 1) / d.devBlockSize
			sizes = []int{per * d.devBlockSize}
		}
	}
	if len(sizes) > d.cfg.MaxSizeCandidates {
		sizes = sizes[:d.cfg.MaxSizeCandidates]
	}
	return sizes
}

// parseFirstRecord classifies the first record of a media file. buf holds
// what one read returned: the whole record in variable-block mode, or as
// many blocks as were asked for in fixed-block mode.
func (d *Drive) parseFirstRecord(op string, buf []byte) (*probeResult, error) {
	if len(buf) == 0 {
		return nil, opErrf(op, 0, ErrForeign, "file mark where a header record was expected")
	}
	if len(buf) < headerRecordUsed || !media.HasRecordMagic(buf) {
		return nil, opErrf(op, 0, ErrForeign, "first record of %d bytes carries no header", len(buf))
	}
	hdr, err := media.DecodeRecordHeader(buf)
	if err != nil {
		return nil, opErr(op, 0, headerKind(err), err)
	}
	rs := int(hdr.RecordSize)
	if rs > MaxRecordSize {
		return nil, opErrf(op, 0, ErrFormat, "record size %d exceeds %d", rs, MaxRecordSize)
	}
	if d.devBlockSize == 0 && len(buf) != rs {
		return nil, opErrf(op, 0, ErrCorruption, "read %d bytes of a %d byte record", len(buf), rs)
	}
	if len(buf) >= rs {
		if _, err := media.VerifyRecord(buf[:rs]); err != nil {
			return nil, opErr(op, 0, headerKind(err), err)
		}
	}
	if err := hdr.Validate(hdr.DumpID, rs, 0); err != nil {
		return nil, opErr(op, 0, ErrCorruption, err)
	}
	gh, err := media.DecodeGlobalHeader(buf[media.RecordHeaderSize:headerRecordUsed])
	if err != nil {
		return nil, opErr(op, 0, headerKind(err), err)
	}
	if gh.DumpID != hdr.DumpID {
		return nil, opErrf(op, 0, ErrCorruption, "global header dump %s, record dump %s", gh.DumpID, hdr.DumpID)
	}
	return &probeResult{
		blockSize:  int(hdr.BlockSize),
		recordSize: rs,
		dumpID:     hdr.DumpID,
		global:     gh,
		hdr:        hdr,
	}, nil
}

// writeSizes picks block and record size for a new media file.
func (d *Drive) writeSizes() (blockSize, recordSize int, err error) {
	override := d.cfg.BlockSize
	if override > 0 && (override < MinRecordSize || override > MaxRecordSize) {
		return 0, 0, opErrf("prepare", -1, ErrFormat,
			"block size override %d outside [%d, %d]", override, MinRecordSize, MaxRecordSize)
	}

	switch {
	case d.qic:
		return QICBlockSize, QICRecordSize, nil
	case d.remote && override == 0:
		return MinPortableBlockSize, MinPortableBlockSize, nil
	case d.devBlockSize > 0:
		rs := d.cfg.RecordSize
		if override > 0 {
			rs = override
		}
		if rs%d.devBlockSize != 0 {
			return 0, 0, opErrf("prepare", -1, ErrFormat,
				"record size %d is not a multiple of the drive block size %d", rs, d.devBlockSize)
		}
		return d.devBlockSize, rs, nil
	case override > 0:
		return override, override, nil
	default:
		return d.cfg.RecordSize, d.cfg.RecordSize, nil
	}
}
