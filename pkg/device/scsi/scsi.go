// Package scsi drives a local SCSI tape through the Linux st driver
// (/dev/nstN). Transfers are plain read(2)/write(2) calls on the
// non-rewinding node; positioning and status use the MTIOCTOP and
// MTIOCGET ioctls.
package scsi

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
)

// DefaultCaps is what st offers for a modern drive.
const DefaultCaps = device.CapVariableBlock | device.CapGetBlockSize | device.CapSetBlockSize |
	device.CapForwardRecord | device.CapBackRecord | device.CapErase

// Options configures a SCSI tape.
type Options struct {
	// Path is the non-rewinding device node, e.g. /dev/nst0.
	Path string
	// QIC marks a legacy fixed 512-byte drive.
	QIC bool
	// Caps overrides the capability set.
	Caps device.Caps
}

// Drive is a local tape device.
type Drive struct {
	mu   sync.Mutex
	opts Options
	caps device.Caps
	fd   int
	open bool
}

// New returns a closed drive for opts.Path.
func New(opts Options) *Drive {
	caps := opts.Caps
	if caps == 0 {
		caps = DefaultCaps
		if opts.QIC {
			caps = device.CapQIC | device.CapGetBlockSize | device.CapForwardRecord |
				device.CapBackRecord | device.CapErase
		}
	}
	return &Drive{opts: opts, caps: caps, fd: -1}
}

func (d *Drive) Name() string { return d.opts.Path }

func (d *Drive) Capabilities() device.Caps { return d.caps }

func (d *Drive) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fd, err := sysOpen(d.opts.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.opts.Path, err)
	}
	d.fd = fd
	d.open = true
	logger.Debug("Tape device opened", logger.KeyDrive, d.opts.Path, logger.KeyCaps, d.caps.String())
	return nil
}

func (d *Drive) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	err := sysClose(d.fd)
	d.fd = -1
	return err
}

func (d *Drive) handle() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return -1, device.ErrClosed
	}
	return d.fd, nil
}

func (d *Drive) Read(p []byte) (int, error) {
	fd, err := d.handle()
	if err != nil {
		return 0, err
	}
	return sysRead(fd, p)
}

func (d *Drive) Write(p []byte) (int, error) {
	fd, err := d.handle()
	if err != nil {
		return 0, err
	}
	return sysWrite(fd, p)
}

func (d *Drive) Do(op device.Op, count int) error {
	fd, err := d.handle()
	if err != nil {
		return err
	}
	code, ok := mtOps[op]
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrNotSupported, op)
	}
	if count < 1 {
		count = 1
	}
	return sysMtop(fd, code, count)
}

func (d *Drive) Status() (device.Status, error) {
	fd, err := d.handle()
	if err != nil {
		return device.Status{}, err
	}
	return sysStatus(fd)
}

func (d *Drive) BlockSize() (int, error) {
	if !d.caps.Has(device.CapGetBlockSize) {
		return 0, device.ErrNotSupported
	}
	st, err := d.Status()
	if err != nil {
		return 0, err
	}
	return st.BlockSize, nil
}

func (d *Drive) SetBlockSize(size int) error {
	if !d.caps.Has(device.CapSetBlockSize) {
		return device.ErrNotSupported
	}
	fd, err := d.handle()
	if err != nil {
		return err
	}
	return sysMtop(fd, mtSetBlk, size)
}

// st operation codes from <sys/mtio.h>.
const (
	mtFSF    = 1
	mtBSF    = 2
	mtFSR    = 3
	mtBSR    = 4
	mtWEOF   = 5
	mtREW    = 6
	mtOFFL   = 7
	mtEOM    = 12
	mtERASE  = 13
	mtSetBlk = 20
)

var mtOps = map[device.Op]int16{
	device.OpForwardFile:   mtFSF,
	device.OpBackFile:      mtBSF,
	device.OpForwardRecord: mtFSR,
	device.OpBackRecord:    mtBSR,
	device.OpWriteFileMark: mtWEOF,
	device.OpRewind:        mtREW,
	device.OpOffline:       mtOFFL,
	device.OpEndOfData:     mtEOM,
	device.OpErase:         mtERASE,
}

// Generic status bits of mt_gstat.
const (
	gmtEOF    = 0x80000000
	gmtBOT    = 0x40000000
	gmtEOT    = 0x20000000
	gmtEOD    = 0x08000000
	gmtWrProt = 0x04000000
	gmtOnline = 0x01000000
	gmtDrOpen = 0x00040000

	blockSizeMask = 0xffffff
)

func statusFromGstat(gstat, dsreg uint64, fileno, blkno int32) device.Status {
	var f device.Flags
	for _, m := range []struct {
		bit  uint64
		flag device.Flags
	}{
		{gmtEOF, device.FlagFileMark},
		{gmtBOT, device.FlagBOT},
		{gmtEOT, device.FlagEOT},
		{gmtEOD, device.FlagEOD},
		{gmtWrProt, device.FlagWriteProtect},
		{gmtOnline, device.FlagOnline},
		{gmtDrOpen, device.FlagDoorOpen},
	} {
		if gstat&m.bit != 0 {
			f |= m.flag
		}
	}
	return device.Status{
		Flags:     f,
		FileNo:    int(fileno),
		BlockNo:   int(blkno),
		BlockSize: int(dsreg & blockSizeMask),
	}
}

var _ device.Device = (*Drive)(nil)
