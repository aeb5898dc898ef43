// Package vtape emulates a tape drive on top of a record Store. It follows
// the Linux st semantics closely enough for the drive engine to be run
// end to end without hardware: writing truncates everything after the
// head, file marks separate media files, reading past the last record
// reports end of data, and fixed-block mode treats the tape as a stream
// of equal-size blocks.
//
// Drive also carries fault injection hooks used by tests and by the
// "vtape" backend's chaos options.
package vtape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
)

const (
	// DefaultMaxRecord bounds a single transfer.
	DefaultMaxRecord = 2 << 20

	// QICBlockSize is the fixed block size of the legacy variant.
	QICBlockSize = 512

	// DefaultCaps is a modern variable-block drive.
	DefaultCaps = device.CapVariableBlock | device.CapGetBlockSize | device.CapSetBlockSize |
		device.CapForwardRecord | device.CapBackRecord | device.CapErase

	// QICCaps is a legacy fixed 512-byte block drive.
	QICCaps = device.CapQIC | device.CapGetBlockSize | device.CapForwardRecord |
		device.CapBackRecord | device.CapErase
)

// Options configures a virtual drive.
type Options struct {
	Name      string
	MaxRecord int
	// BlockSize is the initial block size; 0 means variable.
	BlockSize int
	// Caps overrides the capability set; zero selects DefaultCaps or
	// QICCaps.
	Caps device.Caps
	// QIC selects the legacy fixed 512-byte block variant.
	QIC bool
}

// Drive is a virtual tape drive.
type Drive struct {
	mu    sync.Mutex
	opts  Options
	caps  device.Caps
	store Store
	ctx   context.Context

	layout Layout
	dirty  bool
	loaded bool
	open   bool

	file, rec int
	blockSize int
	flags     device.Flags

	writes int
	faults faults
}

// New creates a drive over store. The store's layout is loaded on Open.
func New(store Store, opts Options) *Drive {
	if opts.MaxRecord <= 0 {
		opts.MaxRecord = DefaultMaxRecord
	}
	caps := opts.Caps
	if opts.QIC {
		opts.BlockSize = QICBlockSize
		if caps == 0 {
			caps = QICCaps
		}
	}
	if caps == 0 {
		caps = DefaultCaps
	}
	if opts.Name == "" {
		opts.Name = "memory"
	}
	return &Drive{
		opts:      opts,
		caps:      caps,
		store:     store,
		ctx:       context.Background(),
		blockSize: opts.BlockSize,
	}
}

// NewMemory creates a drive over a fresh MemoryStore.
func NewMemory(opts Options) (*Drive, *MemoryStore) {
	s := NewMemoryStore()
	return New(s, opts), s
}

func (d *Drive) Name() string { return "vtape:" + d.opts.Name }

func (d *Drive) Capabilities() device.Caps { return d.caps }

// Open loads the tape layout. The head position survives close/open, as
// on a non-rewinding device node.
func (d *Drive) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.faults.notReady > 0 {
		d.faults.notReady--
		return device.ErrNotReady
	}
	if d.faults.offline {
		return device.ErrOffline
	}
	if !d.loaded {
		layout, err := d.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load vtape %s: %w", d.opts.Name, err)
		}
		d.layout = layout
		d.loaded = true
		d.file, d.rec = 0, 0
		d.flags = 0
	}
	d.ctx = context.WithoutCancel(ctx)
	d.open = true
	return nil
}

// Close commits pending layout changes.
func (d *Drive) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	return d.commitLocked(nil)
}

func (d *Drive) commitLocked(dropped []File) error {
	if !d.dirty && len(dropped) == 0 {
		return nil
	}
	if err := d.store.Commit(d.ctx, d.layout.Clone(), dropped); err != nil {
		return fmt.Errorf("%w: commit layout: %v", device.ErrIO, err)
	}
	d.dirty = false
	return nil
}

// Layout returns a copy of the current tape layout.
func (d *Drive) Layout() Layout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.layout.Clone()
}

// Position returns the current file and record/block number.
func (d *Drive) Position() (file, rec int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file, d.rec
}

// SetWriteProtected toggles the write-protect tab.
func (d *Drive) SetWriteProtected(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layout.WriteProtected = on
	d.dirty = true
}

func (d *Drive) atEOD() bool {
	n := len(d.layout.Files)
	if d.file >= n {
		return true
	}
	f := d.layout.Files[d.file]
	return d.rec >= f.Records && !f.Closed
}

func (d *Drive) atFileMark() bool {
	if d.file >= len(d.layout.Files) {
		return false
	}
	f := d.layout.Files[d.file]
	return d.rec >= f.Records && f.Closed
}

func (d *Drive) crossFileMark() {
	d.file++
	d.rec = 0
	d.flags = device.FlagFileMark
}

func (d *Drive) hitEOD() error {
	d.flags = device.FlagEOD
	return fmt.Errorf("%w: end of data at file %d record %d", device.ErrIO, d.file, d.rec)
}

// Read transfers one record (variable mode) or len(p)/blocksize blocks
// (fixed mode).
func (d *Drive) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return 0, device.ErrClosed
	}
	if err := d.faults.beforeRead(); err != nil {
		return 0, err
	}

	if d.blockSize > 0 {
		return d.readBlocksLocked(p)
	}

	switch {
	case d.atFileMark():
		d.crossFileMark()
		return 0, nil
	case d.atEOD():
		return 0, d.hitEOD()
	}

	data, err := d.store.Get(d.ctx, d.layout.Files[d.file].ID, d.rec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", device.ErrIO, err)
	}
	d.rec++
	d.flags = 0
	if len(data) > len(p) {
		return 0, device.ErrRecordTooLarge
	}
	return copy(p, data), nil
}

func (d *Drive) readBlocksLocked(p []byte) (int, error) {
	if len(p)%d.blockSize != 0 {
		return 0, fmt.Errorf("%w: read of %d bytes with block size %d", device.ErrIO, len(p), d.blockSize)
	}
	n := 0
	for n < len(p) {
		if d.atFileMark() {
			if n == 0 {
				d.crossFileMark()
			}
			return n, nil
		}
		if d.atEOD() {
			if n > 0 {
				return n, nil
			}
			return 0, d.hitEOD()
		}
		data, err := d.store.Get(d.ctx, d.layout.Files[d.file].ID, d.rec)
		if err != nil {
			return n, fmt.Errorf("%w: %v", device.ErrIO, err)
		}
		n += copy(p[n:n+d.blockSize], data)
		d.rec++
	}
	d.flags = 0
	return n, nil
}

// truncateLocked makes the head position the new end of data, as any
// write does on tape, and returns the files that no longer exist.
func (d *Drive) truncateLocked() []File {
	var dropped []File
	if d.file < len(d.layout.Files) {
		dropped = append(dropped, d.layout.Files[d.file+1:]...)
		d.layout.Files = d.layout.Files[:d.file+1]
		f := &d.layout.Files[d.file]
		if d.rec == 0 && f.Records > 0 {
			dropped = append(dropped, *f)
			f.ID = NewFileID()
		}
		f.Records = d.rec
		f.Closed = false
	} else {
		for len(d.layout.Files) <= d.file {
			d.layout.Files = append(d.layout.Files, File{ID: NewFileID()})
		}
	}
	d.dirty = true
	return dropped
}

// Write appends one record (variable mode) or len(p)/blocksize blocks.
func (d *Drive) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return 0, device.ErrClosed
	}
	if d.layout.WriteProtected {
		return 0, device.ErrWriteProtected
	}
	if len(p) > d.opts.MaxRecord {
		return 0, fmt.Errorf("%w: record of %d bytes exceeds %d", device.ErrIO, len(p), d.opts.MaxRecord)
	}
	if d.blockSize > 0 && len(p)%d.blockSize != 0 {
		return 0, fmt.Errorf("%w: write of %d bytes with block size %d", device.ErrIO, len(p), d.blockSize)
	}

	d.writes++
	if err := d.faults.beforeWrite(d.writes); err != nil {
		d.flags |= device.FlagEOT
		return 0, err
	}

	dropped := d.truncateLocked()
	if len(dropped) > 0 {
		if err := d.commitLocked(dropped); err != nil {
			return 0, err
		}
		d.dirty = true
	}

	f := &d.layout.Files[d.file]
	chunk := len(p)
	if d.blockSize > 0 {
		chunk = d.blockSize
	}
	if len(p) == 0 {
		return 0, nil
	}
	for off := 0; off < len(p); off += chunk {
		if err := d.store.Put(d.ctx, f.ID, d.rec, p[off:off+chunk]); err != nil {
			return off, fmt.Errorf("%w: %v", device.ErrIO, err)
		}
		d.rec++
		f.Records = d.rec
	}
	d.flags = 0
	return len(p), nil
}

// Do performs a positioning or control operation.
func (d *Drive) Do(op device.Op, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return device.ErrClosed
	}
	if count < 1 && op != device.OpRewind && op != device.OpEndOfData && op != device.OpOffline && op != device.OpErase {
		return nil
	}

	switch op {
	case device.OpForwardFile:
		for i := 0; i < count; i++ {
			if !d.atFileMark() {
				if d.file < len(d.layout.Files) {
					d.rec = d.layout.Files[d.file].Records
				}
				if d.atEOD() {
					return d.hitEOD()
				}
			}
			d.crossFileMark()
		}
		return nil

	case device.OpBackFile:
		for i := 0; i < count; i++ {
			if d.file == 0 {
				d.rec = 0
				d.flags = device.FlagBOT
				return fmt.Errorf("%w: beginning of tape", device.ErrIO)
			}
			d.file--
			d.rec = d.layout.Files[d.file].Records
			d.flags = device.FlagFileMark
		}
		return nil

	case device.OpForwardRecord:
		for i := 0; i < count; i++ {
			if d.atFileMark() {
				d.crossFileMark()
				return fmt.Errorf("%w: file mark after %d records", device.ErrIO, i)
			}
			if d.atEOD() {
				return d.hitEOD()
			}
			d.rec++
		}
		d.flags = 0
		return nil

	case device.OpBackRecord:
		if d.rec < count {
			d.rec = 0
			return fmt.Errorf("%w: beginning of file", device.ErrIO)
		}
		d.rec -= count
		d.flags = 0
		return nil

	case device.OpWriteFileMark:
		if d.layout.WriteProtected {
			return device.ErrWriteProtected
		}
		var dropped []File
		for i := 0; i < count; i++ {
			dropped = append(dropped, d.truncateLocked()...)
			d.layout.Files[d.file].Closed = true
			d.file++
			d.rec = 0
		}
		d.flags = device.FlagFileMark
		return d.commitLocked(dropped)

	case device.OpRewind:
		d.file, d.rec = 0, 0
		d.flags = device.FlagBOT
		return d.commitLocked(nil)

	case device.OpErase:
		if d.layout.WriteProtected {
			return device.ErrWriteProtected
		}
		var dropped []File
		if d.file < len(d.layout.Files) {
			dropped = append(dropped, d.layout.Files[d.file+1:]...)
			if d.rec == 0 {
				dropped = append(dropped, d.layout.Files[d.file])
				d.layout.Files = d.layout.Files[:d.file]
			} else {
				d.layout.Files = d.layout.Files[:d.file+1]
				d.layout.Files[d.file].Records = d.rec
				d.layout.Files[d.file].Closed = false
			}
		}
		d.dirty = true
		return d.commitLocked(dropped)

	case device.OpEndOfData:
		n := len(d.layout.Files)
		switch {
		case n == 0:
			d.file, d.rec = 0, 0
		case d.layout.Files[n-1].Closed:
			d.file, d.rec = n, 0
		default:
			d.file, d.rec = n-1, d.layout.Files[n-1].Records
		}
		d.flags = device.FlagEOD
		return nil

	case device.OpOffline:
		d.file, d.rec = 0, 0
		d.flags = 0
		err := d.commitLocked(nil)
		d.loaded = false
		d.open = false
		logger.Debug("Virtual tape unloaded", logger.KeyDrive, d.Name())
		return err
	}
	return fmt.Errorf("%w: %s", device.ErrNotSupported, op)
}

// Status reports the head position and conditions.
func (d *Drive) Status() (device.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.faults.beforeStatus(); err != nil {
		return device.Status{}, err
	}
	if !d.open {
		return device.Status{Flags: device.FlagDoorOpen}, nil
	}

	flags := d.flags | device.FlagOnline
	if d.file == 0 && d.rec == 0 {
		flags |= device.FlagBOT
	}
	if d.atEOD() {
		flags |= device.FlagEOD
	}
	if d.faults.eomHit {
		flags |= device.FlagEOT
	}
	if d.layout.WriteProtected {
		flags |= device.FlagWriteProtect
	}
	return device.Status{
		Flags:     flags,
		FileNo:    d.file,
		BlockNo:   d.rec,
		BlockSize: d.blockSize,
	}, nil
}

func (d *Drive) BlockSize() (int, error) {
	if !d.caps.Has(device.CapGetBlockSize) {
		return 0, device.ErrNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blockSize, nil
}

func (d *Drive) SetBlockSize(size int) error {
	if !d.caps.Has(device.CapSetBlockSize) {
		return device.ErrNotSupported
	}
	if size < 0 || size > d.opts.MaxRecord {
		return fmt.Errorf("%w: block size %d", device.ErrIO, size)
	}
	if size == 0 && !d.caps.Has(device.CapVariableBlock) {
		return device.ErrNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blockSize = size
	return nil
}

// ============================================================================
// Fault injection
// ============================================================================

type faults struct {
	notReady       int
	offline        bool
	statusFailures int
	eomAfter       int
	eomHit         bool
	failWrite      map[int]error
	latency        time.Duration
}

func (f *faults) beforeRead() error {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	return nil
}

func (f *faults) beforeWrite(n int) error {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if err, ok := f.failWrite[n]; ok {
		return err
	}
	if f.eomAfter > 0 && n > f.eomAfter {
		f.eomHit = true
		return device.ErrEndOfMedia
	}
	return nil
}

func (f *faults) beforeStatus() error {
	if f.statusFailures > 0 {
		f.statusFailures--
		return fmt.Errorf("%w: status query failed", device.ErrIO)
	}
	return nil
}

// FailOpens makes the next n Open calls report ErrNotReady.
func (d *Drive) FailOpens(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.notReady = n
}

// SetOffline makes Open report ErrOffline until cleared.
func (d *Drive) SetOffline(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.offline = on
}

// FailStatus makes the next n Status calls fail.
func (d *Drive) FailStatus(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.statusFailures = n
}

// SetEndOfMedia makes every write after the first n (counted over the
// drive's lifetime) fail with device.ErrEndOfMedia. Zero disables.
func (d *Drive) SetEndOfMedia(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.eomAfter = n
}

// FailWrite makes the nth write (1-based, lifetime count) fail with err.
func (d *Drive) FailWrite(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.failWrite == nil {
		d.faults.failWrite = make(map[int]error)
	}
	d.faults.failWrite[n] = err
}

// SetLatency delays every read and write by lat.
func (d *Drive) SetLatency(lat time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults.latency = lat
}

// Writes returns the lifetime write count.
func (d *Drive) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

var _ device.Device = (*Drive)(nil)
