// Package device defines the block-oriented tape device the drive engine
// talks to, independent of how it is reached: a local SCSI tape, a virtual
// tape kept in memory, BadgerDB or S3, or a tape on another host.
//
// The contract mirrors the Linux st driver. Read and Write move exactly one
// physical record in variable-block mode, or a run of fixed-size blocks in
// fixed-block mode. A zero-length read with a nil error means a file mark
// was crossed. Errors are classified with the sentinels below; the current
// position and conditions are always available through Status.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotReady indicates the drive is loading or has no medium yet.
	ErrNotReady = errors.New("device not ready")

	// ErrOffline indicates the medium is unloaded or the door is open.
	ErrOffline = errors.New("device offline")

	// ErrRecordTooLarge indicates the record on tape is larger than the
	// read buffer (ENOMEM on Linux).
	ErrRecordTooLarge = errors.New("record larger than buffer")

	// ErrEndOfMedia indicates the physical end of writable tape (ENOSPC).
	ErrEndOfMedia = errors.New("end of media")

	// ErrIO is a generic medium or transfer failure. Query Status to learn
	// whether it was a blank tape, end of data or a real fault.
	ErrIO = errors.New("device i/o error")

	// ErrWriteProtected indicates a write to a protected medium.
	ErrWriteProtected = errors.New("medium write protected")

	// ErrNotSupported indicates the operation is unavailable on this device.
	ErrNotSupported = errors.New("operation not supported")

	// ErrClosed indicates use of a closed device.
	ErrClosed = errors.New("device closed")
)

// Op is a positioning or control operation.
type Op int

const (
	OpForwardFile Op = iota + 1
	OpBackFile
	OpForwardRecord
	OpBackRecord
	OpWriteFileMark
	OpRewind
	OpErase
	OpEndOfData
	OpOffline
)

func (o Op) String() string {
	switch o {
	case OpForwardFile:
		return "fsf"
	case OpBackFile:
		return "bsf"
	case OpForwardRecord:
		return "fsr"
	case OpBackRecord:
		return "bsr"
	case OpWriteFileMark:
		return "weof"
	case OpRewind:
		return "rewind"
	case OpErase:
		return "erase"
	case OpEndOfData:
		return "eod"
	case OpOffline:
		return "offline"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Caps is the static capability set of a device.
type Caps uint32

const (
	// CapVariableBlock means the device accepts variable-size records.
	CapVariableBlock Caps = 1 << iota
	// CapGetBlockSize means the current block size can be queried.
	CapGetBlockSize
	// CapSetBlockSize means the block size can be changed.
	CapSetBlockSize
	// CapForwardRecord means OpForwardRecord is supported.
	CapForwardRecord
	// CapBackRecord means OpBackRecord is supported.
	CapBackRecord
	// CapQIC marks the legacy fixed 512-byte block variant.
	CapQIC
	// CapErase means OpErase is supported.
	CapErase
	// CapRemote marks a device reached over the network.
	CapRemote
)

var capNames = []struct {
	c    Caps
	name string
}{
	{CapVariableBlock, "variable"},
	{CapGetBlockSize, "get-blksz"},
	{CapSetBlockSize, "set-blksz"},
	{CapForwardRecord, "fsr"},
	{CapBackRecord, "bsr"},
	{CapQIC, "qic"},
	{CapErase, "erase"},
	{CapRemote, "remote"},
}

// Has reports whether every capability in want is present.
func (c Caps) Has(want Caps) bool { return c&want == want }

func (c Caps) String() string {
	var parts []string
	for _, n := range capNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Flags are the conditions reported by Status.
type Flags uint32

const (
	FlagOnline Flags = 1 << iota
	FlagBOT
	FlagEOT
	FlagEOD
	FlagFileMark
	FlagWriteProtect
	FlagDoorOpen
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagOnline, "ONLINE"},
	{FlagBOT, "BOT"},
	{FlagEOT, "EOT"},
	{FlagEOD, "EOD"},
	{FlagFileMark, "FM"},
	{FlagWriteProtect, "WR_PROT"},
	{FlagDoorOpen, "DR_OPEN"},
}

func (f Flags) String() string {
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// Status is a snapshot of the drive position and conditions.
type Status struct {
	Flags     Flags
	FileNo    int
	BlockNo   int
	BlockSize int // 0 in variable-block mode
}

// Is reports whether every flag in want is set.
func (s Status) Is(want Flags) bool { return s.Flags&want == want }

// Device is a sequential tape device. Implementations are not required to
// be safe for concurrent use; the engine serialises access.
type Device interface {
	// Open loads the device. It returns ErrNotReady or ErrOffline while
	// the medium is not usable yet.
	Open(ctx context.Context) error
	Close() error

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Do issues a positioning or control operation count times.
	Do(op Op, count int) error
	Status() (Status, error)

	Capabilities() Caps
	BlockSize() (int, error)
	SetBlockSize(size int) error

	// Name identifies the device in logs.
	Name() string
}
