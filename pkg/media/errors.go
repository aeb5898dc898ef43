package media

import (
	"errors"
	"fmt"
)

// ErrCorrupt is the parent of every structural or checksum failure found
// while decoding or validating a header. Use errors.Is(err, ErrCorrupt)
// to classify.
var ErrCorrupt = errors.New("corrupt header")

var (
	// ErrBadMagic indicates the magic sentinel did not match.
	ErrBadMagic = corruption("bad magic")

	// ErrBadChecksum indicates the additive checksum did not sum to zero.
	ErrBadChecksum = corruption("bad checksum")

	// ErrBadDumpID indicates the record belongs to another dump.
	ErrBadDumpID = corruption("dump id mismatch")

	// ErrBadSize indicates an impossible or unexpected block/record size.
	ErrBadSize = corruption("bad size")

	// ErrBadOffset indicates a file or mark offset inconsistent with the record.
	ErrBadOffset = corruption("bad offset")

	// ErrBadUsed indicates rec_used outside [RecordHeaderSize, RecordSize].
	ErrBadUsed = corruption("bad used length")

	// ErrShortBuffer indicates the input is smaller than the fixed header region.
	ErrShortBuffer = corruption("short buffer")
)

// ErrUnsupportedVersion indicates a well formed header with a version this
// build cannot read. It is deliberately not an ErrCorrupt.
var ErrUnsupportedVersion = errors.New("unsupported header version")

type corruptError struct{ msg string }

func corruption(msg string) error { return &corruptError{msg: msg} }

func (e *corruptError) Error() string { return e.msg }

func (e *corruptError) Is(target error) bool { return target == ErrCorrupt }

func wrapf(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
