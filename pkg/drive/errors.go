package drive

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a Drive operation matches exactly
// one of these with errors.Is.
var (
	// ErrEndOfFile is returned when a read crosses the file mark that
	// terminates the current media file.
	ErrEndOfFile = errors.New("end of media file")

	// ErrEndOfData is returned when the head reaches previously recorded end of data.
	ErrEndOfData = errors.New("end of data")

	// ErrEndOfMedia is returned when the tape ran out of writable length.
	ErrEndOfMedia = errors.New("end of media")

	// ErrCorruption covers bad magic, checksum, dump id, size or offset.
	ErrCorruption = errors.New("record corruption")

	// ErrFormat is returned when the tape or drive uses a layout this
	// engine cannot work with.
	ErrFormat = errors.New("unsupported format")

	// ErrVersion is returned for a well formed header of an unknown version.
	ErrVersion = errors.New("unsupported version")

	// ErrMedia is an uncategorised positioning or medium failure.
	ErrMedia = errors.New("media error")

	// ErrDevice is returned when a status or control call failed.
	ErrDevice = errors.New("device error")

	// ErrBlank is the preparation verdict for unwritten media.
	ErrBlank = errors.New("blank media")

	// ErrForeign is the preparation verdict for media written by something else.
	ErrForeign = errors.New("foreign media")

	// ErrOverwrite is the preparation verdict when detection was skipped
	// because the caller intends to overwrite.
	ErrOverwrite = errors.New("overwrite requested")

	// ErrStop is returned when a cooperative stop was requested.
	ErrStop = errors.New("stop requested")

	// ErrCore is an API misuse or broken internal invariant.
	ErrCore = errors.New("internal error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrEndOfFile, "end_of_file"},
	{ErrEndOfData, "end_of_data"},
	{ErrEndOfMedia, "end_of_media"},
	{ErrCorruption, "corruption"},
	{ErrFormat, "format"},
	{ErrVersion, "version"},
	{ErrMedia, "media"},
	{ErrDevice, "device"},
	{ErrBlank, "blank"},
	{ErrForeign, "foreign"},
	{ErrOverwrite, "overwrite"},
	{ErrStop, "stop"},
	{ErrCore, "core"},
}

// OpError records the failed operation, the record it concerned and the
// kind of failure. Cause is the lower-level error, if any.
type OpError struct {
	Op     string
	Record int64
	Kind   error
	Err    error
}

func (e *OpError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Record >= 0 {
		msg = fmt.Sprintf("%s: record %d: %s", e.Op, e.Record, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, record int64, kind, cause error) error {
	return &OpError{Op: op, Record: record, Kind: kind, Err: cause}
}

func opErrf(op string, record int64, kind error, format string, args ...any) error {
	return &OpError{Op: op, Record: record, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindName returns a short label for the kind of err, suitable for
// metrics. nil yields "ok" and unclassified errors "other".
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "other"
}

// IsVerdict reports whether err is a preparation outcome that describes
// the medium rather than a failure to prepare.
func IsVerdict(err error) bool {
	return errors.Is(err, ErrBlank) || errors.Is(err, ErrForeign) ||
		errors.Is(err, ErrOverwrite) || errors.Is(err, ErrVersion) ||
		errors.Is(err, ErrCorruption)
}
