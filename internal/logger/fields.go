package logger

import (
	"log/slog"
)

// Field keys. Use these instead of ad-hoc strings so logs stay queryable.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Drive and media
	KeyDrive      = "drive"
	KeyBackend    = "backend"
	KeyMode       = "mode"
	KeyOperation  = "operation"
	KeyDumpID     = "dump_id"
	KeyLabel      = "label"
	KeyFileNo     = "file_no"
	KeyRecord     = "record"
	KeyOffset     = "offset"
	KeyMark       = "mark"
	KeyBlockSize  = "block_size"
	KeyRecordSize = "record_size"
	KeyCaps       = "caps"
	KeyStatus     = "status"

	// Pipeline and workers
	KeyStream   = "stream"
	KeyWorker   = "worker"
	KeyPipeline = "pipeline_length"

	// I/O accounting
	KeyBytes     = "bytes"
	KeyCount     = "count"
	KeyCommitted = "committed"
	KeyDiscarded = "discarded"
	KeyAttempt   = "attempt"
	KeyMax       = "max"
	KeyDuration  = "duration"

	// Remote and object storage
	KeyAddress = "address"
	KeyBucket  = "bucket"
	KeyKey     = "key"

	KeyError = "error"
)

// Err returns an error attribute; nil errors produce an empty attribute
// that handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Drive returns the drive attribute.
func Drive(name string) slog.Attr { return slog.String(KeyDrive, name) }

// Record returns the record index attribute.
func Record(idx int64) slog.Attr { return slog.Int64(KeyRecord, idx) }

// Offset returns a media-file offset attribute.
func Offset(off int64) slog.Attr { return slog.Int64(KeyOffset, off) }

// Bytes returns a byte count attribute.
func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }

// Attempt returns a retry attempt attribute.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// DurationMs returns a duration attribute in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDuration, ms) }
