package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for tape operations.
const (
	// ========================================================================
	// Drive attributes
	// ========================================================================
	AttrDrive      = "tape.drive"       // Device name
	AttrBackend    = "tape.backend"     // scsi, vtape, badger, s3, remote
	AttrOperation  = "tape.operation"   // Engine operation name
	AttrMode       = "tape.mode"        // none, read, write
	AttrBlockSize  = "tape.block_size"  // Device block size, 0 when variable
	AttrRecordSize = "tape.record_size" // Physical record size
	AttrFileNo     = "tape.file_no"     // Media file number
	AttrRecord     = "tape.record"      // Record index within the media file
	AttrOffset     = "tape.offset"      // Byte offset within the media file
	AttrCount      = "tape.count"       // Repeat count of a positioning op
	AttrBytes      = "tape.bytes"       // Payload bytes moved
	AttrErrorKind  = "tape.error_kind"  // Engine error kind

	// ========================================================================
	// Media file attributes
	// ========================================================================
	AttrDumpID = "dump.id"
	AttrLabel  = "dump.label"
	AttrHost   = "dump.host"

	// ========================================================================
	// Remote tape attributes
	// ========================================================================
	AttrRemoteAddr = "remote.address"
	AttrRemoteOp   = "remote.op"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
)

// Span names for operations outside the drive engine.
const (
	SpanRemoteRequest = "remote.request"
	SpanStoreLoad     = "store.load"
	SpanStoreGet      = "store.get"
	SpanStorePut      = "store.put"
	SpanStoreCommit   = "store.commit"
)

// Drive returns an attribute for the device name.
func Drive(name string) attribute.KeyValue {
	return attribute.String(AttrDrive, name)
}

// Backend returns an attribute for the device backend.
func Backend(name string) attribute.KeyValue {
	return attribute.String(AttrBackend, name)
}

// Operation returns an attribute for the engine operation.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Mode returns an attribute for the engine mode.
func Mode(mode string) attribute.KeyValue {
	return attribute.String(AttrMode, mode)
}

// BlockSize returns an attribute for the device block size.
func BlockSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBlockSize, n)
}

// RecordSize returns an attribute for the record size.
func RecordSize(n int) attribute.KeyValue {
	return attribute.Int(AttrRecordSize, n)
}

// FileNo returns an attribute for the media file number.
func FileNo(n int) attribute.KeyValue {
	return attribute.Int(AttrFileNo, n)
}

// Record returns an attribute for a record index.
func Record(idx int64) attribute.KeyValue {
	return attribute.Int64(AttrRecord, idx)
}

// Offset returns an attribute for a media file offset.
func Offset(off int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, off)
}

// Count returns an attribute for a repeat count.
func Count(n int) attribute.KeyValue {
	return attribute.Int(AttrCount, n)
}

// Bytes returns an attribute for a payload byte count.
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// ErrorKind returns an attribute for the engine error kind.
func ErrorKind(kind string) attribute.KeyValue {
	return attribute.String(AttrErrorKind, kind)
}

// DumpID returns an attribute for the dump identifier.
func DumpID(id string) attribute.KeyValue {
	return attribute.String(AttrDumpID, id)
}

// Label returns an attribute for the dump label.
func Label(label string) attribute.KeyValue {
	return attribute.String(AttrLabel, label)
}

// RemoteAddr returns an attribute for a remote tape server address.
func RemoteAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrRemoteAddr, addr)
}

// RemoteOp returns an attribute for a remote protocol operation.
func RemoteOp(op string) attribute.KeyValue {
	return attribute.String(AttrRemoteOp, op)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// StartDriveSpan starts a span for a drive engine operation.
func StartDriveSpan(ctx context.Context, operation string, drive string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Drive(drive),
		Operation(operation),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "drive."+operation, trace.WithAttributes(allAttrs...))
}

// StartRemoteSpan starts a span for one remote tape protocol request.
func StartRemoteSpan(ctx context.Context, op string, addr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		RemoteOp(op),
		RemoteAddr(addr),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanRemoteRequest, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a virtual tape store operation.
func StartStoreSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
