package drive

import (
	"time"

	"github.com/marmos91/dittotape/pkg/session"
)

// Size constants of the on-tape format.
const (
	// MaxRecordSize bounds every physical record.
	MaxRecordSize = 2 << 20

	// DefaultRecordSize is used for writing when nothing else decides.
	DefaultRecordSize = 1 << 20

	// MinRecordSize is the smallest record the engine writes.
	MinRecordSize = 16 << 10

	// QICBlockSize and QICRecordSize describe the legacy fixed-block variant.
	QICBlockSize  = 512
	QICRecordSize = 240 << 10

	// MinPortableBlockSize is used when the drive cannot be asked for its
	// block size, as with remote tapes.
	MinPortableBlockSize = 128 << 10
)

// headerRecordUsed is the rec_used of the record carrying the global header.
const headerRecordUsed = 2 * 4096

// Config is consumed once by New.
type Config struct {
	// BlockSize overrides block and record size when writing. Zero
	// negotiates with the drive.
	BlockSize int

	// RecordSize is the preferred record size when writing.
	RecordSize int

	// PipelineLength is the number of ring buffers. Zero performs all
	// device I/O synchronously on the caller's goroutine.
	PipelineLength int
	PinBuffers     bool

	// Checksum stamps data records with a checksum. The record carrying
	// the global header is always checksummed.
	Checksum bool

	// Unload takes the medium offline on Close.
	Unload bool

	// Overwrite skips medium detection; the tape is assumed expendable.
	Overwrite bool

	// LegacyQIC forces the fixed 512-byte block variant.
	LegacyQIC bool

	// LostRecordMax is the number of trailing records that may be lost
	// silently near end of media. Zero selects 1 for QIC and 2 otherwise.
	LostRecordMax int

	// RestoreBlockSize puts the drive's original block size back on Close.
	RestoreBlockSize bool

	OpenRetries      int
	OpenRetryDelay   time.Duration
	StatusRetries    int
	StatusRetryDelay time.Duration

	// ResyncAttempts bounds the records examined by NextMark after corruption.
	ResyncAttempts int

	// MaxSizeCandidates bounds the record sizes tried while probing.
	MaxSizeCandidates int

	// Stream binds the pipeline worker in the session's stream registry.
	Stream int
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		RecordSize:        DefaultRecordSize,
		PipelineLength:    3,
		Checksum:          true,
		RestoreBlockSize:  true,
		OpenRetries:       10,
		OpenRetryDelay:    2 * time.Second,
		StatusRetries:     5,
		StatusRetryDelay:  200 * time.Millisecond,
		ResyncAttempts:    100,
		MaxSizeCandidates: 8,
		Stream:            session.NoStream,
	}
}

// withDefaults fills unset numeric fields. Booleans are taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecordSize <= 0 {
		c.RecordSize = d.RecordSize
	}
	if c.RecordSize > MaxRecordSize {
		c.RecordSize = MaxRecordSize
	}
	if c.RecordSize < MinRecordSize {
		c.RecordSize = MinRecordSize
	}
	if c.PipelineLength < 0 {
		c.PipelineLength = 0
	}
	if c.OpenRetries <= 0 {
		c.OpenRetries = d.OpenRetries
	}
	if c.OpenRetryDelay < 0 {
		c.OpenRetryDelay = 0
	}
	if c.StatusRetries <= 0 {
		c.StatusRetries = d.StatusRetries
	}
	if c.StatusRetryDelay < 0 {
		c.StatusRetryDelay = 0
	}
	if c.ResyncAttempts <= 0 {
		c.ResyncAttempts = d.ResyncAttempts
	}
	if c.MaxSizeCandidates <= 0 {
		c.MaxSizeCandidates = d.MaxSizeCandidates
	}
	return c
}
