// Package media implements the on-tape binary layout: the per-record header
// that prefixes every physical record and the global header that opens
// every media file. Everything here is a pure transform over byte slices.
//
// A record is RecordSize bytes: a RecordHeaderSize header region followed
// by payload. Multi-byte fields are big endian.
package media

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	// RecordMagic opens every record header.
	RecordMagic uint64 = 0x13579bdf02468acf

	// RecordVersion is the only record header version this build writes.
	RecordVersion uint32 = 1

	// RecordHeaderSize is the page aligned header region reserved at the
	// start of every record.
	RecordHeaderSize = 4096

	// RecordHeaderEncodedSize is the part of the header region holding fields.
	RecordHeaderEncodedSize = 72

	// NoMark marks a record that contains no mark.
	NoMark int64 = -1

	// checksumTag is stored in the checksummed word when a record carries a
	// checksum. Any value other than 0 or checksumTag is corruption.
	checksumTag uint32 = 0x43534d31
)

// Field offsets inside the record header region.
const (
	offMagic       = 0
	offVersion     = 8
	offBlockSize   = 12
	offRecordSize  = 16
	offCaps        = 20
	offFileOffset  = 24
	offFirstMark   = 32
	offRecUsed     = 40
	offChecksum    = 44
	offChecksummed = 48
	offDumpID      = 56
)

// RecordHeader describes one physical record.
type RecordHeader struct {
	Magic           uint64
	Version         uint32
	BlockSize       uint32
	RecordSize      uint32
	Capabilities    uint32
	FileOffset      int64
	FirstMarkOffset int64
	RecUsed         uint32
	Checksum        uint32
	Checksummed     bool
	DumpID          uuid.UUID
}

// NewRecordHeader returns a header for the record starting at fileOffset
// with no mark and nothing used beyond the header region.
func NewRecordHeader(dumpID uuid.UUID, blockSize, recordSize int, caps uint32, fileOffset int64) *RecordHeader {
	return &RecordHeader{
		Magic:           RecordMagic,
		Version:         RecordVersion,
		BlockSize:       uint32(blockSize),
		RecordSize:      uint32(recordSize),
		Capabilities:    caps,
		FileOffset:      fileOffset,
		FirstMarkOffset: NoMark,
		RecUsed:         RecordHeaderSize,
		DumpID:          dumpID,
	}
}

// HasMark reports whether the record declares an embedded mark.
func (h *RecordHeader) HasMark() bool { return h.FirstMarkOffset != NoMark }

// Encode writes the header into the first RecordHeaderSize bytes of dst and
// zeroes the rest of the region. The checksum word is written as stored;
// use StampChecksum on the full record once the payload is final.
func (h *RecordHeader) Encode(dst []byte) error {
	if len(dst) < RecordHeaderSize {
		return ErrShortBuffer
	}
	region := dst[:RecordHeaderSize]
	clear(region)

	be := binary.BigEndian
	be.PutUint64(region[offMagic:], h.Magic)
	be.PutUint32(region[offVersion:], h.Version)
	be.PutUint32(region[offBlockSize:], h.BlockSize)
	be.PutUint32(region[offRecordSize:], h.RecordSize)
	be.PutUint32(region[offCaps:], h.Capabilities)
	be.PutUint64(region[offFileOffset:], uint64(h.FileOffset))
	be.PutUint64(region[offFirstMark:], uint64(h.FirstMarkOffset))
	be.PutUint32(region[offRecUsed:], h.RecUsed)
	be.PutUint32(region[offChecksum:], h.Checksum)
	if h.Checksummed {
		be.PutUint32(region[offChecksummed:], checksumTag)
	}
	copy(region[offDumpID:offDumpID+16], h.DumpID[:])
	return nil
}

// DecodeRecordHeader parses a record header. Only the magic, checksum tag
// and version are checked here; see Validate for the rest.
func DecodeRecordHeader(b []byte) (*RecordHeader, error) {
	h, err := parseRecordHeader(b)
	if err != nil {
		return nil, err
	}
	return h, checkVersion(h)
}

func parseRecordHeader(b []byte) (*RecordHeader, error) {
	if len(b) < RecordHeaderEncodedSize {
		return nil, ErrShortBuffer
	}
	be := binary.BigEndian
	h := &RecordHeader{
		Magic:           be.Uint64(b[offMagic:]),
		Version:         be.Uint32(b[offVersion:]),
		BlockSize:       be.Uint32(b[offBlockSize:]),
		RecordSize:      be.Uint32(b[offRecordSize:]),
		Capabilities:    be.Uint32(b[offCaps:]),
		FileOffset:      int64(be.Uint64(b[offFileOffset:])),
		FirstMarkOffset: int64(be.Uint64(b[offFirstMark:])),
		RecUsed:         be.Uint32(b[offRecUsed:]),
		Checksum:        be.Uint32(b[offChecksum:]),
	}
	copy(h.DumpID[:], b[offDumpID:offDumpID+16])

	if h.Magic != RecordMagic {
		return nil, ErrBadMagic
	}
	switch be.Uint32(b[offChecksummed:]) {
	case 0:
	case checksumTag:
		h.Checksummed = true
	default:
		return nil, wrapf(ErrBadChecksum, "invalid checksum tag")
	}
	return h, nil
}

func checkVersion(h *RecordHeader) error {
	if h.Version != RecordVersion {
		return wrapf(ErrUnsupportedVersion, "record version %d", h.Version)
	}
	return nil
}

// HasRecordMagic reports whether b starts with the record magic.
func HasRecordMagic(b []byte) bool {
	return len(b) >= 8 && binary.BigEndian.Uint64(b) == RecordMagic
}

// Validate checks the structural fields against what the reader expects.
// A negative expectedOffset skips the exact offset comparison but still
// requires alignment.
func (h *RecordHeader) Validate(dumpID uuid.UUID, recordSize int, expectedOffset int64) error {
	if h.RecordSize == 0 || int(h.RecordSize) != recordSize {
		return wrapf(ErrBadSize, "record size %d, expected %d", h.RecordSize, recordSize)
	}
	if h.BlockSize == 0 || h.RecordSize%h.BlockSize != 0 {
		return wrapf(ErrBadSize, "block size %d does not divide record size %d", h.BlockSize, h.RecordSize)
	}
	if h.RecUsed < RecordHeaderSize || h.RecUsed > h.RecordSize {
		return wrapf(ErrBadUsed, "rec_used %d", h.RecUsed)
	}
	if h.FileOffset < 0 || h.FileOffset%int64(h.RecordSize) != 0 {
		return wrapf(ErrBadOffset, "file offset %d not a multiple of %d", h.FileOffset, h.RecordSize)
	}
	if expectedOffset >= 0 && h.FileOffset != expectedOffset {
		return wrapf(ErrBadOffset, "file offset %d, expected %d", h.FileOffset, expectedOffset)
	}
	if h.HasMark() {
		lo := h.FileOffset + RecordHeaderSize
		hi := h.FileOffset + int64(h.RecUsed)
		if h.FirstMarkOffset < lo || h.FirstMarkOffset > hi {
			return wrapf(ErrBadOffset, "first mark %d outside [%d, %d]", h.FirstMarkOffset, lo, hi)
		}
	}
	if h.DumpID != dumpID {
		return wrapf(ErrBadDumpID, "dump %s, expected %s", h.DumpID, dumpID)
	}
	return nil
}

// RecordIndex returns the index of the record within its media file.
func (h *RecordHeader) RecordIndex() int64 {
	return h.FileOffset / int64(h.RecordSize)
}

// VerifyRecord decodes the header of a full record and verifies its
// checksum over the whole buffer when the record carries one. The checksum
// is checked before the version so that damage to any field reports as
// corruption.
func VerifyRecord(record []byte) (*RecordHeader, error) {
	h, err := parseRecordHeader(record)
	if err != nil {
		return nil, err
	}
	if h.Checksummed && sum32(record) != 0 {
		return nil, ErrBadChecksum
	}
	if err := checkVersion(h); err != nil {
		return nil, err
	}
	return h, nil
}
