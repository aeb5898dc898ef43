package media

import "encoding/binary"

// sum32 adds the buffer as big-endian 32-bit words. A trailing partial word
// is zero padded.
func sum32(b []byte) uint32 {
	var sum uint32
	n := len(b) &^ 3
	for i := 0; i < n; i += 4 {
		sum += binary.BigEndian.Uint32(b[i:])
	}
	if n < len(b) {
		var tail [4]byte
		copy(tail[:], b[n:])
		sum += binary.BigEndian.Uint32(tail[:])
	}
	return sum
}

// stamp writes the checksum word at off so that the whole buffer sums to zero.
func stamp(b []byte, off int) {
	binary.BigEndian.PutUint32(b[off:], 0)
	binary.BigEndian.PutUint32(b[off:], -sum32(b))
}

// StampChecksum computes and stores the checksum of a full encoded record
// whose header has Checksummed set. Records without the flag are untouched.
func StampChecksum(record []byte) {
	if len(record) < RecordHeaderSize {
		return
	}
	if binary.BigEndian.Uint32(record[offChecksummed:]) != checksumTag {
		return
	}
	stamp(record, offChecksum)
}

// VerifyChecksum checks a full record. Records written without checksums
// always pass.
func VerifyChecksum(record []byte) error {
	if len(record) < RecordHeaderSize {
		return ErrShortBuffer
	}
	switch binary.BigEndian.Uint32(record[offChecksummed:]) {
	case 0:
		return nil
	case checksumTag:
	default:
		return ErrBadChecksum
	}
	if sum32(record) != 0 {
		return ErrBadChecksum
	}
	return nil
}
