package media

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

const (
	// GlobalVersion is the media-file header version this build writes.
	GlobalVersion uint32 = 1

	// GlobalHeaderSize is the encoded size of a GlobalHeader.
	GlobalHeaderSize = 4096

	// SubHeaderSize is the size of each opaque drive/media/content sub-header.
	SubHeaderSize = 1024

	// MaxHostnameLen and MaxLabelLen bound the fixed string fields.
	MaxHostnameLen = 64
	MaxLabelLen    = 256
)

// GlobalMagic opens every media file.
var GlobalMagic = [8]byte{'d', 't', 't', 'a', 'p', 'e', 0, 0}

const (
	goffMagic     = 0
	goffVersion   = 8
	goffChecksum  = 12
	goffTimestamp = 16
	goffHostname  = 24
	goffLabel     = goffHostname + MaxHostnameLen
	goffDumpID    = goffLabel + MaxLabelLen
	goffDrive     = 1024
	goffMedia     = goffDrive + SubHeaderSize
	goffContent   = goffMedia + SubHeaderSize
)

// GlobalHeader is written once at the start of each media file, as the
// payload of its first record. The sub-headers belong to higher layers and
// are carried verbatim.
type GlobalHeader struct {
	Magic     [8]byte
	Version   uint32
	Checksum  uint32
	Timestamp time.Time
	Hostname  string
	Label     string
	DumpID    uuid.UUID

	Drive   []byte
	Media   []byte
	Content []byte
}

// NewGlobalHeader builds a header for a new dump stamped with the current time.
func NewGlobalHeader(dumpID uuid.UUID, hostname, label string) *GlobalHeader {
	return &GlobalHeader{
		Magic:     GlobalMagic,
		Version:   GlobalVersion,
		Timestamp: time.Now().Truncate(time.Second),
		Hostname:  hostname,
		Label:     label,
		DumpID:    dumpID,
	}
}

// Encode writes the header into dst[:GlobalHeaderSize] with its checksum.
// The checksum is always computed, whatever the record checksum policy.
func (g *GlobalHeader) Encode(dst []byte) error {
	if len(dst) < GlobalHeaderSize {
		return ErrShortBuffer
	}
	if len(g.Hostname) > MaxHostnameLen || len(g.Label) > MaxLabelLen {
		return wrapf(ErrBadSize, "hostname or label too long")
	}
	if len(g.Drive) > SubHeaderSize || len(g.Media) > SubHeaderSize || len(g.Content) > SubHeaderSize {
		return wrapf(ErrBadSize, "sub-header larger than %d bytes", SubHeaderSize)
	}

	region := dst[:GlobalHeaderSize]
	clear(region)

	be := binary.BigEndian
	copy(region[goffMagic:], g.Magic[:])
	be.PutUint32(region[goffVersion:], g.Version)
	be.PutUint64(region[goffTimestamp:], uint64(g.Timestamp.Unix()))
	copy(region[goffHostname:goffHostname+MaxHostnameLen], g.Hostname)
	copy(region[goffLabel:goffLabel+MaxLabelLen], g.Label)
	copy(region[goffDumpID:goffDumpID+16], g.DumpID[:])
	copy(region[goffDrive:goffDrive+SubHeaderSize], g.Drive)
	copy(region[goffMedia:goffMedia+SubHeaderSize], g.Media)
	copy(region[goffContent:goffContent+SubHeaderSize], g.Content)

	stamp(region, goffChecksum)
	g.Checksum = be.Uint32(region[goffChecksum:])
	return nil
}

// DecodeGlobalHeader parses and verifies a media-file header.
func DecodeGlobalHeader(b []byte) (*GlobalHeader, error) {
	if len(b) < GlobalHeaderSize {
		return nil, ErrShortBuffer
	}
	region := b[:GlobalHeaderSize]

	g := &GlobalHeader{}
	copy(g.Magic[:], region[goffMagic:])
	if g.Magic != GlobalMagic {
		return nil, ErrBadMagic
	}

	be := binary.BigEndian
	g.Version = be.Uint32(region[goffVersion:])
	if g.Version != GlobalVersion {
		return nil, wrapf(ErrUnsupportedVersion, "media file version %d", g.Version)
	}
	if sum32(region) != 0 {
		return nil, ErrBadChecksum
	}

	g.Checksum = be.Uint32(region[goffChecksum:])
	g.Timestamp = time.Unix(int64(be.Uint64(region[goffTimestamp:])), 0)
	g.Hostname = cstring(region[goffHostname : goffHostname+MaxHostnameLen])
	g.Label = cstring(region[goffLabel : goffLabel+MaxLabelLen])
	copy(g.DumpID[:], region[goffDumpID:goffDumpID+16])
	g.Drive = bytes.Clone(region[goffDrive : goffDrive+SubHeaderSize])
	g.Media = bytes.Clone(region[goffMedia : goffMedia+SubHeaderSize])
	g.Content = bytes.Clone(region[goffContent : goffContent+SubHeaderSize])
	return g, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
