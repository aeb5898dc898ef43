// Package remote reaches a tape drive on another host. Calls are XDR
// encoded and carried over TCP with RPC record marking: each message is
// one fragment whose 4-byte big-endian header holds the last-fragment bit
// and the payload length.
package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittotape/pkg/bufpool"
	"github.com/marmos91/dittotape/pkg/device"
)

// MaxFragmentSize bounds a message: a 2 MiB record plus headroom.
const MaxFragmentSize = 2<<20 + 64<<10

const lastFragment = 0x80000000

// Procedures.
const (
	ProcOpen uint32 = iota + 1
	ProcClose
	ProcRead
	ProcWrite
	ProcDo
	ProcStatus
	ProcGetBlockSize
	ProcSetBlockSize
)

var procNames = map[uint32]string{
	ProcOpen:         "open",
	ProcClose:        "close",
	ProcRead:         "read",
	ProcWrite:        "write",
	ProcDo:           "do",
	ProcStatus:       "status",
	ProcGetBlockSize: "get_block_size",
	ProcSetBlockSize: "set_block_size",
}

// ProcName returns the lower-case name of proc.
func ProcName(proc uint32) string {
	if name, ok := procNames[proc]; ok {
		return name
	}
	return fmt.Sprintf("proc(%d)", proc)
}

// Result codes, one per device sentinel.
const (
	codeOK uint32 = iota
	codeNotReady
	codeOffline
	codeRecordTooLarge
	codeEndOfMedia
	codeIO
	codeWriteProtected
	codeNotSupported
	codeClosed
	codeOther
)

var codeErrors = map[uint32]error{
	codeNotReady:       device.ErrNotReady,
	codeOffline:        device.ErrOffline,
	codeRecordTooLarge: device.ErrRecordTooLarge,
	codeEndOfMedia:     device.ErrEndOfMedia,
	codeIO:             device.ErrIO,
	codeWriteProtected: device.ErrWriteProtected,
	codeNotSupported:   device.ErrNotSupported,
	codeClosed:         device.ErrClosed,
}

// Request is one call.
type Request struct {
	XID   uint32
	Proc  uint32
	Op    uint32
	Count int32
	Data  []byte
}

// Reply answers a Request with the same XID.
type Reply struct {
	XID       uint32
	Code      uint32
	Message   string
	N         int32
	Data      []byte
	Flags     uint32
	FileNo    int32
	BlockNo   int32
	BlockSize int32
	Caps      uint32
}

func codeOf(err error) uint32 {
	if err == nil {
		return codeOK
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return codeOther
}

// Err reconstructs the device error carried by the reply.
func (r *Reply) Err() error {
	if r.Code == codeOK {
		return nil
	}
	if sentinel, ok := codeErrors[r.Code]; ok {
		if r.Message == "" || r.Message == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w: remote: %s", sentinel, r.Message)
	}
	return fmt.Errorf("remote: %s", r.Message)
}

func (r *Reply) status() device.Status {
	return device.Status{
		Flags:     device.Flags(r.Flags),
		FileNo:    int(r.FileNo),
		BlockNo:   int(r.BlockNo),
		BlockSize: int(r.BlockSize),
	}
}

// writeMessage XDR encodes v and sends it as a single fragment.
func writeMessage(w io.Writer, v any) error {
	var body bytes.Buffer
	body.Write(make([]byte, 4))
	if _, err := xdr.Marshal(&body, v); err != nil {
		return fmt.Errorf("xdr encode: %w", err)
	}
	frame := body.Bytes()
	n := len(frame) - 4
	if n > MaxFragmentSize {
		return fmt.Errorf("message of %d bytes exceeds fragment limit", n)
	}
	binary.BigEndian.PutUint32(frame, lastFragment|uint32(n))
	_, err := w.Write(frame)
	return err
}

// readMessage reads one fragment and decodes it into v. io.EOF is
// returned unwrapped on a clean disconnect.
func readMessage(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	word := binary.BigEndian.Uint32(hdr[:])
	if word&lastFragment == 0 {
		return errors.New("multi-fragment messages are not supported")
	}
	length := word &^ lastFragment
	if length > MaxFragmentSize {
		return fmt.Errorf("fragment too large: %d bytes", length)
	}

	buf := bufpool.GetUint32(length)
	defer bufpool.Put(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(buf), v); err != nil {
		return fmt.Errorf("xdr decode: %w", err)
	}
	return nil
}
