//go:build unix

package ring

import (
	"golang.org/x/sys/unix"

	"github.com/marmos91/dittotape/internal/logger"
)

// pin locks every buffer into memory so record transfers never page
// fault. Failure (usually RLIMIT_MEMLOCK) is logged and ignored.
func (r *Ring) pin() {
	for i, m := range r.msgs {
		if err := unix.Mlock(m.Buf); err != nil {
			logger.Warn("Cannot pin ring buffers, continuing unpinned", logger.Err(err))
			for _, prev := range r.msgs[:i] {
				_ = unix.Munlock(prev.Buf)
			}
			r.cfg.Pin = false
			return
		}
	}
}

func (r *Ring) unpin() {
	if !r.cfg.Pin {
		return
	}
	for _, m := range r.msgs {
		_ = unix.Munlock(m.Buf)
	}
	r.cfg.Pin = false
}
