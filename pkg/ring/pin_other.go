//go:build !unix

package ring

import "github.com/marmos91/dittotape/internal/logger"

func (r *Ring) pin() {
	logger.Warn("Buffer pinning is not supported on this platform")
	r.cfg.Pin = false
}

func (r *Ring) unpin() {}
