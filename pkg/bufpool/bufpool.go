// Package bufpool recycles the frame buffers of the remote tape protocol.
//
// Frames come in three typical sizes: control exchanges that fit in one
// page, records of the portable block size, and full records up to the
// platform maximum. Each class has its own sync.Pool; anything larger is
// allocated directly and left to the garbage collector.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sort"
	"sync"
)

// Default size classes.
const (
	DefaultControlSize  = 4 << 10
	DefaultPortableSize = 256 << 10
	// DefaultRecordSize covers a 2 MiB record plus the frame header.
	DefaultRecordSize = 2<<20 + 4<<10
)

// Pool is a set of size-classed byte slice pools.
type Pool struct {
	classes []class
}

type class struct {
	size int
	pool *sync.Pool
}

// NewPool creates a pool with the given class sizes. With no sizes the
// default classes are used.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = []int{DefaultControlSize, DefaultPortableSize, DefaultRecordSize}
	}
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	p := &Pool{}
	for _, size := range sorted {
		if size <= 0 {
			continue
		}
		if n := len(p.classes); n > 0 && p.classes[n-1].size == size {
			continue
		}
		sz := size
		p.classes = append(p.classes, class{
			size: sz,
			pool: &sync.Pool{New: func() any {
				b := make([]byte, sz)
				return &b
			}},
		})
	}
	return p
}

// Get returns a slice of length size backed by the smallest class that
// fits.
func (p *Pool) Get(size int) []byte {
	for _, c := range p.classes {
		if size <= c.size {
			buf := *c.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its class. Buffers whose capacity matches no class
// are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	c := cap(buf)
	for _, cl := range p.classes {
		if cl.size == c {
			full := buf[:c]
			cl.pool.Put(&full)
			return
		}
	}
}

var globalPool = NewPool()

// Get returns a buffer from the package pool.
func Get(size int) []byte { return globalPool.Get(size) }

// Put returns a buffer to the package pool.
func Put(buf []byte) { globalPool.Put(buf) }

// GetUint32 accepts a wire length.
func GetUint32(size uint32) []byte { return globalPool.Get(int(size)) }
