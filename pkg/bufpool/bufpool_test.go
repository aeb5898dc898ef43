package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Size classes
// ============================================================================

func TestSizeClasses(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"zero", 0, DefaultControlSize},
		{"status frame", 64, DefaultControlSize},
		{"exact control", DefaultControlSize, DefaultControlSize},
		{"portable record", 128 << 10, DefaultPortableSize},
		{"one MiB record", 1 << 20, DefaultRecordSize},
		{"max record plus header", 2<<20 + 64, DefaultRecordSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.size)
			defer Put(buf)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.wantCap, cap(buf))
		})
	}

	t.Run("oversized is not pooled", func(t *testing.T) {
		buf := Get(DefaultRecordSize + 1)
		assert.Equal(t, len(buf), cap(buf))
		Put(buf)
	})
}

func TestCustomClasses(t *testing.T) {
	p := NewPool(512, 0, 128, 512)
	assert.Len(t, p.classes, 2)
	assert.Equal(t, 128, cap(p.Get(1)))
	assert.Equal(t, 512, cap(p.Get(129)))
	assert.Equal(t, 513, cap(p.Get(513)))
}

func TestPutIgnoresForeignBuffers(t *testing.T) {
	p := NewPool(64)
	p.Put(nil)
	p.Put(make([]byte, 10))
	assert.Equal(t, 64, cap(p.Get(10)))
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := Get((g*i)%(300<<10) + 1)
				buf[0] = byte(g)
				Put(buf)
			}
		}(g)
	}
	wg.Wait()
}
