package vtape

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/device"
)

func openDrive(t *testing.T, opts Options) (*Drive, *MemoryStore) {
	t.Helper()
	d, s := NewMemory(opts)
	require.NoError(t, d.Open(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d, s
}

func rec(b byte, n int) []byte { return bytes.Repeat([]byte{b}, n) }

func mustWrite(t *testing.T, d *Drive, p []byte) {
	t.Helper()
	n, err := d.Write(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
}

// ============================================================================
// Variable-block semantics
// ============================================================================

func TestBlankTape(t *testing.T) {
	d, _ := openDrive(t, Options{})

	_, err := d.Read(make([]byte, 64))
	require.ErrorIs(t, err, device.ErrIO)

	st, err := d.Status()
	require.NoError(t, err)
	assert.True(t, st.Is(device.FlagEOD|device.FlagBOT|device.FlagOnline))
}

func TestFilesAndMarks(t *testing.T) {
	d, _ := openDrive(t, Options{})

	mustWrite(t, d, rec('a', 10))
	mustWrite(t, d, rec('b', 20))
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	mustWrite(t, d, rec('c', 30))
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	require.NoError(t, d.Do(device.OpRewind, 0))

	buf := make([]byte, 64)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, rec('a', 10), buf[:n])
	n, err = d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	t.Run("file mark reads as zero", func(t *testing.T) {
		n, err := d.Read(buf)
		require.NoError(t, err)
		assert.Zero(t, n)
		st, _ := d.Status()
		assert.True(t, st.Is(device.FlagFileMark))
		assert.Equal(t, 1, st.FileNo)
	})

	t.Run("second file", func(t *testing.T) {
		n, err := d.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, rec('c', 30), buf[:n])
		n, err = d.Read(buf)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("end of data after last mark", func(t *testing.T) {
		_, err := d.Read(buf)
		require.ErrorIs(t, err, device.ErrIO)
		st, _ := d.Status()
		assert.True(t, st.Is(device.FlagEOD))
		assert.False(t, st.Is(device.FlagBOT))
	})
}

func TestRecordTooLargeSkipsRecord(t *testing.T) {
	d, _ := openDrive(t, Options{})
	mustWrite(t, d, rec('a', 100))
	mustWrite(t, d, rec('b', 10))
	require.NoError(t, d.Do(device.OpRewind, 0))

	_, err := d.Read(make([]byte, 50))
	require.ErrorIs(t, err, device.ErrRecordTooLarge)

	buf := make([]byte, 50)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, rec('b', 10), buf[:n])
}

func TestWriteTruncatesAfterHead(t *testing.T) {
	d, s := openDrive(t, Options{})
	for i := 0; i < 3; i++ {
		mustWrite(t, d, rec(byte('a'+i), 8))
	}
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	mustWrite(t, d, rec('z', 8))
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))

	require.NoError(t, d.Do(device.OpRewind, 0))
	require.NoError(t, d.Do(device.OpForwardRecord, 1))
	mustWrite(t, d, rec('x', 8))

	l := d.Layout()
	require.Len(t, l.Files, 1)
	assert.Equal(t, 2, l.Files[0].Records)
	assert.False(t, l.Files[0].Closed)

	require.NoError(t, d.Close())
	stored, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, l, stored)
}

func TestRewriteFromFileStartAllocatesGeneration(t *testing.T) {
	d, s := openDrive(t, Options{})
	mustWrite(t, d, rec('a', 8))
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	old := d.Layout().Files[0].ID

	require.NoError(t, d.Do(device.OpRewind, 0))
	mustWrite(t, d, rec('b', 8))

	l := d.Layout()
	require.Len(t, l.Files, 1)
	assert.NotEqual(t, old, l.Files[0].ID)
	_, err := s.Get(context.Background(), old, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// Positioning
// ============================================================================

func buildThreeFiles(t *testing.T, d *Drive) {
	t.Helper()
	for f := 0; f < 3; f++ {
		for r := 0; r < 2; r++ {
			mustWrite(t, d, rec(byte('a'+f), 4))
		}
		require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	}
}

func TestPositioning(t *testing.T) {
	d, _ := openDrive(t, Options{})
	buildThreeFiles(t, d)

	t.Run("eod", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpEndOfData, 0))
		f, r := d.Position()
		assert.Equal(t, 3, f)
		assert.Zero(t, r)
	})

	t.Run("bsf lands before the mark", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpBackFile, 2))
		f, r := d.Position()
		assert.Equal(t, 1, f)
		assert.Equal(t, 2, r)
		n, err := d.Read(make([]byte, 8))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("bsf at bot fails", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpRewind, 0))
		require.ErrorIs(t, d.Do(device.OpBackFile, 1), device.ErrIO)
		st, _ := d.Status()
		assert.True(t, st.Is(device.FlagBOT))
	})

	t.Run("fsf", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpForwardFile, 2))
		buf := make([]byte, 8)
		n, err := d.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, rec('c', 4), buf[:n])
	})

	t.Run("fsf past eod", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpRewind, 0))
		require.ErrorIs(t, d.Do(device.OpForwardFile, 4), device.ErrIO)
	})

	t.Run("fsr stops at file mark", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpRewind, 0))
		require.ErrorIs(t, d.Do(device.OpForwardRecord, 3), device.ErrIO)
		f, r := d.Position()
		assert.Equal(t, 1, f)
		assert.Zero(t, r)
	})

	t.Run("bsr", func(t *testing.T) {
		require.NoError(t, d.Do(device.OpRewind, 0))
		require.NoError(t, d.Do(device.OpForwardRecord, 2))
		require.NoError(t, d.Do(device.OpBackRecord, 1))
		_, r := d.Position()
		assert.Equal(t, 1, r)
		require.ErrorIs(t, d.Do(device.OpBackRecord, 5), device.ErrIO)
	})
}

func TestErase(t *testing.T) {
	d, _ := openDrive(t, Options{})
	buildThreeFiles(t, d)
	require.NoError(t, d.Do(device.OpRewind, 0))
	require.NoError(t, d.Do(device.OpForwardFile, 1))
	require.NoError(t, d.Do(device.OpErase, 0))

	assert.Len(t, d.Layout().Files, 1)
	require.NoError(t, d.Do(device.OpEndOfData, 0))
	f, _ := d.Position()
	assert.Equal(t, 1, f)
}

// ============================================================================
// Fixed-block mode
// ============================================================================

func TestFixedBlockStream(t *testing.T) {
	d, _ := openDrive(t, Options{QIC: true})
	assert.True(t, d.Capabilities().Has(device.CapQIC))
	assert.False(t, d.Capabilities().Has(device.CapVariableBlock))

	bs, err := d.BlockSize()
	require.NoError(t, err)
	assert.Equal(t, QICBlockSize, bs)
	assert.ErrorIs(t, d.SetBlockSize(0), device.ErrNotSupported)

	_, err = d.Write(make([]byte, 100))
	require.ErrorIs(t, err, device.ErrIO)

	mustWrite(t, d, rec('a', 3*QICBlockSize))
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	assert.Equal(t, 3, d.Layout().Files[0].Records)

	require.NoError(t, d.Do(device.OpRewind, 0))
	buf := make([]byte, 2*QICBlockSize)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2*QICBlockSize, n)

	n, err = d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, QICBlockSize, n, "short read stops before the mark")

	n, err = d.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ============================================================================
// Faults
// ============================================================================

func TestFaults(t *testing.T) {
	t.Run("not ready then ready", func(t *testing.T) {
		d, _ := NewMemory(Options{})
		d.FailOpens(2)
		assert.ErrorIs(t, d.Open(context.Background()), device.ErrNotReady)
		assert.ErrorIs(t, d.Open(context.Background()), device.ErrNotReady)
		assert.NoError(t, d.Open(context.Background()))
	})

	t.Run("end of media is sticky", func(t *testing.T) {
		d, _ := openDrive(t, Options{})
		d.SetEndOfMedia(2)
		mustWrite(t, d, rec('a', 4))
		mustWrite(t, d, rec('b', 4))
		_, err := d.Write(rec('c', 4))
		assert.ErrorIs(t, err, device.ErrEndOfMedia)
		_, err = d.Write(rec('d', 4))
		assert.ErrorIs(t, err, device.ErrEndOfMedia)
		st, _ := d.Status()
		assert.True(t, st.Is(device.FlagEOT))
		assert.Equal(t, 2, d.Layout().Files[0].Records)
	})

	t.Run("single write failure", func(t *testing.T) {
		d, _ := openDrive(t, Options{})
		boom := errors.New("servo error")
		d.FailWrite(1, boom)
		_, err := d.Write(rec('a', 4))
		assert.ErrorIs(t, err, boom)
		mustWrite(t, d, rec('b', 4))
	})

	t.Run("status failures", func(t *testing.T) {
		d, _ := openDrive(t, Options{})
		d.FailStatus(1)
		_, err := d.Status()
		assert.ErrorIs(t, err, device.ErrIO)
		_, err = d.Status()
		assert.NoError(t, err)
	})

	t.Run("write protect", func(t *testing.T) {
		d, _ := openDrive(t, Options{})
		d.SetWriteProtected(true)
		_, err := d.Write(rec('a', 4))
		assert.ErrorIs(t, err, device.ErrWriteProtected)
		assert.ErrorIs(t, d.Do(device.OpWriteFileMark, 1), device.ErrWriteProtected)
	})

	t.Run("closed", func(t *testing.T) {
		d, _ := NewMemory(Options{})
		_, err := d.Read(make([]byte, 4))
		assert.ErrorIs(t, err, device.ErrClosed)
	})
}

func TestOfflineReloadsLayout(t *testing.T) {
	d, s := openDrive(t, Options{})
	mustWrite(t, d, rec('a', 4))
	require.NoError(t, d.Do(device.OpOffline, 0))

	l, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, l.Files, 1)

	require.NoError(t, d.Open(context.Background()))
	f, r := d.Position()
	assert.Zero(t, f)
	assert.Zero(t, r)
	buf := make([]byte, 8)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
