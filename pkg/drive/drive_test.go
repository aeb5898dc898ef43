package drive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/device/vtape"
	"github.com/marmos91/dittotape/pkg/media"
)

const (
	testRecordSize = MinRecordSize
	perRecord      = testRecordSize - media.RecordHeaderSize
)

// pipelines runs every scenario single-threaded and through the ring.
var pipelines = []int{0, 3}

func pipelineName(n int) string { return fmt.Sprintf("pipeline=%d", n) }

func testConfig(pipeline int) Config {
	cfg := DefaultConfig()
	cfg.RecordSize = testRecordSize
	cfg.PipelineLength = pipeline
	cfg.OpenRetryDelay = time.Millisecond
	cfg.StatusRetryDelay = time.Millisecond
	return cfg
}

func newTestDrive(t *testing.T, dev device.Device, cfg Config) *Drive {
	t.Helper()
	d := New(dev, nil, cfg)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func newGlobal(label string) *media.GlobalHeader {
	return media.NewGlobalHeader(uuid.New(), "testhost", label)
}

// pattern returns n bytes that differ between seeds and positions.
func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed ^ byte(i*7) ^ byte(i>>9)
	}
	return b
}

// markLog records mark resolutions by Arg.
type markLog struct {
	committed []int
	discarded []int
	calls     map[*Mark]int
}

func newMarkLog() *markLog { return &markLog{calls: make(map[*Mark]int)} }

func (l *markLog) fn(m *Mark, committed bool) {
	l.calls[m]++
	if committed {
		l.committed = append(l.committed, m.Arg.(int))
	} else {
		l.discarded = append(l.discarded, m.Arg.(int))
	}
}

// readAll drains the current media file.
func readAll(t *testing.T, d *Drive) []byte {
	t.Helper()
	var out []byte
	for {
		buf, err := d.Read(5000)
		if errors.Is(err, ErrEndOfFile) {
			return out
		}
		require.NoError(t, err)
		out = append(out, buf...)
		require.NoError(t, d.ReturnReadBuffer(buf))
	}
}

// writeFile writes payload as one media file and returns the committed
// byte count.
func writeFile(t *testing.T, d *Drive, label string, payload []byte) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.BeginWrite(ctx, newGlobal(label)))
	require.NoError(t, d.Write(payload))
	committed, err := d.EndWrite(ctx)
	require.NoError(t, err)
	return committed
}

// ============================================================================
// Write scenarios
// ============================================================================

func TestWriteFullRecords(t *testing.T) {
	for _, pipeline := range pipelines {
		t.Run(pipelineName(pipeline), func(t *testing.T) {
			dev, _ := vtape.NewMemory(vtape.Options{})
			d := newTestDrive(t, dev, testConfig(pipeline))

			committed := writeFile(t, d, "full", pattern(1, 3*perRecord))

			assert.Equal(t, int64(4*testRecordSize), committed)
			assert.Equal(t, 4, dev.Writes())
			layout := dev.Layout()
			require.Len(t, layout.Files, 1)
			assert.Equal(t, 4, layout.Files[0].Records)
			assert.True(t, layout.Files[0].Closed)
			assert.Equal(t, ModeNone, d.Mode())
		})
	}
}

func TestWriteEndOfMedia(t *testing.T) {
	for _, pipeline := range pipelines {
		t.Run(pipelineName(pipeline), func(t *testing.T) {
			dev, _ := vtape.NewMemory(vtape.Options{})
			// Header and two data records fit, the third data record hits
			// the end of the tape.
			dev.SetEndOfMedia(3)
			cfg := testConfig(pipeline)
			cfg.LostRecordMax = 1
			d := newTestDrive(t, dev, cfg)
			ctx := context.Background()
			log := newMarkLog()

			require.NoError(t, d.BeginWrite(ctx, newGlobal("eom")))

			var firstErr error
			keep := func(err error) {
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			for rec := 1; rec <= 3; rec++ {
				if _, err := d.SetMark(log.fn, rec); err != nil {
					keep(err)
					break
				}
				if err := d.Write(pattern(byte(rec), perRecord)); err != nil {
					keep(err)
					break
				}
			}
			committed, err := d.EndWrite(ctx)
			keep(err)

			require.ErrorIs(t, firstErr, ErrEndOfMedia)
			assert.ErrorIs(t, err, ErrEndOfMedia)
			assert.Equal(t, int64((3-1)*testRecordSize), committed)
			assert.Equal(t, []int{1}, log.committed)
			assert.Equal(t, []int{2, 3}, log.discarded)
			for m, n := range log.calls {
				assert.Equal(t, 1, n, "mark %v resolved more than once", m.Arg)
			}
		})
	}
}

func TestReadInWriteMode(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{})
	d := newTestDrive(t, dev, testConfig(0))
	ctx := context.Background()

	require.NoError(t, d.BeginWrite(ctx, newGlobal("mode")))
	buf, err := d.Read(100)
	assert.ErrorIs(t, err, ErrCore)
	assert.Nil(t, buf)

	_, err = d.EndWrite(ctx)
	require.NoError(t, err)
}

func TestWriteZeroCopy(t *testing.T) {
	for _, pipeline := range pipelines {
		t.Run(pipelineName(pipeline), func(t *testing.T) {
			dev, _ := vtape.NewMemory(vtape.Options{})
			d := newTestDrive(t, dev, testConfig(pipeline))
			ctx := context.Background()
			payload := pattern(9, 2*perRecord+1234)

			require.NoError(t, d.BeginWrite(ctx, newGlobal("zero-copy")))
			rest := payload
			for len(rest) > 0 {
				buf, err := d.GetWriteBuffer(3000)
				require.NoError(t, err)
				require.NotEmpty(t, buf)
				n := copy(buf, rest)
				require.NoError(t, d.Write(buf[:n]))
				rest = rest[n:]
			}
			_, err := d.EndWrite(ctx)
			require.NoError(t, err)

			require.NoError(t, d.Rewind(ctx))
			_, err = d.BeginRead(ctx)
			require.NoError(t, err)
			assert.Equal(t, payload, readAll(t, d))
			require.NoError(t, d.EndRead(ctx))
		})
	}
}

func TestWriteBufferMisuse(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{})
	d := newTestDrive(t, dev, testConfig(0))
	ctx := context.Background()

	_, err := d.GetWriteBuffer(10)
	assert.ErrorIs(t, err, ErrCore, "outside a write session")

	require.NoError(t, d.BeginWrite(ctx, newGlobal("misuse")))
	buf, err := d.GetWriteBuffer(100)
	require.NoError(t, err)

	_, err = d.GetWriteBuffer(100)
	assert.ErrorIs(t, err, ErrCore, "second lend")
	_, err = d.SetMark(nil, nil)
	assert.ErrorIs(t, err, ErrCore, "mark while lent")
	assert.ErrorIs(t, d.Write(make([]byte, 10)), ErrCore, "foreign buffer")
	assert.ErrorIs(t, d.Write(make([]byte, 101)), ErrCore, "longer than lent")

	require.NoError(t, d.Write(buf[:50]))
	_, err = d.EndWrite(ctx)
	require.NoError(t, err)
}

func TestBeginWriteRequiresDumpID(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{})
	d := newTestDrive(t, dev, testConfig(0))

	assert.ErrorIs(t, d.BeginWrite(context.Background(), nil), ErrCore)
	gh := newGlobal("nil-id")
	gh.DumpID = uuid.Nil
	assert.ErrorIs(t, d.BeginWrite(context.Background(), gh), ErrCore)
	assert.Equal(t, ModeNone, d.Mode())
}

func TestAlignCount(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{})
	d := newTestDrive(t, dev, testConfig(0))
	ctx := context.Background()

	require.NoError(t, d.BeginWrite(ctx, newGlobal("align")))
	n, err := d.AlignCount()
	require.NoError(t, err)
	assert.Equal(t, perRecord, n)

	require.NoError(t, d.Write(make([]byte, 1000)))
	n, err = d.AlignCount()
	require.NoError(t, err)
	assert.Equal(t, perRecord-1000, n)

	require.NoError(t, d.Write(make([]byte, n)))
	n, err = d.AlignCount()
	require.NoError(t, err)
	assert.Equal(t, perRecord, n)

	_, err = d.EndWrite(ctx)
	require.NoError(t, err)
}

// ============================================================================
// Round trips
// ============================================================================

func TestRoundTrip(t *testing.T) {
	for _, pipeline := range pipelines {
		t.Run(pipelineName(pipeline), func(t *testing.T) {
			dev, _ := vtape.NewMemory(vtape.Options{})
			d := newTestDrive(t, dev, testConfig(pipeline))
			ctx := context.Background()

			first := pattern(1, 3*perRecord+777)
			second := pattern(2, 100)
			writeFile(t, d, "first", first)
			writeFile(t, d, "second", second)

			require.NoError(t, d.Rewind(ctx))

			gh, err := d.BeginRead(ctx)
			require.NoError(t, err)
			assert.Equal(t, "first", gh.Label)
			assert.Equal(t, first, readAll(t, d))
			require.NoError(t, d.EndRead(ctx))

			gh, err = d.BeginRead(ctx)
			require.NoError(t, err)
			assert.Equal(t, "second", gh.Label)
			assert.Equal(t, second, readAll(t, d))
			require.NoError(t, d.EndRead(ctx))

			_, err = d.BeginRead(ctx)
			assert.ErrorIs(t, err, ErrEndOfData)
		})
	}
}

func TestEndReadSkipsRestOfFile(t *testing.T) {
	for _, pipeline := range pipelines {
		t.Run(pipelineName(pipeline), func(t *testing.T) {
			dev, _ := vtape.NewMemory(vtape.Options{})
			d := newTestDrive(t, dev, testConfig(pipeline))
			ctx := context.Background()

			writeFile(t, d, "long", pattern(1, 5*perRecord))
			writeFile(t, d, "next", pattern(2, 10))
			require.NoError(t, d.Rewind(ctx))

			_, err := d.BeginRead(ctx)
			require.NoError(t, err)
			buf, err := d.Read(10)
			require.NoError(t, err)
			require.NoError(t, d.ReturnReadBuffer(buf))
			require.NoError(t, d.EndRead(ctx))

			gh, err := d.BeginRead(ctx)
			require.NoError(t, err)
			assert.Equal(t, "next", gh.Label)
			require.NoError(t, d.EndRead(ctx))
		})
	}
}

func TestReadBufferMisuse(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{})
	d := newTestDrive(t, dev, testConfig(0))
	ctx := context.Background()
	writeFile(t, d, "misuse", pattern(1, 1000))
	require.NoError(t, d.Rewind(ctx))

	_, err := d.BeginRead(ctx)
	require.NoError(t, err)
	_, err = d.BeginRead(ctx)
	assert.ErrorIs(t, err, ErrCore, "nested session")

	buf, err := d.Read(100)
	require.NoError(t, err)
	_, err = d.Read(100)
	assert.ErrorIs(t, err, ErrCore, "previous buffer held")
	assert.ErrorIs(t, d.ReturnReadBuffer(buf[:50]), ErrCore, "partial return")
	require.NoError(t, d.ReturnReadBuffer(buf))
	assert.ErrorIs(t, d.ReturnReadBuffer(buf), ErrCore, "nothing lent")
	require.NoError(t, d.EndRead(ctx))
}

func TestInfo(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{Name: "info"})
	d := newTestDrive(t, dev, testConfig(3))
	ctx := context.Background()

	assert.Equal(t, "vtape:info", d.Name())
	writeFile(t, d, "info", pattern(1, 10))
	require.NoError(t, d.Prepare(ctx))

	info := d.Info()
	assert.True(t, info.Prepared)
	assert.Equal(t, "ok", info.Verdict)
	assert.Equal(t, testRecordSize, info.RecordSize)
	assert.Equal(t, 0, info.DeviceBlockSize)
	assert.Equal(t, 2, info.LostRecordMax)
	assert.Equal(t, 3, info.PipelineLength)
	require.NotNil(t, info.Global)
	assert.Equal(t, "info", info.Global.Label)
}

func TestCloseIsIdempotent(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{})
	d := New(dev, nil, testConfig(3))
	ctx := context.Background()

	require.NoError(t, d.BeginWrite(ctx, newGlobal("close")))
	require.NoError(t, d.Write(pattern(1, 100)))

	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))

	layout := dev.Layout()
	require.Len(t, layout.Files, 1)
	assert.True(t, layout.Files[0].Closed, "close ends the write session")

	assert.ErrorIs(t, d.Prepare(ctx), ErrCore)
}
