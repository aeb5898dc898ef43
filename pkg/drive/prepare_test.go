package drive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/device/vtape"
	"github.com/marmos91/dittotape/pkg/session"
)

// remoteTape presents a virtual tape as if it were reached over the network.
type remoteTape struct{ *vtape.Drive }

func (r remoteTape) Capabilities() device.Caps { return r.Drive.Capabilities() | device.CapRemote }

// rawTape writes records straight to a virtual tape, bypassing the engine.
func rawTape(t *testing.T, records ...[]byte) (*vtape.Drive, *vtape.MemoryStore) {
	t.Helper()
	dev, store := vtape.NewMemory(vtape.Options{})
	require.NoError(t, dev.Open(context.Background()))
	for _, r := range records {
		_, err := dev.Write(r)
		require.NoError(t, err)
	}
	require.NoError(t, dev.Do(device.OpWriteFileMark, 1))
	require.NoError(t, dev.Close())
	return dev, store
}

// ============================================================================
// Verdicts
// ============================================================================

func TestPrepareVerdicts(t *testing.T) {
	ctx := context.Background()

	t.Run("Blank", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		d := newTestDrive(t, dev, testConfig(0))

		assert.ErrorIs(t, d.Prepare(ctx), ErrBlank)
		info := d.Info()
		assert.True(t, info.Prepared)
		assert.Equal(t, "blank", info.Verdict)

		_, err := d.BeginRead(ctx)
		assert.ErrorIs(t, err, ErrBlank)
	})

	t.Run("ForeignLargeRecord", func(t *testing.T) {
		dev, _ := rawTape(t, pattern(1, 20000))
		d := newTestDrive(t, dev, testConfig(0))

		assert.ErrorIs(t, d.Prepare(ctx), ErrForeign)
		assert.ErrorIs(t, d.BeginWrite(ctx, newGlobal("refused")), ErrForeign)
	})

	t.Run("ForeignSmallRecord", func(t *testing.T) {
		dev, _ := rawTape(t, []byte("tar archive"))
		d := newTestDrive(t, dev, testConfig(0))

		assert.ErrorIs(t, d.Prepare(ctx), ErrForeign)
	})

	t.Run("ForeignFileMark", func(t *testing.T) {
		dev, _ := rawTape(t)
		d := newTestDrive(t, dev, testConfig(0))

		assert.ErrorIs(t, d.Prepare(ctx), ErrForeign)
	})

	t.Run("Ours", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		w := newTestDrive(t, dev, testConfig(0))
		writeFile(t, w, "ours", pattern(1, 100))

		require.NoError(t, w.Prepare(ctx))
		info := w.Info()
		assert.Equal(t, "ok", info.Verdict)
		require.NotNil(t, info.Global)
		assert.Equal(t, "ours", info.Global.Label)
	})

	t.Run("Corrupt", func(t *testing.T) {
		dev, store := vtape.NewMemory(vtape.Options{})
		w := newTestDrive(t, dev, testConfig(0))
		writeFile(t, w, "corrupt", pattern(1, 100))
		layout := dev.Layout()
		// Damage the global header inside the checksummed first record.
		require.NoError(t, store.Mutate(layout.Files[0].ID, 0, func(b []byte) { b[5000] ^= 0x55 }))

		assert.ErrorIs(t, w.Prepare(ctx), ErrCorruption)
	})

	t.Run("Overwrite", func(t *testing.T) {
		dev, _ := rawTape(t, pattern(1, 20000))
		cfg := testConfig(0)
		cfg.Overwrite = true
		d := newTestDrive(t, dev, cfg)

		assert.ErrorIs(t, d.Prepare(ctx), ErrOverwrite)
		writeFile(t, d, "over", pattern(2, 50))

		require.NoError(t, d.Rewind(ctx))
		gh, err := d.BeginRead(ctx)
		require.NoError(t, err)
		assert.Equal(t, "over", gh.Label)
		assert.Equal(t, pattern(2, 50), readAll(t, d))
		require.NoError(t, d.EndRead(ctx))
	})
}

// ============================================================================
// Size negotiation
// ============================================================================

func TestPrepareEscalatesCandidateSizes(t *testing.T) {
	ctx := context.Background()
	dev, store := vtape.NewMemory(vtape.Options{})

	wcfg := testConfig(0)
	wcfg.RecordSize = 256 << 10
	w := New(dev, nil, wcfg)
	payload := pattern(4, 300<<10)
	writeFile(t, w, "big", payload)
	require.NoError(t, w.Close(ctx))

	r := newTestDrive(t, vtape.New(store, vtape.Options{}), testConfig(3))
	require.NoError(t, r.Prepare(ctx))
	assert.Equal(t, 256<<10, r.Info().RecordSize)

	_, err := r.BeginRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, r))
	require.NoError(t, r.EndRead(ctx))
}

func TestPrepareLegacyThroughVariableDevice(t *testing.T) {
	dev, _ := vtape.NewMemory(vtape.Options{Caps: vtape.QICCaps})
	d := newTestDrive(t, dev, testConfig(0))

	err := d.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrFormat)
	assert.False(t, d.Info().Prepared)
}

func TestPrepareResetsBlockSize(t *testing.T) {
	ctx := context.Background()
	dev, _ := vtape.NewMemory(vtape.Options{BlockSize: 1024})
	d := New(dev, nil, testConfig(0))

	assert.ErrorIs(t, d.Prepare(ctx), ErrBlank)
	bs, err := dev.BlockSize()
	require.NoError(t, err)
	assert.Zero(t, bs, "variable mode while the drive is in use")
	assert.Zero(t, d.Info().DeviceBlockSize)

	require.NoError(t, d.Close(ctx))
	bs, err = dev.BlockSize()
	require.NoError(t, err)
	assert.Equal(t, 1024, bs, "original block size restored on close")
}

func TestWriteSizes(t *testing.T) {
	ctx := context.Background()

	t.Run("Legacy", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{QIC: true})
		d := newTestDrive(t, dev, testConfig(0))
		require.NoError(t, d.BeginWrite(ctx, newGlobal("qic")))
		info := d.Info()
		assert.True(t, info.QIC)
		assert.Equal(t, QICBlockSize, info.BlockSize)
		assert.Equal(t, QICRecordSize, info.RecordSize)
		assert.Equal(t, 1, info.LostRecordMax)
		_, err := d.EndWrite(ctx)
		require.NoError(t, err)
	})

	t.Run("Remote", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		d := newTestDrive(t, remoteTape{dev}, testConfig(0))
		payload := pattern(6, 200<<10)
		writeFile(t, d, "remote", payload)
		info := d.Info()
		assert.True(t, info.Remote)
		assert.Equal(t, MinPortableBlockSize, info.RecordSize)

		require.NoError(t, d.Rewind(ctx))
		_, err := d.BeginRead(ctx)
		require.NoError(t, err)
		assert.Equal(t, payload, readAll(t, d))
		require.NoError(t, d.EndRead(ctx))
	})

	t.Run("Override", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		cfg := testConfig(0)
		cfg.BlockSize = 64 << 10
		d := newTestDrive(t, dev, cfg)
		require.NoError(t, d.BeginWrite(ctx, newGlobal("override")))
		assert.Equal(t, 64<<10, d.Info().RecordSize)
		_, err := d.EndWrite(ctx)
		require.NoError(t, err)
	})

	t.Run("OverrideOutOfRange", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		cfg := testConfig(0)
		cfg.BlockSize = 4 << 20
		d := newTestDrive(t, dev, cfg)
		assert.ErrorIs(t, d.BeginWrite(ctx, newGlobal("too-big")), ErrFormat)
	})
}

// ============================================================================
// Opening
// ============================================================================

func TestOpenRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("EventuallyReady", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		dev.FailOpens(3)
		d := newTestDrive(t, dev, testConfig(0))
		assert.ErrorIs(t, d.Prepare(ctx), ErrBlank)
	})

	t.Run("NeverReady", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		dev.SetOffline(true)
		cfg := testConfig(0)
		cfg.OpenRetries = 3
		d := newTestDrive(t, dev, cfg)

		err := d.Prepare(ctx)
		assert.ErrorIs(t, err, ErrDevice)
		assert.ErrorIs(t, err, device.ErrOffline)
	})

	t.Run("StopRequested", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		sess := session.New(session.Config{MaxStreams: 1})
		sess.RequestStop()
		d := New(dev, sess, testConfig(0))
		t.Cleanup(func() { _ = d.Close(ctx) })

		assert.ErrorIs(t, d.Prepare(ctx), ErrStop)
	})

	t.Run("Cancelled", func(t *testing.T) {
		dev, _ := vtape.NewMemory(vtape.Options{})
		dev.SetOffline(true)
		cfg := testConfig(0)
		cfg.OpenRetryDelay = time.Hour
		d := newTestDrive(t, dev, cfg)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, d.Prepare(cctx), ErrStop)
	})
}
