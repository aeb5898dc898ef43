package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/device/vtape"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	layout, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, layout.Files)

	require.NoError(t, s.Put(ctx, "F1", 0, []byte("alpha")))
	require.NoError(t, s.Put(ctx, "F1", 1, []byte("beta")))
	require.NoError(t, s.Put(ctx, "F2", 0, []byte("gamma")))

	got, err := s.Get(ctx, "F1", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), got)

	_, err = s.Get(ctx, "F1", 2)
	assert.ErrorIs(t, err, vtape.ErrNotFound)

	want := vtape.Layout{Files: []vtape.File{{ID: "F2", Records: 1, Closed: true}}}
	require.NoError(t, s.Commit(ctx, want, []vtape.File{{ID: "F1", Records: 2}}))

	layout, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, layout)

	_, err = s.Get(ctx, "F1", 0)
	assert.ErrorIs(t, err, vtape.ErrNotFound)
	_, err = s.Get(ctx, "F2", 0)
	assert.NoError(t, err)
}

func TestTapeSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	d := vtape.New(s, vtape.Options{Name: "persist"})
	require.NoError(t, d.Open(ctx))
	_, err = d.Write([]byte("record one"))
	require.NoError(t, err)
	require.NoError(t, d.Do(device.OpWriteFileMark, 1))
	require.NoError(t, d.Close())
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	d = vtape.New(s, vtape.Options{Name: "persist"})
	require.NoError(t, d.Open(ctx))
	defer d.Close()

	buf := make([]byte, 64)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "record one", string(buf[:n]))
	n, err = d.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}
