package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittotape/pkg/device/vtape"
	"github.com/marmos91/dittotape/pkg/drive"
	"github.com/marmos91/dittotape/pkg/media"
)

func newMemoryDrive(t *testing.T, pipeline int) *drive.Drive {
	t.Helper()
	dev, _ := vtape.NewMemory(vtape.Options{})
	cfg := drive.DefaultConfig()
	cfg.RecordSize = drive.MinRecordSize
	cfg.PipelineLength = pipeline
	cfg.OpenRetryDelay = time.Millisecond
	cfg.StatusRetryDelay = time.Millisecond
	d := drive.New(dev, nil, cfg)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13) ^ byte(i>>8)
	}
	return b
}

// ============================================================================
// write / read
// ============================================================================

func TestWriteReadStream(t *testing.T) {
	for _, pipeline := range []int{0, 3} {
		t.Run(map[int]string{0: "sync", 3: "pipelined"}[pipeline], func(t *testing.T) {
			d := newMemoryDrive(t, pipeline)
			ctx := context.Background()
			data := payload(5*drive.MinRecordSize + 321)

			gh := media.NewGlobalHeader(uuid.New(), "host", "stream")
			res, err := writeStream(ctx, d, gh, bytes.NewReader(data), 20000)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), res.Payload)
			assert.Greater(t, res.Committed, int64(len(data)))
			assert.Empty(t, res.Error)

			require.NotEmpty(t, res.Marks)
			for i, m := range res.Marks {
				assert.True(t, m.Committed)
				assert.Equal(t, int64(i)*20000, m.Payload)
			}

			require.NoError(t, d.Rewind(ctx))
			got, err := d.BeginRead(ctx)
			require.NoError(t, err)
			assert.Equal(t, "stream", got.Label)
			assert.Equal(t, gh.DumpID, got.DumpID)

			var out bytes.Buffer
			n, err := readStream(ctx, d, &out, 0, false)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), n)
			assert.Equal(t, data, out.Bytes())
			require.NoError(t, d.EndRead(ctx))
		})
	}
}

func TestReadStreamSeek(t *testing.T) {
	d := newMemoryDrive(t, 3)
	ctx := context.Background()
	data := payload(4 * drive.MinRecordSize)

	res, err := writeStream(ctx, d, media.NewGlobalHeader(uuid.New(), "host", ""), bytes.NewReader(data), 10000)
	require.NoError(t, err)
	require.Greater(t, len(res.Marks), 3)
	mark := res.Marks[3]

	require.NoError(t, d.Rewind(ctx))
	_, err = d.BeginRead(ctx)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = readStream(ctx, d, &out, mark.Offset, false)
	require.NoError(t, err)
	assert.Equal(t, data[mark.Payload:], out.Bytes())
	require.NoError(t, d.EndRead(ctx))
}

func TestWriteStreamWithoutMarks(t *testing.T) {
	d := newMemoryDrive(t, 0)
	res, err := writeStream(context.Background(), d,
		media.NewGlobalHeader(uuid.New(), "host", "plain"), strings.NewReader("hello tape"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Payload)
	assert.Empty(t, res.Marks)
	assert.Empty(t, res.Rows())
}

func TestWriteResultRows(t *testing.T) {
	res := &WriteResult{Marks: []MarkOutcome{
		{Offset: 100, Payload: 0, Committed: true},
		{Offset: 9000, Payload: 8000, Committed: false},
	}}
	assert.Equal(t, []string{"OFFSET", "PAYLOAD OFFSET", "STATE"}, res.Headers())
	assert.Equal(t, [][]string{
		{"100", "0", "committed"},
		{"9000", "8000", "discarded"},
	}, res.Rows())
}

// ============================================================================
// probe / positioning
// ============================================================================

func TestDriveReport(t *testing.T) {
	gh := media.NewGlobalHeader(uuid.New(), "host", "weekly")
	r := newDriveReport(drive.Info{
		Name:       "vtape:memory",
		RecordSize: drive.DefaultRecordSize,
		Verdict:    "ok",
		Global:     gh,
	})
	assert.Equal(t, "vtape:memory", r.Name)
	assert.Equal(t, gh.DumpID.String(), r.DumpID)
	assert.Equal(t, "weekly", r.Label)
	assert.Len(t, r.keyValues().Rows(), 14)

	blank := newDriveReport(drive.Info{Name: "vtape:memory", Verdict: "blank"})
	assert.Empty(t, blank.DumpID)
	assert.Len(t, blank.keyValues().Rows(), 10)
}

func TestFileCount(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{"Default", nil, 1, false},
		{"Explicit", []string{"3"}, 3, false},
		{"Zero", []string{"0"}, 0, false},
		{"Negative", []string{"-1"}, 0, true},
		{"NotANumber", []string{"x"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := fileCount(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

// ============================================================================
// health
// ============================================================================

func TestCheckHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			_, _ = w.Write([]byte(`{"status":"healthy","data":{"service":"dttape","started_at":"2026-01-01T00:00:00Z","uptime":"1h1m5s","uptime_sec":3665}}`))
		}))
		defer srv.Close()

		st := checkHealth(srv.Client(), strings.TrimPrefix(srv.URL, "http://"))
		assert.True(t, st.Healthy)
		assert.Equal(t, "dttape", st.Service)
		assert.Equal(t, "1h 1m 5s", st.Uptime)
	})

	t.Run("Invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		st := checkHealth(srv.Client(), strings.TrimPrefix(srv.URL, "http://"))
		assert.False(t, st.Healthy)
		assert.Contains(t, st.Message, "invalid")
	})

	t.Run("NotRunning", func(t *testing.T) {
		st := checkHealth(&http.Client{Timeout: 100 * time.Millisecond}, "127.0.0.1:1")
		assert.False(t, st.Healthy)
		assert.Equal(t, "not running", st.Message)
	})
}

// ============================================================================
// command tree
// ============================================================================

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"write", "read", "probe", "status", "rewind", "eod", "fsf", "bsf", "erase", "serve", "health", "config", "version", "completion"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, GetRootCmd().PersistentFlags().Lookup("config"))
	assert.NotNil(t, GetRootCmd().PersistentFlags().Lookup("log-level"))
}
