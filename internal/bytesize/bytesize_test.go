package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain", "512", 512, false},
		{"zero", "0", 0, false},
		{"bytes suffix", "4096B", 4096, false},
		{"kibibytes", "240Ki", 240 * 1024, false},
		{"kibibytes long", "240KiB", 240 * 1024, false},
		{"mebibytes", "1MiB", 1024 * 1024, false},
		{"mebibytes lower", "2mi", 2 * 1024 * 1024, false},
		{"decimal kilobytes", "64KB", 64000, false},
		{"space before unit", "1 MiB", 1024 * 1024, false},
		{"fraction", "1.5Ki", 1536, false},
		{"surrounding space", "  16Ki ", 16 * 1024, false},

		{"empty", "", 0, true},
		{"only unit", "MiB", 0, true},
		{"unknown unit", "3Xi", 0, true},
		{"negative", "-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, size := range []ByteSize{512, 240 * KiB, MiB, 2 * MiB, 3 * GiB, 1000} {
		text, err := size.MarshalText()
		require.NoError(t, err)

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, size, back, "text %q", text)
	}
}

func TestAlignment(t *testing.T) {
	assert.Equal(t, 4096, AlignUp(1, 4096))
	assert.Equal(t, 4096, AlignUp(4096, 4096))
	assert.Equal(t, 8192, AlignUp(4097, 4096))
	assert.Equal(t, 1024, AlignDown(1500, 512))

	assert.True(t, IsPageAligned(256*1024))
	assert.False(t, IsPageAligned(0))
	assert.False(t, IsPageAligned(240*1024+512))
	assert.True(t, IsAligned(240*1024, 512))
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.Equal(t, 2*MiB, MustParse("2MiB"))
}
