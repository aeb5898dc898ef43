package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  yaml  ", want: FormatYAML},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type status struct {
	Name  string `json:"name" yaml:"name"`
	Files int    `json:"files" yaml:"files"`
}

func (s status) Headers() []string { return []string{"Name", "Files"} }
func (s status) Rows() [][]string  { return [][]string{{s.Name, "3"}} }

func TestPrinterFormats(t *testing.T) {
	v := status{Name: "nst0", Files: 3}

	t.Run("Table", func(t *testing.T) {
		var data, msg bytes.Buffer
		require.NoError(t, NewPrinter(&data, &msg, FormatTable, false).Print(v))
		assert.Contains(t, data.String(), "NAME")
		assert.Contains(t, data.String(), "nst0")
		assert.Empty(t, msg.String())
	})

	t.Run("JSON", func(t *testing.T) {
		var data, msg bytes.Buffer
		require.NoError(t, NewPrinter(&data, &msg, FormatJSON, false).Print(v))
		assert.JSONEq(t, `{"name":"nst0","files":3}`, data.String())
	})

	t.Run("YAML", func(t *testing.T) {
		var data, msg bytes.Buffer
		require.NoError(t, NewPrinter(&data, &msg, FormatYAML, false).Print(v))
		assert.Equal(t, "name: nst0\nfiles: 3\n", data.String())
	})

	t.Run("TableFallsBackToJSON", func(t *testing.T) {
		var data, msg bytes.Buffer
		require.NoError(t, NewPrinter(&data, &msg, FormatTable, false).Print(map[string]int{"files": 3}))
		assert.JSONEq(t, `{"files":3}`, data.String())
	})
}

func TestPrinterMessagesGoToMessageWriter(t *testing.T) {
	var data, msg bytes.Buffer
	p := NewPrinter(&data, &msg, FormatTable, false)

	p.Success("written")
	p.Warning("near end of media")
	p.Error("failed")
	p.Infof("%d files", 3)

	assert.Empty(t, data.String())
	assert.Equal(t, "written\nnear end of media\nfailed\n3 files\n", msg.String())
}

func TestPrinterColor(t *testing.T) {
	var data, msg bytes.Buffer
	NewPrinter(&data, &msg, FormatTable, true).Success("ok")
	assert.Equal(t, "\033[32mok\033[0m\n", msg.String())
}
