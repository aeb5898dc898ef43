package output

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that render as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes r as a borderless, left aligned table.
func PrintTable(w io.Writer, r TableRenderer) error {
	table := newTable(w, "")
	if h := r.Headers(); len(h) > 0 {
		table.SetHeader(h)
		table.SetAutoFormatHeaders(true)
	}
	table.AppendBulk(r.Rows())
	table.Render()
	return nil
}

func newTable(w io.Writer, sep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(sep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// Table is an ad-hoc TableRenderer.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row; values are formatted with %v.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }

// KeyValues is a two column "key: value" listing such as a drive
// description. It renders without headers.
type KeyValues struct {
	pairs [][]string
}

// Add appends one pair.
func (kv *KeyValues) Add(key string, value any) *KeyValues {
	kv.pairs = append(kv.pairs, []string{key, fmt.Sprint(value)})
	return kv
}

func (kv *KeyValues) Headers() []string { return nil }
func (kv *KeyValues) Rows() [][]string  { return kv.pairs }

// PrintKeyValues writes kv with a colon column separator.
func PrintKeyValues(w io.Writer, kv *KeyValues) error {
	table := newTable(w, ":")
	table.AppendBulk(kv.pairs)
	table.Render()
	return nil
}

// Uptime renders d as "3d 0h 30m 15s", dropping leading zero units.
func Uptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
