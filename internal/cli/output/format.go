// Package output renders dttape command results.
//
// Results go to the data writer (stdout); progress and diagnostics go to
// the message writer (stderr) so that "dttape read" can stream an archive
// to stdout without interleaving.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a result encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json, yaml and yml, case-insensitively. An
// empty string selects table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
}

func (f Format) String() string { return string(f) }

// Printer writes results and messages.
type Printer struct {
	data   io.Writer
	msg    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a printer. Colour is applied to messages only.
func NewPrinter(data, msg io.Writer, format Format, color bool) *Printer {
	return &Printer{data: data, msg: msg, format: format, color: color}
}

// DefaultPrinter writes tables to stdout and messages to stderr, coloured
// when stderr is a terminal.
func DefaultPrinter(format Format) *Printer {
	return NewPrinter(os.Stdout, os.Stderr, format, isTerminal(os.Stderr))
}

func (p *Printer) Format() Format { return p.format }

// Print renders v. In table format v must implement TableRenderer;
// anything else falls back to JSON.
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatTable:
		if kv, ok := v.(*KeyValues); ok {
			return PrintKeyValues(p.data, kv)
		}
		if r, ok := v.(TableRenderer); ok {
			return PrintTable(p.data, r)
		}
		return PrintJSON(p.data, v)
	case FormatJSON:
		return PrintJSON(p.data, v)
	case FormatYAML:
		return PrintYAML(p.data, v)
	}
	return fmt.Errorf("unknown format: %s", p.format)
}

// Infof writes an uncoloured message line.
func (p *Printer) Infof(format string, args ...any) {
	p.message("", fmt.Sprintf(format, args...))
}

func (p *Printer) Success(msg string) { p.message("\033[32m", msg) }
func (p *Printer) Warning(msg string) { p.message("\033[33m", msg) }
func (p *Printer) Error(msg string)   { p.message("\033[31m", msg) }

func (p *Printer) message(color, msg string) {
	if p.color && color != "" {
		_, _ = fmt.Fprintf(p.msg, "%s%s\033[0m\n", color, msg)
		return
	}
	_, _ = fmt.Fprintln(p.msg, msg)
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintYAML writes v as YAML with two-space indentation.
func PrintYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
