package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/bytesize"
	"github.com/marmos91/dittotape/internal/cli/output"
	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/drive"
	"github.com/marmos91/dittotape/pkg/media"
)

var (
	writeLabel     string
	writeMarkEvery string
	writeAppend    bool
	writeOutput    string
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write standard input to tape as one media file",
	Long: `Write standard input to the tape as one media file.

The data is cut into records, each carrying a header that names the dump
and its position, and the media file is terminated by a file mark. With
--mark-every a mark is set at regular payload intervals; the marks that
reached the tape can later be handed to "dttape read --seek".

When the write fails part way, dttape reports how many bytes of the media
file are guaranteed to be on tape and which marks were lost.

Examples:
  # Archive a directory
  tar -cf - /home | dttape write --label home

  # Append after the last media file with a mark every 64MiB
  tar -cf - /srv | dttape write --append --mark-every 64MiB`,
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVarP(&writeLabel, "label", "l", "", "Label stored in the global header")
	writeCmd.Flags().StringVar(&writeMarkEvery, "mark-every", "", "Set a mark every SIZE of payload (e.g. 64MiB)")
	writeCmd.Flags().BoolVar(&writeAppend, "append", false, "Space to end of data before writing")
	writeCmd.Flags().StringVarP(&writeOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// WriteResult is the outcome of a write.
type WriteResult struct {
	DumpID    string        `json:"dump_id" yaml:"dump_id"`
	Label     string        `json:"label,omitempty" yaml:"label,omitempty"`
	Payload   int64         `json:"payload_bytes" yaml:"payload_bytes"`
	Committed int64         `json:"committed_bytes" yaml:"committed_bytes"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Marks     []MarkOutcome `json:"marks,omitempty" yaml:"marks,omitempty"`
}

// MarkOutcome reports one mark set during a write.
type MarkOutcome struct {
	Offset    int64 `json:"offset" yaml:"offset"`
	Payload   int64 `json:"payload_offset" yaml:"payload_offset"`
	Committed bool  `json:"committed" yaml:"committed"`
}

func (r *WriteResult) Headers() []string {
	return []string{"OFFSET", "PAYLOAD OFFSET", "STATE"}
}

func (r *WriteResult) Rows() [][]string {
	rows := make([][]string, 0, len(r.Marks))
	for _, m := range r.Marks {
		state := "discarded"
		if m.Committed {
			state = "committed"
		}
		rows = append(rows, []string{fmt.Sprint(m.Offset), fmt.Sprint(m.Payload), state})
	}
	return rows
}

func runWrite(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(writeOutput)
	if err != nil {
		return err
	}
	var markEvery bytesize.ByteSize
	if writeMarkEvery != "" {
		if markEvery, err = bytesize.Parse(writeMarkEvery); err != nil {
			return fmt.Errorf("invalid --mark-every: %w", err)
		}
	}
	if len(writeLabel) > media.MaxLabelLen {
		return fmt.Errorf("label longer than %d bytes", media.MaxLabelLen)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if len(hostname) > media.MaxHostnameLen {
		hostname = hostname[:media.MaxHostnameLen]
	}

	var result *WriteResult
	err = withTape(func(ctx context.Context, t *tape) error {
		if writeAppend {
			if err := t.drive.SeekEndOfData(ctx); err != nil {
				return err
			}
		}
		gh := media.NewGlobalHeader(uuid.New(), hostname, writeLabel)
		result, err = writeStream(ctx, t.drive, gh, cmd.InOrStdin(), markEvery.Int64())
		return err
	})
	if result == nil {
		return err
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, false)
	printer.Infof("Dump %s: %d payload bytes, %d bytes committed", result.DumpID, result.Payload, result.Committed)
	if format != output.FormatTable || len(result.Marks) > 0 {
		if perr := printer.Print(result); perr != nil {
			return perr
		}
	}
	return err
}

// writeStream copies r into one media file, filling the engine's record
// buffers in place. A mark is set before the first byte of every
// markEvery-sized stretch of payload when markEvery is positive.
func writeStream(ctx context.Context, d *drive.Drive, gh *media.GlobalHeader, r io.Reader, markEvery int64) (*WriteResult, error) {
	if err := d.BeginWrite(ctx, gh); err != nil {
		return nil, err
	}

	result := &WriteResult{DumpID: gh.DumpID.String(), Label: gh.Label}
	var mu sync.Mutex
	settled := make(map[*drive.Mark]bool)
	onMark := func(m *drive.Mark, committed bool) {
		mu.Lock()
		settled[m] = committed
		mu.Unlock()
	}

	var marks []*drive.Mark
	nextMark := int64(0)
	chunk := d.Info().RecordSize

	var copyErr error
	for {
		if markEvery > 0 && result.Payload >= nextMark {
			m, err := d.SetMark(onMark, result.Payload)
			if err != nil {
				copyErr = err
				break
			}
			marks = append(marks, m)
			nextMark = result.Payload + markEvery
		}

		want := chunk
		if markEvery > 0 && nextMark-result.Payload < int64(want) {
			want = int(nextMark - result.Payload)
		}
		buf, err := d.GetWriteBuffer(want)
		if err != nil {
			copyErr = err
			break
		}
		n, rerr := io.ReadFull(r, buf)
		if err := d.Write(buf[:n]); err != nil {
			copyErr = err
			break
		}
		result.Payload += int64(n)
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			copyErr = fmt.Errorf("read input: %w", rerr)
			break
		}
	}

	committed, endErr := d.EndWrite(ctx)
	result.Committed = committed

	mu.Lock()
	for _, m := range marks {
		result.Marks = append(result.Marks, MarkOutcome{
			Offset:    m.Offset,
			Payload:   m.Arg.(int64),
			Committed: settled[m],
		})
	}
	mu.Unlock()

	err := errors.Join(copyErr, endErr)
	if err != nil {
		result.Error = err.Error()
		logger.Error("Write failed",
			logger.KeyDumpID, result.DumpID,
			logger.KeyCommitted, committed,
			logger.KeyError, err)
	}
	return result, err
}
