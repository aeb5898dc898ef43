package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/drive"
)

var (
	readSeek   int64
	readResync bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read one media file from tape to standard output",
	Long: `Read the media file at the current tape position to standard output.

The global header is checked and reported on standard error. With --seek,
reading starts at a mark offset reported by "dttape write". With --resync,
a damaged record does not end the read: dttape skips to the next record
carrying a mark and carries on from there, so the output has a gap.

Examples:
  # Restore an archive
  dttape read | tar -xf -

  # Resume at a mark
  dttape read --seek 134217984 > tail.bin`,
	RunE: runRead,
}

func init() {
	readCmd.Flags().Int64Var(&readSeek, "seek", 0, "Start at this mark offset")
	readCmd.Flags().BoolVar(&readResync, "resync", false, "Skip damaged records up to the next mark instead of failing")
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Standard output carries the data.
	if strings.EqualFold(cfg.Logging.Output, "stdout") {
		cfg.Logging.Output = "stderr"
	}

	return withTapeConfig(cfg, func(ctx context.Context, t *tape) error {
		gh, err := t.drive.BeginRead(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Dump %s label=%q host=%s written %s\n",
			gh.DumpID, gh.Label, gh.Hostname, gh.Timestamp.Format("2006-01-02 15:04:05"))

		n, err := readStream(ctx, t.drive, cmd.OutOrStdout(), readSeek, readResync)
		if eerr := t.drive.EndRead(ctx); eerr != nil && err == nil {
			err = eerr
		}
		logger.Debug("Read finished", logger.KeyBytes, n)
		return err
	})
}

// readStream copies the open media file to w until its terminating file
// mark. It returns the number of payload bytes copied.
func readStream(ctx context.Context, d *drive.Drive, w io.Writer, seek int64, resync bool) (int64, error) {
	if seek > 0 {
		if err := d.SeekMark(ctx, seek); err != nil {
			return 0, err
		}
	}

	chunk := d.Info().RecordSize
	var total int64
	for {
		buf, err := d.Read(chunk)
		switch {
		case errors.Is(err, drive.ErrEndOfFile), errors.Is(err, drive.ErrEndOfData):
			return total, nil
		case err != nil && resync && errors.Is(err, drive.ErrCorruption):
			logger.Warn("Damaged record, resynchronising", logger.KeyBytes, total, logger.KeyError, err)
			if err := d.NextMark(ctx); err != nil {
				if errors.Is(err, drive.ErrEndOfFile) {
					return total, nil
				}
				return total, err
			}
			continue
		case err != nil:
			return total, err
		}

		n, werr := w.Write(buf)
		total += int64(n)
		if rerr := d.ReturnReadBuffer(buf); rerr != nil {
			return total, rerr
		}
		if werr != nil {
			return total, fmt.Errorf("write output: %w", werr)
		}
	}
}
