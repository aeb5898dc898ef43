package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rewindCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Rewind the tape",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTape(func(ctx context.Context, t *tape) error {
			return t.drive.Rewind(ctx)
		})
	},
}

var eodCmd = &cobra.Command{
	Use:   "eod",
	Short: "Space to end of data",
	Long: `Space past the last media file so that the next "dttape write" appends
to the tape.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTape(func(ctx context.Context, t *tape) error {
			return t.drive.SeekEndOfData(ctx)
		})
	},
}

var fsfCmd = &cobra.Command{
	Use:   "fsf [N]",
	Short: "Space forward N media files",
	Long: `Space forward over N file marks (default 1), leaving the tape at the
start of the following media file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := fileCount(args)
		if err != nil {
			return err
		}
		return withTape(func(ctx context.Context, t *tape) error {
			return t.drive.ForwardFile(ctx, n)
		})
	},
}

var bsfCmd = &cobra.Command{
	Use:   "bsf [N]",
	Short: "Space back N media files",
	Long: `Move to the start of the media file N files before the current one
(default 1). "dttape bsf 0" returns to the start of the current media file.
Spacing back over the first media file rewinds.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := fileCount(args)
		if err != nil {
			return err
		}
		return withTape(func(ctx context.Context, t *tape) error {
			return t.drive.BackFile(ctx, n)
		})
	},
}

// fileCount parses the optional count argument of fsf and bsf.
func fileCount(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid count %q: must be a non-negative integer", args[0])
	}
	return n, nil
}
