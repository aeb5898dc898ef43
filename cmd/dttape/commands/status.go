package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/cli/output"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the drive position and conditions",
	Long: `Open the configured device and show its status: the current file and
block numbers, the block size and the condition flags (BOT, EOD, file mark,
write protection, ...).

Examples:
  dttape status
  dttape status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// DeviceStatus is the status of the configured device.
type DeviceStatus struct {
	Drive     string `json:"drive" yaml:"drive"`
	FileNo    int    `json:"file_no" yaml:"file_no"`
	BlockNo   int    `json:"block_no" yaml:"block_no"`
	BlockSize int    `json:"block_size" yaml:"block_size"`
	Flags     string `json:"flags" yaml:"flags"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	return withTape(func(ctx context.Context, t *tape) error {
		st, err := t.drive.Status(ctx)
		if err != nil {
			return err
		}
		status := DeviceStatus{
			Drive:     t.drive.Name(),
			FileNo:    st.FileNo,
			BlockNo:   st.BlockNo,
			BlockSize: st.BlockSize,
			Flags:     st.Flags.String(),
		}

		printer := output.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, false)
		if format != output.FormatTable {
			return printer.Print(status)
		}
		blockSize := "variable"
		if status.BlockSize > 0 {
			blockSize = fmt.Sprint(status.BlockSize)
		}
		kv := &output.KeyValues{}
		kv.Add("Drive", status.Drive).
			Add("File", status.FileNo).
			Add("Block", status.BlockNo).
			Add("Block size", blockSize).
			Add("Flags", status.Flags)
		return printer.Print(kv)
	})
}
