package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/cli/output"
	"github.com/marmos91/dittotape/pkg/drive"
)

var probeOutput string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Identify the tape and the drive",
	Long: `Prepare the drive and report what was found.

The drive capabilities and block size are detected and the first record
at the current position is examined. The verdict is one of:

  ok         a dttape media file starts here
  blank      the tape holds no data
  foreign    the data was not written by dttape
  overwrite  detection skipped because drive.overwrite is set
  version    written by an incompatible dttape version
  corruption the global header is damaged

Examples:
  dttape probe
  dttape probe --output json`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// DriveReport describes a prepared drive and the media file it is
// positioned at.
type DriveReport struct {
	Name            string    `json:"name" yaml:"name"`
	Capabilities    string    `json:"capabilities" yaml:"capabilities"`
	Remote          bool      `json:"remote" yaml:"remote"`
	QIC             bool      `json:"qic" yaml:"qic"`
	DeviceBlockSize int       `json:"device_block_size" yaml:"device_block_size"`
	BlockSize       int       `json:"block_size" yaml:"block_size"`
	RecordSize      int       `json:"record_size" yaml:"record_size"`
	LostRecordMax   int       `json:"lost_record_max" yaml:"lost_record_max"`
	PipelineLength  int       `json:"pipeline_length" yaml:"pipeline_length"`
	Verdict         string    `json:"verdict" yaml:"verdict"`
	DumpID          string    `json:"dump_id,omitempty" yaml:"dump_id,omitempty"`
	Label           string    `json:"label,omitempty" yaml:"label,omitempty"`
	Hostname        string    `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Written         time.Time `json:"written,omitzero" yaml:"written,omitempty"`
}

func newDriveReport(info drive.Info) *DriveReport {
	r := &DriveReport{
		Name:            info.Name,
		Capabilities:    info.Caps.String(),
		Remote:          info.Remote,
		QIC:             info.QIC,
		DeviceBlockSize: info.DeviceBlockSize,
		BlockSize:       info.BlockSize,
		RecordSize:      info.RecordSize,
		LostRecordMax:   info.LostRecordMax,
		PipelineLength:  info.PipelineLength,
		Verdict:         info.Verdict,
	}
	if gh := info.Global; gh != nil {
		r.DumpID = gh.DumpID.String()
		r.Label = gh.Label
		r.Hostname = gh.Hostname
		r.Written = gh.Timestamp
	}
	return r
}

func (r *DriveReport) keyValues() *output.KeyValues {
	kv := &output.KeyValues{}
	kv.Add("Drive", r.Name).
		Add("Capabilities", r.Capabilities).
		Add("Remote", r.Remote).
		Add("QIC", r.QIC).
		Add("Device block size", r.DeviceBlockSize).
		Add("Block size", r.BlockSize).
		Add("Record size", r.RecordSize).
		Add("Lost record max", r.LostRecordMax).
		Add("Pipeline length", r.PipelineLength).
		Add("Verdict", r.Verdict)
	if r.DumpID != "" {
		kv.Add("Dump ID", r.DumpID).
			Add("Label", r.Label).
			Add("Hostname", r.Hostname).
			Add("Written", r.Written.Format(time.RFC3339))
	}
	return kv
}

func runProbe(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(probeOutput)
	if err != nil {
		return err
	}

	return withTape(func(ctx context.Context, t *tape) error {
		if err := t.drive.Prepare(ctx); err != nil && !drive.IsVerdict(err) {
			return err
		}
		report := newDriveReport(t.drive.Info())

		printer := output.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, false)
		if format == output.FormatTable {
			return printer.Print(report.keyValues())
		}
		return printer.Print(report)
	})
}
