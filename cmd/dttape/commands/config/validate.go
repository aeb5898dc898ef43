package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dttape configuration file.

Checks for syntax errors, values out of range and settings the selected
backend needs but lacks.

Examples:
  dttape config validate
  dttape config validate --config /etc/dittotape/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Backend:         %s\n", cfg.Drive.Backend)
	_, _ = fmt.Fprintf(out, "  Record size:     %s\n", cfg.Drive.RecordSize)
	_, _ = fmt.Fprintf(out, "  Pipeline length: %d\n", cfg.Drive.PipelineLength)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

// warnings lists settings that are valid but probably not intended.
func warnings(cfg *config.Config) []string {
	var w []string
	if cfg.Drive.Backend == config.BackendVTape {
		w = append(w, "vtape backend keeps the tape in memory; it is lost when dttape exits")
	}
	if cfg.Drive.PipelineLength == 0 {
		w = append(w, "drive.pipeline_length is 0: tape I/O runs synchronously")
	}
	if !cfg.Drive.Checksum {
		w = append(w, "drive.checksum is off: payload corruption goes undetected")
	}
	if cfg.Drive.Overwrite {
		w = append(w, "drive.overwrite is on: writes start at the beginning of the tape")
	}
	return w
}
