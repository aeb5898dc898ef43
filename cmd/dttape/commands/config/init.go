package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a dttape configuration file holding the defaults.

By default, the file is created at $XDG_CONFIG_HOME/dittotape/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dttape config init

  # Initialize with custom path
  dttape config init --config /etc/dittotape/config.yaml

  # Force overwrite existing config
  dttape config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set drive.backend and the matching device, vtape or remote section")
	_, _ = fmt.Fprintln(out, "  2. Check the drive with: dttape probe")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: dttape probe --config %s\n", configPath)
	return nil
}
