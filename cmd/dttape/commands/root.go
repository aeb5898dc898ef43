// Package commands implements the dttape command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/cmd/dttape/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dttape",
	Short: "dttape - pipelined tape I/O",
	Long: `dttape streams data to and from sequential tape drives.

Data is cut into self-describing records so that a tape can be read back
without knowing how it was written, damaged records are detected, and
reading can resume at marks recorded while writing. Besides SCSI tape
drives, dttape can drive virtual tapes kept in memory, in a badger
database or in an S3 bucket, and tape drives exported by "dttape serve"
on another host.

Use "dttape [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittotape/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rewindCmd)
	rootCmd.AddCommand(eodCmd)
	rootCmd.AddCommand(fsfCmd)
	rootCmd.AddCommand(bsfCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
