package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittotape configuration file
#
# Every key can be overridden with an environment variable named after its
# path, e.g. DTTAPE_DRIVE_DEVICE=/dev/nst1 or DTTAPE_LOGGING_LEVEL=DEBUG.
# Sizes accept plain byte counts or units such as 240KiB and 1MiB.
#
# Backends:
#   scsi    a real tape drive through the st driver (drive.device)
#   vtape   an in-memory virtual tape, lost on exit
#   badger  a virtual tape persisted in a BadgerDB directory (vtape.path)
#   s3      a virtual tape stored as S3 objects (vtape.s3)
#   remote  a tape exported by "dttape serve" (remote.address)

`

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	body, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	return writeConfigFile(path, append([]byte(configHeader), body...))
}
