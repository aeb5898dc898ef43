package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittotape/pkg/drive"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and then the rules that depend on the
// selected backend.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if err := validateDrive(&cfg.Drive); err != nil {
		return err
	}
	return validateBackend(cfg)
}

// formatValidationErrors joins field errors into one line naming the
// namespace and the failed tag, e.g. "Config.Logging.Level: oneof".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func validateDrive(cfg *DriveConfig) error {
	if rs := cfg.RecordSize.Int(); rs < drive.MinRecordSize || rs > drive.MaxRecordSize {
		return fmt.Errorf("drive.record_size %s out of range [%d, %d]",
			cfg.RecordSize, drive.MinRecordSize, drive.MaxRecordSize)
	}
	if bs := cfg.BlockSize.Int(); bs != 0 && bs > drive.MaxRecordSize {
		return fmt.Errorf("drive.block_size %s exceeds %d", cfg.BlockSize, drive.MaxRecordSize)
	}
	return nil
}

func validateBackend(cfg *Config) error {
	switch cfg.Drive.Backend {
	case BackendSCSI:
		if cfg.Drive.Device == "" {
			return fmt.Errorf("drive.device is required for the %s backend", BackendSCSI)
		}
	case BackendBadger:
		if cfg.VTape.Path == "" {
			return fmt.Errorf("vtape.path is required for the %s backend", BackendBadger)
		}
	case BackendS3:
		if cfg.VTape.S3.Bucket == "" {
			return fmt.Errorf("vtape.s3.bucket is required for the %s backend", BackendS3)
		}
	case BackendRemote:
		if cfg.Remote.Address == "" {
			return fmt.Errorf("remote.address is required for the %s backend", BackendRemote)
		}
	}
	return nil
}
