package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittotape/internal/bytesize"
	"github.com/marmos91/dittotape/internal/telemetry"
	"github.com/marmos91/dittotape/pkg/drive"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", nil) are replaced with defaults; explicit values are
// preserved. Booleans are left alone: their defaults are registered with
// viper before the file is read (see bindDefaults).
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applySessionDefaults(&cfg.Session)
	applyDriveDefaults(&cfg.Drive)
	applyVTapeDefaults(&cfg.VTape)
	applyRemoteDefaults(&cfg.Remote)
	applyServerDefaults(&cfg.Server)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = append([]string(nil), telemetry.DefaultProfileTypes...)
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MaxStreams == 0 {
		cfg.MaxStreams = 4
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyDriveDefaults takes the engine's own defaults so that both stay in
// step.
func applyDriveDefaults(cfg *DriveConfig) {
	d := drive.DefaultConfig()

	if cfg.Backend == "" {
		cfg.Backend = BackendSCSI
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	if cfg.Device == "" && cfg.Backend == BackendSCSI {
		cfg.Device = "/dev/nst0"
	}
	if cfg.RecordSize == 0 {
		cfg.RecordSize = bytesize.ByteSize(d.RecordSize)
	}
	if cfg.OpenRetries == 0 {
		cfg.OpenRetries = d.OpenRetries
	}
	if cfg.OpenRetryDelay == 0 {
		cfg.OpenRetryDelay = d.OpenRetryDelay
	}
	if cfg.StatusRetries == 0 {
		cfg.StatusRetries = d.StatusRetries
	}
	if cfg.StatusRetryDelay == 0 {
		cfg.StatusRetryDelay = d.StatusRetryDelay
	}
	if cfg.ResyncAttempts == 0 {
		cfg.ResyncAttempts = d.ResyncAttempts
	}
	if cfg.MaxSizeCandidates == 0 {
		cfg.MaxSizeCandidates = d.MaxSizeCandidates
	}
}

func applyVTapeDefaults(cfg *VTapeConfig) {
	if cfg.Path == "" {
		cfg.Path = "./vtape"
	}
	if cfg.Volume == "" {
		cfg.Volume = "default"
	}
	if cfg.MaxRecord == 0 {
		cfg.MaxRecord = bytesize.ByteSize(drive.MaxRecordSize)
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Address == "" {
		cfg.Address = "localhost:7070"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":7070"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Used to generate sample configuration files, in tests and as the base
// viper defaults.
func GetDefaultConfig() *Config {
	d := drive.DefaultConfig()
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Insecure: true,
		},
		Drive: DriveConfig{
			PipelineLength:   d.PipelineLength,
			Checksum:         d.Checksum,
			RestoreBlockSize: d.RestoreBlockSize,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
