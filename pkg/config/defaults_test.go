package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittotape/internal/bytesize"
	"github.com/marmos91/dittotape/internal/telemetry"
	"github.com/marmos91/dittotape/pkg/drive"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Equal(t, "http://localhost:4040", cfg.Telemetry.Profiling.Endpoint)
	assert.Equal(t, telemetry.DefaultProfileTypes, cfg.Telemetry.Profiling.ProfileTypes)

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 4, cfg.Session.MaxStreams)

	assert.Equal(t, "/dev/nst0", cfg.Drive.Device)
	assert.Equal(t, bytesize.ByteSize(drive.DefaultRecordSize), cfg.Drive.RecordSize)
	assert.Zero(t, cfg.Drive.BlockSize)
	assert.Equal(t, 3, cfg.Drive.PipelineLength)
	assert.True(t, cfg.Drive.Checksum)
	assert.False(t, cfg.Drive.Overwrite)
	assert.Equal(t, 2*time.Second, cfg.Drive.OpenRetryDelay)
	assert.Equal(t, 100, cfg.Drive.ResyncAttempts)

	assert.Equal(t, "./vtape", cfg.VTape.Path)
	assert.Equal(t, "default", cfg.VTape.Volume)
	assert.Equal(t, 2*bytesize.MiB, cfg.VTape.MaxRecord)

	assert.Equal(t, "localhost:7070", cfg.Remote.Address)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, ":7070", cfg.Server.Listen)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: true},
		Drive: DriveConfig{
			Backend:     "VTAPE",
			RecordSize:  64 * bytesize.KiB,
			OpenRetries: 2,
		},
		Remote: RemoteConfig{Timeout: time.Second},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to upper case")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 9090, cfg.Metrics.Port, "enabled metrics get a port")
	assert.Equal(t, BackendVTape, cfg.Drive.Backend)
	assert.Empty(t, cfg.Drive.Device, "only the scsi backend gets a device node")
	assert.Equal(t, 64*bytesize.KiB, cfg.Drive.RecordSize)
	assert.Equal(t, 2, cfg.Drive.OpenRetries)
	assert.Equal(t, 5, cfg.Drive.StatusRetries)
	assert.Equal(t, time.Second, cfg.Remote.Timeout)
}

func TestApplyDefaultsMetricsDisabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Zero(t, cfg.Metrics.Port)
}
