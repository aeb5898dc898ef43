package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittotape/internal/bytesize"
)

// EnvPrefix is the prefix of every environment override, e.g.
// DTTAPE_DRIVE_DEVICE=/dev/nst1.
const EnvPrefix = "DTTAPE"

// Config represents the dittotape configuration.
//
// The configuration is consumed once when a command starts: it selects the
// device backend, sizes the session and tunes the drive engine.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DTTAPE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Session sizes the worker pool and bounds shutdown
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Drive selects the device and tunes the drive engine
	Drive DriveConfig `mapstructure:"drive" yaml:"drive"`

	// VTape configures the virtual tape backends (vtape, badger, s3)
	VTape VTapeConfig `mapstructure:"vtape" yaml:"vtape"`

	// Remote configures the client side of the remote tape protocol
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Server configures "dttape serve"
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file
	// path. Defaults to stderr so that "dttape read" can stream to stdout.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /health
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SessionConfig sizes the per-run session.
type SessionConfig struct {
	// MaxStreams is the number of concurrent streams; the worker pool
	// holds two workers per stream.
	MaxStreams int `mapstructure:"max_streams" validate:"min=1,max=64" yaml:"max_streams"`

	// ShutdownTimeout is how long workers get to exit after a stop request
	// before they are killed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// Backend names.
const (
	BackendSCSI   = "scsi"
	BackendVTape  = "vtape"
	BackendBadger = "badger"
	BackendS3     = "s3"
	BackendRemote = "remote"
)

// DriveConfig selects the tape device and tunes the drive engine.
type DriveConfig struct {
	// Device is the non-rewinding device node for the scsi backend.
	Device string `mapstructure:"device" yaml:"device"`

	// Backend selects the device implementation.
	Backend string `mapstructure:"backend" validate:"required,oneof=scsi vtape badger s3 remote" yaml:"backend"`

	// BlockSize overrides block and record size when writing; 0 negotiates.
	BlockSize bytesize.ByteSize `mapstructure:"block_size" jsonschema:"oneof_type=string;integer" yaml:"block_size"`

	// RecordSize is the preferred record size when writing.
	RecordSize bytesize.ByteSize `mapstructure:"record_size" jsonschema:"oneof_type=string;integer" yaml:"record_size"`

	// PipelineLength is the number of read-ahead/write-behind buffers;
	// 0 performs device I/O on the caller's goroutine.
	PipelineLength int `mapstructure:"pipeline_length" validate:"min=0,max=64" yaml:"pipeline_length"`

	// PinBuffers locks pipeline buffers in memory (best effort).
	PinBuffers bool `mapstructure:"pin_buffers" yaml:"pin_buffers"`

	// Checksum stamps every data record with a checksum.
	Checksum bool `mapstructure:"checksum" yaml:"checksum"`

	// Unload takes the medium offline when the drive is closed.
	Unload bool `mapstructure:"unload" yaml:"unload"`

	// Overwrite skips medium detection before writing.
	Overwrite bool `mapstructure:"overwrite" yaml:"overwrite"`

	// LegacyQIC forces the fixed 512-byte block variant.
	LegacyQIC bool `mapstructure:"legacy_qic" yaml:"legacy_qic"`

	// LostRecordMax is the number of trailing records that may be lost
	// silently near end of media; 0 selects the variant default.
	LostRecordMax int `mapstructure:"lost_record_max" validate:"min=0,max=16" yaml:"lost_record_max"`

	// RestoreBlockSize puts the drive's original block size back on close.
	RestoreBlockSize bool `mapstructure:"restore_block_size" yaml:"restore_block_size"`

	OpenRetries      int           `mapstructure:"open_retries" validate:"min=1" yaml:"open_retries"`
	OpenRetryDelay   time.Duration `mapstructure:"open_retry_delay" validate:"min=0" yaml:"open_retry_delay"`
	StatusRetries    int           `mapstructure:"status_retries" validate:"min=1" yaml:"status_retries"`
	StatusRetryDelay time.Duration `mapstructure:"status_retry_delay" validate:"min=0" yaml:"status_retry_delay"`

	// ResyncAttempts bounds the records examined while resynchronising
	// after corruption.
	ResyncAttempts int `mapstructure:"resync_attempts" validate:"min=1" yaml:"resync_attempts"`

	// MaxSizeCandidates bounds the record sizes tried when probing a tape.
	MaxSizeCandidates int `mapstructure:"max_size_candidates" validate:"min=1" yaml:"max_size_candidates"`
}

// VTapeConfig configures the virtual tape backends.
type VTapeConfig struct {
	// Path is the BadgerDB directory of the badger backend.
	Path string `mapstructure:"path" yaml:"path"`

	// Volume names the virtual cartridge; the s3 backend keys objects
	// under it.
	Volume string `mapstructure:"volume" validate:"required" yaml:"volume"`

	// MaxRecord bounds a single transfer.
	MaxRecord bytesize.ByteSize `mapstructure:"max_record" jsonschema:"oneof_type=string;integer" yaml:"max_record"`

	// QIC emulates a legacy fixed 512-byte block drive.
	QIC bool `mapstructure:"qic" yaml:"qic"`

	S3 VTapeS3Config `mapstructure:"s3" yaml:"s3"`
}

// VTapeS3Config configures the s3 backend.
type VTapeS3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// RemoteConfig configures the remote tape client.
type RemoteConfig struct {
	// Address is the host:port of a "dttape serve" instance.
	Address string `mapstructure:"address" validate:"omitempty,hostname_port" yaml:"address"`

	// Timeout bounds every request.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

// ServerConfig configures "dttape serve".
type ServerConfig struct {
	// Listen is the address the remote tape server binds.
	Listen string `mapstructure:"listen" validate:"required" yaml:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DTTAPE_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file is
// not an error and yields the defaults with environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	bindDefaults(v)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load with user-friendly errors: an explicitly named file
// must exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  dttape config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeConfigFile(path, data)
}

// writeConfigFile creates the parent directory and writes data with 0600
// permissions: the file may hold S3 credentials.
func writeConfigFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// DTTAPE_DRIVE_PIPELINE_LENGTH=0 overrides drive.pipeline_length
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// bindDefaults registers every key with its default value. AutomaticEnv
// only consults the environment for keys viper already knows about, and
// booleans such as drive.checksum default to true, which a zero value
// left for ApplyDefaults could not express.
func bindDefaults(v *viper.Viper) {
	var walk func(prefix string, val reflect.Value)
	walk = func(prefix string, val reflect.Value) {
		t := val.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			key := f.Tag.Get("mapstructure")
			if key == "" || key == "-" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			if f.Type.Kind() == reflect.Struct {
				walk(key, val.Field(i))
				continue
			}
			v.SetDefault(key, val.Field(i).Interface())
		}
	}
	walk("", reflect.ValueOf(*GetDefaultConfig()))
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// that sizes can be written as "1MiB", "240Ki" or plain byte counts.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return bytesize.ByteSize(0), nil
			}
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "200ms" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return time.Duration(0), nil
			}
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/dittotape, ~/.config/dittotape, or
// the current directory when neither can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittotape")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittotape")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
