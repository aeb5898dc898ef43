package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/device/remote"
	"github.com/marmos91/dittotape/pkg/device/scsi"
	"github.com/marmos91/dittotape/pkg/device/vtape"
	"github.com/marmos91/dittotape/pkg/device/vtape/badgerstore"
	"github.com/marmos91/dittotape/pkg/device/vtape/s3store"
	"github.com/marmos91/dittotape/pkg/drive"
	"github.com/marmos91/dittotape/pkg/session"
)

// CloseFunc releases whatever OpenDevice allocated besides the device
// itself. It is never nil.
type CloseFunc func() error

func noClose() error { return nil }

// OpenDevice creates the device selected by cfg.Drive.Backend. The device
// is returned closed; the drive engine opens it. Virtual tape stores are
// reported to storeMetrics when it is non-nil.
func OpenDevice(ctx context.Context, cfg *Config, storeMetrics vtape.StoreMetrics) (device.Device, CloseFunc, error) {
	switch cfg.Drive.Backend {
	case BackendSCSI:
		return scsi.New(scsi.Options{
			Path: cfg.Drive.Device,
			QIC:  cfg.Drive.LegacyQIC,
		}), noClose, nil

	case BackendRemote:
		return remote.NewClient(cfg.Remote.Address, cfg.Remote.Timeout), noClose, nil

	case BackendVTape:
		dev, _ := vtape.NewMemory(vtapeOptions(cfg))
		return dev, noClose, nil

	case BackendBadger:
		dir := filepath.Join(cfg.VTape.Path, cfg.VTape.Volume)
		store, err := badgerstore.Open(dir)
		if err != nil {
			return nil, nil, err
		}
		return vtape.New(vtape.Instrument(store, BackendBadger, storeMetrics), vtapeOptions(cfg)), store.Close, nil

	case BackendS3:
		store, err := s3store.NewFromConfig(ctx, s3store.Config{
			Bucket:          cfg.VTape.S3.Bucket,
			Region:          cfg.VTape.S3.Region,
			Endpoint:        cfg.VTape.S3.Endpoint,
			KeyPrefix:       s3KeyPrefix(cfg.VTape.S3.Prefix, cfg.VTape.Volume),
			AccessKeyID:     cfg.VTape.S3.AccessKeyID,
			SecretAccessKey: cfg.VTape.S3.SecretAccessKey,
			ForcePathStyle:  cfg.VTape.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.HealthCheck(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("s3 tape store unreachable: %w", err)
		}
		return vtape.New(vtape.Instrument(store, BackendS3, storeMetrics), vtapeOptions(cfg)), store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown drive backend: %q", cfg.Drive.Backend)
	}
}

func vtapeOptions(cfg *Config) vtape.Options {
	return vtape.Options{
		Name:      cfg.VTape.Volume,
		MaxRecord: cfg.VTape.MaxRecord.Int(),
		QIC:       cfg.VTape.QIC || cfg.Drive.LegacyQIC,
	}
}

// s3KeyPrefix places every volume under its own directory of the prefix.
func s3KeyPrefix(prefix, volume string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + volume + "/"
}

// EngineConfig converts the drive section into the engine's configuration.
func (c DriveConfig) EngineConfig() drive.Config {
	return drive.Config{
		BlockSize:         c.BlockSize.Int(),
		RecordSize:        c.RecordSize.Int(),
		PipelineLength:    c.PipelineLength,
		PinBuffers:        c.PinBuffers,
		Checksum:          c.Checksum,
		Unload:            c.Unload,
		Overwrite:         c.Overwrite,
		LegacyQIC:         c.LegacyQIC,
		LostRecordMax:     c.LostRecordMax,
		RestoreBlockSize:  c.RestoreBlockSize,
		OpenRetries:       c.OpenRetries,
		OpenRetryDelay:    c.OpenRetryDelay,
		StatusRetries:     c.StatusRetries,
		StatusRetryDelay:  c.StatusRetryDelay,
		ResyncAttempts:    c.ResyncAttempts,
		MaxSizeCandidates: c.MaxSizeCandidates,
		Stream:            session.NoStream,
	}
}

// NewSession creates the per-run session sized by the session section.
func (c SessionConfig) NewSession() *session.Session {
	logger.Debug("Session created", "max_streams", c.MaxStreams)
	return session.New(session.Config{MaxStreams: c.MaxStreams})
}
