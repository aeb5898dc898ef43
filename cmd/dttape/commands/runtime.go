package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/internal/telemetry"
	"github.com/marmos91/dittotape/pkg/api"
	"github.com/marmos91/dittotape/pkg/api/handlers"
	"github.com/marmos91/dittotape/pkg/config"
	"github.com/marmos91/dittotape/pkg/device"
	"github.com/marmos91/dittotape/pkg/drive"
	"github.com/marmos91/dittotape/pkg/metrics"
	prom "github.com/marmos91/dittotape/pkg/metrics/prometheus"
	"github.com/marmos91/dittotape/pkg/session"
)

// environment is the process-wide state every tape command sets up:
// logging, tracing, profiling and the optional metrics server.
type environment struct {
	cfg *config.Config
	ctx context.Context

	cancel    context.CancelFunc
	closers   []func(context.Context)
	serverErr chan error
}

// setupEnvironment loads the configuration and starts the ambient
// services. The returned context is cancelled by Close.
func setupEnvironment(cfg *config.Config) (*environment, error) {
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	env := &environment{cfg: cfg, ctx: ctx, cancel: cancel}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dttape",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	env.onClose(func(ctx context.Context) {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	})

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dttape",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		Tags:           map[string]string{"backend": cfg.Drive.Backend},
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	env.onClose(func(context.Context) {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	})

	logger.Debug("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	return env, nil
}

func (e *environment) onClose(fn func(context.Context)) {
	e.closers = append(e.closers, fn)
}

// startMetricsServer serves /metrics and /health in the background when
// metrics are enabled.
func (e *environment) startMetricsServer(checks []handlers.Check, info func() any) {
	if !e.cfg.Metrics.Enabled {
		return
	}
	health := handlers.NewHealthHandler("dttape", checks, info)
	srv := api.NewServer(api.Config{Port: e.cfg.Metrics.Port}, metrics.GetRegistry(), health)

	e.serverErr = make(chan error, 1)
	go func() { e.serverErr <- srv.Start(e.ctx, nil) }()
	logger.Info("Metrics enabled", "port", e.cfg.Metrics.Port)
}

// Close stops the ambient services in reverse order of start.
func (e *environment) Close() {
	e.cancel()
	if e.serverErr != nil {
		if err := <-e.serverErr; err != nil {
			logger.Warn("Metrics server error", logger.KeyError, err)
		}
		e.serverErr = nil
	}
	ctx := context.Background()
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i](ctx)
	}
	e.closers = nil
}

// tape is an open drive together with its device and session.
type tape struct {
	env   *environment
	dev   device.Device
	sess  *session.Session
	drive *drive.Drive

	closeDev   config.CloseFunc
	stopSignal func()
}

// openTape builds the device named by the configuration and an engine on
// top of it. SIGINT and SIGTERM request a cooperative stop of the session
// and cancel the environment context.
func openTape(env *environment) (*tape, error) {
	cfg := env.cfg

	dev, closeDev, err := config.OpenDevice(env.ctx, cfg, prom.NewStoreMetrics())
	if err != nil {
		return nil, err
	}

	sess := cfg.Session.NewSession()
	d := drive.New(dev, sess, cfg.Drive.EngineConfig(),
		drive.WithMetrics(prom.NewDriveMetrics()),
		drive.WithRingMetrics(prom.NewRingMetrics()),
	)

	t := &tape{env: env, dev: dev, sess: sess, drive: d, closeDev: closeDev}
	t.stopSignal = t.watchSignals()

	env.startMetricsServer([]handlers.Check{{
		Name: "session",
		Type: "session",
		Fn: func(context.Context) error {
			if sess.StopRequested() {
				return errors.New("stop requested")
			}
			return nil
		},
	}}, nil)

	logger.Debug("Tape opened",
		logger.KeyDrive, d.Name(),
		logger.KeyBackend, cfg.Drive.Backend,
		logger.KeyCaps, dev.Capabilities().String())
	return t, nil
}

func (t *tape) watchSignals() func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received, stopping", "signal", sig.String())
			t.sess.RequestStop()
			t.env.cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// Close closes the engine, waits for the session's workers and closes the
// device backend.
func (t *tape) Close() error {
	t.stopSignal()

	ctx := context.Background()
	var errs []error
	if err := t.drive.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if n := t.sess.Shutdown(ctx, t.env.cfg.Session.ShutdownTimeout); n > 0 {
		logger.Warn("Workers did not exit in time", logger.KeyCount, n)
	}
	if err := t.closeDev(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	return errors.Join(errs...)
}

// withTape runs fn against an open tape and tears everything down after.
func withTape(fn func(ctx context.Context, t *tape) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withTapeConfig(cfg, fn)
}

func withTapeConfig(cfg *config.Config, fn func(ctx context.Context, t *tape) error) (err error) {
	env, err := setupEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	t, err := openTape(env)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := t.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(env.ctx, t)
}
