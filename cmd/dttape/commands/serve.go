package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/api/handlers"
	"github.com/marmos91/dittotape/pkg/config"
	"github.com/marmos91/dittotape/pkg/device/remote"
	prom "github.com/marmos91/dittotape/pkg/metrics/prometheus"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Export the configured tape device over the network",
	Long: `Export the configured device to "dttape" clients on other hosts.

Clients use it by setting drive.backend to "remote" and remote.address to
the address given here. One client at a time owns the device; it is closed
when that client disconnects.

Examples:
  # Export the first SCSI tape drive
  dttape serve --listen :7070

  # Export a badger backed virtual tape
  DTTAPE_DRIVE_BACKEND=badger dttape serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	env, err := setupEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	dev, closeDev, err := config.OpenDevice(env.ctx, cfg, prom.NewStoreMetrics())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDev(); err != nil {
			logger.Error("Backend close error", logger.KeyError, err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}
	addr := ln.Addr().String()

	env.startMetricsServer([]handlers.Check{{
		Name: "listener",
		Type: "tcp",
		Fn: func(ctx context.Context) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}}, func() any {
		return map[string]any{
			"drive":        dev.Name(),
			"backend":      cfg.Drive.Backend,
			"capabilities": dev.Capabilities().String(),
			"listen":       addr,
		}
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- remote.NewServer(dev).Serve(env.ctx, ln)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Serving tape device. Press Ctrl+C to stop.",
		logger.KeyDrive, dev.Name(),
		logger.KeyBackend, cfg.Drive.Backend,
		logger.KeyAddress, addr)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		env.cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")
	}
	return nil
}
