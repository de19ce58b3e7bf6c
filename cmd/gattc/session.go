package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile"
	"github.com/srg/gattc/internal/transport"
	"github.com/srg/gattc/pkg/config"
)

// newTransport builds the transport for a run. Tests swap in a fake
// peripheral.
var newTransport = transport.New

// runEnv is what every command needs before it talks to a peripheral.
type runEnv struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *gatt.Registry
	out      *printer
}

// loadEnv applies --config, then the override flags, then validates.
func loadEnv(cmd *cobra.Command) (*runEnv, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := flags.GetString("transport"); v != "" {
		cfg.Transport = v
	}
	if v, _ := flags.GetString("adapter"); v != "" {
		cfg.Adapter = v
	}
	if v, _ := flags.GetDuration("connect-timeout"); v > 0 {
		cfg.ConnectTimeout = v
	}
	if v, _ := flags.GetString("output"); v != "" {
		cfg.OutputFormat = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg, path != "")
	if err != nil {
		return nil, err
	}
	registry, err := profile.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("uuid registry: %w", err)
	}
	return &runEnv{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		out:      newPrinter(cmd.OutOrStdout(), cfg.OutputFormat),
	}, nil
}

// commandContext ends on Ctrl+C or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withDevice connects to address, runs fn, and always disconnects. The
// progress line is cleared before fn runs so fn can print freely.
func withDevice(cmd *cobra.Command, env *runEnv, address string, progress *ProgressPrinter,
	fn func(ctx context.Context, dev *gatt.Device) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	tr, err := newTransport(env.cfg, env.logger)
	if err != nil {
		return err
	}

	dev := gatt.NewDevice(address, tr, env.cfg.GattOptions(env.registry, env.logger))
	progress.SetPhase("Connecting")
	if err := dev.Connect(ctx); err != nil {
		progress.Stop()
		return err
	}
	defer func() {
		if err := dev.Disconnect(); err != nil {
			env.logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	progress.Stop()
	return fn(ctx, dev)
}

// findCharacteristic resolves key, scoped to service when one is given.
func findCharacteristic(dev *gatt.Device, service, key string) (gatt.Characteristic, error) {
	if service == "" {
		return dev.Characteristic(key)
	}
	svc, err := dev.Service(service)
	if err != nil {
		return nil, err
	}
	return svc.Characteristic(key)
}

// sleepCtx waits d or until ctx ends, reporting whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
