package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
)

const exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <uuid-or-name>[,...]",
	Short: "Read characteristic values",
	Long: fmt.Sprintf(`Reads BLE characteristic(s) and prints them decoded.

Characteristics are named by UUID (2a19, 0x2A19, full 128-bit) or by
identifier (battery_level, body_sensor_location). Known characteristics are
decoded; others print as hex.

Examples:
  # Read Battery Level
  gattc read %s battery_level

  # Read several characteristics
  gattc read %s 2a38,2a19

  # Disambiguate by service
  gattc read %s 2a19 --service 180f

  # Raw bytes as hex, no decoding
  gattc read %s 2a38 --hex

  # Poll every 500ms until Ctrl+C
  gattc read %s 2a19 --watch 500ms`,
		exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readHex         bool
	readWatch       string
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID or name (required if the characteristic is ambiguous)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Print raw bytes as hex instead of decoding")
	readCmd.Flags().StringVar(&readWatch, "watch", "", "Read repeatedly at interval (e.g., 1s, 500ms); default 1s if no value given")
	readCmd.Flags().Lookup("watch").NoOptDefVal = "1s"
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	keys := splitKeys(args[1])
	if len(keys) == 0 {
		return fmt.Errorf("no characteristic given")
	}

	var interval time.Duration
	if readWatch != "" {
		if len(keys) > 1 {
			return fmt.Errorf("watch mode requires a single characteristic, got %d", len(keys))
		}
		var err error
		if interval, err = time.ParseDuration(readWatch); err != nil {
			return fmt.Errorf("invalid watch interval: %w", err)
		}
		if interval <= 0 {
			return fmt.Errorf("watch interval must be positive")
		}
	}

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Reading %s from %s", args[1], address), "Connecting")
	progress.Start()
	defer progress.Stop()

	return withDevice(cmd, env, address, progress, func(ctx context.Context, dev *gatt.Device) error {
		chars := make([]gatt.Characteristic, 0, len(keys))
		for _, k := range keys {
			c, err := findCharacteristic(dev, readServiceUUID, k)
			if err != nil {
				return err
			}
			chars = append(chars, c)
		}

		if interval > 0 {
			return watchChar(ctx, env, dev, chars[0], interval)
		}

		var firstErr error
		for _, c := range chars {
			if err := readOnce(env, c); err != nil {
				if len(chars) == 1 {
					return err
				}
				// Report and continue with the others
				env.out.Line(warnColor, "%s: %v", c.UUID().Short(), err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})
}

// readOnce reads c once and prints it.
func readOnce(env *runEnv, c gatt.Characteristic) error {
	var (
		v   any
		err error
	)
	if readHex {
		v, err = c.Read()
	} else {
		v, err = c.Value()
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", c, err)
	}
	return env.out.Value(c, v)
}

// watchChar reads c every interval until ctx ends or dev loses its link.
func watchChar(ctx context.Context, env *runEnv, dev *gatt.Device, c gatt.Characteristic, interval time.Duration) error {
	env.out.Line(warnColor, "Watching %s (every %v). Press Ctrl+C to stop...", c, interval)
	for {
		if err := readOnce(env, c); err != nil {
			if errors.Is(err, gatt.ErrNotConnected) || dev.State() != gatt.StateConnected {
				return ErrConnectionLost
			}
			env.logger.WithError(err).Warn("Read failed, continuing...")
		}
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
}
