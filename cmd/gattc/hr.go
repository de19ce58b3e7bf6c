package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/battery"
	"github.com/srg/gattc/internal/profile/heartrate"
)

// hrCmd represents the heart rate client command
var hrCmd = &cobra.Command{
	Use:   "hr <device-address>",
	Short: "Heart rate monitor client",
	Long: fmt.Sprintf(`Connects to a heart rate sensor, prints its body sensor location and
battery level when available, then streams heart rate measurements.

Examples:
  # Stream until Ctrl+C
  gattc hr %s

  # Ten measurements, resetting energy expended first
  gattc hr %s --count 10 --reset-energy`, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(1),
	RunE: runHR,
}

var (
	hrCount       int
	hrResetEnergy bool
)

func init() {
	hrCmd.Flags().IntVar(&hrCount, "count", 0, "Stop after N measurements; 0 means no limit")
	hrCmd.Flags().BoolVar(&hrResetEnergy, "reset-energy", false, "Reset the energy expended counter before streaming")
}

func runHR(cmd *cobra.Command, args []string) error {
	address := args[0]
	if hrCount < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter("Heart rate "+address, "Connecting")
	progress.Start()
	defer progress.Stop()

	return withDevice(cmd, env, address, progress, func(ctx context.Context, dev *gatt.Device) error {
		return heartRateSession(ctx, env, dev, hrCount)
	})
}

func heartRateSession(ctx context.Context, env *runEnv, dev *gatt.Device, count int) error {
	svc, err := gatt.ServiceAs[*heartrate.Service](dev, heartrate.ServiceUUID.String())
	if err != nil {
		return err
	}

	if loc, err := svc.BodySensorLocation(); err == nil {
		v, err := loc.Value()
		if err != nil {
			env.logger.WithError(err).Warn("Body sensor location unreadable")
		} else if err := env.out.Value(loc, v); err != nil {
			return err
		}
	} else if !errors.Is(err, gatt.ErrNotFound) {
		return err
	}

	if c, err := dev.Characteristic(battery.LevelUUID.String()); err == nil {
		if level, ok := c.(*battery.Level); ok {
			if pct, err := level.Percent(); err == nil {
				if err := env.out.Value(level, pct); err != nil {
					return err
				}
			} else {
				env.logger.WithError(err).Warn("Battery level unreadable")
			}
		}
	}

	if hrResetEnergy {
		cp, err := svc.ControlPoint()
		if err != nil {
			return fmt.Errorf("reset energy: %w", err)
		}
		if err := cp.ResetEnergyExpended(); err != nil {
			return fmt.Errorf("reset energy: %w", err)
		}
		env.out.Line(successColor, "Energy expended reset")
	}

	m, err := svc.Measurement()
	if err != nil {
		return err
	}
	if err := m.SetNotifying(true); err != nil {
		return err
	}
	return stream(ctx, env, dev, []gatt.Characteristic{m}, count)
}
