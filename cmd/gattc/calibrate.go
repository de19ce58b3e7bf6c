package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/cyclingpower"
)

// calibrateCmd represents the cycling power calibration command
var calibrateCmd = &cobra.Command{
	Use:   "calibrate <device-address>",
	Short: "Zero-offset calibration of a cycling power meter",
	Long: fmt.Sprintf(`Asks a cycling power meter to compensate its zero offset and prints the
offset it measured. Keep the cranks unloaded while it runs.

Example:
  gattc calibrate %s`, exampleDeviceAddress),
	Args: cobra.ExactArgs(1),
	RunE: runCalibrate,
}

var calibrateTimeout time.Duration

func init() {
	calibrateCmd.Flags().DurationVar(&calibrateTimeout, "response-timeout", cyclingpower.DefaultResponseTimeout, "How long to wait for the meter's answer")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	address := args[0]
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter("Calibrating "+address, "Connecting")
	progress.Start()
	defer progress.Stop()

	return withDevice(cmd, env, address, progress, func(_ context.Context, dev *gatt.Device) error {
		svc, err := gatt.ServiceAs[*cyclingpower.Service](dev, cyclingpower.ServiceUUID.String())
		if err != nil {
			return err
		}
		cp, err := svc.ControlPoint()
		if err != nil {
			return err
		}
		cp.SetResponseTimeout(calibrateTimeout)

		cal, err := svc.Calibrate()
		if err != nil {
			return fmt.Errorf("calibration: %w", err)
		}
		return env.out.Result("Offset compensation", cal)
	})
}
