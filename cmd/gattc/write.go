package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid-or-name> <data>",
	Short: "Write to a characteristic",
	Long: fmt.Sprintf(`Writes data to a BLE characteristic.

Data is taken as text unless --hex is given. Characteristics whose name
marks them as strings (Device Name) get a trailing NUL.

Examples:
  # Reset energy expended on a heart rate sensor
  gattc write %s 2a39 01 --hex

  # Write without response
  gattc write %s 2a06 02 --hex --without-response

  # Write a string
  gattc write %s device_name "Trainer"`,
		exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeHex         bool
	writeNoResponse  bool
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID or name (required if the characteristic is ambiguous)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse data as hex (e.g., 'FF01', '01:02')")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (no ACK)")
}

// parseWriteData converts the input to bytes or a string value.
func parseWriteData(s string) (any, error) {
	if writeHex {
		return parseHex(s)
	}
	return s, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, key := args[0], args[1]

	value, err := parseWriteData(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Writing to %s on %s", key, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	return withDevice(cmd, env, address, progress, func(_ context.Context, dev *gatt.Device) error {
		c, err := findCharacteristic(dev, writeServiceUUID, key)
		if err != nil {
			return err
		}
		if writeNoResponse {
			if err := c.SetWriteProcedure(gatt.WriteCommand); err != nil {
				return err
			}
		}
		if err := c.SetValue(value); err != nil {
			return fmt.Errorf("write %s: %w", c, err)
		}
		env.out.Line(successColor, "Write successful")
		return nil
	})
}
