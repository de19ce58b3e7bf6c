package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/dfu"
)

// dfuCmd represents the firmware update command
var dfuCmd = &cobra.Command{
	Use:   "dfu <device-address> <firmware.zip>",
	Short: "Nordic legacy DFU firmware update",
	Long: fmt.Sprintf(`Updates the firmware of a device running the Nordic legacy DFU bootloader.

The package is a zip with manifest.json naming the init packet (.dat) and
the image (.bin) of an application, bootloader or softdevice.

Examples:
  # Update a device already in bootloader mode
  gattc dfu %s app_dfu_package.zip

  # Kick an application into its bootloader first
  gattc dfu %s app_dfu_package.zip --quick-start

  # Send a reset if any step fails
  gattc dfu %s app_dfu_package.zip --reset-on-failure`,
		exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(2),
	RunE: runDFU,
}

var (
	dfuQuickStart     bool
	dfuResetOnFailure bool
	dfuChunkSize      int
)

func init() {
	dfuCmd.Flags().BoolVar(&dfuQuickStart, "quick-start", false, "Send StartDFU without waiting, to switch an application into its bootloader, then exit")
	dfuCmd.Flags().BoolVar(&dfuResetOnFailure, "reset-on-failure", false, "Reset the device when the update fails")
	dfuCmd.Flags().IntVar(&dfuChunkSize, "chunk-size", 0, "Packet write size in bytes (overrides config)")
}

func runDFU(cmd *cobra.Command, args []string) error {
	address, path := args[0], args[1]

	archive, err := dfu.LoadArchive(path)
	if err != nil {
		return err
	}
	if dfuChunkSize < 0 {
		return fmt.Errorf("--chunk-size must be positive")
	}

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	if dfuChunkSize > 0 {
		env.cfg.ChunkSize = dfuChunkSize
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Updating %s with %s", address, path), "Connecting")
	progress.Start()
	defer progress.Stop()

	return withDevice(cmd, env, address, progress, func(_ context.Context, dev *gatt.Device) error {
		svc, err := gatt.ServiceAs[*dfu.Service](dev, dfu.ServiceUUID.String())
		if err != nil {
			return err
		}

		if dfuQuickStart {
			svc.QuickStart(archive.Type)
			env.out.Line(successColor, "Start DFU sent; reconnect once the bootloader advertises")
			return nil
		}

		transfer := NewProgressPrinter(fmt.Sprintf("Updating %s", address), dfu.StateStartDFU.String())
		transfer.Start()
		defer transfer.Stop()
		svc.Configure(env.cfg.DFUOptions(transferProgress(transfer)))

		if err := svc.Update(archive); err != nil {
			transfer.Stop()
			if dfuResetOnFailure {
				env.out.Line(warnColor, "Update failed, resetting device")
				svc.Reset()
			}
			return fmt.Errorf("firmware update: %w", err)
		}
		transfer.Stop()
		env.out.Line(successColor, "Firmware update complete (%d bytes, %s)", len(archive.Image), archive.Type)
		return nil
	})
}

// transferProgress shows the DFU stage and, during the image transfer, the
// percentage sent.
func transferProgress(p *ProgressPrinter) dfu.ProgressFunc {
	return func(stage dfu.State, sent, total int) {
		if total <= 0 {
			p.SetPhase(stage.String())
			return
		}
		p.SetPhase(fmt.Sprintf("%s %d%%", stage, sent*100/total))
	}
}
