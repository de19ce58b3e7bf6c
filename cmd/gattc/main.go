package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gattc",
	Short: "Bluetooth Low Energy GATT client",
	Long: `Bluetooth Low Energy GATT client that provides:

- Read from and write to characteristics by UUID or name
- Stream characteristic notifications and indications
- Heart rate monitor client (measurement, sensor location, battery)
- Cycling power meter offset calibration
- Nordic legacy DFU firmware updates from a .zip package
- UUID and name lookup in the built-in assigned-numbers table

Peripherals are addressed directly; run a scanner of your choice to find them.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", errorLabel("ERROR:"), FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(hrCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(dfuCmd)
	rootCmd.AddCommand(uuidCmd)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("verbose", false, "Debug logging (same as --log-level debug)")
	pf.String("transport", "", "Transport: goble or bluez (overrides config)")
	pf.String("adapter", "", "Host adapter, e.g. hci0 (overrides config)")
	pf.Duration("connect-timeout", 0, "Connect timeout (overrides config)")
	pf.StringP("output", "o", "", "Output format: text or json (overrides config)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
