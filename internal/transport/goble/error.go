package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/gattc/internal/gatt"
)

// ErrBluetoothOff is returned when the host controller is powered down.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// NormalizeError maps known go-ble error strings onto the engine's sentinel
// errors, keeping the original text.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "have=4 want=5"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "operation not possible due to rf-kill"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", gatt.ErrNotConnected, err)
	case strings.Contains(msg, "device already connected"):
		return fmt.Errorf("%w: %v", gatt.ErrAlreadyConnected, err)
	default:
		return err
	}
}
