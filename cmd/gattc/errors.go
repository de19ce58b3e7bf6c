package main

import (
	"errors"
	"fmt"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/dfu"
	"github.com/srg/gattc/internal/transport/goble"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from gatt.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// userHints are appended to errors a user can act on.
var userHints = []struct {
	err  error
	hint string
}{
	{goble.ErrBluetoothOff, "turn Bluetooth on and retry"},
	{gatt.ErrConnectTimeout, "check the peripheral is powered and in range, or raise --connect-timeout"},
	{gatt.ErrNotifyTimeout, "the peripheral did not send a value in time"},
	{gatt.ErrAccessDenied, "the characteristic does not allow this operation"},
	{gatt.ErrNotSupported, "the characteristic does not support this operation"},
	{gatt.ErrNotFound, "the peripheral does not expose it"},
	{dfu.ErrOutOfOrder, "restart the update from the beginning"},
	{ErrConnectionLost, "the peripheral disconnected"},
}

// FormatUserError renders err for the terminal: the error text plus a short
// hint when the cause is one a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	var te *gatt.TransportError
	msg := err.Error()
	for _, h := range userHints {
		if errors.Is(err, h.err) {
			return fmt.Sprintf("%s (%s)", msg, h.hint)
		}
	}
	if errors.As(err, &te) {
		return fmt.Sprintf("%s (transport failure during %s)", msg, te.Op)
	}
	return msg
}
