package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// CoreBluetooth has a single controller; adapter is ignored.
func newDevice(string) (ble.Device, error) {
	return darwin.NewDevice()
}
