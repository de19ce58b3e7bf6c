package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newDevice(adapter string) (ble.Device, error) {
	id, err := AdapterID(adapter)
	if err != nil {
		return nil, err
	}
	return linux.NewDevice(ble.OptDeviceID(id))
}
