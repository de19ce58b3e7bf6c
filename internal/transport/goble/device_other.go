//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func newDevice(string) (ble.Device, error) {
	return nil, fmt.Errorf("go-ble has no host support on %s", runtime.GOOS)
}
