package heartrate

import "github.com/srg/gattc/internal/gatt"

// OpResetEnergyExpended clears the sensor's accumulated energy counter.
const OpResetEnergyExpended byte = 0x01

type ControlPoint struct {
	*gatt.BLECharacteristic
}

func newControlPoint(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &ControlPoint{BLECharacteristic: base}
}

func (c *ControlPoint) ResetEnergyExpended() error {
	c.Logger().WithField("opcode", OpResetEnergyExpended).Debug("Resetting energy expended")
	return c.SetRaw([]byte{OpResetEnergyExpended})
}
