// Package battery decodes the Battery Service level.
package battery

import (
	"github.com/srg/gattc/internal/gatt"
)

var (
	ServiceUUID = gatt.UUID16(0x180f)
	LevelUUID   = gatt.UUID16(0x2a19)
)

// Register binds the battery level decoder into r.
func Register(r *gatt.Registry) error {
	return r.Register(gatt.Entry{UUID: LevelUUID, Name: "Battery Level", NewCharacteristic: newLevel})
}

// DecodeLevel parses a battery level in percent.
func DecodeLevel(raw []byte) (uint8, error) {
	v, err := gatt.NewFieldReader(raw).Uint8("battery level")
	if err != nil {
		return 0, err
	}
	if v > 100 {
		return 0, gatt.NewDecodeError("battery level", "%d%% is above 100%%", v)
	}
	return v, nil
}

type Level struct {
	*gatt.BLECharacteristic
}

func newLevel(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &Level{BLECharacteristic: base}
}

func (c *Level) Percent() (uint8, error) {
	raw, err := c.Raw()
	if err != nil {
		return 0, err
	}
	return DecodeLevel(raw)
}

func (c *Level) Value() (any, error) {
	return c.Percent()
}
