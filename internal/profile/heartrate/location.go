package heartrate

import (
	"encoding/json"

	"github.com/srg/gattc/internal/gatt"
)

// Location is where the sensor sits on the body.
type Location uint8

const (
	LocationOther Location = iota
	LocationChest
	LocationWrist
	LocationFinger
	LocationHand
	LocationEarLobe
	LocationFoot
)

var locationNames = [...]string{"Other", "Chest", "Wrist", "Finger", "Hand", "Ear Lobe", "Foot"}

func (l Location) String() string {
	if int(l) < len(locationNames) {
		return locationNames[l]
	}
	return "Unknown"
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"location": l.String()})
}

// DecodeLocation parses a Body Sensor Location payload.
func DecodeLocation(raw []byte) (Location, error) {
	v, err := gatt.NewFieldReader(raw).Uint8("location")
	if err != nil {
		return 0, err
	}
	if int(v) >= len(locationNames) {
		return 0, gatt.NewDecodeError("location", "index %d outside the %d known locations", v, len(locationNames))
	}
	return Location(v), nil
}

type BodySensorLocationCharacteristic struct {
	*gatt.BLECharacteristic
}

func newBodySensorLocation(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &BodySensorLocationCharacteristic{BLECharacteristic: base}
}

func (c *BodySensorLocationCharacteristic) Location() (Location, error) {
	raw, err := c.Raw()
	if err != nil {
		return 0, err
	}
	return DecodeLocation(raw)
}

func (c *BodySensorLocationCharacteristic) Value() (any, error) {
	return c.Location()
}
