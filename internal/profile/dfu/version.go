package dfu

import (
	"fmt"

	"github.com/srg/gattc/internal/gatt"
)

// Version is the bootloader's DFU protocol revision.
type Version struct {
	Major uint8 `json:"major"`
	Minor uint8 `json:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// DecodeVersion parses the 16-bit version value, minor byte first.
func DecodeVersion(raw []byte) (Version, error) {
	r := gatt.NewFieldReader(raw)
	minor, err := r.Uint8("minor")
	if err != nil {
		return Version{}, err
	}
	major, err := r.Uint8("major")
	if err != nil {
		return Version{}, err
	}
	return Version{Major: major, Minor: minor}, nil
}

type VersionCharacteristic struct {
	*gatt.BLECharacteristic
}

func newVersion(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &VersionCharacteristic{BLECharacteristic: base}
}

func (c *VersionCharacteristic) Version() (Version, error) {
	raw, err := c.Raw()
	if err != nil {
		return Version{}, err
	}
	return DecodeVersion(raw)
}

func (c *VersionCharacteristic) Value() (any, error) {
	return c.Version()
}
