package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"

	"github.com/srg/gattc/internal/gatt"
)

// ConvertProperties maps go-ble property bits to gatt.Flags. Broadcast,
// signed writes and extended properties have no counterpart and are dropped.
func ConvertProperties(p ble.Property) gatt.Flags {
	var f gatt.Flags
	if p&ble.CharRead != 0 {
		f |= gatt.FlagRead
	}
	if p&ble.CharWriteNR != 0 {
		f |= gatt.FlagWriteNoResponse
	}
	if p&ble.CharWrite != 0 {
		f |= gatt.FlagWrite
	}
	if p&ble.CharNotify != 0 {
		f |= gatt.FlagNotify
	}
	if p&ble.CharIndicate != 0 {
		f |= gatt.FlagIndicate
	}
	return f
}

// ConvertUUID canonicalizes a go-ble UUID (little-endian bytes) through its
// string form.
func ConvertUUID(u ble.UUID) (gatt.UUID, error) {
	return gatt.Canonicalize(u.String())
}

// AdapterID turns "hci1" into 1. An empty name or "default" is 0.
func AdapterID(adapter string) (int, error) {
	if adapter == "" || adapter == "default" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid adapter name %q, want hciN", adapter)
	}
	return n, nil
}
