package bluez

import (
	"github.com/godbus/dbus/v5"
)

// Event is a PropertiesChanged signal reduced to what a session acts on.
type Event struct {
	Path dbus.ObjectPath
	// Value is set when a characteristic value changed (a notification).
	Value []byte
	// Disconnected is set when the device reported Connected=false.
	Disconnected bool
}

// DecodeSignal reduces a D-Bus signal to an Event. It reports false for
// anything that is neither a characteristic value change nor a link drop.
func DecodeSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return Event{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return Event{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return Event{}, false
	}

	switch iface {
	case gattCharacteristic1:
		v, ok := changed["Value"]
		if !ok {
			return Event{}, false
		}
		data, ok := v.Value().([]byte)
		if !ok {
			return Event{}, false
		}
		return Event{Path: sig.Path, Value: data}, true
	case device1:
		v, ok := changed["Connected"]
		if !ok {
			return Event{}, false
		}
		if connected, ok := v.Value().(bool); ok && !connected {
			return Event{Path: sig.Path, Disconnected: true}, true
		}
	}
	return Event{}, false
}
