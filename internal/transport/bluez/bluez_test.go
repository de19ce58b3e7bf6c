package bluez_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/testutils"
	"github.com/srg/gattc/internal/transport/bluez"
)

const dev = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

func svcObj(uuid string) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		"org.bluez.GattService1": {
			"UUID":    dbus.MakeVariant(uuid),
			"Primary": dbus.MakeVariant(true),
		},
	}
}

func charObj(uuid string, service dbus.ObjectPath, flags ...string) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		"org.bluez.GattCharacteristic1": {
			"UUID":    dbus.MakeVariant(uuid),
			"Service": dbus.MakeVariant(service),
			"Flags":   dbus.MakeVariant(flags),
		},
	}
}

func heartRateObjects() bluez.ManagedObjects {
	hrs := dev + "/service000c"
	bas := dev + "/service0020"
	return bluez.ManagedObjects{
		dev:               {"org.bluez.Device1": {"Connected": dbus.MakeVariant(true)}},
		bas:               svcObj("0000180f-0000-1000-8000-00805f9b34fb"),
		hrs:               svcObj("0000180d-0000-1000-8000-00805f9b34fb"),
		bas + "/char0021": charObj("00002a19-0000-1000-8000-00805f9b34fb", bas, "read", "notify"),
		hrs + "/char0012": charObj("00002a38-0000-1000-8000-00805f9b34fb", hrs, "read"),
		hrs + "/char000d": charObj("00002a37-0000-1000-8000-00805f9b34fb", hrs, "notify"),
		hrs + "/char000d/desc000f": {
			"org.bluez.GattDescriptor1": {"UUID": dbus.MakeVariant("00002902-0000-1000-8000-00805f9b34fb")},
		},
		hrs + "/char0012/desc0014": {
			"org.bluez.GattDescriptor1": {"UUID": dbus.MakeVariant("00002901-0000-1000-8000-00805f9b34fb")},
		},
		// another device's attributes MUST be ignored
		"/org/bluez/hci0/dev_11_22_33_44_55_66/service0001": svcObj("1801"),
	}
}

func TestDevicePath(t *testing.T) {
	assert.Equal(t, dev, bluez.DevicePath("hci0", "aa:bb:cc:dd:ee:ff"), "address MUST be upper-cased with underscores")
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1/dev_01_02_03_04_05_06"), bluez.DevicePath("hci1", "01:02:03:04:05:06"))
}

func TestParseHandle(t *testing.T) {
	h, err := bluez.ParseHandle(dev+"/service000c", "service")
	require.NoError(t, err)
	assert.Equal(t, gatt.Handle(0x000c), h)

	h, err = bluez.ParseHandle(dev+"/service000c/char00ff", "char")
	require.NoError(t, err)
	assert.Equal(t, gatt.Handle(0x00ff), h)

	_, err = bluez.ParseHandle(dev+"/service000c", "char")
	assert.Error(t, err, "wrong object kind MUST fail")

	_, err = bluez.ParseHandle(dev+"/charzz", "char")
	assert.Error(t, err, "non-hex handle MUST fail")
}

func TestBuildLayout(t *testing.T) {
	// GOAL: GetManagedObjects output becomes a handle-ordered attribute table
	//
	// TEST SCENARIO: objects of two devices → BuildLayout → only ours, sorted, flags parsed

	l, err := bluez.BuildLayout(dev, heartRateObjects())
	require.NoError(t, err)

	services := l.Services()
	require.Len(t, services, 2, "foreign device services MUST be skipped")
	assert.Equal(t, "180d", services[0].UUID.Short(), "services MUST be in handle order")
	assert.Equal(t, gatt.HandleRange{Start: 0x0c, End: 0x14}, services[0].Handles,
		"service end MUST be the largest handle beneath it")
	assert.Equal(t, "180f", services[1].UUID.Short())
	assert.Equal(t, gatt.HandleRange{Start: 0x20, End: 0x21}, services[1].Handles)

	chars := l.Characteristics(services[0].UUID)
	require.Len(t, chars, 2)
	assert.Equal(t, "2a37", chars[0].UUID.Short(), "characteristics MUST be in handle order")
	assert.Equal(t, gatt.FlagNotify, chars[0].Flags)
	assert.Equal(t, "2a38", chars[1].UUID.Short())
	assert.Equal(t, gatt.FlagRead, chars[1].Flags)

	p, ok := l.Path(0x0d)
	require.True(t, ok)
	assert.Equal(t, dev+"/service000c/char000d", p)
	h, ok := l.Handle(p)
	require.True(t, ok)
	assert.Equal(t, gatt.Handle(0x0d), h)

	_, ok = l.Path(0x99)
	assert.False(t, ok)
}

func TestBuildLayoutRejectsBadUUID(t *testing.T) {
	objects := bluez.ManagedObjects{dev + "/service0001": svcObj("not-a-uuid")}
	_, err := bluez.BuildLayout(dev, objects)
	assert.Error(t, err)
}

func TestDecodeSignal(t *testing.T) {
	charPath := dev + "/service000c/char000d"

	tests := []struct {
		name string
		sig  *dbus.Signal
		want bluez.Event
		ok   bool
	}{
		{
			name: "notification",
			sig: &dbus.Signal{
				Path: charPath,
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.bluez.GattCharacteristic1",
					map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{0x00, 0x50})},
					[]string{},
				},
			},
			want: bluez.Event{Path: charPath, Value: []byte{0x00, 0x50}},
			ok:   true,
		},
		{
			name: "link drop",
			sig: &dbus.Signal{
				Path: dev,
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.bluez.Device1",
					map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)},
					[]string{},
				},
			},
			want: bluez.Event{Path: dev, Disconnected: true},
			ok:   true,
		},
		{
			name: "connect is ignored",
			sig: &dbus.Signal{
				Path: dev,
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.bluez.Device1",
					map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
					[]string{},
				},
			},
		},
		{
			name: "notifying flag is ignored",
			sig: &dbus.Signal{
				Path: charPath,
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.bluez.GattCharacteristic1",
					map[string]dbus.Variant{"Notifying": dbus.MakeVariant(true)},
					[]string{},
				},
			},
		},
		{
			name: "other signal",
			sig:  &dbus.Signal{Path: dev, Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded"},
		},
		{
			name: "nil",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bluez.DecodeSignal(tt.sig)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestReadFilter(t *testing.T) {
	// GOAL: Value changes caused by ReadValue are not taken for notifications
	//
	// TEST SCENARIO: change during a read → suppressed; matching echo after the read → suppressed once; anything else → dispatched

	hr := dev + "/service000c/char000d"
	bat := dev + "/service0020/char0021"
	now := time.Now()

	f := bluez.NewReadFilter()
	assert.False(t, f.Suppress(hr, []byte{0x01}, now), "no read MUST mean dispatch")

	f.Begin(hr)
	assert.True(t, f.Suppress(hr, []byte{0x01}, now), "a change during a read MUST be suppressed")
	assert.False(t, f.Suppress(bat, []byte{0x01}, now), "other paths MUST be unaffected")

	f.End(hr, []byte{0x00, 0x48}, true, now)
	assert.True(t, f.Suppress(hr, []byte{0x00, 0x48}, now.Add(10*time.Millisecond)), "the read echo MUST be suppressed")
	assert.False(t, f.Suppress(hr, []byte{0x00, 0x48}, now.Add(20*time.Millisecond)), "an echo MUST be consumed once")

	f.Begin(hr)
	f.End(hr, []byte{0x00, 0x48}, true, now)
	assert.False(t, f.Suppress(hr, []byte{0x00, 0x50}, now), "a different value after a read MUST be dispatched")
	assert.False(t, f.Suppress(hr, []byte{0x00, 0x48}, now), "a mismatch MUST end the echo expectation")

	f.Begin(hr)
	f.End(hr, []byte{0x00, 0x48}, true, now)
	assert.False(t, f.Suppress(hr, []byte{0x00, 0x48}, now.Add(bluez.EchoWindow+time.Millisecond)), "a late match MUST be dispatched")

	f.Begin(hr)
	f.End(hr, nil, false, now)
	assert.False(t, f.Suppress(hr, nil, now), "a failed read MUST leave no echo")
}

func TestWriteType(t *testing.T) {
	assert.Equal(t, "request", bluez.WriteType(true))
	assert.Equal(t, "command", bluez.WriteType(false))
}

func TestTransportBusFailure(t *testing.T) {
	orig := bluez.BusFactory
	defer func() { bluez.BusFactory = orig }()

	calls := 0
	bluez.BusFactory = func(...dbus.ConnOption) (*dbus.Conn, error) {
		calls++
		return nil, errors.New("no such file or directory")
	}

	tr := bluez.New("", testutils.NewTestLogger(false))
	for i := 0; i < 2; i++ {
		_, err := tr.Connect(context.Background(), testutils.TestAddress)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "system bus")
	}
	assert.Equal(t, 1, calls, "bus MUST be opened once")
}
