package bluez

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattc/internal/gatt"
)

// ManagedObjects is the reply shape of ObjectManager.GetManagedObjects.
type ManagedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// DevicePath converts "AA:BB:CC:DD:EE:FF" on hci0 to
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter, address string) dbus.ObjectPath {
	dev := strings.ToUpper(strings.ReplaceAll(address, ":", "_"))
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, dev))
}

// ParseHandle extracts the attribute handle BlueZ encodes in the last path
// element: .../service000c → 0x000c for prefix "service".
func ParseHandle(p dbus.ObjectPath, prefix string) (gatt.Handle, error) {
	base := path.Base(string(p))
	if !strings.HasPrefix(base, prefix) {
		return 0, fmt.Errorf("object %s is not a %s", p, prefix)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(base, prefix), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("object %s: bad handle: %w", p, err)
	}
	return gatt.Handle(v), nil
}

type charEntry struct {
	info gatt.CharacteristicInfo
	path dbus.ObjectPath
}

// Layout is the attribute table of one device as BlueZ exported it.
type Layout struct {
	services []gatt.ServiceInfo
	chars    map[gatt.UUID][]charEntry
	paths    map[gatt.Handle]dbus.ObjectPath
	handles  map[dbus.ObjectPath]gatt.Handle
}

// BuildLayout collects the services and characteristics under devicePath.
// BlueZ does not export service end handles; the end is the largest handle
// found beneath the service object.
func BuildLayout(devicePath dbus.ObjectPath, objects ManagedObjects) (*Layout, error) {
	l := &Layout{
		chars:   make(map[gatt.UUID][]charEntry),
		paths:   make(map[gatt.Handle]dbus.ObjectPath),
		handles: make(map[dbus.ObjectPath]gatt.Handle),
	}
	prefix := string(devicePath) + "/"

	type svcEntry struct {
		info gatt.ServiceInfo
		path dbus.ObjectPath
	}
	svcs := map[dbus.ObjectPath]*svcEntry{}

	for p, ifaces := range objects {
		props, ok := ifaces[gattService1]
		if !ok || !strings.HasPrefix(string(p), prefix) {
			continue
		}
		u, err := uuidProperty(p, props)
		if err != nil {
			return nil, err
		}
		h, err := ParseHandle(p, "service")
		if err != nil {
			return nil, err
		}
		svcs[p] = &svcEntry{info: gatt.ServiceInfo{UUID: u, Handles: gatt.HandleRange{Start: h, End: h}}, path: p}
	}

	for p, ifaces := range objects {
		props, ok := ifaces[gattCharacteristic1]
		if !ok || !strings.HasPrefix(string(p), prefix) {
			continue
		}
		svcPath, _ := props["Service"].Value().(dbus.ObjectPath)
		svc, ok := svcs[svcPath]
		if !ok {
			continue
		}
		u, err := uuidProperty(p, props)
		if err != nil {
			return nil, err
		}
		h, err := ParseHandle(p, "char")
		if err != nil {
			return nil, err
		}
		names, _ := props["Flags"].Value().([]string)
		e := charEntry{
			info: gatt.CharacteristicInfo{UUID: u, Handle: h, Flags: gatt.ParseFlags(names...)},
			path: p,
		}
		l.chars[svc.info.UUID] = append(l.chars[svc.info.UUID], e)
		l.paths[h] = p
		l.handles[p] = h
		if h > svc.info.Handles.End {
			svc.info.Handles.End = h
		}
	}

	for p, ifaces := range objects {
		if _, ok := ifaces[gattDescriptor1]; !ok {
			continue
		}
		h, err := ParseHandle(p, "desc")
		if err != nil {
			continue
		}
		if svc, ok := svcs[dbus.ObjectPath(path.Dir(path.Dir(string(p))))]; ok && h > svc.info.Handles.End {
			svc.info.Handles.End = h
		}
	}

	for _, s := range svcs {
		l.services = append(l.services, s.info)
	}
	sort.Slice(l.services, func(i, j int) bool {
		return l.services[i].Handles.Start < l.services[j].Handles.Start
	})
	for u, cs := range l.chars {
		sort.Slice(cs, func(i, j int) bool { return cs[i].info.Handle < cs[j].info.Handle })
		l.chars[u] = cs
	}
	return l, nil
}

func uuidProperty(p dbus.ObjectPath, props map[string]dbus.Variant) (gatt.UUID, error) {
	s, ok := props["UUID"].Value().(string)
	if !ok {
		return gatt.UUID{}, fmt.Errorf("object %s has no UUID", p)
	}
	return gatt.Canonicalize(s)
}

// Services returns services in handle order.
func (l *Layout) Services() []gatt.ServiceInfo {
	return append([]gatt.ServiceInfo(nil), l.services...)
}

// Characteristics returns the characteristics of service u in handle order.
func (l *Layout) Characteristics(u gatt.UUID) []gatt.CharacteristicInfo {
	cs := l.chars[u]
	out := make([]gatt.CharacteristicInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.info)
	}
	return out
}

// Path returns the object path of the characteristic at h.
func (l *Layout) Path(h gatt.Handle) (dbus.ObjectPath, bool) {
	p, ok := l.paths[h]
	return p, ok
}

// Handle returns the characteristic handle for an object path.
func (l *Layout) Handle(p dbus.ObjectPath) (gatt.Handle, bool) {
	h, ok := l.handles[p]
	return h, ok
}
