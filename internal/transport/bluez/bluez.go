// Package bluez is the gatt.Transport that drives the BlueZ daemon over the
// system D-Bus. It needs no raw HCI access, so it works without
// CAP_NET_ADMIN.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

const (
	bluezBus            = "org.bluez"
	device1             = "org.bluez.Device1"
	gattService1        = "org.bluez.GattService1"
	gattCharacteristic1 = "org.bluez.GattCharacteristic1"
	gattDescriptor1     = "org.bluez.GattDescriptor1"
	objectManager       = "org.freedesktop.DBus.ObjectManager"
	properties          = "org.freedesktop.DBus.Properties"
	propertiesChanged   = properties + ".PropertiesChanged"
)

// BusFactory opens the bus connection. Tests replace it.
var BusFactory = dbus.ConnectSystemBus

// Transport connects to peripherals the adapter already knows about (seen
// in a scan or paired).
type Transport struct {
	adapter string
	logger  *logrus.Logger

	once    sync.Once
	conn    *dbus.Conn
	connErr error
}

func New(adapter string, logger *logrus.Logger) *Transport {
	if adapter == "" || adapter == "default" {
		adapter = "hci0"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{adapter: adapter, logger: logger}
}

func (t *Transport) bus() (*dbus.Conn, error) {
	t.once.Do(func() {
		t.conn, t.connErr = BusFactory()
		if t.connErr != nil {
			t.connErr = fmt.Errorf("system bus: %w", t.connErr)
		}
	})
	return t.conn, t.connErr
}

// Connect asks BlueZ to connect and returns at once; the session reports
// Connected when BlueZ has resolved services.
func (t *Transport) Connect(ctx context.Context, address string) (gatt.Session, error) {
	conn, err := t.bus()
	if err != nil {
		return nil, err
	}
	s := &session{
		address:  address,
		conn:     conn,
		path:     DevicePath(t.adapter, address),
		logger:   t.logger,
		handlers: hashmap.New[dbus.ObjectPath, gatt.NotificationHandler](),
		reads:    NewReadFilter(),
		done:     make(chan struct{}),
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ----------------------------
// Session
// ----------------------------

type session struct {
	address string
	conn    *dbus.Conn
	path    dbus.ObjectPath
	logger  *logrus.Logger

	mu     sync.Mutex
	layout *Layout

	handlers *hashmap.Map[dbus.ObjectPath, gatt.NotificationHandler]
	reads    *ReadFilter
	signals  chan *dbus.Signal
	match    []dbus.MatchOption

	closeOnce sync.Once
	done      chan struct{}
	stop      context.CancelFunc
}

func (s *session) log() *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{"address": s.address, "path": s.path})
}

func (s *session) start(ctx context.Context) error {
	s.match = []dbus.MatchOption{
		dbus.WithMatchInterface(properties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(s.path),
	}
	if err := s.conn.AddMatchSignal(s.match...); err != nil {
		return fmt.Errorf("add signal match: %w", err)
	}
	s.signals = make(chan *dbus.Signal, 64)
	s.conn.Signal(s.signals)

	pumpCtx, stop := context.WithCancel(context.Background())
	s.stop = stop
	groutine.Go(pumpCtx, "bluez-signal-pump-"+s.address, s.pump)

	if connected, _ := s.boolProperty(device1, "Connected"); connected {
		s.log().Debug("Device already connected")
		return nil
	}
	s.log().Debug("Calling Device1.Connect")
	if call := s.conn.Object(bluezBus, s.path).CallWithContext(ctx, device1+".Connect", 0); call.Err != nil {
		s.release()
		return fmt.Errorf("Device1.Connect %s: %w", s.address, call.Err)
	}
	return nil
}

func (s *session) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.signals:
			if !ok {
				s.close()
				return
			}
			ev, ok := DecodeSignal(sig)
			if !ok {
				continue
			}
			if ev.Disconnected && ev.Path == s.path {
				s.log().Warn("BlueZ reported disconnection")
				s.close()
				return
			}
			h, ok := s.handlers.Get(ev.Path)
			if !ok {
				continue
			}
			if s.reads.Suppress(ev.Path, ev.Value, time.Now()) {
				s.log().WithField("char", ev.Path).Debug("Value change from a read, not dispatched")
				continue
			}
			s.dispatch(ev, h)
		}
	}
}

func (s *session) dispatch(ev Event, h gatt.NotificationHandler) {
	s.mu.Lock()
	l := s.layout
	s.mu.Unlock()
	if l == nil {
		return
	}
	if handle, ok := l.Handle(ev.Path); ok {
		h(handle, ev.Value)
	}
}

func (s *session) boolProperty(iface, name string) (bool, error) {
	v, err := s.conn.Object(bluezBus, s.path).GetProperty(iface + "." + name)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.%s has type %T", iface, name, v.Value())
	}
	return b, nil
}

func (s *session) Address() string { return s.address }

// Connected is true once the link is up and BlueZ has finished its own
// service discovery; before that GetManagedObjects is incomplete.
func (s *session) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	connected, err := s.boolProperty(device1, "Connected")
	if err != nil || !connected {
		return false
	}
	resolved, err := s.boolProperty(device1, "ServicesResolved")
	return err == nil && resolved
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) release() {
	s.stop()
	s.conn.RemoveSignal(s.signals)
	if err := s.conn.RemoveMatchSignal(s.match...); err != nil {
		s.log().WithError(err).Debug("Failed to remove signal match")
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.release()
		close(s.done)
	})
}

func (s *session) alive() error {
	select {
	case <-s.done:
		return gatt.ErrNotConnected
	default:
		return nil
	}
}

func (s *session) discover(ctx context.Context) (*Layout, error) {
	s.mu.Lock()
	l := s.layout
	s.mu.Unlock()
	if l != nil {
		return l, nil
	}

	var objects ManagedObjects
	call := s.conn.Object(bluezBus, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("parse managed objects: %w", err)
	}
	l, err := BuildLayout(s.path, objects)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.layout = l
	s.mu.Unlock()
	return l, nil
}

func (s *session) DiscoverServices(ctx context.Context) ([]gatt.ServiceInfo, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	l, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	return l.Services(), nil
}

func (s *session) DiscoverCharacteristics(ctx context.Context, svc gatt.ServiceInfo) ([]gatt.CharacteristicInfo, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	l, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	return l.Characteristics(svc.UUID), nil
}

func (s *session) object(ctx context.Context, h gatt.Handle) (dbus.BusObject, dbus.ObjectPath, error) {
	l, err := s.discover(ctx)
	if err != nil {
		return nil, "", err
	}
	p, ok := l.Path(h)
	if !ok {
		return nil, "", fmt.Errorf("no characteristic at handle 0x%04x", uint16(h))
	}
	return s.conn.Object(bluezBus, p), p, nil
}

func (s *session) Read(ctx context.Context, h gatt.Handle) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	obj, path, err := s.object(ctx, h)
	if err != nil {
		return nil, err
	}
	s.reads.Begin(path)
	data, err := readValue(ctx, obj)
	s.reads.End(path, data, err == nil, time.Now())
	return data, err
}

func readValue(ctx context.Context, obj dbus.BusObject) ([]byte, error) {
	call := obj.CallWithContext(ctx, gattCharacteristic1+".ReadValue", 0, map[string]dbus.Variant{})
	if call.Err != nil {
		return nil, call.Err
	}
	var data []byte
	if err := call.Store(&data); err != nil {
		return nil, fmt.Errorf("decode read result: %w", err)
	}
	return data, nil
}

// WriteType is the BlueZ WriteValue "type" option for a write procedure.
func WriteType(withResponse bool) string {
	if withResponse {
		return "request"
	}
	return "command"
}

func (s *session) Write(ctx context.Context, h gatt.Handle, data []byte, withResponse bool) error {
	if err := s.alive(); err != nil {
		return err
	}
	obj, _, err := s.object(ctx, h)
	if err != nil {
		return err
	}
	call := obj.CallWithContext(ctx, gattCharacteristic1+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant(WriteType(withResponse)),
	})
	return call.Err
}

// Subscribe calls StartNotify. BlueZ chooses notify or indicate from the
// characteristic flags itself, so cccd only shows up in the log.
func (s *session) Subscribe(ctx context.Context, h gatt.Handle, cccd []byte, handler gatt.NotificationHandler) error {
	if err := s.alive(); err != nil {
		return err
	}
	obj, p, err := s.object(ctx, h)
	if err != nil {
		return err
	}
	s.handlers.Set(p, handler)
	if call := obj.CallWithContext(ctx, gattCharacteristic1+".StartNotify", 0); call.Err != nil {
		s.handlers.Del(p)
		return call.Err
	}
	s.log().WithFields(logrus.Fields{
		"char":     p,
		"indicate": gatt.IsIndicateCCCD(cccd),
	}).Debug("StartNotify")
	return nil
}

func (s *session) Unsubscribe(ctx context.Context, h gatt.Handle) error {
	if err := s.alive(); err != nil {
		return err
	}
	obj, p, err := s.object(ctx, h)
	if err != nil {
		return err
	}
	s.handlers.Del(p)
	return obj.CallWithContext(ctx, gattCharacteristic1+".StopNotify", 0).Err
}

const disconnectTimeout = 5 * time.Second

func (s *session) Disconnect() error {
	if s.alive() != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	var errs []error
	s.handlers.Range(func(p dbus.ObjectPath, _ gatt.NotificationHandler) bool {
		if call := s.conn.Object(bluezBus, p).CallWithContext(ctx, gattCharacteristic1+".StopNotify", 0); call.Err != nil {
			s.log().WithError(call.Err).WithField("char", p).Debug("StopNotify failed")
		}
		s.handlers.Del(p)
		return true
	})
	if call := s.conn.Object(bluezBus, s.path).CallWithContext(ctx, device1+".Disconnect", 0); call.Err != nil {
		errs = append(errs, fmt.Errorf("Device1.Disconnect: %w", call.Err))
	}
	s.close()
	return errors.Join(errs...)
}
