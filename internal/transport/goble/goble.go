// Package goble is the gatt.Transport backed by github.com/go-ble/ble: HCI
// sockets on Linux, CoreBluetooth on macOS.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
)

// DeviceFactory opens the host controller named by adapter. It is a variable
// so tests can swap in a fake ble.Device.
var DeviceFactory = newDevice

// Transport dials peripherals through one shared host device.
type Transport struct {
	adapter string
	logger  *logrus.Logger

	once   sync.Once
	dev    ble.Device
	devErr error
}

// New returns a Transport for adapter ("hci0", "default"). The controller is
// opened on the first Connect.
func New(adapter string, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{adapter: adapter, logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.once.Do(func() {
		t.dev, t.devErr = DeviceFactory(t.adapter)
		if t.devErr != nil {
			t.devErr = NormalizeError(fmt.Errorf("open adapter %s: %w", t.adapter, t.devErr))
		}
	})
	return t.dev, t.devErr
}

// Connect dials address. go-ble only returns once the link is up, so the
// session reports Connected immediately.
func (t *Transport) Connect(ctx context.Context, address string) (gatt.Session, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("dial %s: %w", address, err))
	}
	return newSession(address, client, t.logger), nil
}

// ----------------------------
// Session
// ----------------------------

type session struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu      sync.Mutex
	profile *ble.Profile

	chars *hashmap.Map[gatt.Handle, *ble.Characteristic]

	closeOnce sync.Once
	done      chan struct{}
	stop      context.CancelFunc
}

func newSession(address string, client ble.Client, logger *logrus.Logger) *session {
	s := &session{
		address: address,
		client:  client,
		logger:  logger,
		chars:   hashmap.New[gatt.Handle, *ble.Characteristic](),
		done:    make(chan struct{}),
	}

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(ctx, "goble-link-monitor-"+address, func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				s.logger.WithField("address", address).Warn("Controller reported disconnection")
				s.close()
			case <-ctx.Done():
			}
		})
	} else {
		s.logger.Debug("Client does not expose a Disconnected channel")
	}
	return s
}

func (s *session) Address() string { return s.address }

func (s *session) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.stop()
		close(s.done)
	})
}

func (s *session) alive() error {
	if !s.Connected() {
		return gatt.ErrNotConnected
	}
	return nil
}

// call runs a blocking go-ble operation, giving up when ctx ends. go-ble has
// no context support of its own, so an abandoned call finishes in the
// background.
func call[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	groutine.Go(ctx, name, func(context.Context) {
		v, err := fn()
		ch <- result{v, err}
	})
	select {
	case r := <-ch:
		return r.v, NormalizeError(r.err)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *session) discover(ctx context.Context) (*ble.Profile, error) {
	s.mu.Lock()
	p := s.profile
	s.mu.Unlock()
	if p != nil {
		return p, nil
	}

	p, err := call(ctx, "goble-discover", func() (*ble.Profile, error) {
		return s.client.DiscoverProfile(true)
	})
	if err != nil {
		return nil, err
	}

	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			s.chars.Set(gatt.Handle(c.ValueHandle), c)
		}
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return p, nil
}

func (s *session) DiscoverServices(ctx context.Context) ([]gatt.ServiceInfo, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	p, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]gatt.ServiceInfo, 0, len(p.Services))
	for _, svc := range p.Services {
		u, err := ConvertUUID(svc.UUID)
		if err != nil {
			return nil, err
		}
		out = append(out, gatt.ServiceInfo{
			UUID:    u,
			Handles: gatt.HandleRange{Start: gatt.Handle(svc.Handle), End: gatt.Handle(svc.EndHandle)},
		})
	}
	return out, nil
}

func (s *session) DiscoverCharacteristics(ctx context.Context, info gatt.ServiceInfo) ([]gatt.CharacteristicInfo, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	p, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	for _, svc := range p.Services {
		u, err := ConvertUUID(svc.UUID)
		if err != nil || u != info.UUID {
			continue
		}
		out := make([]gatt.CharacteristicInfo, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			cu, err := ConvertUUID(c.UUID)
			if err != nil {
				return nil, err
			}
			out = append(out, gatt.CharacteristicInfo{
				UUID:   cu,
				Handle: gatt.Handle(c.ValueHandle),
				Flags:  ConvertProperties(c.Property),
			})
		}
		return out, nil
	}
	return nil, &gatt.NotFoundError{Resource: "service", UUIDs: []string{info.UUID.String()}}
}

func (s *session) characteristic(h gatt.Handle) (*ble.Characteristic, error) {
	c, ok := s.chars.Get(h)
	if !ok {
		return nil, fmt.Errorf("no characteristic at handle 0x%04x", uint16(h))
	}
	return c, nil
}

func (s *session) Read(ctx context.Context, h gatt.Handle) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	c, err := s.characteristic(h)
	if err != nil {
		return nil, err
	}
	return call(ctx, "goble-read", func() ([]byte, error) {
		return s.client.ReadCharacteristic(c)
	})
}

func (s *session) Write(ctx context.Context, h gatt.Handle, data []byte, withResponse bool) error {
	if err := s.alive(); err != nil {
		return err
	}
	c, err := s.characteristic(h)
	if err != nil {
		return err
	}
	_, err = call(ctx, "goble-write", func() (struct{}, error) {
		return struct{}{}, s.client.WriteCharacteristic(c, data, !withResponse)
	})
	return err
}

func (s *session) Subscribe(ctx context.Context, h gatt.Handle, cccd []byte, handler gatt.NotificationHandler) error {
	if err := s.alive(); err != nil {
		return err
	}
	c, err := s.characteristic(h)
	if err != nil {
		return err
	}
	if c.CCCD == nil {
		return fmt.Errorf("characteristic %s has no configuration descriptor", c.UUID)
	}
	indicate := gatt.IsIndicateCCCD(cccd)
	_, err = call(ctx, "goble-subscribe", func() (struct{}, error) {
		return struct{}{}, s.client.Subscribe(c, indicate, func(data []byte) {
			handler(h, data)
		})
	})
	return err
}

func (s *session) Unsubscribe(ctx context.Context, h gatt.Handle) error {
	if err := s.alive(); err != nil {
		return err
	}
	c, err := s.characteristic(h)
	if err != nil {
		return err
	}
	_, err = call(ctx, "goble-unsubscribe", func() (struct{}, error) {
		// Only one of the two modes is armed; the other reports an error.
		errNotify := s.client.Unsubscribe(c, false)
		errIndicate := s.client.Unsubscribe(c, true)
		if errNotify != nil && errIndicate != nil {
			return struct{}{}, fmt.Errorf("notify=%v, indicate=%v", errNotify, errIndicate)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *session) Disconnect() error {
	if !s.Connected() {
		return nil
	}
	err := NormalizeError(s.client.CancelConnection())
	s.close()
	if err != nil && !errors.Is(err, gatt.ErrNotConnected) {
		return err
	}
	return nil
}
