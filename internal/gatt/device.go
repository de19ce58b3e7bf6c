package gatt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattc/internal/groutine"
)

// State is the connection lifecycle state of a Device.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Device is one peripheral. It owns the session and the services discovered
// through it; nothing outlives Disconnect.
type Device struct {
	address   string
	transport Transport
	opts      *Options
	logger    *logrus.Logger

	mu       sync.Mutex
	state    State
	session  Session
	services *orderedmap.OrderedMap[UUID, Service]
	stop     context.CancelFunc
}

// NewDevice prepares a device for address. Nothing is sent until Connect.
func NewDevice(address string, transport Transport, opts *Options) *Device {
	if opts == nil {
		opts = &Options{}
	}
	opts.applyDefaults()
	return &Device{
		address:   address,
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
	}
}

func (d *Device) Address() string { return d.address }

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Session returns the live session, or nil when not connected.
func (d *Device) Session() Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateConnected {
		return nil
	}
	return d.session
}

func (d *Device) log() *logrus.Entry {
	return d.logger.WithField("address", d.address)
}

// Connect moves Disconnected → Connecting → Connected. It blocks until the
// transport reports the link up and services are discovered, bounded by
// Options.ConnectTimeout. Calling Connect while connected is a no-op.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateConnected:
		d.mu.Unlock()
		d.log().Debug("Connect called while connected")
		return nil
	case StateConnecting:
		d.mu.Unlock()
		return ErrConnecting
	}
	d.state = StateConnecting
	d.mu.Unlock()

	if strings.TrimSpace(d.address) == "" {
		d.setState(StateDisconnected)
		return fmt.Errorf("device address is empty")
	}

	d.log().WithField("timeout", d.opts.ConnectTimeout).Info("Connecting...")

	connCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	session, services, err := d.establish(connCtx)
	if err != nil {
		d.setState(StateDisconnected)
		d.log().WithError(err).Error("Connect failed")
		return err
	}

	monitorCtx, stop := context.WithCancel(context.Background())

	d.mu.Lock()
	if d.state != StateConnecting {
		// Disconnect ran while the link was being set up.
		d.mu.Unlock()
		stop()
		_ = session.Disconnect()
		return &ConnectionError{State: NotConnected, Msg: "disconnected while connecting"}
	}
	d.session = session
	d.services = services
	d.stop = stop
	d.state = StateConnected
	d.mu.Unlock()

	groutine.Go(monitorCtx, "gatt-link-monitor-"+d.address, func(ctx context.Context) {
		d.monitor(ctx, session)
	})

	d.log().WithField("services", services.Len()).Info("Connected")
	return nil
}

func (d *Device) establish(ctx context.Context) (Session, *orderedmap.OrderedMap[UUID, Service], error) {
	session, err := d.transport.Connect(ctx, d.address)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, d.address, d.opts.ConnectTimeout)
		}
		return nil, nil, transportError("connect", err)
	}

	fail := func(err error) (Session, *orderedmap.OrderedMap[UUID, Service], error) {
		if derr := session.Disconnect(); derr != nil {
			d.log().WithError(derr).Debug("Disconnect after failed connect")
		}
		return nil, nil, err
	}

	if err := d.waitConnected(ctx, session); err != nil {
		return fail(err)
	}

	infos, err := session.DiscoverServices(ctx)
	if err != nil {
		if isDeadline(ctx, err) {
			return fail(fmt.Errorf("%w: service discovery on %s", ErrConnectTimeout, d.address))
		}
		return fail(transportError("discover services", err))
	}

	services := orderedmap.New[UUID, Service]()
	for _, info := range infos {
		services.Set(info.UUID, d.newService(info, session))
	}
	return session, services, nil
}

// waitConnected polls the session until it reports the link up.
func (d *Device) waitConnected(ctx context.Context, session Session) error {
	if session.Connected() {
		return nil
	}
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, d.address, d.opts.ConnectTimeout)
			}
			return ctx.Err()
		case <-session.Done():
			return transportError("connect", fmt.Errorf("link to %s dropped while connecting", d.address))
		case <-ticker.C:
			if session.Connected() {
				return nil
			}
		}
	}
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (d *Device) newService(info ServiceInfo, session Session) Service {
	entry, err := d.opts.Registry.Lookup(info.UUID)
	if err != nil {
		return NewService(info, nil, session, d.opts)
	}
	base := NewService(info, entry, session, d.opts)
	if entry.NewService == nil {
		return base
	}
	return entry.NewService(base)
}

// monitor drops the device to Disconnected when the link goes away on its own.
func (d *Device) monitor(ctx context.Context, session Session) {
	select {
	case <-ctx.Done():
	case <-session.Done():
		d.mu.Lock()
		if d.session != session {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		d.log().Warn("Link dropped by peripheral or transport")
		d.teardown(false)
	}
}

// Disconnect is valid in any state and always ends in Disconnected.
// Subscriptions are released first, best effort.
func (d *Device) Disconnect() error {
	return d.teardown(true)
}

func (d *Device) teardown(graceful bool) error {
	d.mu.Lock()
	session, services, stop := d.session, d.services, d.stop
	d.session, d.services, d.stop = nil, nil, nil
	d.state = StateDisconnected
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	if session == nil {
		return nil
	}

	if services != nil {
		for pair := services.Oldest(); pair != nil; pair = pair.Next() {
			for _, c := range pair.Value.base().resolvedCharacteristics() {
				if !c.Notifying() {
					continue
				}
				if graceful {
					if err := c.SetNotifying(false); err != nil {
						d.log().WithFields(logrus.Fields{
							"uuid":  c.UUID().Short(),
							"error": err,
						}).Warn("Failed to release subscription")
					}
				}
				c.base().release()
			}
		}
	}

	if !graceful {
		return nil
	}
	if err := session.Disconnect(); err != nil {
		d.log().WithError(err).Warn("Transport disconnect failed")
		return transportError("disconnect", err)
	}
	d.log().Info("Disconnected")
	return nil
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Services returns discovered services in discovery order.
func (d *Device) Services() ([]Service, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateConnected {
		return nil, ErrNotConnected
	}
	out := make([]Service, 0, d.services.Len())
	for pair := d.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out, nil
}

// Service finds a service by UUID (any spelling) or registry identifier.
func (d *Device) Service(key string) (Service, error) {
	services, err := d.Services()
	if err != nil {
		return nil, err
	}
	if u, err := Canonicalize(key); err == nil {
		for _, s := range services {
			if s.UUID() == u {
				return s, nil
			}
		}
	}
	for _, s := range services {
		if s.Identifier() == key {
			return s, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", UUIDs: []string{key}}
}

// Characteristic searches every service for key.
func (d *Device) Characteristic(key string) (Characteristic, error) {
	services, err := d.Services()
	if err != nil {
		return nil, err
	}
	var found []Characteristic
	for _, s := range services {
		c, err := s.Characteristic(key)
		if err == nil {
			found = append(found, c)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	switch len(found) {
	case 0:
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{key}}
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("characteristic %s found in %d services, name the service", key, len(found))
	}
}

// ServiceAs looks up key on d and asserts the specialized type.
func ServiceAs[T Service](d *Device, key string) (T, error) {
	var zero T
	s, err := d.Service(key)
	if err != nil {
		return zero, err
	}
	t, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("%s is %T, not %T", s, s, zero)
	}
	return t, nil
}
