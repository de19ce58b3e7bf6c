package gatt

import (
	"context"
	"fmt"
)

// Handle is an ATT attribute handle. For characteristics it is the value
// handle.
type Handle uint16

// HandleRange is the inclusive handle span of a service.
type HandleRange struct {
	Start Handle
	End   Handle
}

func (r HandleRange) String() string {
	return fmt.Sprintf("0x%04x-0x%04x", uint16(r.Start), uint16(r.End))
}

// Contains reports whether h lies inside the range.
func (r HandleRange) Contains(h Handle) bool {
	return h >= r.Start && h <= r.End
}

// ServiceInfo is what a transport reports for one discovered service.
type ServiceInfo struct {
	UUID    UUID
	Handles HandleRange
}

// CharacteristicInfo is what a transport reports for one discovered
// characteristic.
type CharacteristicInfo struct {
	UUID   UUID
	Handle Handle
	Flags  Flags
}

// NotificationHandler receives notification and indication payloads. It is
// invoked on the transport's own goroutine.
type NotificationHandler func(handle Handle, data []byte)

// Transport moves bytes between the engine and a peripheral.
type Transport interface {
	// Connect starts a connection to the peripheral at address. The returned
	// Session may still be completing the link; callers poll Connected.
	Connect(ctx context.Context, address string) (Session, error)
}

// Session is one live link to a peripheral. Every error a Session returns is
// surfaced to callers wrapped in a TransportError.
type Session interface {
	Address() string
	Connected() bool
	// Done is closed when the link drops or Disconnect completes.
	Done() <-chan struct{}

	DiscoverServices(ctx context.Context) ([]ServiceInfo, error)
	DiscoverCharacteristics(ctx context.Context, svc ServiceInfo) ([]CharacteristicInfo, error)

	Read(ctx context.Context, handle Handle) ([]byte, error)
	Write(ctx context.Context, handle Handle, data []byte, withResponse bool) error

	// Subscribe writes cccd to the characteristic's configuration descriptor
	// and routes incoming values for handle to h.
	Subscribe(ctx context.Context, handle Handle, cccd []byte, h NotificationHandler) error
	// Unsubscribe writes an all-zero configuration and stops routing.
	Unsubscribe(ctx context.Context, handle Handle) error

	Disconnect() error
}
