package dfu

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattc/internal/gatt"
)

// ControlPoint carries DFU commands and their response notifications.
type ControlPoint struct {
	*gatt.BLECharacteristic
}

func newControlPoint(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &ControlPoint{BLECharacteristic: base}
}

// Command writes an opcode with its arguments.
func (c *ControlPoint) Command(op byte, args ...byte) error {
	c.Logger().WithFields(logrus.Fields{
		"uuid":   c.UUID().Short(),
		"opcode": fmt.Sprintf("0x%02x", op),
	}).Debug("DFU command")
	return c.SetRaw(append([]byte{op}, args...))
}

// AwaitResponse waits up to timeout for [0x10, op, status] and checks status.
func (c *ControlPoint) AwaitResponse(op byte, timeout time.Duration) error {
	c.SetNotifyTimeout(timeout)
	resp, err := c.Raw()
	if err != nil {
		return err
	}
	r := gatt.NewFieldReader(resp)
	header, err := r.Uint8("response code")
	if err != nil {
		return err
	}
	echo, err := r.Uint8("request opcode")
	if err != nil {
		return err
	}
	status, err := r.Uint8("status")
	if err != nil {
		return err
	}
	if header != OpResponseCode || echo != op {
		return gatt.NewDecodeError("response", "expected [0x%02x 0x%02x status], got % x", OpResponseCode, op, resp)
	}
	return CheckResponse(op, status)
}

// Resubscribe enables notifications, cycling the subscription when it is
// already on. Some bootloaders only arm responses on a fresh subscription.
// Responses still queued from an earlier session are dropped.
func (c *ControlPoint) Resubscribe() error {
	if c.Notifying() {
		if err := c.SetNotifying(false); err != nil {
			return err
		}
	}
	if err := c.SetNotifying(true); err != nil {
		return err
	}
	if n := c.DrainNotifications(); n > 0 {
		c.Logger().WithField("dropped", n).Debug("Stale DFU responses dropped")
	}
	return nil
}
