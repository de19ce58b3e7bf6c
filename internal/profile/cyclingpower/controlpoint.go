package cyclingpower

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattc/internal/gatt"
)

// Control point opcodes and response values.
const (
	OpStartOffsetCompensation byte = 0x0C
	OpResponseCode            byte = 0x20

	ResponseSuccess         byte = 0x01
	ResponseOpNotSupported  byte = 0x02
	ResponseInvalidParam    byte = 0x03
	ResponseOperationFailed byte = 0x04
)

// DefaultResponseTimeout bounds the wait for a control point indication.
const DefaultResponseTimeout = 30 * time.Second

// ControlPoint is the Cycling Power Control Point.
type ControlPoint struct {
	*gatt.BLECharacteristic
	responseTimeout time.Duration
}

func newControlPoint(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &ControlPoint{BLECharacteristic: base, responseTimeout: DefaultResponseTimeout}
}

// SetResponseTimeout changes how long Request waits for the response frame.
func (c *ControlPoint) SetResponseTimeout(d time.Duration) {
	c.responseTimeout = d
}

// CheckResponse maps a control point response value to an error.
func CheckResponse(op, code byte) error {
	var err error
	switch code {
	case ResponseSuccess:
		return nil
	case ResponseOpNotSupported:
		err = gatt.ErrOperationNotSupported
	case ResponseInvalidParam:
		err = gatt.ErrInvalidParameter
	case ResponseOperationFailed:
		err = gatt.ErrOperationFailed
	default:
		err = gatt.ErrUnknownResponse
	}
	return &gatt.ResponseError{Procedure: "cycling power control point", Opcode: op, Status: code, Err: err}
}

// Request writes op and its parameters, waits for the response frame
// [0x20, op, code, params...] and returns the response parameters. Frames
// still queued from an earlier request are dropped first.
func (c *ControlPoint) Request(op byte, params ...byte) ([]byte, error) {
	c.SetNotifyTimeout(c.responseTimeout)
	if err := c.SetNotifying(true); err != nil {
		return nil, err
	}

	log := c.Logger().WithFields(logrus.Fields{
		"uuid":   c.UUID().Short(),
		"opcode": fmt.Sprintf("0x%02x", op),
	})
	log.Debug("Control point request")

	if n := c.DrainNotifications(); n > 0 {
		log.WithField("dropped", n).Debug("Stale control point responses dropped")
	}
	if err := c.SetRaw(append([]byte{op}, params...)); err != nil {
		return nil, err
	}
	resp, err := c.Raw()
	if err != nil {
		return nil, err
	}

	r := gatt.NewFieldReader(resp)
	header, err := r.Uint8("response code")
	if err != nil {
		return nil, err
	}
	echo, err := r.Uint8("request opcode")
	if err != nil {
		return nil, err
	}
	code, err := r.Uint8("response value")
	if err != nil {
		return nil, err
	}
	if header != OpResponseCode || echo != op {
		return nil, gatt.NewDecodeError("response", "expected [0x%02x 0x%02x ...], got % x", OpResponseCode, op, resp)
	}
	if err := CheckResponse(op, code); err != nil {
		log.WithField("status", code).Warn("Control point request failed")
		return nil, err
	}
	return resp[3:], nil
}
