// Package dfu drives the Nordic legacy device firmware update protocol over
// a control point and a packet characteristic.
package dfu

import (
	"errors"
	"fmt"

	"github.com/srg/gattc/internal/gatt"
)

const nordicBase = "-1212-efde-1523-785feabcd123"

var (
	ServiceUUID      = gatt.MustParseUUID("00001530" + nordicBase)
	ControlPointUUID = gatt.MustParseUUID("00001531" + nordicBase)
	PacketUUID       = gatt.MustParseUUID("00001532" + nordicBase)
	StatusUUID       = gatt.MustParseUUID("00001533" + nordicBase)
	VersionUUID      = gatt.MustParseUUID("00001534" + nordicBase)
)

// Control point opcodes.
const (
	OpStartDFU                  byte = 0x01
	OpInitDFUParams             byte = 0x02
	OpReceiveFirmwareImage      byte = 0x03
	OpValidateFirmware          byte = 0x04
	OpActivateImage             byte = 0x05
	OpResetSystem               byte = 0x06
	OpReportReceivedImageSize   byte = 0x07
	OpPacketReceiptNotification byte = 0x08
	OpResponseCode              byte = 0x10
	OpPacketReceipt             byte = 0x11
)

// Init packet sub-commands of OpInitDFUParams.
const (
	InitPacketReceive  byte = 0x00
	InitPacketComplete byte = 0x01
)

// Response status values.
const (
	StatusSuccess              byte = 0x01
	StatusInvalidState         byte = 0x02
	StatusNotSupported         byte = 0x03
	StatusDataSizeExceedsLimit byte = 0x04
	StatusCRCError             byte = 0x05
	StatusOperationFailed      byte = 0x06
)

// ImageType selects what StartDFU is about to receive.
type ImageType byte

const (
	ImageNone        ImageType = 0x00
	ImageSoftDevice  ImageType = 0x01
	ImageBootloader  ImageType = 0x02
	ImageApplication ImageType = 0x04
)

func (t ImageType) String() string {
	switch t {
	case ImageNone:
		return "none"
	case ImageSoftDevice:
		return "softdevice"
	case ImageBootloader:
		return "bootloader"
	case ImageApplication:
		return "application"
	default:
		return fmt.Sprintf("image(0x%02x)", byte(t))
	}
}

// Register binds the DFU types into r.
func Register(r *gatt.Registry) error {
	return errors.Join(
		r.Register(gatt.Entry{UUID: ServiceUUID, Name: "Nordic DFU Service", Identifier: "dfu_service", NewService: newService}),
		r.Register(gatt.Entry{UUID: ControlPointUUID, Name: "Nordic DFU Control Point", Identifier: "dfu_control_point", NewCharacteristic: newControlPoint}),
		r.Register(gatt.Entry{UUID: PacketUUID, Name: "Nordic DFU Packet", Identifier: "dfu_packet", NewCharacteristic: newPacket}),
		r.Register(gatt.Entry{UUID: StatusUUID, Kind: gatt.KindCharacteristic, Name: "Nordic DFU Status", Identifier: "dfu_status"}),
		r.Register(gatt.Entry{UUID: VersionUUID, Name: "Nordic DFU Version", Identifier: "dfu_version", NewCharacteristic: newVersion}),
	)
}

// CheckResponse maps a response status to an error.
func CheckResponse(op, status byte) error {
	var err error
	switch status {
	case StatusSuccess:
		return nil
	case StatusInvalidState:
		err = gatt.ErrInvalidState
	case StatusNotSupported:
		err = gatt.ErrOperationNotSupported
	case StatusDataSizeExceedsLimit:
		err = gatt.ErrDataSizeExceedsLimit
	case StatusCRCError:
		err = gatt.ErrCRC
	case StatusOperationFailed:
		err = gatt.ErrOperationFailed
	default:
		err = gatt.ErrUnknownResponse
	}
	return &gatt.ResponseError{Procedure: "dfu", Opcode: op, Status: status, Err: err}
}
