// Package heartrate implements the Heart Rate profile: the service, the
// measurement and body sensor location decoders, and the control point.
package heartrate

import (
	"errors"

	"github.com/srg/gattc/internal/gatt"
)

var (
	ServiceUUID            = gatt.UUID16(0x180d)
	MeasurementUUID        = gatt.UUID16(0x2a37)
	BodySensorLocationUUID = gatt.UUID16(0x2a38)
	ControlPointUUID       = gatt.UUID16(0x2a39)
)

// Register binds the profile's types into r.
func Register(r *gatt.Registry) error {
	return errors.Join(
		r.Register(gatt.Entry{UUID: ServiceUUID, Name: "Heart Rate", NewService: newService}),
		r.Register(gatt.Entry{UUID: MeasurementUUID, Name: "Heart Rate Measurement", NewCharacteristic: newMeasurement}),
		r.Register(gatt.Entry{UUID: BodySensorLocationUUID, Name: "Body Sensor Location", NewCharacteristic: newBodySensorLocation}),
		r.Register(gatt.Entry{UUID: ControlPointUUID, Name: "Heart Rate Control Point", NewCharacteristic: newControlPoint}),
	)
}

// Service is the Heart Rate Service.
type Service struct {
	*gatt.BLEService
}

func newService(base *gatt.BLEService) gatt.Service {
	return &Service{BLEService: base}
}

func (s *Service) Measurement() (*MeasurementCharacteristic, error) {
	return gatt.CharacteristicAs[*MeasurementCharacteristic](s, MeasurementUUID.String())
}

// BodySensorLocation is optional on real sensors; expect ErrNotFound.
func (s *Service) BodySensorLocation() (*BodySensorLocationCharacteristic, error) {
	return gatt.CharacteristicAs[*BodySensorLocationCharacteristic](s, BodySensorLocationUUID.String())
}

// ControlPoint is present only on sensors that report energy expended.
func (s *Service) ControlPoint() (*ControlPoint, error) {
	return gatt.CharacteristicAs[*ControlPoint](s, ControlPointUUID.String())
}
