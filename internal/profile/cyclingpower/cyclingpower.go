// Package cyclingpower implements the Cycling Power profile.
package cyclingpower

import (
	"errors"

	"github.com/srg/gattc/internal/gatt"
)

var (
	ServiceUUID      = gatt.UUID16(0x1818)
	MeasurementUUID  = gatt.UUID16(0x2a63)
	VectorUUID       = gatt.UUID16(0x2a64)
	ControlPointUUID = gatt.UUID16(0x2a66)
)

// Register binds the profile's types into r.
func Register(r *gatt.Registry) error {
	return errors.Join(
		r.Register(gatt.Entry{UUID: ServiceUUID, Name: "Cycling Power", NewService: newService}),
		r.Register(gatt.Entry{UUID: MeasurementUUID, Name: "Cycling Power Measurement", NewCharacteristic: newMeasurement}),
		r.Register(gatt.Entry{UUID: VectorUUID, Name: "Cycling Power Vector", NewCharacteristic: newVector}),
		r.Register(gatt.Entry{UUID: ControlPointUUID, Name: "Cycling Power Control Point", NewCharacteristic: newControlPoint}),
	)
}

// Service is the Cycling Power Service.
type Service struct {
	*gatt.BLEService
}

func newService(base *gatt.BLEService) gatt.Service {
	return &Service{BLEService: base}
}

func (s *Service) Measurement() (*MeasurementCharacteristic, error) {
	return gatt.CharacteristicAs[*MeasurementCharacteristic](s, MeasurementUUID.String())
}

func (s *Service) Vector() (*VectorCharacteristic, error) {
	return gatt.CharacteristicAs[*VectorCharacteristic](s, VectorUUID.String())
}

func (s *Service) ControlPoint() (*ControlPoint, error) {
	return gatt.CharacteristicAs[*ControlPoint](s, ControlPointUUID.String())
}

// Calibration is the result of an offset compensation request.
type Calibration struct {
	Raw int16   `json:"nm32"` // 1/32 Nm
	Nm  float64 `json:"Nm"`
}

// Calibrate asks the sensor to compensate its zero offset and returns the
// offset it measured.
func (s *Service) Calibrate() (Calibration, error) {
	cp, err := s.ControlPoint()
	if err != nil {
		return Calibration{}, err
	}
	params, err := cp.Request(OpStartOffsetCompensation)
	if err != nil {
		return Calibration{}, err
	}
	raw, err := gatt.NewFieldReader(params).Int16("offset")
	if err != nil {
		return Calibration{}, err
	}
	cal := Calibration{Raw: raw, Nm: float64(raw) / 32}
	s.Logger().WithField("offset_nm", cal.Nm).Info("Calibration complete")
	return cal, nil
}
