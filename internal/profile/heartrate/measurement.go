package heartrate

import (
	"github.com/srg/gattc/internal/gatt"
)

const (
	flagHR16          = 1 << 0
	flagContactStatus = 1 << 1
	flagContactValid  = 1 << 2
	flagEnergy        = 1 << 3
	flagRR            = 1 << 4
)

// Measurement is one decoded Heart Rate Measurement. Optional fields are nil
// when the sensor did not send them.
type Measurement struct {
	HeartRate      uint16    `json:"hr"`
	SensorContact  *bool     `json:"sensor_contact,omitempty"`
	EnergyExpended *uint16   `json:"energy_expended,omitempty"` // kJ
	RRIntervals    []float64 `json:"rr,omitempty"`              // seconds
}

// Decode parses a Heart Rate Measurement payload.
func Decode(raw []byte) (Measurement, error) {
	var m Measurement
	r := gatt.NewFieldReader(raw)

	flags, err := r.Uint8("flags")
	if err != nil {
		return m, err
	}

	if flags&flagHR16 != 0 {
		m.HeartRate, err = r.Uint16("heart rate")
	} else {
		var hr uint8
		hr, err = r.Uint8("heart rate")
		m.HeartRate = uint16(hr)
	}
	if err != nil {
		return m, err
	}

	if flags&flagContactValid != 0 {
		contact := flags&flagContactStatus != 0
		m.SensorContact = &contact
	}

	if flags&flagEnergy != 0 {
		e, err := r.Uint16("energy expended")
		if err != nil {
			return m, err
		}
		m.EnergyExpended = &e
	}

	if flags&flagRR != 0 {
		raw, err := r.Uint16s("rr interval")
		if err != nil {
			return m, err
		}
		m.RRIntervals = make([]float64, len(raw))
		for i, v := range raw {
			m.RRIntervals[i] = float64(v) / 1024
		}
	}
	return m, nil
}

// MeasurementCharacteristic decodes 0x2A37 notifications.
type MeasurementCharacteristic struct {
	*gatt.BLECharacteristic
}

func newMeasurement(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &MeasurementCharacteristic{BLECharacteristic: base}
}

// Measurement takes the next raw value and decodes it.
func (c *MeasurementCharacteristic) Measurement() (Measurement, error) {
	raw, err := c.Raw()
	if err != nil {
		return Measurement{}, err
	}
	return Decode(raw)
}

func (c *MeasurementCharacteristic) Value() (any, error) {
	return c.Measurement()
}
