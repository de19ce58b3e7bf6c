package cyclingpower

import (
	"github.com/srg/gattc/internal/gatt"
)

// Cycling Power Vector flag bits.
const (
	VectorFlagCrankRevolutionData uint8 = 1 << iota
	VectorFlagFirstCrankAngle
	VectorFlagForceArray
	VectorFlagTorqueArray

	vectorDirectionShift = 4
	vectorDirectionMask  = 0x3
)

// Direction of the instantaneous measurements.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionTangential
	DirectionRadial
	DirectionLateral
)

func (d Direction) String() string {
	switch d {
	case DirectionTangential:
		return "Tangential Component"
	case DirectionRadial:
		return "Radial Component"
	case DirectionLateral:
		return "Lateral Component"
	default:
		return "Unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Vector is one decoded Cycling Power Vector.
type Vector struct {
	Flags uint8 `json:"flags"`

	CrankRevolutions *uint16  `json:"crank_revs,omitempty"`
	CrankEventTime   *float64 `json:"crank_time,omitempty"` // seconds

	FirstCrankAngle *uint16 `json:"first_crank_angle,omitempty"` // degrees

	Forces  []int16   `json:"forces,omitempty"`  // N
	Torques []float64 `json:"torques,omitempty"` // Nm

	Direction Direction `json:"direction"`
}

// DecodeVector parses a Cycling Power Vector payload. The force and torque
// arrays are mutually exclusive and consume the rest of the payload.
func DecodeVector(raw []byte) (Vector, error) {
	var v Vector
	r := gatt.NewFieldReader(raw)

	flags, err := r.Uint8("flags")
	if err != nil {
		return v, err
	}
	v.Flags = flags
	v.Direction = Direction((flags >> vectorDirectionShift) & vectorDirectionMask)

	if flags&VectorFlagForceArray != 0 && flags&VectorFlagTorqueArray != 0 {
		return v, gatt.NewDecodeError("flags", "force and torque arrays both announced (flags 0x%02x)", flags)
	}

	if flags&VectorFlagCrankRevolutionData != 0 {
		revs, err := r.Uint16("crank revolutions")
		if err != nil {
			return v, err
		}
		t, err := r.Uint16("last crank event time")
		if err != nil {
			return v, err
		}
		secs := float64(t) / 1024
		v.CrankRevolutions, v.CrankEventTime = &revs, &secs
	}

	if flags&VectorFlagFirstCrankAngle != 0 {
		a, err := r.Uint16("first crank measurement angle")
		if err != nil {
			return v, err
		}
		v.FirstCrankAngle = &a
	}

	switch {
	case flags&VectorFlagForceArray != 0:
		if v.Forces, err = r.Int16s("instantaneous force"); err != nil {
			return v, err
		}
	case flags&VectorFlagTorqueArray != 0:
		raw, err := r.Int16s("instantaneous torque")
		if err != nil {
			return v, err
		}
		v.Torques = make([]float64, len(raw))
		for i, t := range raw {
			v.Torques[i] = float64(t) / 32
		}
	}
	return v, nil
}

// VectorCharacteristic decodes 0x2A64 notifications.
type VectorCharacteristic struct {
	*gatt.BLECharacteristic
}

func newVector(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &VectorCharacteristic{BLECharacteristic: base}
}

func (c *VectorCharacteristic) Vector() (Vector, error) {
	raw, err := c.Raw()
	if err != nil {
		return Vector{}, err
	}
	return DecodeVector(raw)
}

func (c *VectorCharacteristic) Value() (any, error) {
	return c.Vector()
}
