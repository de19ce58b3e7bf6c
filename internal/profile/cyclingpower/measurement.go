package cyclingpower

import (
	"github.com/srg/gattc/internal/gatt"
)

// Cycling Power Measurement flag bits.
const (
	FlagPedalPowerBalance uint16 = 1 << iota
	FlagPedalPowerBalanceReference
	FlagAccumulatedTorque
	FlagAccumulatedTorqueSource
	FlagWheelRevolutionData
	FlagCrankRevolutionData
	FlagExtremeForceMagnitudes
	FlagExtremeTorqueMagnitudes
	FlagExtremeAngles
	FlagTopDeadSpotAngle
	FlagBottomDeadSpotAngle
	FlagAccumulatedEnergy
	FlagOffsetCompensationIndicator
)

const unsupportedFlags = FlagExtremeForceMagnitudes | FlagExtremeTorqueMagnitudes |
	FlagExtremeAngles | FlagTopDeadSpotAngle | FlagBottomDeadSpotAngle

// Measurement is one decoded Cycling Power Measurement. Optional fields are
// nil when their flag is clear.
type Measurement struct {
	Flags uint16 `json:"flags"`
	Watts int16  `json:"watts"`

	PowerBalance     *float64 `json:"power_balance,omitempty"` // percent
	BalanceReference string   `json:"balance_reference,omitempty"`

	AccumulatedTorque *float64 `json:"accum_torque,omitempty"` // Nm
	TorqueSource      string   `json:"torque_source,omitempty"`

	WheelRevolutions *uint32 `json:"wheel_revs,omitempty"`
	WheelEventTime   *uint16 `json:"wheel_time,omitempty"` // 1/2048 s

	CrankRevolutions *uint16 `json:"crank_revs,omitempty"`
	CrankEventTime   *uint16 `json:"crank_time,omitempty"` // 1/1024 s

	Joules *uint32 `json:"joules,omitempty"`

	OffsetCompensation bool `json:"offset_compensation,omitempty"`
}

// Decode parses a Cycling Power Measurement payload. Extreme magnitude and
// dead spot fields are not decoded; a payload announcing them is rejected.
// Bytes past the last announced field are ignored.
func Decode(raw []byte) (Measurement, error) {
	var m Measurement
	r := gatt.NewFieldReader(raw)

	flags, err := r.Uint16("flags")
	if err != nil {
		return m, err
	}
	m.Flags = flags
	if flags&unsupportedFlags != 0 {
		return m, gatt.NewDecodeError("flags", "extreme or dead spot fields announced (flags 0x%04x)", flags)
	}
	m.OffsetCompensation = flags&FlagOffsetCompensationIndicator != 0

	if m.Watts, err = r.Int16("instantaneous power"); err != nil {
		return m, err
	}

	if flags&FlagPedalPowerBalance != 0 {
		b, err := r.Int8("pedal power balance")
		if err != nil {
			return m, err
		}
		balance := float64(b) / 2
		m.PowerBalance = &balance
		m.BalanceReference = "Unknown"
		if flags&FlagPedalPowerBalanceReference != 0 {
			m.BalanceReference = "Left"
		}
	}

	if flags&FlagAccumulatedTorque != 0 {
		t, err := r.Uint16("accumulated torque")
		if err != nil {
			return m, err
		}
		torque := float64(t) / 32
		m.AccumulatedTorque = &torque
		m.TorqueSource = "Wheel Based"
		if flags&FlagAccumulatedTorqueSource != 0 {
			m.TorqueSource = "Crank Based"
		}
	}

	if flags&FlagWheelRevolutionData != 0 {
		revs, err := r.Uint32("wheel revolutions")
		if err != nil {
			return m, err
		}
		t, err := r.Uint16("last wheel event time")
		if err != nil {
			return m, err
		}
		m.WheelRevolutions, m.WheelEventTime = &revs, &t
	}

	if flags&FlagCrankRevolutionData != 0 {
		revs, err := r.Uint16("crank revolutions")
		if err != nil {
			return m, err
		}
		t, err := r.Uint16("last crank event time")
		if err != nil {
			return m, err
		}
		m.CrankRevolutions, m.CrankEventTime = &revs, &t
	}

	if flags&FlagAccumulatedEnergy != 0 {
		kj, err := r.Uint16("accumulated energy")
		if err != nil {
			return m, err
		}
		j := uint32(kj) * 1000
		m.Joules = &j
	}
	return m, nil
}

// MeasurementCharacteristic decodes 0x2A63 notifications.
type MeasurementCharacteristic struct {
	*gatt.BLECharacteristic
}

func newMeasurement(base *gatt.BLECharacteristic) gatt.Characteristic {
	return &MeasurementCharacteristic{BLECharacteristic: base}
}

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
