package cyclingpower_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/cyclingpower"
)

func ptr[T any](v T) *T { return &v }

func TestDecodePowerOnly(t *testing.T) {
	// GOAL: A bare measurement decodes to watts with every optional field absent
	//
	// TEST SCENARIO: [0x00 0x00 0x64 0x00] → watts 100 → JSON has only flags and watts

	m, err := cyclingpower.Decode([]byte{0x00, 0x00, 0x64, 0x00})
	require.NoError(t, err)
	assert.Equal(t, cyclingpower.Measurement{Watts: 100}, m)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"flags":0,"watts":100}`, string(data))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		expected cyclingpower.Measurement
	}{
		{
			name:     "negative power",
			raw:      []byte{0x00, 0x00, 0xF6, 0xFF},
			expected: cyclingpower.Measurement{Watts: -10},
		},
		{
			name: "balance with left reference",
			raw:  []byte{0x03, 0x00, 0xC8, 0x00, 0x64},
			expected: cyclingpower.Measurement{
				Flags: 0x03, Watts: 200,
				PowerBalance: ptr(50.0), BalanceReference: "Left",
			},
		},
		{
			name: "negative balance, unknown reference",
			raw:  []byte{0x01, 0x00, 0xC8, 0x00, 0xFE},
			expected: cyclingpower.Measurement{
				Flags: 0x01, Watts: 200,
				PowerBalance: ptr(-1.0), BalanceReference: "Unknown",
			},
		},
		{
			name: "crank based accumulated torque",
			raw:  []byte{0x0C, 0x00, 0x64, 0x00, 0x40, 0x01},
			expected: cyclingpower.Measurement{
				Flags: 0x0C, Watts: 100,
				AccumulatedTorque: ptr(10.0), TorqueSource: "Crank Based",
			},
		},
		{
			name: "wheel and crank revolutions",
			raw: []byte{0x30, 0x00, 0x64, 0x00,
				0x10, 0x27, 0x00, 0x00, 0x00, 0x08,
				0x2A, 0x00, 0x00, 0x04},
			expected: cyclingpower.Measurement{
				Flags: 0x30, Watts: 100,
				WheelRevolutions: ptr(uint32(10000)), WheelEventTime: ptr(uint16(2048)),
				CrankRevolutions: ptr(uint16(42)), CrankEventTime: ptr(uint16(1024)),
			},
		},
		{
			name: "accumulated energy and offset compensation",
			raw:  []byte{0x00, 0x18, 0x64, 0x00, 0x05, 0x00},
			expected: cyclingpower.Measurement{
				Flags: 0x1800, Watts: 100,
				Joules: ptr(uint32(5000)), OffsetCompensation: true,
			},
		},
		{
			name:     "trailing bytes are ignored",
			raw:      []byte{0x00, 0x00, 0x64, 0x00, 0xAA, 0xBB},
			expected: cyclingpower.Measurement{Watts: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := cyclingpower.Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":                  {},
		"missing power":          {0x00, 0x00, 0x64},
		"extreme force flag":     {0x40, 0x00, 0x64, 0x00},
		"extreme torque flag":    {0x80, 0x00, 0x64, 0x00},
		"extreme angles flag":    {0x00, 0x01, 0x64, 0x00},
		"top dead spot flag":     {0x00, 0x02, 0x64, 0x00},
		"bottom dead spot flag":  {0x00, 0x04, 0x64, 0x00},
		"truncated wheel data":   {0x10, 0x00, 0x64, 0x00, 0x01, 0x00, 0x00},
		"truncated crank time":   {0x20, 0x00, 0x64, 0x00, 0x01, 0x00, 0x00},
		"truncated energy field": {0x00, 0x08, 0x64, 0x00, 0x01},
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := cyclingpower.Decode(raw)
			assert.ErrorIs(t, err, gatt.ErrDecode)
		})
	}
}

func TestDecodeVector(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		expected cyclingpower.Vector
	}{
		{
			name: "crank data and first angle",
			raw:  []byte{0x03, 0x05, 0x00, 0x00, 0x08, 0x5A, 0x00},
			expected: cyclingpower.Vector{
				Flags:            0x03,
				CrankRevolutions: ptr(uint16(5)),
				CrankEventTime:   ptr(2.0),
				FirstCrankAngle:  ptr(uint16(90)),
			},
		},
		{
			name: "tangential forces",
			raw:  []byte{0x14, 0x64, 0x00, 0x9C, 0xFF},
			expected: cyclingpower.Vector{
				Flags:     0x14,
				Forces:    []int16{100, -100},
				Direction: cyclingpower.DirectionTangential,
			},
		},
		{
			name: "lateral torques",
			raw:  []byte{0x38, 0x40, 0x00, 0xE0, 0xFF},
			expected: cyclingpower.Vector{
				Flags:     0x38,
				Torques:   []float64{2, -1},
				Direction: cyclingpower.DirectionLateral,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := cyclingpower.DecodeVector(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestDecodeVectorRejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":                 {},
		"force and torque":      {0x0C, 0x01, 0x00},
		"odd force array":       {0x04, 0x01, 0x00, 0x02},
		"truncated crank data":  {0x01, 0x05, 0x00, 0x00},
		"truncated crank angle": {0x02, 0x5A},
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := cyclingpower.DecodeVector(raw)
			assert.ErrorIs(t, err, gatt.ErrDecode)
		})
	}
}

func TestVectorDirectionJSON(t *testing.T) {
	v, err := cyclingpower.DecodeVector([]byte{0x20})
	require.NoError(t, err)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"flags":32,"direction":"Radial Component"}`, string(data))
}
