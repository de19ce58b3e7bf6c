package gatt_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattc/internal/gatt"
)

func TestCanonicalize(t *testing.T) {
	const hr = "0000180d-0000-1000-8000-00805f9b34fb"

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit lowercase", input: "180d", expected: hr},
		{name: "16-bit uppercase with 0x", input: "0x180D", expected: hr},
		{name: "32-bit alias", input: "0000180d", expected: hr},
		{name: "full dashed", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: hr},
		{name: "full without dashes", input: "0000180d00001000800000805f9b34fb", expected: hr},
		{name: "braced", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: hr},
		{name: "vendor uuid", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "surrounding space", input: "  2a37 ", expected: "00002a37-0000-1000-8000-00805f9b34fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := gatt.Canonicalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}
}

func TestCanonicalizeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "xyz", "180g", "0000180d-0000-1000-8000", "not-a-uuid-at-all-really"} {
		_, err := gatt.Canonicalize(in)
		assert.Error(t, err, "%q MUST be rejected", in)
	}
}

func TestUUIDEquality(t *testing.T) {
	// GOAL: Every spelling of one UUID is the same map key
	//
	// TEST SCENARIO: canonicalize three spellings → use as map keys → one entry

	m := map[gatt.UUID]int{}
	for _, s := range []string{"180d", "0x180D", "0000180d-0000-1000-8000-00805f9b34fb"} {
		m[gatt.MustParseUUID(s)]++
	}
	assert.Len(t, m, 1)
	assert.Equal(t, 3, m[gatt.UUID16(0x180d)])
}

func TestUUIDShortForms(t *testing.T) {
	assert.Equal(t, "180d", gatt.UUID16(0x180d).Short())
	assert.Equal(t, "12345678", gatt.UUID32(0x12345678).Short())
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e").Short())

	assert.True(t, gatt.UUID16(0x2a37).IsSIG())
	assert.False(t, gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e").IsSIG())

	assert.Equal(t, uint32(0x1805), gatt.UUID16(0x1805).ShortID())
	assert.Equal(t, uint32(0x6e400001), gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e").ShortID())

	assert.True(t, gatt.UUID{}.IsZero())
	assert.False(t, gatt.BaseUUID.IsZero())
}

func TestUUIDText(t *testing.T) {
	in := map[gatt.UUID]string{gatt.UUID16(0x2a19): "battery"}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"00002a19-0000-1000-8000-00805f9b34fb":"battery"}`, string(data))

	var out map[gatt.UUID]string
	require.NoError(t, json.Unmarshal([]byte(`{"2a19":"battery"}`), &out))
	assert.Equal(t, in, out)
}
