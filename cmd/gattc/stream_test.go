package main

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/gattc/internal/testutils"
)

// StreamCommandTestSuite covers the notification commands against a heart
// rate sensor with battery service.
type StreamCommandTestSuite struct {
	CommandTestSuite
}

func (s *StreamCommandTestSuite) SetupTest() {
	s.WithPeripheral().
		WithService("180D").
		WithCharacteristic("2A37", "notify", nil).
		WithCharacteristic("2A38", "read", []byte{0x01}).
		WithCharacteristic("2A39", "write", nil).
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{77})
	s.CommandTestSuite.SetupTest()
}

func jsonLines(s *suite.Suite, out string) []map[string]any {
	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m map[string]any
		s.Require().NoError(json.Unmarshal(sc.Bytes(), &m), "line MUST be JSON: %s", sc.Text())
		lines = append(lines, m)
	}
	return lines
}

func (s *StreamCommandTestSuite) TestSubscribeCount() {
	// GOAL: subscribe prints each decoded notification and stops after --count
	//
	// TEST SCENARIO: two measurements 80 and 81 bpm → subscribe --count 2 -o json → two lines → CCCD released

	s.notifyWhenSubscribed("2A37", []byte{0x00, 0x50}, []byte{0x00, 0x51})

	out, err := s.Execute("subscribe", testutils.TestAddress, "heart_rate_measurement", "--count", "2", "-o", "json")
	s.Require().NoError(err)

	lines := jsonLines(&s.Suite, out)
	s.Require().Len(lines, 2)
	s.Equal("2a37", lines[0]["uuid"])
	s.Equal(map[string]any{"hr": 80.0}, lines[0]["value"])
	s.Equal(map[string]any{"hr": 81.0}, lines[1]["value"])

	s.Equal(1, s.Peripheral.Subscribes("2A37"))
	s.Equal(1, s.Peripheral.Unsubscribes("2A37"), "disconnect MUST release the subscription")
}

func (s *StreamCommandTestSuite) TestSubscribeHex() {
	s.notifyWhenSubscribed("2A37", []byte{0x00, 0x50})

	out, err := s.Execute("subscribe", testutils.TestAddress, "2a37", "--count", "1", "--hex")
	s.Require().NoError(err)
	s.Equal("Heart Rate Measurement: 0050\n", out)
}

func (s *StreamCommandTestSuite) TestSubscribeConnectionLost() {
	// GOAL: A dropped link ends the stream with a connection lost error
	//
	// TEST SCENARIO: subscribed → peripheral drops the link → ErrConnectionLost

	p := s.Peripheral
	go func() {
		for !p.Notify("2A37", []byte{0x00, 0x50}) {
			time.Sleep(5 * time.Millisecond)
		}
		p.DropLink()
	}()

	_, err := s.Execute("subscribe", testutils.TestAddress, "2a37")
	s.ErrorIs(err, ErrConnectionLost)
}

func (s *StreamCommandTestSuite) TestSubscribeNotNotifiable() {
	_, err := s.Execute("subscribe", testutils.TestAddress, "2a39")
	s.Require().Error(err)
	s.Equal(0, s.Peripheral.Subscribes("2A39"))
}

func (s *StreamCommandTestSuite) TestHeartRate() {
	// GOAL: hr prints location and battery before streaming measurements
	//
	// TEST SCENARIO: location [1], battery [77], one measurement with energy → Chest, 77, {"hr":80,...}

	s.notifyWhenSubscribed("2A37", []byte{0x08, 0x50, 0x3C, 0x00})

	out, err := s.Execute("hr", testutils.TestAddress, "--count", "1")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 3)
	s.Equal("Body Sensor Location: Chest", lines[0])
	s.Equal("Battery Level: 77", lines[1])
	s.Equal(`Heart Rate Measurement: {"hr":80,"energy_expended":60}`, lines[2])
}

func (s *StreamCommandTestSuite) TestHeartRateResetEnergy() {
	s.notifyWhenSubscribed("2A37", []byte{0x00, 0x50})

	out, err := s.Execute("hr", testutils.TestAddress, "--count", "1", "--reset-energy")
	s.Require().NoError(err)
	s.Contains(out, "Energy expended reset")

	writes := s.Peripheral.Writes("2A39")
	s.Require().Len(writes, 1)
	s.Equal([]byte{0x01}, writes[0].Data)
}

func TestStreamCommandTestSuite(t *testing.T) {
	suite.Run(t, new(StreamCommandTestSuite))
}
