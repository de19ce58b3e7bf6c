package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/testutils"
)

// ReadCommandTestSuite reads from the default battery peripheral.
type ReadCommandTestSuite struct {
	CommandTestSuite
}

func (s *ReadCommandTestSuite) TestReadDecoded() {
	// GOAL: A known characteristic is printed decoded under its name
	//
	// TEST SCENARIO: battery level holds [50] → read battery_level → "Battery Level: 50"

	out, err := s.Execute("read", testutils.TestAddress, "battery_level")
	s.Require().NoError(err)
	s.Equal("Battery Level: 50\n", out)
	s.Equal(1, s.Peripheral.Connects())
}

func (s *ReadCommandTestSuite) TestReadHex() {
	out, err := s.Execute("read", testutils.TestAddress, "2a19", "--hex")
	s.Require().NoError(err)
	s.Equal("Battery Level: 32\n", out, "--hex MUST print the raw byte 0x32")
}

func (s *ReadCommandTestSuite) TestReadJSON() {
	out, err := s.Execute("read", testutils.TestAddress, "2a19", "--service", "180f", "-o", "json")
	s.Require().NoError(err)
	s.JSONEq(`{"uuid":"2a19","name":"Battery Level","value":50}`, out)
}

func (s *ReadCommandTestSuite) TestReadNotFound() {
	_, err := s.Execute("read", testutils.TestAddress, "2a37")
	s.ErrorIs(err, gatt.ErrNotFound)
}

func (s *ReadCommandTestSuite) TestReadTransportFailure() {
	// GOAL: A failing read surfaces as a transport error
	//
	// TEST SCENARIO: reads of 2a19 fail → read 2a19 → TransportError for op "read"

	s.Peripheral.FailOn("read", gatt.UUID16(0x2a19), errors.New("att: request timed out"))

	_, err := s.Execute("read", testutils.TestAddress, "2a19")
	s.Require().Error(err)
	var te *gatt.TransportError
	s.Require().ErrorAs(err, &te)
	s.Contains(FormatUserError(err), "transport failure")
}

func (s *ReadCommandTestSuite) TestWatchUntilLinkDrops() {
	// GOAL: Watch mode keeps reading until the peripheral goes away
	//
	// TEST SCENARIO: read --watch=20ms → a few reads → link dropped → ErrConnectionLost

	p := s.Peripheral
	go func() {
		for p.Connects() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(80 * time.Millisecond)
		p.DropLink()
	}()

	out, err := s.Execute("read", testutils.TestAddress, "2a19", "--watch=20ms")
	s.ErrorIs(err, ErrConnectionLost)
	s.Contains(out, "Watching Battery Level Characteristic")
	s.Contains(out, "Battery Level: 50")
}

func (s *ReadCommandTestSuite) TestWatchRejectsSeveralKeys() {
	_, err := s.Execute("read", testutils.TestAddress, "2a19,2a00", "--watch")
	s.ErrorContains(err, "single characteristic")
	s.Equal(0, s.Peripheral.Connects(), "argument errors MUST be caught before connecting")
}

func TestReadCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ReadCommandTestSuite))
}

type WriteCommandTestSuite struct {
	CommandTestSuite
}

func (s *WriteCommandTestSuite) SetupTest() {
	s.WithPeripheral().
		WithService("1800").
		WithCharacteristic("2A00", "read,write", []byte("Sensor\x00")).
		WithService("180D").
		WithCharacteristic("2A37", "notify", nil).
		WithCharacteristic("2A39", "write", nil)
	s.CommandTestSuite.SetupTest()
}

func (s *WriteCommandTestSuite) TestWriteString() {
	// GOAL: Text goes to string characteristics NUL terminated
	//
	// TEST SCENARIO: write device_name "Trainer" → peripheral sees "Trainer\x00" with response → "Write successful"

	out, err := s.Execute("write", testutils.TestAddress, "device_name", "Trainer")
	s.Require().NoError(err)
	s.Contains(out, "Write successful")

	writes := s.Peripheral.Writes("2A00")
	s.Require().Len(writes, 1)
	s.Equal([]byte("Trainer\x00"), writes[0].Data)
	s.True(writes[0].WithResponse)
}

func (s *WriteCommandTestSuite) TestWriteHex() {
	_, err := s.Execute("write", testutils.TestAddress, "2a39", "01", "--hex")
	s.Require().NoError(err)

	writes := s.Peripheral.Writes("2A39")
	s.Require().Len(writes, 1)
	s.Equal([]byte{0x01}, writes[0].Data)
}

func (s *WriteCommandTestSuite) TestWriteWithoutResponseNeedsFlag() {
	// GOAL: A write command is refused on a characteristic that only accepts requests
	//
	// TEST SCENARIO: 2a39 has only "write" → --without-response → ErrAccessDenied, nothing written

	_, err := s.Execute("write", testutils.TestAddress, "2a39", "01", "--hex", "--without-response")
	s.ErrorIs(err, gatt.ErrAccessDenied)
	s.Empty(s.Peripheral.Writes("2A39"))
}

func (s *WriteCommandTestSuite) TestWriteBadHex() {
	_, err := s.Execute("write", testutils.TestAddress, "2a39", "zz", "--hex")
	s.ErrorContains(err, "invalid hex data")
	s.Equal(0, s.Peripheral.Connects())
}

func TestWriteCommandTestSuite(t *testing.T) {
	suite.Run(t, new(WriteCommandTestSuite))
}
