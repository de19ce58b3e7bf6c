package gatt_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/testutils"
)

type CharacteristicTestSuite struct {
	testutils.PeripheralSuite
	device *gatt.Device
}

func (s *CharacteristicTestSuite) SetupTest() {
	s.Registry = gatt.NewRegistry()
	s.Require().NoError(s.Registry.Register(gatt.Entry{UUID: gatt.UUID16(0x2a00), Name: "Device Name"}))

	s.WithPeripheral().
		WithService("1800").
		WithCharacteristic("2A00", "read,write", []byte("Sensor\x00\x00")).
		WithService("AAAA").
		WithCharacteristic("A001", "read", []byte{0x01}).
		WithCharacteristic("A002", "write-without-response", nil).
		WithCharacteristic("A003", "write", nil).
		WithCharacteristic("A004", "notify", nil).
		WithCharacteristic("A005", "indicate", nil).
		WithCharacteristic("A006", "read,write,write-without-response,notify,indicate", []byte{0x06}).
		WithCharacteristic("A007", "", nil)
	s.PeripheralSuite.SetupTest()
	s.device = s.Connect()
}

func (s *CharacteristicTestSuite) char(key string) gatt.Characteristic {
	return s.Characteristic(s.device, key)
}

func (s *CharacteristicTestSuite) TestDefaultProcedures() {
	// GOAL: Procedures start from the advertised flags
	//
	// TEST SCENARIO: discover each characteristic → check initial read and write procedures

	tests := []struct {
		uuid  string
		read  gatt.ReadProcedure
		write gatt.WriteProcedure
	}{
		{"A001", gatt.ReadRequest, gatt.WriteDisallowed},
		{"A002", gatt.ReadDisallowed, gatt.WriteCommand},
		{"A003", gatt.ReadDisallowed, gatt.WriteRequest},
		{"A004", gatt.ReadDisallowed, gatt.WriteDisallowed},
		{"A006", gatt.ReadRequest, gatt.WriteRequest},
		{"A007", gatt.ReadDisallowed, gatt.WriteDisallowed},
	}
	for _, tt := range tests {
		c := s.char(tt.uuid)
		s.Equal(tt.read, c.ReadProcedure(), "%s read procedure", tt.uuid)
		s.Equal(tt.write, c.WriteProcedure(), "%s write procedure", tt.uuid)
	}
}

func (s *CharacteristicTestSuite) TestReadProcedureMatrix() {
	// GOAL: A read procedure is accepted iff the flags allow it
	//
	// TEST SCENARIO: every characteristic × every read procedure → AccessDenied exactly when the flag is missing

	procs := []gatt.ReadProcedure{gatt.ReadRequest, gatt.ReadCommand, gatt.ReadNotify, gatt.ReadIndicate}
	need := map[gatt.ReadProcedure]gatt.Flags{
		gatt.ReadRequest:  gatt.FlagRead,
		gatt.ReadCommand:  gatt.FlagRead,
		gatt.ReadNotify:   gatt.FlagNotify,
		gatt.ReadIndicate: gatt.FlagIndicate,
	}

	for _, key := range []string{"A001", "A002", "A003", "A004", "A005", "A006", "A007"} {
		for _, p := range procs {
			s.Run(fmt.Sprintf("%s/%s", key, p), func() {
				c := s.char(key)
				before := c.ReadProcedure()
				err := c.SetReadProcedure(p)
				if c.Flags().Has(need[p]) {
					s.NoError(err)
					s.Equal(p, c.ReadProcedure())
				} else {
					s.ErrorIs(err, gatt.ErrAccessDenied)
					s.Equal(before, c.ReadProcedure(), "a rejected procedure MUST NOT change state")
				}
			})
		}
	}
}

func (s *CharacteristicTestSuite) TestWriteProcedureMatrix() {
	need := map[gatt.WriteProcedure]gatt.Flags{
		gatt.WriteRequest: gatt.FlagWrite,
		gatt.WriteCommand: gatt.FlagWriteNoResponse,
	}
	for _, key := range []string{"A001", "A002", "A003", "A006", "A007"} {
		for p, flag := range need {
			c := s.char(key)
			err := c.SetWriteProcedure(p)
			if c.Flags().Has(flag) {
				s.NoError(err, "%s %s", key, p)
				s.Equal(p, c.WriteProcedure())
			} else {
				s.ErrorIs(err, gatt.ErrAccessDenied, "%s %s", key, p)
			}
		}
		s.NoError(s.char(key).SetWriteProcedure(gatt.WriteDisallowed), "disallowed MUST always be accepted")
	}
}

func (s *CharacteristicTestSuite) TestReadWrite() {
	c := s.char("A006")

	data, err := c.Raw()
	s.Require().NoError(err)
	s.Equal([]byte{0x06}, data)

	s.Require().NoError(c.SetRaw([]byte{0x10, 0x20}))
	writes := s.Peripheral.Writes("A006")
	s.Require().Len(writes, 1)
	s.Equal([]byte{0x10, 0x20}, writes[0].Data)
	s.True(writes[0].WithResponse, "request procedure MUST write with response")

	s.Require().NoError(c.SetWriteProcedure(gatt.WriteCommand))
	s.Require().NoError(c.SetRaw([]byte{0x30}))
	writes = s.Peripheral.Writes("A006")
	s.Require().Len(writes, 2)
	s.False(writes[1].WithResponse, "command procedure MUST write without response")
}

func (s *CharacteristicTestSuite) TestDisallowedAccess() {
	_, err := s.char("A003").Raw()
	s.ErrorIs(err, gatt.ErrAccessDenied, "reading a write-only characteristic MUST be denied")

	err = s.char("A001").SetRaw([]byte{1})
	s.ErrorIs(err, gatt.ErrAccessDenied, "writing a read-only characteristic MUST be denied")

	s.Empty(s.Peripheral.Writes("A001"), "a denied write MUST NOT reach the peripheral")
}

func (s *CharacteristicTestSuite) TestStringValue() {
	// GOAL: String-typed characteristics strip trailing NULs on read and add one on write
	//
	// TEST SCENARIO: read Device Name → "Sensor" → write "Probe" → peripheral sees "Probe\x00"

	c := s.char("2A00")
	s.Equal("Device Name", c.Name())

	v, err := c.Value()
	s.Require().NoError(err)
	s.Equal("Sensor", v)

	s.Require().NoError(c.SetValue("Probe"))
	writes := s.Peripheral.Writes("2A00")
	s.Require().Len(writes, 1)
	s.Equal([]byte("Probe\x00"), writes[0].Data)

	s.Error(c.SetValue(42), "unsupported value types MUST be rejected")
}

func (s *CharacteristicTestSuite) TestGenericValueIsRaw() {
	v, err := s.char("A001").Value()
	s.Require().NoError(err)
	s.Equal([]byte{0x01}, v)
}

func (s *CharacteristicTestSuite) TestSetNotifyingIdempotent() {
	// GOAL: Repeated enable/disable does not repeat transport calls
	//
	// TEST SCENARIO: enable twice → one CCCD write → disable twice → CCCD cleared once

	c := s.char("A004")
	s.Require().NoError(c.SetNotifying(true))
	s.Require().NoError(c.SetNotifying(true))
	s.True(c.Notifying())
	s.Equal(gatt.CCCDNotify, s.Peripheral.CCCD("A004"))
	s.Equal(gatt.ReadNotify, c.ReadProcedure())
	s.Equal(1, s.Peripheral.Subscribes("A004"), "a second enable MUST NOT reach the peripheral")

	s.Require().NoError(c.SetNotifying(false))
	s.Require().NoError(c.SetNotifying(false))
	s.False(c.Notifying())
	s.Equal(gatt.CCCDDisable, s.Peripheral.CCCD("A004"))
	s.Equal(1, s.Peripheral.Unsubscribes("A004"), "a second disable MUST NOT reach the peripheral")
	s.Equal(gatt.ReadNotify, c.ReadProcedure(), "disabling MUST leave the read procedure alone")
}

func (s *CharacteristicTestSuite) TestSetNotifyingPrefersIndicate() {
	c := s.char("A006")
	s.Require().NoError(c.SetNotifying(true))
	s.Equal(gatt.ReadIndicate, c.ReadProcedure())
	s.Equal(gatt.CCCDIndicate, s.Peripheral.CCCD("A006"))
}

func (s *CharacteristicTestSuite) TestSetNotifyingUnsupported() {
	err := s.char("A001").SetNotifying(true)
	s.ErrorIs(err, gatt.ErrNotSupported)
}

func (s *CharacteristicTestSuite) TestNotificationsFIFO() {
	// GOAL: Raw under notify returns payloads in arrival order
	//
	// TEST SCENARIO: subscribe → push 3 payloads → Raw ×3 → same order → counter 3

	c := s.char("A004")
	s.Require().NoError(c.SetReadProcedure(gatt.ReadNotify))

	for i := byte(1); i <= 3; i++ {
		s.Require().True(s.Peripheral.Notify("A004", []byte{i}))
	}
	for i := byte(1); i <= 3; i++ {
		data, err := c.Raw()
		s.Require().NoError(err)
		s.Equal([]byte{i}, data)
	}
	s.Equal(uint64(3), c.NotifyCount())
	s.Equal([]byte{3}, c.LastRaw())
}

func (s *CharacteristicTestSuite) TestNotificationOverflowDropsOldest() {
	// GOAL: A full queue drops its oldest payloads and keeps the rest in arrival order
	//
	// TEST SCENARIO: queue of N → push N+3 payloads → Raw ×N → the last N in order → queue empty

	for _, size := range []uint32{2, 4, 5, 256} {
		s.Options.NotifyQueueSize = size
		c := s.Characteristic(s.Connect(), "A004")
		s.Require().NoError(c.SetReadProcedure(gatt.ReadNotify))
		c.SetNotifyTimeout(0)

		total := int(size) + 3
		for i := 0; i < total; i++ {
			s.Require().True(s.Peripheral.Notify("A004", []byte{byte(i)}))
		}

		var got []byte
		for {
			data, err := c.Raw()
			if errors.Is(err, gatt.ErrNotifyTimeout) {
				break
			}
			s.Require().NoError(err)
			got = append(got, data...)
		}

		want := make([]byte, 0, size)
		for i := 3; i < total; i++ {
			want = append(want, byte(i))
		}
		s.Equal(want, got, "queue of %d MUST keep the newest payloads in order", size)
		s.Equal(uint64(total), c.NotifyCount(), "every delivery MUST be counted")
	}
}

func (s *CharacteristicTestSuite) TestDrainNotifications() {
	// GOAL: Draining empties the pending queue but keeps the last value
	//
	// TEST SCENARIO: push 3 payloads → DrainNotifications → 3 dropped → Raw times out → next push is read

	c := s.char("A004")
	s.Require().NoError(c.SetReadProcedure(gatt.ReadNotify))
	c.SetNotifyTimeout(0)

	for i := byte(1); i <= 3; i++ {
		s.Require().True(s.Peripheral.Notify("A004", []byte{i}))
	}
	s.Equal(3, c.DrainNotifications())
	s.Equal([]byte{3}, c.LastRaw(), "draining MUST keep the last value")

	_, err := c.Raw()
	s.ErrorIs(err, gatt.ErrNotifyTimeout, "a drained queue MUST be empty")

	s.Require().True(s.Peripheral.Notify("A004", []byte{4}))
	data, err := c.Raw()
	s.Require().NoError(err)
	s.Equal([]byte{4}, data)
}

func (s *CharacteristicTestSuite) TestNotifyTimeout() {
	c := s.char("A004")
	s.Require().NoError(c.SetNotifying(true))
	c.SetNotifyTimeout(30 * time.Millisecond)

	start := time.Now()
	_, err := c.Raw()
	s.ErrorIs(err, gatt.ErrNotifyTimeout)
	s.GreaterOrEqual(time.Since(start), 30*time.Millisecond, "Raw MUST wait for the notify timeout")
}

func (s *CharacteristicTestSuite) TestZeroNotifyTimeoutDoesNotWait() {
	c := s.char("A004")
	s.Require().NoError(c.SetNotifying(true))
	c.SetNotifyTimeout(0)

	start := time.Now()
	_, err := c.Raw()
	s.ErrorIs(err, gatt.ErrNotifyTimeout)
	s.Less(time.Since(start), 50*time.Millisecond, "a zero timeout MUST fail immediately")
}

func (s *CharacteristicTestSuite) TestRawWaitsForNotification() {
	c := s.char("A005")
	s.Require().NoError(c.SetNotifying(true))
	c.SetNotifyTimeout(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		s.Peripheral.Notify("A005", []byte{0xAB})
	}()

	data, err := c.Raw()
	wg.Wait()
	s.Require().NoError(err)
	s.Equal([]byte{0xAB}, data)
}

func (s *CharacteristicTestSuite) TestSubscribeFailureIsAccessible() {
	// GOAL: A failed subscription leaves the procedure unchanged and surfaces the transport error
	//
	// TEST SCENARIO: peripheral rejects subscribe → SetReadProcedure(notify) fails → still disallowed

	boom := errors.New("cccd write rejected")
	s.Peripheral.FailOn("subscribe", gatt.UUID16(0xa004), boom)

	c := s.char("A004")
	err := c.SetReadProcedure(gatt.ReadNotify)
	s.ErrorIs(err, boom)
	s.True(gatt.IsTransportError(err), "transport failures MUST be wrapped in TransportError")
	s.Equal(gatt.ReadDisallowed, c.ReadProcedure())
	s.False(c.Notifying())
}

func (s *CharacteristicTestSuite) TestReadTransportError() {
	boom := errors.New("att error 0x0e")
	s.Peripheral.FailOn("read", gatt.UUID16(0xa001), boom)

	_, err := s.char("A001").Raw()
	var te *gatt.TransportError
	s.Require().ErrorAs(err, &te)
	s.Equal("read", te.Op)
	s.ErrorIs(err, boom)
}

func (s *CharacteristicTestSuite) TestDeliverCopiesPayload() {
	c := s.char("A004")
	s.Require().NoError(c.SetNotifying(true))

	buf := []byte{1, 2, 3}
	s.Peripheral.Notify("A004", buf)
	buf[0] = 0xFF

	data, err := c.Raw()
	s.Require().NoError(err)
	s.Equal([]byte{1, 2, 3}, data, "queued payloads MUST NOT alias the transport buffer")
}

func (s *CharacteristicTestSuite) TestStringer() {
	s.Equal("a001 Characteristic", s.char("A001").String())
	s.Equal("Device Name Characteristic", s.char("2A00").String())
}

func TestCharacteristicTestSuite(t *testing.T) {
	suite.Run(t, new(CharacteristicTestSuite))
}
