package testutils

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattc/internal/gatt"
)

// TestAddress is the address every suite device connects to.
const TestAddress = "AA:BB:CC:DD:EE:FF"

// NewTestLogger returns a debug logger that writes nowhere unless verbose.
func NewTestLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if !verbose {
		logger.SetOutput(io.Discard)
	}
	return logger
}

// PeripheralSuite runs tests against a FakePeripheral.
//
// Default usage connects to a peripheral exposing the Battery Service:
//
//	type BatterySuite struct {
//	    testutils.PeripheralSuite
//	}
//
// Custom layouts are configured before calling the parent SetupTest:
//
//	func (s *HRSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "notify", nil)
//	    s.PeripheralSuite.SetupTest()
//	}
type PeripheralSuite struct {
	suite.Suite

	Logger   *logrus.Logger
	Registry *gatt.Registry // nil means an empty registry

	// Options tweak the gatt options used by Connect. Logger and Registry are
	// filled from the suite.
	Options gatt.Options

	Builder    *PeripheralBuilder
	Peripheral *FakePeripheral
}

func (s *PeripheralSuite) SetupSuite() {
	s.Logger = NewTestLogger(testing.Verbose())
}

// SetupTest builds the peripheral configured through WithPeripheral, or the
// default battery peripheral.
func (s *PeripheralSuite) SetupTest() {
	if s.Logger == nil {
		s.Logger = NewTestLogger(false)
	}
	if s.Builder == nil || s.Builder.Empty() {
		s.Builder = defaultPeripheral()
	}
	p, err := s.Builder.Build()
	s.Require().NoError(err, "fake peripheral MUST build")
	s.Peripheral = p
}

func (s *PeripheralSuite) TearDownTest() {
	s.Builder = nil
	s.Peripheral = nil
	s.Options = gatt.Options{}
}

// WithPeripheral returns the builder for the next test's peripheral.
func (s *PeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.Builder == nil {
		s.Builder = NewPeripheralBuilder()
	}
	return s.Builder
}

// NewDevice returns an unconnected device bound to the fake peripheral.
func (s *PeripheralSuite) NewDevice() *gatt.Device {
	opts := s.Options
	opts.Logger = s.Logger
	opts.Registry = s.Registry
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.NotifyTimeout == 0 {
		opts.NotifyTimeout = 200 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	return gatt.NewDevice(TestAddress, s.Peripheral, &opts)
}

// Connect returns a connected device and disconnects it at test end.
func (s *PeripheralSuite) Connect() *gatt.Device {
	d := s.NewDevice()
	s.Require().NoError(d.Connect(context.Background()), "device MUST connect to the fake peripheral")
	s.T().Cleanup(func() { _ = d.Disconnect() })
	return d
}

// Characteristic connects (if needed) and looks up key.
func (s *PeripheralSuite) Characteristic(d *gatt.Device, key string) gatt.Characteristic {
	c, err := d.Characteristic(key)
	s.Require().NoError(err, "characteristic %s MUST be discoverable", key)
	return c
}

func defaultPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(`
	{
		"services": [
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
				]
			}
		]
	}`)
}
