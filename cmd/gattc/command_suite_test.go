package main

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/testutils"
	"github.com/srg/gattc/pkg/config"
)

// CommandTestSuite runs gattc commands against a fake peripheral.
// All cmd/gattc test suites embed it instead of testutils.PeripheralSuite.
type CommandTestSuite struct {
	testutils.PeripheralSuite

	configPath    string
	origTransport func(*config.Config, *logrus.Logger) (gatt.Transport, error)
	origTerminal  func(*os.File) bool
	origNoColor   bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.PeripheralSuite.SetupSuite()
	s.origTransport = newTransport
	s.origTerminal = isTerminal
	s.origNoColor = color.NoColor
	isTerminal = func(*os.File) bool { return false }
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	newTransport = s.origTransport
	isTerminal = s.origTerminal
	color.NoColor = s.origNoColor
}

func (s *CommandTestSuite) SetupTest() {
	s.PeripheralSuite.SetupTest()

	// Short timeouts keep failure paths fast; panic level keeps logs quiet.
	s.configPath = filepath.Join(s.T().TempDir(), "gattc.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(`
log_level: panic
connect_timeout: 2s
notify_timeout: 300ms
operation_timeout: 1s
dfu_response_timeout: 300ms
`), 0o600))

	newTransport = func(*config.Config, *logrus.Logger) (gatt.Transport, error) {
		return s.Peripheral, nil
	}
	resetFlags(rootCmd)
}

// resetFlags puts every flag of cmd and its children back to its default,
// since cobra keeps parsed values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// Execute runs gattc with args and the suite's config file, returning what
// the command printed.
func (s *CommandTestSuite) Execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config=" + s.configPath}, args...))
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

// notifyWhenSubscribed pushes frames to uuid once the command has enabled
// notifications on it.
func (s *CommandTestSuite) notifyWhenSubscribed(uuid string, frames ...[]byte) {
	p := s.Peripheral
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for !p.Notify(uuid, frames[0]) {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		for _, f := range frames[1:] {
			p.Notify(uuid, f)
		}
	}()
}
