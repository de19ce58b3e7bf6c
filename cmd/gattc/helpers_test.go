package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/profile/dfu"
	"github.com/srg/gattc/internal/profile/heartrate"
	"github.com/srg/gattc/internal/transport/goble"
	"github.com/srg/gattc/pkg/config"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "boom"},
		{"bluetooth off", fmt.Errorf("open adapter: %w", goble.ErrBluetoothOff), "turn Bluetooth on"},
		{"connect timeout", fmt.Errorf("%w: AA after 1s", gatt.ErrConnectTimeout), "raise --connect-timeout"},
		{"not found", &gatt.NotFoundError{Resource: "characteristic", UUIDs: []string{"2a37"}}, "does not expose it"},
		{"dfu order", fmt.Errorf("image: %w", dfu.ErrOutOfOrder), "restart the update"},
		{"link lost", ErrConnectionLost, "peripheral disconnected"},
		{"transport", &gatt.TransportError{Op: "write", Err: errors.New("hci: timeout")}, "transport failure during write"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatUserError(tt.err)
			if tt.err == nil {
				assert.Empty(t, got)
				return
			}
			assert.True(t, strings.HasPrefix(got, tt.err.Error()), "the error text MUST come first: %q", got)
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"0102ff", "01 02 FF", "01:02:ff", "0x01,0x02,0xFF", "01-02-ff"} {
		got, err := parseHex(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, []byte{0x01, 0x02, 0xff}, got, "input %q", in)
	}

	_, err := parseHex("0g")
	assert.ErrorContains(t, err, "invalid hex data")
	_, err = parseHex("123")
	assert.Error(t, err, "an odd digit count MUST be rejected")
}

func TestSplitKeys(t *testing.T) {
	assert.Equal(t, []string{"2a37", "battery_level"}, splitKeys(" 2a37, ,battery_level,"))
	assert.Empty(t, splitKeys(" , "))
}

func TestFormatText(t *testing.T) {
	assert.Equal(t, "Trainer", formatText("Trainer"))
	assert.Equal(t, "Chest", formatText(heartrate.Location(1)))
	assert.Equal(t, "77", formatText(uint8(77)))
	assert.Equal(t, "-12", formatText(int16(-12)))
	assert.Equal(t, `{"hr":80}`, formatText(heartrate.Measurement{HeartRate: 80}))
}

func TestPrinterModes(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	var text, js bytes.Buffer

	tp := newPrinter(&text, "text")
	require.NoError(t, tp.Result("raw", []byte{0xde, 0xad}))
	tp.Line(successColor, "done %d", 1)
	assert.Equal(t, "raw: dead\ndone 1\n", text.String())

	jp := newPrinter(&js, "json")
	require.NoError(t, jp.Result("raw", []byte{0xde, 0xad}))
	jp.Line(successColor, "never shown")
	assert.JSONEq(t, `{"name":"raw","value":"dead"}`, js.String())
}

func newLoggerCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	// GOAL: Flags beat the config file, and nothing is logged without either
	//
	// TEST SCENARIO: no flags → panic; file level warn → warn; --verbose → debug; --log-level error beats --verbose

	cfg := config.DefaultConfig()
	cfg.LogLevel = logrus.WarnLevel

	logger, err := configureLogger(newLoggerCommand(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())

	logger, err = configureLogger(newLoggerCommand(), cfg, true)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	cmd := newLoggerCommand()
	require.NoError(t, cmd.Flags().Set("verbose", "true"))
	logger, err = configureLogger(cmd, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	require.NoError(t, cmd.Flags().Set("log-level", "error"))
	logger, err = configureLogger(cmd, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, logrus.ErrorLevel, logger.GetLevel())
	assert.Equal(t, logrus.WarnLevel, cfg.LogLevel, "the config MUST NOT be modified")

	cmd = newLoggerCommand()
	require.NoError(t, cmd.Flags().Set("log-level", "trace"))
	_, err = configureLogger(cmd, cfg, false)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter("Reading 2a19", "Connecting")
	p.out = &buf
	p.enabled = true

	p.Start()
	p.SetPhase("Reading")
	time.Sleep(3 * progressUpdateInterval / 2)
	p.Stop()
	p.Stop()

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\rReading 2a19 (Connecting...)"))
	assert.Contains(t, out, "(Reading")
	assert.True(t, strings.HasSuffix(out, clearLineSequence))
	assert.Panics(t, p.Start, "a printer MUST be single-use")
}

func TestProgressPrinterDisabled(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter("Reading", "Connecting")
	p.out = &buf
	p.enabled = false

	p.Start()
	p.Stop()
	assert.Empty(t, buf.String())
}

func TestTransferProgress(t *testing.T) {
	p := NewProgressPrinter("Updating", "start")
	update := transferProgress(p)

	update(dfu.StateImageTransfer, 15, 60)
	assert.Equal(t, "image-transfer 25%", p.phase.Load())

	update(dfu.StateValidate, 0, 0)
	assert.Equal(t, dfu.StateValidate.String(), p.phase.Load())
}
