package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/srg/gattc/internal/gatt"
)

var (
	labelColor   = color.New(color.FgCyan)
	valueColor   = color.New(color.FgHiWhite)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgHiRed, color.Bold)
)

func errorLabel(s string) string { return errorColor.Sprint(s) }

// printer writes one line per value, as colored text or as JSON objects.
// Lines from concurrent subscriptions never interleave.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, json: format == "json"}
}

type valueLine struct {
	UUID  string `json:"uuid,omitempty"`
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
}

// Value prints the value read from c.
func (p *printer) Value(c gatt.Characteristic, v any) error {
	label := c.Name()
	if label == "" {
		label = c.UUID().Short()
	}
	return p.emit(valueLine{UUID: c.UUID().Short(), Name: c.Name(), Value: v}, label)
}

// Result prints a value that did not come from a single characteristic.
func (p *printer) Result(name string, v any) error {
	return p.emit(valueLine{Name: name, Value: v}, name)
}

func (p *printer) emit(line valueLine, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if raw, ok := line.Value.([]byte); ok {
		line.Value = hex.EncodeToString(raw)
	}
	if p.json {
		return json.NewEncoder(p.w).Encode(line)
	}
	_, err := fmt.Fprintf(p.w, "%s: %s\n", labelColor.Sprint(label), valueColor.Sprint(formatText(line.Value)))
	return err
}

// Line prints a status message in text mode; JSON mode stays machine-only.
func (p *printer) Line(c *color.Color, format string, args ...any) {
	if p.json {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = c.Fprintf(p.w, format+"\n", args...)
}

// formatText renders decoded values: strings and Stringers as-is, numbers
// with %v, structs as compact JSON.
func formatText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case uint8, uint16, uint32, int, int16, float64:
		return fmt.Sprint(val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// parseHex accepts "0102", "01 02", "01:02", "0x01,0x02".
func parseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", ",", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

// splitKeys parses a comma-separated key list, dropping blanks.
func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
