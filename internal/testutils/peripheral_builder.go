package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cornelk/hashmap"

	"github.com/srg/gattc/internal/gatt"
)

// CharacteristicConfig describes one characteristic of a fake peripheral.
// Properties is a comma separated list: "read,write,notify".
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"`
	Value      Bytes  `json:"value,omitempty"`
}

// Bytes unmarshals from a JSON array of numbers ([80, 0]) rather than the
// base64 string encoding/json uses for []byte.
type Bytes []byte

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var nums []uint8
	if err := json.Unmarshal(data, &nums); err == nil {
		*b = nums
		return nil
	}
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = raw
	return nil
}

// ServiceConfig describes one service and its characteristics.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics"`
}

// PeripheralConfig is the JSON form accepted by FromJSON.
type PeripheralConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder assembles a FakePeripheral with a fluent API:
//
//	p := NewPeripheralBuilder().
//	    WithService("180d").
//	    WithCharacteristic("2a37", "notify", nil).
//	    WithCharacteristic("2a38", "read", []byte{1}).
//	    Build()
type PeripheralBuilder struct {
	services []ServiceConfig
	err      error
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// WithService starts a new service; following WithCharacteristic calls add to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.services = append(b.services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.services) == 0 {
		b.err = fmt.Errorf("characteristic %s added before any service", uuid)
		return b
	}
	last := &b.services[len(b.services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON appends services described as PeripheralConfig JSON.
func (b *PeripheralBuilder) FromJSON(doc string) *PeripheralBuilder {
	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		b.err = fmt.Errorf("peripheral json: %w", err)
		return b
	}
	b.services = append(b.services, cfg.Services...)
	return b
}

// Empty reports whether no service has been added.
func (b *PeripheralBuilder) Empty() bool {
	return len(b.services) == 0
}

// Build lays the services out in a handle space: each service takes its
// declaration handle, each characteristic a declaration and a value handle,
// plus a CCCD handle when it can notify or indicate.
func (b *PeripheralBuilder) Build() (*FakePeripheral, error) {
	if b.err != nil {
		return nil, b.err
	}

	p := &FakePeripheral{
		chars:    make(map[gatt.UUID][]*fakeChar),
		byHandle: make(map[gatt.Handle]*fakeChar),
		failures: make(map[string]error),
		cccdOps:  make(map[string]int),
		subs:     hashmap.New[gatt.Handle, subscription](),
	}

	next := gatt.Handle(1)
	for _, sc := range b.services {
		su, err := gatt.Canonicalize(sc.UUID)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", sc.UUID, err)
		}
		if _, dup := p.chars[su]; dup {
			return nil, fmt.Errorf("service %s declared twice", sc.UUID)
		}
		start := next
		next++
		chars := []*fakeChar{}
		for _, cc := range sc.Characteristics {
			cu, err := gatt.Canonicalize(cc.UUID)
			if err != nil {
				return nil, fmt.Errorf("characteristic %q: %w", cc.UUID, err)
			}
			flags, err := parseProperties(cc.Properties)
			if err != nil {
				return nil, fmt.Errorf("characteristic %s: %w", cc.UUID, err)
			}
			next++ // declaration
			c := &fakeChar{
				info:    gatt.CharacteristicInfo{UUID: cu, Handle: next, Flags: flags},
				service: su,
				value:   append([]byte(nil), cc.Value...),
			}
			next++
			if flags.Has(gatt.FlagNotify) || flags.Has(gatt.FlagIndicate) {
				next++ // CCCD
			}
			chars = append(chars, c)
			p.byHandle[c.info.Handle] = c
		}
		p.chars[su] = chars
		p.services = append(p.services, gatt.ServiceInfo{
			UUID:    su,
			Handles: gatt.HandleRange{Start: start, End: next - 1},
		})
	}
	return p, nil
}

func parseProperties(s string) (gatt.Flags, error) {
	var flags gatt.Flags
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f := gatt.ParseFlags(p)
		if f == 0 {
			return 0, fmt.Errorf("unknown property %q", p)
		}
		flags |= f
	}
	return flags, nil
}
