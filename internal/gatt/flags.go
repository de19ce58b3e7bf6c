package gatt

import (
	"strings"
)

// Flags are the access properties a peripheral advertises for a
// characteristic. They are fixed at discovery time.
type Flags uint8

const (
	FlagRead Flags = 1 << iota
	FlagWriteNoResponse
	FlagWrite
	FlagNotify
	FlagIndicate
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagRead, "read"},
	{FlagWriteNoResponse, "write-without-response"},
	{FlagWrite, "write"},
	{FlagNotify, "notify"},
	{FlagIndicate, "indicate"},
}

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFlags maps the property names used by BlueZ (and by String) to Flags.
// Unknown names are ignored.
func ParseFlags(names ...string) Flags {
	var f Flags
	for _, n := range names {
		for _, fn := range flagNames {
			if strings.EqualFold(n, fn.name) {
				f |= fn.flag
			}
		}
	}
	return f
}

// ReadProcedure selects how a characteristic value is obtained.
type ReadProcedure int

const (
	ReadDisallowed ReadProcedure = iota
	ReadRequest
	ReadCommand
	ReadNotify
	ReadIndicate
)

func (p ReadProcedure) String() string {
	switch p {
	case ReadDisallowed:
		return "disallowed"
	case ReadRequest:
		return "request"
	case ReadCommand:
		return "command"
	case ReadNotify:
		return "notify"
	case ReadIndicate:
		return "indicate"
	default:
		return "unknown"
	}
}

// WriteProcedure selects how a characteristic value is written.
type WriteProcedure int

const (
	WriteDisallowed WriteProcedure = iota
	WriteRequest
	WriteCommand
)

func (p WriteProcedure) String() string {
	switch p {
	case WriteDisallowed:
		return "disallowed"
	case WriteRequest:
		return "request"
	case WriteCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Client characteristic configuration descriptor values.
var (
	CCCDDisable  = []byte{0x00, 0x00}
	CCCDNotify   = []byte{0x01, 0x00}
	CCCDIndicate = []byte{0x02, 0x00}
)

// IsIndicateCCCD reports whether a descriptor value arms indications.
func IsIndicateCCCD(v []byte) bool {
	return len(v) > 0 && v[0]&0x02 != 0
}

func defaultReadProcedure(f Flags) ReadProcedure {
	if f.Has(FlagRead) {
		return ReadRequest
	}
	return ReadDisallowed
}

func defaultWriteProcedure(f Flags) WriteProcedure {
	switch {
	case f.Has(FlagWrite):
		return WriteRequest
	case f.Has(FlagWriteNoResponse):
		return WriteCommand
	default:
		return WriteDisallowed
	}
}
