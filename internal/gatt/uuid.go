package gatt

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/gattc/internal/bledb"
)

// UUID is the canonical 128-bit form of an attribute identifier. Two UUIDs
// are equal iff their canonical forms match, so UUID is usable as a map key.
type UUID [16]byte

// baseUUIDFormat expands a 16- or 32-bit alias onto the Bluetooth base UUID.
const baseUUIDFormat = "%08x-0000-1000-8000-00805f9b34fb"

// BaseUUID is the Bluetooth SIG base UUID.
var BaseUUID = MustParseUUID("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit alias.
func UUID16(v uint16) UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit alias.
func UUID32(v uint32) UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[:4], v)
	return u
}

// Canonicalize accepts a short alias ("180d", "0x180D", "0000180d") or a full
// UUID with or without dashes or braces and returns its canonical form.
func Canonicalize(s string) (UUID, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	short := strings.TrimPrefix(in, "0x")
	if short != "" && len(short) <= 8 {
		v, err := strconv.ParseUint(short, 16, 32)
		if err != nil {
			return UUID{}, fmt.Errorf("invalid uuid %q: %w", s, err)
		}
		return MustParseUUID(fmt.Sprintf(baseUUIDFormat, v)), nil
	}

	u, err := uuid.Parse(in)
	if err != nil {
		return UUID{}, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return UUID(u), nil
}

// ParseUUID is an alias of Canonicalize.
func ParseUUID(s string) (UUID, error) {
	return Canonicalize(s)
}

// MustParseUUID panics on malformed input. Intended for package-level tables.
func MustParseUUID(s string) UUID {
	u, err := Canonicalize(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the dashed lower-case form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Short returns the compact form: 4 hex digits for 16-bit aliases, 8 for
// 32-bit aliases, otherwise all 32 digits without dashes.
func (u UUID) Short() string {
	return bledb.NormalizeUUID(u.String())
}

// IsSIG reports whether u is an alias on the Bluetooth base UUID.
func (u UUID) IsSIG() bool {
	return [12]byte(u[4:]) == [12]byte(BaseUUID[4:])
}

// ShortID returns the leading 32 bits, used to disambiguate identifiers.
func (u UUID) ShortID() uint32 {
	return binary.BigEndian.Uint32(u[:4])
}

// IsZero reports whether u is the all-zero UUID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// MarshalText lets UUIDs be used as JSON and YAML map keys.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UUID) UnmarshalText(b []byte) error {
	v, err := Canonicalize(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
