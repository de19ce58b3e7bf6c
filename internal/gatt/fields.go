package gatt

import "encoding/binary"

// FieldReader consumes a little-endian payload left to right. Every getter
// names the field it reads so truncation errors say what was missing.
type FieldReader struct {
	buf []byte
	off int
}

func NewFieldReader(buf []byte) *FieldReader {
	return &FieldReader{buf: buf}
}

// Remaining is the number of unread bytes.
func (r *FieldReader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *FieldReader) take(field string, n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, NewDecodeError(field, "need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *FieldReader) Uint8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *FieldReader) Int8(field string) (int8, error) {
	v, err := r.Uint8(field)
	return int8(v), err
}

func (r *FieldReader) Uint16(field string) (uint16, error) {
	b, err := r.take(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Int16 reinterprets the unsigned field as two's complement.
func (r *FieldReader) Int16(field string) (int16, error) {
	v, err := r.Uint16(field)
	return int16(v), err
}

func (r *FieldReader) Uint32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Int16s reads signed 16-bit values until the payload is exhausted. An odd
// trailing byte is a decode error.
func (r *FieldReader) Int16s(field string) ([]int16, error) {
	if r.Remaining()%2 != 0 {
		return nil, NewDecodeError(field, "%d trailing bytes is not a whole number of 16-bit values", r.Remaining())
	}
	out := make([]int16, 0, r.Remaining()/2)
	for r.Remaining() > 0 {
		v, _ := r.Int16(field)
		out = append(out, v)
	}
	return out, nil
}

// Uint16s is Int16s for unsigned values.
func (r *FieldReader) Uint16s(field string) ([]uint16, error) {
	if r.Remaining()%2 != 0 {
		return nil, NewDecodeError(field, "%d trailing bytes is not a whole number of 16-bit values", r.Remaining())
	}
	out := make([]uint16, 0, r.Remaining()/2)
	for r.Remaining() > 0 {
		v, _ := r.Uint16(field)
		out = append(out, v)
	}
	return out, nil
}
