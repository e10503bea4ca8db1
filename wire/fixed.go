package wire

import (
	"encoding/binary"
)

const (
	// Fixed32Size is the encoded size of every I32 value.
	Fixed32Size = 4
	// Fixed64Size is the encoded size of every I64 value.
	Fixed64Size = 8
)

// DECODER METHODS

// ReadFixed32 decodes a little-endian 32-bit value
func (c *Cursor) ReadFixed32() (uint32, error) {
	if c.Remaining() < Fixed32Size {
		return 0, NewDecodeError(c.pos, ErrTruncated)
	}

	value := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += Fixed32Size
	return value, nil
}

// ReadFixed64 decodes a little-endian 64-bit value
func (c *Cursor) ReadFixed64() (uint64, error) {
	if c.Remaining() < Fixed64Size {
		return 0, NewDecodeError(c.pos, ErrTruncated)
	}

	value := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += Fixed64Size
	return value, nil
}

// ENCODER METHODS

// WriteFixed32 encodes a little-endian 32-bit value
func (s *Sink) WriteFixed32(v uint32) {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, v)
}

// WriteFixed64 encodes a little-endian 64-bit value
func (s *Sink) WriteFixed64(v uint64) {
	s.buf = binary.LittleEndian.AppendUint64(s.buf, v)
}
