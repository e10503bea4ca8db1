package wire

// maxVarintLen is the longest legal varint: ten 7-bit groups cover 64 bits.
const maxVarintLen = 10

// DECODER METHODS

// ReadVarint64 decodes a varint from the current position
func (c *Cursor) ReadVarint64() (uint64, error) {
	start := c.pos
	var result uint64
	var shift uint

	for i := 0; i < maxVarintLen; i++ {
		if c.pos >= c.limit {
			return 0, NewDecodeError(start, ErrTruncated)
		}

		b := c.buf[c.pos]
		c.pos++

		// The tenth byte may only carry the final bit of a 64-bit value.
		if i == maxVarintLen-1 && b > 1 {
			return 0, NewDecodeError(start, ErrVarintOverflow)
		}

		result |= uint64(b&0x7F) << shift

		if b&0x80 == 0 {
			return result, nil
		}

		shift += 7
	}

	return 0, NewDecodeError(start, ErrVarintOverflow)
}

// ReadVarint32 decodes a varint and keeps its low 32 bits. Negative int32
// values are written sign-extended to ten bytes, so the full length is accepted.
func (c *Cursor) ReadVarint32() (uint32, error) {
	v, err := c.ReadVarint64()
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ReadLength decodes a length prefix and checks it against the current bound.
func (c *Cursor) ReadLength() (int, error) {
	start := c.pos
	v, err := c.ReadVarint64()
	if err != nil {
		return 0, err
	}
	if v > uint64(c.Remaining()) {
		return 0, NewDecodeError(start, ErrTruncated)
	}
	return int(v), nil
}

// SkipVarint skips over a varint without decoding it
func (c *Cursor) SkipVarint() error {
	start := c.pos
	for i := 0; i < maxVarintLen; i++ {
		if c.pos >= c.limit {
			return NewDecodeError(start, ErrTruncated)
		}

		b := c.buf[c.pos]
		c.pos++

		if b&0x80 == 0 {
			return nil
		}
	}
	return NewDecodeError(start, ErrVarintOverflow)
}

// ENCODER METHODS

// WriteVarint64 encodes a uint64 as varint
func (s *Sink) WriteVarint64(v uint64) {
	for v >= 0x80 {
		s.buf = append(s.buf, byte(v)|0x80)
		v >>= 7
	}
	s.buf = append(s.buf, byte(v))
}

// WriteVarint32 encodes a uint32 as varint; at most five bytes.
func (s *Sink) WriteVarint32(v uint32) {
	s.WriteVarint64(uint64(v))
}

// UTILITY FUNCTIONS

// DecodeZigZag32 decodes a zigzag-encoded 32-bit integer
func DecodeZigZag32(encoded uint32) int32 {
	return int32(encoded>>1) ^ -int32(encoded&1)
}

// DecodeZigZag64 decodes a zigzag-encoded 64-bit integer
func DecodeZigZag64(encoded uint64) int64 {
	return int64(encoded>>1) ^ -int64(encoded&1)
}

// EncodeZigZag32 encodes a signed 32-bit integer using zigzag encoding
func EncodeZigZag32(v int32) uint32 {
	return uint32(v<<1) ^ uint32(v>>31)
}

// EncodeZigZag64 encodes a signed 64-bit integer using zigzag encoding
func EncodeZigZag64(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// VarintSize returns the number of bytes needed to encode the given varint
func VarintSize(v uint64) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	case v < 1<<42:
		return 6
	case v < 1<<49:
		return 7
	case v < 1<<56:
		return 8
	case v < 1<<63:
		return 9
	default:
		return 10
	}
}

// VarintSize32 returns the encoded size of a 32-bit unsigned value, 1 to 5.
func VarintSize32(v uint32) int {
	return VarintSize(uint64(v))
}
