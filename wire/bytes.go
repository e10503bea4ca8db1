package wire

// DECODER METHODS

// ReadBytes returns a copy of the next n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	raw, err := c.ReadRawBytes(n)
	if err != nil {
		return nil, err
	}

	// Copy the data to avoid sharing the underlying buffer
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}

// ReadRawBytes returns the next n bytes without copying (shares buffer).
func (c *Cursor) ReadRawBytes(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, NewDecodeError(c.pos, ErrTruncated)
	}
	data := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return data, nil
}

// ReadLengthDelimited decodes a length prefix followed by that many bytes.
func (c *Cursor) ReadLengthDelimited() ([]byte, error) {
	n, err := c.ReadLength()
	if err != nil {
		return nil, err
	}
	return c.ReadBytes(n)
}

// ENCODER METHODS

// WriteBytes appends raw bytes; the caller writes any length prefix.
func (s *Sink) WriteBytes(data []byte) {
	s.buf = append(s.buf, data...)
}

// WriteString appends the UTF-8 bytes of str.
func (s *Sink) WriteString(str string) {
	s.buf = append(s.buf, str...)
}

// UTILITY FUNCTIONS

// BytesSize returns the size of a length-prefixed payload of n bytes.
func BytesSize(n int) int {
	return VarintSize(uint64(n)) + n
}
