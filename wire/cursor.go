package wire

// Cursor is a bounded read head over a byte buffer. The bound can be narrowed
// with PushLimit to confine reads to an embedded message and restored with
// PopLimit once the embedded message is consumed.
type Cursor struct {
	buf   []byte
	pos   int
	limit int
}

// NewCursor creates a cursor over data, bounded by len(data).
func NewCursor(data []byte) *Cursor {
	return &Cursor{
		buf:   data,
		pos:   0,
		limit: len(data),
	}
}

// Reset points the cursor at a new buffer.
func (c *Cursor) Reset(data []byte) {
	c.buf = data
	c.pos = 0
	c.limit = len(data)
}

// Readable reports whether bytes remain before the current bound.
func (c *Cursor) Readable() bool {
	return c.pos < c.limit
}

// Offset returns the absolute read position.
func (c *Cursor) Offset() int {
	return c.pos
}

// Remaining returns the number of bytes left before the current bound.
func (c *Cursor) Remaining() int {
	return c.limit - c.pos
}

// ReadTag decodes the next tag. Callers check Readable first; a tag that
// starts inside the bound but runs past it is a truncation error.
func (c *Cursor) ReadTag() (FieldNumber, WireType, error) {
	start := c.pos
	v, err := c.ReadVarint64()
	if err != nil {
		return 0, 0, err
	}
	num, wt := ParseTag(Tag(v))
	if v>>3 > uint64(MaxFieldNumber) || !num.Valid() {
		return 0, 0, NewDecodeError(start, ErrFieldNumber)
	}
	return num, wt, nil
}

// PushLimit narrows the bound to the next n bytes and returns the previous
// bound, which must be handed back to PopLimit.
func (c *Cursor) PushLimit(n int) (int, error) {
	if n < 0 || n > c.Remaining() {
		return 0, NewDecodeError(c.pos, ErrTruncated)
	}
	prev := c.limit
	c.limit = c.pos + n
	return prev, nil
}

// PopLimit restores a bound saved by PushLimit.
func (c *Cursor) PopLimit(prev int) {
	c.limit = prev
}

// Skip advances past a value of the given wire type without decoding it.
func (c *Cursor) Skip(wireType WireType) error {
	switch wireType {
	case WireVarint:
		return c.SkipVarint()
	case WireFixed64:
		return c.advance(8)
	case WireFixed32:
		return c.advance(4)
	case WireBytes:
		n, err := c.ReadLength()
		if err != nil {
			return err
		}
		return c.advance(n)
	case WireStartGroup, WireEndGroup:
		return NewDecodeError(c.pos, ErrGroup)
	default:
		return NewDecodeError(c.pos, ErrWireType)
	}
}

func (c *Cursor) advance(n int) error {
	if n > c.Remaining() {
		return NewDecodeError(c.pos, ErrTruncated)
	}
	c.pos += n
	return nil
}
