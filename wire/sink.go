package wire

// Sink is an append-only writer for the protobuf wire format.
type Sink struct {
	buf []byte
}

// NewSink creates a sink with room for capacity bytes. The encode driver
// sizes it exactly so that writing never reallocates.
func NewSink(capacity int) *Sink {
	return &Sink{
		buf: make([]byte, 0, capacity),
	}
}

// Bytes returns the encoded bytes
func (s *Sink) Bytes() []byte {
	return s.buf
}

// Len returns the number of bytes written so far.
func (s *Sink) Len() int {
	return len(s.buf)
}

// Reset clears the sink buffer
func (s *Sink) Reset() {
	s.buf = s.buf[:0]
}

// WriteTag writes the tag for a field number and wire type.
func (s *Sink) WriteTag(fieldNumber FieldNumber, wireType WireType) {
	s.WriteVarint64(uint64(MakeTag(fieldNumber, wireType)))
}
