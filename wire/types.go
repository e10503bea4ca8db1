package wire

// ===== PROTOBUF WIRE FORMAT TYPES =====

// WireType represents protobuf wire format types
type WireType int8

const (
	WireVarint     WireType = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	WireFixed64    WireType = 1 // fixed64, sfixed64, double
	WireBytes      WireType = 2 // string, bytes, embedded messages, packed repeated fields
	WireStartGroup WireType = 3 // deprecated, rejected by the decoder
	WireEndGroup   WireType = 4 // deprecated, rejected by the decoder
	WireFixed32    WireType = 5 // fixed32, sfixed32, float
)

// String returns the wire type name used in the protobuf encoding guide.
func (t WireType) String() string {
	switch t {
	case WireVarint:
		return "VARINT"
	case WireFixed64:
		return "I64"
	case WireBytes:
		return "LEN"
	case WireStartGroup:
		return "SGROUP"
	case WireEndGroup:
		return "EGROUP"
	case WireFixed32:
		return "I32"
	default:
		return "INVALID"
	}
}

// Valid reports whether t is one of the wire types the codec can frame.
func (t WireType) Valid() bool {
	return t == WireVarint || t == WireFixed64 || t == WireBytes || t == WireFixed32
}

// FieldNumber represents a protobuf field number
type FieldNumber int32

const (
	MinFieldNumber FieldNumber = 1
	MaxFieldNumber FieldNumber = 1<<29 - 1
)

// Valid reports whether n can appear in a tag.
func (n FieldNumber) Valid() bool {
	return n >= MinFieldNumber && n <= MaxFieldNumber
}

// Tag represents a protobuf field tag (field number + wire type)
type Tag uint64

// MakeTag creates a tag from field number and wire type
func MakeTag(fieldNumber FieldNumber, wireType WireType) Tag {
	return Tag(uint64(fieldNumber)<<3 | uint64(wireType&0x7))
}

// ParseTag parses a tag into field number and wire type
func ParseTag(tag Tag) (FieldNumber, WireType) {
	return FieldNumber(tag >> 3), WireType(tag & 0x7)
}

// TagSize returns the encoded size of the tag for the given field number.
func TagSize(fieldNumber FieldNumber) int {
	return VarintSize(uint64(MakeTag(fieldNumber, WireVarint)))
}
