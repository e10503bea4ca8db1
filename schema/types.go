package schema

import (
	"fmt"

	"github.com/anirudhraja/protoevent/wire"
)

// Type is implemented by every field type: ScalarType, *EnumType and
// *MessageType. The wire type of each variant is fixed.
type Type interface {
	// TypeID identifies the type. Scalars use their ScalarType value; enums and
	// messages get an id unique within the Builder that created them.
	TypeID() int
	WireType() wire.WireType
	String() string
}

// ScalarType represents protobuf primitive types. The set is closed.
type ScalarType int8

const (
	TypeInvalid ScalarType = iota
	TypeInt32
	TypeInt64
	TypeUint32
	TypeUint64
	TypeSint32
	TypeSint64
	TypeBool
	TypeEnum
	TypeFixed32
	TypeFixed64
	TypeSfixed32
	TypeSfixed64
	TypeFloat
	TypeDouble
	TypeString
	TypeBytes
)

// firstUserTypeID is the first id handed to enum and message types.
const firstUserTypeID = 32

var scalarNames = [...]string{
	TypeInvalid:  "invalid",
	TypeInt32:    "int32",
	TypeInt64:    "int64",
	TypeUint32:   "uint32",
	TypeUint64:   "uint64",
	TypeSint32:   "sint32",
	TypeSint64:   "sint64",
	TypeBool:     "bool",
	TypeEnum:     "enum",
	TypeFixed32:  "fixed32",
	TypeFixed64:  "fixed64",
	TypeSfixed32: "sfixed32",
	TypeSfixed64: "sfixed64",
	TypeFloat:    "float",
	TypeDouble:   "double",
	TypeString:   "string",
	TypeBytes:    "bytes",
}

// String returns the .proto keyword for the scalar.
func (s ScalarType) String() string {
	if s < 0 || int(s) >= len(scalarNames) {
		return fmt.Sprintf("ScalarType(%d)", s)
	}
	return scalarNames[s]
}

// TypeID implements Type.
func (s ScalarType) TypeID() int { return int(s) }

// WireType implements Type.
func (s ScalarType) WireType() wire.WireType {
	switch s {
	case TypeInt32, TypeInt64, TypeUint32, TypeUint64, TypeSint32, TypeSint64, TypeBool, TypeEnum:
		return wire.WireVarint
	case TypeFixed32, TypeSfixed32, TypeFloat:
		return wire.WireFixed32
	case TypeFixed64, TypeSfixed64, TypeDouble:
		return wire.WireFixed64
	case TypeString, TypeBytes:
		return wire.WireBytes
	default:
		panic(fmt.Sprintf("schema: no wire type for %v", s))
	}
}

// IsPackable reports whether repeated values of this scalar may share one LEN record.
func (s ScalarType) IsPackable() bool {
	return s >= TypeInt32 && s <= TypeDouble
}

// Is64Bit reports whether the proto3 JSON mapping writes this scalar as a string.
func (s ScalarType) Is64Bit() bool {
	switch s {
	case TypeInt64, TypeUint64, TypeSint64, TypeFixed64, TypeSfixed64:
		return true
	}
	return false
}

// ParseScalarType maps a .proto keyword to its ScalarType. "enum" is not a keyword
// and is never returned.
func ParseScalarType(keyword string) (ScalarType, bool) {
	for s := TypeInt32; s <= TypeBytes; s++ {
		if s != TypeEnum && scalarNames[s] == keyword {
			return s, true
		}
	}
	return TypeInvalid, false
}

// FieldLabel represents field labels
type FieldLabel string

const (
	LabelOptional FieldLabel = "optional"
	LabelRequired FieldLabel = "required"
	LabelRepeated FieldLabel = "repeated"
)

// WellKnown identifies message shapes with a bespoke JSON mapping.
type WellKnown int8

const (
	NotWellKnown WellKnown = iota
	WellKnownStruct
	WellKnownValue
	WellKnownListValue
	WellKnownDuration
	WellKnownTimestamp
	WellKnownFieldMask
	WellKnownWrapper
)

var wellKnownByName = map[string]WellKnown{
	"google.protobuf.Struct":      WellKnownStruct,
	"google.protobuf.Value":       WellKnownValue,
	"google.protobuf.ListValue":   WellKnownListValue,
	"google.protobuf.Duration":    WellKnownDuration,
	"google.protobuf.Timestamp":   WellKnownTimestamp,
	"google.protobuf.FieldMask":   WellKnownFieldMask,
	"google.protobuf.DoubleValue": WellKnownWrapper,
	"google.protobuf.FloatValue":  WellKnownWrapper,
	"google.protobuf.Int64Value":  WellKnownWrapper,
	"google.protobuf.UInt64Value": WellKnownWrapper,
	"google.protobuf.Int32Value":  WellKnownWrapper,
	"google.protobuf.UInt32Value": WellKnownWrapper,
	"google.protobuf.BoolValue":   WellKnownWrapper,
	"google.protobuf.StringValue": WellKnownWrapper,
	"google.protobuf.BytesValue":  WellKnownWrapper,
}

// NullValueEnum is the full name of the enum used by google.protobuf.Value.
const NullValueEnum = "google.protobuf.NullValue"

// unknownType is the Type of a synthetic unknown field: only its wire type is known.
type unknownType wire.WireType

func (t unknownType) TypeID() int             { return 0 }
func (t unknownType) WireType() wire.WireType { return wire.WireType(t) }
func (t unknownType) String() string          { return "unknown(" + wire.WireType(t).String() + ")" }
