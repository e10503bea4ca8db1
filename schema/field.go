package schema

import (
	"strconv"

	"github.com/anirudhraja/protoevent/wire"
)

// Field represents a message field
type Field struct {
	owner    *MessageType
	number   wire.FieldNumber
	name     string // "user_name"
	jsonName string // "userName"
	typ      Type
	label    FieldLabel
	packed   bool
	optional bool // proto3 explicit presence
	oneof    *OneOf

	isMap      bool
	isMapKey   bool
	isMapValue bool
	unknown    bool
}

// UnknownField creates a synthetic field for a number absent from owner's
// schema. It carries only the number and the observed wire type.
func UnknownField(owner *MessageType, number wire.FieldNumber, wireType wire.WireType) *Field {
	return &Field{
		owner:   owner,
		number:  number,
		typ:     unknownType(wireType),
		label:   LabelOptional,
		unknown: true,
	}
}

func (f *Field) Owner() *MessageType      { return f.owner }
func (f *Field) Number() wire.FieldNumber { return f.number }
func (f *Field) Name() string             { return f.name }
func (f *Field) JSONName() string         { return f.jsonName }
func (f *Field) Type() Type               { return f.typ }
func (f *Field) Label() FieldLabel        { return f.label }
func (f *Field) OneOf() *OneOf            { return f.oneof }
func (f *Field) WireType() wire.WireType  { return f.typ.WireType() }
func (f *Field) IsRepeated() bool         { return f.label == LabelRepeated }
func (f *Field) IsPacked() bool           { return f.packed }
func (f *Field) IsMap() bool              { return f.isMap }
func (f *Field) IsMapKey() bool           { return f.isMapKey }
func (f *Field) IsMapValue() bool         { return f.isMapValue }
func (f *Field) IsUnknown() bool          { return f.unknown }
func (f *Field) IsProto3Optional() bool   { return f.optional }

// Kind returns the scalar kind of the field. Enum fields report TypeEnum;
// message and unknown fields report TypeInvalid.
func (f *Field) Kind() ScalarType {
	switch t := f.typ.(type) {
	case ScalarType:
		return t
	case *EnumType:
		return TypeEnum
	default:
		return TypeInvalid
	}
}

// Message returns the message type of a message or map field, or nil.
func (f *Field) Message() *MessageType {
	m, _ := f.typ.(*MessageType)
	return m
}

// Enum returns the enum type of an enum field, or nil.
func (f *Field) Enum() *EnumType {
	e, _ := f.typ.(*EnumType)
	return e
}

// IsPackable reports whether the field is repeated and its values may be
// written as a packed run.
func (f *Field) IsPackable() bool {
	return f.IsRepeated() && f.Kind().IsPackable()
}

// HasPresence reports whether a singular field tracks presence, so that an
// explicitly set zero value is distinct from an absent one.
func (f *Field) HasPresence() bool {
	if f.IsRepeated() {
		return false
	}
	return f.optional || f.oneof != nil || f.Message() != nil || f.label == LabelRequired
}

// MapKey returns the key field of a map field's entry type.
func (f *Field) MapKey() *Field {
	if !f.isMap {
		return nil
	}
	return f.Message().Field(1)
}

// MapValue returns the value field of a map field's entry type.
func (f *Field) MapValue() *Field {
	if !f.isMap {
		return nil
	}
	return f.Message().Field(2)
}

// FullName returns the owner-qualified field name.
func (f *Field) FullName() string {
	name := f.name
	if f.unknown {
		name = "<unknown>"
	}
	if f.owner == nil {
		return name
	}
	return f.owner.FullName() + "." + name
}

// DisplayName is the name used in error paths: the field name, or the number
// for unknown fields.
func (f *Field) DisplayName() string {
	if f.unknown {
		return "#" + strconv.Itoa(int(f.number))
	}
	return f.name
}
