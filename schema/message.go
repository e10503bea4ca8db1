package schema

import (
	"strings"

	"github.com/anirudhraja/protoevent/wire"
)

// MessageType represents a protobuf message definition
type MessageType struct {
	id       int
	fullName string // "pkg.Outer.Inner"
	parent   *MessageType

	fields     []*Field
	byNumber   map[wire.FieldNumber]*Field
	byName     map[string]*Field
	byJSONName map[string]*Field
	oneofs     []*OneOf

	nested []*MessageType
	enums  []*EnumType

	mapEntry  bool
	wellKnown WellKnown
	declared  bool
}

func newMessageType(id int, fullName string) *MessageType {
	return &MessageType{
		id:         id,
		fullName:   fullName,
		byNumber:   make(map[wire.FieldNumber]*Field),
		byName:     make(map[string]*Field),
		byJSONName: make(map[string]*Field),
	}
}

// TypeID implements Type.
func (m *MessageType) TypeID() int { return m.id }

// WireType implements Type. Embedded messages are always length-delimited.
func (m *MessageType) WireType() wire.WireType { return wire.WireBytes }

func (m *MessageType) String() string { return m.fullName }

// FullName returns the dotted, package-qualified name.
func (m *MessageType) FullName() string { return m.fullName }

// Name returns the last component of the full name.
func (m *MessageType) Name() string {
	if i := strings.LastIndexByte(m.fullName, '.'); i >= 0 {
		return m.fullName[i+1:]
	}
	return m.fullName
}

// Parent returns the enclosing message for nested types, or nil.
func (m *MessageType) Parent() *MessageType { return m.parent }

// Fields returns the fields in declaration order.
func (m *MessageType) Fields() []*Field { return m.fields }

// Field looks up a field by number.
func (m *MessageType) Field(num wire.FieldNumber) *Field { return m.byNumber[num] }

// FieldByName looks up a field by its .proto name.
func (m *MessageType) FieldByName(name string) *Field { return m.byName[name] }

// FieldByJSONName looks up a field by its JSON name.
func (m *MessageType) FieldByJSONName(name string) *Field { return m.byJSONName[name] }

// Lookup resolves a JSON key: the JSON name first, then the .proto name.
func (m *MessageType) Lookup(key string) *Field {
	if f := m.byJSONName[key]; f != nil {
		return f
	}
	return m.byName[key]
}

// OneOfs returns the one-of groups in declaration order.
func (m *MessageType) OneOfs() []*OneOf { return m.oneofs }

// Nested returns the message types declared inside this one, including
// synthetic map entries.
func (m *MessageType) Nested() []*MessageType { return m.nested }

// Enums returns the enum types declared inside this message.
func (m *MessageType) Enums() []*EnumType { return m.enums }

// IsMapEntry reports whether the type was synthesized for a map field.
func (m *MessageType) IsMapEntry() bool { return m.mapEntry }

// WellKnown reports the special JSON shape of the type, if any.
func (m *MessageType) WellKnown() WellKnown { return m.wellKnown }

// OneOf is a group of fields of which at most one is set at a time.
type OneOf struct {
	name     string
	owner    *MessageType
	fields   []*Field
	byNumber map[wire.FieldNumber]*Field
}

func (o *OneOf) Name() string        { return o.name }
func (o *OneOf) Owner() *MessageType { return o.owner }
func (o *OneOf) Fields() []*Field    { return o.fields }

// Field returns the member with the given number, or nil.
func (o *OneOf) Field(num wire.FieldNumber) *Field { return o.byNumber[num] }
