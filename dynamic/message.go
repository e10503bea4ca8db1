// Package dynamic holds decoded protobuf messages as values keyed by schema
// fields. A Builder fills a Message from decoder events with protobuf merge
// semantics and Walk replays a Message as encoder events.
//
// Scalar values use these Go types:
//
//	int32, sint32, sfixed32, enum   int32
//	int64, sint64, sfixed64         int64
//	uint32, fixed32                 uint32
//	uint64, fixed64                 uint64
//	bool                            bool
//	float                           float32
//	double                          float64
//	string                          string
//	bytes                           []byte
//	message                         *Message
//
// Repeated fields hold []interface{} and map fields hold *Map.
package dynamic

import (
	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

// ErrFieldType is returned when a value does not fit the field it is stored in.
var ErrFieldType = errors.New("value does not match field type")

// OneOfCase is the member currently set in a one-of group.
type OneOfCase struct {
	Field *schema.Field
	Value interface{}
}

// UnknownField is a field preserved from the wire without a schema entry.
// Value is uint64 for varint and I64, uint32 for I32, and []byte for LEN.
type UnknownField struct {
	Field *schema.Field
	Value interface{}
}

// Message is a mutable message value. It is not safe for concurrent mutation.
type Message struct {
	typ     *schema.MessageType
	order   []*schema.Field
	values  map[wire.FieldNumber]interface{}
	oneofs  map[*schema.OneOf]*OneOfCase
	unknown []UnknownField
}

// New returns an empty message of type typ.
func New(typ *schema.MessageType) *Message {
	return &Message{
		typ:    typ,
		values: make(map[wire.FieldNumber]interface{}),
		oneofs: make(map[*schema.OneOf]*OneOfCase),
	}
}

// Type returns the message type.
func (m *Message) Type() *schema.MessageType { return m.typ }

// Fields returns the set fields in the order they were first set.
func (m *Message) Fields() []*schema.Field { return m.order }

// Unknown returns the preserved unknown fields in wire order.
func (m *Message) Unknown() []UnknownField { return m.unknown }

// Has reports whether f is set.
func (m *Message) Has(f *schema.Field) bool {
	_, ok := m.Get(f)
	return ok
}

// Get returns the value of f. For one-of members the value is only reported
// while f is the group's current case.
func (m *Message) Get(f *schema.Field) (interface{}, bool) {
	if o := f.OneOf(); o != nil {
		c := m.oneofs[o]
		if c == nil || c.Field != f {
			return nil, false
		}
		return c.Value, true
	}
	v, ok := m.values[f.Number()]
	return v, ok
}

// WhichOneOf returns the current case of o, or nil.
func (m *Message) WhichOneOf(o *schema.OneOf) *OneOfCase { return m.oneofs[o] }

// Set stores v in the singular field f, replacing any previous value. Setting
// a one-of member clears the other members of its group.
func (m *Message) Set(f *schema.Field, v interface{}) error {
	if err := m.check(f); err != nil {
		return err
	}
	if f.IsRepeated() {
		return errors.Wrapf(ErrFieldType, "%s is repeated", f.FullName())
	}
	if err := checkValue(f, v); err != nil {
		return err
	}
	m.set(f, v)
	return nil
}

func (m *Message) set(f *schema.Field, v interface{}) {
	if o := f.OneOf(); o != nil {
		if c := m.oneofs[o]; c != nil {
			if c.Field == f {
				c.Value = v
				return
			}
			m.forget(c.Field)
		}
		m.oneofs[o] = &OneOfCase{Field: f, Value: v}
		m.order = append(m.order, f)
		return
	}
	if _, ok := m.values[f.Number()]; !ok {
		m.order = append(m.order, f)
	}
	m.values[f.Number()] = v
}

// Append adds v to the repeated field f.
func (m *Message) Append(f *schema.Field, v interface{}) error {
	if err := m.check(f); err != nil {
		return err
	}
	if !f.IsRepeated() || f.IsMap() {
		return errors.Wrapf(ErrFieldType, "%s is not a list", f.FullName())
	}
	if err := checkValue(f, v); err != nil {
		return err
	}
	m.appendValue(f, v)
	return nil
}

func (m *Message) appendValue(f *schema.Field, v interface{}) {
	list, ok := m.values[f.Number()].([]interface{})
	if !ok {
		m.order = append(m.order, f)
	}
	m.values[f.Number()] = append(list, v)
}

// List returns the elements of the repeated field f.
func (m *Message) List(f *schema.Field) []interface{} {
	list, _ := m.values[f.Number()].([]interface{})
	return list
}

// MapOf returns the map stored in the map field f, creating it if needed.
func (m *Message) MapOf(f *schema.Field) (*Map, error) {
	if err := m.check(f); err != nil {
		return nil, err
	}
	if !f.IsMap() {
		return nil, errors.Wrapf(ErrFieldType, "%s is not a map", f.FullName())
	}
	return m.mapOf(f), nil
}

func (m *Message) mapOf(f *schema.Field) *Map {
	if mp, ok := m.values[f.Number()].(*Map); ok {
		return mp
	}
	mp := newMap(f)
	m.order = append(m.order, f)
	m.values[f.Number()] = mp
	return mp
}

// Mutable returns the message stored in the singular message field f,
// creating and setting an empty one if f is unset.
func (m *Message) Mutable(f *schema.Field) (*Message, error) {
	if err := m.check(f); err != nil {
		return nil, err
	}
	if f.Message() == nil || f.IsRepeated() {
		return nil, errors.Wrapf(ErrFieldType, "%s is not a singular message", f.FullName())
	}
	return m.mutable(f), nil
}

func (m *Message) mutable(f *schema.Field) *Message {
	if v, ok := m.Get(f); ok {
		return v.(*Message)
	}
	child := New(f.Message())
	m.set(f, child)
	return child
}

// Clear unsets f.
func (m *Message) Clear(f *schema.Field) {
	if o := f.OneOf(); o != nil {
		if c := m.oneofs[o]; c != nil && c.Field == f {
			m.forget(f)
		}
		return
	}
	if _, ok := m.values[f.Number()]; ok {
		m.forget(f)
	}
}

func (m *Message) forget(f *schema.Field) {
	if o := f.OneOf(); o != nil {
		delete(m.oneofs, o)
	} else {
		delete(m.values, f.Number())
	}
	for i, of := range m.order {
		if of == f {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// AddUnknown preserves a field the schema does not declare.
func (m *Message) AddUnknown(f *schema.Field, v interface{}) {
	m.unknown = append(m.unknown, UnknownField{Field: f, Value: v})
}

func (m *Message) check(f *schema.Field) error {
	if f.Owner() != m.typ {
		return errors.Wrapf(ErrFieldType, "%s is not a field of %s", f.FullName(), m.typ.FullName())
	}
	return nil
}

// checkValue verifies that v has the Go type used for f's elements.
func checkValue(f *schema.Field, v interface{}) error {
	ok := false
	if mt := f.Message(); mt != nil {
		child, isMsg := v.(*Message)
		ok = isMsg && child.typ == mt
	} else {
		switch f.Kind() {
		case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32, schema.TypeEnum:
			_, ok = v.(int32)
		case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
			_, ok = v.(int64)
		case schema.TypeUint32, schema.TypeFixed32:
			_, ok = v.(uint32)
		case schema.TypeUint64, schema.TypeFixed64:
			_, ok = v.(uint64)
		case schema.TypeBool:
			_, ok = v.(bool)
		case schema.TypeFloat:
			_, ok = v.(float32)
		case schema.TypeDouble:
			_, ok = v.(float64)
		case schema.TypeString:
			_, ok = v.(string)
		case schema.TypeBytes:
			_, ok = v.([]byte)
		}
	}
	if !ok {
		return errors.Wrapf(ErrFieldType, "%s is %v, got %T", f.FullName(), f.Type(), v)
	}
	return nil
}

// Map is the value of a map field. Keys keep their first insertion order.
type Map struct {
	field *schema.Field
	keys  []interface{}
	vals  map[interface{}]interface{}
}

func newMap(f *schema.Field) *Map {
	return &Map{field: f, vals: make(map[interface{}]interface{})}
}

// Len returns the number of entries.
func (mp *Map) Len() int { return len(mp.keys) }

// Keys returns the keys in insertion order.
func (mp *Map) Keys() []interface{} { return mp.keys }

// Get returns the value stored under key.
func (mp *Map) Get(key interface{}) (interface{}, bool) {
	v, ok := mp.vals[key]
	return v, ok
}

// Set stores value under key. A repeated key replaces the earlier value.
func (mp *Map) Set(key, value interface{}) error {
	if err := checkValue(mp.field.MapKey(), key); err != nil {
		return err
	}
	if err := checkValue(mp.field.MapValue(), value); err != nil {
		return err
	}
	mp.set(key, value)
	return nil
}

func (mp *Map) set(key, value interface{}) {
	if _, ok := mp.vals[key]; !ok {
		mp.keys = append(mp.keys, key)
	}
	mp.vals[key] = value
}

// Default returns the proto3 default of a singular field of f's type. Message
// fields get an empty message.
func Default(f *schema.Field) interface{} {
	if mt := f.Message(); mt != nil {
		return New(mt)
	}
	switch f.Kind() {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32, schema.TypeEnum:
		return int32(0)
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		return int64(0)
	case schema.TypeUint32, schema.TypeFixed32:
		return uint32(0)
	case schema.TypeUint64, schema.TypeFixed64:
		return uint64(0)
	case schema.TypeBool:
		return false
	case schema.TypeFloat:
		return float32(0)
	case schema.TypeDouble:
		return float64(0)
	case schema.TypeString:
		return ""
	case schema.TypeBytes:
		return []byte{}
	}
	return nil
}
