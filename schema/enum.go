package schema

import (
	"strings"

	"github.com/anirudhraja/protoevent/wire"
)

// EnumValue represents an enum value
type EnumValue struct {
	Name   string
	Number int32
}

// EnumType represents an enum definition. Enums are open: numbers without a
// declared name are still valid values.
type EnumType struct {
	id       int
	fullName string
	parent   *MessageType
	values   []EnumValue
	byNumber map[int32]string
	byName   map[string]int32
	declared bool
}

func newEnumType(id int, fullName string) *EnumType {
	return &EnumType{
		id:       id,
		fullName: fullName,
		byNumber: make(map[int32]string),
		byName:   make(map[string]int32),
	}
}

// TypeID implements Type.
func (e *EnumType) TypeID() int { return e.id }

// WireType implements Type.
func (e *EnumType) WireType() wire.WireType { return wire.WireVarint }

func (e *EnumType) String() string   { return e.fullName }
func (e *EnumType) FullName() string { return e.fullName }

// Name returns the last component of the full name.
func (e *EnumType) Name() string {
	if i := strings.LastIndexByte(e.fullName, '.'); i >= 0 {
		return e.fullName[i+1:]
	}
	return e.fullName
}

// Parent returns the enclosing message, or nil for top-level enums.
func (e *EnumType) Parent() *MessageType { return e.parent }

// Values returns the declared values in order.
func (e *EnumType) Values() []EnumValue { return e.values }

// ValueName returns the declared name for num. With aliases the first
// declared name wins.
func (e *EnumType) ValueName(num int32) (string, bool) {
	name, ok := e.byNumber[num]
	return name, ok
}

// ValueNumber returns the number declared for name.
func (e *EnumType) ValueNumber(name string) (int32, bool) {
	num, ok := e.byName[name]
	return num, ok
}

func (e *EnumType) addValue(v EnumValue) {
	e.values = append(e.values, v)
	if _, ok := e.byNumber[v.Number]; !ok {
		e.byNumber[v.Number] = v.Name
	}
	e.byName[v.Name] = v.Number
}
