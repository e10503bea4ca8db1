package schema

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/wire"
)

var (
	ErrDuplicateField = errors.New("duplicate field")
	ErrDuplicateName  = errors.New("duplicate type name")
	ErrSealed         = errors.New("schema is sealed")
	ErrUnresolved     = errors.New("unresolved type reference")
	ErrInvalidMapKey  = errors.New("invalid map key type")
	ErrInvalidField   = errors.New("invalid field")
)

// FieldSpec describes a field to add to a message.
type FieldSpec struct {
	Name   string
	Number wire.FieldNumber
	Type   Type
	Label  FieldLabel // defaults to LabelOptional

	// JSONName overrides the default derived from Name.
	JSONName string
	// Unpacked turns off packed encoding of a repeated scalar field. Packed
	// input is accepted on decode either way.
	Unpacked bool
	// Proto3Optional gives a singular scalar field explicit presence.
	Proto3Optional bool
}

// Builder constructs the types of a Schema. Types may be referenced by name
// before they are declared; Build fails if any reference stays undeclared.
// A Builder is not safe for concurrent use.
type Builder struct {
	nextID    int
	messages  map[string]*MessageType
	enums     map[string]*EnumType
	msgOrder  []*MessageType
	enumOrder []*EnumType
	sealed    bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		nextID:   firstUserTypeID,
		messages: make(map[string]*MessageType),
		enums:    make(map[string]*EnumType),
	}
}

func normalizeName(name string) string {
	return strings.TrimPrefix(name, ".")
}

// MessageRef returns the message type named fullName, creating an undeclared
// placeholder for forward references.
func (b *Builder) MessageRef(fullName string) *MessageType {
	fullName = normalizeName(fullName)
	if m, ok := b.messages[fullName]; ok {
		return m
	}
	m := newMessageType(b.nextID, fullName)
	b.nextID++
	b.messages[fullName] = m
	b.msgOrder = append(b.msgOrder, m)
	return m
}

// EnumRef returns the enum type named fullName, creating an undeclared
// placeholder for forward references.
func (b *Builder) EnumRef(fullName string) *EnumType {
	fullName = normalizeName(fullName)
	if e, ok := b.enums[fullName]; ok {
		return e
	}
	e := newEnumType(b.nextID, fullName)
	b.nextID++
	b.enums[fullName] = e
	b.enumOrder = append(b.enumOrder, e)
	return e
}

// HasType reports whether fullName is declared as a message or an enum.
func (b *Builder) HasType(fullName string) bool {
	fullName = normalizeName(fullName)
	if m, ok := b.messages[fullName]; ok && m.declared {
		return true
	}
	if e, ok := b.enums[fullName]; ok && e.declared {
		return true
	}
	return false
}

// NewMessage declares the message type fullName. A placeholder created by an
// earlier MessageRef is reused.
func (b *Builder) NewMessage(fullName string, parent *MessageType) (*MessageType, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	fullName = normalizeName(fullName)
	if b.HasType(fullName) {
		return nil, errors.Wrap(ErrDuplicateName, fullName)
	}
	m := b.MessageRef(fullName)
	m.declared = true
	if parent != nil {
		m.parent = parent
		parent.nested = append(parent.nested, m)
	}
	return m, nil
}

// NewEnum declares the enum type fullName with the given values.
func (b *Builder) NewEnum(fullName string, parent *MessageType, values ...EnumValue) (*EnumType, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	fullName = normalizeName(fullName)
	if b.HasType(fullName) {
		return nil, errors.Wrap(ErrDuplicateName, fullName)
	}
	e := b.EnumRef(fullName)
	e.declared = true
	for _, v := range values {
		e.addValue(v)
	}
	if parent != nil {
		e.parent = parent
		parent.enums = append(parent.enums, e)
	}
	return e, nil
}

// AddEnumValue appends a value to a declared enum.
func (b *Builder) AddEnumValue(e *EnumType, v EnumValue) error {
	if b.sealed {
		return ErrSealed
	}
	if _, ok := e.byName[v.Name]; ok {
		return errors.Wrapf(ErrDuplicateName, "%s.%s", e.fullName, v.Name)
	}
	e.addValue(v)
	return nil
}

// AddField adds a field to m.
func (b *Builder) AddField(m *MessageType, spec FieldSpec) (*Field, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	f, err := b.newField(m, spec)
	if err != nil {
		return nil, err
	}
	b.register(m, f)
	return f, nil
}

func (b *Builder) newField(m *MessageType, spec FieldSpec) (*Field, error) {
	if spec.Name == "" {
		return nil, errors.Wrapf(ErrInvalidField, "%s: empty field name", m.fullName)
	}
	if !spec.Number.Valid() {
		return nil, errors.Wrapf(ErrInvalidField, "%s.%s: field number %d out of range", m.fullName, spec.Name, spec.Number)
	}
	if spec.Type == nil {
		return nil, errors.Wrapf(ErrInvalidField, "%s.%s: missing type", m.fullName, spec.Name)
	}
	if s, ok := spec.Type.(ScalarType); ok && (s == TypeInvalid || s == TypeEnum) {
		return nil, errors.Wrapf(ErrInvalidField, "%s.%s: scalar type %v", m.fullName, spec.Name, s)
	}
	label := spec.Label
	if label == "" {
		label = LabelOptional
	}
	jsonName := spec.JSONName
	if jsonName == "" {
		jsonName = JSONName(spec.Name)
	}
	if _, ok := m.byNumber[spec.Number]; ok {
		return nil, errors.Wrapf(ErrDuplicateField, "%s: number %d", m.fullName, spec.Number)
	}
	if _, ok := m.byName[spec.Name]; ok {
		return nil, errors.Wrapf(ErrDuplicateField, "%s: name %q", m.fullName, spec.Name)
	}
	if _, ok := m.byJSONName[jsonName]; ok {
		return nil, errors.Wrapf(ErrDuplicateField, "%s: json name %q", m.fullName, jsonName)
	}

	f := &Field{
		owner:    m,
		number:   spec.Number,
		name:     spec.Name,
		jsonName: jsonName,
		typ:      spec.Type,
		label:    label,
		optional: spec.Proto3Optional && label != LabelRepeated,
	}
	f.packed = label == LabelRepeated && f.Kind().IsPackable() && !spec.Unpacked
	return f, nil
}

func (b *Builder) register(m *MessageType, f *Field) {
	m.fields = append(m.fields, f)
	m.byNumber[f.number] = f
	m.byName[f.name] = f
	m.byJSONName[f.jsonName] = f
}

// AddOneOf adds a one-of group named name to m with the given members.
// Members must be singular.
func (b *Builder) AddOneOf(m *MessageType, name string, specs ...FieldSpec) (*OneOf, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	for _, o := range m.oneofs {
		if o.name == name {
			return nil, errors.Wrapf(ErrDuplicateName, "%s: oneof %q", m.fullName, name)
		}
	}
	o := &OneOf{
		name:     name,
		owner:    m,
		byNumber: make(map[wire.FieldNumber]*Field, len(specs)),
	}
	for _, spec := range specs {
		if spec.Label == LabelRepeated {
			return nil, errors.Wrapf(ErrInvalidField, "%s.%s: oneof member cannot be repeated", m.fullName, spec.Name)
		}
		f, err := b.newField(m, spec)
		if err != nil {
			return nil, err
		}
		f.oneof = o
		b.register(m, f)
		o.fields = append(o.fields, f)
		o.byNumber[f.number] = f
	}
	m.oneofs = append(m.oneofs, o)
	return o, nil
}

// AddMapField adds a map<key, value> field to m. The entry message
// <m>.<CamelName>Entry is synthesized with key as field 1 and value as field 2.
func (b *Builder) AddMapField(m *MessageType, name string, number wire.FieldNumber, key ScalarType, value Type) (*Field, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	if !isValidMapKey(key) {
		return nil, errors.Wrapf(ErrInvalidMapKey, "%s.%s: %v", m.fullName, name, key)
	}
	if vm, ok := value.(*MessageType); ok && vm.mapEntry {
		return nil, errors.Wrapf(ErrInvalidField, "%s.%s: map value cannot be a map", m.fullName, name)
	}

	entry, err := b.NewMessage(m.fullName+"."+CamelCase(name)+"Entry", m)
	if err != nil {
		return nil, err
	}
	entry.mapEntry = true

	k, err := b.AddField(entry, FieldSpec{Name: "key", Number: 1, Type: key})
	if err != nil {
		return nil, err
	}
	k.isMapKey = true
	v, err := b.AddField(entry, FieldSpec{Name: "value", Number: 2, Type: value})
	if err != nil {
		return nil, err
	}
	v.isMapValue = true

	f, err := b.AddField(m, FieldSpec{Name: name, Number: number, Type: entry, Label: LabelRepeated})
	if err != nil {
		return nil, err
	}
	f.isMap = true
	return f, nil
}

// SetMapEntry marks a declared message as a map entry. It is used when entry
// types come from descriptors instead of AddMapField.
func (b *Builder) SetMapEntry(entry *MessageType) error {
	if b.sealed {
		return ErrSealed
	}
	k, v := entry.byNumber[1], entry.byNumber[2]
	if k == nil || v == nil || len(entry.fields) != 2 {
		return errors.Wrapf(ErrInvalidField, "%s: map entry needs exactly fields 1 and 2", entry.fullName)
	}
	if !isValidMapKey(k.Kind()) || k.Message() != nil {
		return errors.Wrapf(ErrInvalidMapKey, "%s: %v", entry.fullName, k.typ)
	}
	entry.mapEntry = true
	k.isMapKey = true
	v.isMapValue = true
	return nil
}

// MarkMap flags a repeated field whose type is a map entry as a map field.
func (b *Builder) MarkMap(f *Field) error {
	if b.sealed {
		return ErrSealed
	}
	if m := f.Message(); m == nil || !m.mapEntry || !f.IsRepeated() {
		return errors.Wrapf(ErrInvalidField, "%s: not a repeated map entry field", f.FullName())
	}
	f.isMap = true
	return nil
}

func isValidMapKey(k ScalarType) bool {
	switch k {
	case TypeInt32, TypeInt64, TypeUint32, TypeUint64, TypeSint32, TypeSint64,
		TypeFixed32, TypeFixed64, TypeSfixed32, TypeSfixed64, TypeBool, TypeString:
		return true
	}
	return false
}

// Build checks that every referenced type was declared and seals the
// Builder. The returned Schema is immutable and safe for concurrent use.
func (b *Builder) Build() (*Schema, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	var unresolved []string
	for _, m := range b.msgOrder {
		if !m.declared {
			unresolved = append(unresolved, m.fullName)
		}
	}
	for _, e := range b.enumOrder {
		if !e.declared {
			unresolved = append(unresolved, e.fullName)
		}
	}
	if len(unresolved) > 0 {
		return nil, errors.Wrap(ErrUnresolved, strings.Join(unresolved, ", "))
	}

	for _, m := range b.msgOrder {
		m.wellKnown = wellKnownByName[m.fullName]
	}
	b.sealed = true

	return &Schema{
		messages:  b.messages,
		enums:     b.enums,
		msgOrder:  b.msgOrder,
		enumOrder: b.enumOrder,
	}, nil
}
