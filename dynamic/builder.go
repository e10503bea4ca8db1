package dynamic

import (
	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
)

// Builder is a visitor.ScalarVisitor that stores decoded events in a Message
// with protobuf merge semantics: singular scalars keep the last value,
// singular messages merge, repeated fields append, map keys keep the last
// entry, and setting a one-of member clears the others.
type Builder struct {
	root  *Message
	stack []open
}

type open struct {
	msg   *Message
	field *schema.Field // the field that was entered; nil for the root
	entry bool          // msg is a map entry that is stored on Leave
}

var _ visitor.ScalarVisitor = (*Builder)(nil)

// NewBuilder returns a Builder that merges into into. With a nil into, a new
// message is created by Init.
func NewBuilder(into *Message) *Builder {
	return &Builder{root: into}
}

// Message returns the message being built.
func (b *Builder) Message() *Message { return b.root }

// Decode parses data as typ with d.
func Decode(d *codec.Decoder, typ *schema.MessageType, data []byte) (*Message, error) {
	b := NewBuilder(nil)
	if err := d.Parse(typ, b, data); err != nil {
		return nil, err
	}
	return b.Message(), nil
}

// Merge parses data with d and merges it into m.
func Merge(d *codec.Decoder, m *Message, data []byte) error {
	return d.Parse(m.Type(), NewBuilder(m), data)
}

func (b *Builder) cur() *Message { return b.stack[len(b.stack)-1].msg }

func (b *Builder) Init(msg *schema.MessageType) error {
	if b.root == nil {
		b.root = New(msg)
	} else if b.root.typ != msg {
		return errors.Wrapf(ErrFieldType, "cannot merge %s into %s", msg.FullName(), b.root.typ.FullName())
	}
	b.stack = append(b.stack[:0], open{msg: b.root})
	return nil
}

func (b *Builder) Destroy() error {
	if len(b.stack) != 1 {
		return errors.New("dynamic: unbalanced events at end of message")
	}
	return nil
}

// store records a scalar or message element for f in the current message.
func (b *Builder) store(f *schema.Field, v interface{}) error {
	m := b.cur()
	if f.IsUnknown() {
		m.AddUnknown(f, v)
		return nil
	}
	if f.IsRepeated() {
		m.appendValue(f, v)
		return nil
	}
	m.set(f, v)
	return nil
}

// Raw events reach the builder for unknown fields. Known fields are routed
// through the typed methods.
func (b *Builder) VisitVarint32(f *schema.Field, v uint32) error {
	if f.IsUnknown() {
		return b.store(f, uint64(v))
	}
	if f.Kind() == schema.TypeInt32 || f.Kind() == schema.TypeEnum {
		return visitor.DispatchVarint(b, f, uint64(int64(int32(v))))
	}
	return visitor.DispatchVarint(b, f, uint64(v))
}

func (b *Builder) VisitVarint64(f *schema.Field, v uint64) error {
	if f.IsUnknown() {
		return b.store(f, v)
	}
	return visitor.DispatchVarint(b, f, v)
}

func (b *Builder) VisitI32(f *schema.Field, v uint32) error {
	if f.IsUnknown() {
		return b.store(f, v)
	}
	return visitor.DispatchI32(b, f, v)
}

func (b *Builder) VisitI64(f *schema.Field, v uint64) error {
	if f.IsUnknown() {
		return b.store(f, v)
	}
	return visitor.DispatchI64(b, f, v)
}

func (b *Builder) VisitString(f *schema.Field, v string) error {
	if f.IsUnknown() {
		return b.store(f, []byte(v))
	}
	return b.store(f, v)
}

func (b *Builder) VisitBytes(f *schema.Field, v []byte) error { return b.store(f, v) }

func (b *Builder) VisitInt32(f *schema.Field, v int32) error    { return b.store(f, v) }
func (b *Builder) VisitSInt32(f *schema.Field, v int32) error   { return b.store(f, v) }
func (b *Builder) VisitUInt32(f *schema.Field, v uint32) error  { return b.store(f, v) }
func (b *Builder) VisitEnum(f *schema.Field, v int32) error     { return b.store(f, v) }
func (b *Builder) VisitBool(f *schema.Field, v bool) error      { return b.store(f, v) }
func (b *Builder) VisitFixed32(f *schema.Field, v uint32) error { return b.store(f, v) }
func (b *Builder) VisitSFixed32(f *schema.Field, v int32) error { return b.store(f, v) }
func (b *Builder) VisitFloat(f *schema.Field, v float32) error  { return b.store(f, v) }
func (b *Builder) VisitInt64(f *schema.Field, v int64) error    { return b.store(f, v) }
func (b *Builder) VisitSInt64(f *schema.Field, v int64) error   { return b.store(f, v) }
func (b *Builder) VisitUInt64(f *schema.Field, v uint64) error  { return b.store(f, v) }
func (b *Builder) VisitFixed64(f *schema.Field, v uint64) error { return b.store(f, v) }
func (b *Builder) VisitSFixed64(f *schema.Field, v int64) error { return b.store(f, v) }
func (b *Builder) VisitDouble(f *schema.Field, v float64) error { return b.store(f, v) }

func (b *Builder) Enter(f *schema.Field) error {
	m := b.cur()
	mt := f.Message()
	if mt == nil {
		return errors.Wrapf(ErrFieldType, "%s is not a message field", f.FullName())
	}

	var child *Message
	entry := false
	switch {
	case f.IsMap():
		child = New(mt)
		entry = true
	case f.IsRepeated():
		child = New(mt)
		m.appendValue(f, child)
	default:
		child = m.mutable(f)
	}
	b.stack = append(b.stack, open{msg: child, field: f, entry: entry})
	return nil
}

func (b *Builder) Leave(f *schema.Field) error {
	if len(b.stack) < 2 || b.stack[len(b.stack)-1].field != f {
		return errors.Errorf("dynamic: unbalanced leave of %s", f.FullName())
	}
	top := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	if top.entry {
		storeEntry(b.cur().mapOf(f), f, top.msg)
	}
	return nil
}

// storeEntry copies a decoded map entry into mp. Missing keys and values
// take their defaults.
func storeEntry(mp *Map, f *schema.Field, entry *Message) {
	kf, vf := f.MapKey(), f.MapValue()
	key, ok := entry.Get(kf)
	if !ok {
		key = Default(kf)
	}
	val, ok := entry.Get(vf)
	if !ok {
		val = Default(vf)
	}
	mp.set(key, val)
}

func (b *Builder) EnterPacked(*schema.Field) error { return nil }
func (b *Builder) LeavePacked(*schema.Field) error { return nil }
