package dynamic

import (
	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

// Walk emits the message's fields as encoder events: set fields in the order
// they were first set, then the unknown fields. Repeated values of a packed
// field are emitted as one packed run. Walk has the codec.Producer shape.
func (m *Message) Walk(v visitor.ScalarVisitor) error {
	for _, f := range m.order {
		val, _ := m.Get(f)
		if err := walkField(v, f, val); err != nil {
			return err
		}
	}
	for _, u := range m.unknown {
		if err := walkUnknown(v, u); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes the message with e.
func (m *Message) Encode(e *codec.Encoder) ([]byte, error) {
	return e.Encode(m.typ, m.Walk)
}

func walkField(v visitor.ScalarVisitor, f *schema.Field, val interface{}) error {
	switch {
	case f.IsMap():
		return walkMap(v, f, val.(*Map))
	case f.IsRepeated():
		list := val.([]interface{})
		if len(list) == 0 {
			return nil
		}
		if f.IsPacked() {
			if err := v.EnterPacked(f); err != nil {
				return err
			}
			for _, e := range list {
				if err := visitor.Emit(v, f, e); err != nil {
					return err
				}
			}
			return v.LeavePacked(f)
		}
		for _, e := range list {
			if err := walkSingle(v, f, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return walkSingle(v, f, val)
	}
}

func walkSingle(v visitor.ScalarVisitor, f *schema.Field, val interface{}) error {
	if f.Message() == nil {
		return visitor.Emit(v, f, val)
	}
	if err := v.Enter(f); err != nil {
		return err
	}
	if err := val.(*Message).Walk(v); err != nil {
		return err
	}
	return v.Leave(f)
}

func walkMap(v visitor.ScalarVisitor, f *schema.Field, mp *Map) error {
	kf, vf := f.MapKey(), f.MapValue()
	for _, key := range mp.keys {
		if err := v.Enter(f); err != nil {
			return err
		}
		if err := visitor.Emit(v, kf, key); err != nil {
			return err
		}
		if err := walkSingle(v, vf, mp.vals[key]); err != nil {
			return err
		}
		if err := v.Leave(f); err != nil {
			return err
		}
	}
	return nil
}

func walkUnknown(v visitor.ScalarVisitor, u UnknownField) error {
	switch u.Field.WireType() {
	case wire.WireVarint:
		return v.VisitVarint64(u.Field, u.Value.(uint64))
	case wire.WireFixed32:
		return v.VisitI32(u.Field, u.Value.(uint32))
	case wire.WireFixed64:
		return v.VisitI64(u.Field, u.Value.(uint64))
	case wire.WireBytes:
		return v.VisitBytes(u.Field, u.Value.([]byte))
	}
	return errors.Wrapf(wire.ErrWireType, "unknown field %d", u.Field.Number())
}
