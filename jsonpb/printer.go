package jsonpb

import (
	"encoding/base64"
	"io"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/dynamic"
	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

// Printer is a visitor.ScalarVisitor that writes the proto3 JSON form of the
// events it receives. Ordinary messages are streamed; map entries and
// well-known messages are collected into a dynamic.Message and written when
// they are left. Unknown fields are skipped.
//
// Every field must arrive as one contiguous run, which is what
// dynamic.Message.Walk produces. A field seen again after another field
// fails with ErrDuplicate.
type Printer struct {
	opts  MarshalOptions
	s     *jsoniter.Stream
	stack []*frame
}

type frame struct {
	msg   *schema.MessageType
	field *schema.Field // entered field; nil for the root
	wrote bool
	open  *schema.Field // repeated or map field whose array or object is open
	seen  map[wire.FieldNumber]bool
	cases map[*schema.OneOf]bool

	// non-nil while the frame is collected instead of streamed
	collect *dynamic.Builder
	nest    int
}

var _ visitor.ScalarVisitor = (*Printer)(nil)

// NewPrinter returns a Printer writing to w. Call Flush when done.
func NewPrinter(w io.Writer, opts MarshalOptions) *Printer {
	return &Printer{opts: opts, s: jsoniter.NewStream(jsoniter.ConfigFastest, w, 512)}
}

// Flush writes buffered output to the underlying writer.
func (p *Printer) Flush() error { return p.s.Flush() }

func (p *Printer) top() *frame { return p.stack[len(p.stack)-1] }

// collecting returns the builder of the top frame when it is collected.
func (p *Printer) collecting() *dynamic.Builder {
	if len(p.stack) == 0 {
		return nil
	}
	return p.top().collect
}

func (p *Printer) Init(msg *schema.MessageType) error {
	p.stack = p.stack[:0]
	if msg.WellKnown() != schema.NotWellKnown {
		return p.pushCollect(msg, nil)
	}
	p.s.WriteObjectStart()
	p.stack = append(p.stack, &frame{msg: msg})
	return nil
}

func (p *Printer) Destroy() error {
	if len(p.stack) != 1 {
		return errors.Wrap(wire.ErrUnbalanced, "printer: message ended inside a field")
	}
	root := p.stack[0]
	p.stack = p.stack[:0]
	if root.collect != nil {
		if err := root.collect.Destroy(); err != nil {
			return err
		}
		return p.writeMessage(root.collect.Message())
	}
	p.closeOpen(root)
	p.s.WriteObjectEnd()
	return p.s.Error
}

func (p *Printer) pushCollect(msg *schema.MessageType, f *schema.Field) error {
	fr := &frame{msg: msg, field: f, collect: dynamic.NewBuilder(nil)}
	p.stack = append(p.stack, fr)
	return fr.collect.Init(msg)
}

// key positions the stream for a value of f in the top frame, opening the
// array or object of a repeated field on its first element.
func (p *Printer) key(f *schema.Field) error {
	top := p.top()
	if top.open == f {
		p.s.WriteMore()
		return nil
	}
	p.closeOpen(top)

	if top.seen == nil {
		top.seen = make(map[wire.FieldNumber]bool)
		top.cases = make(map[*schema.OneOf]bool)
	}
	if top.seen[f.Number()] {
		return errors.Wrapf(ErrDuplicate, "%s is not contiguous", f.FullName())
	}
	top.seen[f.Number()] = true
	if o := f.OneOf(); o != nil {
		if top.cases[o] {
			return errors.Wrapf(ErrDuplicate, "one-of %s has more than one member", o.Name())
		}
		top.cases[o] = true
	}

	if top.wrote {
		p.s.WriteMore()
	}
	top.wrote = true
	p.s.WriteObjectField(p.name(f))
	if f.IsMap() {
		p.s.WriteObjectStart()
		top.open = f
	} else if f.IsRepeated() {
		p.s.WriteArrayStart()
		top.open = f
	}
	return nil
}

func (p *Printer) closeOpen(fr *frame) {
	switch {
	case fr.open == nil:
		return
	case fr.open.IsMap():
		p.s.WriteObjectEnd()
	default:
		p.s.WriteArrayEnd()
	}
	fr.open = nil
}

func (p *Printer) name(f *schema.Field) string {
	if p.opts.UseProtoNames {
		return f.Name()
	}
	return f.JSONName()
}

func (p *Printer) scalar(f *schema.Field, v interface{}) error {
	if f.IsUnknown() {
		return nil
	}
	if err := p.key(f); err != nil {
		return err
	}
	return p.writeScalar(f, v)
}

func (p *Printer) VisitVarint32(f *schema.Field, v uint32) error {
	if c := p.collecting(); c != nil {
		return c.VisitVarint32(f, v)
	}
	if f.IsUnknown() {
		return nil
	}
	if f.Kind() == schema.TypeInt32 || f.Kind() == schema.TypeEnum {
		return visitor.DispatchVarint(p, f, uint64(int64(int32(v))))
	}
	return visitor.DispatchVarint(p, f, uint64(v))
}

func (p *Printer) VisitVarint64(f *schema.Field, v uint64) error {
	if c := p.collecting(); c != nil {
		return c.VisitVarint64(f, v)
	}
	if f.IsUnknown() {
		return nil
	}
	return visitor.DispatchVarint(p, f, v)
}

func (p *Printer) VisitI32(f *schema.Field, v uint32) error {
	if c := p.collecting(); c != nil {
		return c.VisitI32(f, v)
	}
	if f.IsUnknown() {
		return nil
	}
	return visitor.DispatchI32(p, f, v)
}

func (p *Printer) VisitI64(f *schema.Field, v uint64) error {
	if c := p.collecting(); c != nil {
		return c.VisitI64(f, v)
	}
	if f.IsUnknown() {
		return nil
	}
	return visitor.DispatchI64(p, f, v)
}

func (p *Printer) VisitString(f *schema.Field, v string) error {
	if c := p.collecting(); c != nil {
		return c.VisitString(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitBytes(f *schema.Field, v []byte) error {
	if c := p.collecting(); c != nil {
		return c.VisitBytes(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitInt32(f *schema.Field, v int32) error {
	if c := p.collecting(); c != nil {
		return c.VisitInt32(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitSInt32(f *schema.Field, v int32) error {
	if c := p.collecting(); c != nil {
		return c.VisitSInt32(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitUInt32(f *schema.Field, v uint32) error {
	if c := p.collecting(); c != nil {
		return c.VisitUInt32(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitEnum(f *schema.Field, v int32) error {
	if c := p.collecting(); c != nil {
		return c.VisitEnum(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitBool(f *schema.Field, v bool) error {
	if c := p.collecting(); c != nil {
		return c.VisitBool(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitFixed32(f *schema.Field, v uint32) error {
	if c := p.collecting(); c != nil {
		return c.VisitFixed32(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitSFixed32(f *schema.Field, v int32) error {
	if c := p.collecting(); c != nil {
		return c.VisitSFixed32(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitFloat(f *schema.Field, v float32) error {
	if c := p.collecting(); c != nil {
		return c.VisitFloat(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitInt64(f *schema.Field, v int64) error {
	if c := p.collecting(); c != nil {
		return c.VisitInt64(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitSInt64(f *schema.Field, v int64) error {
	if c := p.collecting(); c != nil {
		return c.VisitSInt64(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitUInt64(f *schema.Field, v uint64) error {
	if c := p.collecting(); c != nil {
		return c.VisitUInt64(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitFixed64(f *schema.Field, v uint64) error {
	if c := p.collecting(); c != nil {
		return c.VisitFixed64(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitSFixed64(f *schema.Field, v int64) error {
	if c := p.collecting(); c != nil {
		return c.VisitSFixed64(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) VisitDouble(f *schema.Field, v float64) error {
	if c := p.collecting(); c != nil {
		return c.VisitDouble(f, v)
	}
	return p.scalar(f, v)
}

func (p *Printer) Enter(f *schema.Field) error {
	if c := p.collecting(); c != nil {
		p.top().nest++
		return c.Enter(f)
	}
	mt := f.Message()
	if mt == nil {
		return errors.Wrapf(visitor.ErrKindMismatch, "%s is not a message field", f.FullName())
	}
	if f.IsMap() || mt.WellKnown() != schema.NotWellKnown {
		return p.pushCollect(mt, f)
	}
	if err := p.key(f); err != nil {
		return err
	}
	p.s.WriteObjectStart()
	p.stack = append(p.stack, &frame{msg: mt, field: f})
	return nil
}

func (p *Printer) Leave(f *schema.Field) error {
	top := p.top()
	if top.collect != nil && top.nest > 0 {
		top.nest--
		return top.collect.Leave(f)
	}
	if len(p.stack) < 2 || top.field != f {
		return errors.Wrapf(wire.ErrUnbalanced, "printer: leave of %s", f.FullName())
	}
	p.stack = p.stack[:len(p.stack)-1]
	if top.collect == nil {
		p.closeOpen(top)
		p.s.WriteObjectEnd()
		return nil
	}

	if err := top.collect.Destroy(); err != nil {
		return err
	}
	m := top.collect.Message()
	if f.IsMap() {
		return p.writeEntry(f, m)
	}
	if err := p.key(f); err != nil {
		return err
	}
	return p.writeMessage(m)
}

func (p *Printer) EnterPacked(f *schema.Field) error {
	if c := p.collecting(); c != nil {
		return c.EnterPacked(f)
	}
	return nil
}

func (p *Printer) LeavePacked(f *schema.Field) error {
	if c := p.collecting(); c != nil {
		return c.LeavePacked(f)
	}
	return nil
}

func (p *Printer) writeEntry(f *schema.Field, entry *dynamic.Message) error {
	if err := p.key(f); err != nil {
		return err
	}
	kf, vf := f.MapKey(), f.MapValue()
	k, ok := entry.Get(kf)
	if !ok {
		k = dynamic.Default(kf)
	}
	v, ok := entry.Get(vf)
	if !ok {
		v = dynamic.Default(vf)
	}
	p.s.WriteObjectField(mapKey(k))
	return p.writeValue(vf, v)
}

func mapKey(k interface{}) string {
	switch x := k.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	}
	return ""
}

func (p *Printer) writeValue(f *schema.Field, v interface{}) error {
	if m, ok := v.(*dynamic.Message); ok {
		return p.writeMessage(m)
	}
	return p.writeScalar(f, v)
}

// writeMessage writes a complete message value at the current position.
func (p *Printer) writeMessage(m *dynamic.Message) error {
	if m.Type().WellKnown() != schema.NotWellKnown {
		return p.writeWellKnown(m)
	}
	p.s.WriteObjectStart()
	fr := &frame{msg: m.Type()}
	p.stack = append(p.stack, fr)
	if err := m.Walk(p); err != nil {
		return err
	}
	p.stack = p.stack[:len(p.stack)-1]
	p.closeOpen(fr)
	p.s.WriteObjectEnd()
	return nil
}

func (p *Printer) writeScalar(f *schema.Field, v interface{}) error {
	switch x := v.(type) {
	case int32:
		if e := f.Enum(); e != nil {
			p.writeEnum(e, x)
			return nil
		}
		p.s.WriteInt32(x)
	case uint32:
		p.s.WriteUint32(x)
	case int64:
		p.s.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		p.s.WriteString(strconv.FormatUint(x, 10))
	case bool:
		p.s.WriteBool(x)
	case float32:
		writeFloat(p.s, float64(x), 32)
	case float64:
		writeFloat(p.s, x, 64)
	case string:
		p.s.WriteString(x)
	case []byte:
		p.s.WriteString(base64.StdEncoding.EncodeToString(x))
	default:
		return errors.Wrapf(visitor.ErrKindMismatch, "%s is %v, got %T", f.FullName(), f.Type(), v)
	}
	return nil
}

func (p *Printer) writeEnum(e *schema.EnumType, v int32) {
	if e.FullName() == "google.protobuf.NullValue" {
		p.s.WriteNil()
		return
	}
	if !p.opts.UseEnumNumbers {
		if name, ok := e.ValueName(v); ok {
			p.s.WriteString(name)
			return
		}
	}
	p.s.WriteInt32(v)
}

func writeFloat(s *jsoniter.Stream, v float64, bits int) {
	switch {
	case math.IsNaN(v):
		s.WriteString("NaN")
	case math.IsInf(v, 1):
		s.WriteString("Infinity")
	case math.IsInf(v, -1):
		s.WriteString("-Infinity")
	default:
		s.WriteRaw(strconv.FormatFloat(v, 'g', -1, bits))
	}
}

func (p *Printer) writeWellKnown(m *dynamic.Message) error {
	mt := m.Type()
	switch mt.WellKnown() {
	case schema.WellKnownDuration, schema.WellKnownTimestamp:
		secs, _ := fieldValue(m, 1).(int64)
		nanos, _ := fieldValue(m, 2).(int32)
		format := formatDuration
		if mt.WellKnown() == schema.WellKnownTimestamp {
			format = formatTimestamp
		}
		s, err := format(secs, nanos)
		if err != nil {
			return errors.WithMessage(err, mt.FullName())
		}
		p.s.WriteString(s)

	case schema.WellKnownFieldMask:
		var paths []string
		if f := mt.Field(1); f != nil {
			for _, e := range m.List(f) {
				paths = append(paths, e.(string))
			}
		}
		s, err := formatFieldMask(paths)
		if err != nil {
			return err
		}
		p.s.WriteString(s)

	case schema.WellKnownWrapper:
		f := mt.Field(1)
		if f == nil {
			return errors.Wrapf(ErrWellKnown, "%s has no value field", mt.FullName())
		}
		return p.writeScalar(f, fieldValue(m, 1))

	case schema.WellKnownStruct:
		p.s.WriteObjectStart()
		if mp, ok := fieldValue(m, 1).(*dynamic.Map); ok {
			for i, k := range mp.Keys() {
				if i > 0 {
					p.s.WriteMore()
				}
				p.s.WriteObjectField(k.(string))
				v, _ := mp.Get(k)
				if err := p.writeMessage(v.(*dynamic.Message)); err != nil {
					return err
				}
			}
		}
		p.s.WriteObjectEnd()

	case schema.WellKnownListValue:
		p.s.WriteArrayStart()
		if f := mt.Field(1); f != nil {
			for i, e := range m.List(f) {
				if i > 0 {
					p.s.WriteMore()
				}
				if err := p.writeMessage(e.(*dynamic.Message)); err != nil {
					return err
				}
			}
		}
		p.s.WriteArrayEnd()

	case schema.WellKnownValue:
		return p.writeKind(m)
	}
	return nil
}

// fieldValue returns the value of field num, or its default when unset.
func fieldValue(m *dynamic.Message, num wire.FieldNumber) interface{} {
	f := m.Type().Field(num)
	if f == nil {
		return nil
	}
	if v, ok := m.Get(f); ok {
		return v
	}
	return dynamic.Default(f)
}

// writeKind writes a google.protobuf.Value as a bare JSON value.
func (p *Printer) writeKind(m *dynamic.Message) error {
	fields := m.Fields()
	if len(fields) == 0 {
		return errors.Wrapf(ErrWellKnown, "%s has no kind set", m.Type().FullName())
	}
	f := fields[len(fields)-1]
	v, _ := m.Get(f)
	switch f.Number() {
	case 1:
		p.s.WriteNil()
	case 2:
		x := v.(float64)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.Wrapf(ErrWellKnown, "%s number %v has no JSON form", m.Type().FullName(), x)
		}
		p.s.WriteRaw(strconv.FormatFloat(x, 'g', -1, 64))
	case 5, 6:
		return p.writeMessage(v.(*dynamic.Message))
	default:
		return p.writeScalar(f, v)
	}
	return nil
}
