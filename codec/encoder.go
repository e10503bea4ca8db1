package codec

import (
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

// ErrForeignField is returned when a producer reports a field that does not
// belong to the message currently being written.
var ErrForeignField = errors.New("field does not belong to the current message")

// Producer emits the field events of one message. The encoder calls it twice
// and both calls must emit the same events in the same order.
type Producer func(v visitor.ScalarVisitor) error

// Encoder turns producer events into protobuf bytes using two passes: the
// first measures every embedded message, the second writes into a buffer of
// exactly the measured size.
type Encoder struct {
	cfg Config
}

// NewEncoder creates an encoder. Config.Unknown is not consulted.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.validateLimits(); err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg}, nil
}

// Encode runs p against msg and returns the encoded bytes. Errors are
// *wire.EncodeError values unless the producer itself fails.
func (e *Encoder) Encode(msg *schema.MessageType, p Producer) ([]byte, error) {
	sz := newSizer(e.cfg, msg)
	if err := p(visitor.Semantic{Visitor: sz}); err != nil {
		return nil, err
	}
	if err := sz.finish(); err != nil {
		return nil, err
	}

	w := newWriter(sz)
	if err := p(visitor.Semantic{Visitor: w}); err != nil {
		return nil, err
	}
	if err := w.finish(); err != nil {
		return nil, err
	}
	return w.sink.Bytes(), nil
}

// frame is one open message or packed run during the size pass.
type frame struct {
	field  *schema.Field // nil for the root
	msg    *schema.MessageType
	packed bool
	size   int
	slot   int
}

// sizer is the first pass. It checks the event structure and records the
// payload length of every Enter/EnterPacked bracket in call order.
type sizer struct {
	cfg      Config
	maxDepth int
	stack    []frame
	slots    []int
	strings  []int
	total    int
}

var _ visitor.Visitor = (*sizer)(nil)

func newSizer(cfg Config, msg *schema.MessageType) *sizer {
	return &sizer{
		cfg:      cfg,
		maxDepth: cfg.maxDepth(),
		stack:    []frame{{msg: msg}},
	}
}

func (s *sizer) top() *frame { return &s.stack[len(s.stack)-1] }

// path returns the names of the open brackets plus f.
func (s *sizer) path(f *schema.Field) []string {
	var out []string
	for _, fr := range s.stack[1:] {
		out = append(out, fr.field.DisplayName())
	}
	if f != nil {
		out = append(out, f.DisplayName())
	}
	return out
}

func (s *sizer) fail(f *schema.Field, err error) error {
	return &wire.EncodeError{FieldPath: s.path(f), Err: err}
}

// check validates a scalar event of wire type wt on f and returns the size
// of its tag, or zero inside a packed run.
func (s *sizer) check(f *schema.Field, wt wire.WireType) (int, error) {
	top := s.top()
	if top.packed {
		if f != top.field {
			return 0, s.fail(f, errors.Wrapf(ErrForeignField, "value for %s inside packed %s", f.FullName(), top.field.FullName()))
		}
		if wt != f.Kind().WireType() {
			return 0, s.fail(f, errors.Wrapf(visitor.ErrKindMismatch, "%s is %v, got %v", f.FullName(), f.Type(), wt))
		}
		return 0, nil
	}
	if f.Owner() != top.msg {
		return 0, s.fail(f, errors.Wrapf(ErrForeignField, "%s inside %s", f.FullName(), top.msg.FullName()))
	}
	if f.Message() != nil || f.WireType() != wt {
		return 0, s.fail(f, errors.Wrapf(visitor.ErrKindMismatch, "%s is %v, got %v", f.FullName(), f.Type(), wt))
	}
	return wire.TagSize(f.Number()), nil
}

func (s *sizer) add(f *schema.Field, wt wire.WireType, n int) error {
	tag, err := s.check(f, wt)
	if err != nil {
		return err
	}
	s.top().size += tag + n
	return nil
}

func (s *sizer) Init(*schema.MessageType) error { return nil }
func (s *sizer) Destroy() error                 { return nil }

func (s *sizer) VisitVarint32(f *schema.Field, v uint32) error {
	return s.add(f, wire.WireVarint, wire.VarintSize32(v))
}

func (s *sizer) VisitVarint64(f *schema.Field, v uint64) error {
	return s.add(f, wire.WireVarint, wire.VarintSize(v))
}

func (s *sizer) VisitI32(f *schema.Field, _ uint32) error {
	return s.add(f, wire.WireFixed32, wire.Fixed32Size)
}

func (s *sizer) VisitI64(f *schema.Field, _ uint64) error {
	return s.add(f, wire.WireFixed64, wire.Fixed64Size)
}

func (s *sizer) VisitString(f *schema.Field, v string) error {
	if !s.cfg.AllowInvalidUTF8 && !utf8.ValidString(v) {
		return s.fail(f, wire.ErrInvalidUTF8)
	}
	s.strings = append(s.strings, len(v))
	return s.add(f, wire.WireBytes, wire.BytesSize(len(v)))
}

func (s *sizer) VisitBytes(f *schema.Field, v []byte) error {
	return s.add(f, wire.WireBytes, wire.BytesSize(len(v)))
}

func (s *sizer) Enter(f *schema.Field) error {
	top := s.top()
	if top.packed || f.Owner() != top.msg {
		return s.fail(f, errors.Wrapf(ErrForeignField, "%s inside %s", f.FullName(), top.msg.FullName()))
	}
	m := f.Message()
	if m == nil {
		return s.fail(f, errors.Wrapf(visitor.ErrKindMismatch, "%s is not a message field", f.FullName()))
	}
	if len(s.stack) > s.maxDepth {
		return s.fail(f, errors.Wrapf(wire.ErrDepthExceeded, "limit %d", s.maxDepth))
	}
	s.stack = append(s.stack, frame{field: f, msg: m, slot: len(s.slots)})
	s.slots = append(s.slots, 0)
	return nil
}

func (s *sizer) EnterPacked(f *schema.Field) error {
	top := s.top()
	if top.packed || f.Owner() != top.msg {
		return s.fail(f, errors.Wrapf(ErrForeignField, "%s inside %s", f.FullName(), top.msg.FullName()))
	}
	if !f.IsPackable() {
		return s.fail(f, errors.Wrapf(visitor.ErrKindMismatch, "%s cannot be packed", f.FullName()))
	}
	s.stack = append(s.stack, frame{field: f, msg: top.msg, packed: true, slot: len(s.slots)})
	s.slots = append(s.slots, 0)
	return nil
}

func (s *sizer) Leave(f *schema.Field) error       { return s.leave(f, false) }
func (s *sizer) LeavePacked(f *schema.Field) error { return s.leave(f, true) }

func (s *sizer) leave(f *schema.Field, packed bool) error {
	if len(s.stack) == 1 {
		return s.fail(f, errors.Wrapf(wire.ErrUnbalanced, "leave %s without enter", f.FullName()))
	}
	top := s.stack[len(s.stack)-1]
	if top.field != f || top.packed != packed {
		return s.fail(f, errors.Wrapf(wire.ErrUnbalanced, "leave %s while %s is open", f.FullName(), top.field.FullName()))
	}
	s.stack = s.stack[:len(s.stack)-1]
	s.slots[top.slot] = top.size
	s.top().size += wire.TagSize(f.Number()) + wire.BytesSize(top.size)
	return nil
}

func (s *sizer) finish() error {
	if len(s.stack) != 1 {
		f := s.top().field
		return s.fail(nil, errors.Wrapf(wire.ErrUnbalanced, "%s never left", f.FullName()))
	}
	s.total = s.stack[0].size
	return nil
}

// writer is the second pass. It trusts the structure checked by the sizer
// and only verifies that the producer repeats itself.
type writer struct {
	sink    *wire.Sink
	slots   []int
	strings []int
	slot    int
	str     int
	total   int
	stack   []*schema.Field
	packed  bool
}

var _ visitor.Visitor = (*writer)(nil)

func newWriter(s *sizer) *writer {
	return &writer{
		sink:    wire.NewSink(s.total),
		slots:   s.slots,
		strings: s.strings,
		total:   s.total,
	}
}

func (w *writer) mismatch(f *schema.Field, format string, args ...interface{}) error {
	path := make([]string, 0, len(w.stack)+1)
	for _, sf := range w.stack {
		path = append(path, sf.DisplayName())
	}
	if f != nil {
		path = append(path, f.DisplayName())
	}
	return &wire.EncodeError{FieldPath: path, Err: errors.Wrapf(wire.ErrProducerMismatch, format, args...)}
}

func (w *writer) tag(f *schema.Field, wt wire.WireType) {
	if !w.packed {
		w.sink.WriteTag(f.Number(), wt)
	}
}

func (w *writer) Init(*schema.MessageType) error { return nil }
func (w *writer) Destroy() error                 { return nil }

func (w *writer) VisitVarint32(f *schema.Field, v uint32) error {
	w.tag(f, wire.WireVarint)
	w.sink.WriteVarint32(v)
	return nil
}

func (w *writer) VisitVarint64(f *schema.Field, v uint64) error {
	w.tag(f, wire.WireVarint)
	w.sink.WriteVarint64(v)
	return nil
}

func (w *writer) VisitI32(f *schema.Field, v uint32) error {
	w.tag(f, wire.WireFixed32)
	w.sink.WriteFixed32(v)
	return nil
}

func (w *writer) VisitI64(f *schema.Field, v uint64) error {
	w.tag(f, wire.WireFixed64)
	w.sink.WriteFixed64(v)
	return nil
}

func (w *writer) VisitString(f *schema.Field, v string) error {
	if w.str >= len(w.strings) || w.strings[w.str] != len(v) {
		return w.mismatch(f, "string #%d", w.str)
	}
	w.str++
	w.tag(f, wire.WireBytes)
	w.sink.WriteVarint64(uint64(len(v)))
	w.sink.WriteString(v)
	return nil
}

func (w *writer) VisitBytes(f *schema.Field, v []byte) error {
	w.tag(f, wire.WireBytes)
	w.sink.WriteVarint64(uint64(len(v)))
	w.sink.WriteBytes(v)
	return nil
}

func (w *writer) open(f *schema.Field) error {
	if w.slot >= len(w.slots) {
		return w.mismatch(f, "more submessages than the size pass saw")
	}
	w.sink.WriteTag(f.Number(), wire.WireBytes)
	w.sink.WriteVarint64(uint64(w.slots[w.slot]))
	w.slot++
	w.stack = append(w.stack, f)
	return nil
}

func (w *writer) Enter(f *schema.Field) error { return w.open(f) }

func (w *writer) EnterPacked(f *schema.Field) error {
	if err := w.open(f); err != nil {
		return err
	}
	w.packed = true
	return nil
}

func (w *writer) Leave(f *schema.Field) error {
	if len(w.stack) == 0 {
		return w.mismatch(f, "leave without enter")
	}
	w.stack = w.stack[:len(w.stack)-1]
	return nil
}

func (w *writer) LeavePacked(f *schema.Field) error {
	w.packed = false
	return w.Leave(f)
}

func (w *writer) finish() error {
	if w.slot != len(w.slots) || w.str != len(w.strings) {
		return w.mismatch(nil, "emit pass saw %d submessages and %d strings, size pass %d and %d",
			w.slot, w.str, len(w.slots), len(w.strings))
	}
	if w.sink.Len() != w.total {
		return w.mismatch(nil, "emit pass wrote %d bytes, size pass measured %d", w.sink.Len(), w.total)
	}
	return nil
}
