package jsonpb

import (
	"io"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

// Producer returns a codec.Producer that reads a JSON document for msg.
func Producer(msg *schema.MessageType, data []byte) codec.Producer {
	return UnmarshalOptions{}.Producer(msg, data)
}

// Producer returns a codec.Producer that reads a JSON document for msg. The
// document is parsed again on every call, so both encoder passes see the same
// events. Keys may be JSON names or field names, 64-bit integers may be
// numbers or strings, and fields without presence that hold their zero value
// are not emitted.
func (o UnmarshalOptions) Producer(msg *schema.MessageType, data []byte) codec.Producer {
	return func(v visitor.ScalarVisitor) error {
		iter := jsoniter.ConfigFastest.BorrowIterator(data)
		defer jsoniter.ConfigFastest.ReturnIterator(iter)

		r := &reader{opts: o, iter: iter, v: v}
		if err := r.body(msg); err != nil {
			return err
		}
		if err := r.syntax(); err != nil {
			return err
		}
		if next := iter.WhatIsNext(); next != jsoniter.InvalidValue {
			return r.errorf(ErrSyntax, "trailing %s after document", valueName(next))
		}
		return nil
	}
}

type reader struct {
	opts UnmarshalOptions
	iter *jsoniter.Iterator
	v    visitor.ScalarVisitor
	path []string
}

func (r *reader) errorf(sentinel error, format string, args ...interface{}) error {
	path := make([]string, len(r.path))
	copy(path, r.path)
	return &wire.EncodeError{FieldPath: path, Err: errors.Wrapf(sentinel, format, args...)}
}

func (r *reader) syntax() error {
	if err := r.iter.Error; err != nil && err != io.EOF {
		return r.errorf(ErrSyntax, "%v", err)
	}
	return nil
}

func (r *reader) mismatch(what string, next jsoniter.ValueType) error {
	if next == jsoniter.InvalidValue {
		if err := r.syntax(); err != nil {
			return err
		}
		return r.errorf(ErrSyntax, "unexpected end of input for %s", what)
	}
	return r.errorf(ErrType, "%s cannot be read from a JSON %s", what, valueName(next))
}

func valueName(t jsoniter.ValueType) string {
	switch t {
	case jsoniter.StringValue:
		return "string"
	case jsoniter.NumberValue:
		return "number"
	case jsoniter.NilValue:
		return "null"
	case jsoniter.BoolValue:
		return "bool"
	case jsoniter.ArrayValue:
		return "array"
	case jsoniter.ObjectValue:
		return "object"
	}
	return "invalid value"
}

// body reads the current JSON value as the fields of mt.
func (r *reader) body(mt *schema.MessageType) error {
	switch mt.WellKnown() {
	case schema.WellKnownDuration, schema.WellKnownTimestamp:
		return r.timeLike(mt)
	case schema.WellKnownFieldMask:
		return r.fieldMask(mt)
	case schema.WellKnownWrapper:
		f := mt.Field(1)
		if f == nil {
			return r.errorf(ErrWellKnown, "%s has no value field", mt.FullName())
		}
		val, err := r.scalar(f)
		if err != nil || isZero(val) {
			return err
		}
		return visitor.Emit(r.v, f, val)
	case schema.WellKnownStruct:
		return r.structFields(mt)
	case schema.WellKnownValue:
		return r.value(mt)
	case schema.WellKnownListValue:
		return r.list(mt)
	}
	return r.object(mt)
}

func (r *reader) object(mt *schema.MessageType) error {
	if next := r.iter.WhatIsNext(); next != jsoniter.ObjectValue {
		return r.mismatch(mt.FullName(), next)
	}
	seen := make(map[wire.FieldNumber]bool)
	cases := make(map[*schema.OneOf]bool)
	var err error
	r.iter.ReadMapCB(func(_ *jsoniter.Iterator, key string) bool {
		err = r.member(mt, key, seen, cases)
		return err == nil
	})
	if err != nil {
		return err
	}
	return r.syntax()
}

func (r *reader) member(mt *schema.MessageType, key string, seen map[wire.FieldNumber]bool, cases map[*schema.OneOf]bool) error {
	f := mt.Lookup(key)
	if f == nil {
		if r.opts.DiscardUnknown {
			r.iter.Skip()
			return r.syntax()
		}
		return r.errorf(wire.ErrUnknownField, "%s has no field %q", mt.FullName(), key)
	}

	r.path = append(r.path, f.Name())
	defer func() { r.path = r.path[:len(r.path)-1] }()

	if seen[f.Number()] {
		return r.errorf(ErrDuplicate, "%s appears more than once", f.FullName())
	}
	seen[f.Number()] = true

	if r.iter.WhatIsNext() == jsoniter.NilValue {
		r.iter.ReadNil()
		if isValue(f) && !f.IsRepeated() {
			if err := r.oneOfCase(f, cases); err != nil {
				return err
			}
			return r.nullValue(f)
		}
		return r.syntax()
	}
	if err := r.oneOfCase(f, cases); err != nil {
		return err
	}
	return r.field(f)
}

func (r *reader) oneOfCase(f *schema.Field, cases map[*schema.OneOf]bool) error {
	o := f.OneOf()
	if o == nil {
		return nil
	}
	if cases[o] {
		return r.errorf(ErrDuplicate, "one-of %s has more than one member", o.Name())
	}
	cases[o] = true
	return nil
}

func isValue(f *schema.Field) bool {
	mt := f.Message()
	return mt != nil && mt.WellKnown() == schema.WellKnownValue
}

func (r *reader) field(f *schema.Field) error {
	switch {
	case f.IsMap():
		return r.mapField(f)
	case f.IsRepeated():
		return r.repeated(f)
	case f.Message() != nil:
		return r.message(f)
	}
	val, err := r.scalar(f)
	if err != nil {
		return err
	}
	if !f.HasPresence() && isZero(val) {
		return nil
	}
	return visitor.Emit(r.v, f, val)
}

func (r *reader) message(f *schema.Field) error {
	if err := r.v.Enter(f); err != nil {
		return err
	}
	if err := r.body(f.Message()); err != nil {
		return err
	}
	return r.v.Leave(f)
}

func (r *reader) nullValue(f *schema.Field) error {
	nf := f.Message().Field(1)
	if nf == nil {
		return r.errorf(ErrWellKnown, "%s has no null_value field", f.Message().FullName())
	}
	if err := r.v.Enter(f); err != nil {
		return err
	}
	if err := r.v.VisitEnum(nf, 0); err != nil {
		return err
	}
	return r.v.Leave(f)
}

func (r *reader) repeated(f *schema.Field) error {
	if next := r.iter.WhatIsNext(); next != jsoniter.ArrayValue {
		return r.mismatch(f.FullName(), next)
	}
	packed := false
	var err error
	r.iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
		if iter.WhatIsNext() == jsoniter.NilValue {
			if !isValue(f) {
				err = r.errorf(ErrType, "null element in %s", f.FullName())
				return false
			}
			iter.ReadNil()
			err = r.nullValue(f)
			return err == nil
		}
		if f.Message() != nil {
			err = r.message(f)
			return err == nil
		}
		var val interface{}
		if val, err = r.scalar(f); err != nil {
			return false
		}
		if f.IsPacked() && !packed {
			if err = r.v.EnterPacked(f); err != nil {
				return false
			}
			packed = true
		}
		err = visitor.Emit(r.v, f, val)
		return err == nil
	})
	if err != nil {
		return err
	}
	if err := r.syntax(); err != nil {
		return err
	}
	if packed {
		return r.v.LeavePacked(f)
	}
	return nil
}

func (r *reader) mapField(f *schema.Field) error {
	if next := r.iter.WhatIsNext(); next != jsoniter.ObjectValue {
		return r.mismatch(f.FullName(), next)
	}
	kf, vf := f.MapKey(), f.MapValue()
	var err error
	r.iter.ReadMapCB(func(iter *jsoniter.Iterator, key string) bool {
		var k interface{}
		if k, err = mapKeyValue(kf, key); err != nil {
			err = r.errorf(ErrType, "map key %q: %v", key, err)
			return false
		}
		if err = r.v.Enter(f); err != nil {
			return false
		}
		if err = visitor.Emit(r.v, kf, k); err != nil {
			return false
		}
		switch {
		case iter.WhatIsNext() == jsoniter.NilValue:
			if !isValue(vf) {
				err = r.errorf(ErrType, "null value for key %q in %s", key, f.FullName())
				return false
			}
			iter.ReadNil()
			err = r.nullValue(vf)
		case vf.Message() != nil:
			err = r.message(vf)
		default:
			var val interface{}
			if val, err = r.scalar(vf); err == nil {
				err = visitor.Emit(r.v, vf, val)
			}
		}
		if err != nil {
			return false
		}
		err = r.v.Leave(f)
		return err == nil
	})
	if err != nil {
		return err
	}
	return r.syntax()
}

func mapKeyValue(kf *schema.Field, key string) (interface{}, error) {
	switch kf.Kind() {
	case schema.TypeString:
		return key, nil
	case schema.TypeBool:
		switch key {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, errors.New("want true or false")
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		n, err := strconv.ParseInt(key, 10, 32)
		return int32(n), err
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		return strconv.ParseInt(key, 10, 64)
	case schema.TypeUint32, schema.TypeFixed32:
		n, err := strconv.ParseUint(key, 10, 32)
		return uint32(n), err
	case schema.TypeUint64, schema.TypeFixed64:
		return strconv.ParseUint(key, 10, 64)
	}
	return nil, errors.Errorf("invalid map key kind %v", kf.Type())
}

// scalar reads the current JSON value as the Go value stored for f.
func (r *reader) scalar(f *schema.Field) (interface{}, error) {
	next := r.iter.WhatIsNext()
	var (
		val interface{}
		err error
	)
	switch f.Kind() {
	case schema.TypeEnum:
		val, err = r.enum(f, next)
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		var n int64
		if n, err = r.integer(f, next, 32); err == nil {
			val = int32(n)
		}
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		val, err = r.integer(f, next, 64)
	case schema.TypeUint32, schema.TypeFixed32:
		var n uint64
		if n, err = r.unsigned(f, next, 32); err == nil {
			val = uint32(n)
		}
	case schema.TypeUint64, schema.TypeFixed64:
		val, err = r.unsigned(f, next, 64)
	case schema.TypeFloat:
		var x float64
		if x, err = r.float(f, next, 32); err == nil {
			val = float32(x)
		}
	case schema.TypeDouble:
		val, err = r.float(f, next, 64)
	case schema.TypeBool:
		if next != jsoniter.BoolValue {
			return nil, r.mismatch(f.FullName(), next)
		}
		val = r.iter.ReadBool()
	case schema.TypeString:
		if next != jsoniter.StringValue {
			return nil, r.mismatch(f.FullName(), next)
		}
		val = r.iter.ReadString()
	case schema.TypeBytes:
		if next != jsoniter.StringValue {
			return nil, r.mismatch(f.FullName(), next)
		}
		s := r.iter.ReadString()
		if val, err = decodeBase64(s); err != nil {
			err = r.errorf(ErrType, "%s: invalid base64: %v", f.FullName(), err)
		}
	default:
		return nil, r.mismatch(f.FullName(), next)
	}
	if err != nil {
		return nil, err
	}
	return val, r.syntax()
}

// numberText returns the literal of a JSON number or the contents of a
// JSON string.
func (r *reader) numberText(f *schema.Field, next jsoniter.ValueType) (string, error) {
	switch next {
	case jsoniter.NumberValue:
		return string(r.iter.ReadNumber()), r.syntax()
	case jsoniter.StringValue:
		return r.iter.ReadString(), r.syntax()
	}
	return "", r.mismatch(f.FullName(), next)
}

func (r *reader) integer(f *schema.Field, next jsoniter.ValueType, bits int) (int64, error) {
	s, err := r.numberText(f, next)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.ParseInt(s, 10, bits); err == nil {
		return n, nil
	}
	// Exponent and fraction forms are accepted when the value is integral.
	x, err := strconv.ParseFloat(s, 64)
	limit := math.Ldexp(1, bits-1)
	if err != nil || x != math.Trunc(x) || x < -limit || x >= limit {
		return 0, r.errorf(ErrType, "%s: invalid %d-bit integer %q", f.FullName(), bits, s)
	}
	return int64(x), nil
}

func (r *reader) unsigned(f *schema.Field, next jsoniter.ValueType, bits int) (uint64, error) {
	s, err := r.numberText(f, next)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.ParseUint(s, 10, bits); err == nil {
		return n, nil
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil || x != math.Trunc(x) || x < 0 || x >= math.Ldexp(1, bits) {
		return 0, r.errorf(ErrType, "%s: invalid %d-bit unsigned integer %q", f.FullName(), bits, s)
	}
	return uint64(x), nil
}

func (r *reader) float(f *schema.Field, next jsoniter.ValueType, bits int) (float64, error) {
	s, err := r.numberText(f, next)
	if err != nil {
		return 0, err
	}
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	x, err := strconv.ParseFloat(s, bits)
	if err != nil || math.IsInf(x, 0) || math.IsNaN(x) {
		return 0, r.errorf(ErrType, "%s: invalid %d-bit float %q", f.FullName(), bits, s)
	}
	return x, nil
}

func (r *reader) enum(f *schema.Field, next jsoniter.ValueType) (int32, error) {
	if next == jsoniter.StringValue {
		name := r.iter.ReadString()
		if err := r.syntax(); err != nil {
			return 0, err
		}
		if n, ok := f.Enum().ValueNumber(name); ok {
			return n, nil
		}
		return 0, r.errorf(ErrType, "%s has no value %q", f.Enum().FullName(), name)
	}
	if next != jsoniter.NumberValue {
		return 0, r.mismatch(f.FullName(), next)
	}
	n, err := r.integer(f, next, 32)
	return int32(n), err
}

func (r *reader) timeLike(mt *schema.MessageType) error {
	next := r.iter.WhatIsNext()
	if next != jsoniter.StringValue {
		return r.mismatch(mt.FullName(), next)
	}
	s := r.iter.ReadString()
	if err := r.syntax(); err != nil {
		return err
	}
	parse := parseDuration
	if mt.WellKnown() == schema.WellKnownTimestamp {
		parse = parseTimestamp
	}
	secs, nanos, err := parse(s)
	if err != nil {
		return r.errorf(err, "%s", mt.FullName())
	}
	if secs != 0 {
		if err := r.emit(mt, 1, secs); err != nil {
			return err
		}
	}
	if nanos != 0 {
		return r.emit(mt, 2, nanos)
	}
	return nil
}

func (r *reader) fieldMask(mt *schema.MessageType) error {
	next := r.iter.WhatIsNext()
	if next != jsoniter.StringValue {
		return r.mismatch(mt.FullName(), next)
	}
	s := r.iter.ReadString()
	if err := r.syntax(); err != nil {
		return err
	}
	paths, err := parseFieldMask(s)
	if err != nil {
		return r.errorf(err, "%s", mt.FullName())
	}
	for _, p := range paths {
		if err := r.emit(mt, 1, p); err != nil {
			return err
		}
	}
	return nil
}

// emit sends val for field num of a well-known message.
func (r *reader) emit(mt *schema.MessageType, num wire.FieldNumber, val interface{}) error {
	f := mt.Field(num)
	if f == nil {
		return r.errorf(ErrWellKnown, "%s has no field %d", mt.FullName(), num)
	}
	return visitor.Emit(r.v, f, val)
}

// enter brackets body with Enter/Leave of field num of mt.
func (r *reader) enter(mt *schema.MessageType, num wire.FieldNumber, body func(*schema.MessageType) error) error {
	f := mt.Field(num)
	if f == nil || f.Message() == nil {
		return r.errorf(ErrWellKnown, "%s has no message field %d", mt.FullName(), num)
	}
	if err := r.v.Enter(f); err != nil {
		return err
	}
	if err := body(f.Message()); err != nil {
		return err
	}
	return r.v.Leave(f)
}

// value reads any JSON value as a google.protobuf.Value.
func (r *reader) value(mt *schema.MessageType) error {
	switch next := r.iter.WhatIsNext(); next {
	case jsoniter.NilValue:
		r.iter.ReadNil()
		return r.emit(mt, 1, int32(0))
	case jsoniter.NumberValue:
		x, err := strconv.ParseFloat(string(r.iter.ReadNumber()), 64)
		if err != nil {
			return r.errorf(ErrType, "%s: %v", mt.FullName(), err)
		}
		return r.emit(mt, 2, x)
	case jsoniter.StringValue:
		s := r.iter.ReadString()
		if err := r.syntax(); err != nil {
			return err
		}
		return r.emit(mt, 3, s)
	case jsoniter.BoolValue:
		return r.emit(mt, 4, r.iter.ReadBool())
	case jsoniter.ObjectValue:
		return r.enter(mt, 5, r.structFields)
	case jsoniter.ArrayValue:
		return r.enter(mt, 6, r.list)
	default:
		return r.mismatch(mt.FullName(), next)
	}
}

// structFields reads a JSON object as a google.protobuf.Struct.
func (r *reader) structFields(mt *schema.MessageType) error {
	if next := r.iter.WhatIsNext(); next != jsoniter.ObjectValue {
		return r.mismatch(mt.FullName(), next)
	}
	f := mt.Field(1)
	if f == nil || !f.IsMap() {
		return r.errorf(ErrWellKnown, "%s has no fields map", mt.FullName())
	}
	kf, vf := f.MapKey(), f.MapValue()
	var err error
	r.iter.ReadMapCB(func(_ *jsoniter.Iterator, key string) bool {
		r.path = append(r.path, key)
		defer func() { r.path = r.path[:len(r.path)-1] }()
		if err = r.v.Enter(f); err != nil {
			return false
		}
		if err = r.v.VisitString(kf, key); err != nil {
			return false
		}
		if err = r.v.Enter(vf); err != nil {
			return false
		}
		if err = r.value(vf.Message()); err != nil {
			return false
		}
		if err = r.v.Leave(vf); err != nil {
			return false
		}
		err = r.v.Leave(f)
		return err == nil
	})
	if err != nil {
		return err
	}
	return r.syntax()
}

// list reads a JSON array as a google.protobuf.ListValue.
func (r *reader) list(mt *schema.MessageType) error {
	if next := r.iter.WhatIsNext(); next != jsoniter.ArrayValue {
		return r.mismatch(mt.FullName(), next)
	}
	f := mt.Field(1)
	if f == nil || f.Message() == nil {
		return r.errorf(ErrWellKnown, "%s has no values field", mt.FullName())
	}
	var err error
	r.iter.ReadArrayCB(func(*jsoniter.Iterator) bool {
		err = r.message(f)
		return err == nil
	})
	if err != nil {
		return err
	}
	return r.syntax()
}

func isZero(v interface{}) bool {
	switch x := v.(type) {
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint32:
		return x == 0
	case uint64:
		return x == 0
	case bool:
		return !x
	case float32:
		return math.Float32bits(x) == 0
	case float64:
		return math.Float64bits(x) == 0
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	}
	return false
}
