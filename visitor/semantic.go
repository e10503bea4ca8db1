package visitor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

// Semantic upgrades a Visitor to a ScalarVisitor by mapping every typed
// event back onto its wire representation. Embed it and override the typed
// methods a consumer cares about.
type Semantic struct {
	Visitor
}

var _ ScalarVisitor = Semantic{}

// int32 and enum values are sign-extended to 64 bits on the wire.
func (s Semantic) VisitInt32(f *schema.Field, v int32) error {
	return s.VisitVarint64(f, uint64(int64(v)))
}

func (s Semantic) VisitEnum(f *schema.Field, v int32) error {
	return s.VisitVarint64(f, uint64(int64(v)))
}

func (s Semantic) VisitSInt32(f *schema.Field, v int32) error {
	return s.VisitVarint32(f, wire.EncodeZigZag32(v))
}

func (s Semantic) VisitUInt32(f *schema.Field, v uint32) error {
	return s.VisitVarint32(f, v)
}

func (s Semantic) VisitBool(f *schema.Field, v bool) error {
	var b uint32
	if v {
		b = 1
	}
	return s.VisitVarint32(f, b)
}

func (s Semantic) VisitFixed32(f *schema.Field, v uint32) error {
	return s.VisitI32(f, v)
}

func (s Semantic) VisitSFixed32(f *schema.Field, v int32) error {
	return s.VisitI32(f, uint32(v))
}

func (s Semantic) VisitFloat(f *schema.Field, v float32) error {
	return s.VisitI32(f, math.Float32bits(v))
}

func (s Semantic) VisitInt64(f *schema.Field, v int64) error {
	return s.VisitVarint64(f, uint64(v))
}

func (s Semantic) VisitSInt64(f *schema.Field, v int64) error {
	return s.VisitVarint64(f, wire.EncodeZigZag64(v))
}

func (s Semantic) VisitUInt64(f *schema.Field, v uint64) error {
	return s.VisitVarint64(f, v)
}

func (s Semantic) VisitFixed64(f *schema.Field, v uint64) error {
	return s.VisitI64(f, v)
}

func (s Semantic) VisitSFixed64(f *schema.Field, v int64) error {
	return s.VisitI64(f, uint64(v))
}

func (s Semantic) VisitDouble(f *schema.Field, v float64) error {
	return s.VisitI64(f, math.Float64bits(v))
}

// ErrKindMismatch is returned by the dispatch helpers when a field's declared
// kind cannot be carried by the observed wire type.
var ErrKindMismatch = errors.New("field kind does not match wire type")

// DispatchVarint routes a raw varint to the typed method for f's kind.
func DispatchVarint(v ScalarVisitor, f *schema.Field, raw uint64) error {
	switch f.Kind() {
	case schema.TypeInt32:
		return v.VisitInt32(f, int32(raw))
	case schema.TypeInt64:
		return v.VisitInt64(f, int64(raw))
	case schema.TypeUint32:
		return v.VisitUInt32(f, uint32(raw))
	case schema.TypeUint64:
		return v.VisitUInt64(f, raw)
	case schema.TypeSint32:
		return v.VisitSInt32(f, wire.DecodeZigZag32(uint32(raw)))
	case schema.TypeSint64:
		return v.VisitSInt64(f, wire.DecodeZigZag64(raw))
	case schema.TypeBool:
		return v.VisitBool(f, raw != 0)
	case schema.TypeEnum:
		return v.VisitEnum(f, int32(raw))
	default:
		return errors.Wrapf(ErrKindMismatch, "%s is %v, got %v", f.FullName(), f.Type(), wire.WireVarint)
	}
}

// DispatchI32 routes a raw 32-bit value to the typed method for f's kind.
func DispatchI32(v ScalarVisitor, f *schema.Field, raw uint32) error {
	switch f.Kind() {
	case schema.TypeFixed32:
		return v.VisitFixed32(f, raw)
	case schema.TypeSfixed32:
		return v.VisitSFixed32(f, int32(raw))
	case schema.TypeFloat:
		return v.VisitFloat(f, math.Float32frombits(raw))
	default:
		return errors.Wrapf(ErrKindMismatch, "%s is %v, got %v", f.FullName(), f.Type(), wire.WireFixed32)
	}
}

// DispatchI64 routes a raw 64-bit value to the typed method for f's kind.
func DispatchI64(v ScalarVisitor, f *schema.Field, raw uint64) error {
	switch f.Kind() {
	case schema.TypeFixed64:
		return v.VisitFixed64(f, raw)
	case schema.TypeSfixed64:
		return v.VisitSFixed64(f, int64(raw))
	case schema.TypeDouble:
		return v.VisitDouble(f, math.Float64frombits(raw))
	default:
		return errors.Wrapf(ErrKindMismatch, "%s is %v, got %v", f.FullName(), f.Type(), wire.WireFixed64)
	}
}

// Emit sends a scalar value to the typed method for f's kind. val must have
// the Go type of the kind: int32 for int32, sint32, sfixed32 and enum; int64,
// uint32, uint64, bool, float32, float64, string and []byte for the others.
func Emit(v ScalarVisitor, f *schema.Field, val interface{}) error {
	switch x := val.(type) {
	case int32:
		switch f.Kind() {
		case schema.TypeInt32:
			return v.VisitInt32(f, x)
		case schema.TypeSint32:
			return v.VisitSInt32(f, x)
		case schema.TypeSfixed32:
			return v.VisitSFixed32(f, x)
		case schema.TypeEnum:
			return v.VisitEnum(f, x)
		}
	case int64:
		switch f.Kind() {
		case schema.TypeInt64:
			return v.VisitInt64(f, x)
		case schema.TypeSint64:
			return v.VisitSInt64(f, x)
		case schema.TypeSfixed64:
			return v.VisitSFixed64(f, x)
		}
	case uint32:
		switch f.Kind() {
		case schema.TypeUint32:
			return v.VisitUInt32(f, x)
		case schema.TypeFixed32:
			return v.VisitFixed32(f, x)
		}
	case uint64:
		switch f.Kind() {
		case schema.TypeUint64:
			return v.VisitUInt64(f, x)
		case schema.TypeFixed64:
			return v.VisitFixed64(f, x)
		}
	case bool:
		if f.Kind() == schema.TypeBool {
			return v.VisitBool(f, x)
		}
	case float32:
		if f.Kind() == schema.TypeFloat {
			return v.VisitFloat(f, x)
		}
	case float64:
		if f.Kind() == schema.TypeDouble {
			return v.VisitDouble(f, x)
		}
	case string:
		if f.Kind() == schema.TypeString {
			return v.VisitString(f, x)
		}
	case []byte:
		if f.Kind() == schema.TypeBytes {
			return v.VisitBytes(f, x)
		}
	}
	return errors.Wrapf(ErrKindMismatch, "%s is %v, got %T", f.FullName(), f.Type(), val)
}
