package visitor

import (
	"math"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

type scalars struct {
	msg *schema.MessageType
	f   map[schema.ScalarType]*schema.Field
}

func newScalars(t *testing.T) scalars {
	t.Helper()

	b := schema.NewBuilder()
	m, err := b.NewMessage("test.Scalars", nil)
	require.NoError(t, err)
	status, err := b.NewEnum("test.Status", nil, schema.EnumValue{Name: "OK", Number: 0})
	require.NoError(t, err)

	s := scalars{msg: m, f: make(map[schema.ScalarType]*schema.Field)}
	for typ := schema.TypeInt32; typ <= schema.TypeBytes; typ++ {
		var ft schema.Type = typ
		if typ == schema.TypeEnum {
			ft = status
		}
		f, err := b.AddField(m, schema.FieldSpec{Name: "f_" + typ.String(), Number: wire.FieldNumber(1 + len(s.f)), Type: ft})
		require.NoError(t, err)
		s.f[typ] = f
	}
	_, err = b.Build()
	require.NoError(t, err)
	return s
}

func TestSemantic_LowersToWireEvents(t *testing.T) {
	t.Parallel()

	s := newScalars(t)
	rec := &Recorder{}
	v := Semantic{Visitor: rec}

	require.NoError(t, v.VisitInt32(s.f[schema.TypeInt32], -1))
	require.NoError(t, v.VisitEnum(s.f[schema.TypeEnum], -2))
	require.NoError(t, v.VisitSInt32(s.f[schema.TypeSint32], -1))
	require.NoError(t, v.VisitUInt32(s.f[schema.TypeUint32], 7))
	require.NoError(t, v.VisitBool(s.f[schema.TypeBool], true))
	require.NoError(t, v.VisitSInt64(s.f[schema.TypeSint64], 2))
	require.NoError(t, v.VisitInt64(s.f[schema.TypeInt64], -3))
	require.NoError(t, v.VisitUInt64(s.f[schema.TypeUint64], 9))
	require.NoError(t, v.VisitFixed32(s.f[schema.TypeFixed32], 4))
	require.NoError(t, v.VisitSFixed32(s.f[schema.TypeSfixed32], -4))
	require.NoError(t, v.VisitFloat(s.f[schema.TypeFloat], 1.5))
	require.NoError(t, v.VisitFixed64(s.f[schema.TypeFixed64], 5))
	require.NoError(t, v.VisitSFixed64(s.f[schema.TypeSfixed64], -5))
	require.NoError(t, v.VisitDouble(s.f[schema.TypeDouble], 2.25))

	want := []string{
		"Varint64(f_int32=18446744073709551615)",
		"Varint64(f_enum=18446744073709551614)",
		"Varint32(f_sint32=1)",
		"Varint32(f_uint32=7)",
		"Varint32(f_bool=1)",
		"Varint64(f_sint64=4)",
		"Varint64(f_int64=18446744073709551613)",
		"Varint64(f_uint64=9)",
		"I32(f_fixed32=4)",
		"I32(f_sfixed32=4294967292)",
		"I32(f_float=" + strconv.FormatUint(uint64(math.Float32bits(1.5)), 10) + ")",
		"I64(f_fixed64=5)",
		"I64(f_sfixed64=18446744073709551611)",
		"I64(f_double=" + strconv.FormatUint(math.Float64bits(2.25), 10) + ")",
	}
	if diff := cmp.Diff(want, rec.Strings()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	s := newScalars(t)
	rec := &Recorder{}

	require.NoError(t, DispatchVarint(rec, s.f[schema.TypeInt32], uint64(math.MaxUint64)))
	require.NoError(t, DispatchVarint(rec, s.f[schema.TypeSint32], 3))
	require.NoError(t, DispatchVarint(rec, s.f[schema.TypeSint64], 4))
	require.NoError(t, DispatchVarint(rec, s.f[schema.TypeBool], 2))
	require.NoError(t, DispatchVarint(rec, s.f[schema.TypeEnum], 1))
	require.NoError(t, DispatchVarint(rec, s.f[schema.TypeUint64], 10))
	require.NoError(t, DispatchI32(rec, s.f[schema.TypeFloat], math.Float32bits(-0.5)))
	require.NoError(t, DispatchI32(rec, s.f[schema.TypeSfixed32], math.MaxUint32))
	require.NoError(t, DispatchI64(rec, s.f[schema.TypeDouble], math.Float64bits(3.75)))
	require.NoError(t, DispatchI64(rec, s.f[schema.TypeFixed64], 8))

	want := []string{
		"Int32(f_int32=-1)",
		"SInt32(f_sint32=-2)",
		"SInt64(f_sint64=2)",
		"Bool(f_bool=true)",
		"Enum(f_enum=1)",
		"UInt64(f_uint64=10)",
		"Float(f_float=-0.5)",
		"SFixed32(f_sfixed32=-1)",
		"Double(f_double=3.75)",
		"Fixed64(f_fixed64=8)",
	}
	if diff := cmp.Diff(want, rec.Strings()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	assert.ErrorIs(t, DispatchVarint(rec, s.f[schema.TypeDouble], 1), ErrKindMismatch)
	assert.ErrorIs(t, DispatchI32(rec, s.f[schema.TypeInt32], 1), ErrKindMismatch)
	assert.ErrorIs(t, DispatchI64(rec, s.f[schema.TypeString], 1), ErrKindMismatch)
}

func TestEmit(t *testing.T) {
	t.Parallel()

	s := newScalars(t)
	rec := &Recorder{}

	values := []struct {
		typ schema.ScalarType
		val interface{}
	}{
		{schema.TypeInt32, int32(-1)},
		{schema.TypeSint32, int32(-2)},
		{schema.TypeSfixed32, int32(-3)},
		{schema.TypeEnum, int32(4)},
		{schema.TypeInt64, int64(-5)},
		{schema.TypeSint64, int64(6)},
		{schema.TypeSfixed64, int64(-7)},
		{schema.TypeUint32, uint32(8)},
		{schema.TypeFixed32, uint32(9)},
		{schema.TypeUint64, uint64(10)},
		{schema.TypeFixed64, uint64(11)},
		{schema.TypeBool, true},
		{schema.TypeFloat, float32(0.5)},
		{schema.TypeDouble, 1.25},
		{schema.TypeString, "s"},
		{schema.TypeBytes, []byte{1}},
	}
	for _, v := range values {
		require.NoError(t, Emit(rec, s.f[v.typ], v.val), v.typ.String())
	}

	want := []string{
		"Int32(f_int32=-1)",
		"SInt32(f_sint32=-2)",
		"SFixed32(f_sfixed32=-3)",
		"Enum(f_enum=4)",
		"Int64(f_int64=-5)",
		"SInt64(f_sint64=6)",
		"SFixed64(f_sfixed64=-7)",
		"UInt32(f_uint32=8)",
		"Fixed32(f_fixed32=9)",
		"UInt64(f_uint64=10)",
		"Fixed64(f_fixed64=11)",
		"Bool(f_bool=true)",
		"Float(f_float=0.5)",
		"Double(f_double=1.25)",
		`String(f_string="s")`,
		"Bytes(f_bytes=01)",
	}
	if diff := cmp.Diff(want, rec.Strings()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	assert.ErrorIs(t, Emit(rec, s.f[schema.TypeInt64], int32(1)), ErrKindMismatch)
	assert.ErrorIs(t, Emit(rec, s.f[schema.TypeString], []byte("x")), ErrKindMismatch)
	assert.ErrorIs(t, Emit(rec, s.f[schema.TypeDouble], float32(1)), ErrKindMismatch)
}

func TestRecorder_Replay(t *testing.T) {
	t.Parallel()

	s := newScalars(t)
	src := &Recorder{}
	require.NoError(t, src.Init(s.msg))
	require.NoError(t, src.VisitString(s.f[schema.TypeString], "hi"))
	require.NoError(t, src.VisitBytes(s.f[schema.TypeBytes], []byte{0xCA, 0xFE}))
	require.NoError(t, src.EnterPacked(s.f[schema.TypeInt64]))
	require.NoError(t, src.VisitInt64(s.f[schema.TypeInt64], 1))
	require.NoError(t, src.LeavePacked(s.f[schema.TypeInt64]))
	require.NoError(t, src.Destroy())

	assert.Equal(t, []string{
		"Init(test.Scalars)",
		`String(f_string="hi")`,
		"Bytes(f_bytes=cafe)",
		"EnterPacked(f_int64)",
		"Int64(f_int64=1)",
		"LeavePacked(f_int64)",
		"Destroy()",
	}, src.Strings())

	dst := &Recorder{}
	require.NoError(t, src.Replay(dst))
	assert.Equal(t, src.Strings()[1:6], dst.Strings())

	require.NoError(t, src.Replay(Discard))
	src.Reset()
	assert.Empty(t, src.Events)
}
