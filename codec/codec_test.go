package codec

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/protocolbuffers/protoscope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

type fixture struct {
	person   *schema.MessageType
	address  *schema.MessageType
	duration *schema.MessageType
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	b := schema.NewBuilder()
	person, err := b.NewMessage("test.Person", nil)
	require.NoError(t, err)
	address, err := b.NewMessage("test.Address", nil)
	require.NoError(t, err)
	kind, err := b.NewEnum("test.Kind", nil,
		schema.EnumValue{Name: "KIND_UNSPECIFIED", Number: 0},
		schema.EnumValue{Name: "KIND_ADMIN", Number: 1},
	)
	require.NoError(t, err)

	add := func(m *schema.MessageType, spec schema.FieldSpec) {
		_, err := b.AddField(m, spec)
		require.NoError(t, err)
	}
	add(person, schema.FieldSpec{Name: "name", Number: 1, Type: schema.TypeString})
	add(person, schema.FieldSpec{Name: "id", Number: 2, Type: schema.TypeInt32})
	add(person, schema.FieldSpec{Name: "scores", Number: 3, Type: schema.TypeSint32, Label: schema.LabelRepeated})
	add(person, schema.FieldSpec{Name: "address", Number: 4, Type: address})
	add(person, schema.FieldSpec{Name: "ratio", Number: 5, Type: schema.TypeFloat})
	add(person, schema.FieldSpec{Name: "weight", Number: 6, Type: schema.TypeDouble})
	add(person, schema.FieldSpec{Name: "tags", Number: 7, Type: schema.TypeString, Label: schema.LabelRepeated})
	add(person, schema.FieldSpec{Name: "big", Number: 8, Type: schema.TypeFixed64})
	add(person, schema.FieldSpec{Name: "active", Number: 9, Type: schema.TypeBool})
	add(person, schema.FieldSpec{Name: "kind", Number: 10, Type: kind})
	add(person, schema.FieldSpec{Name: "children", Number: 11, Type: person, Label: schema.LabelRepeated})
	add(person, schema.FieldSpec{Name: "blob", Number: 12, Type: schema.TypeBytes})
	_, err = b.AddMapField(person, "attrs", 13, schema.TypeString, schema.TypeInt64)
	require.NoError(t, err)

	add(address, schema.FieldSpec{Name: "city", Number: 1, Type: schema.TypeString})
	add(address, schema.FieldSpec{Name: "zip", Number: 2, Type: schema.TypeUint32})

	duration, err := b.NewMessage("google.protobuf.Duration", nil)
	require.NoError(t, err)
	add(duration, schema.FieldSpec{Name: "seconds", Number: 1, Type: schema.TypeInt64})
	add(duration, schema.FieldSpec{Name: "nanos", Number: 2, Type: schema.TypeInt32})

	_, err = b.Build()
	require.NoError(t, err)
	return fixture{person: person, address: address, duration: duration}
}

func scope(t *testing.T, src string) []byte {
	t.Helper()
	b, err := protoscope.NewScanner(src).Exec()
	require.NoError(t, err)
	return b
}

func decode(t *testing.T, cfg Config, msg *schema.MessageType, data []byte) ([]string, error) {
	t.Helper()
	d, err := NewDecoder(cfg)
	require.NoError(t, err)
	rec := &visitor.Recorder{}
	err = d.Parse(msg, rec, data)
	return rec.Strings(), err
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Config{}.Validate(), "zero value has no unknown field policy")
	assert.NoError(t, NewConfig(UnknownStrict).Validate())
	assert.NoError(t, NewConfig(UnknownPreserve).Validate())
	assert.Error(t, Config{Unknown: UnknownStrict, MaxDepth: -1}.Validate())

	_, err := NewDecoder(Config{})
	assert.Error(t, err)
	_, err = NewEncoder(Config{})
	assert.NoError(t, err, "the encoder does not need a policy")

	p, err := ParseUnknownPolicy("preserve")
	require.NoError(t, err)
	assert.Equal(t, UnknownPreserve, p)
	assert.Equal(t, "preserve", p.String())
	_, err = ParseUnknownPolicy("lenient")
	assert.Error(t, err)
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("PROTOEVENT_UNKNOWN", "strict")
	t.Setenv("PROTOEVENT_MAX_DEPTH", "7")
	t.Setenv("PROTOEVENT_ALLOW_INVALID_UTF8", "true")

	cfg, err := Config{}.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{Unknown: UnknownStrict, MaxDepth: 7, AllowInvalidUTF8: true}, cfg)

	t.Setenv("PROTOEVENT_MAX_DEPTH", "deep")
	_, err = Config{}.FromEnv()
	assert.Error(t, err)
}

func TestDecoder_Events(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	data := scope(t, `
		1: {"Ada"}
		2: -1
		3: {1 2 4}
		4: {1: {"Paris"} 2: 75001}
		5: 1.5i32
		6: 2.25
		7: {"a"}
		7: {"b"}
		8: 9i64
		9: 1
		10: 1
		12: {`+"`cafe`"+`}
		13: {1: {"k"} 2: 3}
	`)

	got, err := decode(t, NewConfig(UnknownStrict), fx.person, data)
	require.NoError(t, err)

	want := []string{
		"Init(test.Person)",
		`String(name="Ada")`,
		"Int32(id=-1)",
		"EnterPacked(scores)",
		"SInt32(scores=-1)",
		"SInt32(scores=1)",
		"SInt32(scores=2)",
		"LeavePacked(scores)",
		"Enter(address)",
		`String(city="Paris")`,
		"UInt32(zip=75001)",
		"Leave(address)",
		"Float(ratio=1.5)",
		"Double(weight=2.25)",
		`String(tags="a")`,
		`String(tags="b")`,
		"Fixed64(big=9)",
		"Bool(active=true)",
		"Enum(kind=1)",
		"Bytes(blob=cafe)",
		"Enter(attrs)",
		`String(key="k")`,
		"Int64(value=3)",
		"Leave(attrs)",
		"Destroy()",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoder_UnpackedRepeated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	// Packed fields accept one value per record too.
	got, err := decode(t, NewConfig(UnknownStrict), fx.person, scope(t, "3: 2 3: 3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Init(test.Person)", "SInt32(scores=1)", "SInt32(scores=-2)", "Destroy()"}, got)
}

func TestDecoder_UnknownFields(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	data := scope(t, `
		99: 42
		100: {"raw"}
		101: 7i32
		102: 8i64
		4: {50: 1}
	`)

	_, err := decode(t, NewConfig(UnknownStrict), fx.person, data)
	require.ErrorIs(t, err, wire.ErrUnknownField)
	var de *wire.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 0, de.Offset)

	got, err := decode(t, NewConfig(UnknownPreserve), fx.person, data)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Init(test.Person)",
		"Varint64(#99=42)",
		"Bytes(#100=726177)",
		"I32(#101=7)",
		"I64(#102=8)",
		"Enter(address)",
		"Varint64(#50=1)",
		"Leave(address)",
		"Destroy()",
	}, got)
}

func TestDecoder_Errors(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	tests := []struct {
		name   string
		data   []byte
		want   error
		path   []string
		offset int
	}{
		{
			name:   "truncated varint",
			data:   []byte{0x10, 0x80},
			want:   wire.ErrTruncated,
			path:   []string{"id"},
			offset: 1,
		},
		{
			name:   "length past end",
			data:   []byte{0x0A, 0x05, 'a'},
			want:   wire.ErrTruncated,
			path:   []string{"name"},
			offset: 1,
		},
		{
			name:   "wrong wire type",
			data:   protowire.AppendFixed32(protowire.AppendTag(nil, 2, protowire.Fixed32Type), 1),
			want:   wire.ErrWireType,
			path:   []string{"id"},
			offset: 0,
		},
		{
			name:   "group",
			data:   []byte{0x13, 0x14},
			want:   wire.ErrGroup,
			path:   []string{"id"},
			offset: 0,
		},
		{
			name:   "invalid utf-8 in nested message",
			data:   []byte{0x22, 0x04, 0x0A, 0x02, 0xC3, 0x28},
			want:   wire.ErrInvalidUTF8,
			path:   []string{"address", "city"},
			offset: 4,
		},
		{
			name:   "nested length past parent bound",
			data:   []byte{0x22, 0x02, 0x0A, 0x05, 'a', 'b', 'c', 'd', 'e'},
			want:   wire.ErrTruncated,
			path:   []string{"address", "city"},
			offset: 3,
		},
		{
			name:   "field zero",
			data:   []byte{0x00, 0x00},
			want:   wire.ErrFieldNumber,
			offset: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, NewConfig(UnknownStrict), fx.person, tt.data)
			require.ErrorIs(t, err, tt.want)

			var de *wire.DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.path, de.FieldPath)
			assert.Equal(t, tt.offset, de.Offset)
		})
	}
}

func TestDecoder_AllowInvalidUTF8(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	cfg := NewConfig(UnknownStrict)
	cfg.AllowInvalidUTF8 = true
	got, err := decode(t, cfg, fx.address, []byte{0x0A, 0x01, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, "String(city=\"\\xff\")", got[1])
}

func TestDecoder_MaxDepth(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	var data []byte
	for i := 0; i < 5; i++ {
		data = protowire.AppendBytes(protowire.AppendTag(nil, 11, protowire.BytesType), data)
	}

	cfg := NewConfig(UnknownStrict)
	cfg.MaxDepth = 5
	_, err := decode(t, cfg, fx.person, data)
	require.NoError(t, err)

	cfg.MaxDepth = 4
	_, err = decode(t, cfg, fx.person, data)
	require.ErrorIs(t, err, wire.ErrDepthExceeded)
	var de *wire.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"children", "children", "children", "children", "children"}, de.FieldPath)
}

type visitErr struct{ visitor.Visitor }

var errStop = errors.New("stop")

func (visitErr) Enter(*schema.Field) error { return errStop }

func TestDecoder_ConsumerError(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	d, err := NewDecoder(NewConfig(UnknownStrict))
	require.NoError(t, err)

	v := visitor.Semantic{Visitor: visitErr{Visitor: visitor.Discard}}
	err = d.Parse(fx.person, v, scope(t, `4: {1: {"x"}}`))
	assert.ErrorIs(t, err, errStop)
}

func encode(t *testing.T, msg *schema.MessageType, p Producer) ([]byte, error) {
	t.Helper()
	e, err := NewEncoder(Config{})
	require.NoError(t, err)
	return e.Encode(msg, p)
}

func TestEncoder_Bytes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	p := fx.person
	got, err := encode(t, p, func(v visitor.ScalarVisitor) error {
		steps := []error{
			v.VisitString(p.Field(1), "Ada"),
			v.VisitInt32(p.Field(2), -1),
			v.EnterPacked(p.Field(3)),
			v.VisitSInt32(p.Field(3), -1),
			v.VisitSInt32(p.Field(3), 1),
			v.LeavePacked(p.Field(3)),
			v.Enter(p.Field(4)),
			v.VisitString(fx.address.Field(1), "Paris"),
			v.VisitUInt32(fx.address.Field(2), 75001),
			v.Leave(p.Field(4)),
			v.VisitFloat(p.Field(5), 1.5),
			v.VisitDouble(p.Field(6), 2.25),
			v.VisitFixed64(p.Field(8), 9),
			v.VisitBool(p.Field(9), true),
			v.VisitEnum(p.Field(10), 1),
			v.VisitBytes(p.Field(12), []byte{0xCA, 0xFE}),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	want := scope(t, `
		1: {"Ada"}
		2: -1
		3: {1 2}
		4: {1: {"Paris"} 2: 75001}
		5: 1.5i32
		6: 2.25
		8: 9i64
		9: 1
		10: 1
		12: {`+"`cafe`"+`}
	`)
	assert.Equal(t, want, got)
}

func TestEncoder_MatchesProtobufGo(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	d := fx.duration
	got, err := encode(t, d, func(v visitor.ScalarVisitor) error {
		if err := v.VisitInt64(d.Field(1), -3600); err != nil {
			return err
		}
		return v.VisitInt32(d.Field(2), -500)
	})
	require.NoError(t, err)

	want, err := proto.Marshal(&durationpb.Duration{Seconds: -3600, Nanos: -500})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncoder_LongSubmessage(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	city := strings.Repeat("x", 300)
	got, err := encode(t, fx.person, func(v visitor.ScalarVisitor) error {
		if err := v.Enter(fx.person.Field(4)); err != nil {
			return err
		}
		if err := v.VisitString(fx.address.Field(1), city); err != nil {
			return err
		}
		return v.Leave(fx.person.Field(4))
	})
	require.NoError(t, err)

	inner := protowire.AppendString(protowire.AppendTag(nil, 1, protowire.BytesType), city)
	want := protowire.AppendBytes(protowire.AppendTag(nil, 4, protowire.BytesType), inner)
	assert.Equal(t, want, got)
	assert.Len(t, got, 1+2+1+2+300)
}

func TestEncoder_Empty(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	got, err := encode(t, fx.person, func(visitor.ScalarVisitor) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	inputs := map[string]string{
		"scalars":  `1: {"Ada"} 2: 150 5: 1.5i32 6: 2.25 8: 9i64 9: 1 10: 1`,
		"packed":   `3: {1 2 3 4}`,
		"nested":   `11: {1: {"kid"} 11: {2: 3}} 4: {1: {"Paris"}}`,
		"map":      `13: {1: {"a"} 2: 1} 13: {1: {"b"} 2: 2}`,
		"unknowns": `99: 42 100: {"raw"} 101: 7i32 102: 8i64`,
	}

	for name, src := range inputs {
		t.Run(name, func(t *testing.T) {
			data := scope(t, src)
			d, err := NewDecoder(NewConfig(UnknownPreserve))
			require.NoError(t, err)
			rec := &visitor.Recorder{}
			require.NoError(t, d.Parse(fx.person, rec, data))

			got, err := encode(t, fx.person, rec.Replay)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestScenarios(t *testing.T) {
	t.Parallel()

	b := schema.NewBuilder()
	msg, err := b.NewMessage("test.Scenario", nil)
	require.NoError(t, err)
	for _, spec := range []schema.FieldSpec{
		{Name: "flag", Number: 1, Type: schema.TypeBool},
		{Name: "text", Number: 2, Type: schema.TypeString},
		{Name: "nums", Number: 3, Type: schema.TypeInt32, Label: schema.LabelRepeated},
		{Name: "delta", Number: 4, Type: schema.TypeSint32},
	} {
		_, err := b.AddField(msg, spec)
		require.NoError(t, err)
	}
	_, err = b.Build()
	require.NoError(t, err)

	events, err := decode(t, NewConfig(UnknownStrict), msg, []byte{0x08, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []string{"Init(test.Scenario)", "Bool(flag=true)", "Destroy()"}, events)

	got, err := encode(t, msg, func(v visitor.ScalarVisitor) error {
		return v.VisitString(msg.Field(2), "hello")
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x05, 'h', 'e', 'l', 'l', 'o'}, got)

	got, err = encode(t, msg, func(v visitor.ScalarVisitor) error {
		if err := v.EnterPacked(msg.Field(3)); err != nil {
			return err
		}
		for i := int32(0); i < 5; i++ {
			if err := v.VisitInt32(msg.Field(3), i); err != nil {
				return err
			}
		}
		return v.LeavePacked(msg.Field(3))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1A, 0x05, 0, 1, 2, 3, 4}, got)

	for value, want := range map[int32]byte{-4: 7, 4: 8} {
		got, err := encode(t, msg, func(v visitor.ScalarVisitor) error {
			return v.VisitSInt32(msg.Field(4), value)
		})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x20, want}, got)
	}
}

func TestEncoder_ProducerMismatch(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	name := fx.person.Field(1)

	calls := 0
	_, err := encode(t, fx.person, func(v visitor.ScalarVisitor) error {
		calls++
		return v.VisitString(name, strings.Repeat("a", calls))
	})
	require.ErrorIs(t, err, wire.ErrProducerMismatch)
	var ee *wire.EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, []string{"name"}, ee.FieldPath)

	calls = 0
	_, err = encode(t, fx.person, func(v visitor.ScalarVisitor) error {
		calls++
		if calls == 2 {
			return v.VisitInt32(fx.person.Field(2), 1)
		}
		return nil
	})
	require.ErrorIs(t, err, wire.ErrProducerMismatch)
}

func TestEncoder_Errors(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	p := fx.person

	t.Run("unbalanced", func(t *testing.T) {
		_, err := encode(t, p, func(v visitor.ScalarVisitor) error { return v.Enter(p.Field(4)) })
		assert.ErrorIs(t, err, wire.ErrUnbalanced)

		_, err = encode(t, p, func(v visitor.ScalarVisitor) error { return v.Leave(p.Field(4)) })
		assert.ErrorIs(t, err, wire.ErrUnbalanced)
	})

	t.Run("foreign field", func(t *testing.T) {
		_, err := encode(t, p, func(v visitor.ScalarVisitor) error {
			return v.VisitString(fx.address.Field(1), "x")
		})
		assert.ErrorIs(t, err, ErrForeignField)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		_, err := encode(t, p, func(v visitor.ScalarVisitor) error {
			return v.VisitDouble(p.Field(2), 1)
		})
		assert.ErrorIs(t, err, visitor.ErrKindMismatch)
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		_, err := encode(t, p, func(v visitor.ScalarVisitor) error {
			if err := v.Enter(p.Field(4)); err != nil {
				return err
			}
			return v.VisitString(fx.address.Field(1), "\xC3\x28")
		})
		require.ErrorIs(t, err, wire.ErrInvalidUTF8)
		var ee *wire.EncodeError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, []string{"address", "city"}, ee.FieldPath)
	})

	t.Run("depth", func(t *testing.T) {
		e, err := NewEncoder(Config{MaxDepth: 2})
		require.NoError(t, err)
		kids := p.Field(11)
		_, err = e.Encode(p, func(v visitor.ScalarVisitor) error {
			for i := 0; i < 3; i++ {
				if err := v.Enter(kids); err != nil {
					return err
				}
			}
			return nil
		})
		assert.ErrorIs(t, err, wire.ErrDepthExceeded)
	})

	t.Run("producer error", func(t *testing.T) {
		_, err := encode(t, p, func(visitor.ScalarVisitor) error { return errStop })
		assert.Equal(t, errStop, err)
	})
}

func TestEncoder_FloatSpecials(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	p := fx.person
	got, err := encode(t, p, func(v visitor.ScalarVisitor) error {
		return v.VisitDouble(p.Field(6), math.Inf(-1))
	})
	require.NoError(t, err)

	rec, err := decode(t, NewConfig(UnknownStrict), p, got)
	require.NoError(t, err)
	assert.Equal(t, "Double(weight=-Inf)", rec[1])
}
