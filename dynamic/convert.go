package dynamic

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

// Map converts the message to a map keyed by field name. Enums become their
// value name (or the number when undeclared), repeated fields []interface{},
// map fields map[interface{}]interface{} and messages nested maps. Unknown
// fields are dropped.
func (m *Message) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(m.order))
	for _, f := range m.order {
		val, _ := m.Get(f)
		switch {
		case f.IsMap():
			mp := val.(*Map)
			entries := make(map[interface{}]interface{}, mp.Len())
			for _, k := range mp.keys {
				entries[k] = plainValue(f.MapValue(), mp.vals[k])
			}
			out[f.Name()] = entries
		case f.IsRepeated():
			list := val.([]interface{})
			items := make([]interface{}, len(list))
			for i, e := range list {
				items[i] = plainValue(f, e)
			}
			out[f.Name()] = items
		default:
			out[f.Name()] = plainValue(f, val)
		}
	}
	return out
}

func plainValue(f *schema.Field, v interface{}) interface{} {
	if child, ok := v.(*Message); ok {
		return child.Map()
	}
	if e := f.Enum(); e != nil {
		if name, ok := e.ValueName(v.(int32)); ok {
			return name
		}
	}
	return v
}

// FromMap builds a message of type typ from a map keyed by field name or
// JSON name. Numbers may be Go integers, floats with integral values,
// json.Number or numeric strings; enums may be names or numbers; bytes may be
// []byte or base64 strings. Nil values are skipped. Fields are set in field
// number order.
func FromMap(typ *schema.MessageType, data map[string]interface{}) (*Message, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	type entry struct {
		f   *schema.Field
		raw interface{}
	}
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		f := typ.Lookup(key)
		if f == nil {
			return nil, wire.WithField(wire.NewEncodeError(errors.Wrapf(wire.ErrUnknownField, "%s has no field %q", typ.FullName(), key)), key)
		}
		if data[key] != nil {
			entries = append(entries, entry{f: f, raw: data[key]})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].f.Number() < entries[j].f.Number() })

	m := New(typ)
	for _, e := range entries {
		if err := m.fill(e.f, e.raw); err != nil {
			return nil, wire.WithField(err, e.f.Name())
		}
	}
	return m, nil
}

func (m *Message) fill(f *schema.Field, raw interface{}) error {
	switch {
	case f.IsMap():
		mp := m.mapOf(f)
		switch entries := raw.(type) {
		case map[interface{}]interface{}:
			for k, v := range entries {
				if err := fillEntry(mp, f, k, v); err != nil {
					return err
				}
			}
		case map[string]interface{}:
			for k, v := range entries {
				if err := fillEntry(mp, f, k, v); err != nil {
					return err
				}
			}
		default:
			return fieldTypeError(f, raw)
		}
		return nil

	case f.IsRepeated():
		list, ok := raw.([]interface{})
		if !ok {
			return fieldTypeError(f, raw)
		}
		for _, e := range list {
			v, err := coerce(f, e)
			if err != nil {
				return err
			}
			m.appendValue(f, v)
		}
		return nil

	default:
		v, err := coerce(f, raw)
		if err != nil {
			return err
		}
		m.set(f, v)
		return nil
	}
}

func fillEntry(mp *Map, f *schema.Field, k, v interface{}) error {
	key, err := coerce(f.MapKey(), k)
	if err != nil {
		return err
	}
	val := Default(f.MapValue())
	if v != nil {
		if val, err = coerce(f.MapValue(), v); err != nil {
			return err
		}
	}
	mp.set(key, val)
	return nil
}

// coerce converts a loosely typed input to the Go type stored for f.
func coerce(f *schema.Field, raw interface{}) (interface{}, error) {
	if mt := f.Message(); mt != nil {
		switch t := raw.(type) {
		case *Message:
			if t.typ != mt {
				return nil, fieldTypeError(f, raw)
			}
			return t, nil
		case map[string]interface{}:
			return FromMap(mt, t)
		}
		return nil, fieldTypeError(f, raw)
	}

	switch f.Kind() {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		n, err := coerceToInt64(raw)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, numberError(f, raw, err)
		}
		return int32(n), nil
	case schema.TypeEnum:
		if s, ok := raw.(string); ok {
			if n, ok := f.Enum().ValueNumber(s); ok {
				return n, nil
			}
		}
		n, err := coerceToInt64(raw)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, numberError(f, raw, err)
		}
		return int32(n), nil
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		n, err := coerceToInt64(raw)
		if err != nil {
			return nil, numberError(f, raw, err)
		}
		return n, nil
	case schema.TypeUint32, schema.TypeFixed32:
		n, err := coerceToUint64(raw)
		if err != nil || n > math.MaxUint32 {
			return nil, numberError(f, raw, err)
		}
		return uint32(n), nil
	case schema.TypeUint64, schema.TypeFixed64:
		n, err := coerceToUint64(raw)
		if err != nil {
			return nil, numberError(f, raw, err)
		}
		return n, nil
	case schema.TypeFloat:
		x, err := coerceToFloat64(raw)
		if err != nil {
			return nil, numberError(f, raw, err)
		}
		return float32(x), nil
	case schema.TypeDouble:
		x, err := coerceToFloat64(raw)
		if err != nil {
			return nil, numberError(f, raw, err)
		}
		return x, nil
	case schema.TypeBool:
		switch t := raw.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, numberError(f, raw, err)
			}
			return b, nil
		}
	case schema.TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case schema.TypeBytes:
		switch t := raw.(type) {
		case []byte:
			return t, nil
		case string:
			return decodeBase64(t)
		}
	}
	return nil, fieldTypeError(f, raw)
}

func fieldTypeError(f *schema.Field, raw interface{}) error {
	return wire.NewEncodeError(errors.Wrapf(ErrFieldType, "%s is %v, got %T", f.FullName(), f.Type(), raw))
}

func numberError(f *schema.Field, raw interface{}, err error) error {
	if err == nil {
		err = errors.Errorf("%v out of range", raw)
	}
	return wire.NewEncodeError(errors.Wrapf(ErrFieldType, "%s is %v: %v", f.FullName(), f.Type(), err))
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64")
	}
	return b, nil
}

// coerceToInt64 accepts integers, integral floats, json.Number and numeric
// strings, including exponent forms with an integral value.
func coerceToInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, errors.Errorf("%d overflows int64", t)
		}
		return int64(t), nil
	case json.Number:
		if iv, err := t.Int64(); err == nil {
			return iv, nil
		}
		return integralFromString(t.String())
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, errors.New("non-integer numeric for integer field")
		}
		return int64(t), nil
	case float32:
		return coerceToInt64(float64(t))
	case string:
		if strings.ContainsAny(t, ".eE") {
			return integralFromString(t)
		}
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.Errorf("expected integer-like, got %T", v)
	}
}

func integralFromString(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errors.New("non-integer numeric for integer field")
	}
	return int64(f), nil
}

func coerceToUint64(v interface{}) (uint64, error) {
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case int, int32, int64:
		n, _ := coerceToInt64(t)
		if n < 0 {
			return 0, errors.Errorf("negative value %d for unsigned field", n)
		}
		return uint64(n), nil
	case json.Number:
		if uv, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return uv, nil
		}
		return unsignedFromString(t.String())
	case float64:
		if t < 0 || t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, errors.New("non-integer numeric for unsigned field")
		}
		return uint64(t), nil
	case float32:
		return coerceToUint64(float64(t))
	case string:
		if strings.ContainsAny(t, ".eE") {
			return unsignedFromString(t)
		}
		return strconv.ParseUint(t, 10, 64)
	default:
		return 0, errors.Errorf("expected unsigned-integer-like, got %T", v)
	}
}

func unsignedFromString(s string) (uint64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, errors.New("non-integer numeric for unsigned field")
	}
	return uint64(f), nil
}

func coerceToFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(t, 64)
	default:
		return 0, errors.Errorf("expected number, got %T", v)
	}
}
