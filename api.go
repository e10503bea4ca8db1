// Package protoevent decodes and encodes protobuf messages against schemas
// loaded at runtime, without generated code.
//
// The codec, visitor and jsonpb packages stream field events; this package
// wraps them with a registry for the common cases of going between wire
// bytes, JSON, dynamic messages, plain maps and Go structs.
package protoevent

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/dynamic"
	"github.com/anirudhraja/protoevent/jsonpb"
	"github.com/anirudhraja/protoevent/registry"
	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/visitor"
)

// ===== SCHEMA-AWARE API =====

// Protoevent provides schema-aware protobuf operations over a built registry.
// It is safe for concurrent use.
type Protoevent struct {
	registry *registry.Registry
	decoder  *codec.Decoder
	encoder  *codec.Encoder

	// JSON configures ToJSON.
	JSON jsonpb.MarshalOptions
	// FromJSONOptions configures FromJSON.
	FromJSONOptions jsonpb.UnmarshalOptions
}

// New returns a Protoevent resolving message names in r, which must already
// be built. cfg is used for both decoding and encoding.
func New(r *registry.Registry, cfg codec.Config) (*Protoevent, error) {
	if r.Schema() == nil {
		return nil, registry.ErrNotBuilt
	}
	d, err := codec.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	e, err := codec.NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	return &Protoevent{registry: r, decoder: d, encoder: e}, nil
}

func (p *Protoevent) message(messageType string) (*schema.MessageType, error) {
	msg, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, errors.WithMessagef(err, "message type %s", messageType)
	}
	return msg, nil
}

// Visit streams the fields of data to v.
func (p *Protoevent) Visit(data []byte, messageType string, v visitor.ScalarVisitor) error {
	msg, err := p.message(messageType)
	if err != nil {
		return err
	}
	return p.decoder.Parse(msg, v, data)
}

// Decode reads data into a dynamic message.
func (p *Protoevent) Decode(data []byte, messageType string) (*dynamic.Message, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	return dynamic.Decode(p.decoder, msg, data)
}

// Encode writes m in wire format.
func (p *Protoevent) Encode(m *dynamic.Message) ([]byte, error) {
	return m.Encode(p.encoder)
}

// Parse decodes protobuf bytes into a map keyed by field name.
func (p *Protoevent) Parse(data []byte, messageType string) (map[string]interface{}, error) {
	m, err := p.Decode(data, messageType)
	if err != nil {
		return nil, err
	}
	return m.Map(), nil
}

// Marshal encodes a map keyed by field or JSON name to protobuf bytes.
func (p *Protoevent) Marshal(data map[string]interface{}, messageType string) ([]byte, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	m, err := dynamic.FromMap(msg, data)
	if err != nil {
		return nil, err
	}
	return m.Encode(p.encoder)
}

// ToJSON converts protobuf bytes to proto3 JSON.
func (p *Protoevent) ToJSON(data []byte, messageType string) ([]byte, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	return p.JSON.Marshal(p.decoder, msg, data)
}

// FromJSON converts proto3 JSON to protobuf bytes.
func (p *Protoevent) FromJSON(data []byte, messageType string) ([]byte, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	return p.FromJSONOptions.Unmarshal(p.encoder, msg, data)
}

// Unmarshal decodes protobuf bytes into the struct v points to. The message
// type is the struct's type name, resolved like a short name. Struct fields
// match proto field names through their json tag, or by name ignoring case
// and underscores.
func (p *Protoevent) Unmarshal(data []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("unmarshal target must be a pointer to struct")
	}

	messageType := rv.Elem().Type().Name()
	result, err := p.Parse(data, messageType)
	if err != nil {
		return err
	}

	return mapToStruct(result, rv.Elem())
}

// mapToStruct maps parsed result to struct fields
func mapToStruct(data map[string]interface{}, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		value, ok := lookupField(data, field)
		if !ok {
			continue
		}
		if err := setFieldValue(fieldValue, value); err != nil {
			return errors.Wrapf(err, "failed to set field %s", field.Name)
		}
	}
	return nil
}

func lookupField(data map[string]interface{}, field reflect.StructField) (interface{}, bool) {
	if tag := field.Tag.Get("json"); tag != "" {
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			return nil, false
		}
		if name != "" {
			v, ok := data[name]
			return v, ok
		}
	}
	for key, v := range data {
		if strings.EqualFold(strings.ReplaceAll(key, "_", ""), field.Name) {
			return v, true
		}
	}
	return nil, false
}

// setFieldValue sets a struct field with type conversion
func setFieldValue(fieldValue reflect.Value, value interface{}) error {
	if value == nil {
		return nil
	}

	switch src := value.(type) {
	case map[string]interface{}:
		target := fieldValue
		if target.Kind() == reflect.Ptr {
			if target.IsNil() {
				target.Set(reflect.New(target.Type().Elem()))
			}
			target = target.Elem()
		}
		if target.Kind() == reflect.Struct {
			return mapToStruct(src, target)
		}
	case []interface{}:
		if fieldValue.Kind() == reflect.Slice && fieldValue.Type().Elem().Kind() != reflect.Uint8 {
			out := reflect.MakeSlice(fieldValue.Type(), len(src), len(src))
			for i, e := range src {
				if err := setFieldValue(out.Index(i), e); err != nil {
					return errors.WithMessagef(err, "index %d", i)
				}
			}
			fieldValue.Set(out)
			return nil
		}
	case map[interface{}]interface{}:
		if fieldValue.Kind() == reflect.Map {
			out := reflect.MakeMapWithSize(fieldValue.Type(), len(src))
			for k, e := range src {
				key := reflect.New(fieldValue.Type().Key()).Elem()
				if err := setFieldValue(key, k); err != nil {
					return err
				}
				val := reflect.New(fieldValue.Type().Elem()).Elem()
				if err := setFieldValue(val, e); err != nil {
					return errors.WithMessagef(err, "key %v", k)
				}
				out.SetMapIndex(key, val)
			}
			fieldValue.Set(out)
			return nil
		}
	}

	sourceValue := reflect.ValueOf(value)
	if sourceValue.Type().AssignableTo(fieldValue.Type()) {
		fieldValue.Set(sourceValue)
		return nil
	}

	if sourceValue.Type().ConvertibleTo(fieldValue.Type()) &&
		sourceValue.Kind() != reflect.String && fieldValue.Kind() != reflect.String {
		fieldValue.Set(sourceValue.Convert(fieldValue.Type()))
		return nil
	}

	return errors.Errorf("cannot convert %T to %s", value, fieldValue.Type())
}

// ===== REGISTRY ACCESS =====

func (p *Protoevent) GetRegistry() *registry.Registry { return p.registry }
func (p *Protoevent) ListMessages() []string          { return p.registry.ListMessages() }
func (p *Protoevent) ListEnums() []string             { return p.registry.ListEnums() }
