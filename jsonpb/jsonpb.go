// Package jsonpb bridges protobuf events and the proto3 JSON mapping.
//
// A Printer consumes decoder events and writes JSON. A Producer reads a JSON
// document and emits encoder events, so JSON can be turned into wire bytes
// without building an intermediate value. Struct, Value, ListValue, Duration,
// Timestamp, FieldMask and the wrapper types use their special JSON shapes.
package jsonpb

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/dynamic"
	"github.com/anirudhraja/protoevent/schema"
)

var (
	// ErrSyntax is returned for malformed JSON input.
	ErrSyntax = errors.New("malformed JSON")
	// ErrType is returned when a JSON value cannot be read as the field's type.
	ErrType = errors.New("JSON value does not match field type")
	// ErrDuplicate is returned when a field would appear twice in one object.
	ErrDuplicate = errors.New("field set more than once")
	// ErrWellKnown is returned for out of range or malformed well-known values.
	ErrWellKnown = errors.New("invalid well-known type value")
)

// MarshalOptions configures JSON output.
type MarshalOptions struct {
	// UseProtoNames uses the proto field names instead of the JSON names.
	UseProtoNames bool
	// UseEnumNumbers writes enum values as numbers instead of names.
	UseEnumNumbers bool
}

// UnmarshalOptions configures JSON input.
type UnmarshalOptions struct {
	// DiscardUnknown skips object keys that name no field instead of failing.
	DiscardUnknown bool
}

// Unknown fields never reach the JSON form, so the default decoder keeps
// them instead of failing.
var (
	defaultDecoder, _ = codec.NewDecoder(codec.NewConfig(codec.UnknownPreserve))
	defaultEncoder, _ = codec.NewEncoder(codec.NewConfig(codec.UnknownPreserve))
)

// Marshal converts the wire bytes of a msg to JSON.
func Marshal(msg *schema.MessageType, data []byte) ([]byte, error) {
	return MarshalOptions{}.Marshal(defaultDecoder, msg, data)
}

// Unmarshal converts a JSON document for msg to wire bytes.
func Unmarshal(msg *schema.MessageType, data []byte) ([]byte, error) {
	return UnmarshalOptions{}.Unmarshal(defaultEncoder, msg, data)
}

// Marshal decodes data with d and prints it. The bytes go through a
// dynamic.Message first so that repeated fields are contiguous and repeated
// singular fields are merged.
func (o MarshalOptions) Marshal(d *codec.Decoder, msg *schema.MessageType, data []byte) ([]byte, error) {
	m, err := dynamic.Decode(d, msg, data)
	if err != nil {
		return nil, err
	}
	return o.Format(m)
}

// Format prints m.
func (o MarshalOptions) Format(m *dynamic.Message) ([]byte, error) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, o)
	if err := p.Init(m.Type()); err != nil {
		return nil, err
	}
	if err := m.Walk(p); err != nil {
		return nil, err
	}
	if err := p.Destroy(); err != nil {
		return nil, err
	}
	if err := p.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal encodes a JSON document for msg with e.
func (o UnmarshalOptions) Unmarshal(e *codec.Encoder, msg *schema.MessageType, data []byte) ([]byte, error) {
	return e.Encode(msg, o.Producer(msg, data))
}
