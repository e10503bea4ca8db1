package protoevent

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/protocolbuffers/protoscope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhraja/protoevent/codec"
	"github.com/anirudhraja/protoevent/registry"
	"github.com/anirudhraja/protoevent/visitor"
	"github.com/anirudhraja/protoevent/wire"
)

const userProto = `syntax = "proto3";
package app;

message User {
  int32 id = 1;
  string name = 2;
  repeated string emails = 3;
  Address address = 4;
  map<string, int64> scores = 5;
  Role role = 6;
  bool active = 7;
  bytes avatar = 8;

  enum Role {
    ROLE_UNSPECIFIED = 0;
    ROLE_ADMIN = 1;
  }
}

message Address {
  string city = 1;
}
`

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.proto"), []byte(userProto), 0o644))
	r, err := registry.NewRegistry(registry.WithProtoDirectories(dir))
	require.NoError(t, err)
	require.NoError(t, r.LoadSchemaFromFile("user.proto"))
	_, err = r.Build()
	require.NoError(t, err)
	return r
}

func newProtoevent(t *testing.T, policy codec.UnknownPolicy) *Protoevent {
	t.Helper()
	p, err := New(newRegistry(t), codec.NewConfig(policy))
	require.NoError(t, err)
	return p
}

func scope(t *testing.T, src string) []byte {
	t.Helper()
	b, err := protoscope.NewScanner(src).Exec()
	require.NoError(t, err)
	return b
}

const userScope = `
1: 7
2: {"Ada"}
3: {"ada@example.com"}
3: {"a@example.com"}
4: {1: {"London"}}
5: {1: {"chess"} 2: 3}
6: 1
7: 1
8: {"\x01\x02"}
`

func TestNew_RequiresBuiltRegistry(t *testing.T) {
	r, err := registry.NewRegistry()
	require.NoError(t, err)
	_, err = New(r, codec.NewConfig(codec.UnknownStrict))
	assert.Equal(t, registry.ErrNotBuilt, err)

	_, err = New(newRegistry(t), codec.Config{})
	assert.Error(t, err)
}

func TestProtoevent_Parse(t *testing.T) {
	p := newProtoevent(t, codec.UnknownStrict)

	t.Run("empty_data", func(t *testing.T) {
		result, err := p.Parse(nil, "app.User")
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("all_fields", func(t *testing.T) {
		result, err := p.Parse(scope(t, userScope), "User")
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"id":      int32(7),
			"name":    "Ada",
			"emails":  []interface{}{"ada@example.com", "a@example.com"},
			"address": map[string]interface{}{"city": "London"},
			"scores":  map[interface{}]interface{}{"chess": int64(3)},
			"role":    "ROLE_ADMIN",
			"active":  true,
			"avatar":  []byte{1, 2},
		}, result)
	})

	t.Run("unknown_message", func(t *testing.T) {
		_, err := p.Parse(nil, "Missing")
		assert.True(t, errors.Is(err, registry.ErrNotFound), "got %v", err)
	})

	t.Run("unknown_field_strict", func(t *testing.T) {
		_, err := p.Parse(scope(t, `99: 1`), "User")
		assert.True(t, errors.Is(err, wire.ErrUnknownField), "got %v", err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := p.Parse([]byte{0x12, 0x05, 'A'}, "User")
		var de *wire.DecodeError
		require.True(t, errors.As(err, &de), "got %v", err)
		assert.True(t, errors.Is(err, wire.ErrTruncated))
	})
}

func TestProtoevent_MarshalRoundTrip(t *testing.T) {
	p := newProtoevent(t, codec.UnknownStrict)

	data, err := p.Marshal(map[string]interface{}{
		"id":      7,
		"name":    "Ada",
		"emails":  []interface{}{"ada@example.com"},
		"address": map[string]interface{}{"city": "London"},
		"scores":  map[string]interface{}{"chess": "3"},
		"role":    "ROLE_ADMIN",
		"active":  true,
		"avatar":  "AQI=",
	}, "User")
	require.NoError(t, err)
	assert.Equal(t, scope(t, `
		1: 7
		2: {"Ada"}
		3: {"ada@example.com"}
		4: {1: {"London"}}
		5: {1: {"chess"} 2: 3}
		6: 1
		7: 1
		8: {"\x01\x02"}`), data)

	result, err := p.Parse(data, "User")
	require.NoError(t, err)
	assert.Equal(t, "ROLE_ADMIN", result["role"])
	assert.Equal(t, []byte{1, 2}, result["avatar"])

	_, err = p.Marshal(map[string]interface{}{"nope": 1}, "User")
	var ee *wire.EncodeError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, []string{"nope"}, ee.FieldPath)
}

func TestProtoevent_DecodeEncode(t *testing.T) {
	p := newProtoevent(t, codec.UnknownPreserve)
	data := scope(t, userScope+`15: 9`)

	m, err := p.Decode(data, "app.User")
	require.NoError(t, err)
	require.Len(t, m.Unknown(), 1)

	out, err := p.Encode(m)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestProtoevent_JSON(t *testing.T) {
	p := newProtoevent(t, codec.UnknownPreserve)

	js, err := p.ToJSON(scope(t, userScope), "User")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 7,
		"name": "Ada",
		"emails": ["ada@example.com", "a@example.com"],
		"address": {"city": "London"},
		"scores": {"chess": "3"},
		"role": "ROLE_ADMIN",
		"active": true,
		"avatar": "AQI="
	}`, string(js))

	data, err := p.FromJSON(js, "User")
	require.NoError(t, err)
	assert.Equal(t, scope(t, userScope), data)

	p.JSON.UseProtoNames = true
	p.JSON.UseEnumNumbers = true
	js, err = p.ToJSON(scope(t, `6: 1`), "User")
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": 1}`, string(js))

	_, err = p.FromJSON([]byte(`{"extra": 1}`), "User")
	assert.True(t, errors.Is(err, wire.ErrUnknownField), "got %v", err)
	p.FromJSONOptions.DiscardUnknown = true
	data, err = p.FromJSON([]byte(`{"extra": 1, "id": 2}`), "User")
	require.NoError(t, err)
	assert.Equal(t, scope(t, `1: 2`), data)
}

func TestProtoevent_Visit(t *testing.T) {
	p := newProtoevent(t, codec.UnknownStrict)
	rec := &visitor.Recorder{}
	require.NoError(t, p.Visit(scope(t, `1: 7 4: {1: {"Oslo"}}`), "User", rec))
	assert.Equal(t, []string{
		"Init(app.User)",
		"Int32(id=7)",
		"Enter(address)",
		`String(city="Oslo")`,
		"Leave(address)",
		"Destroy()",
	}, rec.Strings())
}

type Address struct {
	City string
}

type User struct {
	ID       int32
	Name     string `json:"name"`
	Emails   []string
	Address  *Address
	Scores   map[string]int64
	Role     string
	IsActive bool `json:"active"`
	Avatar   []byte
	Ignored  string `json:"-"`
	internal int
}

func TestProtoevent_Unmarshal(t *testing.T) {
	p := newProtoevent(t, codec.UnknownStrict)

	var u User
	require.NoError(t, p.Unmarshal(scope(t, userScope), &u))
	assert.Equal(t, User{
		ID:       7,
		Name:     "Ada",
		Emails:   []string{"ada@example.com", "a@example.com"},
		Address:  &Address{City: "London"},
		Scores:   map[string]int64{"chess": 3},
		Role:     "ROLE_ADMIN",
		IsActive: true,
		Avatar:   []byte{1, 2},
	}, u)

	assert.Error(t, p.Unmarshal(nil, u))
	var notAMessage struct{ ID int32 }
	assert.Error(t, p.Unmarshal(nil, &notAMessage))

	type mismatch struct{ Name int }
	assert.Error(t, mapToStruct(map[string]interface{}{"name": "x"}, reflect.ValueOf(&mismatch{}).Elem()))
}

func TestProtoevent_Lists(t *testing.T) {
	p := newProtoevent(t, codec.UnknownStrict)
	assert.Contains(t, p.ListMessages(), "app.User")
	assert.Contains(t, p.ListMessages(), "app.Address")
	assert.Contains(t, p.ListEnums(), "app.User.Role")
	assert.NotNil(t, p.GetRegistry().Schema())
}
