package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

const moneyProto = `syntax = "proto3";
package shop.common;

message Money {
  string currency = 1;
  int64 units = 2;
}
`

const orderProto = `syntax = "proto3";
package shop;

import "common/money.proto";
import "google/protobuf/timestamp.proto";

message Order {
  string id = 1;
  common.Money total = 2;
  repeated Line lines = 3;
  map<string, int32> counts = 4;
  oneof payment {
    string card = 5;
    Status status = 6;
  }
  google.protobuf.Timestamp created = 7;
  optional int32 priority = 8;
  string display_name = 9 [json_name = "label"];

  message Line {
    string sku = 1;
    repeated int32 quantities = 2 [packed = false];
    repeated sint64 deltas = 3;
  }

  enum Status {
    STATUS_UNSPECIFIED = 0;
    STATUS_PAID = 1;
    STATUS_VOID = -1;
  }
}
`

const legacyProto = `syntax = "proto2";
package legacy;

message Record {
  required string key = 1;
  optional int32 version = 2;
  repeated int32 samples = 3;
  repeated int32 packed_samples = 4 [packed = true];
}
`

func writeProtos(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func shopDir(t *testing.T) string {
	return writeProtos(t, map[string]string{
		"common/money.proto": moneyProto,
		"order.proto":        orderProto,
		"legacy.proto":       legacyProto,
	})
}

func loadFile(t *testing.T, dir, file string) *Registry {
	t.Helper()
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)
	require.NoError(t, r.LoadSchemaFromFile(file))
	_, err = r.Build()
	require.NoError(t, err)
	return r
}

// fieldSummary flattens the parts of a field both loaders must agree on.
type fieldSummary struct {
	Name     string
	Number   wire.FieldNumber
	JSONName string
	Label    schema.FieldLabel
	Type     string
	OneOf    string
	Packed   bool
	Map      bool
	Presence bool
}

func summarize(m *schema.MessageType) []fieldSummary {
	var out []fieldSummary
	for _, f := range m.Fields() {
		s := fieldSummary{
			Name:     f.Name(),
			Number:   f.Number(),
			JSONName: f.JSONName(),
			Label:    f.Label(),
			Type:     f.Type().String(),
			Packed:   f.IsPacked(),
			Map:      f.IsMap(),
			Presence: f.HasPresence(),
		}
		if o := f.OneOf(); o != nil {
			s.OneOf = o.Name()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func TestNewRegistry_WellKnownTypes(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	_, err = r.Build()
	require.NoError(t, err)

	tests := []struct {
		name string
		want schema.WellKnown
	}{
		{"google.protobuf.Duration", schema.WellKnownDuration},
		{"google.protobuf.Timestamp", schema.WellKnownTimestamp},
		{"google.protobuf.FieldMask", schema.WellKnownFieldMask},
		{"google.protobuf.Struct", schema.WellKnownStruct},
		{"google.protobuf.Value", schema.WellKnownValue},
		{"google.protobuf.ListValue", schema.WellKnownListValue},
		{"google.protobuf.DoubleValue", schema.WellKnownWrapper},
		{"google.protobuf.FloatValue", schema.WellKnownWrapper},
		{"google.protobuf.Int64Value", schema.WellKnownWrapper},
		{"google.protobuf.UInt64Value", schema.WellKnownWrapper},
		{"google.protobuf.Int32Value", schema.WellKnownWrapper},
		{"google.protobuf.UInt32Value", schema.WellKnownWrapper},
		{"google.protobuf.BoolValue", schema.WellKnownWrapper},
		{"google.protobuf.StringValue", schema.WellKnownWrapper},
		{"google.protobuf.BytesValue", schema.WellKnownWrapper},
		{"google.protobuf.Empty", schema.NotWellKnown},
		{"google.protobuf.Any", schema.NotWellKnown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := r.GetMessage(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.WellKnown())
		})
	}

	e, err := r.GetEnum("NullValue")
	require.NoError(t, err)
	assert.Equal(t, "google.protobuf.NullValue", e.FullName())
}

func TestLoadSchemaFromFile_NonExistentPath(t *testing.T) {
	r, err := NewRegistry(WithProtoDirectories(t.TempDir()))
	require.NoError(t, err)

	err = r.LoadSchemaFromFile("missing.proto")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path does not exist")
}

func TestLoadSchemaFromFile_NonProtoFile(t *testing.T) {
	dir := writeProtos(t, map[string]string{"notes.txt": "hello"})
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)

	err = r.LoadSchemaFromFile("notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a .proto file")
}

func TestLoadSchemaFromFile_Imports(t *testing.T) {
	r := loadFile(t, shopDir(t), "order.proto")

	order, err := r.GetMessage("shop.Order")
	require.NoError(t, err)

	total := order.FieldByName("total")
	require.NotNil(t, total)
	assert.Equal(t, "shop.common.Money", total.Message().FullName())

	created := order.FieldByName("created")
	require.NotNil(t, created)
	assert.Equal(t, schema.WellKnownTimestamp, created.Message().WellKnown())

	counts := order.FieldByName("counts")
	require.NotNil(t, counts)
	assert.True(t, counts.IsMap())
	assert.Equal(t, schema.TypeString, counts.MapKey().Kind())
	assert.Equal(t, schema.TypeInt32, counts.MapValue().Kind())

	require.Len(t, order.OneOfs(), 1)
	payment := order.OneOfs()[0]
	assert.Equal(t, "payment", payment.Name())
	require.NotNil(t, payment.Field(6))
	assert.Equal(t, "shop.Order.Status", payment.Field(6).Enum().FullName())

	status := payment.Field(6).Enum()
	n, ok := status.ValueNumber("STATUS_VOID")
	assert.True(t, ok)
	assert.Equal(t, int32(-1), n)

	priority := order.FieldByName("priority")
	require.NotNil(t, priority)
	assert.True(t, priority.IsProto3Optional())
	assert.True(t, priority.HasPresence())

	assert.Equal(t, "label", order.FieldByName("display_name").JSONName())
	assert.Equal(t, order.FieldByName("display_name"), order.FieldByJSONName("label"))

	line, err := r.GetMessage("Order.Line")
	require.NoError(t, err)
	assert.False(t, line.FieldByName("quantities").IsPacked())
	assert.True(t, line.FieldByName("deltas").IsPacked())
	assert.Equal(t, line, order.FieldByName("lines").Message())

	assert.Equal(t, []string{"shop.Order.Status"}, filterPrefix(r.ListEnums(), "shop."))
	assert.Equal(t,
		[]string{"shop.Order", "shop.Order.Line", "shop.common.Money"},
		filterPrefix(r.ListMessages(), "shop."))
}

func filterPrefix(names []string, prefix string) []string {
	var out []string
	for _, n := range names {
		if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
			out = append(out, n)
		}
	}
	return out
}

func TestLoadSchemaFromFile_Proto2(t *testing.T) {
	r := loadFile(t, shopDir(t), "legacy.proto")

	rec, err := r.GetMessage("legacy.Record")
	require.NoError(t, err)
	assert.Equal(t, schema.LabelRequired, rec.FieldByName("key").Label())
	assert.True(t, rec.FieldByName("version").HasPresence())
	assert.False(t, rec.FieldByName("samples").IsPacked())
	assert.True(t, rec.FieldByName("packed_samples").IsPacked())
}

func TestLoadSchemaFromFile_RejectsGroups(t *testing.T) {
	dir := writeProtos(t, map[string]string{"group.proto": `syntax = "proto2";
package legacy;

message Search {
  repeated group Result = 1 {
    required string url = 2;
  }
}
`})
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)

	err = r.LoadSchemaFromFile("group.proto")
	assert.True(t, errors.Is(err, wire.ErrGroup), "got %v", err)
}

func TestLoadSchemaFromFile_UnresolvedType(t *testing.T) {
	dir := writeProtos(t, map[string]string{"bad.proto": `syntax = "proto3";
package bad;

message Holder {
  Missing value = 1;
}
`})
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)

	err = r.LoadSchemaFromFile("bad.proto")
	assert.True(t, errors.Is(err, schema.ErrUnresolved), "got %v", err)
}

func TestLoadSchemaFromFile_AfterBuild(t *testing.T) {
	dir := shopDir(t)
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)
	_, err = r.Build()
	require.NoError(t, err)

	err = r.LoadSchemaFromFile("order.proto")
	assert.True(t, errors.Is(err, schema.ErrSealed), "got %v", err)
}

func TestCompile_MatchesLoadSchemaFromFile(t *testing.T) {
	dir := shopDir(t)
	parsed := loadFile(t, dir, "order.proto")

	compiled, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)
	require.NoError(t, compiled.Compile(context.Background(), "order.proto", "legacy.proto"))
	_, err = compiled.Build()
	require.NoError(t, err)

	for _, name := range []string{"shop.Order", "shop.Order.Line", "shop.common.Money"} {
		t.Run(name, func(t *testing.T) {
			want, err := parsed.GetMessage(name)
			require.NoError(t, err)
			got, err := compiled.GetMessage(name)
			require.NoError(t, err)
			if diff := cmp.Diff(summarize(want), summarize(got)); diff != "" {
				t.Errorf("fields mismatch (-protoparser +protocompile):\n%s", diff)
			}
		})
	}

	entry, err := compiled.GetMessage("shop.Order.CountsEntry")
	require.NoError(t, err)
	assert.True(t, entry.IsMapEntry())
	assert.NotContains(t, compiled.ListMessages(), "shop.Order.CountsEntry")

	rec, err := compiled.GetMessage("legacy.Record")
	require.NoError(t, err)
	assert.False(t, rec.FieldByName("samples").IsPacked())
	assert.True(t, rec.FieldByName("version").HasPresence())
}

func TestCompile_SyntaxError(t *testing.T) {
	dir := writeProtos(t, map[string]string{"broken.proto": `syntax = "proto3"; message {`})
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)
	assert.Error(t, r.Compile(context.Background(), "broken.proto"))
}

func TestGetMessage_ShortNames(t *testing.T) {
	dir := writeProtos(t, map[string]string{
		"common/money.proto": moneyProto,
		"billing.proto": `syntax = "proto3";
package billing;

message Money {
  double amount = 1;
}

message Invoice {
  Money due = 1;
}
`,
	})
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)

	_, err = r.GetMessage("Invoice")
	assert.Equal(t, ErrNotBuilt, err)

	require.NoError(t, r.LoadSchemaFromFile("common/money.proto"))
	require.NoError(t, r.LoadSchemaFromFile("billing.proto"))
	_, err = r.Build()
	require.NoError(t, err)

	inv, err := r.GetMessage("Invoice")
	require.NoError(t, err)
	assert.Equal(t, "billing.Invoice", inv.FullName())
	assert.Equal(t, "billing.Money", inv.FieldByName("due").Message().FullName())

	// served from the cache the second time
	again, err := r.GetMessage("Invoice")
	require.NoError(t, err)
	assert.Same(t, inv, again)

	m, err := r.GetMessage(".shop.common.Money")
	require.NoError(t, err)
	assert.Equal(t, "shop.common.Money", m.FullName())

	_, err = r.GetMessage("Money")
	assert.True(t, errors.Is(err, ErrAmbiguous), "got %v", err)

	_, err = r.GetMessage("Nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = r.GetEnum("Invoice")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestLoadSchemaFromFile_SkipsLoadedFiles(t *testing.T) {
	dir := shopDir(t)
	r, err := NewRegistry(WithProtoDirectories(dir))
	require.NoError(t, err)
	require.NoError(t, r.LoadSchemaFromFile("common/money.proto"))
	// order.proto imports money.proto again
	require.NoError(t, r.LoadSchemaFromFile("order.proto"))
	_, err = r.Build()
	require.NoError(t, err)
}

func TestGetReferencedType(t *testing.T) {
	declared := map[string]kind{
		"a.b.Foo":     kindMessage,
		"a.b.Foo.Bar": kindMessage,
		"a.Foo":       kindMessage,
		"a.Qux":       kindEnum,
		"Baz":         kindMessage,
	}
	tests := []struct {
		typeName string
		scope    string
		want     string
		wantErr  bool
	}{
		{typeName: "Foo", scope: "a.b", want: "a.b.Foo"},
		{typeName: "Foo", scope: "a.b.Foo", want: "a.b.Foo"},
		{typeName: "Foo", scope: "a.c", want: "a.Foo"},
		{typeName: "Bar", scope: "a.b.Foo", want: "a.b.Foo.Bar"},
		{typeName: "Foo.Bar", scope: "a.b.Foo", want: "a.b.Foo.Bar"},
		{typeName: "Qux", scope: "a.b.Foo", want: "a.Qux"},
		{typeName: "Baz", scope: "a.b", want: "Baz"},
		{typeName: ".a.Foo", scope: "a.b", want: "a.Foo"},
		// a.Foo shadows a.b.Foo from scope a.c
		{typeName: "Foo.Bar", scope: "a.c", wantErr: true},
		{typeName: ".b.Foo", scope: "a", wantErr: true},
		{typeName: "Missing", scope: "a.b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typeName+"@"+tt.scope, func(t *testing.T) {
			got, err := getReferencedType(tt.typeName, tt.scope, declared)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
