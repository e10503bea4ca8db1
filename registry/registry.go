// Package registry loads schemas from .proto files and protobuf-go
// descriptors and resolves message and enum names.
package registry

import (
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/anirudhraja/protoevent/schema"

	// Registers the well-known type descriptors with protoregistry.
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/fieldmaskpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	ErrNotFound  = errors.New("type not found")
	ErrAmbiguous = errors.New("short name matches more than one type")
	ErrNotBuilt  = errors.New("registry has not been built")
)

// wellKnownFiles are loaded into every registry.
var wellKnownFiles = []string{
	"google/protobuf/any.proto",
	"google/protobuf/duration.proto",
	"google/protobuf/empty.proto",
	"google/protobuf/field_mask.proto",
	"google/protobuf/struct.proto",
	"google/protobuf/timestamp.proto",
	"google/protobuf/wrappers.proto",
}

// DefaultCacheSize bounds the short name cache.
const DefaultCacheSize = 1024

type kind int8

const (
	kindMessage kind = iota + 1
	kindEnum
)

// Registry collects type definitions into a schema.Builder. Load files and
// descriptors, then call Build once; lookups work on the built schema.
// Loading is not safe for concurrent use; lookups after Build are.
type Registry struct {
	// ProtoDirectories are searched, in order, for .proto files and imports.
	ProtoDirectories []string

	logger log.Logger
	b      *schema.Builder
	s      *schema.Schema
	loaded map[string]bool // file paths already added
	kinds  map[string]kind // declared full names
	short  *lru.Cache[string, string]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for load events.
func WithLogger(l log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithProtoDirectories sets the directories searched for .proto files.
func WithProtoDirectories(dirs ...string) Option {
	return func(r *Registry) { r.ProtoDirectories = dirs }
}

// NewRegistry returns a registry that already holds the well-known types.
func NewRegistry(opts ...Option) (*Registry, error) {
	short, err := lru.New[string, string](DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		logger: log.NewNopLogger(),
		b:      schema.NewBuilder(),
		loaded: make(map[string]bool),
		kinds:  make(map[string]kind),
		short:  short,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, path := range wellKnownFiles {
		if err := r.loadRegistered(path); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// loadRegistered adds a file known to the protobuf-go global registry.
func (r *Registry) loadRegistered(path string) error {
	fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
	if err != nil {
		return errors.Wrapf(err, "registry: %s", path)
	}
	return r.LoadDescriptors(fd)
}

func (r *Registry) declare(fullName string, k kind) {
	r.kinds[fullName] = k
}

// Build seals the registry. Further loads fail with schema.ErrSealed.
func (r *Registry) Build() (*schema.Schema, error) {
	s, err := r.b.Build()
	if err != nil {
		return nil, err
	}
	r.s = s
	level.Debug(r.logger).Log("msg", "registry built", "messages", len(s.Messages()), "enums", len(s.Enums()))
	return s, nil
}

// Schema returns the built schema, or nil before Build.
func (r *Registry) Schema() *schema.Schema { return r.s }

// GetMessage resolves a full name, or a short name that matches exactly one
// message by suffix.
func (r *Registry) GetMessage(name string) (*schema.MessageType, error) {
	if r.s == nil {
		return nil, ErrNotBuilt
	}
	name = strings.TrimPrefix(name, ".")
	if m := r.s.Message(name); m != nil {
		return m, nil
	}
	full, err := r.resolveShort("message:", name, r.s.MessageNames())
	if err != nil {
		return nil, err
	}
	return r.s.Message(full), nil
}

// GetEnum resolves an enum the same way GetMessage resolves messages.
func (r *Registry) GetEnum(name string) (*schema.EnumType, error) {
	if r.s == nil {
		return nil, ErrNotBuilt
	}
	name = strings.TrimPrefix(name, ".")
	if e := r.s.Enum(name); e != nil {
		return e, nil
	}
	full, err := r.resolveShort("enum:", name, r.ListEnums())
	if err != nil {
		return nil, err
	}
	return r.s.Enum(full), nil
}

func (r *Registry) resolveShort(ns, name string, names []string) (string, error) {
	if full, ok := r.short.Get(ns + name); ok {
		return full, nil
	}
	var matches []string
	for _, full := range names {
		if strings.HasSuffix(full, "."+name) {
			matches = append(matches, full)
		}
	}
	switch len(matches) {
	case 0:
		return "", errors.Wrap(ErrNotFound, name)
	case 1:
		r.short.Add(ns+name, matches[0])
		return matches[0], nil
	}
	return "", errors.Wrapf(ErrAmbiguous, "%s: %s", name, strings.Join(matches, ", "))
}

// ListMessages returns the sorted full names of all messages, map entries
// excluded.
func (r *Registry) ListMessages() []string {
	if r.s == nil {
		return nil
	}
	var names []string
	for _, m := range r.s.Messages() {
		if !m.IsMapEntry() {
			names = append(names, m.FullName())
		}
	}
	sort.Strings(names)
	return names
}

// ListEnums returns the sorted full names of all enums.
func (r *Registry) ListEnums() []string {
	if r.s == nil {
		return nil
	}
	var names []string
	for _, e := range r.s.Enums() {
		names = append(names, e.FullName())
	}
	sort.Strings(names)
	return names
}

// scalarKinds maps descriptor kinds onto schema scalar types.
var scalarKinds = map[protoreflect.Kind]schema.ScalarType{
	protoreflect.DoubleKind:   schema.TypeDouble,
	protoreflect.FloatKind:    schema.TypeFloat,
	protoreflect.Int64Kind:    schema.TypeInt64,
	protoreflect.Uint64Kind:   schema.TypeUint64,
	protoreflect.Int32Kind:    schema.TypeInt32,
	protoreflect.Fixed64Kind:  schema.TypeFixed64,
	protoreflect.Fixed32Kind:  schema.TypeFixed32,
	protoreflect.BoolKind:     schema.TypeBool,
	protoreflect.StringKind:   schema.TypeString,
	protoreflect.BytesKind:    schema.TypeBytes,
	protoreflect.Uint32Kind:   schema.TypeUint32,
	protoreflect.Sfixed32Kind: schema.TypeSfixed32,
	protoreflect.Sfixed64Kind: schema.TypeSfixed64,
	protoreflect.Sint32Kind:   schema.TypeSint32,
	protoreflect.Sint64Kind:   schema.TypeSint64,
}
