package registry

import (
	"context"

	"github.com/bufbuild/protocompile"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

// Compile compiles .proto files found in ProtoDirectories with protocompile
// and loads the results. The standard google/protobuf imports are always
// available.
func (r *Registry) Compile(ctx context.Context, files ...string) error {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			ImportPaths: r.ProtoDirectories,
		}),
	}
	compiled, err := compiler.Compile(ctx, files...)
	if err != nil {
		return errors.Wrap(err, "registry: compile")
	}
	fds := make([]protoreflect.FileDescriptor, len(compiled))
	for i, f := range compiled {
		fds[i] = f
	}
	return r.LoadDescriptors(fds...)
}

// LoadDescriptors adds the types of the given files and of everything they
// import. Files already loaded are skipped by path.
func (r *Registry) LoadDescriptors(files ...protoreflect.FileDescriptor) error {
	var todo []protoreflect.FileDescriptor
	var collect func(fd protoreflect.FileDescriptor)
	collect = func(fd protoreflect.FileDescriptor) {
		if r.loaded[fd.Path()] {
			return
		}
		r.loaded[fd.Path()] = true
		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			collect(imports.Get(i).FileDescriptor)
		}
		todo = append(todo, fd)
	}
	for _, fd := range files {
		collect(fd)
	}

	// Declare everything first so that fields may reference any type.
	for _, fd := range todo {
		if err := r.declareDescriptors(fd.Messages(), fd.Enums(), nil); err != nil {
			return errors.WithMessage(err, fd.Path())
		}
	}
	var maps []mapField
	for _, fd := range todo {
		if err := r.defineDescriptors(fd.Messages(), &maps); err != nil {
			return errors.WithMessage(err, fd.Path())
		}
	}
	if err := r.markMaps(maps); err != nil {
		return err
	}
	for _, fd := range todo {
		level.Debug(r.logger).Log("msg", "loaded descriptor", "path", fd.Path(), "messages", fd.Messages().Len())
	}
	return nil
}

// mapField is a map field whose entry type is flagged once all fields exist.
type mapField struct {
	field *schema.Field
	entry *schema.MessageType
}

func (r *Registry) markMaps(maps []mapField) error {
	for _, mf := range maps {
		if !mf.entry.IsMapEntry() {
			if err := r.b.SetMapEntry(mf.entry); err != nil {
				return err
			}
		}
		if err := r.b.MarkMap(mf.field); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) declareDescriptors(msgs protoreflect.MessageDescriptors, enums protoreflect.EnumDescriptors, parent *schema.MessageType) error {
	for i := 0; i < enums.Len(); i++ {
		ed := enums.Get(i)
		values := ed.Values()
		vals := make([]schema.EnumValue, values.Len())
		for j := range vals {
			v := values.Get(j)
			vals[j] = schema.EnumValue{Name: string(v.Name()), Number: int32(v.Number())}
		}
		if _, err := r.b.NewEnum(string(ed.FullName()), parent, vals...); err != nil {
			return err
		}
		r.declare(string(ed.FullName()), kindEnum)
	}
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		m, err := r.b.NewMessage(string(md.FullName()), parent)
		if err != nil {
			return err
		}
		r.declare(string(md.FullName()), kindMessage)
		if err := r.declareDescriptors(md.Messages(), md.Enums(), m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) defineDescriptors(msgs protoreflect.MessageDescriptors, maps *[]mapField) error {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		m := r.b.MessageRef(string(md.FullName()))

		oneofs := md.Oneofs()
		for j := 0; j < oneofs.Len(); j++ {
			od := oneofs.Get(j)
			if od.IsSynthetic() {
				continue
			}
			fields := od.Fields()
			specs := make([]schema.FieldSpec, fields.Len())
			for k := range specs {
				spec, err := r.fieldSpec(fields.Get(k))
				if err != nil {
					return err
				}
				specs[k] = spec
			}
			if _, err := r.b.AddOneOf(m, string(od.Name()), specs...); err != nil {
				return err
			}
		}

		fields := md.Fields()
		for j := 0; j < fields.Len(); j++ {
			fd := fields.Get(j)
			if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
				continue
			}
			spec, err := r.fieldSpec(fd)
			if err != nil {
				return err
			}
			f, err := r.b.AddField(m, spec)
			if err != nil {
				return err
			}
			if fd.IsMap() {
				*maps = append(*maps, mapField{field: f, entry: f.Message()})
			}
		}

		if err := r.defineDescriptors(md.Messages(), maps); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) fieldSpec(fd protoreflect.FieldDescriptor) (schema.FieldSpec, error) {
	spec := schema.FieldSpec{
		Name:   string(fd.Name()),
		Number: wire.FieldNumber(fd.Number()),
	}
	if fd.HasJSONName() {
		spec.JSONName = fd.JSONName()
	}
	switch fd.Cardinality() {
	case protoreflect.Repeated:
		spec.Label = schema.LabelRepeated
		spec.Unpacked = !fd.IsPacked()
	case protoreflect.Required:
		spec.Label = schema.LabelRequired
	default:
		// proto3 optional, or a proto2 optional scalar outside a one-of
		spec.Proto3Optional = fd.HasOptionalKeyword() ||
			(fd.HasPresence() && fd.Message() == nil && fd.ContainingOneof() == nil)
	}

	switch fd.Kind() {
	case protoreflect.MessageKind:
		spec.Type = r.b.MessageRef(string(fd.Message().FullName()))
	case protoreflect.EnumKind:
		spec.Type = r.b.EnumRef(string(fd.Enum().FullName()))
	case protoreflect.GroupKind:
		return spec, errors.Wrapf(wire.ErrGroup, "%s", fd.FullName())
	default:
		s, ok := scalarKinds[fd.Kind()]
		if !ok {
			return spec, errors.Wrapf(schema.ErrInvalidField, "%s: kind %v", fd.FullName(), fd.Kind())
		}
		spec.Type = s
	}
	return spec, nil
}
