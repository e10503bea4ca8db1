package registry

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	protoparser "github.com/yoheimuta/go-protoparser/v4"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protoevent/schema"
	"github.com/anirudhraja/protoevent/wire"
)

// protoFileEntity is one parsed .proto file.
type protoFileEntity struct {
	path    string
	pkg     string
	proto3  bool
	body    *protoparserparser.Proto
	imports []string
}

// LoadSchemaFromFile parses protoFile, looked up in ProtoDirectories, and
// every file it imports with go-protoparser. google/protobuf imports are
// served from the protobuf-go registry.
func (r *Registry) LoadSchemaFromFile(protoFile string) error {
	files, err := r.getAllProtoInfo(protoFile)
	if err != nil {
		return err
	}
	for _, pf := range files {
		if err := r.declareBody(pf.body.ProtoBody, pf.pkg, nil); err != nil {
			return errors.WithMessage(err, pf.path)
		}
	}
	for _, pf := range files {
		if err := r.defineBody(pf, pf.body.ProtoBody, pf.pkg); err != nil {
			return errors.WithMessage(err, pf.path)
		}
		level.Debug(r.logger).Log("msg", "loaded proto file", "path", pf.path, "package", pf.pkg, "imports", len(pf.imports))
	}
	return nil
}

// getAllProtoInfo uses DFS to parse protoFile and everything it imports.
// Files loaded by an earlier call are skipped.
func (r *Registry) getAllProtoInfo(protoFile string) ([]*protoFileEntity, error) {
	var result []*protoFileEntity

	var dfs func(protoPath string) error
	dfs = func(protoPath string) error {
		if r.loaded[protoPath] {
			return nil
		}
		r.loaded[protoPath] = true

		content, err := os.ReadFile(protoPath)
		if err != nil {
			return errors.Wrap(err, "failed to read file")
		}
		parsed, err := protoparser.Parse(bytes.NewReader(content), protoparser.WithFilename(protoPath))
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", protoPath)
		}
		entity := &protoFileEntity{
			path:   protoPath,
			body:   parsed,
			proto3: parsed.Syntax != nil && strings.Trim(parsed.Syntax.ProtobufVersion, `"'`) == "proto3",
		}
		for _, body := range parsed.ProtoBody {
			switch b := body.(type) {
			case *protoparserparser.Package:
				entity.pkg = b.Name
			case *protoparserparser.Import:
				importPath := strings.Trim(b.Location, `"'`)
				if strings.HasPrefix(importPath, "google/protobuf/") {
					if err := r.loadRegistered(importPath); err != nil {
						return err
					}
					continue
				}
				fullImportPath, err := r.findIfProtoExists(importPath)
				if err != nil {
					return err
				}
				entity.imports = append(entity.imports, fullImportPath)
				if err := dfs(fullImportPath); err != nil {
					return err
				}
			}
		}
		result = append(result, entity)
		return nil
	}

	protoPath, err := r.findIfProtoExists(protoFile)
	if err != nil {
		return nil, err
	}
	if err := dfs(protoPath); err != nil {
		return nil, err
	}
	return result, nil
}

func joinName(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

func (r *Registry) declareBody(body []protoparserparser.Visitee, scope string, parent *schema.MessageType) error {
	for _, item := range body {
		switch v := item.(type) {
		case *protoparserparser.Message:
			full := joinName(scope, v.MessageName)
			m, err := r.b.NewMessage(full, parent)
			if err != nil {
				return err
			}
			r.declare(full, kindMessage)
			if err := r.declareBody(v.MessageBody, full, m); err != nil {
				return err
			}
		case *protoparserparser.Enum:
			full := joinName(scope, v.EnumName)
			var values []schema.EnumValue
			for _, ev := range v.EnumBody {
				ef, ok := ev.(*protoparserparser.EnumField)
				if !ok {
					continue
				}
				n, err := strconv.ParseInt(ef.Number, 0, 32)
				if err != nil {
					return errors.Wrapf(err, "%s.%s", full, ef.Ident)
				}
				values = append(values, schema.EnumValue{Name: ef.Ident, Number: int32(n)})
			}
			if _, err := r.b.NewEnum(full, parent, values...); err != nil {
				return err
			}
			r.declare(full, kindEnum)
		}
	}
	return nil
}

func (r *Registry) defineBody(pf *protoFileEntity, body []protoparserparser.Visitee, scope string) error {
	for _, item := range body {
		pm, ok := item.(*protoparserparser.Message)
		if !ok {
			continue
		}
		full := joinName(scope, pm.MessageName)
		m := r.b.MessageRef(full)
		for _, member := range pm.MessageBody {
			var err error
			switch v := member.(type) {
			case *protoparserparser.Field:
				err = r.addProtoField(pf, m, v)
			case *protoparserparser.MapField:
				err = r.addProtoMapField(m, v)
			case *protoparserparser.Oneof:
				err = r.addProtoOneOf(pf, m, v)
			case *protoparserparser.GroupField:
				err = errors.Wrapf(wire.ErrGroup, "%s.%s", full, v.GroupName)
			}
			if err != nil {
				return err
			}
		}
		if err := r.defineBody(pf, pm.MessageBody, full); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) addProtoField(pf *protoFileEntity, m *schema.MessageType, f *protoparserparser.Field) error {
	spec, err := r.protoFieldSpec(pf, m, f.FieldName, f.FieldNumber, f.Type, f.FieldOptions)
	if err != nil {
		return err
	}
	switch {
	case f.IsRepeated:
		spec.Label = schema.LabelRepeated
	case f.IsRequired:
		spec.Label = schema.LabelRequired
	case f.IsOptional:
		spec.Proto3Optional = true
	}
	_, err = r.b.AddField(m, spec)
	return err
}

func (r *Registry) addProtoMapField(m *schema.MessageType, f *protoparserparser.MapField) error {
	key, ok := schema.ParseScalarType(f.KeyType)
	if !ok {
		return errors.Wrapf(schema.ErrInvalidMapKey, "%s.%s: %s", m.FullName(), f.MapName, f.KeyType)
	}
	value, err := r.resolveType(f.Type, m.FullName())
	if err != nil {
		return err
	}
	num, err := fieldNumber(f.FieldNumber)
	if err != nil {
		return errors.WithMessagef(err, "%s.%s", m.FullName(), f.MapName)
	}
	_, err = r.b.AddMapField(m, f.MapName, num, key, value)
	return err
}

func (r *Registry) addProtoOneOf(pf *protoFileEntity, m *schema.MessageType, o *protoparserparser.Oneof) error {
	specs := make([]schema.FieldSpec, 0, len(o.OneofFields))
	for _, of := range o.OneofFields {
		spec, err := r.protoFieldSpec(pf, m, of.FieldName, of.FieldNumber, of.Type, of.FieldOptions)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}
	_, err := r.b.AddOneOf(m, o.OneofName, specs...)
	return err
}

func (r *Registry) protoFieldSpec(pf *protoFileEntity, m *schema.MessageType, name, number, typeName string, options []*protoparserparser.FieldOption) (schema.FieldSpec, error) {
	spec := schema.FieldSpec{Name: name, Unpacked: !pf.proto3}
	num, err := fieldNumber(number)
	if err != nil {
		return spec, errors.WithMessagef(err, "%s.%s", m.FullName(), name)
	}
	spec.Number = num
	if spec.Type, err = r.resolveType(typeName, m.FullName()); err != nil {
		return spec, errors.WithMessagef(err, "%s.%s", m.FullName(), name)
	}
	for _, opt := range options {
		value := strings.Trim(opt.Constant, `"'`)
		switch strings.Trim(opt.OptionName, "()") {
		case "packed":
			spec.Unpacked = value != "true"
		case "json_name":
			spec.JSONName = value
		}
	}
	return spec, nil
}

func fieldNumber(s string) (wire.FieldNumber, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(schema.ErrInvalidField, "field number %q", s)
	}
	return wire.FieldNumber(n), nil
}

// resolveType maps a scalar keyword or a type reference seen in scope to a
// schema type.
func (r *Registry) resolveType(typeName, scope string) (schema.Type, error) {
	if s, ok := schema.ParseScalarType(typeName); ok {
		return s, nil
	}
	full, err := getReferencedType(typeName, scope, r.kinds)
	if err != nil {
		return nil, errors.Wrap(schema.ErrUnresolved, err.Error())
	}
	if r.kinds[full] == kindEnum {
		return r.b.EnumRef(full), nil
	}
	return r.b.MessageRef(full), nil
}
