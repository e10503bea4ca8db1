package registry

import (
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

func (r *Registry) findIfProtoExists(protoPath string) (string, error) {
	protoPath = strings.Trim(protoPath, `"`)
	if !strings.HasSuffix(protoPath, ".proto") {
		return "", errors.Errorf("is not a .proto file: %s", protoPath)
	}
	dirs := r.ProtoDirectories
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	var lastErr error
	for _, dir := range dirs {
		fullPath := path.Join(dir, protoPath)
		if _, err := os.Stat(fullPath); err != nil {
			lastErr = err
			continue
		}
		return fullPath, nil
	}
	return "", errors.Wrapf(lastErr, "path does not exist: %s", protoPath)
}

/*
getReferencedType returns the full name of the type that typeName refers to
from within the scope prefix (a package or message full name), following the
protobuf scoping rules: a leading dot means fully qualified, otherwise the
innermost scope is searched first, then each enclosing scope.
Ref - https://github.com/protocolbuffers/protobuf/blob/b7a5772caf08d62a20fd1bca258f501fa4db022c/src/google/protobuf/descriptor.proto#L186-L191
*/
func getReferencedType(typeName, prefix string, declared map[string]kind) (string, error) {
	if strings.HasPrefix(typeName, ".") {
		return getFullyQualifiedType(typeName, declared)
	}
	if result, ok := splitNameAndCheck(typeName, prefix, declared); ok {
		return result, nil
	}
	if _, ok := declared[typeName]; ok {
		return typeName, nil
	}
	return "", errors.Errorf("unable to resolve type name: %s", typeName)
}

// splitNameAndCheck appends typeName to prefix and each of its enclosing
// scopes in turn until a declared name is found. A scope declaring the first
// component of a dotted typeName shadows the outer scopes.
func splitNameAndCheck(typeName, prefix string, declared map[string]kind) (string, bool) {
	first := typeName
	if i := strings.IndexByte(typeName, '.'); i >= 0 {
		first = typeName[:i]
	}
	prefixSplit := strings.Split(prefix, ".")
	for len(prefixSplit) > 0 && prefixSplit[0] != "" {
		scope := strings.Join(prefixSplit, ".")
		if _, ok := declared[scope+"."+typeName]; ok {
			return scope + "." + typeName, true
		}
		if _, ok := declared[scope+"."+first]; ok {
			entityName := scope + "." + typeName
			_, ok := declared[entityName]
			return entityName, ok
		}
		// go one level up to the enclosing scope
		prefixSplit = prefixSplit[:len(prefixSplit)-1]
	}
	return "", false
}

func getFullyQualifiedType(typeName string, declared map[string]kind) (string, error) {
	typeName = strings.TrimPrefix(typeName, ".")
	if _, ok := declared[typeName]; ok {
		return typeName, nil
	}
	return "", errors.Errorf("unable to resolve fully qualified type name: .%s", typeName)
}
