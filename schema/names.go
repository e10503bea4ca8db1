package schema

// JSONName converts a snake_case field name to its default JSON name:
// underscores are dropped and the letter after each one is upper-cased.
// The first character is left as written, matching protoc.
func JSONName(s string) string {
	out := make([]byte, 0, len(s))
	upperNext := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' {
			upperNext = true
			continue
		}
		if upperNext && c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
		upperNext = false
		out = append(out, c)
	}
	return string(out)
}

// CamelCase converts a snake_case name to UpperCamelCase. It names the
// synthetic entry type of a map field: "tags_by_id" -> "TagsByIdEntry".
func CamelCase(s string) string {
	out := JSONName(s)
	if out != "" && out[0] >= 'a' && out[0] <= 'z' {
		out = string(out[0]-'a'+'A') + out[1:]
	}
	return out
}
