package schema

import "sort"

// Schema is a sealed set of message and enum types.
type Schema struct {
	messages  map[string]*MessageType
	enums     map[string]*EnumType
	msgOrder  []*MessageType
	enumOrder []*EnumType
}

// Message returns the message type with the given full name, or nil. A
// leading dot is accepted.
func (s *Schema) Message(fullName string) *MessageType {
	return s.messages[normalizeName(fullName)]
}

// Enum returns the enum type with the given full name, or nil.
func (s *Schema) Enum(fullName string) *EnumType {
	return s.enums[normalizeName(fullName)]
}

// Messages returns every message type in the order it was first referenced.
func (s *Schema) Messages() []*MessageType { return s.msgOrder }

// Enums returns every enum type in the order it was first referenced.
func (s *Schema) Enums() []*EnumType { return s.enumOrder }

// MessageNames returns the sorted full names of all message types.
func (s *Schema) MessageNames() []string {
	names := make([]string, 0, len(s.messages))
	for name := range s.messages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
