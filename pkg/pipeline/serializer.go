package pipeline

import (
	"encoding/json"
	"fmt"
)

// Serializer renders values as indented JSON for diagnostics output.
// Components that print envelopes receive one explicitly instead of
// reaching for a shared global, so tests can swap or drop it.
type Serializer struct {
	prefix string
	indent string
}

// NewSerializer returns a Serializer producing two-space indented JSON.
func NewSerializer() *Serializer {
	return &Serializer{indent: "  "}
}

// Marshal renders v as indented JSON.
func (s *Serializer) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, s.prefix, s.indent)
}

// Stringify renders v as indented JSON for log output. Marshal failures
// degrade to a placeholder rather than interrupting the caller.
func (s *Serializer) Stringify(v any) string {
	b, err := s.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unserializable %T: %v>", v, err)
	}
	return string(b)
}
