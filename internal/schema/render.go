package schema

import (
	"bytes"
	"encoding/json"
	"strings"
)

// orderedMap marshals keys in insertion order.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func newOrderedMap() *orderedMap {
	return &orderedMap{values: map[string]any{}}
}

func (m *orderedMap) set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSONSchema renders a standard JSON Schema document. Objects are closed
// (additionalProperties false) as OpenAI strict mode and Anthropic tools expect.
func (s *Schema) JSONSchema() json.Marshaler {
	doc := newOrderedMap()
	doc.set("type", string(s.Type))
	if s.Description != "" {
		doc.set("description", s.Description)
	}
	if len(s.Enum) > 0 {
		doc.set("enum", s.Enum)
	}
	switch s.Type {
	case TypeObject:
		props := newOrderedMap()
		for _, p := range s.properties {
			props.set(p.Name, p.Schema.JSONSchema())
		}
		doc.set("properties", props)
		doc.set("required", s.Required())
		doc.set("additionalProperties", false)
	case TypeArray:
		if s.Items != nil {
			doc.set("items", s.Items.JSONSchema())
		}
	}
	return doc
}

// GeminiSchema renders the OpenAPI subset accepted by Gemini responseSchema:
// upper-case types, enum format and explicit propertyOrdering.
func (s *Schema) GeminiSchema() json.Marshaler {
	doc := newOrderedMap()
	doc.set("type", strings.ToUpper(string(s.Type)))
	if s.Description != "" {
		doc.set("description", s.Description)
	}
	if len(s.Enum) > 0 {
		doc.set("format", "enum")
		doc.set("enum", s.Enum)
	}
	switch s.Type {
	case TypeObject:
		props := newOrderedMap()
		order := make([]string, 0, len(s.properties))
		for _, p := range s.properties {
			props.set(p.Name, p.Schema.GeminiSchema())
			order = append(order, p.Name)
		}
		doc.set("properties", props)
		doc.set("required", s.Required())
		doc.set("propertyOrdering", order)
	case TypeArray:
		if s.Items != nil {
			doc.set("items", s.Items.GeminiSchema())
		}
	}
	return doc
}
