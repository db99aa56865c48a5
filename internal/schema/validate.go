package schema

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validate checks a decoded JSON payload (maps, slices, float64, string, bool)
// against the schema.
func (s *Schema) Validate(instance any) error {
	resolved, err := s.validator().Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema %s: %w", s.Name, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return err
	}
	return nil
}

// ValidateEnvelope checks only the top level of a payload: its JSON type and, for
// objects, that it carries no members beyond the declared properties. Members may be
// missing or malformed; callers check them against the member schemas.
func (s *Schema) ValidateEnvelope(instance any) error {
	js := &jsonschema.Schema{Type: string(s.Type)}
	if s.Type == TypeObject {
		js.Properties = make(map[string]*jsonschema.Schema, len(s.properties))
		for _, p := range s.properties {
			js.Properties[p.Name] = &jsonschema.Schema{}
		}
		js.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}
	resolved, err := js.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema %s: %w", s.Name, err)
	}
	return resolved.Validate(instance)
}

func (s *Schema) validator() *jsonschema.Schema {
	js := &jsonschema.Schema{
		Type:        string(s.Type),
		Description: s.Description,
	}
	for _, v := range s.Enum {
		js.Enum = append(js.Enum, v)
	}
	switch s.Type {
	case TypeObject:
		js.Properties = make(map[string]*jsonschema.Schema, len(s.properties))
		for _, p := range s.properties {
			js.Properties[p.Name] = p.Schema.validator()
		}
		js.Required = s.Required()
		// false schema: no members beyond the declared ones
		js.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	case TypeArray:
		if s.Items != nil {
			js.Items = s.Items.validator()
		}
	}
	return js
}
