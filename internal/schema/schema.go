// Package schema builds response schemas at runtime. Object properties keep
// insertion order, which providers use as generation order.
package schema

import (
	"fmt"
	"slices"
)

// Type is a JSON Schema primitive type.
type Type string

const (
	TypeObject  Type = "object"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
)

// Schema describes a structured response. Build it with Object, String, Enum and friends.
type Schema struct {
	Name        string
	Type        Type
	Description string
	Enum        []string
	Items       *Schema

	properties []Property
}

// Property is a named member of an object schema.
type Property struct {
	Name     string
	Schema   *Schema
	Optional bool
}

// Object starts an empty object schema. The name is used where providers need one
// (tool names, json_schema names).
func Object(name, description string) *Schema {
	return &Schema{Name: name, Type: TypeObject, Description: description}
}

// String returns a free-text field.
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Enum returns a string field restricted to values.
func Enum(description string, values ...string) *Schema {
	return &Schema{Type: TypeString, Description: description, Enum: slices.Clone(values)}
}

// Integer returns an integer field.
func Integer(description string) *Schema {
	return &Schema{Type: TypeInteger, Description: description}
}

// Boolean returns a boolean field.
func Boolean(description string) *Schema {
	return &Schema{Type: TypeBoolean, Description: description}
}

// Array returns a list of items.
func Array(description string, items *Schema) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: items}
}

// Field appends a required property. Re-adding a name replaces it in place.
func (s *Schema) Field(name string, prop *Schema) *Schema {
	return s.add(Property{Name: name, Schema: prop})
}

// OptionalField appends a property the response may omit.
func (s *Schema) OptionalField(name string, prop *Schema) *Schema {
	return s.add(Property{Name: name, Schema: prop, Optional: true})
}

func (s *Schema) add(p Property) *Schema {
	if s.Type != TypeObject {
		panic(fmt.Sprintf("schema: field %q added to %s schema", p.Name, s.Type))
	}
	for i := range s.properties {
		if s.properties[i].Name == p.Name {
			s.properties[i] = p
			return s
		}
	}
	s.properties = append(s.properties, p)
	return s
}

// Properties returns the object members in insertion order.
func (s *Schema) Properties() []Property {
	return slices.Clone(s.properties)
}

// Property looks up a member by name.
func (s *Schema) Property(name string) (*Schema, bool) {
	for _, p := range s.properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

// Required lists the names of non-optional members in order.
func (s *Schema) Required() []string {
	required := make([]string, 0, len(s.properties))
	for _, p := range s.properties {
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	return required
}

// Strict reports whether every property in the tree is required.
func (s *Schema) Strict() bool {
	for _, p := range s.properties {
		if p.Optional || !p.Schema.Strict() {
			return false
		}
	}
	if s.Items != nil {
		return s.Items.Strict()
	}
	return true
}
