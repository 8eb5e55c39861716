// Package schema declares the shape of flow inputs and model outputs and checks
// records against it.
//
// A Schema is an ordered list of field descriptors. The same descriptor list
// validates caller input before a prompt is rendered, validates and projects
// the model's structured output, and is rendered as a strict JSON Schema so the
// completion provider can be told what to emit.
package schema

// Type is the JSON type a field must carry.
type Type string

const (
	TypeString Type = "string"
	TypeArray  Type = "array"
	TypeObject Type = "object"
)

// Field describes one named value of a record.
type Field struct {
	Name        string
	Type        Type
	Required    bool
	Description string

	// Enum restricts a string field to the listed values.
	Enum []string
	// Items describes array elements. Its Name is ignored.
	Items *Field
	// Fields describes the members of an object field.
	Fields []Field
}

// Schema is the declared shape of one flow's input or output record.
type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

// String returns a required string field.
func String(name, description string) Field {
	return Field{Name: name, Type: TypeString, Required: true, Description: description}
}

// Enum returns a required string field limited to values.
func Enum(name, description string, values ...string) Field {
	return Field{Name: name, Type: TypeString, Required: true, Description: description, Enum: values}
}

// Object returns a required object field with the given members.
func Object(name, description string, fields ...Field) Field {
	return Field{Name: name, Type: TypeObject, Required: true, Description: description, Fields: fields}
}

// ArrayOf returns a required array field whose elements match item.
func ArrayOf(name, description string, item Field) Field {
	return Field{Name: name, Type: TypeArray, Required: true, Description: description, Items: &item}
}

// Optional marks f as not required.
func Optional(f Field) Field {
	f.Required = false
	return f
}

// JSONSchema renders s as a JSON Schema object suitable for strict structured
// output. Optional fields are listed as required but nullable, since strict mode
// requires every property to appear in "required".
func (s Schema) JSONSchema() map[string]any {
	return objectSchema(s.Description, s.Fields)
}

func objectSchema(description string, fields []Field) map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		properties[f.Name] = fieldSchema(f)
		required = append(required, f.Name)
	}
	m := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	if description != "" {
		m["description"] = description
	}
	return m
}

func fieldSchema(f Field) map[string]any {
	var m map[string]any
	switch f.Type {
	case TypeObject:
		m = objectSchema("", f.Fields)
	case TypeArray:
		m = map[string]any{"type": "array"}
		if f.Items != nil {
			m["items"] = fieldSchema(*f.Items)
		}
	default:
		m = map[string]any{"type": string(f.Type)}
		if len(f.Enum) > 0 {
			values := make([]any, 0, len(f.Enum))
			for _, v := range f.Enum {
				values = append(values, v)
			}
			m["enum"] = values
		}
	}
	if !f.Required {
		m["type"] = []any{m["type"], "null"}
		if values, ok := m["enum"].([]any); ok {
			m["enum"] = append(values, nil)
		}
	}
	if f.Description != "" {
		m["description"] = f.Description
	}
	return m
}
