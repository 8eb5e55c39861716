package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ValidationError reports flow input that does not satisfy the input schema.
// Field is the dotted path of the first offending value.
type ValidationError struct {
	Schema string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid input: %s", e.Schema, e.Reason)
	}
	return fmt.Sprintf("%s: invalid input: %s %s", e.Schema, e.Field, e.Reason)
}

// ResponseShapeError reports model output that cannot be coerced into the
// output schema.
type ResponseShapeError struct {
	Schema string
	Field  string
	Reason string
	Err    error
}

func (e *ResponseShapeError) Error() string {
	msg := fmt.Sprintf("%s: malformed response: %s", e.Schema, e.Reason)
	if e.Field != "" {
		msg = fmt.Sprintf("%s: malformed response: %s %s", e.Schema, e.Field, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResponseShapeError) Unwrap() error { return e.Err }

type violation struct {
	field  string
	reason string
}

// Validate checks rec against the schema and returns a *ValidationError for
// the first offending field in declaration order. Empty strings are accepted.
func (s Schema) Validate(rec Record) error {
	if rec == nil {
		return &ValidationError{Schema: s.Name, Reason: "input record is missing"}
	}
	if v := checkFields(s.Fields, rec, ""); v != nil {
		return &ValidationError{Schema: s.Name, Field: v.field, Reason: v.reason}
	}
	return nil
}

// ParseRecord decodes a JSON object into a Record without validating it.
func (s Schema) ParseRecord(raw []byte) (Record, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ValidationError{Schema: s.Name, Reason: "input is not valid JSON"}
	}
	obj, ok := asObject(v)
	if !ok {
		return nil, &ValidationError{Schema: s.Name, Reason: "input must be a JSON object"}
	}
	return Record(obj), nil
}

// Decode parses raw model output, checks it against the schema and returns a
// record holding only the declared fields. Any failure is a
// *ResponseShapeError.
func (s Schema) Decode(raw []byte) (Record, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ResponseShapeError{Schema: s.Name, Reason: "payload is not valid JSON", Err: err}
	}
	obj, ok := asObject(v)
	if !ok {
		return nil, &ResponseShapeError{Schema: s.Name, Reason: "payload must be a JSON object"}
	}
	if viol := checkFields(s.Fields, obj, ""); viol != nil {
		return nil, &ResponseShapeError{Schema: s.Name, Field: viol.field, Reason: viol.reason}
	}
	return project(s.Fields, obj), nil
}

func checkFields(fields []Field, obj map[string]any, prefix string) *violation {
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		v, present := obj[f.Name]
		if v == nil {
			if !f.Required {
				continue
			}
			if !present {
				return &violation{path, "is required"}
			}
			return &violation{path, "must not be null"}
		}
		if viol := checkValue(f, v, path); viol != nil {
			return viol
		}
	}
	return nil
}

func checkValue(f Field, v any, path string) *violation {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return &violation{path, "must be a string"}
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return &violation{path, "must be one of: " + strings.Join(f.Enum, ", ")}
		}
	case TypeArray:
		items, ok := asArray(v)
		if !ok {
			return &violation{path, "must be an array"}
		}
		if f.Items == nil {
			return nil
		}
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				return &violation{itemPath, "must not be null"}
			}
			if viol := checkValue(*f.Items, item, itemPath); viol != nil {
				return viol
			}
		}
	case TypeObject:
		obj, ok := asObject(v)
		if !ok {
			return &violation{path, "must be an object"}
		}
		return checkFields(f.Fields, obj, path)
	default:
		return &violation{path, fmt.Sprintf("has unsupported schema type %q", f.Type)}
	}
	return nil
}

// project copies the declared fields of an already checked object.
func project(fields []Field, obj map[string]any) Record {
	out := make(Record, len(fields))
	for _, f := range fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		out[f.Name] = projectValue(f, v)
	}
	return out
}

func projectValue(f Field, v any) any {
	switch f.Type {
	case TypeObject:
		obj, _ := asObject(v)
		return project(f.Fields, obj)
	case TypeArray:
		items, _ := asArray(v)
		if f.Items == nil {
			return items
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, projectValue(*f.Items, item))
		}
		return out
	default:
		return v
	}
}
