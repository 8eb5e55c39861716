package schema

// Record is a decoded flow input or output: JSON objects as Record or
// map[string]any, arrays as []any, strings as string.
type Record map[string]any

// String returns the string stored under key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Object returns the object stored under key, or nil.
func (r Record) Object(key string) Record {
	obj, ok := asObject(r[key])
	if !ok {
		return nil
	}
	return Record(obj)
}

// List returns the objects stored in the array under key, skipping anything
// that is not an object.
func (r Record) List(key string) []Record {
	items, ok := asArray(r[key])
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if obj, ok := asObject(item); ok {
			out = append(out, Record(obj))
		}
	}
	return out
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case Record:
		return o, o != nil
	case map[string]any:
		return o, o != nil
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case []Record:
		out := make([]any, len(a))
		for i := range a {
			out[i] = a[i]
		}
		return out, true
	case []string:
		out := make([]any, len(a))
		for i := range a {
			out[i] = a[i]
		}
		return out, true
	}
	return nil, false
}
