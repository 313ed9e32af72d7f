package metadata

import "fmt"

// Record maps column names to values for one entity.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String formats the field value, "" for missing or nil values.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// Blank reports whether the field is missing, nil or an empty string.
func (r Record) Blank(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// Has reports whether the field was submitted at all.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}
