package validation

import "sort"

// GeneralField keys errors that belong to the record rather than a column.
const GeneralField = "_general"

// Errors maps a field to its validation messages.
type Errors map[string][]string

func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

func (e Errors) Merge(other Errors) {
	for field, msgs := range other {
		e[field] = append(e[field], msgs...)
	}
}

func (e Errors) Empty() bool {
	return len(e) == 0
}

// Fields returns the failing field names in sorted order.
func (e Errors) Fields() []string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
