package metadata

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ColumnMeta is the typed form of a column comment. Keys this package does
// not interpret (presentation hints) are kept in Extra.
type ColumnMeta struct {
	Type       string         `mapstructure:"type"`
	Label      string         `mapstructure:"label"`
	Hidden     bool           `mapstructure:"hidden"`
	Required   bool           `mapstructure:"required"`
	Min        *float64       `mapstructure:"min"`
	Max        *float64       `mapstructure:"max"`
	MinLength  *int           `mapstructure:"minlength" validate:"omitempty,gte=0"`
	MaxLength  *int           `mapstructure:"maxlength" validate:"omitempty,gte=0"`
	Validators []string       `mapstructure:"validators" validate:"dive,oneof=email url"`
	Extra      map[string]any `mapstructure:",remain"`
}

var titleCaser = cases.Title(language.Und)

// LabelFor returns the configured label or a title-cased column name.
func (c ColumnMeta) LabelFor(column string) string {
	if c.Label != "" {
		return c.Label
	}
	return titleCaser.String(strings.ReplaceAll(column, "_", " "))
}

// IsUpload reports whether the column takes a file path from an upload.
func (c ColumnMeta) IsUpload() bool {
	return c.Type == "file" || c.Type == "image"
}

// HasValidator reports whether a named format check applies, either through
// the type hint or the validators list.
func (c ColumnMeta) HasValidator(name string) bool {
	if c.Type == name {
		return true
	}
	for _, v := range c.Validators {
		if v == name {
			return true
		}
	}
	return false
}
