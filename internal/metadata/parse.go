package metadata

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var ErrInvalidMetadata = errors.New("invalid metadata")

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	})
	return v
}

// Parse turns a decoded table comment into TableMetadata with defaults
// applied. An empty map yields the permissive defaults; a map that does not
// fit the configuration schema is rejected.
func Parse(raw map[string]any) (*TableMetadata, error) {
	md := &TableMetadata{}
	if err := decode(raw, md); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	md.applyDefaults()
	if err := validate.Struct(md); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return md, nil
}

// ParseColumn turns a decoded column comment into ColumnMeta.
func ParseColumn(raw map[string]any) (ColumnMeta, error) {
	var cm ColumnMeta
	if err := decode(raw, &cm); err != nil {
		return ColumnMeta{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if err := validate.Struct(cm); err != nil {
		return ColumnMeta{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return cm, nil
}

func decode(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
