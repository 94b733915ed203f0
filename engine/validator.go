package engine

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks documents against a compiled JSON schema. A nil Validator
// accepts everything.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schema. An empty schema yields a nil Validator.
func NewValidator(schema string) (*Validator, error) {
	if strings.TrimSpace(schema) == "" {
		return nil, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid json schema: %v", ErrInvalidConfig, err)
	}
	return &Validator{schema: compiled}, nil
}

// Check validates doc's properties.
func (v *Validator) Check(doc *Document) error {
	if v == nil {
		return nil
	}
	props := doc.Properties
	if props == nil {
		props = map[string]any{}
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(props))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(errs, "; "))
	}
	return nil
}
