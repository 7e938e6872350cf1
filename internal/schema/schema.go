// Package schema provides JSON Schema declaration and validation for tool
// input and output contracts.
//
// Tool authors declare schemas with the builder helpers (NewObjectSchema,
// NewStringField, ...) or supply raw draft-07 documents. Validation is
// delegated to a compiled santhosh-tekuri/jsonschema validator so that the
// registry can reject malformed inputs before a handler ever runs.
package schema

import "encoding/json"

// JSONSchema represents a JSON Schema document compatible with draft-07.
type JSONSchema struct {
	Type                 string           `json:"type"`
	Description          string           `json:"description,omitempty"`
	Properties           map[string]Field `json:"properties,omitempty"`
	Required             []string         `json:"required,omitempty"`
	Items                *Field           `json:"items,omitempty"`
	AdditionalProperties *bool            `json:"additionalProperties,omitempty"`
}

// Field represents a property within a schema.
type Field struct {
	Type        string           `json:"type"`
	Description string           `json:"description,omitempty"`
	Enum        []string         `json:"enum,omitempty"`
	Default     any              `json:"default,omitempty"`
	Minimum     *float64         `json:"minimum,omitempty"`
	Maximum     *float64         `json:"maximum,omitempty"`
	MinLength   *int             `json:"minLength,omitempty"`
	MaxLength   *int             `json:"maxLength,omitempty"`
	Pattern     string           `json:"pattern,omitempty"`
	Format      string           `json:"format,omitempty"`
	Items       *Field           `json:"items,omitempty"`
	Properties  map[string]Field `json:"properties,omitempty"`
	Required    []string         `json:"required,omitempty"`
}

// NewObjectSchema creates a new object schema with the given properties and required fields.
func NewObjectSchema(properties map[string]Field, required []string) JSONSchema {
	return JSONSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// NewArraySchema creates a new array schema with the given item schema.
func NewArraySchema(items Field) JSONSchema {
	return JSONSchema{
		Type:  "array",
		Items: &items,
	}
}

// NewStringField creates a new string field with the given description.
func NewStringField(description string) Field {
	return Field{Type: "string", Description: description}
}

// NewIntegerField creates a new integer field with the given description.
func NewIntegerField(description string) Field {
	return Field{Type: "integer", Description: description}
}

// NewNumberField creates a new number field with the given description.
func NewNumberField(description string) Field {
	return Field{Type: "number", Description: description}
}

// NewBooleanField creates a new boolean field with the given description.
func NewBooleanField(description string) Field {
	return Field{Type: "boolean", Description: description}
}

// NewArrayField creates a new array field whose elements match the item schema.
func NewArrayField(description string, items Field) Field {
	return Field{Type: "array", Description: description, Items: &items}
}

// NewObjectField creates a new nested object field.
func NewObjectField(description string, properties map[string]Field, required []string) Field {
	return Field{Type: "object", Description: description, Properties: properties, Required: required}
}

// WithEnum adds an enum constraint to the field.
func (f Field) WithEnum(values ...string) Field {
	f.Enum = values
	return f
}

// WithMinMax adds minimum and maximum constraints to numeric fields.
func (f Field) WithMinMax(min, max float64) Field {
	f.Minimum = &min
	f.Maximum = &max
	return f
}

// WithMin adds a minimum constraint to numeric fields.
func (f Field) WithMin(min float64) Field {
	f.Minimum = &min
	return f
}

// WithMax adds a maximum constraint to numeric fields.
func (f Field) WithMax(max float64) Field {
	f.Maximum = &max
	return f
}

// WithPattern adds a regex pattern constraint to string fields.
func (f Field) WithPattern(pattern string) Field {
	f.Pattern = pattern
	return f
}

// WithFormat adds a format constraint to string fields (e.g. uri, email, date-time, uuid).
func (f Field) WithFormat(format string) Field {
	f.Format = format
	return f
}

// WithMinLength adds a minimum length constraint to string fields.
func (f Field) WithMinLength(length int) Field {
	f.MinLength = &length
	return f
}

// WithMaxLength adds a maximum length constraint to string fields.
func (f Field) WithMaxLength(length int) Field {
	f.MaxLength = &length
	return f
}

// WithDefault sets the default value for the field.
func (f Field) WithDefault(value any) Field {
	f.Default = value
	return f
}

// Strict marks the schema as rejecting properties not listed in Properties.
func (s JSONSchema) Strict() JSONSchema {
	f := false
	s.AdditionalProperties = &f
	return s
}

// IsZero reports whether the schema is the empty declaration.
// Tools may omit a schema entirely; validation is then skipped.
func (s JSONSchema) IsZero() bool {
	return s.Type == "" && len(s.Properties) == 0 && s.Items == nil
}

// Document returns the schema as a generic JSON document suitable for
// compilation or serialization.
func (s JSONSchema) Document() (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
