// Package schema implements a strict subset of JSON Schema (type,
// properties, required, items, enum, const, oneOf, minimum/maximum,
// minLength/maxLength, pattern, format, default, description) sufficient to
// validate tool call arguments, elicitation responses, and other MCP
// payloads against a declared schema document.
package schema

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"time"
)

// Schema is a compiled JSON Schema node.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Const                any                `json:"const,omitempty"`
	OneOf                []*Schema          `json:"oneOf,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	Format               string             `json:"format,omitempty"`
	Default              any                `json:"default,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`

	isRoot bool
}

// ValidationError describes one schema violation.
type ValidationError struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationErrors is the error returned when one or more ValidationError
// occurred. Its Error() reports the first violation; the full ordered list
// is available via Errors for callers that need to surface all of them
// (e.g. as a JSON-RPC error's data.errors).
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "schema validation failed"
	}
	return e.Errors[0].Message
}

// Parse decodes a JSON Schema document into a compiled Schema. The root
// schema defaults additionalProperties to false when the document leaves it
// unset, per the object-strictness convention this module's callers rely on.
func Parse(doc []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	s.isRoot = true
	if s.Type == "object" && s.AdditionalProperties == nil {
		f := false
		s.AdditionalProperties = &f
	}
	return &s, nil
}

// Validate checks data (a JSON-encoded value) against the schema and returns
// every violation found, in a deterministic order: const, enum and oneOf
// before type checks; within an object, missing required properties (in
// Required order), then undeclared properties, then declared properties, the
// last two each sorted by name. A nil/empty result means data is valid.
func (s *Schema) Validate(data []byte) []ValidationError {
	var v any
	if len(data) == 0 {
		data = []byte("null")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return []ValidationError{{Path: "$", Rule: "type", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	var errs []ValidationError
	s.validate(v, "$", &errs)
	return errs
}

func (s *Schema) validate(v any, path string, errs *[]ValidationError) {
	if s.Const != nil {
		if !equalJSON(v, s.Const) {
			*errs = append(*errs, ValidationError{Path: path, Rule: "const", Message: fmt.Sprintf("%s must equal the constant value", path)})
		}
	}
	if len(s.Enum) > 0 {
		matched := false
		for _, want := range s.Enum {
			if equalJSON(v, want) {
				matched = true
				break
			}
		}
		if !matched {
			*errs = append(*errs, ValidationError{Path: path, Rule: "enum", Message: fmt.Sprintf("%s must be one of the allowed values", path)})
		}
	}
	if len(s.OneOf) > 0 {
		matches := 0
		for _, alt := range s.OneOf {
			var sub []ValidationError
			alt.validate(v, path, &sub)
			if len(sub) == 0 {
				matches++
			}
		}
		if matches != 1 {
			*errs = append(*errs, ValidationError{Path: path, Rule: "oneOf", Message: fmt.Sprintf("%s must match exactly one alternative, matched %d", path, matches)})
		}
	}

	if s.Type == "" {
		return
	}

	switch s.Type {
	case "object":
		s.validateObject(v, path, errs)
	case "array":
		s.validateArray(v, path, errs)
	case "string":
		s.validateString(v, path, errs)
	case "number", "integer":
		s.validateNumber(v, path, errs)
	case "boolean":
		if _, ok := v.(bool); !ok {
			*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be a boolean", path)})
		}
	case "null":
		if v != nil {
			*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be null", path)})
		}
	}
}

func (s *Schema) validateObject(v any, path string, errs *[]ValidationError) {
	obj, ok := v.(map[string]any)
	if !ok {
		*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be an object", path)})
		return
	}
	for _, name := range s.Required {
		if _, present := obj[name]; !present {
			*errs = append(*errs, ValidationError{Path: path + "." + name, Rule: "required", Message: fmt.Sprintf("%s.%s is required", path, name)})
		}
	}
	if s.AdditionalProperties != nil && !*s.AdditionalProperties {
		names := make([]string, 0, len(obj))
		for name := range obj {
			if _, declared := s.Properties[name]; !declared {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			*errs = append(*errs, ValidationError{Path: path + "." + name, Rule: "additionalProperties", Message: fmt.Sprintf("%s.%s is not a permitted property", path, name)})
		}
	}
	if s.Properties == nil {
		return
	}
	propNames := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)
	for _, name := range propNames {
		val, present := obj[name]
		if !present {
			continue
		}
		s.Properties[name].validate(val, path+"."+name, errs)
	}
}

func (s *Schema) validateArray(v any, path string, errs *[]ValidationError) {
	arr, ok := v.([]any)
	if !ok {
		*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be an array", path)})
		return
	}
	if s.Items == nil {
		return
	}
	for i, item := range arr {
		s.Items.validate(item, fmt.Sprintf("%s[%d]", path, i), errs)
	}
}

func (s *Schema) validateString(v any, path string, errs *[]ValidationError) {
	str, ok := v.(string)
	if !ok {
		*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be a string", path)})
		return
	}
	if s.MinLength != nil && len(str) < *s.MinLength {
		*errs = append(*errs, ValidationError{Path: path, Rule: "minLength", Message: fmt.Sprintf("%s must be at least %d characters", path, *s.MinLength)})
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		*errs = append(*errs, ValidationError{Path: path, Rule: "maxLength", Message: fmt.Sprintf("%s must be at most %d characters", path, *s.MaxLength)})
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			*errs = append(*errs, ValidationError{Path: path, Rule: "pattern", Message: fmt.Sprintf("%s has an unusable pattern: %v", path, err)})
		} else if !re.MatchString(str) {
			*errs = append(*errs, ValidationError{Path: path, Rule: "pattern", Message: fmt.Sprintf("%s does not match pattern %q", path, s.Pattern)})
		}
	}
	if s.Format != "" && !validFormat(s.Format, str) {
		*errs = append(*errs, ValidationError{Path: path, Rule: "format", Message: fmt.Sprintf("%s is not a valid %s", path, s.Format)})
	}
}

func (s *Schema) validateNumber(v any, path string, errs *[]ValidationError) {
	num, ok := v.(float64)
	if !ok {
		*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be a number", path)})
		return
	}
	if s.Type == "integer" && num != float64(int64(num)) {
		*errs = append(*errs, ValidationError{Path: path, Rule: "type", Message: fmt.Sprintf("%s must be an integer", path)})
	}
	if s.Minimum != nil && num < *s.Minimum {
		*errs = append(*errs, ValidationError{Path: path, Rule: "minimum", Message: fmt.Sprintf("%s must be >= %v", path, *s.Minimum)})
	}
	if s.Maximum != nil && num > *s.Maximum {
		*errs = append(*errs, ValidationError{Path: path, Rule: "maximum", Message: fmt.Sprintf("%s must be <= %v", path, *s.Maximum)})
	}
}

func validFormat(format, value string) bool {
	switch format {
	case "email":
		_, err := mail.ParseAddress(value)
		return err == nil
	case "uri", "uri-reference":
		_, err := url.Parse(value)
		return err == nil
	case "date-time":
		_, err := time.Parse(time.RFC3339, value)
		return err == nil
	case "date":
		_, err := time.Parse("2006-01-02", value)
		return err == nil
	default:
		// Unknown formats are advisory per the JSON Schema spec: don't fail
		// validation over a format keyword this module doesn't recognize.
		return true
	}
}

func equalJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}
