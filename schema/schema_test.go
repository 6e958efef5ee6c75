package schema

import "testing"

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"age": {"type": "integer", "minimum": 0, "maximum": 150},
		"role": {"type": "string", "enum": ["admin", "member"]}
	},
	"required": ["name"]
}`

func TestValidate_Valid(t *testing.T) {
	s, err := Parse([]byte(personSchema))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	errs := s.Validate([]byte(`{"name":"Ada","age":30,"role":"admin"}`))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	s, err := Parse([]byte(personSchema))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	errs := s.Validate([]byte(`{"age":30}`))
	if len(errs) != 1 || errs[0].Rule != "required" {
		t.Fatalf("expected one required error, got %v", errs)
	}
	if errs[0].Path != "$.name" {
		t.Fatalf("path = %q, want $.name", errs[0].Path)
	}
}

func TestValidate_AdditionalPropertiesRejected(t *testing.T) {
	s, err := Parse([]byte(personSchema))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	errs := s.Validate([]byte(`{"name":"Ada","extra":true}`))
	if len(errs) != 1 || errs[0].Rule != "additionalProperties" {
		t.Fatalf("expected one additionalProperties error, got %v", errs)
	}
}

func TestValidate_EnumAndRange(t *testing.T) {
	s, err := Parse([]byte(personSchema))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	errs := s.Validate([]byte(`{"name":"Ada","age":200,"role":"root"}`))
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestValidator_CompileCaches(t *testing.T) {
	v := NewValidator()
	doc := []byte(personSchema)
	s1, err := v.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	s2, err := v.Compile(append([]byte(nil), doc...))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected identical schema bytes to hit the cache and return the same pointer")
	}
}

func TestValidator_ValidateJSON_ReturnsValidationErrors(t *testing.T) {
	v := NewValidator()
	err := v.ValidateJSON([]byte(personSchema), []byte(`{}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", verrs.Errors)
	}
}
