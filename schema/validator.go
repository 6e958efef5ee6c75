package schema

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Validator compiles and caches JSON Schema documents keyed by content hash,
// so a schema shared across many calls (a tool's declared input schema, an
// elicitation request re-issued with the same shape) is parsed once rather
// than on every invocation.
type Validator struct {
	mu    sync.RWMutex
	cache map[uint64]*Schema
}

// NewValidator constructs an empty Validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[uint64]*Schema)}
}

// Compile parses doc, or returns the previously compiled Schema for
// content-identical bytes.
func (v *Validator) Compile(doc []byte) (*Schema, error) {
	key := xxhash.Sum64(doc)

	v.mu.RLock()
	if s, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	s, err := Parse(doc)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[key] = s
	v.mu.Unlock()
	return s, nil
}

// ValidateJSON compiles schemaDoc (via the cache) and validates data against
// it, returning a *ValidationErrors if any violation is found.
func (v *Validator) ValidateJSON(schemaDoc, data []byte) error {
	s, err := v.Compile(schemaDoc)
	if err != nil {
		return err
	}
	if errs := s.Validate(data); len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}
