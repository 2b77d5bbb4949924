package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/tabledger/errors"
)

// Registry holds the JSON Schemas for every registered event kind and
// validates payloads against them on the write path. Schemas are compiled
// once at registration; validation is a pure in-memory check.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register compiles and stores the JSON Schema for a kind. Registering the
// same kind twice is rejected: schema evolution happens by bumping
// Kind.Version, not by redefining an existing version.
func (r *Registry) Register(kind Kind, schemaJSON []byte) error {
	if !kind.IsValid() {
		return errors.WrapInvalid(
			fmt.Errorf("invalid kind %q", kind.Key()),
			"Registry", "Register", "kind validation")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return errors.WrapInvalid(err, "Registry", "Register",
			fmt.Sprintf("compile schema for %s", kind.Key()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := kind.Key()
	if _, exists := r.schemas[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("kind %s already registered", key),
			"Registry", "Register", "duplicate registration")
	}
	r.schemas[key] = schema
	return nil
}

// Registered reports whether a schema exists for the kind.
func (r *Registry) Registered(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[kind.Key()]
	return ok
}

// Kinds returns the keys of all registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.schemas))
	for key := range r.schemas {
		keys = append(keys, key)
	}
	return keys
}

// Validate checks payload against the schema registered for kind.
// An unregistered kind and a schema violation are both validation failures:
// the caller rejects the write either way, with no state mutated.
func (r *Registry) Validate(kind Kind, payload json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[kind.Key()]
	r.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(errors.ErrValidationFailed, "Registry", "Validate",
			fmt.Sprintf("no schema registered for kind %s", kind.Key()))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return errors.WrapInvalid(errors.ErrValidationFailed, "Registry", "Validate",
			fmt.Sprintf("payload for %s is not valid JSON: %v", kind.Key(), err))
	}

	if !result.Valid() {
		msg := fmt.Sprintf("payload rejected for %s:", kind.Key())
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf(" %s: %s;", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(errors.ErrValidationFailed, "Registry", "Validate", msg)
	}

	return nil
}
