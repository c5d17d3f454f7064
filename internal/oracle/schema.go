package oracle

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// outputSchema pairs the published schema of a call site with its resolved validator.
type outputSchema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

var schemaCache sync.Map // call site -> *outputSchema

// schemaFor returns the cached output schema of T for a call site.
func schemaFor[T any](callSite string) (*outputSchema, error) {
	if s, ok := schemaCache.Load(callSite); ok {
		return s.(*outputSchema), nil
	}
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to infer %s schema: %w", callSite, err)
	}
	openObjects(schema)
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s schema: %w", callSite, err)
	}
	s, _ := schemaCache.LoadOrStore(callSite, &outputSchema{schema: schema, resolved: resolved})
	return s.(*outputSchema), nil
}

// openObjects drops the closed-object constraint inferred for structs, so
// extra fields from the model are ignored instead of failing validation.
func openObjects(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if s.AdditionalProperties != nil && s.AdditionalProperties.Not != nil {
		s.AdditionalProperties = nil
	}
	for _, p := range s.Properties {
		openObjects(p)
	}
	openObjects(s.Items)
}

// decode validates raw JSON against the call site's schema and unmarshals it.
func decode[T any](callSite string, raw []byte) (*T, error) {
	s, err := schemaFor[T](callSite)
	if err != nil {
		return nil, err
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("output is not JSON: %w", err)
	}
	if err := s.resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("output does not match schema: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}
	return &out, nil
}
