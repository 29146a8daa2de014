package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports the offending document path and a human-readable
// message. The committed state is never touched when one of these surfaces.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Schema validation failed - %s: %s", e.Path, e.Message)
}

// Validator wraps a compiled JSON schema for repeated validation.
type Validator struct {
	name     string
	compiled *jsonschema.Schema
	raw      map[string]any
}

// Compile builds a reusable validator from a schema payload.
func Compile(name string, schema []byte) (*Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema %s is empty", name)
	}
	resourceID := schemaID(name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(schema, &raw); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", name, err)
	}
	return &Validator{name: name, compiled: compiled, raw: raw}, nil
}

// Name returns the schema name the validator was compiled from.
func (v *Validator) Name() string { return v.name }

// Validate checks a value against the compiled schema. Validation failures
// come back as *ValidationError; anything else is a payload decoding problem.
func (v *Validator) Validate(value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := v.compiled.Validate(payload); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			leaf := leafCause(verr)
			return &ValidationError{
				Path:    pointerToPath(leaf.InstanceLocation),
				Message: leaf.Message,
			}
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// VersionDefault digs the default of the top-level version property out of
// the raw schema, for seeding a blank document.
func (v *Validator) VersionDefault() (string, bool) {
	props, ok := v.raw["properties"].(map[string]any)
	if !ok {
		return "", false
	}
	version, ok := props["version"].(map[string]any)
	if !ok {
		return "", false
	}
	def, ok := version["default"].(string)
	return def, ok
}

// leafCause descends to the most specific cause of a validation failure.
func leafCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// pointerToPath converts a JSON pointer like /widgets/a into widgets/a.
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	ptr = strings.ReplaceAll(ptr, "~1", "/")
	return strings.ReplaceAll(ptr, "~0", "~")
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	default:
		return value, nil
	}
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
