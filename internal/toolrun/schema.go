package toolrun

import (
	"encoding/json"
	"fmt"
	"time"
)

// Schema is the input contract for one tool: a flat object with typed
// properties. Validation happens once, centrally, at the execute boundary;
// downstream code can then trust the shape of the input instead of scattering
// field casts.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Property constrains one input field.
type Property struct {
	// Type is one of: string, integer, number, boolean, object, array.
	Type string
	// Format is an optional refinement; "date-time" enforces RFC 3339.
	Format string
	// Enum restricts a string property to a fixed value set.
	Enum []string
}

// Validate checks input against the schema. The returned error carries the
// offending field; callers surface it verbatim as a 400.
func (s Schema) Validate(input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(input, &obj); err != nil {
		return fmt.Errorf("input must be a JSON object: %w", err)
	}

	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}

	for name, raw := range obj {
		prop, ok := s.Properties[name]
		if !ok {
			return fmt.Errorf("unknown field %q", name)
		}
		if err := prop.validate(raw); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func (p Property) validate(raw json.RawMessage) error {
	switch p.Type {
	case "string":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected string")
		}
		if p.Format == "date-time" {
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("expected RFC 3339 timestamp")
			}
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if v == e {
					return nil
				}
			}
			return fmt.Errorf("value %q not in %v", v, p.Enum)
		}
		return nil
	case "integer":
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected integer")
		}
		return nil
	case "number":
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected number")
		}
		return nil
	case "boolean":
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected boolean")
		}
		return nil
	case "object":
		var v map[string]json.RawMessage
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected object")
		}
		return nil
	case "array":
		var v []json.RawMessage
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected array")
		}
		return nil
	default:
		return fmt.Errorf("schema declares unsupported type %q", p.Type)
	}
}
