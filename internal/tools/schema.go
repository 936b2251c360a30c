package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// compileSchema resolves a tool's input schema. When strict is set the
// top-level object rejects properties it does not declare.
func compileSchema(schema map[string]any, strict bool) (*jsonschema.Resolved, error) {
	doc := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		doc[k] = v
	}
	if _, ok := doc["type"]; !ok {
		doc["type"] = "object"
	}
	if strict {
		doc["additionalProperties"] = false
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(&jsonschema.ResolveOptions{})
}

// decodeArguments parses raw tool-call arguments. Empty input counts as an
// empty object; anything but an object is rejected.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, NewToolErrorf(ErrInvalidParams, "arguments are not valid JSON: %v", err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, NewToolError(ErrInvalidParams, "arguments must be a JSON object")
	}
	return args, nil
}

// checkSchema validates decoded arguments against the spec's schema.
func (s *ToolSpec) checkSchema(args map[string]any) error {
	if s.schema == nil {
		return nil
	}
	if err := s.schema.Validate(args); err != nil {
		return NewToolErrorf(ErrInvalidParams, "arguments do not match the schema of %s: %v", s.Name, err)
	}
	return nil
}

// stringify renders an argument value for an argv element.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64, bool, json.Number:
		return fmt.Sprint(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
