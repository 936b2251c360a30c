package tools

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRE matches {{name}} in a command argument template.
var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// checkValue applies a template validation to one argument value.
func checkValue(name, value string, v Validation) error {
	if v.Kind == ValidateNumber {
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return NewToolErrorf(ErrInvalidParams, "argument '%s' must be a number, got %q", name, value)
		}
	}
	if len(v.Allow) > 0 {
		allowed := false
		for _, re := range v.Allow {
			if re.MatchString(value) {
				allowed = true
				break
			}
		}
		if !allowed {
			return NewToolErrorf(ErrInvalidParams, "argument '%s' does not match any allowed pattern", name)
		}
	}
	for _, re := range v.Deny {
		if re.MatchString(value) {
			return NewToolErrorf(ErrInvalidParams, "argument '%s' matches denied pattern %s", name, re)
		}
	}
	return nil
}

// declared reports whether the schema lists name as a property.
func (s *ToolSpec) declared(name string) bool {
	props, _ := s.Schema["properties"].(map[string]any)
	_, ok := props[name]
	return ok
}

// buildArgv substitutes validated values into the command's argument
// template. A lone placeholder for an absent argument drops its element.
// When a path is spliced in, "--" is placed before the first such element
// unless the template already ends options earlier. insert_double_dash
// overrides that choice and falls back to the first substituted element.
func buildArgv(inv *Invocation) ([]string, error) {
	spec := inv.Spec
	var argv []string
	pathAt, valueAt := -1, -1
	sawDoubleDash := false

	for _, tmpl := range spec.Args {
		matches := placeholderRE.FindAllStringSubmatch(tmpl, -1)
		for _, m := range matches {
			name := m[1]
			if _, ok := inv.Args[name]; !ok && !spec.declared(name) {
				return nil, NewToolErrorf(ErrInvalidParams, "argument template references unknown parameter '%s'", name)
			}
		}

		if len(matches) == 1 && strings.TrimSpace(tmpl) == matches[0][0] {
			if _, ok := inv.Args[matches[0][1]]; !ok {
				continue
			}
		}

		hasPath := false
		out := placeholderRE.ReplaceAllStringFunc(tmpl, func(ph string) string {
			name := placeholderRE.FindStringSubmatch(ph)[1]
			if resolved, ok := inv.ResolvedPaths[name]; ok {
				hasPath = true
				return resolved
			}
			return stringify(inv.Args[name])
		})

		if tmpl == "--" && pathAt < 0 {
			sawDoubleDash = true
		}
		if hasPath && pathAt < 0 {
			pathAt = len(argv)
		}
		if len(matches) > 0 && valueAt < 0 {
			valueAt = len(argv)
		}
		argv = append(argv, out)
	}

	insert := pathAt >= 0 && !sawDoubleDash
	if spec.InsertDoubleDash != nil {
		if pathAt < 0 {
			pathAt = valueAt
		}
		insert = *spec.InsertDoubleDash && pathAt >= 0
	}
	if insert {
		argv = append(argv[:pathAt], append([]string{"--"}, argv[pathAt:]...)...)
	}
	return argv, nil
}

// stdinPayload serializes the arguments for the action's standard input,
// with path arguments replaced by their resolved form.
func stdinPayload(inv *Invocation) ([]byte, error) {
	payload := make(map[string]any, len(inv.Args))
	for k, v := range inv.Args {
		payload[k] = v
	}
	for k, resolved := range inv.ResolvedPaths {
		payload[k] = resolved
	}
	return json.Marshal(payload)
}
