package tools

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/llm"
)

// ExecKind is how a tool's action is carried out.
type ExecKind string

const (
	KindScript  ExecKind = "script"
	KindCommand ExecKind = "command"
	KindBuiltin ExecKind = "builtin"
	KindMCP     ExecKind = "mcp"
)

const (
	defaultTimeoutSecs    = 30
	maxTimeoutSecs        = 300
	defaultMaxOutputBytes = 1 << 20
)

// validToolNameRE matches the function names chat APIs accept.
var validToolNameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidationKind is the declared kind of a templated argument.
type ValidationKind string

const (
	ValidatePath   ValidationKind = "path"
	ValidateString ValidationKind = "string"
	ValidateNumber ValidationKind = "number"
)

// Validation is a compiled template_validations entry.
type Validation struct {
	Kind          ValidationKind
	Allow         []*regexp.Regexp
	Deny          []*regexp.Regexp
	AllowAbsolute bool
}

// builtinFunc runs a builtin tool on a validated invocation.
type builtinFunc func(inv *Invocation) (string, bool, error)

// ToolSpec is an immutable, fully validated tool definition.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
	Kind        ExecKind
	Source      string // builtin, config or mcp:<server>

	Policy         *SecurityPolicy
	AllowExtraArgs bool

	Interpreter string
	Script      string // inline script body
	ScriptPath  string

	Command string
	Args    []string

	Timeout           time.Duration
	MaxOutputBytes    int64
	WorkingDir        string
	Env               map[string]string
	StdinJSON         bool
	RestrictToBaseDir bool
	InsertDoubleDash  *bool
	Validations       map[string]Validation

	schema  *jsonschema.Resolved
	builtin builtinFunc
}

// Definition is what the model is told about the tool.
func (s *ToolSpec) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Schema:      s.Schema,
	}
}

// Invocation is one tool call after validation: decoded arguments and the
// canonical path of every path argument.
type Invocation struct {
	Spec          *ToolSpec
	Args          map[string]any
	ResolvedPaths map[string]string
}

// NewDynamicSpec builds a script or command tool from its config entry.
func NewDynamicSpec(tc config.LocalToolConfig, policy *SecurityPolicy) (*ToolSpec, error) {
	if !validToolNameRE.MatchString(tc.Name) {
		return nil, fmt.Errorf("tool %q: name must match %s", tc.Name, validToolNameRE)
	}
	if tc.Description == "" {
		return nil, fmt.Errorf("tool %q: description is required", tc.Name)
	}
	if tc.InputSchema == nil {
		return nil, fmt.Errorf("tool %q: input_schema is required", tc.Name)
	}

	spec := &ToolSpec{
		Name:              tc.Name,
		Description:       tc.Description,
		Schema:            tc.InputSchema,
		Kind:              ExecKind(tc.Type),
		Source:            "config",
		Policy:            policy,
		AllowExtraArgs:    tc.AllowExtraArgs,
		Interpreter:       tc.Interpreter,
		Script:            tc.Script,
		ScriptPath:        tc.ScriptPath,
		Command:           tc.Command,
		WorkingDir:        tc.WorkingDir,
		Env:               tc.Env,
		StdinJSON:         boolOr(tc.StdinJSON, true),
		RestrictToBaseDir: boolOr(tc.RestrictToBaseDir, true),
		InsertDoubleDash:  tc.InsertDoubleDash,
	}

	switch spec.Kind {
	case KindScript:
		if spec.Interpreter == "" {
			return nil, fmt.Errorf("tool %q (type: script) requires 'interpreter' field", tc.Name)
		}
		if spec.Script == "" && spec.ScriptPath == "" {
			return nil, fmt.Errorf("tool %q (type: script) requires either 'script' (inline) or 'script_path' field", tc.Name)
		}
	case KindCommand:
		if spec.Command == "" {
			return nil, fmt.Errorf("tool %q (type: command) requires 'command' field", tc.Name)
		}
		for _, arg := range tc.Args {
			spec.Args = append(spec.Args, config.ExpandEnv(arg))
		}
	case "":
		return nil, fmt.Errorf("tool %q is missing 'type' field (must be 'script' or 'command')", tc.Name)
	default:
		return nil, fmt.Errorf("unknown tool type %q for tool %q", tc.Type, tc.Name)
	}

	timeout := tc.TimeoutSecs
	if timeout <= 0 {
		timeout = defaultTimeoutSecs
	}
	if timeout > maxTimeoutSecs {
		timeout = maxTimeoutSecs
	}
	spec.Timeout = time.Duration(timeout) * time.Second

	spec.MaxOutputBytes = tc.MaxOutputBytes
	if spec.MaxOutputBytes <= 0 {
		spec.MaxOutputBytes = defaultMaxOutputBytes
	}

	validations, err := compileValidations(tc.TemplateValidations)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", tc.Name, err)
	}
	spec.Validations = validations

	if err := spec.compileSchema(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *ToolSpec) compileSchema() error {
	resolved, err := compileSchema(s.Schema, !s.AllowExtraArgs)
	if err != nil {
		return fmt.Errorf("tool %q: invalid input_schema: %w", s.Name, err)
	}
	s.schema = resolved
	return nil
}

func compileValidations(in map[string]config.TemplateValidation) (map[string]Validation, error) {
	out := make(map[string]Validation, len(in))
	for name, tv := range in {
		v := Validation{Kind: ValidationKind(tv.Kind), AllowAbsolute: tv.AllowAbsolute}
		if v.Kind == "" {
			v.Kind = ValidateString
		}
		switch v.Kind {
		case ValidatePath, ValidateString, ValidateNumber:
		default:
			return nil, fmt.Errorf("template_validations.%s: unknown kind %q (want path, string or number)", name, tv.Kind)
		}
		for _, p := range tv.AllowPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("template_validations.%s: invalid allow pattern %q: %w", name, p, err)
			}
			v.Allow = append(v.Allow, re)
		}
		for _, p := range tv.DenyPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("template_validations.%s: invalid deny pattern %q: %w", name, p, err)
			}
			v.Deny = append(v.Deny, re)
		}
		out[name] = v
	}
	return out, nil
}

// isPathArgument reports whether the named argument is a filesystem path.
func (s *ToolSpec) isPathArgument(name string) bool {
	if v, ok := s.Validations[name]; ok && v.Kind == ValidatePath {
		return true
	}
	return s.Policy != nil && s.Policy.MatchesPathName(name)
}

// allowAbsolute reports whether an absolute value of the named path
// argument may point outside the base directory.
func (s *ToolSpec) allowAbsolute(name string) bool {
	if !s.RestrictToBaseDir {
		return true
	}
	return s.Policy != nil && s.Policy.AllowAbsolutePaths && s.Validations[name].AllowAbsolute
}

// scriptExtension picks the file extension for an inline script.
func scriptExtension(interpreter string) string {
	switch {
	case strings.Contains(interpreter, "python"):
		return "py"
	case strings.Contains(interpreter, "node"), strings.Contains(interpreter, "bun"):
		return "js"
	case strings.Contains(interpreter, "bash"), strings.Contains(interpreter, "sh"):
		return "sh"
	case strings.Contains(interpreter, "ruby"):
		return "rb"
	default:
		return "txt"
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
